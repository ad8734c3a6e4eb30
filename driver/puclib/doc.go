// Package puclib binds the vendor PUCLIB DLL through cgo.
//
// The binding is only built on Windows with cgo enabled and links against
// PUCLIB.lib (set CGO_LDFLAGS=-L<sdk>/lib when the SDK is not on the default
// search path). Everywhere else New returns ErrUnavailable, so callers can
// fall back to the simulator.
//
// Continuous transfer registers a single C trampoline with the vendor. The
// per-device Go context travels through the vendor's void* user argument as
// a go-pointer token, since cgo forbids handing Go pointers to C code that
// keeps them.
package puclib

import "errors"

// ErrUnavailable is returned by New on builds without the vendor binding.
var ErrUnavailable = errors.New("puclib: vendor library requires windows and cgo")
