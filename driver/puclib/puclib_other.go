//go:build !(windows && cgo)

package puclib

import "github.com/e7canasta/puc-capture/driver"

// New always fails on this platform.
func New() (driver.Driver, error) {
	return nil, ErrUnavailable
}
