package puccapture

import (
	"errors"
	"fmt"

	"github.com/e7canasta/puc-capture/driver"
)

// Kind classifies a failure independently of the vendor status that caused it.
type Kind int

const (
	// KindUnknown is an error that did not come from this package.
	KindUnknown Kind = iota
	// KindNotInitialized means the library was used before Init.
	KindNotInitialized
	// KindAlreadyInitialized means a second initialization was attempted.
	KindAlreadyInitialized
	// KindDeviceNotFound means the device number is not present.
	KindDeviceNotFound
	// KindHandleInvalid means the device is not open or the handle is stale.
	KindHandleInvalid
	// KindInvalidArgument covers null, size mismatched or unaligned inputs.
	KindInvalidArgument
	// KindTransportIO covers read, write and size mismatches on the device link.
	KindTransportIO
	// KindTimedOut means an exclusive-access or transfer wait exceeded its bound.
	KindTimedOut
	// KindTransferState covers begin-while-active, end-while-idle and ring
	// buffer counts outside [4,65535].
	KindTransferState
	// KindDecode means a malformed compressed header or a decode-time failure.
	KindDecode
	// KindAllocation means a frame or ring slot buffer could not be allocated.
	KindAllocation
	// KindUnsupported means the device does not support the operation.
	KindUnsupported
)

// String returns a short lowercase name for logs and telemetry.
func (k Kind) String() string {
	switch k {
	case KindNotInitialized:
		return "not_initialized"
	case KindAlreadyInitialized:
		return "already_initialized"
	case KindDeviceNotFound:
		return "device_not_found"
	case KindHandleInvalid:
		return "handle_invalid"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTransportIO:
		return "transport_io"
	case KindTimedOut:
		return "timed_out"
	case KindTransferState:
		return "transfer_state"
	case KindDecode:
		return "decode"
	case KindAllocation:
		return "allocation"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every operation in this package.
//
// Op names the failing operation (the vendor function for status failures).
// Code is the raw vendor status, or StatusSucceeded when the failure was
// detected before reaching the vendor library.
type Error struct {
	Op   string
	Code driver.Status
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := "puc-capture: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	switch {
	case e.Err != nil:
		msg += e.Err.Error()
	case e.Code != driver.StatusSucceeded:
		msg += e.Code.Message()
	default:
		msg += e.Kind.String()
	}
	if e.Code != driver.StatusSucceeded {
		msg += fmt.Sprintf(" (code %d)", uint32(e.Code))
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels, so errors.Is(err, ErrTimedOut) holds for
// every timed-out failure regardless of operation or code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Code == driver.StatusSucceeded && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNotInitialized     = &Error{Kind: KindNotInitialized}
	ErrAlreadyInitialized = &Error{Kind: KindAlreadyInitialized}
	ErrDeviceNotFound     = &Error{Kind: KindDeviceNotFound}
	ErrHandleInvalid      = &Error{Kind: KindHandleInvalid}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrTransportIO        = &Error{Kind: KindTransportIO}
	ErrTimedOut           = &Error{Kind: KindTimedOut}
	ErrTransferState      = &Error{Kind: KindTransferState}
	ErrDecode             = &Error{Kind: KindDecode}
	ErrAllocation         = &Error{Kind: KindAllocation}
	ErrUnsupported        = &Error{Kind: KindUnsupported}
)

var (
	// ErrSizeMismatch is wrapped by InvalidArgument errors for inputs of the
	// wrong length, e.g. a quantization list that is not 64 long.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrBufferReleased is wrapped by TransferState errors when a borrowed
	// TransferBuffer is read after its callback returned, or an owned one
	// after Release.
	ErrBufferReleased = errors.New("transfer buffer released")
)

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusKind maps a vendor status onto the error taxonomy.
func StatusKind(s driver.Status) Kind {
	switch s {
	case driver.StatusUninitialized:
		return KindNotInitialized
	case driver.StatusInitialized:
		return KindAlreadyInitialized
	case driver.StatusNotExistDeviceNo:
		return KindDeviceNotFound
	case driver.StatusIllegalDeviceHandle, driver.StatusDeviceNotOpen:
		return KindHandleInvalid
	case driver.StatusIllegalArg, driver.StatusIllegalResolution,
		driver.StatusIllegalFrameRate, driver.StatusIllegalExposeClock:
		return KindInvalidArgument
	case driver.StatusLockTimeout, driver.StatusXferDataWait:
		return KindTimedOut
	case driver.StatusXferring, driver.StatusRingBufCount, driver.StatusSyncExternal:
		return KindTransferState
	case driver.StatusXferDataInvalidHeader, driver.StatusGPUDecodeProcess,
		driver.StatusGPUSynchronize, driver.StatusGPUMemoryCopy, driver.StatusGPUUninitialized:
		return KindDecode
	case driver.StatusAllocateBuffer, driver.StatusFreeBuffer:
		return KindAllocation
	case driver.StatusNotSupport:
		return KindUnsupported
	case driver.StatusSucceeded:
		return KindUnknown
	default:
		return KindTransportIO
	}
}

// fromDriver converts a collaborator failure into *Error. A driver.Status
// anywhere in the chain supplies Code and Kind; other errors are treated as
// transport failures. nil stays nil.
func fromDriver(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	var status driver.Status
	if errors.As(err, &status) {
		if status == driver.StatusSucceeded {
			return nil
		}
		return &Error{Op: op, Code: status, Kind: StatusKind(status), Err: err}
	}
	return &Error{Op: op, Kind: KindTransportIO, Err: err}
}

// newError builds an error detected before reaching the vendor library.
func newError(op string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}
