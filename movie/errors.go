package movie

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies pipeline bus errors for logs.
type ErrorCategory int

const (
	// ErrCategoryIO covers the output file (permissions, disk full).
	ErrCategoryIO ErrorCategory = iota
	// ErrCategoryEncoder covers caps negotiation and encoder failures.
	ErrCategoryEncoder
	// ErrCategoryUnknown is everything else.
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryIO:
		return "io"
	case ErrCategoryEncoder:
		return "encoder"
	default:
		return "unknown"
	}
}

// classifyBusError categorizes a GStreamer error. go-gst's GError does not
// expose the domain, so classification is keyword based.
func classifyBusError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classifyMessage(gerr.Error(), gerr.DebugString())
}

var (
	ioKeywords = []string{
		"could not open",
		"write",
		"permission",
		"no space",
		"resource",
		"filesink",
	}
	encoderKeywords = []string{
		"not negotiated",
		"negotiation",
		"caps",
		"format",
		"encode",
		"jpeg",
		"avimux",
	}
)

func classifyMessage(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)
	for _, kw := range ioKeywords {
		if strings.Contains(combined, kw) {
			return ErrCategoryIO
		}
	}
	for _, kw := range encoderKeywords {
		if strings.Contains(combined, kw) {
			return ErrCategoryEncoder
		}
	}
	return ErrCategoryUnknown
}
