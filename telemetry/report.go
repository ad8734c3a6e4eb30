// Package telemetry publishes continuous transfer statistics to an MQTT
// broker as msgpack-encoded reports.
package telemetry

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	puccapture "github.com/e7canasta/puc-capture"
)

// Report is the wire form of one TransferStats snapshot. Keys are short to
// keep reports small at high publish rates.
type Report struct {
	Timestamp int64  `msgpack:"ts"` // unix nanoseconds
	SessionID string `msgpack:"sid"`
	DeviceNo  uint32 `msgpack:"dev"`
	State     string `msgpack:"st"`

	Received  uint64 `msgpack:"rx"`
	Delivered uint64 `msgpack:"dl"`
	Dropped   uint64 `msgpack:"dr"`
	Gaps      uint64 `msgpack:"gap"`
	Faults    uint64 `msgpack:"flt"`

	RingCapacity int    `msgpack:"cap"`
	QueueDepth   int    `msgpack:"q"`
	LastSequence uint16 `msgpack:"seq"`

	ArrivalFPS float64 `msgpack:"fps"`
	JitterMean float64 `msgpack:"jit"`
	Stable     bool    `msgpack:"stb"`
	DropRate   float64 `msgpack:"drp"`

	LastError     string `msgpack:"err,omitempty"`
	CallbackError string `msgpack:"cberr,omitempty"`
}

// NewReport converts a stats snapshot taken at ts.
func NewReport(s puccapture.TransferStats, ts time.Time) Report {
	return Report{
		Timestamp:     ts.UnixNano(),
		SessionID:     s.SessionID,
		DeviceNo:      s.DeviceNo,
		State:         s.State.String(),
		Received:      s.FramesReceived,
		Delivered:     s.FramesDelivered,
		Dropped:       s.FramesDropped,
		Gaps:          s.SequenceGaps,
		Faults:        s.Faults,
		RingCapacity:  s.RingCapacity,
		QueueDepth:    s.QueueDepth,
		LastSequence:  s.LastSequence,
		ArrivalFPS:    s.ArrivalFPS,
		JitterMean:    s.JitterMean,
		Stable:        s.IsStable,
		DropRate:      s.DropRate(),
		LastError:     s.LastError,
		CallbackError: s.CallbackError,
	}
}

// Encode marshals r to msgpack.
func Encode(r Report) ([]byte, error) {
	return msgpack.Marshal(r)
}

// Decode unmarshals a msgpack report.
func Decode(data []byte) (Report, error) {
	var r Report
	err := msgpack.Unmarshal(data, &r)
	return r, err
}
