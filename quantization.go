package puccapture

import "math"

// QuantizationTable holds the 64 scale factors used to dequantize DCT
// blocks, in the device's coefficient order. It is a value type: replace it
// as a whole, never entry by entry.
type QuantizationTable struct {
	values [QuantizationCount]uint16
}

// QuantizationFromList builds a table from exactly 64 integers. Values
// outside [0,65535] are clamped, not rejected. Any other length fails with an
// InvalidArgument error wrapping ErrSizeMismatch.
func QuantizationFromList(values []int) (QuantizationTable, error) {
	var t QuantizationTable
	if len(values) != QuantizationCount {
		return t, newError("QuantizationFromList", KindInvalidArgument,
			"%w: got %d values, want %d", ErrSizeMismatch, len(values), QuantizationCount)
	}
	for i, v := range values {
		switch {
		case v < 0:
			t.values[i] = 0
		case v > math.MaxUint16:
			t.values[i] = math.MaxUint16
		default:
			t.values[i] = uint16(v)
		}
	}
	return t, nil
}

// QuantizationFromArray wraps already validated values.
func QuantizationFromArray(values [QuantizationCount]uint16) QuantizationTable {
	return QuantizationTable{values: values}
}

// ToList returns the 64 values as ints.
func (t QuantizationTable) ToList() []int {
	out := make([]int, QuantizationCount)
	for i, v := range t.values {
		out[i] = int(v)
	}
	return out
}

// Values returns a copy of the table.
func (t QuantizationTable) Values() [QuantizationCount]uint16 {
	return t.values
}

// ptr returns a pointer to a private copy for codec calls.
func (t QuantizationTable) ptr() *[QuantizationCount]uint16 {
	v := t.values
	return &v
}
