//go:build !(windows && cgo)

package puclib

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUnavailable(t *testing.T) {
	drv, err := New()
	assert.Nil(t, drv)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
