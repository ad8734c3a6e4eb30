//go:build windows && cgo

package puclib

/*
#include <stdint.h>

typedef struct {
	uint8_t* pData;
	uint32_t nDataSize;
	uint16_t nSequenceNo;
} PUC_XFER_DATA_INFO;
*/
import "C"

import (
	"unsafe"

	pointer "github.com/mattn/go-pointer"

	"github.com/e7canasta/puc-capture/driver"
)

// goReceive is the Go side of the vendor receive callback. It runs on a
// vendor acquisition thread; the record is valid only for this call.
//
//export goReceive
func goReceive(info *C.PUC_XFER_DATA_INFO, arg unsafe.Pointer) {
	t, ok := pointer.Restore(arg).(driver.Trampoline)
	if !ok || t == nil {
		return
	}
	if info == nil || info.pData == nil || info.nDataSize == 0 {
		// The vendor signals a continuous transfer timeout with an empty record.
		t(nil, driver.StatusXferDataWait)
		return
	}
	rec := &driver.FrameRecord{
		Data:       unsafe.Slice((*byte)(unsafe.Pointer(info.pData)), int(info.nDataSize)),
		Size:       uint32(info.nDataSize),
		SequenceNo: uint16(info.nSequenceNo),
	}
	t(rec, nil)
}
