//go:build windows && cgo

package puclib

/*
#cgo LDFLAGS: -lPUCLIB

#include <stdint.h>
#include <stdlib.h>

typedef uint32_t PUCRESULT;
typedef void* PUC_HANDLE;

typedef struct {
	uint32_t nDeviceCount;
	uint32_t nDeviceNoList[16];
} PUC_DETECT_INFO;

typedef struct {
	uint8_t* pData;
	uint32_t nDataSize;
	uint16_t nSequenceNo;
} PUC_XFER_DATA_INFO;

typedef void (*RECIEVE_CALLBACK)(PUC_XFER_DATA_INFO*, void*);

PUCRESULT __stdcall PUC_Initialize(void);
PUCRESULT __stdcall PUC_DetectDevice(PUC_DETECT_INFO* pDetectInfo);
PUCRESULT __stdcall PUC_OpenDevice(uint32_t nDeviceNo, PUC_HANDLE* pDeviceHandle);
PUCRESULT __stdcall PUC_CloseDevice(PUC_HANDLE hDevice);
PUCRESULT __stdcall PUC_GetResolution(PUC_HANDLE hDevice, uint32_t* pWidth, uint32_t* pHeight);
PUCRESULT __stdcall PUC_SetResolution(PUC_HANDLE hDevice, uint32_t nWidth, uint32_t nHeight);
PUCRESULT __stdcall PUC_GetQuantization(PUC_HANDLE hDevice, uint32_t nPoint, uint16_t* pVal);
PUCRESULT __stdcall PUC_SetQuantization(PUC_HANDLE hDevice, uint32_t nPoint, uint16_t nVal);
PUCRESULT __stdcall PUC_GetXferDataMode(PUC_HANDLE hDevice, uint32_t* pDataMode);
PUCRESULT __stdcall PUC_SetXferDataMode(PUC_HANDLE hDevice, uint32_t nDataMode);
PUCRESULT __stdcall PUC_GetXferDataSize(PUC_HANDLE hDevice, uint32_t nDataMode, uint32_t* pDataSize);
PUCRESULT __stdcall PUC_GetSingleXferData(PUC_HANDLE hDevice, PUC_XFER_DATA_INFO* pXferData);
PUCRESULT __stdcall PUC_BeginXferData(PUC_HANDLE hDevice, RECIEVE_CALLBACK callback, void* arg);
PUCRESULT __stdcall PUC_EndXferData(PUC_HANDLE hDevice);
PUCRESULT __stdcall PUC_IsXferring(PUC_HANDLE hDevice, int* pIsXferring);
PUCRESULT __stdcall PUC_ExtractSequenceNo(const uint8_t* pData, uint32_t nWidth, uint32_t nHeight, uint16_t* pSeqNo);
PUCRESULT __stdcall PUC_DecodeData(uint8_t* pDst, uint32_t nX, uint32_t nY, uint32_t nWidth, uint32_t nHeight, uint32_t nLineBytes, const uint8_t* pSrc, const uint16_t* pQVals);
PUCRESULT __stdcall PUC_DecodeDataMultiThread(uint8_t* pDst, uint32_t nX, uint32_t nY, uint32_t nWidth, uint32_t nHeight, uint32_t nLineBytes, const uint8_t* pSrc, const uint16_t* pQVals, uint32_t nThreadCount);
PUCRESULT __stdcall PUC_DecodeDCTData(int16_t* pDst, uint32_t nX, uint32_t nY, uint32_t nWidth, uint32_t nHeight, uint32_t nLineBytes, const uint8_t* pSrc, const uint16_t* pQVals);
PUCRESULT __stdcall PUC_DecodeDCData(uint8_t* pDst, uint32_t nBlockX, uint32_t nBlockY, uint32_t nBlockCountX, uint32_t nBlockCountY, const uint8_t* pSrc);
PUCRESULT __stdcall PUC_GetRingBufferCount(PUC_HANDLE hDevice, uint32_t* pCount);
PUCRESULT __stdcall PUC_SetRingBufferCount(PUC_HANDLE hDevice, uint32_t nCount);
PUCRESULT __stdcall PUC_GetXferTimeOut(PUC_HANDLE hDevice, uint32_t* pSingle, uint32_t* pContinuous);
PUCRESULT __stdcall PUC_SetXferTimeOut(PUC_HANDLE hDevice, uint32_t nSingle, uint32_t nContinuous);
PUCRESULT __stdcall PUC_GetFramerateShutter(PUC_HANDLE hDevice, uint32_t* pFramerate, uint32_t* pShutterSpeedFps);
PUCRESULT __stdcall PUC_SetFramerateShutter(PUC_HANDLE hDevice, uint32_t nFramerate, uint32_t nShutterSpeedFps);
PUCRESULT __stdcall PUC_ResetSequenceNo(PUC_HANDLE hDevice);

// The transfer record lives on the C stack so no Go pointer is stored in
// C memory.
static PUCRESULT grabSingle(PUC_HANDLE h, uint8_t* dst, uint32_t* size, uint16_t* seq) {
	PUC_XFER_DATA_INFO info;
	info.pData = dst;
	info.nDataSize = 0;
	info.nSequenceNo = 0;
	PUCRESULT r = PUC_GetSingleXferData(h, &info);
	*size = info.nDataSize;
	*seq = info.nSequenceNo;
	return r;
}

extern void goReceive(PUC_XFER_DATA_INFO* info, void* arg);

static void receiveShim(PUC_XFER_DATA_INFO* info, void* arg) {
	goReceive(info, arg);
}

static PUCRESULT beginXfer(PUC_HANDLE h, void* arg) {
	return PUC_BeginXferData(h, receiveShim, arg);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	pointer "github.com/mattn/go-pointer"

	"github.com/e7canasta/puc-capture/driver"
)

// vendor is the cgo Driver and Codec.
type vendor struct {
	mu    sync.Mutex
	xfers map[driver.Handle]unsafe.Pointer // go-pointer tokens of active transfers
}

// New returns the vendor binding. It does not call PUC_Initialize.
func New() (driver.Driver, error) {
	return &vendor{xfers: make(map[driver.Handle]unsafe.Pointer)}, nil
}

var (
	_ driver.Driver = (*vendor)(nil)
	_ driver.Codec  = (*vendor)(nil)
)

func result(r C.PUCRESULT) error {
	return driver.Result(driver.Status(r))
}

func chandle(h driver.Handle) C.PUC_HANDLE {
	return C.PUC_HANDLE(unsafe.Pointer(h))
}

func bytePtr(b []byte) *C.uint8_t {
	if len(b) == 0 {
		return nil
	}
	return (*C.uint8_t)(unsafe.Pointer(&b[0]))
}

func (v *vendor) Initialize() error {
	return result(C.PUC_Initialize())
}

func (v *vendor) DetectDevices() ([]uint32, error) {
	var info C.PUC_DETECT_INFO
	if err := result(C.PUC_DetectDevice(&info)); err != nil {
		return nil, err
	}
	n := int(info.nDeviceCount)
	if n > driver.MaxDevices {
		n = driver.MaxDevices
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = uint32(info.nDeviceNoList[i])
	}
	return out, nil
}

func (v *vendor) OpenDevice(deviceNo uint32) (driver.Handle, error) {
	var h C.PUC_HANDLE
	if err := result(C.PUC_OpenDevice(C.uint32_t(deviceNo), &h)); err != nil {
		return 0, err
	}
	return driver.Handle(uintptr(unsafe.Pointer(h))), nil
}

func (v *vendor) CloseDevice(h driver.Handle) error {
	return result(C.PUC_CloseDevice(chandle(h)))
}

func (v *vendor) Quantization(h driver.Handle, index uint32) (uint16, error) {
	var val C.uint16_t
	err := result(C.PUC_GetQuantization(chandle(h), C.uint32_t(index), &val))
	return uint16(val), err
}

func (v *vendor) SetQuantization(h driver.Handle, index uint32, value uint16) error {
	return result(C.PUC_SetQuantization(chandle(h), C.uint32_t(index), C.uint16_t(value)))
}

func (v *vendor) Resolution(h driver.Handle) (uint32, uint32, error) {
	var w, ht C.uint32_t
	err := result(C.PUC_GetResolution(chandle(h), &w, &ht))
	return uint32(w), uint32(ht), err
}

func (v *vendor) SetResolution(h driver.Handle, width, height uint32) error {
	return result(C.PUC_SetResolution(chandle(h), C.uint32_t(width), C.uint32_t(height)))
}

func (v *vendor) XferDataMode(h driver.Handle) (driver.DataMode, error) {
	var m C.uint32_t
	err := result(C.PUC_GetXferDataMode(chandle(h), &m))
	return driver.DataMode(m), err
}

func (v *vendor) SetXferDataMode(h driver.Handle, mode driver.DataMode) error {
	return result(C.PUC_SetXferDataMode(chandle(h), C.uint32_t(mode)))
}

func (v *vendor) XferDataSize(h driver.Handle, mode driver.DataMode) (uint32, error) {
	var size C.uint32_t
	err := result(C.PUC_GetXferDataSize(chandle(h), C.uint32_t(mode), &size))
	return uint32(size), err
}

func (v *vendor) FramerateShutter(h driver.Handle) (uint32, uint32, error) {
	var fr, sh C.uint32_t
	err := result(C.PUC_GetFramerateShutter(chandle(h), &fr, &sh))
	return uint32(fr), uint32(sh), err
}

func (v *vendor) SetFramerateShutter(h driver.Handle, framerate, shutterFps uint32) error {
	return result(C.PUC_SetFramerateShutter(chandle(h), C.uint32_t(framerate), C.uint32_t(shutterFps)))
}

func (v *vendor) RingBufferCount(h driver.Handle) (uint32, error) {
	var n C.uint32_t
	err := result(C.PUC_GetRingBufferCount(chandle(h), &n))
	return uint32(n), err
}

func (v *vendor) SetRingBufferCount(h driver.Handle, count uint32) error {
	return result(C.PUC_SetRingBufferCount(chandle(h), C.uint32_t(count)))
}

func (v *vendor) XferTimeout(h driver.Handle) (uint32, uint32, error) {
	var single, cont C.uint32_t
	err := result(C.PUC_GetXferTimeOut(chandle(h), &single, &cont))
	return uint32(single), uint32(cont), err
}

func (v *vendor) SetXferTimeout(h driver.Handle, single, continuous uint32) error {
	return result(C.PUC_SetXferTimeOut(chandle(h), C.uint32_t(single), C.uint32_t(continuous)))
}

func (v *vendor) ResetSequenceNo(h driver.Handle) error {
	return result(C.PUC_ResetSequenceNo(chandle(h)))
}

func (v *vendor) GrabSingleXfer(h driver.Handle, dst []byte) (driver.FrameRecord, error) {
	if len(dst) == 0 {
		return driver.FrameRecord{}, driver.StatusIllegalArg
	}
	var size C.uint32_t
	var seq C.uint16_t
	if err := result(C.grabSingle(chandle(h), bytePtr(dst), &size, &seq)); err != nil {
		return driver.FrameRecord{}, err
	}
	return driver.FrameRecord{Data: dst, Size: uint32(size), SequenceNo: uint16(seq)}, nil
}

func (v *vendor) BeginXfer(h driver.Handle, t driver.Trampoline) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.xfers[h]; ok {
		return driver.StatusXferring
	}
	token := pointer.Save(t)
	if err := result(C.beginXfer(chandle(h), token)); err != nil {
		pointer.Unref(token)
		return err
	}
	v.xfers[h] = token
	return nil
}

func (v *vendor) EndXfer(h driver.Handle) error {
	v.mu.Lock()
	token, ok := v.xfers[h]
	delete(v.xfers, h)
	v.mu.Unlock()

	err := result(C.PUC_EndXferData(chandle(h)))
	// PUC_EndXferData returns after the last callback, so the token can go.
	if ok {
		pointer.Unref(token)
	}
	return err
}

func (v *vendor) IsXferring(h driver.Handle) (bool, error) {
	var b C.int
	err := result(C.PUC_IsXferring(chandle(h), &b))
	return b != 0, err
}

func (v *vendor) DecodeData(dst []byte, x, y, width, height, lineBytes uint32, src []byte, q *[driver.QuantizationCount]uint16) error {
	return result(C.PUC_DecodeData(bytePtr(dst),
		C.uint32_t(x), C.uint32_t(y), C.uint32_t(width), C.uint32_t(height), C.uint32_t(lineBytes),
		bytePtr(src), (*C.uint16_t)(unsafe.Pointer(&q[0]))))
}

func (v *vendor) DecodeDataMultiThread(dst []byte, x, y, width, height, lineBytes uint32, src []byte, q *[driver.QuantizationCount]uint16, threads uint32) error {
	return result(C.PUC_DecodeDataMultiThread(bytePtr(dst),
		C.uint32_t(x), C.uint32_t(y), C.uint32_t(width), C.uint32_t(height), C.uint32_t(lineBytes),
		bytePtr(src), (*C.uint16_t)(unsafe.Pointer(&q[0])), C.uint32_t(threads)))
}

// DecodeDCTData converts lineLen to the byte pitch PUC_DecodeDCTData expects.
func (v *vendor) DecodeDCTData(dst []int16, x, y, width, height, lineLen uint32, src []byte, q *[driver.QuantizationCount]uint16) error {
	if len(dst) == 0 || lineLen%4 != 0 || uint64(lineLen)*uint64(height) > uint64(len(dst)) {
		return driver.StatusIllegalArg
	}
	return result(C.PUC_DecodeDCTData((*C.int16_t)(unsafe.Pointer(&dst[0])),
		C.uint32_t(x), C.uint32_t(y), C.uint32_t(width), C.uint32_t(height), C.uint32_t(lineLen*2),
		bytePtr(src), (*C.uint16_t)(unsafe.Pointer(&q[0]))))
}

func (v *vendor) DecodeDCData(dst []byte, blockX, blockY, blockCountX, blockCountY uint32, src []byte) error {
	return result(C.PUC_DecodeDCData(bytePtr(dst),
		C.uint32_t(blockX), C.uint32_t(blockY), C.uint32_t(blockCountX), C.uint32_t(blockCountY),
		bytePtr(src)))
}

func (v *vendor) ExtractSequenceNo(src []byte, width, height uint32) (uint16, error) {
	var seq C.uint16_t
	err := result(C.PUC_ExtractSequenceNo(bytePtr(src), C.uint32_t(width), C.uint32_t(height), &seq))
	return uint16(seq), err
}
