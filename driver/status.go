package driver

import "fmt"

// Status is a vendor result code (PUCRESULT). Zero means success; every
// other value names one failure kind. A non-zero Status is an error.
type Status uint32

const (
	StatusSucceeded             Status = 0
	StatusUninitialized         Status = 1
	StatusInitialized           Status = 2
	StatusNotExistDeviceNo      Status = 3
	StatusIllegalDeviceHandle   Status = 4
	StatusIllegalArg            Status = 5
	StatusIllegalResolution     Status = 6
	StatusIllegalFrameRate      Status = 7
	StatusIllegalExposeClock    Status = 8
	StatusDeviceOpen            Status = 9
	StatusDeviceNotOpen         Status = 10
	StatusDeviceRead            Status = 11
	StatusDeviceWrite           Status = 12
	StatusModuleLoad            Status = 13
	StatusLockTimeout           Status = 14
	StatusGetCmd                Status = 15
	StatusSetCmd                Status = 16
	StatusNotEqualReadSize      Status = 17
	StatusNotEqualWriteSize     Status = 18
	StatusXferDataInvalidHeader Status = 19
	StatusXferDataBegin         Status = 20
	StatusXferDataWait          Status = 21
	StatusXferDataFinish        Status = 22
	StatusXferring              Status = 23
	StatusRingBufCount          Status = 24
	StatusSyncExternal          Status = 25
	StatusNotSupport            Status = 26
	StatusGPUDecodeProcess      Status = 27
	StatusAllocateBuffer        Status = 28
	StatusFreeBuffer            Status = 29
	StatusGPUSynchronize        Status = 30
	StatusGPUMemoryCopy         Status = 31
	StatusGPUUninitialized      Status = 32
)

const statusCount = 33

var statusNames = [statusCount]string{
	"PUC_SUCCEEDED",
	"PUC_ERROR_UNINITIALIZE",
	"PUC_ERROR_INITIALIZED",
	"PUC_ERROR_NOT_EXIST_DEVICE_NO",
	"PUC_ERROR_ILLEGAL_DEVICE_HANDLE",
	"PUC_ERROR_ILLEGAL_ARG",
	"PUC_ERROR_ILLEGAL_RESOLUTION",
	"PUC_ERROR_ILLEGAL_FRAME_RATE",
	"PUC_ERROR_ILLEGAL_EXPOSE_CLOCK",
	"PUC_ERROR_DEVICE_OPEN",
	"PUC_ERROR_DEVICE_NOTOPEN",
	"PUC_ERROR_DEVICE_READ",
	"PUC_ERROR_DEVICE_WRITE",
	"PUC_ERROR_MODULE_LOAD",
	"PUC_ERROR_LOCK_TIMEOUT",
	"PUC_ERROR_GET_CMD",
	"PUC_ERROR_SET_CMD",
	"PUC_ERROR_NOTEQUAL_READ_SIZE",
	"PUC_ERROR_NOTEQUAL_WRITE_SIZE",
	"PUC_ERROR_XFER_DATA_INVALID_HEADER",
	"PUC_ERROR_XFER_DATA_BEGIN",
	"PUC_ERROR_XFER_DATA_WAIT",
	"PUC_ERROR_XFER_DATA_FINISH",
	"PUC_ERROR_XFERRING",
	"PUC_ERROR_RING_BUF_COUNT",
	"PUC_ERROR_SYNC_EXTERNAL",
	"PUC_ERROR_NOTSUPPORT",
	"PUC_ERROR_GPU_DECODE_PROCESS",
	"PUC_ERROR_ALLOCATE_BUFFUER",
	"PUC_ERROR_FREE_BUFFER",
	"PUC_ERROR_GPU_SYNCHRONIZE",
	"PUC_ERROR_GPU_MEMORY_COPY",
	"PUC_ERROR_GPU_UNINITIALIZE",
}

var statusMessages = [statusCount]string{
	"succeeded",
	"puclib is not initialized",
	"initialization has already completed",
	"the specified deviceNo doesn't exist",
	"the specified device handle may be null",
	"the specified argument may be null",
	"the specified resolution cannot be set",
	"the specified framerate cannot be set",
	"the specified exposure time or non-exposure time (clock units) cannot be set",
	"failed to open the device",
	"the device is not open",
	"failed to read data from the device",
	"failed to write data to the device",
	"couldn't load sdk modules",
	"exclusive process of the function has timed out",
	"failed to send a GET command to the device",
	"failed to send a SET command to the device",
	"the data of specified size could not be read from the device",
	"the data of specified size could not be written to the device",
	"the header information in the data received from the device is invalid",
	"unable to start data transfer",
	"an unexpected error occurred while waiting for a data transfer from the device",
	"the data transfer ended abnormally",
	"unable to process as a data transfer is in progress",
	"the specified ring buffer count is invalid",
	"unable to process as a synchronize to external signal is in progress",
	"the function is not supported by the device",
	"an error occurred in the GPU decode process",
	"failed to allocate a buffer",
	"failed to free a buffer",
	"failed to synchronize with the GPU",
	"failed to copy GPU memory",
	"GPU decode is not set up",
}

// String returns the vendor symbol for the code, e.g. "PUC_ERROR_DEVICE_OPEN".
func (s Status) String() string {
	if s < statusCount {
		return statusNames[s]
	}
	return fmt.Sprintf("PUC_STATUS(%d)", uint32(s))
}

// Message returns the human readable vendor description.
func (s Status) Message() string {
	if s < statusCount {
		return statusMessages[s]
	}
	return "unknown status"
}

func (s Status) Error() string {
	return fmt.Sprintf("%s: %s", s.String(), s.Message())
}

// OK reports whether s is StatusSucceeded.
func (s Status) OK() bool { return s == StatusSucceeded }

// Result converts a status into an error; success maps to nil.
func Result(s Status) error {
	if s == StatusSucceeded {
		return nil
	}
	return s
}
