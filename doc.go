// Package puccapture drives high-speed industrial cameras through the vendor
// PUC library: device enumeration and sessions, single-frame grab,
// continuous transfer with a bounded frame ring, and decoding of the
// camera's 8x8 block compressed format.
//
// # Quick Start
//
//	lib := puccapture.NewLibrary(drv) // puclib.New() or simulator.New()
//	if err := lib.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	defer lib.Close()
//
//	devices, _ := lib.Detect()
//	cam, err := lib.Create(ctx, devices[0], true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dec, _ := cam.Decoder(puccapture.WithDefaultThreads(4))
//	err = cam.BeginTransfer(func(buf *puccapture.TransferBuffer) error {
//	    img, err := dec.DecodeBuffer(buf)
//	    if err != nil {
//	        return err
//	    }
//	    process(img)
//	    return nil
//	})
//	...
//	err = cam.EndTransfer()
//
// # Continuous transfer
//
// The driver calls back on its own acquisition thread. That callback only
// copies the frame into a ring slot; a consumer goroutine hands the frames to
// the FrameCallback in arrival order. The ring has as many slots as the
// device ring buffer count (4..65535). When all slots are queued the newest
// frame is dropped and counted in TransferStats.FramesDropped; dropped frames
// show up as gaps in the sequence numbers the callback sees.
//
// Buffers passed to the callback are borrowed. Reading one after the
// callback returns fails with ErrBufferReleased. Call Own to keep a frame.
//
// EndTransfer waits for the callback in flight. Frames still queued are
// discarded. A callback error stops delivery and is returned by EndTransfer.
//
// # Decoding
//
// Decoder works on a snapshot of the device quantization table. Region
// origins must be multiples of 8; widths and heights are clipped at the frame
// edge. With threads > 1 the region is split into bands of whole block rows
// decoded concurrently; the output is identical for every thread count.
//
// # Errors
//
// Every failure is an *Error with the operation name, the vendor status code
// and a Kind. Match kinds with errors.Is against the Err* sentinels:
//
//	if errors.Is(err, puccapture.ErrTimedOut) { ... }
package puccapture
