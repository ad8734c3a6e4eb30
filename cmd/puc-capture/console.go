package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	puccapture "github.com/e7canasta/puc-capture"
)

// console is the interactive command loop.
type console struct {
	lib *puccapture.Library
	cfg *puccapture.Config
	rl  *readline.Instance
	out io.Writer

	cam       *puccapture.Camera
	delivered atomic.Uint64
}

func newConsole(lib *puccapture.Library, cfg *puccapture.Config) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "puc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("detect"),
			readline.PcItem("open"),
			readline.PcItem("close"),
			readline.PcItem("grab"),
			readline.PcItem("begin"),
			readline.PcItem("end"),
			readline.PcItem("stats"),
			readline.PcItem("ring"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &console{lib: lib, cfg: cfg, rl: rl, out: rl.Stdout()}, nil
}

// Run reads commands until quit, EOF or ctx is done.
func (c *console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()
		case "detect":
			c.cmdDetect()
		case "open":
			c.cmdOpen(ctx, args)
		case "close":
			c.cmdClose()
		case "grab", "g":
			c.cmdGrab()
		case "begin", "b":
			c.cmdBegin()
		case "end", "e":
			c.cmdEnd()
		case "stats", "s":
			c.cmdStats()
		case "ring":
			c.cmdRing(args)
		case "quit", "exit", "q":
			if c.cam != nil && c.cam.IsTransferring() {
				c.cmdEnd()
			}
			cancel()
			return
		default:
			fmt.Fprintf(c.out, "Unknown command: %s (type 'help')\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  detect          list connected devices
  open [n]        open device n (default from config)
  close           close the open device
  grab            grab one frame and print its header
  begin           start continuous transfer
  end             stop continuous transfer
  stats           show transfer statistics
  ring [n]        show or set the ring buffer count
  quit            leave the console`)
}

func (c *console) requireCamera() bool {
	if c.cam == nil || !c.cam.IsOpen() {
		fmt.Fprintln(c.out, "No device open (use 'open')")
		return false
	}
	return true
}

func (c *console) cmdDetect() {
	devices, err := c.lib.Detect()
	if err != nil {
		fmt.Fprintf(c.out, "detect failed: %v\n", err)
		return
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.out, "No devices found")
		return
	}
	fmt.Fprintf(c.out, "Devices: %v\n", devices)
}

func (c *console) cmdOpen(ctx context.Context, args []string) {
	deviceNo := c.cfg.Camera.DeviceNo
	if len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			fmt.Fprintf(c.out, "invalid device number %q\n", args[0])
			return
		}
		deviceNo = uint32(n)
	}
	cam, err := c.lib.Create(ctx, deviceNo, true)
	if err != nil {
		fmt.Fprintf(c.out, "open failed: %v\n", err)
		return
	}
	if deviceNo == c.cfg.Camera.DeviceNo {
		if err := c.cfg.Camera.Apply(cam); err != nil {
			fmt.Fprintf(c.out, "warning: settings not applied: %v\n", err)
		}
	}
	c.cam = cam
	res, _ := cam.Resolution()
	mode, _ := cam.DataMode()
	fmt.Fprintf(c.out, "Opened device %d: %s %s\n", deviceNo, res, mode)
}

func (c *console) cmdClose() {
	if c.cam == nil {
		fmt.Fprintln(c.out, "No device open")
		return
	}
	if err := c.lib.Release(c.cam.DeviceNo()); err != nil {
		fmt.Fprintf(c.out, "close failed: %v\n", err)
	}
	c.cam = nil
	fmt.Fprintln(c.out, "Closed")
}

func (c *console) cmdGrab() {
	if !c.requireCamera() {
		return
	}
	start := time.Now()
	buf, err := c.cam.Grab()
	if err != nil {
		fmt.Fprintf(c.out, "grab failed: %v\n", err)
		return
	}
	defer buf.Release()
	fmt.Fprintf(c.out, "%s in %s\n", buf, time.Since(start).Round(time.Microsecond))
}

func (c *console) cmdBegin() {
	if !c.requireCamera() {
		return
	}
	c.delivered.Store(0)
	err := c.cam.BeginTransfer(func(*puccapture.TransferBuffer) error {
		c.delivered.Add(1)
		return nil
	})
	if err != nil {
		fmt.Fprintf(c.out, "begin failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Transfer started (session %s)\n", c.cam.Transfer().ID())
}

func (c *console) cmdEnd() {
	if !c.requireCamera() {
		return
	}
	if err := c.cam.EndTransfer(); err != nil {
		if errors.Is(err, puccapture.ErrTransferState) {
			fmt.Fprintln(c.out, "No transfer running")
			return
		}
		fmt.Fprintf(c.out, "end: %v\n", err)
	}
	s := c.cam.TransferStats()
	fmt.Fprintf(c.out, "Transfer ended: %d delivered, %d dropped\n", s.FramesDelivered, s.FramesDropped)
}

func (c *console) cmdStats() {
	if !c.requireCamera() {
		return
	}
	s := c.cam.TransferStats()
	fmt.Fprintf(c.out, "session=%s state=%s received=%d delivered=%d dropped=%d gaps=%d queue=%d/%d fps=%.1f\n",
		s.SessionID, s.State, s.FramesReceived, s.FramesDelivered, s.FramesDropped,
		s.SequenceGaps, s.QueueDepth, s.RingCapacity, s.ArrivalFPS)
	if s.LastError != "" {
		fmt.Fprintf(c.out, "last error: %s\n", s.LastError)
	}
}

func (c *console) cmdRing(args []string) {
	if !c.requireCamera() {
		return
	}
	if len(args) == 0 {
		n, err := c.cam.RingBufferCount()
		if err != nil {
			fmt.Fprintf(c.out, "ring: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Ring buffer count: %d\n", n)
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(c.out, "invalid count %q\n", args[0])
		return
	}
	if err := c.cam.SetRingBufferCount(uint32(n)); err != nil {
		fmt.Fprintf(c.out, "ring: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Ring buffer count set to %d\n", n)
}
