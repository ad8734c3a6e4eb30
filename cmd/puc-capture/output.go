package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	puccapture "github.com/e7canasta/puc-capture"
)

// savePNG writes img as frame_<seq>_<arrival>.png.
func savePNG(dir string, seq uint16, arrived time.Time, img image.Image) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	name := fmt.Sprintf("frame_%05d_%s.png", seq, arrived.Format("20060102_150405.000000"))
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}

func printWarmup(stats *puccapture.WarmupStats) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Warmup Complete\n")
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Received:    %8d frames\n", stats.FramesReceived)
	fmt.Printf("│ Duration:           %8.1f seconds\n", stats.Duration.Seconds())
	fmt.Printf("│ FPS Mean:           %8.1f fps\n", stats.FPSMean)
	fmt.Printf("│ FPS StdDev:         %8.1f fps\n", stats.FPSStdDev)
	fmt.Printf("│ FPS Range:          %8.1f - %.1f fps\n", stats.FPSMin, stats.FPSMax)
	fmt.Printf("│ Jitter Mean:        %8.6f s\n", stats.JitterMean)
	fmt.Printf("│ Jitter Max:         %8.6f s\n", stats.JitterMax)
	fmt.Printf("│ Stable:             %8v\n", stats.IsStable)
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	if !stats.IsStable {
		fmt.Printf("\n⚠️  WARNING: arrival rate is unstable (high FPS variance or jitter)\n")
	}
	fmt.Printf("\n")
}

// reportStats prints a stats box every interval until ctx is done.
func reportStats(ctx context.Context, cam *puccapture.Camera, interval time.Duration, start time.Time) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printStats(cam.TransferStats(), time.Since(start))
		}
	}
}

func printStats(s puccapture.TransferStats, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Transfer Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Session:            %s\n", s.SessionID)
	fmt.Printf("│ Frames Received:    %8d frames\n", s.FramesReceived)
	fmt.Printf("│ Frames Delivered:   %8d frames\n", s.FramesDelivered)
	if s.FramesDropped > 0 {
		fmt.Printf("│ Frames Dropped:     %8d frames (%.1f%%)\n", s.FramesDropped, s.DropRate()*100)
	}
	if s.SequenceGaps > 0 {
		fmt.Printf("│ Sequence Gaps:      %8d\n", s.SequenceGaps)
	}
	fmt.Printf("│ Ring Queue:         %8d / %d\n", s.QueueDepth, s.RingCapacity)
	fmt.Printf("│ Arrival FPS:        %8.1f fps\n", s.ArrivalFPS)
	fmt.Printf("│ Stable:             %8v\n", s.IsStable)
	if s.Faults > 0 {
		fmt.Printf("│ Faults:             %8d (last: %s)\n", s.Faults, s.LastError)
	}
	if s.CallbackError != "" {
		fmt.Printf("│ Callback Error:     %s\n", s.CallbackError)
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}

func printFinal(s puccapture.TransferStats, sink *frameSink, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", uptime.Round(time.Millisecond))
	fmt.Printf("  Frames Received:    %d frames\n", s.FramesReceived)
	fmt.Printf("  Frames Delivered:   %d frames\n", s.FramesDelivered)
	fmt.Printf("  Frames Dropped:     %d frames (%.2f%%)\n", s.FramesDropped, s.DropRate()*100)
	fmt.Printf("  Sequence Gaps:      %d\n", s.SequenceGaps)
	if sink.outputDir != "" {
		fmt.Printf("  PNG Saved:          %d frames\n", sink.saved.Load())
	}
	if sink.movie != nil {
		fmt.Printf("  Movie Frames:       %d frames\n", sink.encoded.Load())
	}
	if sink.recorder != nil {
		fmt.Printf("  Recorded:           %d frames\n", sink.recorder.Frames())
	}
	if s.Faults > 0 {
		fmt.Printf("  Faults:             %d (last: %s)\n", s.Faults, s.LastError)
	}
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")
}
