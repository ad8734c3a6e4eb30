// Command puc-capture drives a high-speed camera (or the built-in simulator)
// through continuous transfer, decodes frames and fans them out to PNG
// files, a CBOR recording, an MJPEG movie and MQTT telemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/driver/puclib"
	"github.com/e7canasta/puc-capture/simulator"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	sim := flag.Bool("sim", false, "Use the built-in simulator instead of the vendor library")
	deviceNo := flag.Uint("device", 0, "Device number to open")
	maxFrames := flag.Int("frames", 0, "Stop after this many delivered frames (0 = unlimited)")
	duration := flag.Duration("duration", 0, "Stop after this long (0 = until Ctrl+C)")
	threads := flag.Int("threads", 0, "Decode threads 1-32 (0 = from config)")
	roi := flag.String("roi", "", "Decode region x,y,w,h (x and y multiples of 8)")
	outputDir := flag.String("output-dir", "", "Directory to save decoded frames as PNG (optional)")
	saveEvery := flag.Int("save-every", 100, "Save one PNG every N frames")
	recordPath := flag.String("record", "", "Record transferred frames to a CBOR file")
	replayPath := flag.String("replay", "", "Replay a CBOR recording instead of capturing")
	moviePath := flag.String("movie", "", "Write decoded frames to an MJPEG AVI file")
	mqttBroker := flag.String("mqtt", "", "Publish transfer statistics to this MQTT broker")
	statsInterval := flag.Duration("stats-interval", 5*time.Second, "Interval between stats reports")
	skipWarmup := flag.Bool("skip-warmup", false, "Skip the arrival-rate warmup")
	interactive := flag.Bool("interactive", false, "Start the interactive console")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("puc-capture %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg := puccapture.DefaultConfig()
	if *configPath != "" {
		loaded, err := puccapture.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Explicit flags override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sim":
			cfg.Library.Simulated = *sim
		case "device":
			cfg.Camera.DeviceNo = uint32(*deviceNo)
		case "threads":
			cfg.Decode.Threads = *threads
		case "record":
			cfg.Record.Path = *recordPath
		case "movie":
			cfg.Movie.Path = *moviePath
		case "mqtt":
			cfg.Telemetry.Broker = *mqttBroker
			cfg.Telemetry.Topic = ""
			cfg.Telemetry.ClientID = ""
		}
	})
	if *roi != "" {
		values, err := parseROI(*roi)
		if err != nil {
			log.Fatalf("Invalid -roi: %v", err)
		}
		cfg.Decode.ROI = values
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *replayPath != "" {
		if err := runReplay(ctx, cfg, *replayPath, *outputDir, *saveEvery); err != nil {
			log.Fatalf("Replay failed: %v", err)
		}
		return
	}

	drv, err := openDriver(cfg.Library)
	if err != nil {
		log.Fatalf("Failed to load driver: %v", err)
	}
	lib := puccapture.NewLibrary(drv, puccapture.WithRetry(cfg.Library.Retry()))
	if err := lib.Init(); err != nil {
		log.Fatalf("Failed to initialize library: %v", err)
	}
	defer func() {
		if err := lib.Close(); err != nil {
			slog.Error("puc-capture: library close", "error", err)
		}
	}()

	if *interactive {
		console, err := newConsole(lib, cfg)
		if err != nil {
			log.Fatalf("Failed to start console: %v", err)
		}
		console.Run(ctx, cancel)
		return
	}

	printBanner(cfg, *maxFrames, *duration, *outputDir)

	cam, err := lib.Create(ctx, cfg.Camera.DeviceNo, true)
	if err != nil {
		log.Fatalf("Failed to open device %d: %v", cfg.Camera.DeviceNo, err)
	}
	if err := cfg.Camera.Apply(cam); err != nil {
		log.Fatalf("Failed to apply camera settings: %v", err)
	}

	run := &captureRun{
		cfg:           cfg,
		cam:           cam,
		maxFrames:     *maxFrames,
		duration:      *duration,
		outputDir:     *outputDir,
		saveEvery:     *saveEvery,
		statsInterval: *statsInterval,
		skipWarmup:    *skipWarmup,
	}
	if err := run.Run(ctx); err != nil {
		log.Fatalf("Capture failed: %v", err)
	}
	slog.Info("puc-capture: capture completed successfully")
}

// openDriver selects the simulator or the vendor binding.
func openDriver(cfg puccapture.LibraryConfig) (driver.Driver, error) {
	if cfg.Simulated {
		slog.Info("puc-capture: using simulator",
			"devices", cfg.SimDevices,
			"framerate", cfg.SimFramerate,
		)
		return simulator.New(
			simulator.WithDevices(cfg.SimDevices...),
			simulator.WithFramerate(cfg.SimFramerate),
		), nil
	}
	return puclib.New()
}

// parseROI parses "x,y,w,h".
func parseROI(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("want x,y,w,h, got %q", s)
	}
	out := make([]uint32, 4)
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

func printBanner(cfg *puccapture.Config, maxFrames int, duration time.Duration, outputDir string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║              PUC High-Speed Camera Capture                ║\n")
	fmt.Printf("║                      Version %s                       ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	if cfg.Library.Simulated {
		fmt.Printf("  Driver:        simulator (%d fps)\n", cfg.Library.SimFramerate)
	} else {
		fmt.Printf("  Driver:        PUCLIB\n")
	}
	fmt.Printf("  Device:        %d\n", cfg.Camera.DeviceNo)
	fmt.Printf("  Decode:        %d thread(s), vendor threading %v\n", cfg.Decode.Threads, cfg.Decode.VendorThreading)
	if len(cfg.Decode.ROI) == 4 {
		fmt.Printf("  ROI:           %v\n", cfg.Decode.ROI)
	}
	if outputDir != "" {
		fmt.Printf("  Output Dir:    %s\n", outputDir)
	}
	if cfg.Record.Path != "" {
		fmt.Printf("  Recording:     %s\n", cfg.Record.Path)
	}
	if cfg.Movie.Path != "" {
		fmt.Printf("  Movie:         %s (%d fps)\n", cfg.Movie.Path, cfg.Movie.FPS)
	}
	if cfg.Telemetry.Broker != "" {
		fmt.Printf("  Telemetry:     %s → %s\n", cfg.Telemetry.Broker, cfg.Telemetry.Topic)
	}
	if maxFrames > 0 {
		fmt.Printf("  Max Frames:    %d\n", maxFrames)
	}
	if duration > 0 {
		fmt.Printf("  Duration:      %s\n", duration)
	}
	fmt.Printf("\n")
}
