package puccapture

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of a capture run.
type Config struct {
	Library   LibraryConfig   `yaml:"library"`
	Camera    CameraConfig    `yaml:"camera"`
	Decode    DecodeConfig    `yaml:"decode"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Record    RecordConfig    `yaml:"record"`
	Movie     MovieConfig     `yaml:"movie"`
}

// LibraryConfig selects the driver and the open retry schedule.
type LibraryConfig struct {
	Simulated        bool     `yaml:"simulated"`     // use the in-process simulator
	SimDevices       []uint32 `yaml:"sim_devices"`   // device numbers the simulator reports (default [0])
	SimFramerate     uint32   `yaml:"sim_framerate"` // default 1000
	OpenRetries      int      `yaml:"open_retries"`  // retries after the first attempt
	OpenRetryDelayMS int      `yaml:"open_retry_delay_ms"`
	OpenRetryMaxMS   int      `yaml:"open_retry_max_ms"`
}

// CameraConfig holds device settings. Zero values leave the device setting
// unchanged.
type CameraConfig struct {
	DeviceNo            uint32  `yaml:"device_no"`
	Width               uint32  `yaml:"width"`
	Height              uint32  `yaml:"height"`
	Framerate           uint32  `yaml:"framerate"`
	ShutterFps          uint32  `yaml:"shutter_fps"`
	DataMode            string  `yaml:"data_mode"` // compressed, gray
	RingBufferCount     uint32  `yaml:"ring_buffer_count"`
	TimeoutSingleMS     *uint32 `yaml:"timeout_single_ms,omitempty"`
	TimeoutContinuousMS *uint32 `yaml:"timeout_continuous_ms,omitempty"`
	Quantization        []int   `yaml:"quantization,omitempty"` // 64 values written at Apply
}

// DecodeConfig controls frame decoding.
type DecodeConfig struct {
	Threads         int      `yaml:"threads"` // 1..32
	VendorThreading bool     `yaml:"vendor_threading"`
	ROI             []uint32 `yaml:"roi,omitempty"` // x, y, width, height
}

// TelemetryConfig configures the MQTT statistics publisher.
type TelemetryConfig struct {
	Broker     string `yaml:"broker"` // empty disables telemetry
	ClientID   string `yaml:"client_id"`
	Topic      string `yaml:"topic"`
	QoS        byte   `yaml:"qos"`
	IntervalMS int    `yaml:"interval_ms"`
}

// RecordConfig configures CBOR recording.
type RecordConfig struct {
	Path   string `yaml:"path"` // empty disables recording
	Decode bool   `yaml:"decode"`
}

// MovieConfig configures AVI output.
type MovieConfig struct {
	Path string `yaml:"path"` // empty disables the movie
	FPS  int    `yaml:"fps"`
}

// DefaultConfig returns a validated configuration for the simulator.
func DefaultConfig() *Config {
	cfg := &Config{Library: LibraryConfig{Simulated: true}}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads, parses and validates a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("puc-capture: failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("puc-capture: failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("puc-capture: invalid config: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Library.SimDevices) == 0 {
		c.Library.SimDevices = []uint32{0}
	}
	for _, n := range c.Library.SimDevices {
		if n >= MaxDevices {
			return fmt.Errorf("library.sim_devices: %d outside [0,%d]", n, MaxDevices-1)
		}
	}
	if c.Library.SimFramerate == 0 {
		c.Library.SimFramerate = 1000
	}
	if c.Library.OpenRetries < 0 {
		return fmt.Errorf("library.open_retries must be >= 0")
	}
	if c.Library.OpenRetryDelayMS <= 0 {
		c.Library.OpenRetryDelayMS = 100
	}
	if c.Library.OpenRetryMaxMS <= 0 {
		c.Library.OpenRetryMaxMS = 2000
	}

	cam := &c.Camera
	if cam.DeviceNo >= MaxDevices {
		return fmt.Errorf("camera.device_no %d outside [0,%d]", cam.DeviceNo, MaxDevices-1)
	}
	if (cam.Width == 0) != (cam.Height == 0) {
		return fmt.Errorf("camera.width and camera.height must be set together")
	}
	if (cam.Framerate == 0) != (cam.ShutterFps == 0) {
		return fmt.Errorf("camera.framerate and camera.shutter_fps must be set together")
	}
	if _, err := ParseDataMode(cam.DataMode); err != nil {
		return fmt.Errorf("camera.data_mode: %w", err)
	}
	if n := cam.RingBufferCount; n != 0 && (n < MinRingBufferCount || n > MaxRingBufferCount) {
		return fmt.Errorf("camera.ring_buffer_count %d outside [%d,%d]", n, MinRingBufferCount, MaxRingBufferCount)
	}
	if len(cam.Quantization) != 0 && len(cam.Quantization) != QuantizationCount {
		return fmt.Errorf("camera.quantization needs %d values, got %d", QuantizationCount, len(cam.Quantization))
	}

	if c.Decode.Threads == 0 {
		c.Decode.Threads = 1
	}
	if c.Decode.Threads < 1 || c.Decode.Threads > MaxDecodeThreads {
		return fmt.Errorf("decode.threads %d outside [1,%d]", c.Decode.Threads, MaxDecodeThreads)
	}
	if len(c.Decode.ROI) != 0 {
		if _, err := c.Decode.Region(); err != nil {
			return err
		}
	}

	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = fmt.Sprintf("puc/telemetry/%d", cam.DeviceNo)
	}
	if c.Telemetry.ClientID == "" {
		c.Telemetry.ClientID = fmt.Sprintf("puc-capture-%d", cam.DeviceNo)
	}
	if c.Telemetry.QoS > 2 {
		return fmt.Errorf("telemetry.qos %d must be 0, 1 or 2", c.Telemetry.QoS)
	}
	if c.Telemetry.IntervalMS <= 0 {
		c.Telemetry.IntervalMS = 1000
	}

	if c.Movie.FPS <= 0 {
		c.Movie.FPS = 30
	}
	return nil
}

// Region returns the configured decode ROI.
func (d DecodeConfig) Region() (Region, error) {
	if len(d.ROI) != 4 {
		return Region{}, fmt.Errorf("decode.roi needs x, y, width, height, got %d values", len(d.ROI))
	}
	r := Region{X: d.ROI[0], Y: d.ROI[1], Width: d.ROI[2], Height: d.ROI[3]}
	if err := r.validate("decode.roi"); err != nil {
		return Region{}, err
	}
	return r, nil
}

// Retry returns the open backoff schedule.
func (l LibraryConfig) Retry() RetryConfig {
	return RetryConfig{
		MaxRetries:   l.OpenRetries,
		InitialDelay: time.Duration(l.OpenRetryDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(l.OpenRetryMaxMS) * time.Millisecond,
	}
}

// Interval returns the telemetry publish period.
func (t TelemetryConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMS) * time.Millisecond
}

// Apply pushes the configured settings to an open camera: data mode,
// resolution, framerate and shutter, ring buffer count, timeouts and the
// quantization override, in that order.
func (c *CameraConfig) Apply(cam *Camera) error {
	if c.DataMode != "" {
		m, err := ParseDataMode(c.DataMode)
		if err != nil {
			return err
		}
		if err := cam.SetDataMode(m); err != nil {
			return err
		}
	}
	if c.Width != 0 {
		if err := cam.SetResolution(Resolution{Width: c.Width, Height: c.Height}); err != nil {
			return err
		}
	}
	if c.Framerate != 0 {
		if err := cam.SetFramerateShutter(c.Framerate, c.ShutterFps); err != nil {
			return err
		}
	}
	if c.RingBufferCount != 0 {
		if err := cam.SetRingBufferCount(c.RingBufferCount); err != nil {
			return err
		}
	}
	if c.TimeoutSingleMS != nil || c.TimeoutContinuousMS != nil {
		t, err := cam.Timeouts()
		if err != nil {
			return err
		}
		if c.TimeoutSingleMS != nil {
			t.Single = *c.TimeoutSingleMS
		}
		if c.TimeoutContinuousMS != nil {
			t.Continuous = *c.TimeoutContinuousMS
		}
		if err := cam.SetTimeouts(t); err != nil {
			return err
		}
	}
	if len(c.Quantization) != 0 {
		t, err := QuantizationFromList(c.Quantization)
		if err != nil {
			return err
		}
		if err := cam.SetQuantization(t); err != nil {
			return err
		}
	}
	return nil
}
