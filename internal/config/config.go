// Package config loads framecount settings.
//
// Precedence, lowest first: defaults, YAML file, FRAMECOUNT_* environment,
// command-line flags (applied by the CLI). Camera credentials are kept apart
// from the URL and only merged into it by Address, so nothing secret has to
// live in the file or the binary.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "FRAMECOUNT_"

// Known values checked by Validate
var (
	Backends       = []string{"ffmpeg", "gstreamer"}
	ConvertFormats = []string{"", "rgb24"}
	ReportFormats  = []string{"json", "msgpack"}
	URLSchemes     = []string{"rtsp", "rtsps", "rtmp", "http", "https", "file"}
)

// Config represents the complete framecount configuration
type Config struct {
	Camera         CameraConfig  `yaml:"camera" envPrefix:"CAMERA_"`
	Backend        string        `yaml:"backend" env:"BACKEND"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"` // open + probe
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`       // per packet
	Convert        string        `yaml:"convert" env:"CONVERT"`                 // "" or rgb24
	Retries        int           `yaml:"retries" env:"RETRIES"`                 // whole-count retries (0 = off)
	Debug          bool          `yaml:"debug" env:"DEBUG"`
	Stats          bool          `yaml:"stats" env:"STATS"` // print decode-rate statistics
	Metrics        MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Report         ReportConfig  `yaml:"report" envPrefix:"REPORT_"`
}

// CameraConfig contains camera settings
type CameraConfig struct {
	URL      string `yaml:"url" env:"URL"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MetricsConfig contains Prometheus Pushgateway settings
type MetricsConfig struct {
	PushGateway string `yaml:"push_gateway" env:"PUSH_GATEWAY"` // empty = no push
	Job         string `yaml:"job" env:"JOB"`
}

// ReportConfig contains MQTT run-summary settings
type ReportConfig struct {
	Broker   string `yaml:"broker" env:"BROKER"` // empty = no report
	Topic    string `yaml:"topic" env:"TOPIC"`
	Format   string `yaml:"format" env:"FORMAT"` // json, msgpack
	QoS      byte   `yaml:"qos" env:"QOS"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Backend:        "ffmpeg",
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    5 * time.Second,
		Metrics: MetricsConfig{
			Job: "framecount",
		},
		Report: ReportConfig{
			Topic:  "framecount/runs",
			Format: "json",
			QoS:    1,
		},
	}
}

// Load reads the optional YAML file at path and applies the environment.
// Validation is left to the caller, after flags are applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration, failing on the first problem
func Validate(cfg *Config) error {
	if cfg.Camera.URL == "" {
		return fmt.Errorf("camera.url is required (flag --url or %sCAMERA_URL)", EnvPrefix)
	}
	u, err := url.Parse(cfg.Camera.URL)
	if err != nil {
		return fmt.Errorf("camera.url is not a valid URL")
	}
	if !slices.Contains(URLSchemes, u.Scheme) {
		return fmt.Errorf("camera.url scheme %q not supported (want one of %v)", u.Scheme, URLSchemes)
	}
	if cfg.Camera.Password != "" && cfg.Camera.Username == "" {
		return fmt.Errorf("camera.password set without camera.username")
	}

	if !slices.Contains(Backends, cfg.Backend) {
		return fmt.Errorf("backend %q not supported (want one of %v)", cfg.Backend, Backends)
	}
	if cfg.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must be >= 0, got %v", cfg.ConnectTimeout)
	}
	if cfg.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout must be >= 0, got %v", cfg.ReadTimeout)
	}
	if !slices.Contains(ConvertFormats, cfg.Convert) {
		return fmt.Errorf("convert %q not supported (want rgb24 or empty)", cfg.Convert)
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	if cfg.Report.Broker != "" {
		if !slices.Contains(ReportFormats, cfg.Report.Format) {
			return fmt.Errorf("report.format %q not supported (want one of %v)", cfg.Report.Format, ReportFormats)
		}
		if cfg.Report.Topic == "" {
			return fmt.Errorf("report.topic is required when report.broker is set")
		}
		if cfg.Report.QoS > 2 {
			return fmt.Errorf("report.qos must be 0, 1 or 2, got %d", cfg.Report.QoS)
		}
	}
	if cfg.Metrics.PushGateway != "" && cfg.Metrics.Job == "" {
		return fmt.Errorf("metrics.job is required when metrics.push_gateway is set")
	}

	return nil
}

// Address returns the camera URL with the configured credentials applied.
// Credentials already embedded in the URL are replaced when Username is set.
func (c *Config) Address() (string, error) {
	u, err := url.Parse(c.Camera.URL)
	if err != nil {
		return "", fmt.Errorf("camera.url is not a valid URL")
	}
	switch {
	case c.Camera.Username != "" && c.Camera.Password != "":
		u.User = url.UserPassword(c.Camera.Username, c.Camera.Password)
	case c.Camera.Username != "":
		u.User = url.User(c.Camera.Username)
	}
	return u.String(), nil
}
