package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Capture modes select which producer feeds the delivery channel.
const (
	CaptureModeCopy     = "copy"     // retrying copy-output requests on every swap
	CaptureModeSoftware = "software" // compositor rasters into a shared-memory surface
	CaptureModeVideo    = "video"    // push-based continuous capture stream
)

type Config struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	// Rotation limits for log_file.
	LogMaxSizeMB  int `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	View    ViewConfig    `mapstructure:"view" yaml:"view"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Overlay OverlayConfig `mapstructure:"overlay" yaml:"overlay"`
	Preview PreviewConfig `mapstructure:"preview" yaml:"preview"`

	MetricsIntervalSeconds int `mapstructure:"metrics_interval_seconds" yaml:"metrics_interval_seconds"`
}

type ViewConfig struct {
	Width       int     `mapstructure:"width" yaml:"width"`
	Height      int     `mapstructure:"height" yaml:"height"`
	ScaleFactor float64 `mapstructure:"scale_factor" yaml:"scale_factor"`
	FrameRate   int     `mapstructure:"frame_rate" yaml:"frame_rate"`
	Painting    bool    `mapstructure:"painting" yaml:"painting"`
	Transparent bool    `mapstructure:"transparent" yaml:"transparent"`
}

type CaptureConfig struct {
	Mode       string `mapstructure:"mode" yaml:"mode"`
	RetryLimit int    `mapstructure:"retry_limit" yaml:"retry_limit"`
	// FailureRate makes the simulated compositor return empty copy results,
	// exercising the retry path. 0 disables it.
	FailureRate float64 `mapstructure:"failure_rate" yaml:"failure_rate"`
}

type OverlayConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ProcessID     uint32 `mapstructure:"process_id" yaml:"process_id"`
	Module        string `mapstructure:"module" yaml:"module"`
	Symbol        string `mapstructure:"symbol" yaml:"symbol"`
	RecordVersion int    `mapstructure:"record_version" yaml:"record_version"`
}

type PreviewConfig struct {
	ListenAddr  string  `mapstructure:"listen_addr" yaml:"listen_addr,omitempty"`
	Quality     int     `mapstructure:"quality" yaml:"quality"`
	ScaleFactor float64 `mapstructure:"scale_factor" yaml:"scale_factor"`
}

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat:     "text",
		LogMaxSizeMB:  20,
		LogMaxBackups: 5,
		View: ViewConfig{
			Width:       800,
			Height:      600,
			ScaleFactor: 1.0,
			FrameRate:   60,
			Painting:    true,
		},
		Capture: CaptureConfig{
			Mode:       CaptureModeCopy,
			RetryLimit: 2,
		},
		Overlay: OverlayConfig{
			Enabled:       true,
			Module:        "discord_overlay2.node",
			Symbol:        "SendOverlayFrame",
			RecordVersion: 2,
		},
		Preview: PreviewConfig{
			Quality:     70,
			ScaleFactor: 0.5,
		},
		MetricsIntervalSeconds: 10,
	}
}

// Load reads the config file (or the default search path), applies OSR_*
// environment overrides and returns the merged result. A missing config
// file is not an error.
func Load(cfgFile string) (*Config, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("osr-host")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OSR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override values that
// never appear in the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log_max_backups", d.LogMaxBackups)
	v.SetDefault("metrics_interval_seconds", d.MetricsIntervalSeconds)

	v.SetDefault("view.width", d.View.Width)
	v.SetDefault("view.height", d.View.Height)
	v.SetDefault("view.scale_factor", d.View.ScaleFactor)
	v.SetDefault("view.frame_rate", d.View.FrameRate)
	v.SetDefault("view.painting", d.View.Painting)
	v.SetDefault("view.transparent", d.View.Transparent)

	v.SetDefault("capture.mode", d.Capture.Mode)
	v.SetDefault("capture.retry_limit", d.Capture.RetryLimit)
	v.SetDefault("capture.failure_rate", d.Capture.FailureRate)

	v.SetDefault("overlay.enabled", d.Overlay.Enabled)
	v.SetDefault("overlay.process_id", d.Overlay.ProcessID)
	v.SetDefault("overlay.module", d.Overlay.Module)
	v.SetDefault("overlay.symbol", d.Overlay.Symbol)
	v.SetDefault("overlay.record_version", d.Overlay.RecordVersion)

	v.SetDefault("preview.listen_addr", d.Preview.ListenAddr)
	v.SetDefault("preview.quality", d.Preview.Quality)
	v.SetDefault("preview.scale_factor", d.Preview.ScaleFactor)
}

// Dump renders the effective config as YAML.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return out, nil
}

// SaveTo writes cfg as YAML to path with owner-only permissions.
func SaveTo(cfg *Config, path string) error {
	data, err := Dump(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "OSRHost")
	case "darwin":
		return "/Library/Application Support/OSRHost"
	default:
		return "/etc/osr-host"
	}
}
