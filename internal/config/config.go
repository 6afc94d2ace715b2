package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/blinkauth/internal/imaging"
	"github.com/andresmejia3/blinkauth/internal/liveness"
	"github.com/andresmejia3/blinkauth/internal/upload"
	"github.com/andresmejia3/blinkauth/internal/utils"
	"github.com/andresmejia3/blinkauth/internal/worker"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "1s" or "250ms" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

// Camera selects and shapes the capture device.
type Camera struct {
	Device     string `yaml:"device" toml:"device" validate:"required"`
	Format     string `yaml:"format" toml:"format"`
	FacingMode string `yaml:"facing_mode" toml:"facing_mode" validate:"oneof=user environment"`
	FrameRate  int    `yaml:"frame_rate" toml:"frame_rate" validate:"gte=0,lte=240"`
	Width      int    `yaml:"width" toml:"width" validate:"gte=0"`
	Height     int    `yaml:"height" toml:"height" validate:"gte=0"`
	LockDir    string `yaml:"lock_dir" toml:"lock_dir"`
}

// Worker is the landmark model process.
type Worker struct {
	Command string   `yaml:"command" toml:"command" validate:"required"`
	Args    []string `yaml:"args" toml:"args"`
}

// Region is the eye crop, in fractions of the frame.
type Region struct {
	X float64 `yaml:"x" toml:"x" validate:"gte=0,lt=1"`
	Y float64 `yaml:"y" toml:"y" validate:"gte=0,lt=1"`
	W float64 `yaml:"w" toml:"w" validate:"gt=0,lte=1"`
	H float64 `yaml:"h" toml:"h" validate:"gt=0,lte=1"`
}

// Liveness holds the blink heuristic's tunables.
type Liveness struct {
	EyeOpennessThreshold    float64  `yaml:"eye_openness_threshold" toml:"eye_openness_threshold" validate:"gte=0"`
	ConfirmFrames           int      `yaml:"confirm_frames" toml:"confirm_frames" validate:"gte=0"`
	DiffThreshold           float64  `yaml:"diff_threshold" toml:"diff_threshold" validate:"gt=0,lte=255"`
	Cooldown                Duration `yaml:"cooldown" toml:"cooldown" validate:"gte=0"`
	EyeRegion               Region   `yaml:"eye_region" toml:"eye_region"`
	RequireFaceConfirmation bool     `yaml:"require_face_confirmation" toml:"require_face_confirmation"`
	TickInterval            Duration `yaml:"tick_interval" toml:"tick_interval" validate:"gt=0"`
}

// Compression bounds and encodes the uploaded capture.
type Compression struct {
	MaxWidth  int `yaml:"max_width" toml:"max_width" validate:"gte=0"`
	MaxHeight int `yaml:"max_height" toml:"max_height" validate:"gte=0"`
	Quality   int `yaml:"quality" toml:"quality" validate:"gte=1,lte=100"`
}

// Storage is the Azure Blob Storage account captures go to.
type Storage struct {
	AccountName     string   `yaml:"account_name" toml:"account_name" validate:"required"`
	AccountKey      string   `yaml:"account_key" toml:"account_key" validate:"required"`
	Container       string   `yaml:"container" toml:"container" validate:"required"`
	ServiceURL      string   `yaml:"service_url" toml:"service_url" validate:"omitempty,url"`
	Namespace       string   `yaml:"namespace" toml:"namespace" validate:"required"`
	MaxRetries      int32    `yaml:"max_retries" toml:"max_retries" validate:"gte=0"`
	TryTimeout      Duration `yaml:"try_timeout" toml:"try_timeout" validate:"gte=0"`
	CreateContainer bool     `yaml:"create_container" toml:"create_container"`
}

// Verifier is the face matching service.
type Verifier struct {
	URL     string   `yaml:"url" toml:"url" validate:"required,url"`
	Timeout Duration `yaml:"timeout" toml:"timeout" validate:"gt=0"`
}

// Redirect is the legacy session endpoint a match is handed to.
type Redirect struct {
	URL   string   `yaml:"url" toml:"url" validate:"required,url"`
	Delay Duration `yaml:"delay" toml:"delay" validate:"gte=0"`
}

// Logging controls the zap logger.
type Logging struct {
	Level       string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `yaml:"development" toml:"development"`
}

// Config is the whole blinkauth configuration.
type Config struct {
	Profile     string      `yaml:"profile" toml:"profile" validate:"oneof=desktop constrained"`
	Camera      Camera      `yaml:"camera" toml:"camera"`
	Worker      Worker      `yaml:"worker" toml:"worker"`
	Liveness    Liveness    `yaml:"liveness" toml:"liveness"`
	Compression Compression `yaml:"compression" toml:"compression"`
	Storage     Storage     `yaml:"storage" toml:"storage"`
	Verifier    Verifier    `yaml:"verifier" toml:"verifier"`
	Redirect    Redirect    `yaml:"redirect" toml:"redirect"`
	Logging     Logging     `yaml:"logging" toml:"logging"`
}

// Load builds the effective configuration: defaults, then .env, then the
// optional config file, then environment variables. The result is
// normalized but not validated, so commands can still apply flags.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config: %w", err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables on c.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := map[string]*string{
		"AZURE_STORAGE_ACCOUNT_NAME": &c.Storage.AccountName,
		"AZURE_STORAGE_ACCOUNT_KEY":  &c.Storage.AccountKey,
		"AZURE_CONTAINER_NAME":       &c.Storage.Container,
		"AZURE_STORAGE_SERVICE_URL":  &c.Storage.ServiceURL,
		"BLINKAUTH_PROFILE":          &c.Profile,
		"BLINKAUTH_DEVICE":           &c.Camera.Device,
		"BLINKAUTH_CAMERA_FORMAT":    &c.Camera.Format,
		"BLINKAUTH_FACING_MODE":      &c.Camera.FacingMode,
		"BLINKAUTH_WORKER_COMMAND":   &c.Worker.Command,
		"BLINKAUTH_VERIFY_URL":       &c.Verifier.URL,
		"BLINKAUTH_REDIRECT_URL":     &c.Redirect.URL,
		"BLINKAUTH_NAMESPACE":        &c.Storage.Namespace,
		"BLINKAUTH_LOG_LEVEL":        &c.Logging.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("BLINKAUTH_WORKER_ARGS"); ok && v != "" {
		c.Worker.Args = strings.Fields(v)
	}
	if v, ok := lookup("BLINKAUTH_DEV_LOG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BLINKAUTH_DEV_LOG: %w", err)
		}
		c.Logging.Development = b
	}

	durations := map[string]*Duration{
		"BLINKAUTH_VERIFY_TIMEOUT": &c.Verifier.Timeout,
		"BLINKAUTH_REDIRECT_DELAY": &c.Redirect.Delay,
		"BLINKAUTH_COOLDOWN":       &c.Liveness.Cooldown,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

// Normalize fills the camera size and compression bounds from the profile
// where they are not set explicitly.
func (c *Config) Normalize() error {
	c.Profile = strings.ToLower(strings.TrimSpace(c.Profile))
	p, err := imaging.ProfileByName(c.Profile)
	if err != nil {
		return err
	}
	c.Profile = p.Name

	if c.Camera.Width == 0 {
		c.Camera.Width = p.MaxWidth
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = p.MaxHeight
	}
	if c.Compression.MaxWidth == 0 {
		c.Compression.MaxWidth = p.MaxWidth
	}
	if c.Compression.MaxHeight == 0 {
		c.Compression.MaxHeight = p.MaxHeight
	}
	c.Camera.FacingMode = strings.ToLower(strings.TrimSpace(c.Camera.FacingMode))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// YAML renders the configuration with the account key masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.Storage.AccountKey != "" {
		masked.Storage.AccountKey = "********"
	}
	return yaml.Marshal(&masked)
}

// LivenessConfig converts the liveness section for the analyzer.
func (c *Config) LivenessConfig() liveness.Config {
	l := c.Liveness
	return liveness.Config{
		OpennessThreshold:       l.EyeOpennessThreshold,
		ConfirmFrames:           l.ConfirmFrames,
		DiffThreshold:           l.DiffThreshold,
		Cooldown:                l.Cooldown.D(),
		EyeRegion:               liveness.Region{X: l.EyeRegion.X, Y: l.EyeRegion.Y, W: l.EyeRegion.W, H: l.EyeRegion.H},
		RequireFaceConfirmation: l.RequireFaceConfirmation,
	}
}

// CompressionProfile is the effective upload bound.
func (c *Config) CompressionProfile() imaging.Profile {
	return imaging.Profile{Name: c.Profile, MaxWidth: c.Compression.MaxWidth, MaxHeight: c.Compression.MaxHeight}
}

// CaptureArgs describes the ffmpeg capture for the camera section.
func (c *Config) CaptureArgs() utils.CaptureArgs {
	return utils.CaptureArgs{
		Format:    c.Camera.Format,
		Device:    c.Camera.Device,
		Width:     c.Camera.Width,
		Height:    c.Camera.Height,
		FrameRate: c.Camera.FrameRate,
		Mirror:    c.Camera.FacingMode == "user",
	}
}

// WorkerConfig is the landmark worker command line.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{Command: c.Worker.Command, Args: append([]string(nil), c.Worker.Args...)}
}

// AzureConfig is the blob store account.
func (c *Config) AzureConfig() upload.AzureConfig {
	retries := c.Storage.MaxRetries
	if retries == 0 {
		// An explicit max_retries: 0 turns retries off.
		retries = -1
	}
	return upload.AzureConfig{
		AccountName: c.Storage.AccountName,
		AccountKey:  c.Storage.AccountKey,
		Container:   c.Storage.Container,
		ServiceURL:  c.Storage.ServiceURL,
		MaxRetries:  retries,
		TryTimeout:  c.Storage.TryTimeout.D(),
	}
}
