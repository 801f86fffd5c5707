package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"spinnrd/internal/accel"
)

// Config is the top-level YAML configuration for the spinnrd daemon.
//
// Defaults and validation live here so the rest of the daemon can assume a
// well-formed config. Components never read Config directly; main converts it
// into loopConfig, accel.BackendOptions and frontend settings once at startup.
type Config struct {
	Poll      PollConfig      `yaml:"poll"`
	Backend   BackendConfig   `yaml:"backend"`
	Frontends FrontendsConfig `yaml:"frontends"`
	HTTP      HTTPConfig      `yaml:"http"`
	Status    StatusConfig    `yaml:"status"`
	Errors    ErrorsConfig    `yaml:"errors"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type PollConfig struct {
	IntervalMS   int     `yaml:"interval_ms"`
	HysteresisMS int     `yaml:"hysteresis_ms"`
	DelayMS      int     `yaml:"delay_ms"`
	Sensitivity  float64 `yaml:"sensitivity"`
}

type BackendConfig struct {
	Order []string `yaml:"order"`

	// Path is the IIO device directory; empty means discover via DeviceGlob.
	Path       string `yaml:"path,omitempty"`
	DeviceGlob string `yaml:"device_glob,omitempty"`

	Scale        float64 `yaml:"scale,omitempty"`         // override; 0 means read the scale file
	DefaultScale float64 `yaml:"default_scale,omitempty"` // used when the scale file is unusable
	ScaleFile    string  `yaml:"scale_file,omitempty"`

	DataPrefix  string `yaml:"data_prefix,omitempty"`
	DataSuffix  string `yaml:"data_suffix,omitempty"`
	DescrPrefix string `yaml:"descr_prefix,omitempty"`
	DescrSuffix string `yaml:"descr_suffix,omitempty"`

	FixSign bool `yaml:"fix_sign"`
}

type FrontendsConfig struct {
	Enabled   []string                `yaml:"enabled"`
	File      FileFrontendConfig      `yaml:"file"`
	MQTT      MQTTFrontendConfig      `yaml:"mqtt"`
	Websocket WebsocketFrontendConfig `yaml:"websocket"`
}

type FileFrontendConfig struct {
	Path string `yaml:"path"`
}

type MQTTFrontendConfig struct {
	Broker     string `yaml:"broker"`
	Topic      string `yaml:"topic"`
	StateTopic string `yaml:"state_topic,omitempty"` // JSON snapshot; empty disables
	ClientID   string `yaml:"client_id"`
	QoS        int    `yaml:"qos"`
	Retain     bool   `yaml:"retain"`
}

type WebsocketFrontendConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	// Listen is a host:port; empty disables the HTTP server.
	Listen string `yaml:"listen"`
}

type StatusConfig struct {
	// SocketPath for the status socket; empty disables it.
	SocketPath string `yaml:"socket_path"`
}

type ErrorsConfig struct {
	QuitOnSendError bool `yaml:"quit_on_send_error"`
	QuitOnReadError bool `yaml:"quit_on_read_error"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Poll: PollConfig{
			IntervalMS:   defaultIntervalMS,
			HysteresisMS: defaultHysteresisMS,
			DelayMS:      defaultDelayMS,
			Sensitivity:  defaultSensitivity,
		},
		Backend: BackendConfig{
			Order:       []string{string(accel.KindFsAccel), string(accel.KindFsAccelRaw)},
			DeviceGlob:  accel.DefaultDeviceGlob,
			ScaleFile:   accel.DefaultScaleFile,
			DataPrefix:  accel.DefaultDataPrefix,
			DataSuffix:  accel.DefaultDataSuffix,
			DescrPrefix: accel.DefaultDescrPrefix,
			DescrSuffix: accel.DefaultDescrSuffix,
		},
		Frontends: FrontendsConfig{
			Enabled: []string{string(frontendFile)},
			File:    FileFrontendConfig{Path: defaultSpinFile},
			MQTT: MQTTFrontendConfig{
				Topic:    defaultMQTTTopic,
				ClientID: defaultMQTTClientID,
				Retain:   true,
			},
			Websocket: WebsocketFrontendConfig{Path: defaultWSPath},
		},
		Status: StatusConfig{
			SocketPath: defaultStatusSocket,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var rest yaml.Node
	if err := dec.Decode(&rest); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds flag values that take precedence over the config file.
// A nil pointer means the flag was not set; a non-nil pointer is applied even
// if it holds a zero value.
type FlagOverrides struct {
	IntervalMS   *int
	HysteresisMS *int
	DelayMS      *int
	Sensitivity  *float64

	Backends     *[]string
	DevicePath   *string
	Scale        *float64
	DefaultScale *float64
	FixSign      *bool

	Frontends  *[]string
	SpinFile   *string
	MQTTBroker *string
	MQTTTopic  *string

	HTTPListen   *string
	StatusSocket *string

	QuitOnSendError *bool
	QuitOnReadError *bool

	LogLevel  *string
	LogOutput *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.IntervalMS != nil {
		cfg.Poll.IntervalMS = *o.IntervalMS
	}
	if o.HysteresisMS != nil {
		cfg.Poll.HysteresisMS = *o.HysteresisMS
	}
	if o.DelayMS != nil {
		cfg.Poll.DelayMS = *o.DelayMS
	}
	if o.Sensitivity != nil {
		cfg.Poll.Sensitivity = *o.Sensitivity
	}

	if o.Backends != nil {
		cfg.Backend.Order = *o.Backends
	}
	if o.DevicePath != nil {
		cfg.Backend.Path = *o.DevicePath
	}
	if o.Scale != nil {
		cfg.Backend.Scale = *o.Scale
	}
	if o.DefaultScale != nil {
		cfg.Backend.DefaultScale = *o.DefaultScale
	}
	if o.FixSign != nil {
		cfg.Backend.FixSign = *o.FixSign
	}

	if o.Frontends != nil {
		cfg.Frontends.Enabled = *o.Frontends
	}
	if o.SpinFile != nil {
		cfg.Frontends.File.Path = *o.SpinFile
	}
	if o.MQTTBroker != nil {
		cfg.Frontends.MQTT.Broker = *o.MQTTBroker
	}
	if o.MQTTTopic != nil {
		cfg.Frontends.MQTT.Topic = *o.MQTTTopic
	}

	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}
	if o.StatusSocket != nil {
		cfg.Status.SocketPath = *o.StatusSocket
	}

	if o.QuitOnSendError != nil {
		cfg.Errors.QuitOnSendError = *o.QuitOnSendError
	}
	if o.QuitOnReadError != nil {
		cfg.Errors.QuitOnReadError = *o.QuitOnReadError
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogOutput != nil {
		cfg.Logging.Output = *o.LogOutput
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Poll
	if c.Poll.IntervalMS <= 0 {
		return errors.New("poll.interval_ms must be > 0")
	}
	if c.Poll.HysteresisMS < 0 {
		return errors.New("poll.hysteresis_ms must be >= 0")
	}
	if c.Poll.DelayMS < 0 {
		return errors.New("poll.delay_ms must be >= 0")
	}
	if c.Poll.Sensitivity <= 0 {
		return errors.New("poll.sensitivity must be > 0")
	}

	// Backend
	if len(c.Backend.Order) == 0 {
		return errors.New("backend.order must not be empty")
	}
	for i, name := range c.Backend.Order {
		if _, err := accel.ParseKind(name); err != nil {
			return fmt.Errorf("backend.order[%d]: %w", i, err)
		}
	}
	if c.Backend.Scale < 0 {
		return errors.New("backend.scale must be >= 0")
	}
	if c.Backend.DefaultScale < 0 {
		return errors.New("backend.default_scale must be >= 0")
	}

	// Frontends
	if len(c.Frontends.Enabled) == 0 {
		return errors.New("frontends.enabled must not be empty")
	}
	seen := make(map[frontendKind]bool)
	for i, name := range c.Frontends.Enabled {
		k, err := parseFrontendKind(name)
		if err != nil {
			return fmt.Errorf("frontends.enabled[%d]: %w", i, err)
		}
		if seen[k] {
			return fmt.Errorf("frontends.enabled[%d]: %q listed twice", i, name)
		}
		seen[k] = true
	}
	if seen[frontendFile] && c.Frontends.File.Path == "" {
		return errors.New("frontends.file.path must not be empty")
	}
	if seen[frontendMQTT] {
		if c.Frontends.MQTT.Broker == "" {
			return errors.New("frontends.mqtt.broker must not be empty")
		}
		if c.Frontends.MQTT.Topic == "" {
			return errors.New("frontends.mqtt.topic must not be empty")
		}
		if c.Frontends.MQTT.QoS < 0 || c.Frontends.MQTT.QoS > 2 {
			return errors.New("frontends.mqtt.qos must be 0, 1 or 2")
		}
	}
	if seen[frontendWebsocket] {
		if c.HTTP.Listen == "" {
			return errors.New("frontends.websocket requires http.listen")
		}
		if c.Frontends.Websocket.Path == "" || c.Frontends.Websocket.Path[0] != '/' {
			return errors.New("frontends.websocket.path must start with /")
		}
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func (c *Config) loopConfig() loopConfig {
	return loopConfig{
		Interval:        time.Duration(c.Poll.IntervalMS) * time.Millisecond,
		Delay:           time.Duration(c.Poll.DelayMS) * time.Millisecond,
		QuitOnSendError: c.Errors.QuitOnSendError,
		QuitOnReadError: c.Errors.QuitOnReadError,
	}
}

// backendOptions converts the file config into the accel package options.
func (c *Config) backendOptions() accel.BackendOptions {
	return accel.BackendOptions{
		Fs: accel.FsOptions{
			Path:         ExpandPath(c.Backend.Path),
			DeviceGlob:   c.Backend.DeviceGlob,
			Scale:        c.Backend.Scale,
			DefaultScale: c.Backend.DefaultScale,
			ScaleFile:    c.Backend.ScaleFile,
			DataPrefix:   c.Backend.DataPrefix,
			DataSuffix:   c.Backend.DataSuffix,
			DescrPrefix:  c.Backend.DescrPrefix,
			DescrSuffix:  c.Backend.DescrSuffix,
			FixSign:      c.Backend.FixSign,
		},
		Period:      time.Duration(c.Poll.IntervalMS) * time.Millisecond,
		Hysteresis:  time.Duration(c.Poll.HysteresisMS) * time.Millisecond,
		Sensitivity: c.Poll.Sensitivity,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
