// Package config loads endpoint settings from defaults, an optional YAML
// file, LANPHONE_ environment variables and command-line flags, in rising
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables, e.g. LANPHONE_PORTS_CALL.
const EnvPrefix = "LANPHONE"

// Audio device kinds.
const (
	DeviceNull      = "null"
	DevicePortAudio = "portaudio"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Ports groups the four endpoint ports.
type Ports struct {
	Call         int `mapstructure:"call"`
	VoiceMessage int `mapstructure:"voice_message"`
	Chat         int `mapstructure:"chat"`
	Audio        int `mapstructure:"audio"`
}

// Audio configures the sound device and voice detection.
type Audio struct {
	Device    string  `mapstructure:"device"`
	Threshold float64 `mapstructure:"threshold"`
	Gain      float64 `mapstructure:"gain"`
}

// VoiceMessages configures voice message storage.
type VoiceMessages struct {
	Dir          string        `mapstructure:"dir"`
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
}

// AutoAccept answers inbound requests without asking.
type AutoAccept struct {
	Call bool `mapstructure:"call"`
	Chat bool `mapstructure:"chat"`
}

// Log configures logrus.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `mapstructure:"listen"`
}

// Timeouts overrides protocol timeouts.
type Timeouts struct {
	CallConnect  time.Duration `mapstructure:"call_connect"`
	CallResponse time.Duration `mapstructure:"call_response"`
	Decision     time.Duration `mapstructure:"decision"`
	Header       time.Duration `mapstructure:"header"`
}

// Config is the complete endpoint configuration.
type Config struct {
	LocalAddress   string        `mapstructure:"local_address"`
	BindAddress    string        `mapstructure:"bind_address"`
	Ports          Ports         `mapstructure:"ports"`
	PeerPorts      Ports         `mapstructure:"peer_ports"`
	Audio          Audio         `mapstructure:"audio"`
	VoiceMessages  VoiceMessages `mapstructure:"voice_messages"`
	MaxConnections int64         `mapstructure:"max_connections"`
	AutoAccept     AutoAccept    `mapstructure:"auto_accept"`
	Timeouts       Timeouts      `mapstructure:"timeouts"`
	Log            Log           `mapstructure:"log"`
	Metrics        Metrics       `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("local_address", "")
	v.SetDefault("bind_address", "")
	for _, prefix := range []string{"ports", "peer_ports"} {
		v.SetDefault(prefix+".call", 8081)
		v.SetDefault(prefix+".voice_message", 8182)
		v.SetDefault(prefix+".chat", 8283)
		v.SetDefault(prefix+".audio", 9091)
	}
	v.SetDefault("audio.device", DeviceNull)
	v.SetDefault("audio.threshold", 10.0)
	v.SetDefault("audio.gain", 1.0)
	v.SetDefault("voice_messages.dir", "audio_messages")
	v.SetDefault("voice_messages.stall_timeout", "30s")
	v.SetDefault("max_connections", 64)
	v.SetDefault("auto_accept.call", false)
	v.SetDefault("auto_accept.chat", false)
	v.SetDefault("timeouts.call_connect", "8s")
	v.SetDefault("timeouts.call_response", "20s")
	v.SetDefault("timeouts.decision", "30s")
	v.SetDefault("timeouts.header", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.listen", "")
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"local-address":     "local_address",
	"bind":              "bind_address",
	"call-port":         "ports.call",
	"voice-port":        "ports.voice_message",
	"chat-port":         "ports.chat",
	"audio-port":        "ports.audio",
	"peer-call-port":    "peer_ports.call",
	"peer-voice-port":   "peer_ports.voice_message",
	"peer-chat-port":    "peer_ports.chat",
	"peer-audio-port":   "peer_ports.audio",
	"device":            "audio.device",
	"threshold":         "audio.threshold",
	"gain":              "audio.gain",
	"messages-dir":      "voice_messages.dir",
	"max-connections":   "max_connections",
	"auto-accept-calls": "auto_accept.call",
	"auto-accept-chats": "auto_accept.chat",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"metrics-listen":    "metrics.listen",
}

// NewFlagSet returns the flags Load understands.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "YAML configuration file")
	fs.String("local-address", "", "address announced to peers (auto-detected when empty)")
	fs.String("bind", "", "local IP to bind listeners and audio to")
	fs.Int("call-port", 8081, "call signaling port")
	fs.Int("voice-port", 8182, "voice message port")
	fs.Int("chat-port", 8283, "chat port")
	fs.Int("audio-port", 9091, "UDP audio port")
	fs.Int("peer-call-port", 8081, "call signaling port on peers")
	fs.Int("peer-voice-port", 8182, "voice message port on peers")
	fs.Int("peer-chat-port", 8283, "chat port on peers")
	fs.Int("peer-audio-port", 9091, "UDP audio port on peers")
	fs.String("device", DeviceNull, "audio device: null or portaudio")
	fs.Float64("threshold", 10.0, "voice detection threshold (mean absolute amplitude)")
	fs.Float64("gain", 1.0, "playback gain")
	fs.String("messages-dir", "audio_messages", "directory for received voice messages")
	fs.Int64("max-connections", 64, "concurrent connections per listener")
	fs.Bool("auto-accept-calls", false, "accept inbound calls without asking")
	fs.Bool("auto-accept-chats", false, "accept inbound chats without asking")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("metrics-listen", "", "address for the Prometheus endpoint")
	return fs
}

// Load parses args and builds a validated Config.
//
// Parameters:
//   - args: Command-line arguments without the program name
//
// Returns:
//   - *Config: The merged configuration
//   - error: Parse or validation failure
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("lanphone")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags builds a Config from an already parsed flag set created by NewFlagSet.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flag, key := range flagKeys {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "FromFlags",
			"file":     path,
		}).Info("Loaded configuration file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	ports := map[string]int{
		"ports.call":               c.Ports.Call,
		"ports.voice_message":      c.Ports.VoiceMessage,
		"ports.chat":               c.Ports.Chat,
		"ports.audio":              c.Ports.Audio,
		"peer_ports.call":          c.PeerPorts.Call,
		"peer_ports.voice_message": c.PeerPorts.VoiceMessage,
		"peer_ports.chat":          c.PeerPorts.Chat,
		"peer_ports.audio":         c.PeerPorts.Audio,
	}
	for key, p := range ports {
		if p < 0 || p > 65535 {
			return fmt.Errorf("%w: %s=%d out of range", ErrInvalidConfig, key, p)
		}
	}
	tcp := []int{c.Ports.Call, c.Ports.VoiceMessage, c.Ports.Chat}
	for i := range tcp {
		for j := i + 1; j < len(tcp); j++ {
			if tcp[i] != 0 && tcp[i] == tcp[j] {
				return fmt.Errorf("%w: listener port %d used twice", ErrInvalidConfig, tcp[i])
			}
		}
	}

	switch c.Audio.Device {
	case DeviceNull, DevicePortAudio:
	default:
		return fmt.Errorf("%w: audio.device %q", ErrInvalidConfig, c.Audio.Device)
	}
	if c.Audio.Threshold < 0 {
		return fmt.Errorf("%w: audio.threshold must not be negative", ErrInvalidConfig)
	}
	if c.Audio.Gain < 0 || c.Audio.Gain > 4 {
		return fmt.Errorf("%w: audio.gain %.2f outside [0, 4]", ErrInvalidConfig, c.Audio.Gain)
	}
	if c.VoiceMessages.Dir == "" {
		return fmt.Errorf("%w: voice_messages.dir is empty", ErrInvalidConfig)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: max_connections must be positive", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// ConfigureLogging applies the log settings to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
