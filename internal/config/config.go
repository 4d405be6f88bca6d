package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type MediaConfig struct {
	// Backend is "kurento" or "pion".
	Backend       string        `mapstructure:"backend"`
	WSURI         string        `mapstructure:"ws_uri"`
	RecordsURI    string        `mapstructure:"records_uri"`
	RecordExt     string        `mapstructure:"record_ext"`
	RecordProfile string        `mapstructure:"record_profile"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	ICEServers    []string      `mapstructure:"ice_servers"`
}

type SignalConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	TLS    TLSConfig    `mapstructure:"tls"`
	Media  MediaConfig  `mapstructure:"media"`
	Signal SignalConfig `mapstructure:"signal"`
}

const (
	BackendKurento = "kurento"
	BackendPion    = "pion"
)

// Flags registers the command line overrides. The returned set is parsed by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("one2many", pflag.ContinueOnError)
	fs.String("config-env", "", "config file suffix, config/config.<env>.yaml")
	fs.Int("port", 0, "HTTP port")
	fs.String("ws-uri", "", "media server websocket URI")
	fs.String("backend", "", "media backend: kurento or pion")
	fs.String("log-level", "", "log level")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8443)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetDefault("media.backend", BackendKurento)
	v.SetDefault("media.ws_uri", "ws://localhost:8888/kurento")
	v.SetDefault("media.records_uri", "file:///tmp/records")
	v.SetDefault("media.record_ext", "")
	v.SetDefault("media.record_profile", "WEBM_AUDIO_ONLY")
	v.SetDefault("media.call_timeout", "30s")
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.rate_limit", 10)
	v.SetDefault("signal.rate_interval", "10s")
}

// Load reads config/config.<env>.yaml, then ONE2MANY_* variables, then flags.
// A missing file is not an error. onChange, when set, is called with the
// re-read config every time the file changes.
func Load(args []string, onChange func(*Config)) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ONE2MANY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for key, flag := range map[string]string{
		"port":          "port",
		"media.ws_uri":  "ws-uri",
		"media.backend": "backend",
		"log_level":     "log-level",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	env, _ := fs.GetString("config-env")
	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	loaded := true
	if err := v.ReadInConfig(); err != nil {
		loaded = false
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("backend", cfg.Media.Backend).Str("static", cfg.StaticPath).Msg("config")

	if loaded && onChange != nil {
		v.OnConfigChange(func(e fsnotify.Event) {
			next, err := decode(v)
			if err != nil {
				log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload")
				return
			}
			log.Info().Str("module", "config").Str("file", e.Name).Msg("config changed")
			onChange(next)
		})
		v.WatchConfig()
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Media.RecordExt == "" {
		cfg.Media.RecordExt = DefaultRecordExt(cfg.Media.Backend)
	}
	switch cfg.Media.Backend {
	case BackendKurento, BackendPion:
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Media.Backend)
	}
	return &cfg, nil
}

// DefaultRecordExt is the container the backend records into.
func DefaultRecordExt(backend string) string {
	if backend == BackendPion {
		return ".ogg"
	}
	return ".webm"
}
