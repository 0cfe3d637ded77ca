package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Media struct {
	// Source is "silence" or "file".
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
	Loop   bool   `mapstructure:"loop"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	SignalingURL string        `mapstructure:"signaling_url"`
	Token        string        `mapstructure:"token"`
	UserID       string        `mapstructure:"user_id"`
	AutoJoinRoom string        `mapstructure:"auto_join_room"`
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinWindow   time.Duration `mapstructure:"join_window"`

	GracePeriod   time.Duration `mapstructure:"grace_period"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
	// ICEServersJSON replaces ICEServers when set. RTCIceServer JSON shape.
	ICEServersJSON string `mapstructure:"ice_servers_json"`
	UDPPortMin uint16      `mapstructure:"udp_port_min"`
	UDPPortMax uint16      `mapstructure:"udp_port_max"`

	Media Media `mapstructure:"media"`
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "release", "debug", "test":
	default:
		errs = append(errs, fmt.Errorf("mode %q: want release, debug or test", c.Mode))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if c.GracePeriod < 0 || c.StatsInterval < 0 || c.GatherTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.UDPPortMin > c.UDPPortMax {
		errs = append(errs, fmt.Errorf("udp port range %d-%d is inverted", c.UDPPortMin, c.UDPPortMax))
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice_servers[%d]: missing urls", i))
		}
	}
	switch c.Media.Source {
	case "silence":
	case "file":
		if c.Media.File == "" {
			errs = append(errs, errors.New("media.file is required for the file source"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.source %q: want silence or file", c.Media.Source))
	}
	return errors.Join(errs...)
}

// Loader keeps the viper instance around so the file can be watched.
type Loader struct {
	v *viper.Viper

	mu  sync.Mutex
	cur *Config
}

// Path is config/config.<CONFIG_ENV>.yaml, dev by default.
func Path() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

func NewLoader(fileName string) (*Loader, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("signaling_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("auto_join_room", "")
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_window", "10s")
	v.SetDefault("grace_period", "3s")
	v.SetDefault("stats_interval", "1s")
	v.SetDefault("gather_timeout", "5s")
	v.SetDefault("ice_servers_json", "")
	v.SetDefault("udp_port_min", 0)
	v.SetDefault("udp_port_max", 0)
	v.SetDefault("media.source", "silence")
	v.SetDefault("media.file", "")
	v.SetDefault("media.loop", true)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cur = cfg
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("signaling", cfg.SignalingURL).
		Str("media", cfg.Media.Source).
		Msg("config ready")
	return l, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i := range cfg.ICEServers {
		cfg.ICEServers[i].URLs = trimAll(cfg.ICEServers[i].URLs)
	}
	return &cfg, nil
}

func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// Watch reloads the file on change and hands every config that decodes to fn.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload failed")
			return
		}
		l.mu.Lock()
		l.cur = cfg
		l.mu.Unlock()
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
