package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type RateLimit struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type Media struct {
	NumWorkers                      int                         `mapstructure:"num_workers"`
	LogLevel                        string                      `mapstructure:"log_level"`
	LogTags                         []string                    `mapstructure:"log_tags"`
	RTCMinPort                      uint16                      `mapstructure:"rtc_min_port"`
	RTCMaxPort                      uint16                      `mapstructure:"rtc_max_port"`
	ListenIPs                       []core.ListenIP             `mapstructure:"listen_ips"`
	MaxIncomingBitrate              uint32                      `mapstructure:"max_incoming_bitrate"`
	InitialAvailableOutgoingBitrate uint32                      `mapstructure:"initial_available_outgoing_bitrate"`
	EnableUDP                       bool                        `mapstructure:"enable_udp"`
	EnableTCP                       bool                        `mapstructure:"enable_tcp"`
	DefaultVideoCodec               string                      `mapstructure:"default_video_codec"`
	Codecs                          []domain.RtpCodecCapability `mapstructure:"codecs"`
	DeathGrace                      time.Duration               `mapstructure:"death_grace"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	CertFile   string        `mapstructure:"cert_file"`
	KeyFile    string        `mapstructure:"key_file"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	RateLimit  RateLimit     `mapstructure:"rate_limit"`
	Media      Media         `mapstructure:"media"`
}

// Flags declares the command-line overrides Load understands.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.Int("port", 3000, "listen port")
	fs.Int("workers", runtime.NumCPU(), "number of media workers")
	fs.String("log-level", "info", "log level")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 3000)
	v.SetDefault("static_path", "./public/dist")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "3s")
	v.SetDefault("cert_file", "")
	v.SetDefault("key_file", "")
	v.SetDefault("secret", "meet-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_limit.rate", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("media.num_workers", runtime.NumCPU())
	v.SetDefault("media.log_level", "warn")
	v.SetDefault("media.log_tags", []string{"info", "ice", "dtls", "rtp", "srtp", "rtcp"})
	v.SetDefault("media.rtc_min_port", 40000)
	v.SetDefault("media.rtc_max_port", 49999)
	v.SetDefault("media.listen_ips", []map[string]any{{"ip": "0.0.0.0", "announced_ip": ""}})
	v.SetDefault("media.max_incoming_bitrate", 1500000)
	v.SetDefault("media.initial_available_outgoing_bitrate", 100000)
	v.SetDefault("media.enable_udp", true)
	v.SetDefault("media.enable_tcp", false)
	v.SetDefault("media.default_video_codec", "VP8")
	v.SetDefault("media.death_grace", "2s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (or --config), then MEET_* env, then flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName := ""
	if fs != nil {
		fileName, _ = fs.GetString("config")
		for key, flag := range map[string]string{
			"port":              "port",
			"media.num_workers": "workers",
			"log_level":         "log-level",
		} {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !v.IsSet("media.codecs") {
		cfg.Media.Codecs = domain.DefaultMediaCodecs()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Int("workers", cfg.Media.NumWorkers).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Media.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("media.num_workers must be >= 1, got %d", c.Media.NumWorkers))
	}
	if c.Media.RTCMinPort > c.Media.RTCMaxPort {
		errs = append(errs, fmt.Errorf("media.rtc_min_port %d > rtc_max_port %d", c.Media.RTCMinPort, c.Media.RTCMaxPort))
	}
	if len(c.Media.Codecs) == 0 {
		errs = append(errs, errors.New("media.codecs is empty"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("cert_file and key_file must be set together"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func (c *Config) TLS() bool { return c.CertFile != "" && c.KeyFile != "" }

func (c *Config) WorkerSettings() core.WorkerSettings {
	return core.WorkerSettings{
		LogLevel:   c.Media.LogLevel,
		LogTags:    c.Media.LogTags,
		RTCMinPort: c.Media.RTCMinPort,
		RTCMaxPort: c.Media.RTCMaxPort,
	}
}

func (c *Config) TransportOptions() core.WebRtcTransportOptions {
	return core.WebRtcTransportOptions{
		ListenIPs:                       c.Media.ListenIPs,
		EnableUDP:                       c.Media.EnableUDP,
		EnableTCP:                       c.Media.EnableTCP,
		MaxIncomingBitrate:              c.Media.MaxIncomingBitrate,
		InitialAvailableOutgoingBitrate: c.Media.InitialAvailableOutgoingBitrate,
	}
}
