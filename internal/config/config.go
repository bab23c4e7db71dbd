package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. PRINTWATCH_SERVER_PORT
const EnvPrefix = "PRINTWATCH"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Store    StoreConfig    `mapstructure:"store"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

type ModelConfig struct {
	Path                string  `mapstructure:"path" validate:"required"`
	Labels              string  `mapstructure:"labels"` // YAML label file, empty for the built-in set
	Backend             string  `mapstructure:"backend" validate:"oneof=http grpc"`
	Endpoint            string  `mapstructure:"endpoint" validate:"required"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"gt=0,lte=1"`
}

type CameraConfig struct {
	Index         int           `mapstructure:"index" validate:"gte=0"`
	DevicePattern string        `mapstructure:"device_pattern"`
	Source        string        `mapstructure:"source"` // RTSP/HTTP URL, overrides the device
	Width         int           `mapstructure:"width" validate:"gt=0"`
	Height        int           `mapstructure:"height" validate:"gt=0"`
	FPS           int           `mapstructure:"fps" validate:"gt=0"`
	Quality       int           `mapstructure:"quality" validate:"min=1,max=100"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

type MonitorConfig struct {
	MaxReadFailures int           `mapstructure:"max_read_failures" validate:"gt=0"`
	FrameInterval   time.Duration `mapstructure:"frame_interval" validate:"gte=0"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
}

type AuthConfig struct {
	Required  bool          `mapstructure:"required"`
	JWTSecret string        `mapstructure:"jwt_secret"` // Random per process when empty
	JWTExpiry time.Duration `mapstructure:"jwt_expiry" validate:"gt=0"`
}

type NotifyConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig disables mail delivery when Host is empty
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type TelegramConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BotToken        string `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	ChatID          string `mapstructure:"chat_id" validate:"required_if=Enabled true"`
	CooldownSeconds int    `mapstructure:"cooldown_seconds" validate:"gte=0"`
	Commands        bool   `mapstructure:"commands"` // Answer /status, /jobs, /job and /snapshot
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// aliases are short environment names accepted next to the prefixed ones
var aliases = map[string]string{
	"model.path":                 "MODEL_PATH",
	"model.confidence_threshold": "CONF_THRESHOLD",
	"camera.index":               "CAMERA_INDEX",
	"telegram.bot_token":         "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":           "TELEGRAM_CHAT_ID",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	v.SetDefault("model.path", "models/printwatch.pt")
	v.SetDefault("model.labels", "")
	v.SetDefault("model.backend", "http")
	v.SetDefault("model.endpoint", "http://localhost:8000")
	v.SetDefault("model.confidence_threshold", 0.6)

	v.SetDefault("camera.index", 0)
	v.SetDefault("camera.device_pattern", "/dev/video%d")
	v.SetDefault("camera.source", "")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.fps", 10)
	v.SetDefault("camera.quality", 85)
	v.SetDefault("camera.read_timeout", "2s")

	v.SetDefault("monitor.max_read_failures", 10)
	v.SetDefault("monitor.frame_interval", "0s")
	v.SetDefault("monitor.retry_delay", "100ms")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "printwatch.db")

	v.SetDefault("auth.required", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", "24h")

	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "printwatch@localhost")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.cooldown_seconds", 30)
	v.SetDefault("telegram.commands", true)
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing precedence. With an empty path, config.yaml is
// looked up in . and ./config and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range aliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
