// Package config loads the service configuration from ./config/config.yaml,
// PLANT_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PLANT"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Analyze AnalyzeConfig `mapstructure:"analyze"`
	Model   ModelConfig   `mapstructure:"model"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes caps the request body. Zero means no limit.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AnalyzeConfig struct {
	FormField  string `mapstructure:"form_field"`
	Guarded    bool   `mapstructure:"guarded"`
	AutoOrient bool   `mapstructure:"auto_orient"`
}

// ModelConfig selects the predictor. An empty Path keeps the demo predictor.
type ModelConfig struct {
	Path          string `mapstructure:"path"`
	MetadataPath  string `mapstructure:"metadata_path"`
	SharedLibrary string `mapstructure:"shared_library"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_bytes", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("analyze.form_field", "file")
	v.SetDefault("analyze.guarded", true)
	v.SetDefault("analyze.auto_orient", false)

	v.SetDefault("model.path", "")
	v.SetDefault("model.metadata_path", "")
	v.SetDefault("model.shared_library", "")

	v.SetDefault("cors.allow_origins", []string{"*"})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "plant-analysis")
}

// LoadConfig builds a viper instance over the given search paths. A missing
// config file is not an error; defaults and environment still apply.
func LoadConfig(paths ...string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is what most hosting platforms set.
	if err := v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("bind PORT: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if c.Analyze.FormField == "" {
		c.Analyze.FormField = "file"
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return nil, fmt.Errorf("server.mode %q: want debug, release or test", c.Server.Mode)
	}
	return &c, nil
}

// Load reads .env (if any) and returns the parsed configuration.
func Load(paths ...string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v, err := LoadConfig(paths...)
	if err != nil {
		return nil, err
	}
	return ParseConfig(v)
}
