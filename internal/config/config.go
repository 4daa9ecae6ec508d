// Package config loads service settings from flags, environment, an optional YAML file
// and a .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"collectroute/internal/geofence"
)

const EnvPrefix = "COLLECTROUTE"

type Config struct {
	HTTP      HTTP            `mapstructure:"http"`
	DB        DB              `mapstructure:"db"`
	Redis     Redis           `mapstructure:"redis"`
	Log       Log             `mapstructure:"log"`
	Geofence  geofence.Config `mapstructure:"geofence"`
	Webhook   Webhook         `mapstructure:"webhook"`
	Rate      Rate            `mapstructure:"rate"`
	Auth      Auth            `mapstructure:"auth"`
	Lifecycle Lifecycle       `mapstructure:"lifecycle"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type DB struct {
	Driver  string `mapstructure:"driver"` // memory, postgres or sqlite
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

type Redis struct {
	URL string `mapstructure:"url"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"`
}

type Webhook struct {
	URL         string `mapstructure:"url"`
	Secret      string `mapstructure:"secret"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type Rate struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type Auth struct {
	Mode   string `mapstructure:"mode"`
	Secret string `mapstructure:"secret"`
}

type Lifecycle struct {
	AutoStart bool `mapstructure:"auto_start"`
}

// SetDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	g := geofence.DefaultConfig()
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.url", "")
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.format", "text")
	v.SetDefault("geofence.near_m", g.NearMeters)
	v.SetDefault("geofence.approach_m", g.ApproachMeters)
	v.SetDefault("geofence.reset_m", g.ResetMeters)
	v.SetDefault("geofence.max_accuracy_m", g.MaxAccuracyMeters)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.max_attempts", 10)
	v.SetDefault("rate.rps", 0)
	v.SetDefault("rate.burst", 0)
	v.SetDefault("auth.mode", "dev")
	v.SetDefault("auth.secret", "")
	v.SetDefault("lifecycle.auto_start", false)
}

// Bind wires env lookup onto v. Call before reading any key.
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// LoadDotEnv loads .env files when present. Existing environment variables win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			logrus.WithError(err).WithField("file", f).Warn("could not read env file")
		}
	}
}

// Load reads the optional config file, applies legacy variables and validates.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	legacy(v)

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	return c, c.Validate()
}

// legacy honours the unprefixed PORT, DATABASE_URL and REDIS_URL variables when the
// prefixed keys are unset.
func legacy(v *viper.Viper) {
	if p := os.Getenv("PORT"); p != "" && os.Getenv(EnvPrefix+"_HTTP_ADDR") == "" && !v.InConfig("http.addr") {
		v.Set("http.addr", ":"+strings.TrimPrefix(p, ":"))
	}
	if u := os.Getenv("DATABASE_URL"); u != "" && v.GetString("db.url") == "" {
		v.Set("db.url", u)
		if v.GetString("db.driver") == "memory" {
			v.Set("db.driver", "postgres")
		}
	}
	if u := os.Getenv("REDIS_URL"); u != "" && v.GetString("redis.url") == "" {
		v.Set("redis.url", u)
	}
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.DB.URL == "" {
			return fmt.Errorf("db.url is required for driver %s", c.DB.Driver)
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	if err := c.Geofence.Validate(); err != nil {
		return err
	}
	if c.Rate.RPS < 0 || c.Rate.Burst < 0 {
		return errors.New("rate.rps and rate.burst must not be negative")
	}
	return nil
}
