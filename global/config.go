package global

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"telechat/tools/errs"
)

type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
	MaxRetry    int    `mapstructure:"max_retry"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// GatewayConfig holds the connection registry policy. TTLs are policy, not
// protocol: an idle socket past its TTL is closed and unregistered.
type GatewayConfig struct {
	AuthTTL    time.Duration `mapstructure:"auth_ttl"`
	SweepEvery time.Duration `mapstructure:"sweep_every"`
	PingEvery  time.Duration `mapstructure:"ping_every"`
}

type PageConfig struct {
	ConversationLimit int64 `mapstructure:"conversation_limit"`
	MessageLimit      int64 `mapstructure:"message_limit"`
}

type Config struct {
	HTTPAddr string        `mapstructure:"http_addr"`
	NodeID   int64         `mapstructure:"node_id"`
	Mongo    MongoConfig   `mapstructure:"mongo"`
	Redis    RedisConfig   `mapstructure:"redis"`
	JWT      JWTConfig     `mapstructure:"jwt"`
	Gateway  GatewayConfig `mapstructure:"gateway"`
	Page     PageConfig    `mapstructure:"page"`
}

// Load reads telechat.yaml (optional) with TELECHAT_* env overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("telechat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/telechat")

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("node_id", 1)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "telechat")
	v.SetDefault("mongo.max_pool_size", 20)
	v.SetDefault("mongo.max_retry", 3)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.ttl", 2*time.Hour)
	v.SetDefault("gateway.auth_ttl", 2*time.Hour)
	v.SetDefault("gateway.sweep_every", 10*time.Second)
	v.SetDefault("gateway.ping_every", 30*time.Second)
	v.SetDefault("page.conversation_limit", 10)
	v.SetDefault("page.message_limit", 20)

	v.SetEnvPrefix("TELECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// jwt.secret has no default, so AutomaticEnv alone never sees it; bind it
	// explicitly or env-only deployments cannot start
	_ = v.BindEnv("jwt.secret")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errs.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(err, "unmarshal config")
	}
	if cfg.JWT.Secret == "" {
		return nil, errs.New("jwt.secret is required (set TELECHAT_JWT_SECRET)")
	}
	return &cfg, nil
}
