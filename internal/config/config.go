package config

import (
	"errors"
	"fmt"
	"time"

	"block-auction/internal/domain"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Feed     ServerConfig   `mapstructure:"feed"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Leader   LeaderConfig   `mapstructure:"leader"`
	Instance InstanceConfig `mapstructure:"instance"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig selects the durable auction store: "mysql" or "sqlite".
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type LeaderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

// ChainConfig drives the block clock that supplies auction steps.
type ChainConfig struct {
	BlockInterval  string `mapstructure:"block_interval"`
	FinalizePoll   string `mapstructure:"finalize_poll"`
	AdvanceBlocks  bool   `mapstructure:"advance_blocks"`
	BlockHeightKey string `mapstructure:"block_height_key"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("feed.port", 8081)
	v.SetDefault("feed.host", "0.0.0.0")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("storage.sqlite_path", "data/auction.db")
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("instance.id", "auction-service-1")
	v.SetDefault("chain.block_interval", "@every 2s")
	v.SetDefault("chain.finalize_poll", "@every 5s")
	v.SetDefault("chain.advance_blocks", true)
	v.SetDefault("chain.block_height_key", "chain:block_height")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.host", "SERVER_HOST")
	v.BindEnv("feed.port", "FEED_PORT")
	v.BindEnv("feed.host", "FEED_HOST")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("mysql.dsn", "MYSQL_DSN")
	v.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	v.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	v.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.sqlite_path", "SQLITE_PATH")
	v.BindEnv("leader.ttl", "LEADER_TTL")
	v.BindEnv("instance.id", "INSTANCE_ID")
	v.BindEnv("chain.block_interval", "CHAIN_BLOCK_INTERVAL")
	v.BindEnv("chain.finalize_poll", "CHAIN_FINALIZE_POLL")
	v.BindEnv("chain.advance_blocks", "CHAIN_ADVANCE_BLOCKS")
	v.BindEnv("chain.block_height_key", "CHAIN_BLOCK_HEIGHT_KEY")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.file", "LOG_FILE")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/block-auction/")

	v.AutomaticEnv()
	bindEnv(v)

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Err: fmt.Errorf("out of range: %d", c.Server.Port)}
	}
	switch c.Storage.Driver {
	case "mysql":
		if c.MySQL.DSN == "" {
			return &domain.ConfigError{Field: "mysql.dsn", Err: domain.ErrMissingValue}
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return &domain.ConfigError{Field: "storage.sqlite_path", Err: domain.ErrMissingValue}
		}
	default:
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", c.Storage.Driver)}
	}
	if c.Leader.TTL < 3*time.Second {
		return &domain.ConfigError{Field: "leader.ttl", Err: fmt.Errorf("must be at least 3s, got %s", c.Leader.TTL)}
	}
	if c.Instance.ID == "" {
		return &domain.ConfigError{Field: "instance.id", Err: domain.ErrMissingValue}
	}
	if c.Chain.BlockHeightKey == "" {
		return &domain.ConfigError{Field: "chain.block_height_key", Err: domain.ErrMissingValue}
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, Storage: %s, Instance: %s, Block interval: %s",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.Storage.Driver,
		c.Instance.ID,
		c.Chain.BlockInterval,
	)
}
