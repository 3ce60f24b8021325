package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransactionCommitted string `mapstructure:"transaction_committed"`
}

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// EngineConfig 记账引擎参数
type EngineConfig struct {
	LockBackend       string        `mapstructure:"lock_backend"`
	LockWait          time.Duration `mapstructure:"lock_wait"`           // 获取账户锁的最长等待
	LockTTL           time.Duration `mapstructure:"lock_ttl"`            // redis 锁过期时间
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval"` // redis 锁重试间隔
	CommitTimeout     time.Duration `mapstructure:"commit_timeout"`      // 单次原子提交的最长耗时
	DefaultCurrency   string        `mapstructure:"default_currency"`
}

type JobsConfig struct {
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize   int           `mapstructure:"outbox_batch_size"`
	MaxRetryCount     int           `mapstructure:"max_retry_count"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatch    int           `mapstructure:"reconcile_batch"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default 返回默认配置，配置文件中缺失的项都以此为准
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			Host:         "127.0.0.1",
			Port:         3306,
			Path:         "ledger.db",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379},
		Kafka: KafkaConfig{
			Brokers: []string{"127.0.0.1:9092"},
			Topic:   KafkaTopicConfig{TransactionCommitted: "ledger.transaction.committed"},
		},
		Engine: EngineConfig{
			LockBackend:       LockBackendLocal,
			LockWait:          3 * time.Second,
			LockTTL:           30 * time.Second,
			LockRetryInterval: 50 * time.Millisecond,
			CommitTimeout:     5 * time.Second,
			DefaultCurrency:   "PLN",
		},
		Jobs: JobsConfig{
			OutboxInterval:    500 * time.Millisecond,
			OutboxBatchSize:   100,
			MaxRetryCount:     5,
			ReconcileInterval: 5 * time.Minute,
			ReconcileBatch:    200,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig 加载配置文件
//
// 优先级：环境变量（LEDGER_ 前缀，可写在 .env 中）> 配置文件 > 默认值。
// 配置文件不存在时只使用默认值和环境变量。
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的取值范围
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	switch c.Engine.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("不支持的锁实现: %q", c.Engine.LockBackend)
	}
	if c.Engine.LockWait <= 0 {
		return errors.New("engine.lock_wait 必须大于0")
	}
	if c.Engine.CommitTimeout <= 0 {
		return errors.New("engine.commit_timeout 必须大于0")
	}
	if c.Engine.LockBackend == LockBackendRedis && c.Engine.LockTTL <= c.Engine.CommitTimeout {
		return errors.New("engine.lock_ttl 必须大于 engine.commit_timeout")
	}
	if len(c.Engine.DefaultCurrency) != 3 {
		return errors.New("engine.default_currency 必须是3位货币代码")
	}
	return nil
}

// setDefaults 把默认配置注册到 viper，使环境变量也能覆盖未出现在文件中的键
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.database", d.Database.Database)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.log_sql", d.Database.LogSQL)

	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic.transaction_committed", d.Kafka.Topic.TransactionCommitted)

	v.SetDefault("engine.lock_backend", d.Engine.LockBackend)
	v.SetDefault("engine.lock_wait", d.Engine.LockWait)
	v.SetDefault("engine.lock_ttl", d.Engine.LockTTL)
	v.SetDefault("engine.lock_retry_interval", d.Engine.LockRetryInterval)
	v.SetDefault("engine.commit_timeout", d.Engine.CommitTimeout)
	v.SetDefault("engine.default_currency", d.Engine.DefaultCurrency)

	v.SetDefault("jobs.outbox_interval", d.Jobs.OutboxInterval)
	v.SetDefault("jobs.outbox_batch_size", d.Jobs.OutboxBatchSize)
	v.SetDefault("jobs.max_retry_count", d.Jobs.MaxRetryCount)
	v.SetDefault("jobs.reconcile_interval", d.Jobs.ReconcileInterval)
	v.SetDefault("jobs.reconcile_batch", d.Jobs.ReconcileBatch)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}
