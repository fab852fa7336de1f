package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from yaml.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// Host left empty falls back to the in-process lock, for single-node
	// deployments and local development.
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentEvents string `mapstructure:"payment_events"`
}

type BusinessConfig struct {
	LockTTLSeconds       int `mapstructure:"lock_ttl_seconds"`
	LockRetryMillis      int `mapstructure:"lock_retry_millis"`
	LockMaxRetries       int `mapstructure:"lock_max_retries"`
	MaxRetryCount        int `mapstructure:"max_retry_count"` // outbox delivery attempts
	AuditIntervalSeconds int `mapstructure:"audit_interval_seconds"`
	AuditLookbackMinutes int `mapstructure:"audit_lookback_minutes"`
}

// LoadConfig reads and parses the yaml config file. Missing or broken config
// is fatal: the service cannot run without it.
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("read config file: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("parse config file: %v", err)
	}

	return config
}
