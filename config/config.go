package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Blob      BlobConfig      `yaml:"blob"`
	WebPush   WebPushConfig   `yaml:"webpush"`
	LockerBox LockerBoxConfig `yaml:"lockerbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	TelemetryTopicName string `yaml:"telemetry_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Insecure  bool   `yaml:"insecure"`

	PhotoURLTTLSeconds int `yaml:"photo_url_ttl_seconds"`
}

type WebPushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
	Workers         int    `yaml:"workers"`
}

type LockerBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	LockerCount          int     `yaml:"locker_count"`
	WatchdogDelaySeconds int     `yaml:"watchdog_delay_seconds"`
	WeightThresholdGrams float64 `yaml:"weight_threshold_grams"`
	DefaultWalletCredit  float64 `yaml:"default_wallet_credit"`

	JWTSecret string `yaml:"jwt_secret"`

	// Role mapping by identity (subject or email). Anything not listed
	// resolves to "recipient".
	Roles map[string]string `yaml:"roles"`

	AdminResetPerMinute int `yaml:"admin_reset_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
