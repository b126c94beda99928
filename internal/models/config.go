package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration parses yaml values like "30s" or "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	ServerAddr  string `yaml:"server_addr"`
	DatabaseURL string `yaml:"database_url"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaGroupID string   `yaml:"kafka_group_id"`

	S3Endpoint        string `yaml:"s3_endpoint"`
	S3Region          string `yaml:"s3_region"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	PublicBaseURL     string `yaml:"public_base_url"`

	MaxUploadMB int64 `yaml:"max_upload_mb"`

	// Retention of terminal status records. TTL of zero keeps them forever.
	RetentionTTL      Duration `yaml:"retention_ttl"`
	RetentionInterval Duration `yaml:"retention_interval"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxUploadMB == 0 {
		cfg.MaxUploadMB = 50
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "auto"
	}
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "image-pipeline"
	}
	if cfg.RetentionInterval == 0 {
		cfg.RetentionInterval = Duration(time.Hour)
	}
	return &cfg, nil
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB * 1024 * 1024
}
