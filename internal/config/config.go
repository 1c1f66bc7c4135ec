package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Push struct {
		VAPIDPublicKey  string  `yaml:"vapid_public_key"`
		VAPIDPrivateKey string  `yaml:"vapid_private_key"`
		Subject         string  `yaml:"subject"`
		TTLSeconds      int     `yaml:"ttl_seconds"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		Burst           int     `yaml:"burst"`
	} `yaml:"push"`

	Daily struct {
		Timezone             string `yaml:"timezone"`
		Hour                 int    `yaml:"hour"`
		Minute               int    `yaml:"minute"`
		CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
	} `yaml:"daily"`

	Shell struct {
		CacheVersion string `yaml:"cache_version"`
		OriginHost   string `yaml:"origin_host"`
	} `yaml:"shell"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/carehq.db"
	}
	if cfg.Daily.Timezone == "" {
		cfg.Daily.Timezone = "UTC"
	}
	if cfg.Daily.Hour == 0 && cfg.Daily.Minute == 0 {
		cfg.Daily.Hour = 13
	}
	if cfg.Shell.CacheVersion == "" {
		cfg.Shell.CacheVersion = "care-hq-v1"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) DailyCheckInterval() time.Duration {
	if c.Daily.CheckIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Daily.CheckIntervalSeconds) * time.Second
}
