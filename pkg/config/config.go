package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"app"`

	DataSources struct {
		// 行情数据源: yahoo(免费) 或 jquants(授权API)
		Source string `yaml:"source"`

		Yahoo struct {
			BaseURL string        `yaml:"base_url"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"yahoo"`

		JQuants struct {
			BaseURL      string        `yaml:"base_url"`
			Email        string        `yaml:"email"`
			Password     string        `yaml:"password"`
			RefreshToken string        `yaml:"refresh_token"`
			Timeout      time.Duration `yaml:"timeout"`
			RatePerSec   float64       `yaml:"rate_per_sec"`
		} `yaml:"jquants"`
	} `yaml:"data_sources"`

	Database struct {
		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"database"`

	NATS struct {
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
	} `yaml:"nats"`

	API struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"api"`

	Batch struct {
		StalenessDays  int           `yaml:"staleness_days"`
		InterCallDelay time.Duration `yaml:"inter_call_delay"`
		ProgressEvery  int           `yaml:"progress_every"`
	} `yaml:"batch"`
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 环境变量覆盖
	overrideFromEnv(&config)

	// 默认值补齐
	applyDefaults(&config)

	return &config, nil
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config/config.yaml"
}

// overrideFromEnv 使用环境变量覆盖配置
func overrideFromEnv(config *Config) {
	// 应用名称
	if env := os.Getenv("APP_NAME"); env != "" {
		config.App.Name = env
	}

	// 环境
	if env := os.Getenv("APP_ENV"); env != "" {
		config.App.Env = env
	}

	// J-Quants认证信息
	// 配置文件未提供时从环境变量读取，三者均缺失不影响启动，
	// 但首次需要认证的请求会失败
	if env := os.Getenv("JQUANTS_EMAIL"); env != "" {
		config.DataSources.JQuants.Email = env
	}
	if env := os.Getenv("JQUANTS_PASSWORD"); env != "" {
		config.DataSources.JQuants.Password = env
	}
	if env := os.Getenv("JQUANTS_REFRESH_TOKEN"); env != "" {
		config.DataSources.JQuants.RefreshToken = env
	}
	if env := os.Getenv("DATA_SOURCE"); env != "" {
		config.DataSources.Source = env
	}

	// 数据库配置
	if env := os.Getenv("DB_HOST"); env != "" {
		config.Database.Postgres.Host = env
	}
	if env := os.Getenv("DB_PORT"); env != "" {
		var port int
		fmt.Sscanf(env, "%d", &port)
		if port > 0 {
			config.Database.Postgres.Port = port
		}
	}
	if env := os.Getenv("DB_USER"); env != "" {
		config.Database.Postgres.User = env
	}
	if env := os.Getenv("DB_PASSWORD"); env != "" {
		config.Database.Postgres.Password = env
	}
	if env := os.Getenv("DB_NAME"); env != "" {
		config.Database.Postgres.DBName = env
	}

	// NATS配置
	if env := os.Getenv("NATS_URL"); env != "" {
		config.NATS.URL = env
	}
	if env := os.Getenv("NATS_CLIENT_ID"); env != "" {
		config.NATS.ClientID = env
	}

	// API端口
	if env := os.Getenv("PORT"); env != "" {
		config.API.Port = env
	}
}

// applyDefaults 补齐未设置的默认值
func applyDefaults(config *Config) {
	if config.DataSources.Source == "" {
		config.DataSources.Source = "yahoo"
	}
	if config.DataSources.Yahoo.BaseURL == "" {
		config.DataSources.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	}
	if config.DataSources.Yahoo.Timeout == 0 {
		config.DataSources.Yahoo.Timeout = 30 * time.Second
	}
	if config.DataSources.JQuants.BaseURL == "" {
		config.DataSources.JQuants.BaseURL = "https://api.jquants.com/v1"
	}
	if config.DataSources.JQuants.Timeout == 0 {
		config.DataSources.JQuants.Timeout = 30 * time.Second
	}
	if config.DataSources.JQuants.RatePerSec == 0 {
		config.DataSources.JQuants.RatePerSec = 1
	}
	if config.API.Port == "" {
		config.API.Port = "8080"
	}
	if config.Batch.StalenessDays == 0 {
		config.Batch.StalenessDays = 1
	}
	if config.Batch.InterCallDelay == 0 {
		config.Batch.InterCallDelay = 2 * time.Second
	}
	if config.Batch.ProgressEvery == 0 {
		config.Batch.ProgressEvery = 5
	}
}
