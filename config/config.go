package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// BackendConfig 单个录制/推流后端
type BackendConfig struct {
	ID       string `koanf:"id"`
	URL      string `koanf:"url"`
	Dialect  string `koanf:"dialect"` // legacy | modern
	Password string `koanf:"password"`
}

// AMQPConfig 事件桥配置
type AMQPConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
}

// MQTTConfig PSS 帧 MQTT 中继配置
type MQTTConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Broker   string `koanf:"broker"`
	Topic    string `koanf:"topic"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type Config struct {
	// PSS 接入配置
	UDPListenAddr   string `koanf:"udp_listen_addr"`
	ProtocolVersion string `koanf:"protocol_version"`

	// 赛事范围（由外部系统下发）
	TournamentID    string `koanf:"tournament_id"`
	TournamentDayID string `koanf:"tournament_day_id"`

	// 数据库配置
	DatabaseURL string `koanf:"database_url"`

	// 服务器配置
	Port string `koanf:"port"`

	// 其他配置
	Environment string `koanf:"environment"`

	// 管道配置
	QueueSize           int           `koanf:"queue_size"`
	SubscriberQueueSize int           `koanf:"subscriber_queue_size"`
	RetryCeiling        int           `koanf:"retry_ceiling"`
	RetryBaseBackoff    time.Duration `koanf:"retry_base_backoff"`
	DrainTimeout        time.Duration `koanf:"drain_timeout"`
	OverflowPath        string        `koanf:"overflow_path"`

	// 校验规则文件（为空则使用内置规则集）
	RulesPath string `koanf:"rules_path"`

	// 录制后端列表（仅从配置文件读取）
	Backends []BackendConfig `koanf:"backends"`

	AMQP AMQPConfig `koanf:"amqp"`
	MQTT MQTTConfig `koanf:"mqtt"`
}

func defaults() *Config {
	return &Config{
		UDPListenAddr:       ":6000",
		ProtocolVersion:     "1.0",
		TournamentID:        "default",
		TournamentDayID:     "default",
		DatabaseURL:         "postgres://localhost:5432/pss?sslmode=disable",
		Port:                "8080",
		Environment:         "development",
		QueueSize:           1024,
		SubscriberQueueSize: 64,
		RetryCeiling:        5,
		RetryBaseBackoff:    200 * time.Millisecond,
		DrainTimeout:        10 * time.Second,
		OverflowPath:        "./overflow.jsonl",
	}
}

// Load 按 默认值 -> 配置文件(PSS_CONFIG) -> 环境变量(PSS_) 的顺序加载配置
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("PSS_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// PSS_DATABASE_URL -> database_url, PSS_AMQP__URL -> amqp.url
	envProvider := env.Provider("PSS_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "PSS_"))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := defaults()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.UDPListenAddr == "" {
		return nil, errors.New("udp_listen_addr must not be empty")
	}
	if cfg.QueueSize <= 0 {
		return nil, errors.New("queue_size must be positive")
	}
	return cfg, nil
}
