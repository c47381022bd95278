// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	MinIO   MinIOConfig   `mapstructure:"minio"`
	Client  ClientConfig  `mapstructure:"client"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// RedisConfig 存储远程 KV 后端的连接配置。
// URL 与 Token 任意一个缺失时，后端视为不可用，退化为进程内存储。
type RedisConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// SessionConfig 存储会话记录的保留策略。
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 消息接入相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储消息归档所用 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	QueueSize       int    `mapstructure:"queue_size"`
}

// ClientConfig 存储终端聊天客户端（消息投递管道）的配置。
type ClientConfig struct {
	RelayURL      string        `mapstructure:"relay_url"`
	BackendURL    string        `mapstructure:"backend_url"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	TypingDelay   time.Duration `mapstructure:"typing_delay"`
	StatePath     string        `mapstructure:"state_path"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	// 没有默认值的键也要注册，AutomaticEnv 才能在 Unmarshal 时覆盖它们
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.token", "")
	v.SetDefault("session.ttl", "1h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "relay-messages")
	v.SetDefault("kafka.group_id", "factcheck-relay-consumer")
	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "relay-archive")
	v.SetDefault("minio.queue_size", 256)
	v.SetDefault("client.relay_url", "http://localhost:8080")
	v.SetDefault("client.backend_url", "")
	v.SetDefault("client.poll_interval", "1s")
	v.SetDefault("client.typing_delay", "18ms")
	v.SetDefault("client.state_path", "./data/client-state.db")
	v.SetDefault("client.stale_after", "1h")
	v.SetDefault("client.sweep_interval", "5m")
}

// Load 读取指定路径的 YAML 配置文件，并叠加 .env 与 RELAY_ 前缀的环境变量。
// 配置文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	// .env 是可选的，不存在时直接忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.Session.TTL <= 0 {
		return Config{}, fmt.Errorf("session.ttl 必须大于 0")
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
