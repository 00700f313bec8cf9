package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 存储类型
const (
	DatabaseMemory   = "memory"
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
	DatabaseMySQL    = "mysql"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host            string        // 监听地址，默认 "0.0.0.0"
	Port            int           // 监听端口，默认 8080
	ReadTimeout     time.Duration // 默认 30s
	WriteTimeout    time.Duration // 默认 60s，即时发送会在请求内等待外发通道
	ShutdownTimeout time.Duration // 优雅关闭等待时间，默认 15s
}

// Addr 返回 host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 控制台格式输出
	File        string // 日志文件路径，留空只输出到标准输出
	MaxSize     int    // 单个文件大小上限（MB）
	MaxBackups  int
	MaxAge      int // 天
	Compress    bool
}

// DatabaseConfig 定义关系存储配置
type DatabaseConfig struct {
	Type            string // memory | sqlite | postgres | mysql
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig 定义 Redis 配置；启用后批量派发的认领使用 Redis 锁
type RedisConfig struct {
	Enabled  bool
	Address  string // 格式 "host:port"
	Password string
	DB       int
}

// StorageConfig 附件文件存储
type StorageConfig struct {
	Path string // 附件保存目录
}

// UploadConfig 上传限制
type UploadConfig struct {
	MaxSize int64 // 单个附件大小上限（字节）
}

// TransportConfig 外发通道配置
type TransportConfig struct {
	Driver             string // smtp | ses | log
	Host               string
	Port               int
	Username           string
	Password           string
	TLS                string // none | starttls | tls
	InsecureSkipVerify bool
	LocalName          string
	Timeout            time.Duration

	Region          string // SES 区域
	AccessKeyID     string
	SecretAccessKey string

	MaxConcurrent int64   // 同时进行的外发调用上限
	RateLimit     float64 // 每秒外发次数，0 表示不限
	Burst         int
}

// DispatchConfig 批量派发配置
type DispatchConfig struct {
	ClaimTTL time.Duration // 单封邮件认领的有效期
}

// SinkConfig 开发用 SMTP 收信端，用于本地验证外发
type SinkConfig struct {
	Enabled     bool
	Address     string
	Domain      string
	Username    string
	Password    string
	MaxMessages int
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// Config 是系统配置的根结构体
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Transport TransportConfig
	Dispatch  DispatchConfig
	Sink      SinkConfig
	CORS      CORSConfig
}

// Load 从环境变量和 .env 文件加载配置
//
// 优先级从高到低：系统环境变量、.env 文件、默认值。
// 环境变量前缀 MAILRELAY_，例如 MAILRELAY_SERVER_PORT、MAILRELAY_TRANSPORT_HOST。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("mailrelay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",
		"database.conn_max_lifetime",
		"transport.timeout",
		"dispatch.claim_ttl",
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     durations["server.read_timeout"],
			WriteTimeout:    durations["server.write_timeout"],
			ShutdownTimeout: durations["server.shutdown_timeout"],
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database.type")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durations["database.conn_max_lifetime"],
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			Path: v.GetString("storage.path"),
		},
		Upload: UploadConfig{
			MaxSize: v.GetInt64("upload.max_size"),
		},
		Transport: TransportConfig{
			Driver:             strings.ToLower(v.GetString("transport.driver")),
			Host:               v.GetString("transport.host"),
			Port:               v.GetInt("transport.port"),
			Username:           v.GetString("transport.username"),
			Password:           v.GetString("transport.password"),
			TLS:                strings.ToLower(v.GetString("transport.tls")),
			InsecureSkipVerify: v.GetBool("transport.insecure_skip_verify"),
			LocalName:          v.GetString("transport.local_name"),
			Timeout:            durations["transport.timeout"],
			Region:             v.GetString("transport.region"),
			AccessKeyID:        v.GetString("transport.access_key_id"),
			SecretAccessKey:    v.GetString("transport.secret_access_key"),
			MaxConcurrent:      v.GetInt64("transport.max_concurrent"),
			RateLimit:          v.GetFloat64("transport.rate_limit"),
			Burst:              v.GetInt("transport.burst"),
		},
		Dispatch: DispatchConfig{
			ClaimTTL: durations["dispatch.claim_ttl"],
		},
		Sink: SinkConfig{
			Enabled:     v.GetBool("sink.enabled"),
			Address:     v.GetString("sink.address"),
			Domain:      v.GetString("sink.domain"),
			Username:    v.GetString("sink.username"),
			Password:    v.GetString("sink.password"),
			MaxMessages: v.GetInt("sink.max_messages"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.type", DatabaseMemory) // 默认使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.path", "./data/attachments")
	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("transport.driver", "smtp")
	v.SetDefault("transport.host", "localhost")
	v.SetDefault("transport.port", 25)
	v.SetDefault("transport.tls", "none")
	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.region", "us-east-1")
	v.SetDefault("transport.max_concurrent", 4)
	v.SetDefault("transport.rate_limit", 0)
	v.SetDefault("transport.burst", 1)
	v.SetDefault("dispatch.claim_ttl", "2m")
	v.SetDefault("sink.enabled", false)
	v.SetDefault("sink.address", "127.0.0.1:2525")
	v.SetDefault("sink.domain", "localhost")
	v.SetDefault("sink.max_messages", 100)
	v.SetDefault("cors.allowed_origins", "*")
}

// Validate 检查枚举值与取值范围
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	switch c.Database.Type {
	case DatabaseMemory:
	case DatabaseSQLite, DatabasePostgres, DatabaseMySQL:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for database type %q", c.Database.Type)
		}
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}

	t := c.Transport
	if !slices.Contains([]string{"smtp", "ses", "log"}, t.Driver) {
		return fmt.Errorf("unsupported transport.driver %q", t.Driver)
	}
	if t.Driver == "smtp" {
		if t.Host == "" {
			return fmt.Errorf("transport.host is required for smtp")
		}
		if t.Port <= 0 || t.Port > 65535 {
			return fmt.Errorf("transport.port out of range: %d", t.Port)
		}
		if !slices.Contains([]string{"none", "starttls", "tls"}, t.TLS) {
			return fmt.Errorf("unsupported transport.tls %q", t.TLS)
		}
	}
	if t.Driver == "ses" && t.Region == "" {
		return fmt.Errorf("transport.region is required for ses")
	}
	if t.RateLimit < 0 {
		return fmt.Errorf("transport.rate_limit must not be negative")
	}

	if c.Sink.Enabled && c.Sink.Address == "" {
		return fmt.Errorf("sink.address is required when the sink is enabled")
	}
	return nil
}

// parseList 将逗号分隔的字符串解析为字符串切片，去除空白项
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 先找当前目录，再找父目录；文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
