package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/tradestream/internal/domain"
)

// 默认值与下限
const (
	DefaultRetryDelay        = 1000 * time.Millisecond
	MinRetryDelay            = 1000 * time.Millisecond
	DefaultReconnectDelay    = 1000 * time.Millisecond
	MinReconnectDelay        = 1000 * time.Millisecond
	DefaultHeartbeatInterval = 2000 * time.Millisecond
	DefaultHandshakeTimeout  = 15 * time.Second
	DefaultBalanceDebounce   = 1000 * time.Millisecond
	DefaultCommissionRate    = 0.04
	DefaultHTTPTimeout       = 30 * time.Second
)

// EndpointsConfig 外部地址
type EndpointsConfig struct {
	AuthURL   string // 认证服务
	TradeURL  string // 交易 REST
	StreamURL string // 行情/账户推送 WebSocket
	ProxyURL  string // HTTP 转发代理
}

// SecretStoreConfig 令牌存储（badger）
type SecretStoreConfig struct {
	Path          string
	EncryptionKey string // 32 字节 hex/base64，可选
	InMemory      bool
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config 应用配置
type Config struct {
	SessionID string // 会话标识，用于在密钥库中区分令牌
	Login     string // 完整认证用账号（优先从密钥库读取）
	Password  string

	Endpoints   EndpointsConfig
	SecretStore SecretStoreConfig
	Log         LogConfig

	TokenRetryDelay   time.Duration // 令牌刷新临时失败后的重试间隔
	ReconnectDelay    time.Duration // 连接断开后的重连间隔
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	HTTPTimeout       time.Duration
	BalanceDebounce   time.Duration // 余额重算合并窗口
	CommissionRate    float64       // 手续费率（百分比）

	MetricsAddr string // 调试服务监听地址，空则不启动

	Instruments []domain.Instrument // 预置品种（可选）
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	SessionID string `yaml:"session_id" json:"session_id"`
	Login     string `yaml:"login" json:"login"`
	Password  string `yaml:"password" json:"password"`
	Endpoints struct {
		AuthURL   string `yaml:"auth_url" json:"auth_url"`
		TradeURL  string `yaml:"trade_url" json:"trade_url"`
		StreamURL string `yaml:"stream_url" json:"stream_url"`
		ProxyURL  string `yaml:"proxy_url" json:"proxy_url"`
	} `yaml:"endpoints" json:"endpoints"`
	SecretStore struct {
		Path          string `yaml:"path" json:"path"`
		EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
		InMemory      bool   `yaml:"in_memory" json:"in_memory"`
	} `yaml:"secret_store" json:"secret_store"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   bool   `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
	TokenRetryDelayMs   int     `yaml:"token_retry_delay_ms" json:"token_retry_delay_ms"`
	ReconnectDelayMs    int     `yaml:"reconnect_delay_ms" json:"reconnect_delay_ms"`
	HeartbeatIntervalMs int     `yaml:"heartbeat_interval_ms" json:"heartbeat_interval_ms"`
	HandshakeTimeoutMs  int     `yaml:"handshake_timeout_ms" json:"handshake_timeout_ms"`
	HTTPTimeoutMs       int     `yaml:"http_timeout_ms" json:"http_timeout_ms"`
	BalanceDebounceMs   int     `yaml:"balance_debounce_ms" json:"balance_debounce_ms"`
	CommissionRate      float64 `yaml:"commission_rate" json:"commission_rate"`
	MetricsAddr         string  `yaml:"metrics_addr" json:"metrics_addr"`
	Instruments         []struct {
		SymbolID          string `yaml:"symbol_id" json:"symbol_id"`
		Symbol            string `yaml:"symbol" json:"symbol"`
		Lot               int64  `yaml:"lot" json:"lot"`
		MinPriceIncrement string `yaml:"min_price_increment" json:"min_price_increment"`
		Currency          string `yaml:"currency" json:"currency"`
		Exchange          string `yaml:"exchange" json:"exchange"`
	} `yaml:"instruments" json:"instruments"`
}

// LoadFromFile 从指定文件加载配置；filePath 为空时只使用环境变量和默认值。
// 优先级：环境变量 > 配置文件 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		loaded, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		cf = loaded
	}

	cfg := &Config{
		SessionID: getEnv("SESSION_ID", cf.SessionID),
		Login:     getEnv("BROKER_LOGIN", cf.Login),
		Password:  getEnv("BROKER_PASSWORD", cf.Password),
		Endpoints: EndpointsConfig{
			AuthURL:   getEnv("AUTH_URL", cf.Endpoints.AuthURL),
			TradeURL:  getEnv("TRADE_URL", cf.Endpoints.TradeURL),
			StreamURL: getEnv("STREAM_URL", cf.Endpoints.StreamURL),
			ProxyURL:  getEnv("PROXY_URL", cf.Endpoints.ProxyURL),
		},
		SecretStore: SecretStoreConfig{
			Path:          getEnv("SECRET_STORE_PATH", cf.SecretStore.Path),
			EncryptionKey: getEnv("SECRET_STORE_KEY", cf.SecretStore.EncryptionKey),
			InMemory:      parseBoolEnv("SECRET_STORE_IN_MEMORY", cf.SecretStore.InMemory),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", orDefault(cf.Log.Level, "info")),
			File:       getEnv("LOG_FILE", cf.Log.File),
			MaxSize:    parseIntEnv("LOG_MAX_SIZE", orDefaultInt(cf.Log.MaxSize, 100)),
			MaxBackups: parseIntEnv("LOG_MAX_BACKUPS", orDefaultInt(cf.Log.MaxBackups, 3)),
			MaxAge:     parseIntEnv("LOG_MAX_AGE", orDefaultInt(cf.Log.MaxAge, 7)),
			Compress:   parseBoolEnv("LOG_COMPRESS", cf.Log.Compress),
		},
		TokenRetryDelay:   millis(parseIntEnv("TOKEN_RETRY_DELAY_MS", cf.TokenRetryDelayMs), DefaultRetryDelay),
		ReconnectDelay:    millis(parseIntEnv("RECONNECT_DELAY_MS", cf.ReconnectDelayMs), DefaultReconnectDelay),
		HeartbeatInterval: millis(parseIntEnv("HEARTBEAT_INTERVAL_MS", cf.HeartbeatIntervalMs), DefaultHeartbeatInterval),
		HandshakeTimeout:  millis(parseIntEnv("HANDSHAKE_TIMEOUT_MS", cf.HandshakeTimeoutMs), DefaultHandshakeTimeout),
		HTTPTimeout:       millis(parseIntEnv("HTTP_TIMEOUT_MS", cf.HTTPTimeoutMs), DefaultHTTPTimeout),
		BalanceDebounce:   millis(parseIntEnv("BALANCE_DEBOUNCE_MS", cf.BalanceDebounceMs), DefaultBalanceDebounce),
		CommissionRate:    parseFloatEnv("COMMISSION_RATE", orDefaultFloat(cf.CommissionRate, DefaultCommissionRate)),
		MetricsAddr:       getEnv("METRICS_ADDR", cf.MetricsAddr),
	}

	for _, ic := range cf.Instruments {
		tick := decimal.Zero
		if strings.TrimSpace(ic.MinPriceIncrement) != "" {
			d, err := decimal.NewFromString(ic.MinPriceIncrement)
			if err != nil {
				return nil, fmt.Errorf("品种 %s 的 min_price_increment 无效: %w", ic.SymbolID, err)
			}
			tick = d
		}
		cfg.Instruments = append(cfg.Instruments, domain.Instrument{
			SymbolID:          ic.SymbolID,
			Symbol:            ic.Symbol,
			Lot:               ic.Lot,
			MinPriceIncrement: tick,
			Currency:          ic.Currency,
			Exchange:          ic.Exchange,
		})
	}

	if cfg.SessionID == "" {
		// 未指定时生成一次性会话标识（令牌不会跨进程复用）
		cfg.SessionID = uuid.NewString()
	}

	cfg.applyFloors()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// applyFloors 重试/重连间隔不得低于下限
func (c *Config) applyFloors() {
	if c.TokenRetryDelay < MinRetryDelay {
		c.TokenRetryDelay = MinRetryDelay
	}
	if c.ReconnectDelay < MinReconnectDelay {
		c.ReconnectDelay = MinReconnectDelay
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Endpoints.AuthURL == "" {
		return fmt.Errorf("AUTH_URL 未配置")
	}
	if c.Endpoints.TradeURL == "" {
		return fmt.Errorf("TRADE_URL 未配置")
	}
	if c.Endpoints.StreamURL == "" {
		return fmt.Errorf("STREAM_URL 未配置")
	}
	if c.Endpoints.ProxyURL == "" {
		return fmt.Errorf("PROXY_URL 未配置")
	}
	if !c.SecretStore.InMemory && c.SecretStore.Path == "" {
		return fmt.Errorf("SECRET_STORE_PATH 未配置（或启用 in_memory）")
	}
	if c.CommissionRate < 0 {
		return fmt.Errorf("COMMISSION_RATE 不能为负数")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_MS 必须大于 0")
	}
	for _, inst := range c.Instruments {
		if inst.SymbolID == "" {
			return fmt.Errorf("品种缺少 symbol_id")
		}
		if inst.Lot <= 0 {
			return fmt.Errorf("品种 %s 的 lot 必须大于 0", inst.SymbolID)
		}
	}
	return nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}
