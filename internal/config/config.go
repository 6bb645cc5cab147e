package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// 敏感信息一律走环境变量，不落配置文件。
const (
	EnvConfigPath   = "TREASURY_CONFIG"
	EnvPrivateKey   = "TREASURY_PRIVATE_KEY"
	EnvMarketAPIKey = "TREASURY_MARKET_API_KEY"
)

// Config 描述金库守护进程启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig      `json:"server"`
	Log         LogConfig         `json:"log"`
	Chain       ChainConfig       `json:"chain"`
	Storage     StorageConfig     `json:"storage"`
	Journal     JournalConfig     `json:"journal"`
	Marketplace MarketplaceConfig `json:"marketplace"`
	Treasury    TreasuryConfig    `json:"treasury"`
	Alerting    AlertingConfig    `json:"alerting"`
}

// ServerConfig 控制状态 API 的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// LogConfig 控制结构化日志与审计日志的输出。
type LogConfig struct {
	Level  string      `json:"level"`
	Format string      `json:"format"`
	Output string      `json:"output"`
	Audit  AuditConfig `json:"audit"`
}

// AuditConfig 控制资金事件审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ChainConfig 指定链注册表文件与本进程使用的链。
type ChainConfig struct {
	Name            string `json:"name"`
	DefinitionsPath string `json:"definitions_path"`
}

// StorageConfig 描述账本的持久化后端。
type StorageConfig struct {
	Driver             string `json:"driver"`
	FilePath           string `json:"file_path"`
	DSN                string `json:"dsn"`
	LegacySnapshotPath string `json:"legacy_snapshot_path"`
}

// JournalConfig 描述审计事件的投递介质。
type JournalConfig struct {
	Driver         string                `json:"driver"`
	MemoryCapacity int                   `json:"memory_capacity"`
	Redis          RedisJournalConfig    `json:"redis"`
	RabbitMQ       RabbitMQJournalConfig `json:"rabbitmq"`
}

// RedisJournalConfig 描述 Redis 日志的连接参数。
type RedisJournalConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
	MaxLen   int64  `json:"max_len"`
}

// RabbitMQJournalConfig 描述 RabbitMQ 日志的连接参数。
type RabbitMQJournalConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// MarketplaceConfig 描述市场 API 的访问方式。API key 走环境变量。
type MarketplaceConfig struct {
	BaseURL    string `json:"base_url"`
	TimeoutSec int    `json:"timeout_sec"`
}

// TreasuryConfig 汇总四个服务的行为参数。地址一律为十六进制字符串。
type TreasuryConfig struct {
	Token              string `json:"token"`
	Collection         string `json:"collection"`
	TokenID            string `json:"token_id"`
	Exchange           string `json:"exchange"`
	ConduitOperator    string `json:"conduit_operator"`
	ConduitKey         string `json:"conduit_key"`
	BurnAddress        string `json:"burn_address"`
	MarkupBps          int64  `json:"markup_bps"`
	RelistDurationSec  int64  `json:"relist_duration_sec"`
	LoopIntervalSec    int64  `json:"loop_interval_sec"`
	CooldownSec        int64  `json:"cooldown_sec"`
	MaxListingsPerTick int    `json:"max_listings_per_tick"`
	TaxChunkBlocks     uint64 `json:"tax_chunk_blocks"`
	TaxThrottleMs      int64  `json:"tax_throttle_ms"`
	BuybackChunkWei    string `json:"buyback_chunk_wei"`
	InitialBlock       uint64 `json:"initial_block"`
}

// AlertingConfig 描述告警 webhook。地址为空时只走日志渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
	TimeoutSec int    `json:"timeout_sec"`
}

// Load 解析指定路径的 JSON 配置文件，并在加载前尝试读取同目录的 .env。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	// .env 缺失不算错误，生产环境通常直接注入环境变量。
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// PrivateKeyHex 返回金库私钥（去掉可选的 0x 前缀）。
func PrivateKeyHex() (string, error) {
	raw := strings.TrimSpace(os.Getenv(EnvPrivateKey))
	if raw == "" {
		return "", fmt.Errorf("环境变量 %s 未设置", EnvPrivateKey)
	}
	return strings.TrimPrefix(raw, "0x"), nil
}

// MarketAPIKey 返回市场 API key，可以为空。
func MarketAPIKey() string {
	return strings.TrimSpace(os.Getenv(EnvMarketAPIKey))
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Chain.Name == "" {
		c.Chain.Name = "mainnet"
	}
	if c.Chain.DefinitionsPath == "" {
		c.Chain.DefinitionsPath = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chain.DefinitionsPath) {
		c.Chain.DefinitionsPath = filepath.Join(baseDir, c.Chain.DefinitionsPath)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.FilePath == "" {
		c.Storage.FilePath = filepath.Join(baseDir, "data", "ledger.json")
	} else if !filepath.IsAbs(c.Storage.FilePath) {
		c.Storage.FilePath = filepath.Join(baseDir, c.Storage.FilePath)
	}
	if c.Storage.LegacySnapshotPath != "" && !filepath.IsAbs(c.Storage.LegacySnapshotPath) {
		c.Storage.LegacySnapshotPath = filepath.Join(baseDir, c.Storage.LegacySnapshotPath)
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}

	if c.Treasury.MarkupBps <= 0 {
		c.Treasury.MarkupBps = 11000
	}
	if c.Treasury.RelistDurationSec <= 0 {
		c.Treasury.RelistDurationSec = 7 * 24 * 3600
	}
	if c.Treasury.LoopIntervalSec <= 0 {
		c.Treasury.LoopIntervalSec = 30
	}
	if c.Treasury.MaxListingsPerTick <= 0 {
		c.Treasury.MaxListingsPerTick = 3
	}
	if c.Treasury.TaxChunkBlocks == 0 {
		c.Treasury.TaxChunkBlocks = 10
	}
}
