package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"TreasuryAgent/internal/api"
	"TreasuryAgent/internal/config"
	"TreasuryAgent/internal/exchange"
	"TreasuryAgent/internal/journal"
	"TreasuryAgent/internal/ledger"
	"TreasuryAgent/internal/marketplace"
	"TreasuryAgent/internal/observability/alerting"
	"TreasuryAgent/internal/treasury"
	"TreasuryAgent/internal/web3"
	"TreasuryAgent/internal/web3/ethereum"
	"TreasuryAgent/pkg/logger"
)

// main 是金库守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("treasuryd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "treasury.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 链注册表决定 RPC 端点与 chain id，私钥只从环境变量读取。
	definitions, err := web3.LoadChainDefinitions(cfg.Chain.DefinitionsPath)
	if err != nil {
		return err
	}
	chainDef, err := definitions.Resolve(cfg.Chain.Name)
	if err != nil {
		return err
	}

	chain, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:    cfg.Chain.Name,
		RPCURL:  chainDef.RPCURL,
		ChainID: big.NewInt(chainDef.ChainID),
	})
	if err != nil {
		return err
	}
	defer chain.Close()

	keyHex, err := config.PrivateKeyHex()
	if err != nil {
		return err
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return fmt.Errorf("解析金库私钥失败: %w", err)
	}
	treasuryAddr := crypto.PubkeyToAddress(key.PublicKey)

	submitter := ethereum.NewSubmitter(chain.Backend(), key, chain.ChainID())

	var store ledger.Store
	switch cfg.Storage.Driver {
	case "", "file":
		fileStore, err := ledger.NewFileStore(cfg.Storage.FilePath)
		if err != nil {
			return err
		}
		store = fileStore
	case "mysql":
		sqlStore, err := ledger.NewMySQLStore(ctx, ledger.MySQLConfig{DSN: cfg.Storage.DSN})
		if err != nil {
			return err
		}
		store = sqlStore
	default:
		return fmt.Errorf("未知的账本存储驱动: %s", cfg.Storage.Driver)
	}
	defer store.Close()

	led, err := ledger.Open(ctx, store, cfg.Storage.LegacySnapshotPath, cfg.Treasury.InitialBlock)
	if err != nil {
		return err
	}

	saver := treasury.NewStatusSaver(store)
	saver.Record(led)

	pub, err := createJournal(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.L().Warn("关闭审计日志失败", "error", err)
		}
	}()

	market, err := marketplace.NewClient(marketplace.Config{
		APIKey:  config.MarketAPIKey(),
		BaseURL: cfg.Marketplace.BaseURL,
		Timeout: time.Duration(cfg.Marketplace.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	alerts, err := createAlerts(cfg)
	if err != nil {
		return err
	}

	token, err := optionalAddress(cfg.Treasury.Token)
	if err != nil {
		return fmt.Errorf("token 地址非法: %w", err)
	}
	collection, err := optionalAddress(cfg.Treasury.Collection)
	if err != nil {
		return fmt.Errorf("collection 地址非法: %w", err)
	}
	exchangeAddr, err := optionalAddress(cfg.Treasury.Exchange)
	if err != nil {
		return fmt.Errorf("exchange 地址非法: %w", err)
	}
	conduitOperator, err := optionalAddress(cfg.Treasury.ConduitOperator)
	if err != nil {
		return fmt.Errorf("conduit_operator 地址非法: %w", err)
	}
	burnAddr, err := optionalAddress(cfg.Treasury.BurnAddress)
	if err != nil {
		return fmt.Errorf("burn_address 地址非法: %w", err)
	}
	tokenID, err := optionalBig(cfg.Treasury.TokenID)
	if err != nil {
		return fmt.Errorf("token_id 非法: %w", err)
	}
	chunkWei, err := optionalBig(cfg.Treasury.BuybackChunkWei)
	if err != nil {
		return fmt.Errorf("buyback_chunk_wei 非法: %w", err)
	}

	collector := treasury.NewCollector(chain, saver, pub, treasury.CollectorConfig{
		Token:     token,
		Treasury:  treasuryAddr,
		ChunkSize: cfg.Treasury.TaxChunkBlocks,
		Throttle:  time.Duration(cfg.Treasury.TaxThrottleMs) * time.Millisecond,
	})
	reconciler := treasury.NewReconciler(chain, saver, pub, treasuryAddr, treasury.ReconcilerConfig{
		MaxPerTick: cfg.Treasury.MaxListingsPerTick,
	})
	purchaser := treasury.NewPurchaser(chain, submitter, market, saver, pub, key,
		exchange.Domain{ChainID: chain.ChainID(), Verifier: exchangeAddr},
		treasury.PurchaserConfig{
			Collection:      collection,
			TokenID:         tokenID,
			MarkupBps:       cfg.Treasury.MarkupBps,
			RelistDuration:  time.Duration(cfg.Treasury.RelistDurationSec) * time.Second,
			ConduitOperator: conduitOperator,
			ConduitKey:      common.HexToHash(cfg.Treasury.ConduitKey),
		})
	buyback := treasury.NewBuyback(chain, submitter, saver, pub, treasury.BuybackConfig{
		Token:       token,
		BurnAddress: burnAddr,
		ChunkWei:    chunkWei,
	})

	loop := treasury.NewLoop(collector, reconciler, purchaser, buyback, alerts, treasury.LoopConfig{
		Interval: time.Duration(cfg.Treasury.LoopIntervalSec) * time.Second,
		Cooldown: time.Duration(cfg.Treasury.CooldownSec) * time.Second,
	})

	// 主循环的致命错误（典型是落盘失败）要顺带关停状态 API，
	// 避免进程半死不活地继续对外报告过期状态。
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	loopDone := make(chan error, 1)
	go func() {
		err := loop.Run(runCtx, led)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("主循环异常退出", "error", err)
			stop()
		}
		loopDone <- err
	}()

	server := api.NewServer(cfg.Server.Address, saver)

	if err := server.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		<-loopDone
		return err
	}
	stop()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createJournal 根据配置选择审计事件的投递介质。
func createJournal(cfg *config.Config) (journal.Publisher, error) {
	switch cfg.Journal.Driver {
	case "", "memory":
		return journal.NewMemoryJournal(cfg.Journal.MemoryCapacity), nil
	case "redis":
		return journal.NewRedisJournal(journal.RedisJournalConfig{
			Address:  cfg.Journal.Redis.Address,
			Password: cfg.Journal.Redis.Password,
			DB:       cfg.Journal.Redis.DB,
			Key:      cfg.Journal.Redis.Key,
			MaxLen:   cfg.Journal.Redis.MaxLen,
		})
	case "rabbitmq":
		return journal.NewRabbitMQJournal(journal.RabbitMQJournalConfig{
			URL:        cfg.Journal.RabbitMQ.URL,
			Queue:      cfg.Journal.RabbitMQ.Queue,
			Durable:    cfg.Journal.RabbitMQ.Durable,
			AutoDelete: cfg.Journal.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的审计日志驱动: %s", cfg.Journal.Driver)
	}
}

// createAlerts 组装告警渠道。日志渠道始终启用，webhook 按配置追加。
func createAlerts(cfg *config.Config) (alerting.Dispatcher, error) {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		webhook, err := alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL,
			time.Duration(cfg.Alerting.TimeoutSec)*time.Second)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, webhook)
	}
	return alerting.NewFanout(notifiers...), nil
}

// optionalAddress 解析可选的十六进制地址，空串返回零地址。
func optionalAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("不是合法的十六进制地址: %s", raw)
	}
	return common.HexToAddress(raw), nil
}

// optionalBig 解析可选的十进制大整数，空串返回 nil。
func optionalBig(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("不是合法的非负十进制整数: %s", raw)
	}
	return v, nil
}
