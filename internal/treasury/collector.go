package treasury

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"TreasuryAgent/internal/journal"
	"TreasuryAgent/internal/ledger"
	"TreasuryAgent/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// proceedsSentTopic 是被监控代币分税事件的主题哈希：
// ProceedsSent(uint256 id, address indexed recipient, uint256 amount)。
var proceedsSentTopic = crypto.Keccak256Hash([]byte("ProceedsSent(uint256,address,uint256)"))

const defaultScanChunk = 10

// CollectorConfig 描述税收扫描的参数。
type CollectorConfig struct {
	// Token 为空地址时关闭税收采集。
	Token     common.Address
	Treasury  common.Address
	ChunkSize uint64
	Throttle  time.Duration
}

// Collector 扫描分税事件并把金额计入佣金池。
type Collector struct {
	chain   ChainReader
	saver   Saver
	journal journal.Publisher
	cfg     CollectorConfig
	log     *slog.Logger
}

// NewCollector 创建税收采集服务。
func NewCollector(chain ChainReader, saver Saver, pub journal.Publisher, cfg CollectorConfig) *Collector {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultScanChunk
	}
	return &Collector{
		chain:   chain,
		saver:   saver,
		journal: pub,
		cfg:     cfg,
		log:     loggerFor("collector"),
	}
}

// Collect 扫描 (LastTaxBlock, head] 区间内发给金库的分税事件。
// 无论是否扫到事件，只要区间非空就推进 LastTaxBlock 并持久化一次，
// 避免长期停机后的无限重扫。
func (c *Collector) Collect(ctx context.Context, led *ledger.Ledger) error {
	if c.cfg.Token == (common.Address{}) {
		return nil
	}

	head, err := c.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if head <= led.LastTaxBlock {
		return nil
	}

	total := new(big.Int)
	from := led.LastTaxBlock + 1
	for from <= head {
		to := from + c.cfg.ChunkSize - 1
		if to > head {
			to = head
		}
		sum, err := c.scanRange(ctx, from, to)
		if err != nil {
			return err
		}
		total.Add(total, sum)
		from = to + 1

		if c.cfg.Throttle > 0 && from <= head {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.Throttle):
			}
		}
	}

	led.AdvanceTaxBlock(head)
	if total.Sign() > 0 {
		led.CreditCommission(total)
	}
	if err := c.saver.Save(ctx, led); err != nil {
		return err
	}

	if total.Sign() > 0 {
		c.log.Info("税收入账",
			slog.String("amount_wei", total.String()),
			slog.Uint64("scanned_to", head),
		)
		logger.Audit().Info("tax_collected",
			slog.String("amount_wei", total.String()),
			slog.String("commission_pool_wei", led.CommissionPoolWei.String()),
			slog.Uint64("last_tax_block", head),
		)
		publish(ctx, c.journal, journal.NewEvent(journal.KindTaxCollected).
			WithAmount(total.String()).
			WithMetadata("last_tax_block", new(big.Int).SetUint64(head).String()))
	}
	return nil
}

func (c *Collector) scanRange(ctx context.Context, from, to uint64) (*big.Int, error) {
	query := gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.cfg.Token},
		Topics: [][]common.Hash{
			{proceedsSentTopic},
			{common.BytesToHash(c.cfg.Treasury.Bytes())},
		},
	}
	logs, err := c.chain.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}

	sum := new(big.Int)
	for _, entry := range logs {
		// data 依次为非索引的 id 与 amount，各 32 字节。
		if len(entry.Data) < 64 {
			c.log.Warn("分税事件数据长度异常",
				slog.String("tx_hash", entry.TxHash.Hex()),
				slog.Int("data_len", len(entry.Data)),
			)
			continue
		}
		amount := new(big.Int).SetBytes(entry.Data[32:64])
		sum.Add(sum, amount)
	}
	return sum, nil
}
