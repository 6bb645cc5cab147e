package treasury

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	xerrors "TreasuryAgent/internal/errors"
	"TreasuryAgent/internal/journal"
	"TreasuryAgent/internal/ledger"
	"TreasuryAgent/pkg/logger"

	"github.com/ethereum/go-ethereum/common"

	ethchain "TreasuryAgent/internal/web3/ethereum"
)

const (
	balancePollAttempts     = 3
	defaultBalancePollDelay = 2 * time.Second
)

// 代币销毁的黑洞地址。
var defaultBurnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// BuybackConfig 描述回购销毁的参数。
type BuybackConfig struct {
	// Token 为空地址时关闭回购销毁。
	Token            common.Address
	BurnAddress      common.Address
	ChunkWei         *big.Int
	BalancePollDelay time.Duration
}

// Buyback 把销售池分块换成代币并销毁。两阶段设计可跨重启恢复：
// 换币确认后立刻持久化待销毁金额，重启后直接从销毁阶段续作。
type Buyback struct {
	chain     ChainReader
	submitter TxSubmitter
	saver     Saver
	journal   journal.Publisher
	cfg       BuybackConfig
	log       *slog.Logger
}

// NewBuyback 创建回购销毁服务。
func NewBuyback(chain ChainReader, submitter TxSubmitter, saver Saver, pub journal.Publisher, cfg BuybackConfig) *Buyback {
	if cfg.BurnAddress == (common.Address{}) {
		cfg.BurnAddress = defaultBurnAddress
	}
	if cfg.BalancePollDelay <= 0 {
		cfg.BalancePollDelay = defaultBalancePollDelay
	}
	return &Buyback{
		chain:     chain,
		submitter: submitter,
		saver:     saver,
		journal:   pub,
		cfg:       cfg,
		log:       loggerFor("buyback"),
	}
}

// HasWork 返回本轮是否有待处理的回购或销毁。
func (b *Buyback) HasWork(led *ledger.Ledger) bool {
	if b.cfg.Token == (common.Address{}) {
		return false
	}
	return led.HasPendingBurn() || led.SalePoolWei.Sign() > 0
}

// Run 执行一次回购销毁。存在待销毁金额时直接进入销毁阶段，
// 绝不重复换币。返回值指示本轮是否发生了链上动作。
func (b *Buyback) Run(ctx context.Context, led *ledger.Ledger) (bool, error) {
	if b.cfg.Token == (common.Address{}) {
		return false, nil
	}

	if !led.HasPendingBurn() {
		acted, err := b.swapPhase(ctx, led)
		if err != nil || !acted {
			return acted, err
		}
		if !led.HasPendingBurn() {
			// 换币被判定为零所得，本轮到此为止。
			return true, nil
		}
	}
	if err := b.burnPhase(ctx, led); err != nil {
		return true, err
	}
	return true, nil
}

// swapPhase 把一个分块的销售池换成代币，记录待销毁金额并持久化。
func (b *Buyback) swapPhase(ctx context.Context, led *ledger.Ledger) (bool, error) {
	chunk := new(big.Int).Set(led.SalePoolWei)
	if b.cfg.ChunkWei != nil && b.cfg.ChunkWei.Sign() > 0 && chunk.Cmp(b.cfg.ChunkWei) > 0 {
		chunk.Set(b.cfg.ChunkWei)
	}
	if chunk.Sign() <= 0 {
		return false, nil
	}

	treasury := b.submitter.From()
	authorized, err := b.chain.SwapAuthorized(ctx, b.cfg.Token, treasury)
	if err != nil {
		return false, err
	}
	if !authorized {
		return false, xerrors.New(xerrors.CodeChainWrite, "金库未获准通过代币合约换币",
			xerrors.WithMetadata("token", b.cfg.Token.Hex()))
	}

	before, err := b.chain.TokenBalance(ctx, b.cfg.Token, treasury)
	if err != nil {
		return false, err
	}

	calldata, err := ethchain.SwapCalldata()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeChainWrite, err, "构建换币 calldata 失败")
	}
	token := b.cfg.Token
	receipt, err := b.submitter.SubmitAndWait(ctx, ethchain.Intent{
		To:    &token,
		Value: chunk,
		Data:  calldata,
	})
	if err != nil {
		return false, err
	}

	purchased := b.observeIncrease(ctx, treasury, before)
	if purchased.Sign() <= 0 {
		// 未观察到余额增加：按零所得处理，扣池但不产生待销毁金额。
		// 这是有损的空转，刻意不重试。
		led.DebitSalePoolCapped(chunk)
		if err := b.saver.Save(ctx, led); err != nil {
			return true, err
		}
		b.log.Warn("换币后未观察到代币到账，按零所得扣池",
			slog.String("chunk_wei", chunk.String()),
			slog.String("tx_hash", receipt.TxHash.Hex()),
		)
		return true, nil
	}

	led.SetPendingBurn(purchased, chunk)
	if err := b.saver.Save(ctx, led); err != nil {
		return true, err
	}

	b.log.Info("换币完成",
		slog.String("chunk_wei", chunk.String()),
		slog.String("purchased", purchased.String()),
		slog.String("tx_hash", receipt.TxHash.Hex()),
	)
	logger.Audit().Info("swap_executed",
		slog.String("chunk_wei", chunk.String()),
		slog.String("purchased", purchased.String()),
		slog.String("tx_hash", receipt.TxHash.Hex()),
	)
	publish(ctx, b.journal, journal.NewEvent(journal.KindSwapExecuted).
		WithAmount(chunk.String()).
		WithTxHash(receipt.TxHash.Hex()).
		WithMetadata("purchased", purchased.String()))
	return true, nil
}

// observeIncrease 轮询代币余额，返回相对快照的增量，容忍索引延迟。
func (b *Buyback) observeIncrease(ctx context.Context, treasury common.Address, before *big.Int) *big.Int {
	for attempt := 0; attempt < balancePollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return new(big.Int)
			case <-time.After(b.cfg.BalancePollDelay):
			}
		}
		after, err := b.chain.TokenBalance(ctx, b.cfg.Token, treasury)
		if err != nil {
			b.log.Warn("换币后余额读取失败", slog.String("error", err.Error()))
			continue
		}
		if delta := new(big.Int).Sub(after, before); delta.Sign() > 0 {
			return delta
		}
	}
	return new(big.Int)
}

// burnPhase 把待销毁代币转入黑洞地址，确认后清空待销毁字段并扣池。
func (b *Buyback) burnPhase(ctx context.Context, led *ledger.Ledger) error {
	amount := new(big.Int).Set(led.PendingBurnAmount)
	cost := new(big.Int).Set(led.PendingBurnCostWei)

	calldata, err := ethchain.TransferCalldata(b.cfg.BurnAddress, amount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainWrite, err, "构建销毁 calldata 失败")
	}
	token := b.cfg.Token
	receipt, err := b.submitter.SubmitAndWait(ctx, ethchain.Intent{To: &token, Data: calldata})
	if err != nil {
		return err
	}

	led.ClearPendingBurn()
	led.DebitSalePoolCapped(cost)
	if err := b.saver.Save(ctx, led); err != nil {
		return err
	}

	b.log.Info("销毁完成",
		slog.String("burned", amount.String()),
		slog.String("cost_wei", cost.String()),
		slog.String("tx_hash", receipt.TxHash.Hex()),
	)
	logger.Audit().Info("burn_executed",
		slog.String("burned", amount.String()),
		slog.String("cost_wei", cost.String()),
		slog.String("sale_pool_wei", led.SalePoolWei.String()),
		slog.String("tx_hash", receipt.TxHash.Hex()),
	)
	publish(ctx, b.journal, journal.NewEvent(journal.KindBurnExecuted).
		WithAmount(amount.String()).
		WithTxHash(receipt.TxHash.Hex()).
		WithMetadata("cost_wei", cost.String()))
	return nil
}
