package treasury

import (
	"context"
	"log/slog"
	"math/big"

	"TreasuryAgent/internal/journal"
	"TreasuryAgent/internal/ledger"
	"TreasuryAgent/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const defaultMaxListingsPerTick = 3

// ReconcilerConfig 描述挂单核对的参数。
type ReconcilerConfig struct {
	MaxPerTick int
}

// Reconciler 核对活跃挂单是否已成交，把预期所得计入销售池。
type Reconciler struct {
	chain    ChainReader
	saver    Saver
	journal  journal.Publisher
	treasury common.Address
	cfg      ReconcilerConfig
	log      *slog.Logger

	// cursor 记录上一轮核对到的位置，保证超出单轮上限的挂单
	// 会在后续轮次被轮到。
	cursor int
}

// NewReconciler 创建挂单核对服务。
func NewReconciler(chain ChainReader, saver Saver, pub journal.Publisher, treasury common.Address, cfg ReconcilerConfig) *Reconciler {
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = defaultMaxListingsPerTick
	}
	return &Reconciler{
		chain:    chain,
		saver:    saver,
		journal:  pub,
		treasury: treasury,
		cfg:      cfg,
		log:      loggerFor("reconciler"),
	}
}

// Reconcile 每轮最多核对 MaxPerTick 条挂单，其余原样保留。
// 读链出错的挂单保守保留，绝不在信息不明时假定成交。
// 只在本轮捕获到销售所得时持久化一次。
func (r *Reconciler) Reconcile(ctx context.Context, led *ledger.Ledger) error {
	if len(led.Listings) == 0 {
		return nil
	}

	toCheck := len(led.Listings)
	if toCheck > r.cfg.MaxPerTick {
		toCheck = r.cfg.MaxPerTick
	}
	start := r.cursor
	if start >= len(led.Listings) {
		start = 0
	}

	var sold []*ledger.ActiveListing
	checked := 0
	for i := start; checked < toCheck; i++ {
		listing := led.Listings[i%len(led.Listings)]
		checked++

		done, err := r.listingSold(ctx, listing)
		if err != nil {
			r.log.Warn("挂单状态读取失败，保留待下轮",
				slog.String("order_hash", listing.OrderHash.Hex()),
				slog.String("collection", listing.Collection.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if done {
			sold = append(sold, listing)
		}
	}
	r.cursor = (start + checked) % len(led.Listings)

	if len(sold) == 0 {
		return nil
	}

	for _, listing := range sold {
		led.CreditSalePool(listing.ExpectedProceedsWei)
		led.RemoveListing(listing.OrderHash)
		r.log.Info("检测到挂单成交",
			slog.String("order_hash", listing.OrderHash.Hex()),
			slog.String("proceeds_wei", listing.ExpectedProceedsWei.String()),
		)
		logger.Audit().Info("sale_detected",
			slog.String("order_hash", listing.OrderHash.Hex()),
			slog.String("proceeds_wei", listing.ExpectedProceedsWei.String()),
			slog.String("sale_pool_wei", led.SalePoolWei.String()),
		)
		publish(ctx, r.journal, journal.NewEvent(journal.KindSaleDetected).
			WithAmount(listing.ExpectedProceedsWei.String()).
			WithOrderHash(listing.OrderHash.Hex()))
	}
	return r.saver.Save(ctx, led)
}

// listingSold 判断一条挂单是否已成交。
func (r *Reconciler) listingSold(ctx context.Context, listing *ledger.ActiveListing) (bool, error) {
	treasury := r.treasury
	switch listing.Standard {
	case ledger.StandardBalance:
		balance, err := r.chain.BalanceOfAsset(ctx, listing.Collection, treasury, listing.TokenID)
		if err != nil {
			return false, err
		}
		threshold := listing.ExpectedPostSaleBalance
		if threshold == nil {
			threshold = new(big.Int)
		}
		return balance.Cmp(threshold) <= 0, nil
	default:
		owner, err := r.chain.OwnerOf(ctx, listing.Collection, listing.TokenID)
		if err != nil {
			return false, err
		}
		return owner != treasury, nil
	}
}
