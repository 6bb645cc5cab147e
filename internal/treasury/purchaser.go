package treasury

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"
	"time"

	xerrors "TreasuryAgent/internal/errors"
	"TreasuryAgent/internal/exchange"
	"TreasuryAgent/internal/journal"
	"TreasuryAgent/internal/ledger"
	"TreasuryAgent/internal/marketplace"
	"TreasuryAgent/pkg/logger"

	"github.com/ethereum/go-ethereum/common"

	ethchain "TreasuryAgent/internal/web3/ethereum"
)

const (
	defaultOwnershipPollAttempts = 5
	defaultOwnershipPollDelay    = 2 * time.Second
	defaultRelistDuration        = 7 * 24 * time.Hour
)

// PurchaserConfig 描述购买与重新挂单的参数。
type PurchaserConfig struct {
	// Collection 为空地址时关闭购买。TokenID 为 nil 时按集合维度寻找最优可买。
	Collection            common.Address
	TokenID               *big.Int
	MarkupBps             int64
	RelistDuration        time.Duration
	ConduitOperator       common.Address
	ConduitKey            common.Hash
	OwnershipPollAttempts int
	OwnershipPollDelay    time.Duration
}

// Purchaser 花佣金池买目标资产，加价后重新挂单。
type Purchaser struct {
	chain     ChainReader
	submitter TxSubmitter
	market    marketplace.Market
	saver     Saver
	journal   journal.Publisher
	key       *ecdsa.PrivateKey
	domain    exchange.Domain
	cfg       PurchaserConfig
	log       *slog.Logger
}

// NewPurchaser 创建购买服务。key 与提交器使用同一把金库私钥，
// 订单签名才能通过链上验证。
func NewPurchaser(
	chain ChainReader,
	submitter TxSubmitter,
	market marketplace.Market,
	saver Saver,
	pub journal.Publisher,
	key *ecdsa.PrivateKey,
	domain exchange.Domain,
	cfg PurchaserConfig,
) *Purchaser {
	if cfg.OwnershipPollAttempts <= 0 {
		cfg.OwnershipPollAttempts = defaultOwnershipPollAttempts
	}
	if cfg.OwnershipPollDelay <= 0 {
		cfg.OwnershipPollDelay = defaultOwnershipPollDelay
	}
	if cfg.RelistDuration <= 0 {
		cfg.RelistDuration = defaultRelistDuration
	}
	return &Purchaser{
		chain:     chain,
		submitter: submitter,
		market:    market,
		saver:     saver,
		journal:   pub,
		key:       key,
		domain:    domain,
		cfg:       cfg,
		log:       loggerFor("purchaser"),
	}
}

// Run 执行一次购买尝试。购买确认后立刻扣减佣金池并持久化，
// 之后才构建挂单：挂单失败不会回滚已确认的购买。
// 返回值指示本轮是否发生了链上动作。
func (p *Purchaser) Run(ctx context.Context, led *ledger.Ledger) (bool, error) {
	if p.cfg.Collection == (common.Address{}) || led.CommissionPoolWei.Sign() <= 0 {
		return false, nil
	}

	exec, err := p.market.BuyExecution(ctx, p.cfg.Collection, p.cfg.TokenID)
	if err != nil {
		return false, err
	}
	if exec == nil {
		return false, nil
	}
	if exec.PriceWei.Cmp(led.CommissionPoolWei) > 0 {
		p.log.Info("佣金池不足，跳过本轮购买",
			slog.String("price_wei", exec.PriceWei.String()),
			slog.String("pool_wei", led.CommissionPoolWei.String()),
		)
		return false, nil
	}

	router := exec.Router
	receipt, err := p.submitter.SubmitAndWait(ctx, ethchain.Intent{
		To:    &router,
		Value: exec.ValueWei,
		Data:  exec.Calldata,
	})
	if err != nil {
		return false, err
	}

	if !led.DebitCommission(exec.PriceWei) {
		return true, xerrors.New(xerrors.CodeInsufficientPool, "购买成交金额超出佣金池",
			xerrors.WithMetadata("price_wei", exec.PriceWei.String()))
	}
	if err := p.saver.Save(ctx, led); err != nil {
		return true, err
	}

	txHash := receipt.TxHash.Hex()
	p.log.Info("购买成交",
		slog.String("price_wei", exec.PriceWei.String()),
		slog.String("tx_hash", txHash),
	)
	logger.Audit().Info("purchase",
		slog.String("price_wei", exec.PriceWei.String()),
		slog.String("commission_pool_wei", led.CommissionPoolWei.String()),
		slog.String("tx_hash", txHash),
	)
	publish(ctx, p.journal, journal.NewEvent(journal.KindPurchase).
		WithAmount(exec.PriceWei.String()).
		WithTxHash(txHash))

	if exec.Blueprint == nil || len(exec.Blueprint.Offer) == 0 {
		p.log.Warn("市场未提供订单蓝图，资产暂不重新挂单")
		return true, nil
	}
	if err := p.relist(ctx, led, exec); err != nil {
		return true, err
	}
	return true, nil
}

// relist 按加价比例重建对价并把订单提交到交易所的链上验证入口。
func (p *Purchaser) relist(ctx context.Context, led *ledger.Ledger, exec *marketplace.Execution) error {
	blueprint := exec.Blueprint
	asset := blueprint.Offer[0]
	treasury := p.submitter.From()

	if err := p.awaitAsset(ctx, asset, treasury); err != nil {
		return err
	}
	if err := p.ensureConduitApproval(ctx, asset.Token, treasury); err != nil {
		return err
	}

	target := exchange.MarkupTotal(exec.PriceWei, p.cfg.MarkupBps)
	originals := make([]*big.Int, len(blueprint.Consideration))
	for i, line := range blueprint.Consideration {
		originals[i] = line.AmountWei
	}
	scaled, err := exchange.RescaleAmounts(originals, target)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeOrderInvalid, err, "对价缩放失败")
	}

	sellerProceeds := new(big.Int)
	consideration := make([]exchange.ConsiderationItem, len(blueprint.Consideration))
	for i, line := range blueprint.Consideration {
		recipient := line.Recipient
		if line.SellerProceeds {
			recipient = treasury
			sellerProceeds.Add(sellerProceeds, scaled[i])
		}
		identifier := line.Identifier
		if identifier == nil {
			identifier = new(big.Int)
		}
		consideration[i] = exchange.ConsiderationItem{
			ItemType:             line.ItemType,
			Token:                line.Token,
			IdentifierOrCriteria: identifier,
			StartAmount:          scaled[i],
			EndAmount:            scaled[i],
			Recipient:            recipient,
		}
	}

	now := time.Now()
	order := &exchange.OrderComponents{
		Offerer: treasury,
		Zone:    blueprint.Zone,
		Offer: []exchange.OfferItem{{
			ItemType:             asset.ItemType,
			Token:                asset.Token,
			IdentifierOrCriteria: asset.Identifier,
			StartAmount:          asset.Amount,
			EndAmount:            asset.Amount,
		}},
		Consideration:                   consideration,
		OrderType:                       blueprint.OrderType,
		StartTime:                       big.NewInt(now.Unix()),
		EndTime:                         big.NewInt(now.Add(p.cfg.RelistDuration).Unix()),
		Salt:                            exchange.NewSalt(),
		ConduitKey:                      p.cfg.ConduitKey,
		TotalOriginalConsiderationItems: big.NewInt(int64(len(consideration))),
		Counter:                         new(big.Int),
	}
	if blueprint.ConduitKey != (common.Hash{}) {
		order.ConduitKey = blueprint.ConduitKey
	}
	order.ZoneHash = blueprint.ZoneHash

	signature, err := exchange.SignOrder(p.domain, order, p.key)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeOrderInvalid, err, "订单签名失败")
	}
	calldata, err := exchange.BuildValidateCalldata(order, signature)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeOrderInvalid, err, "构建 validate calldata 失败")
	}
	verifier := p.domain.Verifier
	if _, err := p.submitter.SubmitAndWait(ctx, ethchain.Intent{
		To:   &verifier,
		Data: calldata,
	}); err != nil {
		return err
	}

	orderHash := exchange.OrderHash(order)
	listing := &ledger.ActiveListing{
		OrderHash:           orderHash,
		Collection:          asset.Token,
		TokenID:             asset.Identifier,
		ExpectedProceedsWei: sellerProceeds,
		ListedAtMs:          now.UnixMilli(),
		Standard:            ledger.StandardSingleOwner,
		Quantity:            asset.Amount,
	}
	if asset.ItemType == exchange.ItemTypeERC1155 {
		listing.Standard = ledger.StandardBalance
		balance, err := p.chain.BalanceOfAsset(ctx, asset.Token, treasury, asset.Identifier)
		if err != nil {
			return err
		}
		expected := new(big.Int).Sub(balance, asset.Amount)
		if expected.Sign() < 0 {
			expected = new(big.Int)
		}
		listing.ExpectedPostSaleBalance = expected
	}
	led.AddListing(listing)
	if err := p.saver.Save(ctx, led); err != nil {
		return err
	}

	p.log.Info("重新挂单完成",
		slog.String("order_hash", orderHash.Hex()),
		slog.String("list_total_wei", target.String()),
		slog.String("seller_proceeds_wei", sellerProceeds.String()),
	)
	logger.Audit().Info("listing_created",
		slog.String("order_hash", orderHash.Hex()),
		slog.String("list_total_wei", target.String()),
		slog.String("seller_proceeds_wei", sellerProceeds.String()),
	)
	publish(ctx, p.journal, journal.NewEvent(journal.KindListingCreated).
		WithAmount(target.String()).
		WithOrderHash(orderHash.Hex()))

	// 市场侧同步失败不影响已在链上生效的挂单。
	if _, err := p.market.PublishListing(ctx, *order, signature); err != nil {
		p.log.Warn("向市场同步挂单失败",
			slog.String("order_hash", orderHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// awaitAsset 轮询资产到账，容忍购买确认后的索引延迟。
func (p *Purchaser) awaitAsset(ctx context.Context, asset marketplace.OfferLine, treasury common.Address) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.OwnershipPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.OwnershipPollDelay):
			}
		}
		if asset.ItemType == exchange.ItemTypeERC1155 {
			balance, err := p.chain.BalanceOfAsset(ctx, asset.Token, treasury, asset.Identifier)
			if err != nil {
				lastErr = err
				continue
			}
			if balance.Cmp(asset.Amount) >= 0 {
				return nil
			}
		} else {
			owner, err := p.chain.OwnerOf(ctx, asset.Token, asset.Identifier)
			if err != nil {
				lastErr = err
				continue
			}
			if owner == treasury {
				return nil
			}
		}
	}
	return xerrors.Wrap(xerrors.CodeChainRead, lastErr, "购买确认后未观察到资产到账",
		xerrors.WithMetadata("collection", asset.Token.Hex()))
}

// ensureConduitApproval 确认中转合约对该集合有转移授权，缺失时补交一次授权。
func (p *Purchaser) ensureConduitApproval(ctx context.Context, collection, treasury common.Address) error {
	approved, err := p.chain.IsApprovedForAll(ctx, collection, treasury, p.cfg.ConduitOperator)
	if err != nil {
		return err
	}
	if approved {
		return nil
	}
	calldata, err := ethchain.ApprovalCalldata(p.cfg.ConduitOperator, true)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainWrite, err, "构建授权 calldata 失败")
	}
	target := collection
	if _, err := p.submitter.SubmitAndWait(ctx, ethchain.Intent{To: &target, Data: calldata}); err != nil {
		return err
	}
	p.log.Info("已为中转合约补交集合授权",
		slog.String("collection", collection.Hex()),
		slog.String("operator", p.cfg.ConduitOperator.Hex()),
	)
	return nil
}
