package marketplace

import (
	"context"
	"math/big"

	"TreasuryAgent/internal/exchange"

	"github.com/ethereum/go-ethereum/common"
)

// ConsiderationLine 描述订单蓝图中的一条对价：金额、接收方，
// 以及该行是否属于卖方所得（重新挂单时需要改写接收方的那一行）。
type ConsiderationLine struct {
	ItemType       exchange.ItemType
	Token          common.Address
	Identifier     *big.Int
	AmountWei      *big.Int
	Recipient      common.Address
	SellerProceeds bool
}

// OfferLine 描述订单蓝图中的一项报价资产。
type OfferLine struct {
	ItemType   exchange.ItemType
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
}

// Blueprint 是市场方给出的订单模板，重新挂单时以它为底稿。
type Blueprint struct {
	Zone          common.Address
	ZoneHash      common.Hash
	OrderType     exchange.OrderType
	ConduitKey    common.Hash
	Offer         []OfferLine
	Consideration []ConsiderationLine
}

// Execution 是一次购买的完整执行载荷：直接按 calldata 发往路由合约即可成交。
type Execution struct {
	Router    common.Address
	Calldata  []byte
	ValueWei  *big.Int
	PriceWei  *big.Int
	Blueprint *Blueprint
}

// Listing 是市场方受理挂单后的回执。
type Listing struct {
	ID        string
	OrderHash common.Hash
}

// Market 定义金库与交易市场之间的边界。
type Market interface {
	// BuyExecution 查询目标资产的最优卖单并返回执行载荷。
	// tokenID 为 nil 表示集合维度的最优可买；无可买卖单时返回 (nil, nil)。
	BuyExecution(ctx context.Context, collection common.Address, tokenID *big.Int) (*Execution, error)
	// PublishListing 把已在链上验证过的订单同步给市场方，便于撮合展示。
	PublishListing(ctx context.Context, order exchange.OrderComponents, signature []byte) (*Listing, error)
}
