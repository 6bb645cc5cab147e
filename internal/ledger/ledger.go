package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// CurrentVersion 是当前进程写入的账本版本号。
	CurrentVersion = 3
	// MinSupportedVersion 是可接受的最低版本，低于它的快照加载时被钳位抬升。
	MinSupportedVersion = 2
)

// TokenStandard 区分两种资产形态：独占所有权与数量余额。
type TokenStandard string

const (
	StandardSingleOwner TokenStandard = "erc721"
	StandardBalance     TokenStandard = "erc1155"
)

// ActiveListing 记录一笔在售挂单，OrderHash 全局唯一。
type ActiveListing struct {
	OrderHash           common.Hash
	Collection          common.Address
	TokenID             *big.Int
	ExpectedProceedsWei *big.Int
	ListedAtMs          int64
	Standard            TokenStandard
	Quantity            *big.Int
	// ExpectedPostSaleBalance 仅对余额型资产有意义：余额降到该值及以下
	// 即视为挂单成交。nil 表示未记录，对账时按零处理。
	ExpectedPostSaleBalance *big.Int
}

// Ledger 是进程唯一持有的财务状态。所有资金字段均为非负整数（wei）。
// 它只被主循环中的四个服务串行修改，不需要加锁。
type Ledger struct {
	Version            int
	CommissionPoolWei  *big.Int
	SalePoolWei        *big.Int
	PendingBurnAmount  *big.Int
	PendingBurnCostWei *big.Int
	LastTaxBlock       uint64
	Listings           []*ActiveListing
}

// New 构造默认账本，lastTaxBlock 从给定区块开始。
func New(initialBlock uint64) *Ledger {
	return &Ledger{
		Version:            CurrentVersion,
		CommissionPoolWei:  new(big.Int),
		SalePoolWei:        new(big.Int),
		PendingBurnAmount:  new(big.Int),
		PendingBurnCostWei: new(big.Int),
		LastTaxBlock:       initialBlock,
	}
}

// CreditCommission 将税收所得计入佣金池。
func (l *Ledger) CreditCommission(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.CommissionPoolWei.Add(l.CommissionPoolWei, amount)
}

// DebitCommission 从佣金池扣除支出，余额不足时返回 false 且不做任何修改。
func (l *Ledger) DebitCommission(amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 || l.CommissionPoolWei.Cmp(amount) < 0 {
		return false
	}
	l.CommissionPoolWei.Sub(l.CommissionPoolWei, amount)
	return true
}

// CreditSalePool 将挂单成交所得计入回购池。
func (l *Ledger) CreditSalePool(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.SalePoolWei.Add(l.SalePoolWei, amount)
}

// DebitSalePoolCapped 按记录成本扣减回购池，上限为当前余额，池永不为负。
func (l *Ledger) DebitSalePoolCapped(cost *big.Int) {
	if cost == nil || cost.Sign() <= 0 {
		return
	}
	if l.SalePoolWei.Cmp(cost) < 0 {
		l.SalePoolWei.SetInt64(0)
		return
	}
	l.SalePoolWei.Sub(l.SalePoolWei, cost)
}

// HasPendingBurn 判断是否存在已换购但尚未销毁的代币。
func (l *Ledger) HasPendingBurn() bool {
	return l.PendingBurnAmount != nil && l.PendingBurnAmount.Sign() > 0
}

// SetPendingBurn 记录换购结果，这是崩溃恢复边界：重启后直接进入销毁阶段。
func (l *Ledger) SetPendingBurn(amount, cost *big.Int) {
	l.PendingBurnAmount = new(big.Int).Set(amount)
	l.PendingBurnCostWei = new(big.Int).Set(cost)
}

// ClearPendingBurn 在销毁确认后清空待销毁字段。
func (l *Ledger) ClearPendingBurn() {
	l.PendingBurnAmount = new(big.Int)
	l.PendingBurnCostWei = new(big.Int)
}

// AdvanceTaxBlock 只会推进扫描高度，忽略任何回退。
func (l *Ledger) AdvanceTaxBlock(block uint64) {
	if block > l.LastTaxBlock {
		l.LastTaxBlock = block
	}
}

// AddListing 追加一笔挂单，保持按挂单时间的插入序。
func (l *Ledger) AddListing(listing *ActiveListing) {
	if listing == nil {
		return
	}
	l.Listings = append(l.Listings, listing)
}

// RemoveListing 按订单哈希移除挂单。
func (l *Ledger) RemoveListing(orderHash common.Hash) bool {
	for i, listing := range l.Listings {
		if listing.OrderHash == orderHash {
			l.Listings = append(l.Listings[:i], l.Listings[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot 导出一份只读快照，状态接口在持久化边界之外读取它。
type Snapshot struct {
	Version            int    `json:"version"`
	CommissionPoolWei  string `json:"commission_pool_wei"`
	SalePoolWei        string `json:"sale_pool_wei"`
	PendingBurnAmount  string `json:"pending_burn_amount"`
	PendingBurnCostWei string `json:"pending_burn_cost_wei"`
	LastTaxBlock       uint64 `json:"last_tax_block"`
	ActiveListings     int    `json:"active_listings"`
}

// Snapshot 返回当前账本的摘要快照。
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		Version:            l.Version,
		CommissionPoolWei:  l.CommissionPoolWei.String(),
		SalePoolWei:        l.SalePoolWei.String(),
		PendingBurnAmount:  l.PendingBurnAmount.String(),
		PendingBurnCostWei: l.PendingBurnCostWei.String(),
		LastTaxBlock:       l.LastTaxBlock,
		ActiveListings:     len(l.Listings),
	}
}
