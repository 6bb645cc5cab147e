package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ItemType 对应交易协议中报价/对价条目的资产类型。
type ItemType uint8

const (
	ItemTypeNative ItemType = iota
	ItemTypeERC20
	ItemTypeERC721
	ItemTypeERC1155
	ItemTypeERC721WithCriteria
	ItemTypeERC1155WithCriteria
)

// OrderType 对应订单的履约限制类型。
type OrderType uint8

const (
	OrderTypeFullOpen OrderType = iota
	OrderTypePartialOpen
	OrderTypeFullRestricted
	OrderTypePartialRestricted
)

// OfferItem 描述订单中卖方提供的一项资产。
type OfferItem struct {
	ItemType             ItemType
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
}

// ConsiderationItem 描述订单中某个接收方应得的一项对价。
type ConsiderationItem struct {
	ItemType             ItemType
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
	Recipient            common.Address
}

// OrderComponents 是订单的完整不可变描述，字段顺序与链上验证合约一致。
// TotalOriginalConsiderationItems 参与订单构造与校验，但不参与摘要计算，
// 链上验证器的 typehash 不包含它。
type OrderComponents struct {
	Offerer                         common.Address
	Zone                            common.Address
	Offer                           []OfferItem
	Consideration                   []ConsiderationItem
	OrderType                       OrderType
	StartTime                       *big.Int
	EndTime                         *big.Int
	ZoneHash                        common.Hash
	Salt                            *big.Int
	ConduitKey                      common.Hash
	TotalOriginalConsiderationItems *big.Int
	Counter                         *big.Int
}

// NewSalt 生成一个随机订单盐值。
func NewSalt() *big.Int {
	id := uuid.New()
	return new(big.Int).SetBytes(id[:])
}
