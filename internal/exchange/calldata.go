package exchange

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// validateABI 只包含交易协议合约的 validate 入口，挂单前先在链上声明订单有效。
const validateABI = `[{"inputs":[{"components":[{"components":[{"name":"offerer","type":"address"},{"name":"zone","type":"address"},{"components":[{"name":"itemType","type":"uint8"},{"name":"token","type":"address"},{"name":"identifierOrCriteria","type":"uint256"},{"name":"startAmount","type":"uint256"},{"name":"endAmount","type":"uint256"}],"name":"offer","type":"tuple[]"},{"components":[{"name":"itemType","type":"uint8"},{"name":"token","type":"address"},{"name":"identifierOrCriteria","type":"uint256"},{"name":"startAmount","type":"uint256"},{"name":"endAmount","type":"uint256"},{"name":"recipient","type":"address"}],"name":"consideration","type":"tuple[]"},{"name":"orderType","type":"uint8"},{"name":"startTime","type":"uint256"},{"name":"endTime","type":"uint256"},{"name":"zoneHash","type":"bytes32"},{"name":"salt","type":"uint256"},{"name":"conduitKey","type":"bytes32"},{"name":"totalOriginalConsiderationItems","type":"uint256"}],"name":"parameters","type":"tuple"},{"name":"signature","type":"bytes"}],"name":"orders","type":"tuple[]"}],"name":"validate","outputs":[{"name":"validated","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

var parsedValidateABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(validateABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

type abiOfferItem struct {
	ItemType             uint8
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
}

type abiConsiderationItem struct {
	ItemType             uint8
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
	Recipient            common.Address
}

type abiOrderParameters struct {
	Offerer                         common.Address
	Zone                            common.Address
	Offer                           []abiOfferItem
	Consideration                   []abiConsiderationItem
	OrderType                       uint8
	StartTime                       *big.Int
	EndTime                         *big.Int
	ZoneHash                        [32]byte
	Salt                            *big.Int
	ConduitKey                      [32]byte
	TotalOriginalConsiderationItems *big.Int
}

type abiOrder struct {
	Parameters abiOrderParameters
	Signature  []byte
}

// BuildValidateCalldata 将签名后的订单编码为 validate 调用数据。
func BuildValidateCalldata(order *OrderComponents, signature []byte) ([]byte, error) {
	offer := make([]abiOfferItem, len(order.Offer))
	for i, item := range order.Offer {
		offer[i] = abiOfferItem{
			ItemType:             uint8(item.ItemType),
			Token:                item.Token,
			IdentifierOrCriteria: orZero(item.IdentifierOrCriteria),
			StartAmount:          orZero(item.StartAmount),
			EndAmount:            orZero(item.EndAmount),
		}
	}
	consideration := make([]abiConsiderationItem, len(order.Consideration))
	for i, item := range order.Consideration {
		consideration[i] = abiConsiderationItem{
			ItemType:             uint8(item.ItemType),
			Token:                item.Token,
			IdentifierOrCriteria: orZero(item.IdentifierOrCriteria),
			StartAmount:          orZero(item.StartAmount),
			EndAmount:            orZero(item.EndAmount),
			Recipient:            item.Recipient,
		}
	}

	total := order.TotalOriginalConsiderationItems
	if total == nil {
		total = big.NewInt(int64(len(order.Consideration)))
	}

	payload := abiOrder{
		Parameters: abiOrderParameters{
			Offerer:                         order.Offerer,
			Zone:                            order.Zone,
			Offer:                           offer,
			Consideration:                   consideration,
			OrderType:                       uint8(order.OrderType),
			StartTime:                       orZero(order.StartTime),
			EndTime:                         orZero(order.EndTime),
			ZoneHash:                        order.ZoneHash,
			Salt:                            orZero(order.Salt),
			ConduitKey:                      order.ConduitKey,
			TotalOriginalConsiderationItems: total,
		},
		Signature: signature,
	}

	data, err := parsedValidateABI.Pack("validate", []abiOrder{payload})
	if err != nil {
		return nil, fmt.Errorf("编码 validate 调用失败: %w", err)
	}
	return data, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
