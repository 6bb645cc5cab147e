package exchange

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// 链上验证合约使用的 EIP-712 类型串。OrderComponents 的 typehash 按照
// EIP-712 规则在主类型串后依次拼接被引用的子类型串（按字母序）。
const (
	offerItemTypeString         = "OfferItem(uint8 itemType,address token,uint256 identifierOrCriteria,uint256 startAmount,uint256 endAmount)"
	considerationItemTypeString = "ConsiderationItem(uint8 itemType,address token,uint256 identifierOrCriteria,uint256 startAmount,uint256 endAmount,address recipient)"
	orderComponentsTypeString   = "OrderComponents(address offerer,address zone,OfferItem[] offer,ConsiderationItem[] consideration,uint8 orderType,uint256 startTime,uint256 endTime,bytes32 zoneHash,uint256 salt,bytes32 conduitKey,uint256 counter)"
	eip712DomainTypeString      = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"

	protocolName    = "Seaport"
	protocolVersion = "1.6"
)

var (
	offerItemTypeHash         = crypto.Keccak256Hash([]byte(offerItemTypeString))
	considerationItemTypeHash = crypto.Keccak256Hash([]byte(considerationItemTypeString))
	orderTypeHash             = crypto.Keccak256Hash([]byte(orderComponentsTypeString + considerationItemTypeString + offerItemTypeString))
	domainTypeHash            = crypto.Keccak256Hash([]byte(eip712DomainTypeString))
	protocolNameHash          = crypto.Keccak256Hash([]byte(protocolName))
	protocolVersionHash       = crypto.Keccak256Hash([]byte(protocolVersion))
)

// Domain 标识订单摘要绑定的链与验证合约。
type Domain struct {
	ChainID  *big.Int
	Verifier common.Address
}

// Separator 计算 EIP-712 域分隔符。
func (d Domain) Separator() common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		protocolNameHash.Bytes(),
		protocolVersionHash.Bytes(),
		uintWord(d.ChainID),
		addressWord(d.Verifier),
	)
}

// OrderHash 计算订单的结构哈希，与链上验证合约逐位一致。
func OrderHash(order *OrderComponents) common.Hash {
	offerHashes := make([]byte, 0, len(order.Offer)*common.HashLength)
	for _, item := range order.Offer {
		h := crypto.Keccak256(
			offerItemTypeHash.Bytes(),
			uintWord(big.NewInt(int64(item.ItemType))),
			addressWord(item.Token),
			uintWord(item.IdentifierOrCriteria),
			uintWord(item.StartAmount),
			uintWord(item.EndAmount),
		)
		offerHashes = append(offerHashes, h...)
	}
	considerationHashes := make([]byte, 0, len(order.Consideration)*common.HashLength)
	for _, item := range order.Consideration {
		h := crypto.Keccak256(
			considerationItemTypeHash.Bytes(),
			uintWord(big.NewInt(int64(item.ItemType))),
			addressWord(item.Token),
			uintWord(item.IdentifierOrCriteria),
			uintWord(item.StartAmount),
			uintWord(item.EndAmount),
			addressWord(item.Recipient),
		)
		considerationHashes = append(considerationHashes, h...)
	}

	// 空数组哈希为 keccak("")，而不是零值。
	return crypto.Keccak256Hash(
		orderTypeHash.Bytes(),
		addressWord(order.Offerer),
		addressWord(order.Zone),
		crypto.Keccak256(offerHashes),
		crypto.Keccak256(considerationHashes),
		uintWord(big.NewInt(int64(order.OrderType))),
		uintWord(order.StartTime),
		uintWord(order.EndTime),
		order.ZoneHash.Bytes(),
		uintWord(order.Salt),
		order.ConduitKey.Bytes(),
		uintWord(order.Counter),
	)
}

// SigningDigest 计算最终签名摘要：keccak(0x1901 || domainSeparator || orderHash)。
func SigningDigest(domain Domain, orderHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domain.Separator().Bytes(),
		orderHash.Bytes(),
	)
}

// SignOrder 对订单摘要进行签名，返回 65 字节的 r||s||v 签名（v 为 27/28）。
func SignOrder(domain Domain, order *OrderComponents, key *ecdsa.PrivateKey) ([]byte, error) {
	digest := SigningDigest(domain, OrderHash(order))
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("签名订单失败: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func uintWord(v *big.Int) []byte {
	if v == nil {
		return make([]byte, common.HashLength)
	}
	return common.LeftPadBytes(v.Bytes(), common.HashLength)
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), common.HashLength)
}
