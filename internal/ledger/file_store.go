package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
)

// persistedLedger 是落盘的 JSON 结构，大整数一律用十进制字符串编码。
type persistedLedger struct {
	Version            int                `json:"version"`
	CommissionPoolWei  string             `json:"commission_pool_wei"`
	SalePoolWei        string             `json:"sale_pool_wei"`
	PendingBurnAmount  string             `json:"pending_burn_amount"`
	PendingBurnCostWei string             `json:"pending_burn_cost_wei"`
	LastTaxBlock       string             `json:"last_tax_block"`
	Listings           []persistedListing `json:"listings"`
}

type persistedListing struct {
	OrderHash               string  `json:"order_hash"`
	Collection              string  `json:"collection"`
	TokenID                 string  `json:"token_id"`
	ExpectedProceedsWei     string  `json:"expected_proceeds_wei"`
	ListedAtMs              int64   `json:"listed_at_ms"`
	TokenStandard           string  `json:"token_standard"`
	ListedQuantity          string  `json:"listed_quantity"`
	ExpectedPostSaleBalance *string `json:"expected_post_sale_balance"`
}

// FileStore 把账本存成单个 JSON 文件，适合开发与测试环境。
// 写入走临时文件加原子重命名，崩溃时旧快照保持完整可读。
type FileStore struct {
	path string
}

// NewFileStore 创建文件存储，必要时建立父目录。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("账本文件路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建账本目录失败: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load 读取账本文件；文件不存在时返回 exists=false。
func (s *FileStore) Load(_ context.Context) (*Ledger, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("读取账本文件失败: %w", err)
	}
	var record persistedLedger
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("解析账本文件失败: %w", err)
	}
	l, err := decodePersisted(&record)
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// Save 以全量替换的方式写出账本。
func (s *FileStore) Save(_ context.Context, l *Ledger) error {
	record := encodePersisted(l)
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化账本失败: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("写入账本临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换账本文件失败: %w", err)
	}
	return nil
}

// Close 满足 Store 接口，文件存储无需清理。
func (s *FileStore) Close() error { return nil }

func encodePersisted(l *Ledger) *persistedLedger {
	record := &persistedLedger{
		Version:            l.Version,
		CommissionPoolWei:  weiString(l.CommissionPoolWei),
		SalePoolWei:        weiString(l.SalePoolWei),
		PendingBurnAmount:  weiString(l.PendingBurnAmount),
		PendingBurnCostWei: weiString(l.PendingBurnCostWei),
		LastTaxBlock:       new(big.Int).SetUint64(l.LastTaxBlock).String(),
		Listings:           make([]persistedListing, 0, len(l.Listings)),
	}
	for _, listing := range l.Listings {
		entry := persistedListing{
			OrderHash:           listing.OrderHash.Hex(),
			Collection:          listing.Collection.Hex(),
			TokenID:             weiString(listing.TokenID),
			ExpectedProceedsWei: weiString(listing.ExpectedProceedsWei),
			ListedAtMs:          listing.ListedAtMs,
			TokenStandard:       string(listing.Standard),
			ListedQuantity:      weiString(listing.Quantity),
		}
		if listing.ExpectedPostSaleBalance != nil {
			balance := listing.ExpectedPostSaleBalance.String()
			entry.ExpectedPostSaleBalance = &balance
		}
		record.Listings = append(record.Listings, entry)
	}
	return record
}

func decodePersisted(record *persistedLedger) (*Ledger, error) {
	commission, err := parseWei("commission_pool_wei", record.CommissionPoolWei)
	if err != nil {
		return nil, err
	}
	salePool, err := parseWei("sale_pool_wei", record.SalePoolWei)
	if err != nil {
		return nil, err
	}
	pendingAmount, err := parseWei("pending_burn_amount", record.PendingBurnAmount)
	if err != nil {
		return nil, err
	}
	pendingCost, err := parseWei("pending_burn_cost_wei", record.PendingBurnCostWei)
	if err != nil {
		return nil, err
	}
	lastBlock, err := parseWei("last_tax_block", record.LastTaxBlock)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		Version:            record.Version,
		CommissionPoolWei:  commission,
		SalePoolWei:        salePool,
		PendingBurnAmount:  pendingAmount,
		PendingBurnCostWei: pendingCost,
		LastTaxBlock:       lastBlock.Uint64(),
	}
	for _, entry := range record.Listings {
		listing, err := decodeListing(entry)
		if err != nil {
			return nil, err
		}
		l.Listings = append(l.Listings, listing)
	}
	return l, nil
}

func decodeListing(entry persistedListing) (*ActiveListing, error) {
	tokenID, err := parseWei("token_id", entry.TokenID)
	if err != nil {
		return nil, err
	}
	proceeds, err := parseWei("expected_proceeds_wei", entry.ExpectedProceedsWei)
	if err != nil {
		return nil, err
	}
	quantity, err := parseWei("listed_quantity", entry.ListedQuantity)
	if err != nil {
		return nil, err
	}
	if quantity.Sign() == 0 {
		quantity = big.NewInt(1)
	}
	listing := &ActiveListing{
		OrderHash:           common.HexToHash(entry.OrderHash),
		Collection:          common.HexToAddress(entry.Collection),
		TokenID:             tokenID,
		ExpectedProceedsWei: proceeds,
		ListedAtMs:          entry.ListedAtMs,
		Standard:            TokenStandard(entry.TokenStandard),
		Quantity:            quantity,
	}
	if entry.ExpectedPostSaleBalance != nil {
		balance, err := parseWei("expected_post_sale_balance", *entry.ExpectedPostSaleBalance)
		if err != nil {
			return nil, err
		}
		listing.ExpectedPostSaleBalance = balance
	}
	return listing, nil
}
