package ledger

import (
	"encoding/json"
	"os"

	xerrors "TreasuryAgent/internal/errors"
)

// legacySnapshot 对应旧版进程落盘的扁平 JSON 快照。字段语义与现行账本
// 一致，version 可缺省。该格式只在首次启动且尚无持久化存储时被导入一次，
// 之后即可删除快照文件。
type legacySnapshot struct {
	Version            int             `json:"version"`
	CommissionPoolWei  string          `json:"commissionPoolWei"`
	SalePoolWei        string          `json:"salePoolWei"`
	PendingBurnAmount  string          `json:"pendingBurnAmount"`
	PendingBurnCostWei string          `json:"pendingBurnCostWei"`
	LastTaxBlock       string          `json:"lastTaxBlock"`
	Listings           []legacyListing `json:"listings"`
}

type legacyListing struct {
	OrderHash               string  `json:"orderHash"`
	Collection              string  `json:"collection"`
	TokenID                 string  `json:"tokenId"`
	ExpectedProceedsWei     string  `json:"expectedProceedsWei"`
	ListedAtMs              int64   `json:"listedAt"`
	TokenStandard           string  `json:"tokenStandard"`
	ListedQuantity          string  `json:"listedQuantity"`
	ExpectedPostSaleBalance *string `json:"expectedPostSaleBalance"`
}

// ImportLegacySnapshot 读取遗留快照。文件不存在返回 found=false；
// 其余任何读取或解析错误都必须向上传播，绝不能把损坏的快照当成空账本。
func ImportLegacySnapshot(path string) (*Ledger, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取遗留快照失败")
	}

	var snapshot legacySnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析遗留快照失败")
	}

	record := persistedLedger{
		Version:            snapshot.Version,
		CommissionPoolWei:  snapshot.CommissionPoolWei,
		SalePoolWei:        snapshot.SalePoolWei,
		PendingBurnAmount:  snapshot.PendingBurnAmount,
		PendingBurnCostWei: snapshot.PendingBurnCostWei,
		LastTaxBlock:       snapshot.LastTaxBlock,
	}
	for _, entry := range snapshot.Listings {
		record.Listings = append(record.Listings, persistedListing{
			OrderHash:               entry.OrderHash,
			Collection:              entry.Collection,
			TokenID:                 entry.TokenID,
			ExpectedProceedsWei:     entry.ExpectedProceedsWei,
			ListedAtMs:              entry.ListedAtMs,
			TokenStandard:           entry.TokenStandard,
			ListedQuantity:          entry.ListedQuantity,
			ExpectedPostSaleBalance: entry.ExpectedPostSaleBalance,
		})
	}
	l, err := decodePersisted(&record)
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遗留快照字段非法")
	}
	if l.Version == 0 {
		l.Version = MinSupportedVersion
	}
	normalize(l)
	return l, true, nil
}
