package ledger

import (
	"context"
	"fmt"
	"math/big"

	xerrors "TreasuryAgent/internal/errors"
)

// Store 抽象账本的持久化后端。Load 的第二个返回值表示持久化存储是否已存在。
type Store interface {
	Load(ctx context.Context) (*Ledger, bool, error)
	Save(ctx context.Context, l *Ledger) error
	Close() error
}

// Open 解析账本的三条构造路径，优先级固定：
//  1. 已有持久化存储 → 直接读取（版本钳位到最低支持版本）；
//  2. 没有存储时，尝试一次性导入遗留快照文件；
//  3. 两者都没有 → 按默认值新建，lastTaxBlock 从 initialBlock 起。
//
// 无论走哪条路径，返回前都立即持久化一次，保证之后的每次加载都能命中存储。
func Open(ctx context.Context, store Store, legacyPath string, initialBlock uint64) (*Ledger, error) {
	l, exists, err := store.Load(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "加载账本失败")
	}

	if exists {
		if l.Version < MinSupportedVersion {
			l.Version = MinSupportedVersion
		}
		normalize(l)
	} else {
		imported, found, err := ImportLegacySnapshot(legacyPath)
		if err != nil {
			return nil, err
		}
		if found {
			l = imported
		} else {
			l = New(initialBlock)
		}
	}

	if err := store.Save(ctx, l); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始持久化账本失败")
	}
	return l, nil
}

// normalize 补齐历史版本快照中可能缺失的字段，保证资金字段永不为 nil。
func normalize(l *Ledger) {
	if l.CommissionPoolWei == nil {
		l.CommissionPoolWei = new(big.Int)
	}
	if l.SalePoolWei == nil {
		l.SalePoolWei = new(big.Int)
	}
	if l.PendingBurnAmount == nil {
		l.PendingBurnAmount = new(big.Int)
	}
	if l.PendingBurnCostWei == nil {
		l.PendingBurnCostWei = new(big.Int)
	}
	for _, listing := range l.Listings {
		if listing.Quantity == nil {
			listing.Quantity = big.NewInt(1)
		}
	}
}

// parseWei 解析十进制字符串表示的非负整数。
func parseWei(field, raw string) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("字段 %s 的数值非法: %q", field, raw)
	}
	return v, nil
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
