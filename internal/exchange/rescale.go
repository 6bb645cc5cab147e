package exchange

import (
	"errors"
	"math/big"
)

var bpsDenominator = big.NewInt(10_000)

// MarkupTotal 返回加价后的目标总额：ceil(cost * markupBps / 10000)。
func MarkupTotal(cost *big.Int, markupBps int64) *big.Int {
	product := new(big.Int).Mul(cost, big.NewInt(markupBps))
	quo, rem := new(big.Int).QuoRem(product, bpsDenominator, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// RescaleAmounts 将一组原始对价金额按比例缩放到新的总额。
// 每项按 floor(original * target / originalTotal) 取值，末项吸收舍入余量，
// 保证缩放后各项之和严格等于目标总额。
func RescaleAmounts(originals []*big.Int, targetTotal *big.Int) ([]*big.Int, error) {
	if len(originals) == 0 {
		return nil, errors.New("对价列表为空")
	}
	originalTotal := new(big.Int)
	for _, amount := range originals {
		if amount == nil || amount.Sign() < 0 {
			return nil, errors.New("对价金额非法")
		}
		originalTotal.Add(originalTotal, amount)
	}
	if originalTotal.Sign() == 0 {
		return nil, errors.New("原始对价总额为零")
	}
	if targetTotal == nil || targetTotal.Sign() <= 0 {
		return nil, errors.New("目标总额必须为正")
	}

	scaled := make([]*big.Int, len(originals))
	assigned := new(big.Int)
	for i, amount := range originals {
		share := new(big.Int).Mul(amount, targetTotal)
		share.Quo(share, originalTotal)
		scaled[i] = share
		assigned.Add(assigned, share)
	}
	remainder := new(big.Int).Sub(targetTotal, assigned)
	last := scaled[len(scaled)-1]
	last.Add(last, remainder)
	if last.Sign() < 0 {
		return nil, errors.New("末项吸收余量后为负")
	}
	return scaled, nil
}
