package exchange

import (
	"math/big"
	"testing"
)

func TestMarkupTotalCeils(t *testing.T) {
	cases := []struct {
		cost   int64
		bps    int64
		expect int64
	}{
		{1200, 10833, 1300}, // 1200*10833/10000 = 1299.96 → 1300
		{1000, 10000, 1000}, // 恰好整除
		{1, 10001, 2},
		{1000, 12_000, 1200},
	}
	for _, tc := range cases {
		got := MarkupTotal(big.NewInt(tc.cost), tc.bps)
		if got.Int64() != tc.expect {
			t.Errorf("MarkupTotal(%d, %d) = %d, want %d", tc.cost, tc.bps, got.Int64(), tc.expect)
		}
	}
}

func TestRescaleAmountsConservesTotal(t *testing.T) {
	originals := []*big.Int{big.NewInt(975), big.NewInt(25)}
	target := big.NewInt(1300)

	scaled, err := RescaleAmounts(originals, target)
	if err != nil {
		t.Fatalf("rescale: %v", err)
	}
	sum := new(big.Int)
	for _, v := range scaled {
		sum.Add(sum, v)
	}
	if sum.Cmp(target) != 0 {
		t.Fatalf("scaled sum %s, want %s", sum, target)
	}
	// floor(975*1300/1000)=1267, floor(25*1300/1000)=32，末项吸收 1 的余量。
	if scaled[0].Int64() != 1267 || scaled[1].Int64() != 33 {
		t.Fatalf("unexpected split: %v / %v", scaled[0], scaled[1])
	}
}

func TestRescaleAmountsRemainderGoesToLastItem(t *testing.T) {
	originals := []*big.Int{big.NewInt(1), big.NewInt(1), big.NewInt(1)}
	target := big.NewInt(100)

	scaled, err := RescaleAmounts(originals, target)
	if err != nil {
		t.Fatalf("rescale: %v", err)
	}
	if scaled[0].Int64() != 33 || scaled[1].Int64() != 33 || scaled[2].Int64() != 34 {
		t.Fatalf("unexpected split: %v", scaled)
	}
}

func TestRescaleAmountsRejectsDegenerateInput(t *testing.T) {
	if _, err := RescaleAmounts(nil, big.NewInt(10)); err == nil {
		t.Fatal("empty list should fail")
	}
	if _, err := RescaleAmounts([]*big.Int{big.NewInt(0)}, big.NewInt(10)); err == nil {
		t.Fatal("zero original total should fail")
	}
	if _, err := RescaleAmounts([]*big.Int{big.NewInt(5)}, big.NewInt(0)); err == nil {
		t.Fatal("zero target should fail")
	}
}
