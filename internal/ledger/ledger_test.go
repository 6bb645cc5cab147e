package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCreditIgnoresNonPositiveAmounts(t *testing.T) {
	led := New(0)
	led.CreditCommission(nil)
	led.CreditCommission(big.NewInt(0))
	led.CreditCommission(big.NewInt(-5))
	led.CreditSalePool(big.NewInt(-5))

	if led.CommissionPoolWei.Sign() != 0 || led.SalePoolWei.Sign() != 0 {
		t.Fatalf("pools changed: %s / %s", led.CommissionPoolWei, led.SalePoolWei)
	}
}

func TestPendingBurnLifecycle(t *testing.T) {
	led := New(0)
	if led.HasPendingBurn() {
		t.Fatal("fresh ledger should have no pending burn")
	}

	amount := big.NewInt(5000)
	cost := big.NewInt(1300)
	led.SetPendingBurn(amount, cost)
	if !led.HasPendingBurn() {
		t.Fatal("pending burn not recorded")
	}

	// 记录的是副本，调用方后续修改不应影响账本。
	amount.SetInt64(1)
	if got := led.PendingBurnAmount.Int64(); got != 5000 {
		t.Fatalf("pending amount aliased: %d", got)
	}

	led.ClearPendingBurn()
	if led.HasPendingBurn() {
		t.Fatal("pending burn not cleared")
	}
}

func TestRemoveListingByOrderHash(t *testing.T) {
	led := New(0)
	first := common.HexToHash("0x01")
	second := common.HexToHash("0x02")
	led.AddListing(&ActiveListing{OrderHash: first, ExpectedProceedsWei: big.NewInt(1)})
	led.AddListing(&ActiveListing{OrderHash: second, ExpectedProceedsWei: big.NewInt(2)})

	if !led.RemoveListing(first) {
		t.Fatal("remove existing listing failed")
	}
	if led.RemoveListing(first) {
		t.Fatal("second removal should report missing")
	}
	if len(led.Listings) != 1 || led.Listings[0].OrderHash != second {
		t.Fatalf("unexpected listings: %+v", led.Listings)
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	led := New(7)
	led.CreditCommission(big.NewInt(1500))
	led.CreditSalePool(big.NewInt(200))
	led.AddListing(&ActiveListing{OrderHash: common.HexToHash("0x0a")})

	snap := led.Snapshot()
	if snap.Version != CurrentVersion {
		t.Fatalf("version = %d", snap.Version)
	}
	if snap.CommissionPoolWei != "1500" || snap.SalePoolWei != "200" {
		t.Fatalf("pools = %s / %s", snap.CommissionPoolWei, snap.SalePoolWei)
	}
	if snap.LastTaxBlock != 7 || snap.ActiveListings != 1 {
		t.Fatalf("block/listings = %d/%d", snap.LastTaxBlock, snap.ActiveListings)
	}
}
