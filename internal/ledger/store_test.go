package ledger

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleLedger() *Ledger {
	l := New(15)
	l.CommissionPoolWei = big.NewInt(300)
	l.SalePoolWei = big.NewInt(1300)
	l.PendingBurnAmount = big.NewInt(0)
	l.PendingBurnCostWei = big.NewInt(0)
	balance := big.NewInt(4)
	l.Listings = []*ActiveListing{
		{
			OrderHash:           common.HexToHash("0xaa"),
			Collection:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
			TokenID:             big.NewInt(42),
			ExpectedProceedsWei: big.NewInt(1300),
			ListedAtMs:          1700000000000,
			Standard:            StandardSingleOwner,
			Quantity:            big.NewInt(1),
		},
		{
			OrderHash:               common.HexToHash("0xbb"),
			Collection:              common.HexToAddress("0x3333333333333333333333333333333333333333"),
			TokenID:                 big.NewInt(7),
			ExpectedProceedsWei:     big.NewInt(900),
			ListedAtMs:              1700000001000,
			Standard:                StandardBalance,
			Quantity:                big.NewInt(6),
			ExpectedPostSaleBalance: balance,
		},
	}
	return l
}

func assertLedgersEqual(t *testing.T, got, want *Ledger) {
	t.Helper()
	if got.Version != want.Version {
		t.Fatalf("version: got %d want %d", got.Version, want.Version)
	}
	if got.CommissionPoolWei.Cmp(want.CommissionPoolWei) != 0 {
		t.Fatalf("commission pool: got %s want %s", got.CommissionPoolWei, want.CommissionPoolWei)
	}
	if got.SalePoolWei.Cmp(want.SalePoolWei) != 0 {
		t.Fatalf("sale pool: got %s want %s", got.SalePoolWei, want.SalePoolWei)
	}
	if got.PendingBurnAmount.Cmp(want.PendingBurnAmount) != 0 {
		t.Fatalf("pending burn amount: got %s want %s", got.PendingBurnAmount, want.PendingBurnAmount)
	}
	if got.PendingBurnCostWei.Cmp(want.PendingBurnCostWei) != 0 {
		t.Fatalf("pending burn cost: got %s want %s", got.PendingBurnCostWei, want.PendingBurnCostWei)
	}
	if got.LastTaxBlock != want.LastTaxBlock {
		t.Fatalf("last tax block: got %d want %d", got.LastTaxBlock, want.LastTaxBlock)
	}
	if len(got.Listings) != len(want.Listings) {
		t.Fatalf("listing count: got %d want %d", len(got.Listings), len(want.Listings))
	}
	for i := range want.Listings {
		g, w := got.Listings[i], want.Listings[i]
		if g.OrderHash != w.OrderHash || g.Collection != w.Collection {
			t.Fatalf("listing %d identity mismatch: %+v vs %+v", i, g, w)
		}
		if g.TokenID.Cmp(w.TokenID) != 0 || g.ExpectedProceedsWei.Cmp(w.ExpectedProceedsWei) != 0 {
			t.Fatalf("listing %d amounts mismatch", i)
		}
		if g.ListedAtMs != w.ListedAtMs || g.Standard != w.Standard || g.Quantity.Cmp(w.Quantity) != 0 {
			t.Fatalf("listing %d metadata mismatch", i)
		}
		switch {
		case w.ExpectedPostSaleBalance == nil && g.ExpectedPostSaleBalance != nil:
			t.Fatalf("listing %d: unexpected post-sale balance", i)
		case w.ExpectedPostSaleBalance != nil && g.ExpectedPostSaleBalance == nil:
			t.Fatalf("listing %d: missing post-sale balance", i)
		case w.ExpectedPostSaleBalance != nil && g.ExpectedPostSaleBalance.Cmp(w.ExpectedPostSaleBalance) != 0:
			t.Fatalf("listing %d: post-sale balance mismatch", i)
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	want := sampleLedger()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, exists, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists {
		t.Fatal("expected store to exist after save")
	}
	assertLedgersEqual(t, got, want)
}

func TestFileStoreRoundTripEmptyLedger(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	want := New(0)
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, exists, err := store.Load(ctx)
	if err != nil || !exists {
		t.Fatalf("load: exists=%v err=%v", exists, err)
	}
	assertLedgersEqual(t, got, want)
}

func TestOpenCreatesDefaultsAndPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	store, _ := NewFileStore(path)

	l, err := Open(ctx, store, "", 9)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if l.LastTaxBlock != 9 {
		t.Fatalf("expected initial block 9, got %d", l.LastTaxBlock)
	}
	if l.Version != CurrentVersion {
		t.Fatalf("expected version %d, got %d", CurrentVersion, l.Version)
	}
	// Open 之后存储必须立即存在。
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected persisted ledger file: %v", err)
	}

	again, err := Open(ctx, store, "", 99)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.LastTaxBlock != 9 {
		t.Fatalf("existing store must win over initial block: got %d", again.LastTaxBlock)
	}
}

func TestOpenClampsVersionFloor(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	store, _ := NewFileStore(path)

	old := sampleLedger()
	old.Version = 1
	if err := store.Save(ctx, old); err != nil {
		t.Fatalf("save: %v", err)
	}
	l, err := Open(ctx, store, "", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if l.Version != MinSupportedVersion {
		t.Fatalf("expected clamped version %d, got %d", MinSupportedVersion, l.Version)
	}
}

func TestOpenImportsLegacySnapshotOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(filepath.Join(dir, "ledger.json"))

	legacyPath := filepath.Join(dir, "state.json")
	legacy := `{
        "commissionPoolWei": "1000",
        "salePoolWei": "250",
        "lastTaxBlock": "12",
        "pendingBurnAmount": "5",
        "pendingBurnCostWei": "50",
        "listings": [{
            "orderHash": "0xcc",
            "collection": "0x2222222222222222222222222222222222222222",
            "tokenId": "42",
            "expectedProceedsWei": "1300",
            "listedAt": 1700000000000,
            "tokenStandard": "erc721",
            "listedQuantity": "1"
        }]
    }`
	if err := os.WriteFile(legacyPath, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	l, err := Open(ctx, store, legacyPath, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if l.CommissionPoolWei.Int64() != 1000 || l.SalePoolWei.Int64() != 250 {
		t.Fatalf("legacy pools not imported: %+v", l.Snapshot())
	}
	if l.LastTaxBlock != 12 {
		t.Fatalf("legacy last tax block not imported: %d", l.LastTaxBlock)
	}
	if !l.HasPendingBurn() {
		t.Fatal("legacy pending burn not imported")
	}
	if len(l.Listings) != 1 || l.Listings[0].Standard != StandardSingleOwner {
		t.Fatalf("legacy listing not imported: %+v", l.Listings)
	}

	// 存储已存在后，遗留快照不会被再次导入。
	l.CommissionPoolWei.SetInt64(777)
	if err := store.Save(ctx, l); err != nil {
		t.Fatalf("save: %v", err)
	}
	reloaded, err := Open(ctx, store, legacyPath, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.CommissionPoolWei.Int64() != 777 {
		t.Fatalf("legacy must not override existing store: %s", reloaded.CommissionPoolWei)
	}
}

func TestOpenPropagatesCorruptLegacySnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(filepath.Join(dir, "ledger.json"))

	legacyPath := filepath.Join(dir, "state.json")
	if err := os.WriteFile(legacyPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	if _, err := Open(ctx, store, legacyPath, 0); err == nil {
		t.Fatal("corrupt legacy snapshot must propagate an error")
	}
}

func TestOpenMissingLegacyFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(filepath.Join(dir, "ledger.json"))

	l, err := Open(ctx, store, filepath.Join(dir, "absent.json"), 5)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if l.LastTaxBlock != 5 || l.CommissionPoolWei.Sign() != 0 {
		t.Fatalf("expected defaults, got %+v", l.Snapshot())
	}
}

func TestAdvanceTaxBlockNeverRewinds(t *testing.T) {
	l := New(10)
	l.AdvanceTaxBlock(15)
	if l.LastTaxBlock != 15 {
		t.Fatalf("expected 15, got %d", l.LastTaxBlock)
	}
	l.AdvanceTaxBlock(12)
	if l.LastTaxBlock != 15 {
		t.Fatalf("rewind must be ignored, got %d", l.LastTaxBlock)
	}
}

func TestDebitSalePoolCapped(t *testing.T) {
	l := New(0)
	l.SalePoolWei = big.NewInt(100)
	l.DebitSalePoolCapped(big.NewInt(130))
	if l.SalePoolWei.Sign() != 0 {
		t.Fatalf("debit must cap at pool balance, got %s", l.SalePoolWei)
	}
	l.SalePoolWei = big.NewInt(200)
	l.DebitSalePoolCapped(big.NewInt(130))
	if l.SalePoolWei.Int64() != 70 {
		t.Fatalf("expected 70, got %s", l.SalePoolWei)
	}
}

func TestDebitCommissionRejectsOverdraft(t *testing.T) {
	l := New(0)
	l.CommissionPoolWei = big.NewInt(100)
	if l.DebitCommission(big.NewInt(101)) {
		t.Fatal("overdraft must be rejected")
	}
	if l.CommissionPoolWei.Int64() != 100 {
		t.Fatalf("rejected debit must not mutate the pool: %s", l.CommissionPoolWei)
	}
	if !l.DebitCommission(big.NewInt(100)) {
		t.Fatal("exact debit must succeed")
	}
}
