package treasury

import (
	"context"
	"testing"

	"TreasuryAgent/internal/ledger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

var (
	testToken    = common.HexToAddress("0x0000000000000000000000000000000000000101")
	testTreasury = common.HexToAddress("0x0000000000000000000000000000000000000202")
)

func TestCollectorChunksScanRange(t *testing.T) {
	chain := &fakeChain{head: 25}
	saver := &memorySaver{}
	collector := NewCollector(chain, saver, nil, CollectorConfig{
		Token:     testToken,
		Treasury:  testTreasury,
		ChunkSize: 10,
	})

	led := ledger.New(0)
	if err := collector.Collect(context.Background(), led); err != nil {
		t.Fatalf("扫描失败: %v", err)
	}

	want := [][2]uint64{{1, 10}, {11, 20}, {21, 25}}
	if len(chain.queries) != len(want) {
		t.Fatalf("子区间数 = %d，期望 %d", len(chain.queries), len(want))
	}
	for i, query := range chain.queries {
		if query.FromBlock.Uint64() != want[i][0] || query.ToBlock.Uint64() != want[i][1] {
			t.Fatalf("第 %d 个区间 = [%v,%v]，期望 %v", i+1, query.FromBlock, query.ToBlock, want[i])
		}
	}
	if led.LastTaxBlock != 25 {
		t.Fatalf("LastTaxBlock = %d，期望 25", led.LastTaxBlock)
	}
	if saver.saves != 1 {
		t.Fatalf("应持久化一次，实际 %d 次", saver.saves)
	}
}

func TestCollectorCreditsMatchingEvents(t *testing.T) {
	chain := &fakeChain{head: 5}
	chain.logsFn = func(query gethcore.FilterQuery) []coretypes.Log {
		return []coretypes.Log{
			proceedsLog(testToken, testTreasury, 1, 300),
			proceedsLog(testToken, testTreasury, 2, 200),
		}
	}
	saver := &memorySaver{}
	collector := NewCollector(chain, saver, nil, CollectorConfig{
		Token:    testToken,
		Treasury: testTreasury,
	})

	led := ledger.New(0)
	if err := collector.Collect(context.Background(), led); err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if led.CommissionPoolWei.Int64() != 500 {
		t.Fatalf("佣金池 = %v，期望 500", led.CommissionPoolWei)
	}
	if len(chain.queries) != 1 {
		t.Fatalf("区间数 = %d，期望 1", len(chain.queries))
	}
	query := chain.queries[0]
	if len(query.Topics) != 2 || query.Topics[0][0] != proceedsSentTopic {
		t.Fatal("事件主题过滤缺失")
	}
	if query.Topics[1][0] != common.BytesToHash(testTreasury.Bytes()) {
		t.Fatal("接收方过滤缺失")
	}
}

func TestCollectorAdvancesBlockWithoutEvents(t *testing.T) {
	chain := &fakeChain{head: 8}
	saver := &memorySaver{}
	collector := NewCollector(chain, saver, nil, CollectorConfig{
		Token:    testToken,
		Treasury: testTreasury,
	})

	led := ledger.New(3)
	if err := collector.Collect(context.Background(), led); err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if led.LastTaxBlock != 8 {
		t.Fatalf("无事件也应推进 LastTaxBlock，实际 %d", led.LastTaxBlock)
	}
	if saver.saves != 1 {
		t.Fatalf("无事件也应持久化，实际 %d 次", saver.saves)
	}
}

func TestCollectorDisabledWithoutToken(t *testing.T) {
	chain := &fakeChain{head: 10}
	saver := &memorySaver{}
	collector := NewCollector(chain, saver, nil, CollectorConfig{Treasury: testTreasury})

	led := ledger.New(0)
	if err := collector.Collect(context.Background(), led); err != nil {
		t.Fatalf("关闭状态不应报错: %v", err)
	}
	if len(chain.queries) != 0 || saver.saves != 0 {
		t.Fatal("关闭状态不应扫链或持久化")
	}
}

func TestCollectorNoNewBlocks(t *testing.T) {
	chain := &fakeChain{head: 5}
	saver := &memorySaver{}
	collector := NewCollector(chain, saver, nil, CollectorConfig{
		Token:    testToken,
		Treasury: testTreasury,
	})

	led := ledger.New(5)
	if err := collector.Collect(context.Background(), led); err != nil {
		t.Fatalf("空区间不应报错: %v", err)
	}
	if led.LastTaxBlock != 5 || saver.saves != 0 {
		t.Fatal("空区间不应有任何动作")
	}
}
