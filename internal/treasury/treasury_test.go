package treasury

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"TreasuryAgent/internal/exchange"
	"TreasuryAgent/internal/ledger"
	"TreasuryAgent/internal/marketplace"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	ethchain "TreasuryAgent/internal/web3/ethereum"
)

// fakeChain 是 ChainReader 的内存实现，按 map 返回链上状态。
type fakeChain struct {
	head       uint64
	queries    []gethcore.FilterQuery
	logsFn     func(query gethcore.FilterQuery) []coretypes.Log
	owners     map[string]common.Address
	ownerErr   error
	balances   map[string]*big.Int
	balanceErr error
	// tokenBalances 依次作为 TokenBalance 的返回值，耗尽后重复末项。
	tokenBalances []*big.Int
	tokenIdx      int
	approvals     map[string]bool
	swapAllowed   bool
}

func assetKey(collection common.Address, tokenID *big.Int) string {
	return fmt.Sprintf("%s:%s", collection.Hex(), tokenID.String())
}

func (f *fakeChain) BlockNumber(_ context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, query gethcore.FilterQuery) ([]coretypes.Log, error) {
	f.queries = append(f.queries, query)
	if f.logsFn == nil {
		return nil, nil
	}
	return f.logsFn(query), nil
}

func (f *fakeChain) OwnerOf(_ context.Context, collection common.Address, tokenID *big.Int) (common.Address, error) {
	if f.ownerErr != nil {
		return common.Address{}, f.ownerErr
	}
	return f.owners[assetKey(collection, tokenID)], nil
}

func (f *fakeChain) BalanceOfAsset(_ context.Context, collection, _ common.Address, tokenID *big.Int) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if balance, ok := f.balances[assetKey(collection, tokenID)]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) TokenBalance(_ context.Context, _, _ common.Address) (*big.Int, error) {
	if len(f.tokenBalances) == 0 {
		return new(big.Int), nil
	}
	idx := f.tokenIdx
	if idx >= len(f.tokenBalances) {
		idx = len(f.tokenBalances) - 1
	} else {
		f.tokenIdx++
	}
	return new(big.Int).Set(f.tokenBalances[idx]), nil
}

func (f *fakeChain) IsApprovedForAll(_ context.Context, collection, _, operator common.Address) (bool, error) {
	return f.approvals[collection.Hex()+":"+operator.Hex()], nil
}

func (f *fakeChain) SwapAuthorized(_ context.Context, _, _ common.Address) (bool, error) {
	return f.swapAllowed, nil
}

// fakeSubmitter 记录提交的意图并返回成功回执。
type fakeSubmitter struct {
	from    common.Address
	intents []ethchain.Intent
	err     error
	counter atomic.Uint64
}

func (f *fakeSubmitter) From() common.Address { return f.from }

func (f *fakeSubmitter) SubmitAndWait(_ context.Context, intent ethchain.Intent) (*coretypes.Receipt, error) {
	f.intents = append(f.intents, intent)
	if f.err != nil {
		return nil, f.err
	}
	seq := f.counter.Add(1)
	return &coretypes.Receipt{
		Status: coretypes.ReceiptStatusSuccessful,
		TxHash: common.BigToHash(new(big.Int).SetUint64(seq)),
	}, nil
}

// memorySaver 记录持久化次数。
type memorySaver struct {
	saves int
	err   error
}

func (s *memorySaver) Save(_ context.Context, _ *ledger.Ledger) error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	return nil
}

// fakeMarket 返回预置的执行载荷。
type fakeMarket struct {
	exec       *marketplace.Execution
	execErr    error
	calls      int
	published  []exchange.OrderComponents
	publishErr error
}

func (m *fakeMarket) BuyExecution(_ context.Context, _ common.Address, _ *big.Int) (*marketplace.Execution, error) {
	m.calls++
	if m.execErr != nil {
		return nil, m.execErr
	}
	return m.exec, nil
}

func (m *fakeMarket) PublishListing(_ context.Context, order exchange.OrderComponents, _ []byte) (*marketplace.Listing, error) {
	m.published = append(m.published, order)
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	return &marketplace.Listing{ID: "lst_test", OrderHash: exchange.OrderHash(&order)}, nil
}

// proceedsLog 构造一条分税事件日志。
func proceedsLog(token, recipient common.Address, id, amount int64) coretypes.Log {
	data := make([]byte, 64)
	big.NewInt(id).FillBytes(data[:32])
	big.NewInt(amount).FillBytes(data[32:])
	return coretypes.Log{
		Address: token,
		Topics:  []common.Hash{proceedsSentTopic, common.BytesToHash(recipient.Bytes())},
		Data:    data,
	}
}
