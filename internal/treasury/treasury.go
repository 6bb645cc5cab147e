package treasury

import (
	"context"
	"log/slog"
	"math/big"

	"TreasuryAgent/internal/journal"
	"TreasuryAgent/internal/ledger"
	"TreasuryAgent/internal/observability/alerting"
	"TreasuryAgent/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	ethchain "TreasuryAgent/internal/web3/ethereum"
)

// ChainReader 是各服务依赖的链读取能力子集。
// *ethereum.Client 天然满足该接口。
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query gethcore.FilterQuery) ([]coretypes.Log, error)
	OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error)
	BalanceOfAsset(ctx context.Context, collection, holder common.Address, tokenID *big.Int) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	IsApprovedForAll(ctx context.Context, collection, owner, operator common.Address) (bool, error)
	SwapAuthorized(ctx context.Context, token, account common.Address) (bool, error)
}

// TxSubmitter 是各服务依赖的交易提交能力。
// *ethereum.Submitter 天然满足该接口。
type TxSubmitter interface {
	From() common.Address
	SubmitAndWait(ctx context.Context, intent ethchain.Intent) (*coretypes.Receipt, error)
}

// Saver 把账本持久化到底层存储。ledger.Store 天然满足该接口。
type Saver interface {
	Save(ctx context.Context, led *ledger.Ledger) error
}

func loggerFor(name string) *slog.Logger {
	return logger.Named("treasury." + name)
}

// publish 投递审计事件，失败只记日志，绝不阻断主流程。
func publish(ctx context.Context, pub journal.Publisher, event journal.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil {
		loggerFor("journal").Warn("审计事件投递失败",
			"kind", string(event.Kind),
			"error", err.Error(),
		)
	}
}

// dispatch 触发告警，失败只记日志。
func dispatch(ctx context.Context, d alerting.Dispatcher, event alerting.Event) {
	if d == nil {
		return
	}
	if err := d.Notify(ctx, event); err != nil {
		loggerFor("alerting").Warn("告警发送失败", "error", err.Error())
	}
}
