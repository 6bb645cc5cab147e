package treasury

import (
	"context"
	"sync/atomic"

	xerrors "TreasuryAgent/internal/errors"
	"TreasuryAgent/internal/ledger"
)

// StatusSaver 包装底层存储，在每个持久化边界同步一份账本快照，
// 供状态 API 在循环之外只读访问，避免对在用账本的并发读写。
type StatusSaver struct {
	inner Saver
	snap  atomic.Value
}

// NewStatusSaver 创建快照包装。
func NewStatusSaver(inner Saver) *StatusSaver {
	s := &StatusSaver{inner: inner}
	s.snap.Store(ledger.Snapshot{})
	return s
}

// Save 先落底层存储，成功后刷新快照。落盘失败按存储故障上抛，
// 主循环据此终止进程，绝不带着未提交的账本继续跑。
func (s *StatusSaver) Save(ctx context.Context, led *ledger.Ledger) error {
	if err := s.inner.Save(ctx, led); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "账本持久化失败")
	}
	s.snap.Store(led.Snapshot())
	return nil
}

// Record 不落存储，只刷新快照。启动加载后先喂一次初始状态。
func (s *StatusSaver) Record(led *ledger.Ledger) {
	s.snap.Store(led.Snapshot())
}

// Status 返回最近一次持久化时的账本快照。
func (s *StatusSaver) Status() ledger.Snapshot {
	return s.snap.Load().(ledger.Snapshot)
}
