package treasury

import (
	"context"
	"log/slog"
	"time"

	xerrors "TreasuryAgent/internal/errors"
	"TreasuryAgent/internal/ledger"
	"TreasuryAgent/internal/observability/alerting"
)

const defaultLoopInterval = 30 * time.Second

// LoopConfig 描述主循环的节奏。
type LoopConfig struct {
	Interval time.Duration
	Cooldown time.Duration
}

// Loop 按固定节奏驱动四个服务：收税 → 核对挂单 → 回购销毁或购买挂单
// 二选一（回购有活先干回购）。单步出错只记日志和告警，不影响后续轮次。
type Loop struct {
	collector  *Collector
	reconciler *Reconciler
	purchaser  *Purchaser
	buyback    *Buyback
	alerts     alerting.Dispatcher
	cfg        LoopConfig
	log        *slog.Logger
}

// NewLoop 创建主循环。
func NewLoop(
	collector *Collector,
	reconciler *Reconciler,
	purchaser *Purchaser,
	buyback *Buyback,
	alerts alerting.Dispatcher,
	cfg LoopConfig,
) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultLoopInterval
	}
	return &Loop{
		collector:  collector,
		reconciler: reconciler,
		purchaser:  purchaser,
		buyback:    buyback,
		alerts:     alerts,
		cfg:        cfg,
		log:        loggerFor("loop"),
	}
}

// Run 阻塞运行，直到 ctx 取消。账本由循环独占，全程无并发访问。
func (l *Loop) Run(ctx context.Context, led *ledger.Ledger) error {
	l.log.Info("主循环启动",
		slog.Duration("interval", l.cfg.Interval),
		slog.String("commission_pool_wei", led.CommissionPoolWei.String()),
		slog.String("sale_pool_wei", led.SalePoolWei.String()),
	)
	for {
		start := time.Now()
		if err := l.tick(ctx, led); err != nil {
			return err
		}

		remaining := l.cfg.Interval - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-ctx.Done():
			l.log.Info("主循环退出")
			return ctx.Err()
		case <-time.After(remaining):
		}
	}
}

// Tick 执行单轮流程，暴露给测试与一次性运行模式。
// 返回非 nil 仅代表存储故障这类必须终止进程的错误。
func (l *Loop) Tick(ctx context.Context, led *ledger.Ledger) error {
	return l.tick(ctx, led)
}

func (l *Loop) tick(ctx context.Context, led *ledger.Ledger) error {
	if err := l.collector.Collect(ctx, led); err != nil {
		if fatal := l.reportStepError(ctx, "collector", err); fatal {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	if err := l.reconciler.Reconcile(ctx, led); err != nil {
		if fatal := l.reportStepError(ctx, "reconciler", err); fatal {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	// 同一轮内回购销毁与购买挂单互斥，回购有待办时优先。
	var acted bool
	var err error
	var step string
	if l.buyback.HasWork(led) {
		step = "buyback"
		acted, err = l.buyback.Run(ctx, led)
	} else {
		step = "purchaser"
		acted, err = l.purchaser.Run(ctx, led)
	}
	if err != nil {
		if fatal := l.reportStepError(ctx, step, err); fatal {
			return err
		}
	}
	if acted {
		l.cooldown(ctx)
	}
	return nil
}

// reportStepError 记录并按需告警单步错误。存储故障返回 true，
// 意味着账本可能与磁盘脱节，循环必须停下来。
func (l *Loop) reportStepError(ctx context.Context, step string, err error) bool {
	if err == context.Canceled || ctx.Err() != nil {
		return false
	}
	l.log.Error("主循环单步失败",
		slog.String("step", step),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()),
	)
	if xerrors.ShouldAlert(err) {
		dispatch(ctx, l.alerts, alerting.FromError(step, err))
	}
	return xerrors.CodeOf(err) == xerrors.CodeStorageFailure
}

func (l *Loop) cooldown(ctx context.Context) {
	if l.cfg.Cooldown <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(l.cfg.Cooldown):
	}
}
