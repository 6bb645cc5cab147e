package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind 标识一类资金事件。
type Kind string

const (
	KindTaxCollected   Kind = "tax_collected"
	KindPurchase       Kind = "purchase"
	KindListingCreated Kind = "listing_created"
	KindSaleDetected   Kind = "sale_detected"
	KindSwapExecuted   Kind = "swap_executed"
	KindBurnExecuted   Kind = "burn_executed"
)

// Event 是一条资金事件的审计记录。金额一律用十进制字符串，
// 避免 JSON 数字精度问题。
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	AmountWei  string            `json:"amount_wei,omitempty"`
	TxHash     string            `json:"tx_hash,omitempty"`
	OrderHash  string            `json:"order_hash,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEvent 创建一条带唯一 ID 和时间戳的事件。
func NewEvent(kind Kind) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

// WithAmount 设置金额。
func (e Event) WithAmount(amountWei string) Event {
	e.AmountWei = amountWei
	return e
}

// WithTxHash 设置交易哈希。
func (e Event) WithTxHash(txHash string) Event {
	e.TxHash = txHash
	return e
}

// WithOrderHash 设置订单哈希。
func (e Event) WithOrderHash(orderHash string) Event {
	e.OrderHash = orderHash
	return e
}

// WithMetadata 附加额外信息。
func (e Event) WithMetadata(key, value string) Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Publisher 把事件投递到外部介质。投递失败由调用方记录日志，
// 不允许阻断主循环。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
