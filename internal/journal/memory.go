package journal

import (
	"context"
	"sync"
)

const defaultMemoryCapacity = 256

// MemoryJournal 在进程内保留最近的事件，主要用于开发与测试。
type MemoryJournal struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewMemoryJournal 创建内存日志，capacity 非正时取默认值。
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryJournal{capacity: capacity}
}

// Publish 记录事件，超出容量时淘汰最旧的一条。
func (j *MemoryJournal) Publish(_ context.Context, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
	if len(j.events) > j.capacity {
		j.events = j.events[len(j.events)-j.capacity:]
	}
	return nil
}

// Recent 返回最近的事件副本，最新的在末尾。
func (j *MemoryJournal) Recent() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

// Close 实现 Publisher 接口。
func (j *MemoryJournal) Close() error { return nil }
