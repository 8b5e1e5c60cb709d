// Package notify はタスクの期限到来をユーザーに届けます。
package notify

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// DefaultTitle はタイトルが空のタスクに使う通知タイトルです。
const DefaultTitle = "Task due!"

// Reminder は期限が到来したタスクの通知です。
type Reminder struct {
	TaskID    uuid.UUID `json:"task_id"`
	TaskTitle string    `json:"task_title"`
}

// Notifier はリマインダーを受け取ります。
type Notifier interface {
	Notify(r Reminder)
}

// NotifierFunc は関数をNotifierとして扱います。
type NotifierFunc func(r Reminder)

func (f NotifierFunc) Notify(r Reminder) { f(r) }

// LogNotifier はリマインダーをログに出力します。
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(r Reminder) {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("Reminder: %q (task %s) is due", r.TaskTitle, r.TaskID)
}

// Multi は複数のNotifierに順に通知します。
type Multi []Notifier

func (m Multi) Notify(r Reminder) {
	for _, n := range m {
		n.Notify(r)
	}
}

// Hub はリマインダーを購読者 (SSEクライアントなど) へ配信します。
// 購読者の受信が追いつかない場合、その購読者への通知は破棄されます。
type Hub struct {
	mu   sync.Mutex
	subs map[chan Reminder]struct{}
}

// NewHub は空のHubを作成します。
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Reminder]struct{})}
}

// Subscribe はリマインダーを受け取るチャネルを返します。ctx が終了するとチャネルは閉じられます。
func (h *Hub) Subscribe(ctx context.Context) <-chan Reminder {
	ch := make(chan Reminder, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Len は現在の購読者数を返します。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Notify(r Reminder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- r:
		default:
			log.Printf("Dropped reminder for task %s: subscriber is not keeping up", r.TaskID)
		}
	}
}
