// Package alarm はタスクの期限にリマインダーを発火させます。
package alarm

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"noteen/backend/internal/models"
	"noteen/backend/internal/notify"
)

// TimerScheduler はタスクごとに1つのタイマーを保持し、期限が来たら通知します。
// 同じタスクを再登録すると以前のタイマーは置き換えられます。
type TimerScheduler struct {
	notifier notify.Notifier
	now      func() time.Time

	mu     sync.Mutex
	timers map[uuid.UUID]*entry
	closed bool
}

type entry struct {
	timer *time.Timer
}

// NewTimerScheduler は新しいTimerSchedulerを作成します。
func NewTimerScheduler(notifier notify.Notifier) *TimerScheduler {
	return &TimerScheduler{
		notifier: notifier,
		now:      time.Now,
		timers:   make(map[uuid.UUID]*entry),
	}
}

// Schedule はタスクの期限にリマインダーを登録します。期限が無ければ何もしません。
// 過去の期限も受け付け、その場合はすぐに発火します。
func (s *TimerScheduler) Schedule(task models.TaskGroup) {
	if task.DueDate == nil {
		return
	}
	reminder := notify.Reminder{TaskID: task.ID, TaskTitle: task.Title}
	if reminder.TaskTitle == "" {
		reminder.TaskTitle = notify.DefaultTitle
	}
	delay := task.DueDate.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.timers[task.ID]; ok {
		prev.timer.Stop()
	}
	e := &entry{}
	e.timer = time.AfterFunc(delay, func() { s.fire(task.ID, e, reminder) })
	s.timers[task.ID] = e
	log.Printf("Scheduled reminder for task %s at %s", task.ID, task.DueDate.Format(time.RFC3339))
}

func (s *TimerScheduler) fire(id uuid.UUID, e *entry, r notify.Reminder) {
	s.mu.Lock()
	// 置き換えまたは解除済みのタイマーは通知しない
	if cur, ok := s.timers[id]; !ok || cur != e {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	log.Printf("Reminder fired for task %s", id)
	s.notifier.Notify(r)
}

// Cancel はタスクのリマインダーを解除します。登録が無ければ何もしません。
func (s *TimerScheduler) Cancel(task models.TaskGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[task.ID]; ok {
		e.timer.Stop()
		delete(s.timers, task.ID)
	}
}

// Pending はタスクのリマインダーが登録されているかどうかを返します。
func (s *TimerScheduler) Pending(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Len は登録中のリマインダー数を返します。
func (s *TimerScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop はすべてのタイマーを止めます。以後の Schedule は無視されます。
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
	s.closed = true
}
