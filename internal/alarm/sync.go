package alarm

import (
	"time"

	"noteen/backend/internal/models"
)

// Scheduler は TimerScheduler の登録・解除の操作です。
type Scheduler interface {
	Schedule(task models.TaskGroup)
	Cancel(task models.TaskGroup)
}

// Sync は保存後のタスクに合わせてリマインダーを登録または解除します。
// 期限が now より後で、未完了のタスクだけが登録されます。
func Sync(s Scheduler, task models.TaskGroup, now time.Time) {
	if task.DueDate != nil && task.DueDate.After(now) && !task.Completed {
		s.Schedule(task)
		return
	}
	s.Cancel(task)
}

// Rearm は起動時に未完了で期限が未来のタスクをすべて登録し、登録数を返します。
func Rearm(s Scheduler, groups []models.TaskGroup, now time.Time) int {
	n := 0
	for _, g := range groups {
		if g.Completed || g.DueDate == nil || !g.DueDate.After(now) {
			continue
		}
		s.Schedule(g)
		n++
	}
	return n
}
