// Package modelsはTaskGroupとSubTaskを定義します。
package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// SubTask はTaskGroupに属するチェックリスト項目です。
type SubTask struct {
	ID        uuid.UUID `json:"id"`
	GroupID   uuid.UUID `json:"group_id"`
	Title     string    `json:"title" binding:"required"`
	Completed bool      `json:"completed"`
	Order     int       `json:"order"`
}

// TaskGroup はタイトル・期限・サブタスクを持つタスクです。
// DueDate が nil の場合はリマインダーなしを表します。
type TaskGroup struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title" binding:"required"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Expanded  bool       `json:"expanded"`
	Completed bool       `json:"completed"`
	Order     int        `json:"order"`
	SubTasks  []SubTask  `json:"sub_tasks"`
}

// DeriveCompleted はサブタスクが1件以上あり、すべて完了している場合に true を返します。
func DeriveCompleted(subTasks []SubTask) bool {
	if len(subTasks) == 0 {
		return false
	}
	for _, st := range subTasks {
		if !st.Completed {
			return false
		}
	}
	return true
}

// Clone はサブタスクと期限を含めたディープコピーを返します。
func (g TaskGroup) Clone() TaskGroup {
	out := g
	if g.DueDate != nil {
		due := *g.DueDate
		out.DueDate = &due
	}
	if g.SubTasks != nil {
		out.SubTasks = make([]SubTask, len(g.SubTasks))
		copy(out.SubTasks, g.SubTasks)
	}
	return out
}

// SortSubTasks はサブタスクを Order の昇順に並べ替えます。
func SortSubTasks(subTasks []SubTask) {
	sort.SliceStable(subTasks, func(i, j int) bool {
		return subTasks[i].Order < subTasks[j].Order
	})
}

// DisplayOrder は未完了 → 完了の順に、それぞれ Order 昇順で並べた新しいスライスを返します。
func DisplayOrder(groups []TaskGroup) []TaskGroup {
	sorted := make([]TaskGroup, len(groups))
	copy(sorted, groups)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	out := make([]TaskGroup, 0, len(sorted))
	for _, g := range sorted {
		if !g.Completed {
			out = append(out, g)
		}
	}
	for _, g := range sorted {
		if g.Completed {
			out = append(out, g)
		}
	}
	return out
}
