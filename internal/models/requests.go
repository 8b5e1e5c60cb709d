package models

import (
	"time"

	"github.com/google/uuid"
)

// LoginRequest はAPIログインのリクエストです。
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// JWTClaims はトークンから取り出したクレームです。
type JWTClaims struct {
	Subject string `json:"sub"`
}

// SubTaskInput はタスク保存時のサブタスク入力です。ID が空の場合は新規作成されます。
type SubTaskInput struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title" binding:"required"`
	Completed bool      `json:"completed"`
}

// UpsertTaskRequest はタスクの作成・更新リクエストです。
type UpsertTaskRequest struct {
	Title     string         `json:"title" binding:"required"`
	DueDate   *time.Time     `json:"due_date"`
	Completed bool           `json:"completed"`
	Expanded  *bool          `json:"expanded"`
	SubTasks  []SubTaskInput `json:"sub_tasks" binding:"dive"`
}

// CompleteRequest はマスターチェックボックスの切り替えリクエストです。
type CompleteRequest struct {
	Checked bool `json:"checked"`
}

// MoveRequest は並べ替えリクエストです。
type MoveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// DeleteRequest は一括削除リクエストです。
type DeleteRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required"`
}

// TaskGroupView はレスポンス用に期限の状態を付加したTaskGroupです。
type TaskGroupView struct {
	TaskGroup
	DueStatus DueDateStatus `json:"due_status"`
}

// NewTaskGroupView は now を基準にビューを作成します。
func NewTaskGroupView(g TaskGroup, now time.Time) TaskGroupView {
	return TaskGroupView{TaskGroup: g, DueStatus: DueDateStatusAt(g.DueDate, now)}
}
