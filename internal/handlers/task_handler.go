package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"noteen/backend/internal/alarm"
	"noteen/backend/internal/models"
	"noteen/backend/internal/services"
)

// TaskHandler はタスク関連のハンドラーを管理します。
type TaskHandler struct {
	manager     *services.TaskManager
	taskService *services.TaskService
	alarms      alarm.Scheduler
	now         func() time.Time
}

// NewTaskHandler は新しいTaskHandlerを作成します。
func NewTaskHandler(manager *services.TaskManager, taskService *services.TaskService, alarms alarm.Scheduler) *TaskHandler {
	return &TaskHandler{manager: manager, taskService: taskService, alarms: alarms, now: time.Now}
}

func (h *TaskHandler) views(groups []models.TaskGroup) []models.TaskGroupView {
	now := h.now()
	out := make([]models.TaskGroupView, len(groups))
	for i, g := range groups {
		out[i] = models.NewTaskGroupView(g, now)
	}
	return out
}

// GetTasksHandler は表示順のタスク一覧を取得します。
func (h *TaskHandler) GetTasksHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.views(h.manager.Groups()))
}

// GetNearestHandler は期限が最も近い未完了のタスクを取得します。
func (h *TaskHandler) GetNearestHandler(c *gin.Context) {
	nearest, err := h.taskService.Nearest(c.Request.Context())
	if err != nil {
		log.Printf("Failed to fetch nearest task: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch nearest task"})
		return
	}
	if nearest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No upcoming task"})
		return
	}
	c.JSON(http.StatusOK, models.NewTaskGroupView(*nearest, h.now()))
}

// StreamTasksHandler はタスク一覧のスナップショットをServer-Sent Eventsで配信します。
func (h *TaskHandler) StreamTasksHandler(c *gin.Context) {
	ctx := c.Request.Context()
	snapshots, err := h.taskService.Subscribe(ctx)
	if err != nil {
		log.Printf("Failed to subscribe to tasks: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe to tasks"})
		return
	}
	startSSE(c)
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return false
			}
			c.SSEvent("tasks", gin.H{
				"version": snap.Version,
				"groups":  h.views(models.DisplayOrder(snap.Groups)),
			})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// CreateTaskHandler は新しいタスクを作成します。
func (h *TaskHandler) CreateTaskHandler(c *gin.Context) {
	var req models.UpsertTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}

	// 新しいタスクは展開した状態で作成する
	task := taskFromRequest(uuid.New(), req, true)
	saved, err := h.manager.UpsertTask(c.Request.Context(), task, h.syncAlarm)
	if err != nil {
		writeTaskError(c, err, "Failed to save task")
		return
	}
	c.JSON(http.StatusCreated, models.NewTaskGroupView(saved, h.now()))
}

// UpdateTaskHandler はタスクとサブタスクを更新します。
func (h *TaskHandler) UpdateTaskHandler(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	current, exists := h.manager.Group(id)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	var req models.UpsertTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}

	saved, err := h.manager.UpsertTask(c.Request.Context(), taskFromRequest(id, req, current.Expanded), h.syncAlarm)
	if err != nil {
		writeTaskError(c, err, "Failed to update task")
		return
	}
	c.JSON(http.StatusOK, models.NewTaskGroupView(saved, h.now()))
}

// CompleteTaskHandler はタスク全体の完了状態を切り替えます。
func (h *TaskHandler) CompleteTaskHandler(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req models.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}

	g, err := h.manager.ToggleGroupCompletion(c.Request.Context(), id, req.Checked)
	if err != nil {
		writeTaskError(c, err, "Failed to update task")
		return
	}
	c.JSON(http.StatusOK, models.NewTaskGroupView(g, h.now()))
}

// ExpandTaskHandler はタスクの展開状態を切り替えます。
func (h *TaskHandler) ExpandTaskHandler(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	g, err := h.manager.ToggleExpansion(c.Request.Context(), id)
	if err != nil {
		writeTaskError(c, err, "Failed to update task")
		return
	}
	c.JSON(http.StatusOK, models.NewTaskGroupView(g, h.now()))
}

// ToggleSubTaskHandler はサブタスクの完了状態を切り替えます。
func (h *TaskHandler) ToggleSubTaskHandler(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	subID, ok := parseID(c, "subId")
	if !ok {
		return
	}
	g, err := h.manager.ToggleSubTaskCompletion(c.Request.Context(), id, subID)
	if err != nil {
		writeTaskError(c, err, "Failed to update sub task")
		return
	}
	c.JSON(http.StatusOK, models.NewTaskGroupView(g, h.now()))
}

// MoveSubTaskHandler はサブタスクを並べ替えて保存します。
func (h *TaskHandler) MoveSubTaskHandler(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req models.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}
	g, err := h.manager.MoveSubTask(c.Request.Context(), id, req.From, req.To)
	if err != nil {
		writeTaskError(c, err, "Failed to move sub task")
		return
	}
	c.JSON(http.StatusOK, models.NewTaskGroupView(g, h.now()))
}

// MoveTaskHandler は未完了のタスクを並べ替えます。保存は CommitOrderHandler で行います。
func (h *TaskHandler) MoveTaskHandler(c *gin.Context) {
	var req models.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}
	h.manager.MoveGroup(req.From, req.To)
	c.JSON(http.StatusOK, h.views(h.manager.Groups()))
}

// CommitOrderHandler は現在の並び順を保存します。
func (h *TaskHandler) CommitOrderHandler(c *gin.Context) {
	if err := h.manager.CommitOrder(c.Request.Context()); err != nil {
		writeTaskError(c, err, "Failed to save task order")
		return
	}
	c.JSON(http.StatusOK, h.views(h.manager.Groups()))
}

// DeleteTasksHandler は指定IDのタスクをまとめて削除し、リマインダーを解除します。
func (h *TaskHandler) DeleteTasksHandler(c *gin.Context) {
	var req models.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}
	removed, err := h.manager.DeleteByIDs(c.Request.Context(), req.IDs)
	if err != nil {
		writeTaskError(c, err, "Failed to delete tasks")
		return
	}
	h.cancelAlarms(removed)
	c.Status(http.StatusNoContent)
}

// syncAlarm は保存されたタスクに合わせてリマインダーを登録または解除します。
func (h *TaskHandler) syncAlarm(task models.TaskGroup) {
	alarm.Sync(h.alarms, task, h.now())
}

func (h *TaskHandler) cancelAlarms(groups []models.TaskGroup) {
	for _, g := range groups {
		h.alarms.Cancel(g)
	}
}

// GetEditModeHandler は編集モードと選択状態を返します。
func (h *TaskHandler) GetEditModeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"edit_mode": h.manager.EditMode(), "selected": h.manager.Selected()})
}

// EnterEditModeHandler は編集モードに入ります。
func (h *TaskHandler) EnterEditModeHandler(c *gin.Context) {
	h.manager.EnterEditMode()
	h.GetEditModeHandler(c)
}

// ExitEditModeHandler は編集モードを終了します。
func (h *TaskHandler) ExitEditModeHandler(c *gin.Context) {
	h.manager.ExitEditMode()
	h.GetEditModeHandler(c)
}

// GetSelectionHandler は選択中のIDを返します。
func (h *TaskHandler) GetSelectionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"selected": h.manager.Selected()})
}

// ToggleSelectionHandler はタスクの選択状態を切り替えます。
func (h *TaskHandler) ToggleSelectionHandler(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	h.manager.ToggleSelection(id)
	h.GetSelectionHandler(c)
}

// SelectAllHandler はすべて選択、またはすべて解除します。
func (h *TaskHandler) SelectAllHandler(c *gin.Context) {
	h.manager.SelectAll()
	h.GetSelectionHandler(c)
}

// DeleteSelectedHandler は選択中のタスクを削除します。
func (h *TaskHandler) DeleteSelectedHandler(c *gin.Context) {
	removed, err := h.manager.DeleteSelected(c.Request.Context())
	if err != nil {
		writeTaskError(c, err, "Failed to delete tasks")
		return
	}
	h.cancelAlarms(removed)
	c.Status(http.StatusNoContent)
}

// taskFromRequest はリクエストからTaskGroupを組み立てます。期限は秒単位のUTCに揃えます。
func taskFromRequest(id uuid.UUID, req models.UpsertTaskRequest, expanded bool) models.TaskGroup {
	task := models.TaskGroup{
		ID:        id,
		Title:     req.Title,
		Completed: req.Completed,
		Expanded:  expanded,
		SubTasks:  make([]models.SubTask, 0, len(req.SubTasks)),
	}
	if req.Expanded != nil {
		task.Expanded = *req.Expanded
	}
	if req.DueDate != nil {
		due := req.DueDate.UTC().Truncate(time.Second)
		task.DueDate = &due
	}
	for _, st := range req.SubTasks {
		task.SubTasks = append(task.SubTasks, models.SubTask{
			ID:        st.ID,
			GroupID:   id,
			Title:     st.Title,
			Completed: st.Completed,
		})
	}
	return task
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return uuid.Nil, false
	}
	return id, true
}

func writeTaskError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, services.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, services.ErrSubTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Sub task not found"})
	case errors.Is(err, services.ErrSubTaskConflict):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Sub task belongs to another task"})
	default:
		log.Printf("%s: %v", message, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
