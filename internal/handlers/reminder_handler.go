package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"noteen/backend/internal/notify"
)

// ReminderHandler は発火したリマインダーをServer-Sent Eventsで配信します。
type ReminderHandler struct {
	hub *notify.Hub
}

// NewReminderHandler は新しいReminderHandlerを作成します。
func NewReminderHandler(hub *notify.Hub) *ReminderHandler {
	return &ReminderHandler{hub: hub}
}

// StreamRemindersHandler はクライアントが切断するまでリマインダーを送り続けます。
func (h *ReminderHandler) StreamRemindersHandler(c *gin.Context) {
	ctx := c.Request.Context()
	reminders := h.hub.Subscribe(ctx)
	startSSE(c)
	c.Stream(func(w io.Writer) bool {
		select {
		case r, ok := <-reminders:
			if !ok {
				return false
			}
			c.SSEvent("reminder", r)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// startSSE はイベントが来る前にヘッダーを送り、クライアントの接続を確立させます。
func startSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}
