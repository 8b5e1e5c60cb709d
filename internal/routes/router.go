// Package routesはroutingを行います。
package routes

import (
	"database/sql"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"noteen/backend/internal/alarm"
	"noteen/backend/internal/handlers"
	"noteen/backend/internal/notify"
	"noteen/backend/internal/services"
)

// Dependencies はルーターが利用するサービスです。
type Dependencies struct {
	TaskService *services.TaskService
	Manager     *services.TaskManager
	Alarms      alarm.Scheduler
	Hub         *notify.Hub
	AuthService *services.AuthService
	JWTService  *services.JWTService
	CORSOrigins []string
}

// SetupRouter はGinルーターをセットアップし、すべてのエンドポイントを登録します。
func SetupRouter(db *sql.DB, deps Dependencies) *gin.Engine {
	r := gin.Default()

	// CORS対策
	config := cors.DefaultConfig()
	config.AllowOrigins = deps.CORSOrigins
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	config.AllowCredentials = true
	r.Use(cors.New(config))

	// ハンドラー
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	taskHandler := handlers.NewTaskHandler(deps.Manager, deps.TaskService, deps.Alarms)
	reminderHandler := handlers.NewReminderHandler(deps.Hub)

	// ルーティング
	r.GET("/api/hello", HelloHandler)
	r.GET("/api/dbcheck", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Database connection failed", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Database connection is healthy"})
	})
	r.POST("/api/login", authHandler.LoginHandler)

	authorized := r.Group("/api")
	authorized.Use(AuthMiddleware(deps.JWTService))
	{
		authorized.GET("/protected", authHandler.ProtectedHandler)

		authorized.GET("/tasks", taskHandler.GetTasksHandler)
		authorized.GET("/tasks/nearest", taskHandler.GetNearestHandler)
		authorized.GET("/tasks/stream", taskHandler.StreamTasksHandler)
		authorized.POST("/tasks", taskHandler.CreateTaskHandler)
		authorized.PUT("/tasks/:id", taskHandler.UpdateTaskHandler)
		authorized.POST("/tasks/:id/complete", taskHandler.CompleteTaskHandler)
		authorized.POST("/tasks/:id/expand", taskHandler.ExpandTaskHandler)
		authorized.POST("/tasks/:id/subtasks/:subId/toggle", taskHandler.ToggleSubTaskHandler)
		authorized.POST("/tasks/:id/subtasks/move", taskHandler.MoveSubTaskHandler)
		authorized.POST("/tasks/move", taskHandler.MoveTaskHandler)
		authorized.POST("/tasks/order", taskHandler.CommitOrderHandler)
		authorized.DELETE("/tasks", taskHandler.DeleteTasksHandler)

		authorized.GET("/edit-mode", taskHandler.GetEditModeHandler)
		authorized.POST("/edit-mode", taskHandler.EnterEditModeHandler)
		authorized.DELETE("/edit-mode", taskHandler.ExitEditModeHandler)

		authorized.GET("/selection", taskHandler.GetSelectionHandler)
		authorized.POST("/selection/all", taskHandler.SelectAllHandler)
		authorized.POST("/selection/:id", taskHandler.ToggleSelectionHandler)
		authorized.DELETE("/selection/tasks", taskHandler.DeleteSelectedHandler)

		authorized.GET("/reminders/stream", reminderHandler.StreamRemindersHandler)
	}

	return r
}

func HelloHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Hello from Go Backend!"})
}
