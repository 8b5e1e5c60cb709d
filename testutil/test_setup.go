package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"noteen/backend/internal/alarm"
	"noteen/backend/internal/config"
	"noteen/backend/internal/database"
	"noteen/backend/internal/models"
	"noteen/backend/internal/notify"
	"noteen/backend/internal/repositories"
	"noteen/backend/internal/routes"
	"noteen/backend/internal/services"
)

const (
	TestPassword  = "password123"
	TestJWTSecret = "test-secret"
)

// App はテストで使うサービス一式です。
type App struct {
	Repo      *repositories.TaskRepository
	Tasks     *services.TaskService
	Manager   *services.TaskManager
	Scheduler *alarm.TimerScheduler
	Hub       *notify.Hub
	JWT       *services.JWTService
}

// OpenTestDB は一時ディレクトリにSQLiteデータベースを作成し、スキーマを適用します。
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(config.Database{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "tasks.db"),
	})
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { db.Close() })
	return db
}

// NewTestRepository はテスト用データベース上のTaskRepositoryを作成します。
func NewTestRepository(t *testing.T) (*sql.DB, *repositories.TaskRepository) {
	t.Helper()
	db := OpenTestDB(t)
	return db, repositories.NewTaskRepository(db, repositories.DialectSQLite)
}

// SetupTestDB はテスト用のデータベースとルーターをセットアップします。
func SetupTestDB(t *testing.T) (*sql.DB, *gin.Engine, *App) {
	t.Helper()
	db, repo := NewTestRepository(t)

	tasks := services.NewTaskService(repo)
	hub := notify.NewHub()
	scheduler := alarm.NewTimerScheduler(hub)
	manager := services.NewTaskManager(tasks, scheduler)
	require.NoError(t, manager.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = manager.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		scheduler.Stop()
		tasks.Close()
	})

	jwtService := services.NewJWTService(TestJWTSecret, time.Hour)
	authService, err := services.NewAuthService(TestPassword, jwtService)
	require.NoError(t, err)

	app := &App{
		Repo:      repo,
		Tasks:     tasks,
		Manager:   manager,
		Scheduler: scheduler,
		Hub:       hub,
		JWT:       jwtService,
	}

	log.Println("Successfully set up test database!")

	router := SetupTestRouter(db, app, authService)
	return db, router, app
}

// SetupTestRouter はテスト用のGinルーターをセットアップします。
func SetupTestRouter(db *sql.DB, app *App, authService *services.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return routes.SetupRouter(db, routes.Dependencies{
		TaskService: app.Tasks,
		Manager:     app.Manager,
		Alarms:      app.Scheduler,
		Hub:         app.Hub,
		AuthService: authService,
		JWTService:  app.JWT,
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

// CreateTestTask はAPI経由でタスクを作成します。
func CreateTestTask(t *testing.T, router *gin.Engine, token string, req models.UpsertTaskRequest) models.TaskGroupView {
	t.Helper()
	body, _ := json.Marshal(req)

	httpReq, _ := http.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBuffer(body))
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httpReq)

	require.Equal(t, http.StatusCreated, resp.Code, "タスク作成に失敗しました: %s", resp.Body.String())

	var created models.TaskGroupView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	return created
}

// LoginAndGetToken はログインしてトークンを取得します。
func LoginAndGetToken(t *testing.T, router *gin.Engine, password string) (string, error) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"password": password})

	req, _ := http.NewRequest(http.MethodPost, "/api/login", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d: %s", resp.Code, resp.Body.String())
	}

	var loginRes map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &loginRes); err != nil {
		return "", fmt.Errorf("failed to unmarshal login response: %w", err)
	}
	token, ok := loginRes["token"].(string)
	if !ok {
		return "", errors.New("token not found or not a string in login response")
	}
	return token, nil
}
