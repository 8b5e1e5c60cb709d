package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"noteen/backend/internal/alarm"
	"noteen/backend/internal/config"
	"noteen/backend/internal/notify"
	"noteen/backend/internal/routes"
	"noteen/backend/internal/services"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the reminder scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := mustOpenStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub()
	scheduler := alarm.NewTimerScheduler(notify.Multi{notify.LogNotifier{}, hub})
	defer scheduler.Stop()

	manager := services.NewTaskManager(st.tasks, scheduler)
	if err := manager.Load(ctx); err != nil {
		return err
	}
	go func() {
		if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Task manager stopped: %v", err)
		}
	}()
	armed := alarm.Rearm(scheduler, manager.Groups(), time.Now())
	log.Printf("Re-armed %d reminders", armed)

	jwtService := services.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService, err := services.NewAuthService(cfg.Auth.Password, jwtService)
	if err != nil {
		return err
	}

	r := routes.SetupRouter(st.db, routes.Dependencies{
		TaskService: st.tasks,
		Manager:     manager,
		Alarms:      scheduler,
		Hub:         hub,
		AuthService: authService,
		JWTService:  jwtService,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
		// シグナルでストリーム中のリクエストも終了させる
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on port %s...", cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
