package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nbrembilla/scorte/internal/api"
	"github.com/nbrembilla/scorte/internal/calendar"
	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/demand"
	"github.com/nbrembilla/scorte/internal/ledger"
	"github.com/nbrembilla/scorte/internal/storage/adapter"
	"github.com/nbrembilla/scorte/internal/workflow"
	"github.com/nbrembilla/scorte/pkg/logger"
)

func main() {
	cfg := config.Load()

	logger.SetLevel(cfg.Server.Mode)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := adapter.Open(cfg.Storage)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	holidays, err := calendar.LoadHolidays(cfg.Calendar.HolidayCalendarPath)
	if err != nil {
		logger.Log.Fatal().Err(err).
			Str("path", cfg.Calendar.HolidayCalendarPath).
			Msg("failed to load holiday calendar")
	}
	cal := calendar.New(calendar.FromAppConfig(cfg.Calendar, holidays))

	calc := ledger.NewCalculator(cfg.Forecast.OOSLookbackDays)
	builder := demand.NewBuilder(cfg.Forecast)
	svc := workflow.NewService(store, cal, calc, builder)

	router := api.NewRouter(svc, cfg)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().
			Str("port", cfg.Server.Port).
			Str("backend", string(cfg.Storage.Backend)).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
