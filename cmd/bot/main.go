package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pulsewatch/signals-bot/internal/categorizer"
	"github.com/pulsewatch/signals-bot/internal/config"
	"github.com/pulsewatch/signals-bot/internal/generator"
	"github.com/pulsewatch/signals-bot/internal/models"
	"github.com/pulsewatch/signals-bot/internal/notifications"
	"github.com/pulsewatch/signals-bot/internal/pipeline"
	"github.com/pulsewatch/signals-bot/internal/scheduler"
	"github.com/pulsewatch/signals-bot/internal/storage"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting signals bot")

	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		logrus.Fatalf("Failed to load target roster: %v", err)
	}
	logrus.Infof("Monitoring %d targets", len(targets))

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	var archiver storage.Archiver = storage.NoopArchiver{}
	if cfg.StorageAccount != "" {
		azureArchiver, err := storage.NewAzureArchiver(cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize mention archive: %v", err)
		}
		archiver = azureArchiver
	}

	notificationService := notifications.NewService(cfg)
	feed := categorizer.NewClient(cfg.CategorizerURL)
	briefs := generator.NewClient(cfg.GeneratorURL)

	pipelineService := pipeline.NewService(cfg, store, archiver, feed, briefs, notificationService, targets)

	schedulerService := scheduler.NewService(cfg, pipelineService)
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	// HTTP surface for health checks, metrics, and manual triggers
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler(pipelineService)).Methods("GET")
	router.HandleFunc("/trigger", triggerHandler(cfg, pipelineService)).Methods("POST")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func metricsHandler(pipelineService *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(pipelineService.GetMetrics()))
	}
}

func triggerHandler(cfg *config.Config, pipelineService *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID := r.URL.Query().Get("target")
		go func() {
			if targetID != "" {
				summary := pipelineService.Run(context.Background(), targetID, cfg.WindowDays)
				logSummary(summary)
				return
			}
			for _, summary := range pipelineService.RunAll(context.Background(), cfg.WindowDays) {
				logSummary(summary)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"message": "Pipeline run triggered"})
	}
}

func logSummary(summary models.RunSummary) {
	data, _ := json.Marshal(summary)
	if summary.Failed() {
		logrus.Errorf("Triggered run failed: %s", data)
		return
	}
	logrus.Infof("Triggered run finished: %s", data)
}
