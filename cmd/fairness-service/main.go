package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/healthflow-ai/platform/pkg/common/config"
	"github.com/healthflow-ai/platform/pkg/common/database"
	"github.com/healthflow-ai/platform/pkg/common/kafka"
	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/fairness"
	"github.com/healthflow-ai/platform/pkg/observability/metrics"
)

type FairnessApp struct {
	service  *fairness.Service
	producer *kafka.Producer
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := fairness.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate fairness tables")
	}

	service := fairness.NewService(repo, fairness.Options{
		ParityThreshold:     cfg.DemographicParityThreshold,
		OddsThreshold:       cfg.EqualizedOddsThreshold,
		DriftThreshold:      cfg.DriftThreshold,
		ProtectedAttributes: cfg.ProtectedAttributes,
	})

	app := &FairnessApp{service: service}
	app.producer = kafka.NewProducer("bias-alerts")
	defer app.producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.auditLoop(ctx, cfg.AuditInterval)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/audit/run", app.handleRunAudit).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/metrics/latest", app.handleLatest).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/metrics/history", app.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/alerts", app.handleOpenAlerts).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/alerts/{alert_id}/resolve", app.handleResolve).Methods(http.MethodPost)
	router.HandleFunc("/metrics", app.handleMetrics).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Fairness Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Fairness Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Fairness Service stopped")
}

// auditLoop runs one audit per interval until shutdown.
func (a *FairnessApp) auditLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := a.runAudit(ctx); err != nil {
				logger.Log.WithError(err).Error("scheduled fairness audit failed")
			}
		}
	}
}

func (a *FairnessApp) runAudit(ctx context.Context) (models.FairnessSnapshot, []models.BiasAlert, error) {
	snapshot, alerts, err := a.service.RunAudit(ctx)
	if err != nil {
		return models.FairnessSnapshot{}, nil, err
	}

	for _, alert := range alerts {
		if err := a.producer.PublishEvent(ctx, "audit", "fairness-service", map[string]interface{}{
			"alert_id":     alert.ID.String(),
			"alert_type":   alert.AlertType,
			"severity":     alert.Severity,
			"metric_name":  alert.MetricName,
			"metric_value": alert.MetricValue,
		}); err != nil {
			logger.Log.WithError(err).Error("failed to publish bias alert event")
		}
	}

	return snapshot, alerts, nil
}

func (a *FairnessApp) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	snapshot, alerts, err := a.runAudit(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snapshot,
		"alerts":   alerts,
	})
}

func (a *FairnessApp) handleLatest(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.service.Latest(r.Context())
	if err != nil {
		if errors.Is(err, fairness.ErrSnapshotNotFound) {
			http.Error(w, "no snapshot yet", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *FairnessApp) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			days = parsed
		}
	}
	snapshots, err := a.service.History(r.Context(), days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (a *FairnessApp) handleOpenAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.service.OpenAlerts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (a *FairnessApp) handleResolve(w http.ResponseWriter, r *http.Request) {
	alertID, err := uuid.Parse(mux.Vars(r)["alert_id"])
	if err != nil {
		http.Error(w, "invalid alert id", http.StatusBadRequest)
		return
	}

	var req struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ResolvedBy == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := a.service.ResolveAlert(r.Context(), alertID, req.ResolvedBy); err != nil {
		if errors.Is(err, fairness.ErrAlertNotFound) {
			http.Error(w, "alert not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (a *FairnessApp) handleMetrics(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.service.OpenAlerts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveOpenAlerts(len(alerts))
	metrics.WritePrometheus(w)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
