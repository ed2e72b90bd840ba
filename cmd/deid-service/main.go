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

	"github.com/gorilla/mux"
	"github.com/healthflow-ai/platform/pkg/clinical"
	"github.com/healthflow-ai/platform/pkg/common/config"
	"github.com/healthflow-ai/platform/pkg/common/database"
	"github.com/healthflow-ai/platform/pkg/common/kafka"
	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/deid"
	"github.com/healthflow-ai/platform/pkg/dlp"
	"github.com/healthflow-ai/platform/pkg/observability/metrics"
)

type DeidApp struct {
	service  *deid.Service
	producer *kafka.Producer
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := deid.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate deid tables")
	}
	source := clinical.NewRepository(db)

	rules, err := dlp.LoadRules(cfg.DLPRulesPath)
	if err != nil {
		logger.Log.WithError(err).Warn("falling back to default DLP rules")
		rules = dlp.DefaultRules()
	}
	scanner, err := dlp.NewDetector(rules)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to compile DLP rules")
	}

	service := deid.NewService(repo, source, deid.Options{
		Salt:            cfg.DeidSalt,
		AgeGroupBins:    cfg.AgeGroupBins,
		AgeMaskCeiling:  cfg.AgeMaskCeiling,
		MaskedBirthYear: cfg.MaskedBirthYear,
		Scanner:         scanner,
	})

	app := &DeidApp{service: service}
	app.producer = kafka.NewProducer("patient-deidentified")
	defer app.producer.Close()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/deidentify", app.handleDeidentify).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/deidentify/batch", app.handleBatch).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/patients/{pseudo_id}", app.handleGetPatient).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/patients/{original_id}", app.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/audit", app.handleAudit).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/stats", app.handleStats).Methods(http.MethodGet)
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
		}).Info("De-identification Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down De-identification Service...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("De-identification Service stopped")
}

func (a *DeidApp) publishIdentity(ctx context.Context, patient models.PseudonymousPatient) {
	err := a.producer.PublishEvent(ctx, "deidentify", "deid-service", map[string]interface{}{
		"pseudo_id": patient.PseudoID,
		"age_group": patient.AgeGroup,
		"gender":    patient.Gender,
	})
	if err != nil {
		logger.Log.WithError(err).Error("failed to publish deidentify event")
	}
}

func (a *DeidApp) handleDeidentify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginalID string `json:"original_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OriginalID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	result, err := a.service.Deidentify(r.Context(), req.OriginalID)
	if err != nil {
		if errors.Is(err, clinical.ErrRecordNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.publishIdentity(r.Context(), result.Patient)
	writeJSON(w, http.StatusOK, result)
}

func (a *DeidApp) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginalIDs []string `json:"original_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.OriginalIDs) == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	results, batch := a.service.BatchDeidentify(r.Context(), req.OriginalIDs)
	for _, result := range results {
		a.publishIdentity(r.Context(), result.Patient)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"batch":   batch,
	})
}

func (a *DeidApp) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	pseudoID := mux.Vars(r)["pseudo_id"]
	patient, err := a.service.GetByPseudoID(r.Context(), pseudoID)
	if err != nil {
		if errors.Is(err, deid.ErrPatientNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (a *DeidApp) handleDelete(w http.ResponseWriter, r *http.Request) {
	originalID := mux.Vars(r)["original_id"]
	if err := a.service.Delete(r.Context(), originalID); err != nil {
		if errors.Is(err, deid.ErrPatientNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *DeidApp) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	entries, err := a.service.AuditLog(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *DeidApp) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveDeid(stats)
	metrics.WritePrometheus(w)
}

func (a *DeidApp) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
