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
	"github.com/healthflow-ai/platform/pkg/common/config"
	"github.com/healthflow-ai/platform/pkg/common/database"
	"github.com/healthflow-ai/platform/pkg/common/kafka"
	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/features"
	"github.com/healthflow-ai/platform/pkg/observability/metrics"
	"github.com/healthflow-ai/platform/pkg/risk"
)

type RiskApp struct {
	service  *risk.Service
	producer *kafka.Producer
	consumer *kafka.Consumer
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := risk.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate prediction tables")
	}

	if err := risk.Bootstrap(cfg.ModelArtifactDir, cfg.ModelName); err != nil {
		logger.Log.WithError(err).Fatal("failed to bootstrap model artifact")
	}
	model := risk.NewModel(cfg.ModelArtifactDir)

	cache := features.NewCache(database.GetRedis(), cfg.FeatureCacheTTL)
	projector := features.NewProjector(features.NewRepository(db), cache, cfg.FeatureVersion)

	service := risk.NewService(repo, projector, model, risk.Options{
		ModelName:       cfg.ModelName,
		ThresholdHigh:   cfg.RiskThresholdHigh,
		ThresholdMedium: cfg.RiskThresholdMedium,
		BaseMargin:      cfg.BaseConfidenceMargin,
		HorizonDays:     cfg.PredictionHorizonDays,
	})

	app := &RiskApp{service: service}
	app.producer = kafka.NewProducer("prediction-created")
	defer app.producer.Close()

	app.consumer = kafka.NewConsumer("features-computed", "risk-service")
	defer app.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := app.consumer.Consume(ctx, app.processEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Fatal("consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/predict", app.handlePredict).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/predict/batch", app.handleBatch).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/predictions/high-risk", app.handleHighRisk).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/predictions/{pseudo_id}", app.handleLatest).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/outcomes", app.handleOutcome).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/model/metrics", app.handleMetrics).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/stats", app.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/metrics", app.handlePrometheus).Methods(http.MethodGet)

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
		}).Info("Risk Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Risk Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Risk Service stopped")
}

func (a *RiskApp) processEvent(ctx context.Context, event models.Event) error {
	pseudoID, ok := event.Data["pseudo_id"].(string)
	if !ok || pseudoID == "" {
		logger.Log.WithField("event_id", event.ID).Error("event missing pseudo_id")
		return nil
	}

	prediction, err := a.service.Predict(ctx, pseudoID, "", nil)
	if err != nil {
		return err
	}

	return a.publishPrediction(ctx, prediction)
}

func (a *RiskApp) publishPrediction(ctx context.Context, prediction models.RiskPrediction) error {
	return a.producer.PublishEvent(ctx, "predict", "risk-service", map[string]interface{}{
		"pseudo_id":  prediction.PseudoPatientID,
		"risk_score": prediction.RiskScore,
		"risk_level": prediction.RiskLevel,
	})
}

func (a *RiskApp) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PseudoPatientID string     `json:"pseudo_patient_id"`
		EncounterID     string     `json:"encounter_id"`
		DischargeDate   *time.Time `json:"discharge_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PseudoPatientID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	prediction, err := a.service.Predict(r.Context(), req.PseudoPatientID, req.EncounterID, req.DischargeDate)
	if err != nil {
		if errors.Is(err, risk.ErrFeaturesNotFound) {
			http.Error(w, "features not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := a.publishPrediction(r.Context(), prediction); err != nil {
		logger.Log.WithError(err).Error("failed to publish prediction event")
	}

	writeJSON(w, http.StatusOK, prediction)
}

func (a *RiskApp) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PseudoPatientIDs []string `json:"pseudo_patient_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.PseudoPatientIDs) == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	predictions, batch := a.service.BatchPredict(r.Context(), req.PseudoPatientIDs)
	for _, prediction := range predictions {
		if err := a.publishPrediction(r.Context(), prediction); err != nil {
			logger.Log.WithError(err).Error("failed to publish prediction event")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": predictions,
		"batch":       batch,
	})
}

func (a *RiskApp) handleLatest(w http.ResponseWriter, r *http.Request) {
	pseudoID := mux.Vars(r)["pseudo_id"]
	prediction, err := a.service.Latest(r.Context(), pseudoID)
	if err != nil {
		if errors.Is(err, risk.ErrPredictionNotFound) {
			http.Error(w, "prediction not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

func (a *RiskApp) handleHighRisk(w http.ResponseWriter, r *http.Request) {
	var threshold float64
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			threshold = parsed
		}
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	predictions, err := a.service.HighRisk(r.Context(), threshold, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, predictions)
}

func (a *RiskApp) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PseudoPatientID   string     `json:"pseudo_patient_id"`
		ActualReadmission *bool      `json:"actual_readmission"`
		ReadmissionDate   *time.Time `json:"readmission_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PseudoPatientID == "" || req.ActualReadmission == nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	err := a.service.UpdateOutcome(r.Context(), req.PseudoPatientID, *req.ActualReadmission, req.ReadmissionDate)
	if err != nil {
		if errors.Is(err, risk.ErrPredictionNotFound) {
			http.Error(w, "prediction not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "outcome recorded"})
}

func (a *RiskApp) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := a.service.Metrics(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (a *RiskApp) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObservePredictions(stats)
	metrics.WritePrometheus(w)
}

func (a *RiskApp) handleStats(w http.ResponseWriter, r *http.Request) {
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
