package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
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
	"github.com/healthflow-ai/platform/pkg/features"
	"github.com/healthflow-ai/platform/pkg/nlp"
	"github.com/healthflow-ai/platform/pkg/observability/metrics"
)

type FeaturizerApp struct {
	service  *features.Service
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

	repo := features.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate feature tables")
	}

	lexicon, err := nlp.LoadLexicon(cfg.LexiconPath)
	if err != nil {
		logger.Log.WithError(err).Warn("falling back to default lexicon")
	}
	analyzer, err := nlp.NewAnalyzer(lexicon)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to compile lexicon")
	}

	codes, err := features.LoadCodes(cfg.CodesConfigPath)
	if err != nil {
		logger.Log.WithError(err).Warn("falling back to default code dictionary")
	}

	cache := features.NewCache(database.GetRedis(), cfg.FeatureCacheTTL)

	service := features.NewService(
		features.NewRepository(db),
		deid.NewRepository(db),
		clinical.NewRepository(db),
		analyzer,
		cache,
		features.Options{Version: cfg.FeatureVersion, Codes: codes},
	)

	app := &FeaturizerApp{service: service}
	app.producer = kafka.NewProducer("features-computed")
	defer app.producer.Close()

	app.consumer = kafka.NewConsumer("patient-deidentified", "featurizer-service")
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

	router.HandleFunc("/api/v1/features/extract", app.handleExtract).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/features/extract/batch", app.handleBatch).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/features/{pseudo_id}", app.handleLatest).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/features/{pseudo_id}/model-input", app.handleModelInput).Methods(http.MethodGet)
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
		}).Info("Featurizer Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Featurizer Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Featurizer Service stopped")
}

func (a *FeaturizerApp) processEvent(ctx context.Context, event models.Event) error {
	pseudoID, ok := event.Data["pseudo_id"].(string)
	if !ok || pseudoID == "" {
		logger.Log.WithField("event_id", event.ID).Error("event missing pseudo_id")
		return nil
	}

	vector, err := a.service.Extract(ctx, pseudoID, "")
	if err != nil {
		return err
	}

	return a.producer.PublishEvent(ctx, "featurize", "featurizer-service", map[string]interface{}{
		"pseudo_id":       vector.PseudoPatientID,
		"feature_version": vector.FeatureVersion,
	})
}

func (a *FeaturizerApp) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PseudoPatientID string `json:"pseudo_patient_id"`
		EncounterID     string `json:"encounter_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PseudoPatientID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	vector, err := a.service.Extract(r.Context(), req.PseudoPatientID, req.EncounterID)
	if err != nil {
		if errors.Is(err, features.ErrPatientNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := a.producer.PublishEvent(r.Context(), "featurize", "featurizer-service", map[string]interface{}{
		"pseudo_id":       vector.PseudoPatientID,
		"feature_version": vector.FeatureVersion,
	}); err != nil {
		logger.Log.WithError(err).Error("failed to publish featurize event")
	}

	writeJSON(w, http.StatusOK, vector)
}

func (a *FeaturizerApp) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PseudoPatientIDs []string `json:"pseudo_patient_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.PseudoPatientIDs) == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	vectors, batch := a.service.BatchExtract(r.Context(), req.PseudoPatientIDs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"features": vectors,
		"batch":    batch,
	})
}

func (a *FeaturizerApp) handleLatest(w http.ResponseWriter, r *http.Request) {
	pseudoID := mux.Vars(r)["pseudo_id"]
	vector, err := a.service.Latest(r.Context(), pseudoID)
	if err != nil {
		if errors.Is(err, features.ErrVectorNotFound) {
			http.Error(w, "features not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, vector)
}

func (a *FeaturizerApp) handleModelInput(w http.ResponseWriter, r *http.Request) {
	pseudoID := mux.Vars(r)["pseudo_id"]
	input, err := a.service.ModelInputFor(r.Context(), pseudoID)
	if err != nil {
		if errors.Is(err, features.ErrVectorNotFound) {
			http.Error(w, "features not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, input)
}

func (a *FeaturizerApp) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveFeatures(stats)
	metrics.WritePrometheus(w)
}

func (a *FeaturizerApp) handleStats(w http.ResponseWriter, r *http.Request) {
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
