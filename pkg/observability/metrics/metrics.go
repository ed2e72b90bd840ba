// Package metrics exposes pipeline gauges in the Prometheus text format
// without pulling in a client library. Each service samples its own stats
// into the shared gauges before writing.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/healthflow-ai/platform/pkg/common/models"
)

var (
	patientsDeidentified atomic.Int64
	deidOperations       atomic.Int64
	featurePatients      atomic.Int64
	featureVectors       atomic.Int64
	predictionsTotal     atomic.Int64
	predictionsHigh      atomic.Int64
	predictionsMedium    atomic.Int64
	predictionsLow       atomic.Int64
	predictionsToday     atomic.Int64
	openBiasAlerts       atomic.Int64
)

func ObserveDeid(stats models.DeidStats) {
	patientsDeidentified.Store(stats.TotalPatients)
	deidOperations.Store(stats.TotalOperations)
}

func ObserveFeatures(stats models.FeatureStats) {
	featurePatients.Store(stats.TotalPatients)
	featureVectors.Store(stats.TotalVectors)
}

func ObservePredictions(stats models.PredictionStats) {
	predictionsTotal.Store(stats.TotalPredictions)
	predictionsHigh.Store(stats.HighRiskCount)
	predictionsMedium.Store(stats.MediumRiskCount)
	predictionsLow.Store(stats.LowRiskCount)
	predictionsToday.Store(stats.PredictionsToday)
}

func ObserveOpenAlerts(count int) {
	openBiasAlerts.Store(int64(count))
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeGauge(w, "healthflow_deid_patients_total", "Number of patients with a pseudonymous identity.", patientsDeidentified.Load())
	writeGauge(w, "healthflow_deid_operations_total", "Number of de-identification audit log entries.", deidOperations.Load())
	writeGauge(w, "healthflow_feature_patients_total", "Number of patients with at least one feature vector.", featurePatients.Load())
	writeGauge(w, "healthflow_feature_vectors_total", "Number of computed feature vectors.", featureVectors.Load())
	writeGauge(w, "healthflow_predictions_total", "Number of risk predictions.", predictionsTotal.Load())
	writeGauge(w, "healthflow_predictions_high_total", "Number of HIGH risk predictions.", predictionsHigh.Load())
	writeGauge(w, "healthflow_predictions_medium_total", "Number of MEDIUM risk predictions.", predictionsMedium.Load())
	writeGauge(w, "healthflow_predictions_low_total", "Number of LOW risk predictions.", predictionsLow.Load())
	writeGauge(w, "healthflow_predictions_today_total", "Number of risk predictions created today.", predictionsToday.Load())
	writeGauge(w, "healthflow_bias_alerts_open", "Number of unresolved bias alerts.", openBiasAlerts.Load())
}

func writeGauge(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
