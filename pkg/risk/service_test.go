package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/features"
)

type fakePredictionStore struct {
	predictions []models.RiskPrediction
}

func (f *fakePredictionStore) Insert(_ context.Context, p models.RiskPrediction) error {
	f.predictions = append(f.predictions, p)
	return nil
}

func (f *fakePredictionStore) Latest(_ context.Context, pseudoID string) (models.RiskPrediction, error) {
	idx := f.latestIndex(pseudoID)
	if idx < 0 {
		return models.RiskPrediction{}, ErrPredictionNotFound
	}
	return f.predictions[idx], nil
}

func (f *fakePredictionStore) latestIndex(pseudoID string) int {
	idx := -1
	for i, p := range f.predictions {
		if p.PseudoPatientID != pseudoID {
			continue
		}
		if idx < 0 || p.PredictionTimestamp.After(f.predictions[idx].PredictionTimestamp) {
			idx = i
		}
	}
	return idx
}

func (f *fakePredictionStore) HighRisk(_ context.Context, threshold float64, limit int) ([]models.RiskPrediction, error) {
	var out []models.RiskPrediction
	for _, p := range f.predictions {
		if p.RiskScore >= threshold {
			out = append(out, p)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakePredictionStore) RecordOutcome(_ context.Context, pseudoID string, readmitted bool, readmissionDate *time.Time, recordedAt time.Time) error {
	idx := f.latestIndex(pseudoID)
	if idx < 0 {
		return ErrPredictionNotFound
	}
	f.predictions[idx].ActualReadmission = &readmitted
	f.predictions[idx].ReadmissionDate = readmissionDate
	f.predictions[idx].OutcomeRecordedAt = &recordedAt
	return nil
}

func (f *fakePredictionStore) WithOutcomes(_ context.Context) ([]models.RiskPrediction, error) {
	var out []models.RiskPrediction
	for _, p := range f.predictions {
		if p.ActualReadmission != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePredictionStore) Count(_ context.Context) (int64, error) {
	return int64(len(f.predictions)), nil
}

func (f *fakePredictionStore) Stats(_ context.Context) (models.PredictionStats, error) {
	return models.PredictionStats{TotalPredictions: int64(len(f.predictions))}, nil
}

type fakeFeatureSource struct {
	inputs map[string]map[string]float64
}

func (f *fakeFeatureSource) ModelInputFor(_ context.Context, pseudoID string) (map[string]float64, error) {
	input, ok := f.inputs[pseudoID]
	if !ok {
		return nil, features.ErrVectorNotFound
	}
	return input, nil
}

// scoreScorer reads the probability straight out of the input map, so tests
// control scores per patient through the feature source.
type scoreScorer struct {
	factors      []models.RiskFactor
	attributeErr error
}

func (s *scoreScorer) Score(_ string, input map[string]float64) (float64, error) {
	return input["score"], nil
}

func (s *scoreScorer) Attribute(_ string, input map[string]float64, topN int) ([]models.RiskFactor, error) {
	if s.attributeErr != nil {
		return nil, s.attributeErr
	}
	return s.factors, nil
}

func riskTestTime() time.Time {
	return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newRiskService(store *fakePredictionStore, source *fakeFeatureSource, scorer Scorer) *Service {
	return NewService(store, source, scorer, Options{Now: riskTestTime})
}

func scoredPatients(scores map[string]float64) *fakeFeatureSource {
	inputs := make(map[string]map[string]float64, len(scores))
	for pseudoID, score := range scores {
		inputs[pseudoID] = map[string]float64{"score": score}
	}
	return &fakeFeatureSource{inputs: inputs}
}

func TestLevelTiers(t *testing.T) {
	service := newRiskService(&fakePredictionStore{}, &fakeFeatureSource{}, &scoreScorer{})

	cases := []struct {
		score float64
		want  string
	}{
		{0.75, "HIGH"},
		{0.7, "HIGH"},
		{0.5, "MEDIUM"},
		{0.4, "MEDIUM"},
		{0.39, "LOW"},
		{0.1, "LOW"},
	}
	for _, tc := range cases {
		if got := service.Level(tc.score); got != tc.want {
			t.Errorf("Level(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestPredictPersistsWithExplanation(t *testing.T) {
	store := &fakePredictionStore{}
	factors := []models.RiskFactor{
		{Feature: "previous_admissions_30d", Impact: 0.4, Value: 3, Direction: "increases"},
		{Feature: "discharge_to_home", Impact: 0.1, Value: 1, Direction: "decreases"},
	}
	service := newRiskService(store, scoredPatients(map[string]float64{"PT-A": 0.82}), &scoreScorer{factors: factors})

	prediction, err := service.Predict(context.Background(), "PT-A", "enc-1", nil)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if prediction.RiskScore != 0.82 {
		t.Errorf("score = %v, want 0.82", prediction.RiskScore)
	}
	if prediction.RiskLevel != "HIGH" {
		t.Errorf("level = %s, want HIGH", prediction.RiskLevel)
	}
	if prediction.HorizonDays != 30 {
		t.Errorf("horizon = %d, want 30", prediction.HorizonDays)
	}
	if len(prediction.TopRiskFactors) != 2 || prediction.TopRiskFactors[0].Feature != "previous_admissions_30d" {
		t.Errorf("factors = %+v", prediction.TopRiskFactors)
	}
	if len(store.predictions) != 1 {
		t.Fatalf("stored predictions = %d, want 1", len(store.predictions))
	}
}

func TestPredictSurvivesAttributionFailure(t *testing.T) {
	store := &fakePredictionStore{}
	scorer := &scoreScorer{attributeErr: errors.New("explanation backend unavailable")}
	service := newRiskService(store, scoredPatients(map[string]float64{"PT-A": 0.82}), scorer)

	prediction, err := service.Predict(context.Background(), "PT-A", "enc-1", nil)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if prediction.RiskScore != 0.82 || prediction.RiskLevel != "HIGH" {
		t.Errorf("score/level = %v/%s, want 0.82/HIGH", prediction.RiskScore, prediction.RiskLevel)
	}
	if len(prediction.TopRiskFactors) != 0 {
		t.Errorf("factors = %+v, want none", prediction.TopRiskFactors)
	}
	if len(store.predictions) != 1 {
		t.Fatalf("stored predictions = %d, want 1", len(store.predictions))
	}
}

func TestConfidenceIntervalNarrowsAtExtremes(t *testing.T) {
	source := scoredPatients(map[string]float64{"mid": 0.5, "high": 0.9})
	service := newRiskService(&fakePredictionStore{}, source, &scoreScorer{})

	mid, err := service.Predict(context.Background(), "mid", "", nil)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	high, err := service.Predict(context.Background(), "high", "", nil)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	const eps = 1e-9
	if absDiff(mid.ConfidenceLower, 0.4) > eps || absDiff(mid.ConfidenceUpper, 0.6) > eps {
		t.Errorf("mid interval = [%v, %v], want [0.4, 0.6]", mid.ConfidenceLower, mid.ConfidenceUpper)
	}
	if absDiff(high.ConfidenceLower, 0.88) > eps || absDiff(high.ConfidenceUpper, 0.92) > eps {
		t.Errorf("high interval = [%v, %v], want [0.88, 0.92]", high.ConfidenceLower, high.ConfidenceUpper)
	}

	midWidth := mid.ConfidenceUpper - mid.ConfidenceLower
	highWidth := high.ConfidenceUpper - high.ConfidenceLower
	if highWidth >= midWidth {
		t.Errorf("interval should narrow away from 0.5: %v >= %v", highWidth, midWidth)
	}
}

func TestPredictWithoutFeatures(t *testing.T) {
	service := newRiskService(&fakePredictionStore{}, &fakeFeatureSource{}, &scoreScorer{})

	if _, err := service.Predict(context.Background(), "PT-MISSING", "", nil); err != ErrFeaturesNotFound {
		t.Fatalf("expected ErrFeaturesNotFound, got %v", err)
	}
}

func TestBatchPredictIsolatesFailures(t *testing.T) {
	source := scoredPatients(map[string]float64{"PT-1": 0.3, "PT-2": 0.8})
	service := newRiskService(&fakePredictionStore{}, source, &scoreScorer{})

	predictions, batch := service.BatchPredict(context.Background(), []string{"PT-1", "PT-MISSING", "PT-2"})

	if batch.TotalProcessed != 3 || batch.Successful != 2 || batch.Failed != 1 {
		t.Errorf("batch = %+v", batch)
	}
	if len(predictions) != 2 {
		t.Errorf("predictions = %d, want 2", len(predictions))
	}
	if len(batch.Errors) != 1 || batch.Errors[0].ID != "PT-MISSING" {
		t.Errorf("errors = %v", batch.Errors)
	}
}

func TestUpdateOutcomeAttachesToLatest(t *testing.T) {
	store := &fakePredictionStore{}
	service := newRiskService(store, scoredPatients(map[string]float64{"PT-A": 0.6}), &scoreScorer{})

	if err := service.UpdateOutcome(context.Background(), "PT-A", true, nil); err != ErrPredictionNotFound {
		t.Fatalf("outcome without prediction should fail, got %v", err)
	}

	if _, err := service.Predict(context.Background(), "PT-A", "", nil); err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if err := service.UpdateOutcome(context.Background(), "PT-A", true, nil); err != nil {
		t.Fatalf("outcome update failed: %v", err)
	}

	latest, err := service.Latest(context.Background(), "PT-A")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.ActualReadmission == nil || !*latest.ActualReadmission {
		t.Error("outcome not attached to latest prediction")
	}
	if latest.OutcomeRecordedAt == nil {
		t.Error("outcome timestamp missing")
	}
}

func TestMetricsPlaceholdersWithoutOutcomes(t *testing.T) {
	store := &fakePredictionStore{}
	service := newRiskService(store, scoredPatients(map[string]float64{"PT-A": 0.6}), &scoreScorer{})

	if _, err := service.Predict(context.Background(), "PT-A", "", nil); err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	metrics, err := service.Metrics(context.Background())
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	if metrics.AUCROC != 0.82 || metrics.Precision != 0.78 || metrics.Recall != 0.74 {
		t.Errorf("placeholder metrics = %+v", metrics)
	}
	if metrics.F1Score != 0.76 || metrics.BrierScore != 0.15 {
		t.Errorf("placeholder metrics = %+v", metrics)
	}
	if metrics.TotalPredictions != 1 || metrics.PredictionsWithOutcomes != 0 {
		t.Errorf("counts = %d/%d", metrics.TotalPredictions, metrics.PredictionsWithOutcomes)
	}
}

func TestMetricsFromRecordedOutcomes(t *testing.T) {
	store := &fakePredictionStore{}
	source := scoredPatients(map[string]float64{
		"PT-1": 0.9,
		"PT-2": 0.8,
		"PT-3": 0.3,
		"PT-4": 0.2,
	})
	service := newRiskService(store, source, &scoreScorer{})

	outcomes := map[string]bool{"PT-1": true, "PT-2": true, "PT-3": false, "PT-4": false}
	for _, pseudoID := range []string{"PT-1", "PT-2", "PT-3", "PT-4"} {
		if _, err := service.Predict(context.Background(), pseudoID, "", nil); err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		if err := service.UpdateOutcome(context.Background(), pseudoID, outcomes[pseudoID], nil); err != nil {
			t.Fatalf("outcome failed: %v", err)
		}
	}

	metrics, err := service.Metrics(context.Background())
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}

	const eps = 1e-9
	if absDiff(metrics.AUCROC, 1.0) > eps {
		t.Errorf("auc = %v, want 1.0", metrics.AUCROC)
	}
	if absDiff(metrics.Precision, 1.0) > eps || absDiff(metrics.Recall, 1.0) > eps || absDiff(metrics.F1Score, 1.0) > eps {
		t.Errorf("precision/recall/f1 = %v/%v/%v, want 1.0", metrics.Precision, metrics.Recall, metrics.F1Score)
	}
	if absDiff(metrics.BrierScore, 0.045) > eps {
		t.Errorf("brier = %v, want 0.045", metrics.BrierScore)
	}
	if metrics.PredictionsWithOutcomes != 4 {
		t.Errorf("with outcomes = %d, want 4", metrics.PredictionsWithOutcomes)
	}
}

func TestHighRiskDefaultsToConfiguredThreshold(t *testing.T) {
	store := &fakePredictionStore{}
	source := scoredPatients(map[string]float64{"PT-1": 0.75, "PT-2": 0.5})
	service := newRiskService(store, source, &scoreScorer{})

	for _, pseudoID := range []string{"PT-1", "PT-2"} {
		if _, err := service.Predict(context.Background(), pseudoID, "", nil); err != nil {
			t.Fatalf("predict failed: %v", err)
		}
	}

	highRisk, err := service.HighRisk(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("high risk failed: %v", err)
	}
	if len(highRisk) != 1 || highRisk[0].PseudoPatientID != "PT-1" {
		t.Errorf("high risk = %+v", highRisk)
	}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
