package risk

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/features"
	"github.com/healthflow-ai/platform/pkg/ml/stats"
)

const topFactorCount = 10

// Store is the persistence contract for predictions.
type Store interface {
	Insert(ctx context.Context, p models.RiskPrediction) error
	Latest(ctx context.Context, pseudoID string) (models.RiskPrediction, error)
	HighRisk(ctx context.Context, threshold float64, limit int) ([]models.RiskPrediction, error)
	RecordOutcome(ctx context.Context, pseudoID string, readmitted bool, readmissionDate *time.Time, recordedAt time.Time) error
	WithOutcomes(ctx context.Context) ([]models.RiskPrediction, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (models.PredictionStats, error)
}

// FeatureSource supplies the model-input projection for a patient.
type FeatureSource interface {
	ModelInputFor(ctx context.Context, pseudoID string) (map[string]float64, error)
}

// Scorer maps a feature projection to a probability and its attribution.
type Scorer interface {
	Score(name string, input map[string]float64) (float64, error)
	Attribute(name string, input map[string]float64, topN int) ([]models.RiskFactor, error)
}

var ErrFeaturesNotFound = errors.New("feature vector not found for patient")

// Placeholder metrics reported while no prediction has a recorded outcome,
// carried over from the offline training evaluation.
var placeholderMetrics = models.ModelMetrics{
	AUCROC:     0.82,
	Precision:  0.78,
	Recall:     0.74,
	F1Score:    0.76,
	BrierScore: 0.15,
}

type Options struct {
	ModelName       string
	ThresholdHigh   float64
	ThresholdMedium float64
	BaseMargin      float64
	HorizonDays     int
	Now             func() time.Time
}

type Service struct {
	store    Store
	features FeatureSource
	scorer   Scorer
	opts     Options
}

func NewService(store Store, featureSource FeatureSource, scorer Scorer, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ThresholdHigh <= 0 {
		opts.ThresholdHigh = 0.7
	}
	if opts.ThresholdMedium <= 0 {
		opts.ThresholdMedium = 0.4
	}
	if opts.BaseMargin <= 0 {
		opts.BaseMargin = 0.1
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 30
	}
	if opts.ModelName == "" {
		opts.ModelName = "readmission"
	}
	return &Service{store: store, features: featureSource, scorer: scorer, opts: opts}
}

// Predict scores a patient's latest feature projection and persists the
// prediction with its explanation.
func (s *Service) Predict(ctx context.Context, pseudoID, encounterID string, dischargeDate *time.Time) (models.RiskPrediction, error) {
	input, err := s.features.ModelInputFor(ctx, pseudoID)
	if err != nil {
		if errors.Is(err, features.ErrVectorNotFound) {
			return models.RiskPrediction{}, ErrFeaturesNotFound
		}
		return models.RiskPrediction{}, err
	}

	score, err := s.scorer.Score(s.opts.ModelName, input)
	if err != nil {
		return models.RiskPrediction{}, err
	}
	factors, err := s.scorer.Attribute(s.opts.ModelName, input, topFactorCount)
	if err != nil {
		// The score stands on its own; a failed explanation degrades to
		// empty factors rather than dropping the prediction.
		logger.Log.WithError(err).WithField("pseudo_id", pseudoID).Warn("explanation computation failed")
		factors = nil
	}

	lower, upper := s.confidenceInterval(score)
	prediction := models.RiskPrediction{
		ID:                  uuid.New(),
		PseudoPatientID:     pseudoID,
		EncounterID:         encounterID,
		RiskScore:           score,
		RiskLevel:           s.Level(score),
		ConfidenceLower:     lower,
		ConfidenceUpper:     upper,
		TopRiskFactors:      factors,
		PredictionTimestamp: s.opts.Now().UTC(),
		DischargeDate:       dischargeDate,
		HorizonDays:         s.opts.HorizonDays,
	}

	if err := s.store.Insert(ctx, prediction); err != nil {
		return models.RiskPrediction{}, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"pseudo_id":  pseudoID,
		"risk_score": score,
		"risk_level": prediction.RiskLevel,
	}).Info("risk prediction created")

	return prediction, nil
}

// BatchPredict scores patients sequentially with per-item failure isolation.
func (s *Service) BatchPredict(ctx context.Context, pseudoIDs []string) ([]models.RiskPrediction, models.BatchResult) {
	predictions := make([]models.RiskPrediction, 0, len(pseudoIDs))
	batch := models.BatchResult{TotalProcessed: len(pseudoIDs), Errors: []models.BatchError{}}

	for _, pseudoID := range pseudoIDs {
		prediction, err := s.Predict(ctx, pseudoID, "", nil)
		if err != nil {
			logger.Log.WithError(err).WithField("pseudo_id", pseudoID).Error("batch prediction item failed")
			batch.Failed++
			batch.Errors = append(batch.Errors, models.BatchError{ID: pseudoID, Error: err.Error()})
			continue
		}
		batch.Successful++
		predictions = append(predictions, prediction)
	}

	return predictions, batch
}

// Level maps a score to its risk tier.
func (s *Service) Level(score float64) string {
	switch {
	case score >= s.opts.ThresholdHigh:
		return "HIGH"
	case score >= s.opts.ThresholdMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// confidenceInterval narrows as the score approaches either extreme and is
// widest at 0.5, clamped to [0,1].
func (s *Service) confidenceInterval(score float64) (float64, float64) {
	margin := s.opts.BaseMargin * (1 - 2*math.Abs(score-0.5))
	lower := math.Max(0, score-margin)
	upper := math.Min(1, score+margin)
	return lower, upper
}

// UpdateOutcome attaches the observed readmission outcome to a patient's
// latest prediction; it fails when the patient has no prediction.
func (s *Service) UpdateOutcome(ctx context.Context, pseudoID string, readmitted bool, readmissionDate *time.Time) error {
	err := s.store.RecordOutcome(ctx, pseudoID, readmitted, readmissionDate, s.opts.Now().UTC())
	if err != nil {
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"pseudo_id":  pseudoID,
		"readmitted": readmitted,
	}).Info("prediction outcome recorded")
	return nil
}

func (s *Service) Latest(ctx context.Context, pseudoID string) (models.RiskPrediction, error) {
	return s.store.Latest(ctx, pseudoID)
}

// HighRisk returns patients at or above the threshold; zero means the
// configured high threshold.
func (s *Service) HighRisk(ctx context.Context, threshold float64, limit int) ([]models.RiskPrediction, error) {
	if threshold <= 0 {
		threshold = s.opts.ThresholdHigh
	}
	return s.store.HighRisk(ctx, threshold, limit)
}

// Metrics evaluates the model over predictions with recorded outcomes. With
// no outcomes yet it reports the training placeholders instead of NaN.
func (s *Service) Metrics(ctx context.Context) (models.ModelMetrics, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return models.ModelMetrics{}, err
	}

	withOutcomes, err := s.store.WithOutcomes(ctx)
	if err != nil {
		return models.ModelMetrics{}, err
	}
	if len(withOutcomes) == 0 {
		metrics := placeholderMetrics
		metrics.TotalPredictions = total
		return metrics, nil
	}

	scores := make([]float64, len(withOutcomes))
	labels := make([]float64, len(withOutcomes))
	for i, p := range withOutcomes {
		scores[i] = p.RiskScore
		if p.ActualReadmission != nil && *p.ActualReadmission {
			labels[i] = 1
		}
	}

	classified := stats.Classify(scores, labels, s.opts.ThresholdHigh)
	return models.ModelMetrics{
		AUCROC:                  stats.AUC(scores, labels),
		Precision:               classified.Precision,
		Recall:                  classified.Recall,
		F1Score:                 classified.F1,
		BrierScore:              stats.Brier(scores, labels),
		TotalPredictions:        total,
		PredictionsWithOutcomes: len(withOutcomes),
	}, nil
}

func (s *Service) Stats(ctx context.Context) (models.PredictionStats, error) {
	return s.store.Stats(ctx)
}
