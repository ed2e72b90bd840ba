package risk

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/healthflow-ai/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrPredictionNotFound = errors.New("risk prediction not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PredictionModel{})
}

func (r *Repository) Insert(ctx context.Context, p models.RiskPrediction) error {
	row, err := modelFromPrediction(p)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// Latest returns a patient's most recent prediction.
func (r *Repository) Latest(ctx context.Context, pseudoID string) (models.RiskPrediction, error) {
	var row PredictionModel
	err := r.db.WithContext(ctx).
		Where("pseudo_patient_id = ?", pseudoID).
		Order("prediction_timestamp DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RiskPrediction{}, ErrPredictionNotFound
	}
	if err != nil {
		return models.RiskPrediction{}, err
	}
	return mapPrediction(row)
}

// HighRisk lists predictions at or above the threshold, highest score first.
func (r *Repository) HighRisk(ctx context.Context, threshold float64, limit int) ([]models.RiskPrediction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []PredictionModel
	err := r.db.WithContext(ctx).
		Where("risk_score >= ?", threshold).
		Order("risk_score DESC, prediction_timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mapPredictions(rows)
}

// RecordOutcome attaches the actual outcome to a patient's latest prediction.
func (r *Repository) RecordOutcome(ctx context.Context, pseudoID string, readmitted bool, readmissionDate *time.Time, recordedAt time.Time) error {
	var row PredictionModel
	err := r.db.WithContext(ctx).
		Where("pseudo_patient_id = ?", pseudoID).
		Order("prediction_timestamp DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPredictionNotFound
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&PredictionModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"actual_readmission":      readmitted,
			"actual_readmission_date": readmissionDate,
			"outcome_recorded_at":     recordedAt,
		}).Error
}

// WithOutcomes returns every prediction that has a recorded outcome.
func (r *Repository) WithOutcomes(ctx context.Context) ([]models.RiskPrediction, error) {
	var rows []PredictionModel
	err := r.db.WithContext(ctx).
		Where("actual_readmission IS NOT NULL").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return mapPredictions(rows)
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&PredictionModel{}).Count(&count).Error
	return count, err
}

func (r *Repository) Stats(ctx context.Context) (models.PredictionStats, error) {
	var stats models.PredictionStats
	if err := r.db.WithContext(ctx).Model(&PredictionModel{}).Count(&stats.TotalPredictions).Error; err != nil {
		return models.PredictionStats{}, err
	}
	counts := map[string]*int64{
		"HIGH":   &stats.HighRiskCount,
		"MEDIUM": &stats.MediumRiskCount,
		"LOW":    &stats.LowRiskCount,
	}
	for level, target := range counts {
		if err := r.db.WithContext(ctx).Model(&PredictionModel{}).
			Where("risk_level = ?", level).
			Count(target).Error; err != nil {
			return models.PredictionStats{}, err
		}
	}
	var avg *float64
	if err := r.db.WithContext(ctx).Model(&PredictionModel{}).
		Select("AVG(risk_score)").
		Scan(&avg).Error; err != nil {
		return models.PredictionStats{}, err
	}
	if avg != nil {
		stats.AverageRiskScore = *avg
	}
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	if err := r.db.WithContext(ctx).Model(&PredictionModel{}).
		Where("prediction_timestamp >= ?", startOfDay).
		Count(&stats.PredictionsToday).Error; err != nil {
		return models.PredictionStats{}, err
	}
	return stats, nil
}

func modelFromPrediction(p models.RiskPrediction) (PredictionModel, error) {
	factors, err := json.Marshal(p.TopRiskFactors)
	if err != nil {
		return PredictionModel{}, err
	}
	return PredictionModel{
		ID:                  p.ID,
		PseudoPatientID:     p.PseudoPatientID,
		EncounterID:         p.EncounterID,
		RiskScore:           p.RiskScore,
		RiskLevel:           p.RiskLevel,
		ConfidenceLower:     p.ConfidenceLower,
		ConfidenceUpper:     p.ConfidenceUpper,
		TopRiskFactors:      factors,
		PredictionTimestamp: p.PredictionTimestamp,
		DischargeDate:       p.DischargeDate,
		HorizonDays:         p.HorizonDays,
		ActualReadmission:   p.ActualReadmission,
		ReadmissionDate:     p.ReadmissionDate,
		OutcomeRecordedAt:   p.OutcomeRecordedAt,
	}, nil
}

func mapPrediction(row PredictionModel) (models.RiskPrediction, error) {
	var factors []models.RiskFactor
	if len(row.TopRiskFactors) > 0 {
		if err := json.Unmarshal(row.TopRiskFactors, &factors); err != nil {
			return models.RiskPrediction{}, err
		}
	}
	return models.RiskPrediction{
		ID:                  row.ID,
		PseudoPatientID:     row.PseudoPatientID,
		EncounterID:         row.EncounterID,
		RiskScore:           row.RiskScore,
		RiskLevel:           row.RiskLevel,
		ConfidenceLower:     row.ConfidenceLower,
		ConfidenceUpper:     row.ConfidenceUpper,
		TopRiskFactors:      factors,
		PredictionTimestamp: row.PredictionTimestamp,
		DischargeDate:       row.DischargeDate,
		HorizonDays:         row.HorizonDays,
		ActualReadmission:   row.ActualReadmission,
		ReadmissionDate:     row.ReadmissionDate,
		OutcomeRecordedAt:   row.OutcomeRecordedAt,
	}, nil
}

func mapPredictions(rows []PredictionModel) ([]models.RiskPrediction, error) {
	predictions := make([]models.RiskPrediction, 0, len(rows))
	for _, row := range rows {
		p, err := mapPrediction(row)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, nil
}
