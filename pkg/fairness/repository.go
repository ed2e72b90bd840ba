package fairness

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"gorm.io/gorm"
)

var (
	ErrSnapshotNotFound = errors.New("fairness snapshot not found")
	ErrAlertNotFound    = errors.New("bias alert not found")
)

// PredictionRow is one prediction joined with the protected attributes of its
// pseudonymous patient.
type PredictionRow struct {
	PseudoPatientID     string     `gorm:"column:pseudo_patient_id"`
	RiskScore           float64    `gorm:"column:risk_score"`
	RiskLevel           string     `gorm:"column:risk_level"`
	ActualReadmission   *bool      `gorm:"column:actual_readmission"`
	PredictionTimestamp time.Time  `gorm:"column:prediction_timestamp"`
	AgeGroup            string     `gorm:"column:age_group"`
	Gender              string     `gorm:"column:gender"`
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&SnapshotModel{}, &AlertModel{})
}

// PredictionRows joins every prediction with its patient's demographics.
func (r *Repository) PredictionRows(ctx context.Context) ([]PredictionRow, error) {
	var rows []PredictionRow
	err := r.db.WithContext(ctx).
		Table("risk_predictions").
		Select("risk_predictions.pseudo_patient_id, risk_predictions.risk_score, risk_predictions.risk_level, " +
			"risk_predictions.actual_readmission, risk_predictions.prediction_timestamp, " +
			"deid_patients.age_group, deid_patients.gender").
		Joins("JOIN deid_patients ON deid_patients.pseudo_id = risk_predictions.pseudo_patient_id").
		Scan(&rows).Error
	return rows, err
}

func (r *Repository) InsertSnapshot(ctx context.Context, snapshot models.FairnessSnapshot) error {
	byAttribute, err := json.Marshal(snapshot.MetricsByAttribute)
	if err != nil {
		return err
	}
	row := SnapshotModel{
		ID:                     snapshot.ID,
		MetricDate:             snapshot.MetricDate,
		TotalPredictions:       snapshot.TotalPredictions,
		OverallAUC:             snapshot.OverallAUC,
		OverallAccuracy:        snapshot.OverallAccuracy,
		OverallPrecision:       snapshot.OverallPrecision,
		OverallRecall:          snapshot.OverallRecall,
		OverallF1:              snapshot.OverallF1,
		BrierScore:             snapshot.BrierScore,
		DemographicParityRatio: snapshot.DemographicParityRatio,
		EqualizedOddsRatio:     snapshot.EqualizedOddsRatio,
		MetricsByAttribute:     byAttribute,
		FeatureDriftScore:      snapshot.FeatureDriftScore,
		PredictionDriftScore:   snapshot.PredictionDriftScore,
		DataQualityScore:       snapshot.DataQualityScore,
		CreatedAt:              snapshot.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) LatestSnapshot(ctx context.Context) (models.FairnessSnapshot, error) {
	var row SnapshotModel
	err := r.db.WithContext(ctx).Order("metric_date DESC, created_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FairnessSnapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return models.FairnessSnapshot{}, err
	}
	return mapSnapshot(row)
}

// SnapshotHistory lists snapshots from the last N days, oldest first.
func (r *Repository) SnapshotHistory(ctx context.Context, days int) ([]models.FairnessSnapshot, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var rows []SnapshotModel
	err := r.db.WithContext(ctx).
		Where("metric_date >= ?", cutoff).
		Order("metric_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	snapshots := make([]models.FairnessSnapshot, 0, len(rows))
	for _, row := range rows {
		snapshot, err := mapSnapshot(row)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (r *Repository) InsertAlert(ctx context.Context, alert models.BiasAlert) error {
	row := AlertModel{
		ID:              alert.ID,
		AlertType:       alert.AlertType,
		Severity:        alert.Severity,
		MetricName:      alert.MetricName,
		MetricValue:     alert.MetricValue,
		ThresholdValue:  alert.ThresholdValue,
		Description:     alert.Description,
		Recommendations: alert.Recommendations,
		IsResolved:      alert.IsResolved,
		CreatedAt:       alert.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) OpenAlerts(ctx context.Context) ([]models.BiasAlert, error) {
	var rows []AlertModel
	err := r.db.WithContext(ctx).
		Where("is_resolved = ?", false).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	alerts := make([]models.BiasAlert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, mapAlert(row))
	}
	return alerts, nil
}

// ResolveAlert marks an alert resolved; resolution is explicit and never
// automatic.
func (r *Repository) ResolveAlert(ctx context.Context, alertID uuid.UUID, resolvedBy string, resolvedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&AlertModel{}).
		Where("id = ?", alertID).
		Updates(map[string]interface{}{
			"is_resolved": true,
			"resolved_at": resolvedAt,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func mapSnapshot(row SnapshotModel) (models.FairnessSnapshot, error) {
	byAttribute := make(map[string]models.AttributeBreakdown)
	if len(row.MetricsByAttribute) > 0 {
		if err := json.Unmarshal(row.MetricsByAttribute, &byAttribute); err != nil {
			return models.FairnessSnapshot{}, err
		}
	}
	return models.FairnessSnapshot{
		ID:                     row.ID,
		MetricDate:             row.MetricDate,
		TotalPredictions:       row.TotalPredictions,
		OverallAUC:             row.OverallAUC,
		OverallAccuracy:        row.OverallAccuracy,
		OverallPrecision:       row.OverallPrecision,
		OverallRecall:          row.OverallRecall,
		OverallF1:              row.OverallF1,
		BrierScore:             row.BrierScore,
		DemographicParityRatio: row.DemographicParityRatio,
		EqualizedOddsRatio:     row.EqualizedOddsRatio,
		MetricsByAttribute:     byAttribute,
		FeatureDriftScore:      row.FeatureDriftScore,
		PredictionDriftScore:   row.PredictionDriftScore,
		DataQualityScore:       row.DataQualityScore,
		CreatedAt:              row.CreatedAt,
	}, nil
}

func mapAlert(row AlertModel) models.BiasAlert {
	return models.BiasAlert{
		ID:              row.ID,
		AlertType:       row.AlertType,
		Severity:        row.Severity,
		MetricName:      row.MetricName,
		MetricValue:     row.MetricValue,
		ThresholdValue:  row.ThresholdValue,
		Description:     row.Description,
		Recommendations: row.Recommendations,
		IsResolved:      row.IsResolved,
		ResolvedAt:      row.ResolvedAt,
		ResolvedBy:      row.ResolvedBy,
		CreatedAt:       row.CreatedAt,
	}
}
