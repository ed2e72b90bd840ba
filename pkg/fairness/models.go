package fairness

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SnapshotModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	MetricDate time.Time `gorm:"column:metric_date;index"`

	TotalPredictions int     `gorm:"column:total_predictions"`
	OverallAUC       float64 `gorm:"column:overall_auc"`
	OverallAccuracy  float64 `gorm:"column:overall_accuracy"`
	OverallPrecision float64 `gorm:"column:overall_precision"`
	OverallRecall    float64 `gorm:"column:overall_recall"`
	OverallF1        float64 `gorm:"column:overall_f1"`
	BrierScore       float64 `gorm:"column:brier_score"`

	DemographicParityRatio float64 `gorm:"column:demographic_parity_ratio"`
	EqualizedOddsRatio     float64 `gorm:"column:equalized_odds_ratio"`

	MetricsByAttribute datatypes.JSON `gorm:"column:metrics_by_attribute;type:jsonb"`

	FeatureDriftScore    float64 `gorm:"column:feature_drift_score"`
	PredictionDriftScore float64 `gorm:"column:prediction_drift_score"`
	DataQualityScore     float64 `gorm:"column:data_quality_score"`

	CreatedAt time.Time `gorm:"column:created_at"`
}

func (SnapshotModel) TableName() string {
	return "fairness_metrics"
}

type AlertModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AlertType       string     `gorm:"column:alert_type;index"`
	Severity        string     `gorm:"column:severity"`
	MetricName      string     `gorm:"column:metric_name"`
	MetricValue     float64    `gorm:"column:metric_value"`
	ThresholdValue  float64    `gorm:"column:threshold_value"`
	Description     string     `gorm:"column:description"`
	Recommendations string     `gorm:"column:recommendations"`
	IsResolved      bool       `gorm:"column:is_resolved;index"`
	ResolvedAt      *time.Time `gorm:"column:resolved_at"`
	ResolvedBy      string     `gorm:"column:resolved_by"`
	CreatedAt       time.Time  `gorm:"column:created_at;index"`
}

func (AlertModel) TableName() string {
	return "bias_alerts"
}
