package risk

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PredictionModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	PseudoPatientID string    `gorm:"column:pseudo_patient_id;index"`
	EncounterID     string    `gorm:"column:encounter_id"`

	RiskScore       float64        `gorm:"column:risk_score;index"`
	RiskLevel       string         `gorm:"column:risk_level;index"`
	ConfidenceLower float64        `gorm:"column:confidence_lower"`
	ConfidenceUpper float64        `gorm:"column:confidence_upper"`
	TopRiskFactors  datatypes.JSON `gorm:"column:top_risk_factors;type:jsonb"`

	PredictionTimestamp time.Time  `gorm:"column:prediction_timestamp;index"`
	DischargeDate       *time.Time `gorm:"column:discharge_date"`
	HorizonDays         int        `gorm:"column:prediction_horizon_days"`

	ActualReadmission *bool      `gorm:"column:actual_readmission"`
	ReadmissionDate   *time.Time `gorm:"column:actual_readmission_date"`
	OutcomeRecordedAt *time.Time `gorm:"column:outcome_recorded_at"`
}

func (PredictionModel) TableName() string {
	return "risk_predictions"
}
