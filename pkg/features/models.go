package features

import (
	"time"

	"github.com/google/uuid"
)

type FeatureModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	PseudoPatientID string    `gorm:"column:pseudo_patient_id;index:idx_features_key,unique"`
	EncounterID     string    `gorm:"column:encounter_id;index:idx_features_key,unique"`
	FeatureVersion  string    `gorm:"column:feature_version;index:idx_features_key,unique"`

	AgeAtAdmission *int `gorm:"column:age_at_admission"`
	GenderEncoded  *int `gorm:"column:gender_encoded"`

	LengthOfStay           *int     `gorm:"column:length_of_stay"`
	PreviousAdmissions30d  *int     `gorm:"column:previous_admissions_30d"`
	PreviousAdmissions90d  *int     `gorm:"column:previous_admissions_90d"`
	PreviousAdmissions365d *int     `gorm:"column:previous_admissions_365d"`
	CharlsonComorbidityIdx *float64 `gorm:"column:charlson_comorbidity_index"`
	ConditionBurdenScore   *float64 `gorm:"column:condition_burden_score"`

	HeartRateLast              *float64 `gorm:"column:heart_rate_last"`
	BloodPressureSystolicLast  *float64 `gorm:"column:blood_pressure_systolic_last"`
	BloodPressureDiastolicLast *float64 `gorm:"column:blood_pressure_diastolic_last"`
	RespiratoryRateLast        *float64 `gorm:"column:respiratory_rate_last"`
	TemperatureLast            *float64 `gorm:"column:temperature_last"`
	OxygenSaturationLast       *float64 `gorm:"column:oxygen_saturation_last"`

	HemoglobinLast *float64 `gorm:"column:hemoglobin_last"`
	CreatinineLast *float64 `gorm:"column:creatinine_last"`
	SodiumLast     *float64 `gorm:"column:sodium_last"`
	PotassiumLast  *float64 `gorm:"column:potassium_last"`
	GlucoseLast    *float64 `gorm:"column:glucose_last"`
	WBCCountLast   *float64 `gorm:"column:wbc_count_last"`

	NLPSentimentScore     *float64 `gorm:"column:nlp_sentiment_score"`
	NLPUrgencyScore       *float64 `gorm:"column:nlp_urgency_score"`
	NLPComplexityScore    *float64 `gorm:"column:nlp_complexity_score"`
	NLPEntitiesCount      *int     `gorm:"column:nlp_entities_count"`
	NLPMedicationMentions *int     `gorm:"column:nlp_medication_mentions"`
	NLPSymptomMentions    *int     `gorm:"column:nlp_symptom_mentions"`

	PrimaryDiagnosisCode string `gorm:"column:primary_diagnosis_code"`
	DiagnosisCount       *int   `gorm:"column:diagnosis_count"`
	HasDiabetes          bool   `gorm:"column:has_diabetes"`
	HasHypertension      bool   `gorm:"column:has_hypertension"`
	HasHeartFailure      bool   `gorm:"column:has_heart_failure"`
	HasCOPD              bool   `gorm:"column:has_copd"`
	HasCKD               bool   `gorm:"column:has_ckd"`
	HasCancer            bool   `gorm:"column:has_cancer"`

	MedicationCount *int `gorm:"column:medication_count"`
	ProcedureCount  *int `gorm:"column:procedure_count"`

	DischargeDisposition string `gorm:"column:discharge_disposition"`
	DischargeToHome      *bool  `gorm:"column:discharge_to_home"`

	ComputedAt time.Time `gorm:"column:computed_at;index"`
}

func (FeatureModel) TableName() string {
	return "patient_features"
}

// EntityModel persists the entities the text analyzer found in a patient's
// notes, keyed by the pseudonymous id only.
type EntityModel struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	PseudoPatientID string    `gorm:"column:pseudo_patient_id;index"`
	EncounterID     string    `gorm:"column:encounter_id"`
	EntityType      string    `gorm:"column:entity_type"`
	EntityText      string    `gorm:"column:entity_text"`
	StartPosition   int       `gorm:"column:start_position"`
	EndPosition     int       `gorm:"column:end_position"`
	Confidence      float64   `gorm:"column:confidence"`
	Negated         bool      `gorm:"column:negated"`
	Source          string    `gorm:"column:source"`
	ExtractedAt     time.Time `gorm:"column:extracted_at"`
}

func (EntityModel) TableName() string {
	return "nlp_entities"
}
