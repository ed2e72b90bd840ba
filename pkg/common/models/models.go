package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // deidentify, featurize, predict, audit
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// De-identification
type PseudonymousPatient struct {
	ID         uuid.UUID              `json:"id"`
	OriginalID string                 `json:"original_id"`
	PseudoID   string                 `json:"pseudo_id"`
	DeidData   map[string]interface{} `json:"deid_data,omitempty"`
	AgeGroup   string                 `json:"age_group"`
	Gender     string                 `json:"gender"`
	DeidAt     time.Time              `json:"deid_timestamp"`
}

type DeidResult struct {
	Patient        PseudonymousPatient `json:"patient"`
	FieldsRemoved  []string            `json:"fields_removed"`
	FieldsModified []string            `json:"fields_modified"`
}

type AuditEntry struct {
	ID          int64                  `json:"id"`
	Operation   string                 `json:"operation"` // deidentify, delete
	EntityType  string                 `json:"entity_type"`
	OriginalID  string                 `json:"original_id"`
	PseudoID    string                 `json:"pseudo_id"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	PerformedAt time.Time              `json:"performed_at"`
}

type DeidStats struct {
	TotalPatients   int64      `json:"total_patients_deid"`
	TotalOperations int64      `json:"total_operations"`
	OperationsToday int64      `json:"operations_today"`
	LastOperationAt *time.Time `json:"last_operation_at,omitempty"`
}

// Batch operation contract shared by the deid, featurizer and risk services:
// per-item failures are isolated and reported, the batch never aborts.
type BatchError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BatchResult struct {
	TotalProcessed int          `json:"total_processed"`
	Successful     int          `json:"successful"`
	Failed         int          `json:"failed"`
	Errors         []BatchError `json:"errors"`
}

// Clinical Text Analysis
type Entity struct {
	Type       string  `json:"entity_type"`
	Text       string  `json:"entity_text"`
	Start      int     `json:"start_position"`
	End        int     `json:"end_position"`
	Confidence float64 `json:"confidence"`
	Negated    bool    `json:"negated"`
	Source     string  `json:"source"` // ner, pattern
}

type TextAnalysis struct {
	Entities           []Entity `json:"entities"`
	SentimentScore     float64  `json:"sentiment_score"`
	UrgencyScore       float64  `json:"urgency_score"`
	ComplexityScore    float64  `json:"complexity_score"`
	MedicationMentions int      `json:"medication_mentions"`
	SymptomMentions    int      `json:"symptom_mentions"`
}

// Feature Vector
//
// Pointer fields mean "not observed": a missing vital or lab stays nil in
// storage and only becomes a neutral default at the model-input projection.
type FeatureVector struct {
	ID              uuid.UUID `json:"id"`
	PseudoPatientID string    `json:"pseudo_patient_id"`
	EncounterID     string    `json:"encounter_id,omitempty"`
	FeatureVersion  string    `json:"feature_version"`

	// Demographics
	AgeAtAdmission *int `json:"age_at_admission,omitempty"`
	GenderEncoded  *int `json:"gender_encoded,omitempty"`

	// Utilization
	LengthOfStay            *int     `json:"length_of_stay,omitempty"`
	PreviousAdmissions30d   *int     `json:"previous_admissions_30d,omitempty"`
	PreviousAdmissions90d   *int     `json:"previous_admissions_90d,omitempty"`
	PreviousAdmissions365d  *int     `json:"previous_admissions_365d,omitempty"`
	CharlsonComorbidityIdx  *float64 `json:"charlson_comorbidity_index,omitempty"`
	ConditionBurdenScore    *float64 `json:"condition_burden_score,omitempty"`

	// Vital signs (latest observation per configured code)
	HeartRateLast              *float64 `json:"heart_rate_last,omitempty"`
	BloodPressureSystolicLast  *float64 `json:"blood_pressure_systolic_last,omitempty"`
	BloodPressureDiastolicLast *float64 `json:"blood_pressure_diastolic_last,omitempty"`
	RespiratoryRateLast        *float64 `json:"respiratory_rate_last,omitempty"`
	TemperatureLast            *float64 `json:"temperature_last,omitempty"`
	OxygenSaturationLast       *float64 `json:"oxygen_saturation_last,omitempty"`

	// Lab values
	HemoglobinLast *float64 `json:"hemoglobin_last,omitempty"`
	CreatinineLast *float64 `json:"creatinine_last,omitempty"`
	SodiumLast     *float64 `json:"sodium_last,omitempty"`
	PotassiumLast  *float64 `json:"potassium_last,omitempty"`
	GlucoseLast    *float64 `json:"glucose_last,omitempty"`
	WBCCountLast   *float64 `json:"wbc_count_last,omitempty"`

	// NLP aggregates
	NLPSentimentScore     *float64 `json:"nlp_sentiment_score,omitempty"`
	NLPUrgencyScore       *float64 `json:"nlp_urgency_score,omitempty"`
	NLPComplexityScore    *float64 `json:"nlp_complexity_score,omitempty"`
	NLPEntitiesCount      *int     `json:"nlp_entities_count,omitempty"`
	NLPMedicationMentions *int     `json:"nlp_medication_mentions,omitempty"`
	NLPSymptomMentions    *int     `json:"nlp_symptom_mentions,omitempty"`

	// Diagnoses
	PrimaryDiagnosisCode string `json:"primary_diagnosis_code,omitempty"`
	DiagnosisCount       *int   `json:"diagnosis_count,omitempty"`
	HasDiabetes          bool   `json:"has_diabetes"`
	HasHypertension      bool   `json:"has_hypertension"`
	HasHeartFailure      bool   `json:"has_heart_failure"`
	HasCOPD              bool   `json:"has_copd"`
	HasCKD               bool   `json:"has_ckd"`
	HasCancer            bool   `json:"has_cancer"`

	// Medications & procedures
	MedicationCount *int `json:"medication_count,omitempty"`
	ProcedureCount  *int `json:"procedure_count,omitempty"`

	// Discharge
	DischargeDisposition string `json:"discharge_disposition,omitempty"`
	DischargeToHome      *bool  `json:"discharge_to_home,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

type FeatureStats struct {
	TotalPatients  int64      `json:"total_patients_processed"`
	TotalVectors   int64      `json:"total_features_computed"`
	FeatureVersion string     `json:"feature_version"`
	LastComputedAt *time.Time `json:"last_computed_at,omitempty"`
}

// Risk Prediction
type RiskFactor struct {
	Feature   string  `json:"feature"`
	Impact    float64 `json:"impact"`
	Value     float64 `json:"value"`
	Direction string  `json:"direction"` // increases, decreases
}

type RiskPrediction struct {
	ID                  uuid.UUID    `json:"id"`
	PseudoPatientID     string       `json:"pseudo_patient_id"`
	EncounterID         string       `json:"encounter_id,omitempty"`
	RiskScore           float64      `json:"risk_score"`
	RiskLevel           string       `json:"risk_level"` // HIGH, MEDIUM, LOW
	ConfidenceLower     float64      `json:"confidence_lower"`
	ConfidenceUpper     float64      `json:"confidence_upper"`
	TopRiskFactors      []RiskFactor `json:"top_risk_factors"`
	PredictionTimestamp time.Time    `json:"prediction_timestamp"`
	DischargeDate       *time.Time   `json:"discharge_date,omitempty"`
	HorizonDays         int          `json:"prediction_horizon_days"`
	ActualReadmission   *bool        `json:"actual_readmission,omitempty"`
	ReadmissionDate     *time.Time   `json:"actual_readmission_date,omitempty"`
	OutcomeRecordedAt   *time.Time   `json:"outcome_recorded_at,omitempty"`
}

type ModelMetrics struct {
	AUCROC                  float64 `json:"auc_roc"`
	Precision               float64 `json:"precision"`
	Recall                  float64 `json:"recall"`
	F1Score                 float64 `json:"f1_score"`
	BrierScore              float64 `json:"brier_score"`
	TotalPredictions        int64   `json:"total_predictions"`
	PredictionsWithOutcomes int     `json:"predictions_with_outcomes"`
}

type PredictionStats struct {
	TotalPredictions int64   `json:"total_predictions"`
	HighRiskCount    int64   `json:"high_risk_count"`
	MediumRiskCount  int64   `json:"medium_risk_count"`
	LowRiskCount     int64   `json:"low_risk_count"`
	AverageRiskScore float64 `json:"average_risk_score"`
	PredictionsToday int64   `json:"predictions_today"`
}

// Fairness & Drift
type GroupMetrics struct {
	TotalPredictions int     `json:"total_predictions"`
	HighRiskRate     float64 `json:"high_risk_rate"`
	AverageRiskScore float64 `json:"average_risk_score"`
	Precision        float64 `json:"precision"`
	Recall           float64 `json:"recall"`
}

type AttributeBreakdown struct {
	Groups                 map[string]GroupMetrics `json:"groups"`
	DemographicParityRatio float64                 `json:"demographic_parity_ratio"`
	EqualizedOddsRatio     float64                 `json:"equalized_odds_ratio"`
}

type FairnessSnapshot struct {
	ID         uuid.UUID `json:"id"`
	MetricDate time.Time `json:"metric_date"`

	TotalPredictions int     `json:"total_predictions"`
	OverallAUC       float64 `json:"overall_auc"`
	OverallAccuracy  float64 `json:"overall_accuracy"`
	OverallPrecision float64 `json:"overall_precision"`
	OverallRecall    float64 `json:"overall_recall"`
	OverallF1        float64 `json:"overall_f1"`
	BrierScore       float64 `json:"brier_score"`

	DemographicParityRatio float64 `json:"demographic_parity_ratio"`
	EqualizedOddsRatio     float64 `json:"equalized_odds_ratio"`

	MetricsByAttribute map[string]AttributeBreakdown `json:"metrics_by_attribute"`

	FeatureDriftScore    float64 `json:"feature_drift_score"`
	PredictionDriftScore float64 `json:"prediction_drift_score"`
	DataQualityScore     float64 `json:"data_quality_score"`

	CreatedAt time.Time `json:"created_at"`
}

type BiasAlert struct {
	ID              uuid.UUID  `json:"id"`
	AlertType       string     `json:"alert_type"` // demographic_parity, equalized_odds, prediction_drift
	Severity        string     `json:"severity"`   // high, medium
	MetricName      string     `json:"metric_name"`
	MetricValue     float64    `json:"metric_value"`
	ThresholdValue  float64    `json:"threshold_value"`
	Description     string     `json:"description"`
	Recommendations string     `json:"recommendations"`
	IsResolved      bool       `json:"is_resolved"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Upstream clinical-record source (read-only)
type SourcePatient struct {
	OriginalID   string                 `json:"original_id"`
	ResourceData map[string]interface{} `json:"resource_data"`
	BirthDate    *time.Time             `json:"birth_date,omitempty"`
	Gender       string                 `json:"gender"`
}

type Encounter struct {
	EncounterID          string     `json:"encounter_id"`
	PatientID            string     `json:"patient_id"`
	Class                string     `json:"class"`
	Status               string     `json:"status"`
	PeriodStart          *time.Time `json:"period_start,omitempty"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
	DischargeDisposition string     `json:"discharge_disposition,omitempty"`
}

type Observation struct {
	ObservationID string     `json:"observation_id"`
	PatientID     string     `json:"patient_id"`
	Code          string     `json:"code"`
	ValueQuantity *float64   `json:"value_quantity,omitempty"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
}

type Condition struct {
	ConditionID string `json:"condition_id"`
	PatientID   string `json:"patient_id"`
	Code        string `json:"code"`
	DisplayName string `json:"display_name,omitempty"`
}

type ClinicalNote struct {
	NoteID     string     `json:"note_id"`
	PatientID  string     `json:"patient_id"`
	NoteType   string     `json:"note_type,omitempty"`
	NoteText   string     `json:"note_text"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}
