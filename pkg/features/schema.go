package features

import "github.com/healthflow-ai/platform/pkg/common/models"

// ModelColumns is the ordered input schema the risk model was trained
// against. Order matters: the projection and the model artifact's weight
// vector are aligned by position.
var ModelColumns = []string{
	"age_at_admission",
	"gender_encoded",
	"length_of_stay",
	"previous_admissions_30d",
	"previous_admissions_90d",
	"previous_admissions_365d",
	"charlson_comorbidity_index",
	"heart_rate_last",
	"blood_pressure_systolic_last",
	"blood_pressure_diastolic_last",
	"respiratory_rate_last",
	"temperature_last",
	"oxygen_saturation_last",
	"hemoglobin_last",
	"creatinine_last",
	"sodium_last",
	"potassium_last",
	"glucose_last",
	"wbc_count_last",
	"nlp_sentiment_score",
	"nlp_urgency_score",
	"nlp_complexity_score",
	"diagnosis_count",
	"has_diabetes",
	"has_hypertension",
	"has_heart_failure",
	"has_copd",
	"has_ckd",
	"has_cancer",
	"medication_count",
	"procedure_count",
	"discharge_to_home",
}

// Neutral defaults substituted at the projection boundary for fields the
// extractor left unobserved. Scores default to their no-signal values, every
// other feature to zero.
const (
	defaultSentiment  = 0.5
	defaultUrgency    = 0.3
	defaultComplexity = 0.5
)

// ModelInput projects a stored feature vector onto the model schema. The
// mapping is deliberately explicit per column; adding a model feature means
// adding it here and to ModelColumns in the same position.
func ModelInput(v models.FeatureVector) map[string]float64 {
	input := map[string]float64{
		"age_at_admission":             floatOrZeroInt(v.AgeAtAdmission),
		"gender_encoded":               floatOrZeroInt(v.GenderEncoded),
		"length_of_stay":               floatOrZeroInt(v.LengthOfStay),
		"previous_admissions_30d":      floatOrZeroInt(v.PreviousAdmissions30d),
		"previous_admissions_90d":      floatOrZeroInt(v.PreviousAdmissions90d),
		"previous_admissions_365d":     floatOrZeroInt(v.PreviousAdmissions365d),
		"charlson_comorbidity_index":   floatOrZero(v.CharlsonComorbidityIdx),
		"heart_rate_last":              floatOrZero(v.HeartRateLast),
		"blood_pressure_systolic_last": floatOrZero(v.BloodPressureSystolicLast),
		"blood_pressure_diastolic_last": floatOrZero(v.BloodPressureDiastolicLast),
		"respiratory_rate_last":        floatOrZero(v.RespiratoryRateLast),
		"temperature_last":             floatOrZero(v.TemperatureLast),
		"oxygen_saturation_last":       floatOrZero(v.OxygenSaturationLast),
		"hemoglobin_last":              floatOrZero(v.HemoglobinLast),
		"creatinine_last":              floatOrZero(v.CreatinineLast),
		"sodium_last":                  floatOrZero(v.SodiumLast),
		"potassium_last":               floatOrZero(v.PotassiumLast),
		"glucose_last":                 floatOrZero(v.GlucoseLast),
		"wbc_count_last":               floatOrZero(v.WBCCountLast),
		"nlp_sentiment_score":          floatOrDefault(v.NLPSentimentScore, defaultSentiment),
		"nlp_urgency_score":            floatOrDefault(v.NLPUrgencyScore, defaultUrgency),
		"nlp_complexity_score":         floatOrDefault(v.NLPComplexityScore, defaultComplexity),
		"diagnosis_count":              floatOrZeroInt(v.DiagnosisCount),
		"has_diabetes":                 boolToFloat(v.HasDiabetes),
		"has_hypertension":             boolToFloat(v.HasHypertension),
		"has_heart_failure":            boolToFloat(v.HasHeartFailure),
		"has_copd":                     boolToFloat(v.HasCOPD),
		"has_ckd":                      boolToFloat(v.HasCKD),
		"has_cancer":                   boolToFloat(v.HasCancer),
		"medication_count":             floatOrZeroInt(v.MedicationCount),
		"procedure_count":              floatOrZeroInt(v.ProcedureCount),
		"discharge_to_home":            boolPtrToFloat(v.DischargeToHome),
	}
	return input
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func floatOrDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func floatOrZeroInt(p *int) float64 {
	if p == nil {
		return 0
	}
	return float64(*p)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func boolPtrToFloat(p *bool) float64 {
	if p == nil || !*p {
		return 0
	}
	return 1
}
