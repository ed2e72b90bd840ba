package features

import (
	"context"
	"errors"
	"time"

	"github.com/healthflow-ai/platform/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrVectorNotFound = errors.New("feature vector not found")
	ErrAlreadyExists  = errors.New("feature vector already exists")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&FeatureModel{}, &EntityModel{})
}

// Get looks up the vector for one (patient, encounter, schema version) key.
func (r *Repository) Get(ctx context.Context, pseudoID, encounterID, version string) (models.FeatureVector, error) {
	var row FeatureModel
	err := r.db.WithContext(ctx).
		Where("pseudo_patient_id = ? AND encounter_id = ? AND feature_version = ?", pseudoID, encounterID, version).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FeatureVector{}, ErrVectorNotFound
	}
	if err != nil {
		return models.FeatureVector{}, err
	}
	return mapVector(row), nil
}

// Insert writes a vector unless one already exists for its natural key.
// Concurrent extractions race on the unique index; the loser gets
// ErrAlreadyExists and re-reads.
func (r *Repository) Insert(ctx context.Context, v models.FeatureVector) error {
	row := modelFromVector(v)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "pseudo_patient_id"}, {Name: "encounter_id"}, {Name: "feature_version"},
			},
			DoNothing: true,
		}).
		Create(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// LatestByPatient returns the most recently computed vector for a patient at
// the given schema version.
func (r *Repository) LatestByPatient(ctx context.Context, pseudoID, version string) (models.FeatureVector, error) {
	var row FeatureModel
	err := r.db.WithContext(ctx).
		Where("pseudo_patient_id = ? AND feature_version = ?", pseudoID, version).
		Order("computed_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FeatureVector{}, ErrVectorNotFound
	}
	if err != nil {
		return models.FeatureVector{}, err
	}
	return mapVector(row), nil
}

func (r *Repository) SaveEntities(ctx context.Context, pseudoID, encounterID string, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]EntityModel, 0, len(entities))
	for _, ent := range entities {
		rows = append(rows, EntityModel{
			PseudoPatientID: pseudoID,
			EncounterID:     encounterID,
			EntityType:      ent.Type,
			EntityText:      ent.Text,
			StartPosition:   ent.Start,
			EndPosition:     ent.End,
			Confidence:      ent.Confidence,
			Negated:         ent.Negated,
			Source:          ent.Source,
			ExtractedAt:     now,
		})
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *Repository) EntitiesByPatient(ctx context.Context, pseudoID string) ([]models.Entity, error) {
	var rows []EntityModel
	err := r.db.WithContext(ctx).
		Where("pseudo_patient_id = ?", pseudoID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entities := make([]models.Entity, 0, len(rows))
	for _, row := range rows {
		entities = append(entities, models.Entity{
			Type:       row.EntityType,
			Text:       row.EntityText,
			Start:      row.StartPosition,
			End:        row.EndPosition,
			Confidence: row.Confidence,
			Negated:    row.Negated,
			Source:     row.Source,
		})
	}
	return entities, nil
}

func (r *Repository) Stats(ctx context.Context, version string) (models.FeatureStats, error) {
	stats := models.FeatureStats{FeatureVersion: version}
	if err := r.db.WithContext(ctx).Model(&FeatureModel{}).
		Distinct("pseudo_patient_id").
		Count(&stats.TotalPatients).Error; err != nil {
		return models.FeatureStats{}, err
	}
	if err := r.db.WithContext(ctx).Model(&FeatureModel{}).Count(&stats.TotalVectors).Error; err != nil {
		return models.FeatureStats{}, err
	}
	var last FeatureModel
	err := r.db.WithContext(ctx).Order("computed_at DESC").First(&last).Error
	if err == nil {
		stats.LastComputedAt = &last.ComputedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FeatureStats{}, err
	}
	return stats, nil
}

func modelFromVector(v models.FeatureVector) FeatureModel {
	return FeatureModel{
		ID:              v.ID,
		PseudoPatientID: v.PseudoPatientID,
		EncounterID:     v.EncounterID,
		FeatureVersion:  v.FeatureVersion,

		AgeAtAdmission: v.AgeAtAdmission,
		GenderEncoded:  v.GenderEncoded,

		LengthOfStay:           v.LengthOfStay,
		PreviousAdmissions30d:  v.PreviousAdmissions30d,
		PreviousAdmissions90d:  v.PreviousAdmissions90d,
		PreviousAdmissions365d: v.PreviousAdmissions365d,
		CharlsonComorbidityIdx: v.CharlsonComorbidityIdx,
		ConditionBurdenScore:   v.ConditionBurdenScore,

		HeartRateLast:              v.HeartRateLast,
		BloodPressureSystolicLast:  v.BloodPressureSystolicLast,
		BloodPressureDiastolicLast: v.BloodPressureDiastolicLast,
		RespiratoryRateLast:        v.RespiratoryRateLast,
		TemperatureLast:            v.TemperatureLast,
		OxygenSaturationLast:       v.OxygenSaturationLast,

		HemoglobinLast: v.HemoglobinLast,
		CreatinineLast: v.CreatinineLast,
		SodiumLast:     v.SodiumLast,
		PotassiumLast:  v.PotassiumLast,
		GlucoseLast:    v.GlucoseLast,
		WBCCountLast:   v.WBCCountLast,

		NLPSentimentScore:     v.NLPSentimentScore,
		NLPUrgencyScore:       v.NLPUrgencyScore,
		NLPComplexityScore:    v.NLPComplexityScore,
		NLPEntitiesCount:      v.NLPEntitiesCount,
		NLPMedicationMentions: v.NLPMedicationMentions,
		NLPSymptomMentions:    v.NLPSymptomMentions,

		PrimaryDiagnosisCode: v.PrimaryDiagnosisCode,
		DiagnosisCount:       v.DiagnosisCount,
		HasDiabetes:          v.HasDiabetes,
		HasHypertension:      v.HasHypertension,
		HasHeartFailure:      v.HasHeartFailure,
		HasCOPD:              v.HasCOPD,
		HasCKD:               v.HasCKD,
		HasCancer:            v.HasCancer,

		MedicationCount: v.MedicationCount,
		ProcedureCount:  v.ProcedureCount,

		DischargeDisposition: v.DischargeDisposition,
		DischargeToHome:      v.DischargeToHome,

		ComputedAt: v.ComputedAt,
	}
}

func mapVector(row FeatureModel) models.FeatureVector {
	return models.FeatureVector{
		ID:              row.ID,
		PseudoPatientID: row.PseudoPatientID,
		EncounterID:     row.EncounterID,
		FeatureVersion:  row.FeatureVersion,

		AgeAtAdmission: row.AgeAtAdmission,
		GenderEncoded:  row.GenderEncoded,

		LengthOfStay:           row.LengthOfStay,
		PreviousAdmissions30d:  row.PreviousAdmissions30d,
		PreviousAdmissions90d:  row.PreviousAdmissions90d,
		PreviousAdmissions365d: row.PreviousAdmissions365d,
		CharlsonComorbidityIdx: row.CharlsonComorbidityIdx,
		ConditionBurdenScore:   row.ConditionBurdenScore,

		HeartRateLast:              row.HeartRateLast,
		BloodPressureSystolicLast:  row.BloodPressureSystolicLast,
		BloodPressureDiastolicLast: row.BloodPressureDiastolicLast,
		RespiratoryRateLast:        row.RespiratoryRateLast,
		TemperatureLast:            row.TemperatureLast,
		OxygenSaturationLast:       row.OxygenSaturationLast,

		HemoglobinLast: row.HemoglobinLast,
		CreatinineLast: row.CreatinineLast,
		SodiumLast:     row.SodiumLast,
		PotassiumLast:  row.PotassiumLast,
		GlucoseLast:    row.GlucoseLast,
		WBCCountLast:   row.WBCCountLast,

		NLPSentimentScore:     row.NLPSentimentScore,
		NLPUrgencyScore:       row.NLPUrgencyScore,
		NLPComplexityScore:    row.NLPComplexityScore,
		NLPEntitiesCount:      row.NLPEntitiesCount,
		NLPMedicationMentions: row.NLPMedicationMentions,
		NLPSymptomMentions:    row.NLPSymptomMentions,

		PrimaryDiagnosisCode: row.PrimaryDiagnosisCode,
		DiagnosisCount:       row.DiagnosisCount,
		HasDiabetes:          row.HasDiabetes,
		HasHypertension:      row.HasHypertension,
		HasHeartFailure:      row.HasHeartFailure,
		HasCOPD:              row.HasCOPD,
		HasCKD:               row.HasCKD,
		HasCancer:            row.HasCancer,

		MedicationCount: row.MedicationCount,
		ProcedureCount:  row.ProcedureCount,

		DischargeDisposition: row.DischargeDisposition,
		DischargeToHome:      row.DischargeToHome,

		ComputedAt: row.ComputedAt,
	}
}
