package clinical

import (
	"context"
	"errors"

	"github.com/healthflow-ai/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("clinical record not found")

// Repository reads raw patient, encounter, observation, condition and note
// records from the upstream clinical store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Patient(ctx context.Context, originalID string) (models.SourcePatient, error) {
	var row PatientModel
	err := r.db.WithContext(ctx).Where("fhir_id = ?", originalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SourcePatient{}, ErrRecordNotFound
	}
	if err != nil {
		return models.SourcePatient{}, err
	}
	return models.SourcePatient{
		OriginalID:   row.FhirID,
		ResourceData: row.ResourceData,
		BirthDate:    row.BirthDate,
		Gender:       row.Gender,
	}, nil
}

// Encounters returns a patient's encounters ordered most recent first.
func (r *Repository) Encounters(ctx context.Context, patientID string) ([]models.Encounter, error) {
	var rows []EncounterModel
	err := r.db.WithContext(ctx).
		Where("patient_fhir_id = ?", patientID).
		Order("period_start DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	encounters := make([]models.Encounter, 0, len(rows))
	for _, row := range rows {
		encounters = append(encounters, models.Encounter{
			EncounterID:          row.FhirID,
			PatientID:            row.PatientFhirID,
			Class:                row.EncounterClass,
			Status:               row.Status,
			PeriodStart:          row.PeriodStart,
			PeriodEnd:            row.PeriodEnd,
			DischargeDisposition: row.DischargeDisposition,
		})
	}
	return encounters, nil
}

// LatestObservation returns the most recent observation for one code, or
// ErrRecordNotFound when the patient has none.
func (r *Repository) LatestObservation(ctx context.Context, patientID, code string) (models.Observation, error) {
	var row ObservationModel
	err := r.db.WithContext(ctx).
		Where("patient_fhir_id = ? AND code = ?", patientID, code).
		Order("effective_date DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Observation{}, ErrRecordNotFound
	}
	if err != nil {
		return models.Observation{}, err
	}
	return models.Observation{
		ObservationID: row.FhirID,
		PatientID:     row.PatientFhirID,
		Code:          row.Code,
		ValueQuantity: row.ValueQuantity,
		EffectiveDate: row.EffectiveDate,
	}, nil
}

func (r *Repository) Conditions(ctx context.Context, patientID string) ([]models.Condition, error) {
	var rows []ConditionModel
	err := r.db.WithContext(ctx).
		Where("patient_fhir_id = ?", patientID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	conditions := make([]models.Condition, 0, len(rows))
	for _, row := range rows {
		conditions = append(conditions, models.Condition{
			ConditionID: row.FhirID,
			PatientID:   row.PatientFhirID,
			Code:        row.Code,
			DisplayName: row.DisplayName,
		})
	}
	return conditions, nil
}

func (r *Repository) MedicationCount(ctx context.Context, patientID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&MedicationRequestModel{}).
		Where("patient_fhir_id = ?", patientID).
		Count(&count).Error
	return int(count), err
}

func (r *Repository) ProcedureCount(ctx context.Context, patientID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ProcedureModel{}).
		Where("patient_fhir_id = ?", patientID).
		Count(&count).Error
	return int(count), err
}

func (r *Repository) Notes(ctx context.Context, patientID string) ([]models.ClinicalNote, error) {
	var rows []NoteModel
	err := r.db.WithContext(ctx).
		Where("patient_fhir_id = ?", patientID).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	notes := make([]models.ClinicalNote, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, models.ClinicalNote{
			NoteID:     row.ID.String(),
			PatientID:  row.PatientFhirID,
			NoteType:   row.NoteType,
			NoteText:   row.NoteText,
			RecordedAt: row.RecordedAt,
		})
	}
	return notes, nil
}
