package clinical

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Read-only mirrors of the upstream clinical record store. The pipeline never
// writes these tables.

type PatientModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	FhirID       string            `gorm:"column:fhir_id;uniqueIndex"`
	ResourceData datatypes.JSONMap `gorm:"column:resource_data;type:jsonb"`
	BirthDate    *time.Time        `gorm:"column:birth_date"`
	Gender       string            `gorm:"column:gender"`
}

func (PatientModel) TableName() string {
	return "fhir_patients"
}

type EncounterModel struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey"`
	FhirID               string     `gorm:"column:fhir_id;uniqueIndex"`
	PatientFhirID        string     `gorm:"column:patient_fhir_id;index"`
	EncounterClass       string     `gorm:"column:encounter_class"`
	Status               string     `gorm:"column:status"`
	PeriodStart          *time.Time `gorm:"column:period_start"`
	PeriodEnd            *time.Time `gorm:"column:period_end"`
	DischargeDisposition string     `gorm:"column:discharge_disposition"`
}

func (EncounterModel) TableName() string {
	return "fhir_encounters"
}

type ObservationModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	FhirID        string     `gorm:"column:fhir_id;uniqueIndex"`
	PatientFhirID string     `gorm:"column:patient_fhir_id;index"`
	Code          string     `gorm:"column:code;index"`
	ValueQuantity *float64   `gorm:"column:value_quantity"`
	EffectiveDate *time.Time `gorm:"column:effective_date"`
}

func (ObservationModel) TableName() string {
	return "fhir_observations"
}

type ConditionModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	FhirID        string    `gorm:"column:fhir_id;uniqueIndex"`
	PatientFhirID string    `gorm:"column:patient_fhir_id;index"`
	Code          string    `gorm:"column:code"`
	DisplayName   string    `gorm:"column:display_name"`
}

func (ConditionModel) TableName() string {
	return "fhir_conditions"
}

type MedicationRequestModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	FhirID        string    `gorm:"column:fhir_id;uniqueIndex"`
	PatientFhirID string    `gorm:"column:patient_fhir_id;index"`
	Code          string    `gorm:"column:code"`
}

func (MedicationRequestModel) TableName() string {
	return "fhir_medication_requests"
}

type ProcedureModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	FhirID        string    `gorm:"column:fhir_id;uniqueIndex"`
	PatientFhirID string    `gorm:"column:patient_fhir_id;index"`
	Code          string    `gorm:"column:code"`
}

func (ProcedureModel) TableName() string {
	return "fhir_procedures"
}

type NoteModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PatientFhirID string     `gorm:"column:patient_fhir_id;index"`
	NoteType      string     `gorm:"column:note_type"`
	NoteText      string     `gorm:"column:note_text"`
	RecordedAt    *time.Time `gorm:"column:recorded_at"`
}

func (NoteModel) TableName() string {
	return "clinical_notes"
}
