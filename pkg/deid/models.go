package deid

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	PseudoIDPrefix = "DEID-"

	OperationDeidentify = "deidentify"
	OperationDelete     = "delete"
)

// Direct identifiers stripped entirely from the record payload.
var FieldsToRemove = []string{
	"name", "telecom", "address", "photo", "contact",
	"identifier", "managingOrganization", "generalPractitioner",
	"link", "text",
}

type PatientModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OriginalID string            `gorm:"column:original_id;uniqueIndex"`
	PseudoID   string            `gorm:"column:pseudo_id;uniqueIndex"`
	DeidData   datatypes.JSONMap `gorm:"column:deid_data;type:jsonb"`
	AgeGroup   string            `gorm:"column:age_group"`
	Gender     string            `gorm:"column:gender"`
	DeidAt     time.Time         `gorm:"column:deid_timestamp"`
	CreatedAt  time.Time         `gorm:"column:created_at"`
}

func (PatientModel) TableName() string {
	return "deid_patients"
}

type AuditModel struct {
	ID          int64             `gorm:"primaryKey;autoIncrement"`
	Operation   string            `gorm:"column:operation;index"`
	EntityType  string            `gorm:"column:entity_type"`
	OriginalID  string            `gorm:"column:original_id;index"`
	PseudoID    string            `gorm:"column:pseudo_id"`
	Fields      datatypes.JSONMap `gorm:"column:fields_modified;type:jsonb"`
	PerformedAt time.Time         `gorm:"column:performed_at;index"`
}

func (AuditModel) TableName() string {
	return "deid_audit_log"
}
