package deid

import (
	"context"
	"errors"
	"time"

	"github.com/healthflow-ai/platform/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPatientNotFound = errors.New("pseudonymous patient not found")
	ErrAlreadyExists   = errors.New("pseudonymous patient already exists")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PatientModel{}, &AuditModel{})
}

// Insert creates the identity row unless one already exists for the original
// id. Concurrent calls for the same id race on the unique index, so the insert
// ignores conflicts and reports ErrAlreadyExists for the loser.
func (r *Repository) Insert(ctx context.Context, patient models.PseudonymousPatient) error {
	row := PatientModel{
		ID:         patient.ID,
		OriginalID: patient.OriginalID,
		PseudoID:   patient.PseudoID,
		DeidData:   patient.DeidData,
		AgeGroup:   patient.AgeGroup,
		Gender:     patient.Gender,
		DeidAt:     patient.DeidAt,
		CreatedAt:  time.Now().UTC(),
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "original_id"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *Repository) GetByOriginalID(ctx context.Context, originalID string) (models.PseudonymousPatient, error) {
	var row PatientModel
	err := r.db.WithContext(ctx).Where("original_id = ?", originalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PseudonymousPatient{}, ErrPatientNotFound
	}
	if err != nil {
		return models.PseudonymousPatient{}, err
	}
	return mapPatient(row), nil
}

func (r *Repository) GetByPseudoID(ctx context.Context, pseudoID string) (models.PseudonymousPatient, error) {
	var row PatientModel
	err := r.db.WithContext(ctx).Where("pseudo_id = ?", pseudoID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PseudonymousPatient{}, ErrPatientNotFound
	}
	if err != nil {
		return models.PseudonymousPatient{}, err
	}
	return mapPatient(row), nil
}

func (r *Repository) ListAll(ctx context.Context) ([]models.PseudonymousPatient, error) {
	var rows []PatientModel
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	patients := make([]models.PseudonymousPatient, 0, len(rows))
	for _, row := range rows {
		patients = append(patients, mapPatient(row))
	}
	return patients, nil
}

func (r *Repository) Delete(ctx context.Context, originalID string) error {
	result := r.db.WithContext(ctx).Where("original_id = ?", originalID).Delete(&PatientModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *Repository) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	row := AuditModel{
		Operation:   entry.Operation,
		EntityType:  entry.EntityType,
		OriginalID:  entry.OriginalID,
		PseudoID:    entry.PseudoID,
		Fields:      entry.Fields,
		PerformedAt: entry.PerformedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []AuditModel
	if err := r.db.WithContext(ctx).Order("performed_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, models.AuditEntry{
			ID:          row.ID,
			Operation:   row.Operation,
			EntityType:  row.EntityType,
			OriginalID:  row.OriginalID,
			PseudoID:    row.PseudoID,
			Fields:      row.Fields,
			PerformedAt: row.PerformedAt,
		})
	}
	return entries, nil
}

func (r *Repository) Stats(ctx context.Context) (models.DeidStats, error) {
	var stats models.DeidStats
	if err := r.db.WithContext(ctx).Model(&PatientModel{}).Count(&stats.TotalPatients).Error; err != nil {
		return models.DeidStats{}, err
	}
	if err := r.db.WithContext(ctx).Model(&AuditModel{}).Count(&stats.TotalOperations).Error; err != nil {
		return models.DeidStats{}, err
	}
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	if err := r.db.WithContext(ctx).Model(&AuditModel{}).
		Where("performed_at >= ?", startOfDay).
		Count(&stats.OperationsToday).Error; err != nil {
		return models.DeidStats{}, err
	}
	var last AuditModel
	err := r.db.WithContext(ctx).Order("performed_at DESC").First(&last).Error
	if err == nil {
		stats.LastOperationAt = &last.PerformedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DeidStats{}, err
	}
	return stats, nil
}

func mapPatient(row PatientModel) models.PseudonymousPatient {
	return models.PseudonymousPatient{
		ID:         row.ID,
		OriginalID: row.OriginalID,
		PseudoID:   row.PseudoID,
		DeidData:   row.DeidData,
		AgeGroup:   row.AgeGroup,
		Gender:     row.Gender,
		DeidAt:     row.DeidAt,
	}
}
