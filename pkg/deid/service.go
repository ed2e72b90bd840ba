package deid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/dlp"
)

// Store is the persistence contract for pseudonymous identities and their
// audit trail.
type Store interface {
	Insert(ctx context.Context, patient models.PseudonymousPatient) error
	GetByOriginalID(ctx context.Context, originalID string) (models.PseudonymousPatient, error)
	GetByPseudoID(ctx context.Context, pseudoID string) (models.PseudonymousPatient, error)
	Delete(ctx context.Context, originalID string) error
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
	Stats(ctx context.Context) (models.DeidStats, error)
}

// Source supplies raw identifiable records from the upstream clinical store.
type Source interface {
	Patient(ctx context.Context, originalID string) (models.SourcePatient, error)
}

type Options struct {
	Salt            string
	AgeGroupBins    []int
	AgeMaskCeiling  int
	MaskedBirthYear int
	// Scanner catches identifiers field removal misses, typically inside
	// free-text values. Nil skips the scan.
	Scanner *dlp.Detector
	Now     func() time.Time
}

type Service struct {
	store  Store
	source Source
	opts   Options
}

func NewService(store Store, source Source, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.AgeGroupBins) == 0 {
		opts.AgeGroupBins = []int{0, 18, 30, 45, 60, 75, 90}
	}
	if opts.AgeMaskCeiling <= 0 {
		opts.AgeMaskCeiling = 90
	}
	if opts.MaskedBirthYear <= 0 {
		opts.MaskedBirthYear = 1900
	}
	return &Service{store: store, source: source, opts: opts}
}

// PseudoID derives the stable pseudonymous identifier for an original id.
// The mapping is a salted SHA-256, so equal inputs always produce equal
// pseudo ids and the original id cannot be recovered without the salt.
func (s *Service) PseudoID(originalID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", s.opts.Salt, originalID)))
	return PseudoIDPrefix + strings.ToUpper(hex.EncodeToString(sum[:])[:16])
}

// AgeGroup buckets an age into the configured bin edges. Ages at or above the
// last edge map to the open-ended "{edge}+" bucket; a missing birth date maps
// to "unknown".
func (s *Service) AgeGroup(birthDate *time.Time) string {
	if birthDate == nil {
		return "unknown"
	}
	age := yearsBetween(*birthDate, s.opts.Now())
	bins := s.opts.AgeGroupBins
	if age < bins[0] {
		return "unknown"
	}
	for i := 0; i < len(bins)-1; i++ {
		if age >= bins[i] && age < bins[i+1] {
			return fmt.Sprintf("%d-%d", bins[i], bins[i+1])
		}
	}
	return fmt.Sprintf("%d+", bins[len(bins)-1])
}

// Deidentify produces (or returns the existing) pseudonymous identity for an
// original patient id. The operation is idempotent: a repeat call returns the
// stored identity with empty removed/modified lists and writes no audit entry.
func (s *Service) Deidentify(ctx context.Context, originalID string) (models.DeidResult, error) {
	existing, err := s.store.GetByOriginalID(ctx, originalID)
	if err == nil {
		logger.Log.WithFields(map[string]interface{}{
			"original_id": originalID,
			"pseudo_id":   existing.PseudoID,
		}).Info("patient already de-identified")
		return models.DeidResult{Patient: existing, FieldsRemoved: []string{}, FieldsModified: []string{}}, nil
	}
	if !errors.Is(err, ErrPatientNotFound) {
		return models.DeidResult{}, err
	}

	source, err := s.source.Patient(ctx, originalID)
	if err != nil {
		return models.DeidResult{}, err
	}

	pseudoID := s.PseudoID(originalID)
	now := s.opts.Now().UTC()

	removed := []string{}
	modified := []string{}
	deidData := make(map[string]interface{}, len(source.ResourceData))
	for key, value := range source.ResourceData {
		if isRemovedField(key) {
			removed = append(removed, key)
			continue
		}
		deidData[key] = value
	}

	if _, ok := deidData["birthDate"]; ok && source.BirthDate != nil {
		deidData["birthDate"] = s.generalizeBirthDate(*source.BirthDate)
		modified = append(modified, "birthDate")
	}

	deidData["id"] = pseudoID
	modified = append(modified, "id")
	deidData["meta"] = map[string]interface{}{
		"deidentified":            true,
		"deidentification_method": "safe_harbor",
		"deidentification_date":   now.Format(time.RFC3339),
	}

	if scan := s.opts.Scanner.Detect(deidData); scan.Detected {
		deidData = s.opts.Scanner.Sanitize(deidData)
		modified = append(modified, "residual_identifiers")
		logger.Log.WithFields(map[string]interface{}{
			"pseudo_id": pseudoID,
			"types":     scan.Types,
		}).Warn("masked residual identifiers in de-identified record")
	}

	patient := models.PseudonymousPatient{
		ID:         uuid.New(),
		OriginalID: originalID,
		PseudoID:   pseudoID,
		DeidData:   deidData,
		AgeGroup:   s.AgeGroup(source.BirthDate),
		Gender:     source.Gender,
		DeidAt:     now,
	}

	if err := s.store.Insert(ctx, patient); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost the race to a concurrent request for the same id.
			winner, getErr := s.store.GetByOriginalID(ctx, originalID)
			if getErr != nil {
				return models.DeidResult{}, getErr
			}
			return models.DeidResult{Patient: winner, FieldsRemoved: []string{}, FieldsModified: []string{}}, nil
		}
		return models.DeidResult{}, err
	}

	audit := models.AuditEntry{
		Operation:  OperationDeidentify,
		EntityType: "Patient",
		OriginalID: originalID,
		PseudoID:   pseudoID,
		Fields: map[string]interface{}{
			"removed":  removed,
			"modified": modified,
		},
		PerformedAt: now,
	}
	if err := s.store.AppendAudit(ctx, audit); err != nil {
		return models.DeidResult{}, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"original_id":     originalID,
		"pseudo_id":       pseudoID,
		"removed_fields":  len(removed),
		"modified_fields": len(modified),
	}).Info("patient de-identified")

	return models.DeidResult{Patient: patient, FieldsRemoved: removed, FieldsModified: modified}, nil
}

// BatchDeidentify processes ids sequentially; one failure is recorded and
// does not abort the remaining items.
func (s *Service) BatchDeidentify(ctx context.Context, originalIDs []string) ([]models.DeidResult, models.BatchResult) {
	results := make([]models.DeidResult, 0, len(originalIDs))
	batch := models.BatchResult{TotalProcessed: len(originalIDs), Errors: []models.BatchError{}}

	for _, id := range originalIDs {
		result, err := s.Deidentify(ctx, id)
		if err != nil {
			logger.Log.WithError(err).WithField("original_id", id).Error("batch de-identification item failed")
			batch.Failed++
			batch.Errors = append(batch.Errors, models.BatchError{ID: id, Error: err.Error()})
			continue
		}
		batch.Successful++
		results = append(results, result)
	}

	return results, batch
}

func (s *Service) GetByOriginalID(ctx context.Context, originalID string) (models.PseudonymousPatient, error) {
	return s.store.GetByOriginalID(ctx, originalID)
}

func (s *Service) GetByPseudoID(ctx context.Context, pseudoID string) (models.PseudonymousPatient, error) {
	return s.store.GetByPseudoID(ctx, pseudoID)
}

// Delete erases the pseudonymous mapping permanently (right to erasure) and
// records the deletion in the audit log.
func (s *Service) Delete(ctx context.Context, originalID string) error {
	patient, err := s.store.GetByOriginalID(ctx, originalID)
	if err != nil {
		return err
	}

	audit := models.AuditEntry{
		Operation:   OperationDelete,
		EntityType:  "Patient",
		OriginalID:  originalID,
		PseudoID:    patient.PseudoID,
		Fields:      map[string]interface{}{"reason": "right_to_erasure"},
		PerformedAt: s.opts.Now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, audit); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, originalID); err != nil {
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"original_id": originalID,
		"pseudo_id":   patient.PseudoID,
	}).Info("patient data erased")

	return nil
}

func (s *Service) AuditLog(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return s.store.ListAudit(ctx, limit)
}

func (s *Service) Stats(ctx context.Context) (models.DeidStats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) generalizeBirthDate(birthDate time.Time) string {
	age := yearsBetween(birthDate, s.opts.Now())
	if age >= s.opts.AgeMaskCeiling {
		return fmt.Sprintf("%04d-01-01", s.opts.MaskedBirthYear)
	}
	return fmt.Sprintf("%04d-01-01", birthDate.Year())
}

func isRemovedField(key string) bool {
	for _, field := range FieldsToRemove {
		if key == field {
			return true
		}
	}
	return false
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	return years
}
