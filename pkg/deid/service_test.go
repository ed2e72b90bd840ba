package deid

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/dlp"
)

type fakeStore struct {
	byOriginal map[string]models.PseudonymousPatient
	audit      []models.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{byOriginal: make(map[string]models.PseudonymousPatient)}
}

func (f *fakeStore) Insert(_ context.Context, patient models.PseudonymousPatient) error {
	if _, ok := f.byOriginal[patient.OriginalID]; ok {
		return ErrAlreadyExists
	}
	f.byOriginal[patient.OriginalID] = patient
	return nil
}

func (f *fakeStore) GetByOriginalID(_ context.Context, originalID string) (models.PseudonymousPatient, error) {
	patient, ok := f.byOriginal[originalID]
	if !ok {
		return models.PseudonymousPatient{}, ErrPatientNotFound
	}
	return patient, nil
}

func (f *fakeStore) GetByPseudoID(_ context.Context, pseudoID string) (models.PseudonymousPatient, error) {
	for _, patient := range f.byOriginal {
		if patient.PseudoID == pseudoID {
			return patient, nil
		}
	}
	return models.PseudonymousPatient{}, ErrPatientNotFound
}

func (f *fakeStore) Delete(_ context.Context, originalID string) error {
	if _, ok := f.byOriginal[originalID]; !ok {
		return ErrPatientNotFound
	}
	delete(f.byOriginal, originalID)
	return nil
}

func (f *fakeStore) AppendAudit(_ context.Context, entry models.AuditEntry) error {
	f.audit = append(f.audit, entry)
	return nil
}

func (f *fakeStore) ListAudit(_ context.Context, limit int) ([]models.AuditEntry, error) {
	return f.audit, nil
}

func (f *fakeStore) Stats(_ context.Context) (models.DeidStats, error) {
	return models.DeidStats{
		TotalPatients:   int64(len(f.byOriginal)),
		TotalOperations: int64(len(f.audit)),
	}, nil
}

type fakeSource struct {
	patients map[string]models.SourcePatient
}

func (f *fakeSource) Patient(_ context.Context, originalID string) (models.SourcePatient, error) {
	patient, ok := f.patients[originalID]
	if !ok {
		return models.SourcePatient{}, ErrPatientNotFound
	}
	return patient, nil
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newTestService(store *fakeStore, source *fakeSource) *Service {
	return NewService(store, source, Options{Salt: "test_salt", Now: fixedNow})
}

func birthDate(year, month, day int) *time.Time {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestPseudoIDDeterministicFormat(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeSource{})

	first := service.PseudoID("patient-123")
	second := service.PseudoID("patient-123")
	other := service.PseudoID("patient-456")

	if first != second {
		t.Fatalf("pseudo id not deterministic: %s vs %s", first, second)
	}
	if first == other {
		t.Fatal("different inputs produced the same pseudo id")
	}
	if !strings.HasPrefix(first, PseudoIDPrefix) {
		t.Fatalf("missing prefix: %s", first)
	}
	hexPart := strings.TrimPrefix(first, PseudoIDPrefix)
	if len(hexPart) != 16 {
		t.Fatalf("expected 16 hex chars, got %d in %s", len(hexPart), first)
	}
	if hexPart != strings.ToUpper(hexPart) {
		t.Fatalf("expected uppercase hex: %s", hexPart)
	}
}

func TestAgeGroupBuckets(t *testing.T) {
	service := newTestService(newFakeStore(), &fakeSource{})

	cases := []struct {
		birth *time.Time
		want  string
	}{
		{birthDate(2020, 1, 1), "0-18"},
		{birthDate(2000, 1, 1), "18-30"},
		{birthDate(1990, 1, 1), "30-45"},
		{birthDate(1970, 1, 1), "45-60"},
		{birthDate(1955, 1, 1), "60-75"},
		{birthDate(1940, 1, 1), "75-90"},
		{birthDate(1930, 1, 1), "90+"},
		{nil, "unknown"},
	}
	for _, tc := range cases {
		if got := service.AgeGroup(tc.birth); got != tc.want {
			t.Errorf("AgeGroup(%v) = %s, want %s", tc.birth, got, tc.want)
		}
	}
}

func TestDeidentifyRemovesIdentifiersAndGeneralizes(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{patients: map[string]models.SourcePatient{
		"patient-1": {
			OriginalID: "patient-1",
			ResourceData: map[string]interface{}{
				"id":        "patient-1",
				"name":      []interface{}{map[string]interface{}{"family": "Doe"}},
				"telecom":   []interface{}{},
				"address":   []interface{}{},
				"birthDate": "1955-03-20",
				"gender":    "female",
			},
			BirthDate: birthDate(1955, 3, 20),
			Gender:    "female",
		},
	}}
	service := newTestService(store, source)

	result, err := service.Deidentify(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("deidentify failed: %v", err)
	}

	for _, field := range []string{"name", "telecom", "address"} {
		if _, ok := result.Patient.DeidData[field]; ok {
			t.Errorf("field %s should have been removed", field)
		}
	}
	if got := result.Patient.DeidData["birthDate"]; got != "1955-01-01" {
		t.Errorf("birthDate = %v, want 1955-01-01", got)
	}
	if got := result.Patient.DeidData["id"]; got != result.Patient.PseudoID {
		t.Errorf("id = %v, want pseudo id %s", got, result.Patient.PseudoID)
	}
	if result.Patient.AgeGroup != "60-75" {
		t.Errorf("age group = %s, want 60-75", result.Patient.AgeGroup)
	}
	if len(result.FieldsRemoved) != 3 {
		t.Errorf("fields removed = %v", result.FieldsRemoved)
	}
	if len(store.audit) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(store.audit))
	}
	if store.audit[0].Operation != OperationDeidentify {
		t.Errorf("audit operation = %s", store.audit[0].Operation)
	}
}

func TestDeidentifyMasksVeryOldBirthDates(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{patients: map[string]models.SourcePatient{
		"patient-old": {
			OriginalID: "patient-old",
			ResourceData: map[string]interface{}{
				"id":        "patient-old",
				"birthDate": "1920-05-05",
			},
			BirthDate: birthDate(1920, 5, 5),
		},
	}}
	service := newTestService(store, source)

	result, err := service.Deidentify(context.Background(), "patient-old")
	if err != nil {
		t.Fatalf("deidentify failed: %v", err)
	}
	if got := result.Patient.DeidData["birthDate"]; got != "1900-01-01" {
		t.Errorf("birthDate = %v, want 1900-01-01", got)
	}
	if result.Patient.AgeGroup != "90+" {
		t.Errorf("age group = %s, want 90+", result.Patient.AgeGroup)
	}
}

func TestDeidentifyIdempotent(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{patients: map[string]models.SourcePatient{
		"patient-1": {
			OriginalID:   "patient-1",
			ResourceData: map[string]interface{}{"id": "patient-1"},
		},
	}}
	service := newTestService(store, source)

	first, err := service.Deidentify(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("first deidentify failed: %v", err)
	}
	second, err := service.Deidentify(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("second deidentify failed: %v", err)
	}

	if first.Patient.PseudoID != second.Patient.PseudoID {
		t.Fatal("repeat call returned a different identity")
	}
	if len(second.FieldsRemoved) != 0 || len(second.FieldsModified) != 0 {
		t.Fatal("repeat call should report no transformations")
	}
	if len(store.audit) != 1 {
		t.Fatalf("repeat call wrote an extra audit entry: %d", len(store.audit))
	}
}

func TestBatchDeidentifyIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{patients: map[string]models.SourcePatient{
		"ok-1": {OriginalID: "ok-1", ResourceData: map[string]interface{}{"id": "ok-1"}},
		"ok-2": {OriginalID: "ok-2", ResourceData: map[string]interface{}{"id": "ok-2"}},
	}}
	service := newTestService(store, source)

	results, batch := service.BatchDeidentify(context.Background(), []string{"ok-1", "missing", "ok-2"})

	if batch.TotalProcessed != 3 {
		t.Errorf("total = %d, want 3", batch.TotalProcessed)
	}
	if batch.Successful != 2 || batch.Failed != 1 {
		t.Errorf("successful/failed = %d/%d, want 2/1", batch.Successful, batch.Failed)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
	if len(batch.Errors) != 1 || batch.Errors[0].ID != "missing" {
		t.Errorf("errors = %v", batch.Errors)
	}
}

func TestDeidentifyMasksResidualIdentifiers(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{patients: map[string]models.SourcePatient{
		"patient-1": {
			OriginalID: "patient-1",
			ResourceData: map[string]interface{}{
				"id":   "patient-1",
				"text": "Contact at 555-123-4567, SSN 123-45-6789",
			},
		},
	}}
	scanner, err := dlp.NewDetector(dlp.DefaultRules())
	if err != nil {
		t.Fatalf("failed to build scanner: %v", err)
	}
	service := NewService(store, source, Options{Salt: "test_salt", Scanner: scanner, Now: fixedNow})

	result, err := service.Deidentify(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("deidentify failed: %v", err)
	}

	text := result.Patient.DeidData["text"].(string)
	if strings.Contains(text, "123-45-6789") || strings.Contains(text, "555-123-4567") {
		t.Errorf("residual identifiers survived: %s", text)
	}

	var flagged bool
	for _, field := range result.FieldsModified {
		if field == "residual_identifiers" {
			flagged = true
		}
	}
	if !flagged {
		t.Errorf("modified fields = %v, want residual_identifiers entry", result.FieldsModified)
	}
}

func TestDeleteErasesAndAudits(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{patients: map[string]models.SourcePatient{
		"patient-1": {OriginalID: "patient-1", ResourceData: map[string]interface{}{"id": "patient-1"}},
	}}
	service := newTestService(store, source)

	if _, err := service.Deidentify(context.Background(), "patient-1"); err != nil {
		t.Fatalf("deidentify failed: %v", err)
	}
	if err := service.Delete(context.Background(), "patient-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := store.GetByOriginalID(context.Background(), "patient-1"); err != ErrPatientNotFound {
		t.Fatal("mapping should be gone after delete")
	}
	last := store.audit[len(store.audit)-1]
	if last.Operation != OperationDelete {
		t.Errorf("last audit operation = %s, want %s", last.Operation, OperationDelete)
	}
	if last.Fields["reason"] != "right_to_erasure" {
		t.Errorf("audit reason = %v", last.Fields["reason"])
	}

	if err := service.Delete(context.Background(), "patient-1"); err != ErrPatientNotFound {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}
