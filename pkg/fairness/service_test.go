package fairness

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/healthflow-ai/platform/pkg/common/models"
)

type fakeFairnessStore struct {
	rows      []PredictionRow
	snapshots []models.FairnessSnapshot
	alerts    []models.BiasAlert
}

func (f *fakeFairnessStore) PredictionRows(_ context.Context) ([]PredictionRow, error) {
	return f.rows, nil
}

func (f *fakeFairnessStore) InsertSnapshot(_ context.Context, snapshot models.FairnessSnapshot) error {
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

func (f *fakeFairnessStore) LatestSnapshot(_ context.Context) (models.FairnessSnapshot, error) {
	if len(f.snapshots) == 0 {
		return models.FairnessSnapshot{}, ErrSnapshotNotFound
	}
	return f.snapshots[len(f.snapshots)-1], nil
}

func (f *fakeFairnessStore) SnapshotHistory(_ context.Context, _ int) ([]models.FairnessSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeFairnessStore) InsertAlert(_ context.Context, alert models.BiasAlert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeFairnessStore) OpenAlerts(_ context.Context) ([]models.BiasAlert, error) {
	var open []models.BiasAlert
	for _, alert := range f.alerts {
		if !alert.IsResolved {
			open = append(open, alert)
		}
	}
	return open, nil
}

func (f *fakeFairnessStore) ResolveAlert(_ context.Context, alertID uuid.UUID, resolvedBy string, resolvedAt time.Time) error {
	for i, alert := range f.alerts {
		if alert.ID == alertID {
			f.alerts[i].IsResolved = true
			f.alerts[i].ResolvedBy = resolvedBy
			f.alerts[i].ResolvedAt = &resolvedAt
			return nil
		}
	}
	return ErrAlertNotFound
}

func auditTestTime() time.Time {
	return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newAuditService(store *fakeFairnessStore) *Service {
	return NewService(store, Options{Now: auditTestTime})
}

func row(gender, ageGroup, level string, score float64, daysAgo int, outcome *bool) PredictionRow {
	return PredictionRow{
		PseudoPatientID:     "PT-" + gender,
		RiskScore:           score,
		RiskLevel:           level,
		ActualReadmission:   outcome,
		PredictionTimestamp: auditTestTime().AddDate(0, 0, -daysAgo),
		AgeGroup:            ageGroup,
		Gender:              gender,
	}
}

func boolPtr(b bool) *bool { return &b }

func skewedParityRows() []PredictionRow {
	rows := make([]PredictionRow, 0, 10)
	// Men: 1 of 5 HIGH. Women: 4 of 5 HIGH. Same age group throughout.
	for i := 0; i < 5; i++ {
		level, score := "LOW", 0.2
		if i == 0 {
			level, score = "HIGH", 0.8
		}
		rows = append(rows, row("male", "60-75", level, score, 1, nil))
	}
	for i := 0; i < 5; i++ {
		level, score := "HIGH", 0.8
		if i == 0 {
			level, score = "LOW", 0.2
		}
		rows = append(rows, row("female", "60-75", level, score, 1, nil))
	}
	return rows
}

func TestDemographicParityRatio(t *testing.T) {
	rows := skewedParityRows()

	if got := demographicParity(rows, "gender"); got != 0.25 {
		t.Errorf("gender parity = %v, want 0.25", got)
	}
	// One age group only.
	if got := demographicParity(rows, "age_group"); got != 1.0 {
		t.Errorf("single-group parity = %v, want 1.0", got)
	}
}

func TestDemographicParityNoHighRisk(t *testing.T) {
	rows := []PredictionRow{
		row("male", "45-60", "LOW", 0.2, 1, nil),
		row("female", "45-60", "LOW", 0.3, 1, nil),
	}
	if got := demographicParity(rows, "gender"); got != 1.0 {
		t.Errorf("parity with zero max rate = %v, want 1.0", got)
	}
}

func TestEqualizedOddsRatio(t *testing.T) {
	var rows []PredictionRow
	// Men: TPR 4/4, FPR 1/2. Women: TPR 2/4, FPR 1/2.
	for i := 0; i < 4; i++ {
		rows = append(rows, row("male", "60-75", "HIGH", 0.8, 1, boolPtr(true)))
	}
	rows = append(rows, row("male", "60-75", "HIGH", 0.8, 1, boolPtr(false)))
	rows = append(rows, row("male", "60-75", "LOW", 0.2, 1, boolPtr(false)))
	for i := 0; i < 2; i++ {
		rows = append(rows, row("female", "60-75", "HIGH", 0.8, 1, boolPtr(true)))
		rows = append(rows, row("female", "60-75", "LOW", 0.2, 1, boolPtr(true)))
	}
	rows = append(rows, row("female", "60-75", "HIGH", 0.8, 1, boolPtr(false)))
	rows = append(rows, row("female", "60-75", "LOW", 0.2, 1, boolPtr(false)))

	got := equalizedOdds(rows, "gender")
	// tpr ratio 0.5, fpr ratio 1.0
	if got != 0.75 {
		t.Errorf("equalized odds = %v, want 0.75", got)
	}
}

func TestEqualizedOddsNeedsEnoughLabels(t *testing.T) {
	var rows []PredictionRow
	for i := 0; i < 5; i++ {
		rows = append(rows, row("male", "60-75", "HIGH", 0.8, 1, boolPtr(true)))
		rows = append(rows, row("female", "60-75", "LOW", 0.2, 1, nil))
	}
	// Only 5 labeled rows.
	if got := equalizedOdds(rows, "gender"); got != 1.0 {
		t.Errorf("sparse-label odds = %v, want 1.0", got)
	}
}

func TestSplitDriftWindows(t *testing.T) {
	rows := []PredictionRow{
		row("male", "60-75", "LOW", 0.2, 1, nil),
		row("male", "60-75", "LOW", 0.2, 7, nil),
		row("male", "60-75", "LOW", 0.2, 10, nil),
		row("male", "60-75", "LOW", 0.2, 14, nil),
		row("male", "60-75", "LOW", 0.2, 20, nil),
	}

	recent, older := splitDriftWindows(rows, auditTestTime())
	if len(recent) != 2 {
		t.Errorf("recent window = %d rows, want 2", len(recent))
	}
	if len(older) != 2 {
		t.Errorf("older window = %d rows, want 2", len(older))
	}
}

func TestDriftScoresEmptyWindow(t *testing.T) {
	rows := []PredictionRow{row("male", "60-75", "HIGH", 0.9, 1, nil)}

	feature, prediction := driftScores(nil, rows)
	if feature != 0 || prediction != 0 {
		t.Errorf("empty-window drift = %v/%v, want 0/0", feature, prediction)
	}
}

func TestDriftScoresShiftedDistributions(t *testing.T) {
	var reference, current []PredictionRow
	for i := 0; i < 8; i++ {
		reference = append(reference, row("male", "60-75", "LOW", 0.2, 10, nil))
		current = append(current, row("male", "60-75", "HIGH", 0.9, 1, nil))
	}

	feature, prediction := driftScores(reference, current)
	if feature != 1.0 {
		t.Errorf("feature drift = %v, want 1.0", feature)
	}
	if prediction < 0.9 {
		t.Errorf("prediction drift = %v, want near 1", prediction)
	}
}

func TestRunAuditRaisesParityAlert(t *testing.T) {
	store := &fakeFairnessStore{rows: skewedParityRows()}
	service := newAuditService(store)

	snapshot, alerts, err := service.RunAudit(context.Background())
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}

	if snapshot.TotalPredictions != 10 {
		t.Errorf("total = %d, want 10", snapshot.TotalPredictions)
	}
	if snapshot.DemographicParityRatio != 0.25 {
		t.Errorf("parity = %v, want 0.25", snapshot.DemographicParityRatio)
	}
	if snapshot.EqualizedOddsRatio != 1.0 {
		t.Errorf("odds = %v, want 1.0 without labels", snapshot.EqualizedOddsRatio)
	}
	if snapshot.OverallAUC != 0.82 || snapshot.BrierScore != 0.15 {
		t.Errorf("unlabeled snapshot should carry placeholder metrics: %+v", snapshot)
	}

	breakdown, ok := snapshot.MetricsByAttribute["gender"]
	if !ok {
		t.Fatal("gender breakdown missing")
	}
	if breakdown.Groups["male"].HighRiskRate != 0.2 || breakdown.Groups["female"].HighRiskRate != 0.8 {
		t.Errorf("group rates = %+v", breakdown.Groups)
	}

	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	alert := alerts[0]
	if alert.AlertType != AlertDemographicParity {
		t.Errorf("alert type = %s", alert.AlertType)
	}
	if alert.Severity != "high" {
		t.Errorf("severity = %s, want high for ratio 0.25", alert.Severity)
	}
	if !strings.Contains(alert.Description, "Demographic parity ratio (0.25) below threshold") {
		t.Errorf("description = %s", alert.Description)
	}
	if !strings.Contains(alert.Recommendations, "rebalancing training data") {
		t.Errorf("recommendations = %s", alert.Recommendations)
	}
	if len(store.snapshots) != 1 || len(store.alerts) != 1 {
		t.Errorf("persisted %d snapshots, %d alerts", len(store.snapshots), len(store.alerts))
	}
}

func TestRunAuditRaisesDriftAlert(t *testing.T) {
	var rows []PredictionRow
	for i := 0; i < 8; i++ {
		rows = append(rows, row("male", "60-75", "LOW", 0.2, 10, nil))
		rows = append(rows, row("male", "60-75", "HIGH", 0.9, 1, nil))
	}
	store := &fakeFairnessStore{rows: rows}
	service := newAuditService(store)

	snapshot, alerts, err := service.RunAudit(context.Background())
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}

	if snapshot.FeatureDriftScore != 1.0 {
		t.Errorf("feature drift = %v, want 1.0", snapshot.FeatureDriftScore)
	}
	if snapshot.DataQualityScore != 0.0 {
		t.Errorf("data quality = %v, want 0.0", snapshot.DataQualityScore)
	}

	var drift *models.BiasAlert
	for i, alert := range alerts {
		if alert.AlertType == AlertPredictionDrift {
			drift = &alerts[i]
		}
	}
	if drift == nil {
		t.Fatalf("expected a drift alert, got %+v", alerts)
	}
	if drift.Severity != "medium" {
		t.Errorf("drift severity = %s, want medium", drift.Severity)
	}
	if !strings.Contains(drift.Description, "Prediction drift detected") {
		t.Errorf("description = %s", drift.Description)
	}
	if !strings.Contains(drift.Recommendations, "model retraining") {
		t.Errorf("recommendations = %s", drift.Recommendations)
	}
}

func TestRunAuditQuietWhenBalanced(t *testing.T) {
	var rows []PredictionRow
	for i := 0; i < 4; i++ {
		rows = append(rows, row("male", "60-75", "HIGH", 0.8, 1, nil))
		rows = append(rows, row("female", "60-75", "HIGH", 0.8, 1, nil))
		rows = append(rows, row("male", "60-75", "LOW", 0.2, 1, nil))
		rows = append(rows, row("female", "60-75", "LOW", 0.2, 1, nil))
	}
	store := &fakeFairnessStore{rows: rows}
	service := newAuditService(store)

	snapshot, alerts, err := service.RunAudit(context.Background())
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if snapshot.DemographicParityRatio != 1.0 {
		t.Errorf("parity = %v, want 1.0", snapshot.DemographicParityRatio)
	}
	if len(alerts) != 0 {
		t.Errorf("alerts = %+v, want none", alerts)
	}
}

func TestRatioSeverity(t *testing.T) {
	if got := ratioSeverity(0.59); got != "high" {
		t.Errorf("severity(0.59) = %s, want high", got)
	}
	if got := ratioSeverity(0.6); got != "medium" {
		t.Errorf("severity(0.6) = %s, want medium", got)
	}
	if got := ratioSeverity(0.75); got != "medium" {
		t.Errorf("severity(0.75) = %s, want medium", got)
	}
}

func TestResolveAlert(t *testing.T) {
	store := &fakeFairnessStore{}
	service := newAuditService(store)

	alert := models.BiasAlert{ID: uuid.New(), AlertType: AlertDemographicParity}
	store.alerts = append(store.alerts, alert)

	if err := service.ResolveAlert(context.Background(), alert.ID, "reviewer@example.org"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !store.alerts[0].IsResolved || store.alerts[0].ResolvedBy != "reviewer@example.org" {
		t.Errorf("alert not resolved: %+v", store.alerts[0])
	}
	if store.alerts[0].ResolvedAt == nil || !store.alerts[0].ResolvedAt.Equal(auditTestTime()) {
		t.Errorf("resolved at = %v", store.alerts[0].ResolvedAt)
	}

	open, err := service.OpenAlerts(context.Background())
	if err != nil {
		t.Fatalf("open alerts failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open alerts = %d, want 0", len(open))
	}

	if err := service.ResolveAlert(context.Background(), uuid.New(), "reviewer"); err != ErrAlertNotFound {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}
