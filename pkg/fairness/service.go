package fairness

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/ml/stats"
)

const (
	AlertDemographicParity = "demographic_parity"
	AlertEqualizedOdds     = "equalized_odds"
	AlertPredictionDrift   = "prediction_drift"

	// Ratios below this cutoff escalate a threshold breach to high severity.
	severityHighCutoff = 0.6

	// Equalized odds is only meaningful with a minimum of labeled rows.
	minLabeledForOdds = 10
)

// Store is the persistence contract for snapshots and alerts, plus the
// prediction-demographics join the audit reads.
type Store interface {
	PredictionRows(ctx context.Context) ([]PredictionRow, error)
	InsertSnapshot(ctx context.Context, snapshot models.FairnessSnapshot) error
	LatestSnapshot(ctx context.Context) (models.FairnessSnapshot, error)
	SnapshotHistory(ctx context.Context, days int) ([]models.FairnessSnapshot, error)
	InsertAlert(ctx context.Context, alert models.BiasAlert) error
	OpenAlerts(ctx context.Context) ([]models.BiasAlert, error)
	ResolveAlert(ctx context.Context, alertID uuid.UUID, resolvedBy string, resolvedAt time.Time) error
}

type Options struct {
	ParityThreshold     float64
	OddsThreshold       float64
	DriftThreshold      float64
	ProtectedAttributes []string
	Now                 func() time.Time
}

type Service struct {
	store Store
	opts  Options
}

func NewService(store Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ParityThreshold <= 0 {
		opts.ParityThreshold = 0.8
	}
	if opts.OddsThreshold <= 0 {
		opts.OddsThreshold = 0.8
	}
	if opts.DriftThreshold <= 0 {
		opts.DriftThreshold = 0.1
	}
	if len(opts.ProtectedAttributes) == 0 {
		opts.ProtectedAttributes = []string{"gender", "age_group"}
	}
	return &Service{store: store, opts: opts}
}

// RunAudit computes one fairness snapshot over all predictions joined with
// demographics, persists it, and raises alerts for every threshold breach.
func (s *Service) RunAudit(ctx context.Context) (models.FairnessSnapshot, []models.BiasAlert, error) {
	rows, err := s.store.PredictionRows(ctx)
	if err != nil {
		return models.FairnessSnapshot{}, nil, err
	}

	now := s.opts.Now().UTC()
	snapshot := models.FairnessSnapshot{
		ID:                 uuid.New(),
		MetricDate:         now.Truncate(24 * time.Hour),
		MetricsByAttribute: make(map[string]models.AttributeBreakdown),
		CreatedAt:          now,
	}

	s.fillOverallMetrics(&snapshot, rows)

	// Worst case across protected attributes drives the headline ratios.
	snapshot.DemographicParityRatio = 1.0
	snapshot.EqualizedOddsRatio = 1.0
	for _, attr := range s.opts.ProtectedAttributes {
		parity := demographicParity(rows, attr)
		odds := equalizedOdds(rows, attr)
		snapshot.MetricsByAttribute[attr] = models.AttributeBreakdown{
			Groups:                 groupMetrics(rows, attr),
			DemographicParityRatio: parity,
			EqualizedOddsRatio:     odds,
		}
		snapshot.DemographicParityRatio = math.Min(snapshot.DemographicParityRatio, parity)
		snapshot.EqualizedOddsRatio = math.Min(snapshot.EqualizedOddsRatio, odds)
	}

	recent, older := splitDriftWindows(rows, now)
	snapshot.FeatureDriftScore, snapshot.PredictionDriftScore = driftScores(older, recent)
	snapshot.DataQualityScore = 1.0 - snapshot.FeatureDriftScore

	if err := s.store.InsertSnapshot(ctx, snapshot); err != nil {
		return models.FairnessSnapshot{}, nil, err
	}

	alerts, err := s.raiseAlerts(ctx, snapshot)
	if err != nil {
		return models.FairnessSnapshot{}, nil, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"total_predictions":  snapshot.TotalPredictions,
		"demographic_parity": snapshot.DemographicParityRatio,
		"equalized_odds":     snapshot.EqualizedOddsRatio,
		"prediction_drift":   snapshot.PredictionDriftScore,
		"alerts":             len(alerts),
	}).Info("fairness audit completed")

	return snapshot, alerts, nil
}

// fillOverallMetrics evaluates the model over labeled rows, with HIGH risk
// level as the positive decision. Without labels the AUC and Brier fall back
// to the training placeholders.
func (s *Service) fillOverallMetrics(snapshot *models.FairnessSnapshot, rows []PredictionRow) {
	snapshot.TotalPredictions = len(rows)
	snapshot.OverallAUC = 0.82
	snapshot.BrierScore = 0.15

	var tp, fp, tn, fn float64
	var scores, labels []float64
	for _, row := range rows {
		if row.ActualReadmission == nil {
			continue
		}
		actual := *row.ActualReadmission
		predicted := row.RiskLevel == "HIGH"
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && !actual:
			tn++
		default:
			fn++
		}
		scores = append(scores, row.RiskScore)
		if actual {
			labels = append(labels, 1)
		} else {
			labels = append(labels, 0)
		}
	}

	labeled := tp + fp + tn + fn
	if labeled == 0 {
		return
	}

	snapshot.OverallAccuracy = (tp + tn) / labeled
	if tp+fp > 0 {
		snapshot.OverallPrecision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		snapshot.OverallRecall = tp / (tp + fn)
	}
	if snapshot.OverallPrecision+snapshot.OverallRecall > 0 {
		snapshot.OverallF1 = 2 * snapshot.OverallPrecision * snapshot.OverallRecall /
			(snapshot.OverallPrecision + snapshot.OverallRecall)
	}
	snapshot.OverallAUC = stats.AUC(scores, labels)
	snapshot.BrierScore = stats.Brier(scores, labels)
}

func attributeValue(row PredictionRow, attribute string) string {
	switch attribute {
	case "gender":
		return row.Gender
	case "age_group":
		return row.AgeGroup
	default:
		return ""
	}
}

// groupMetrics summarises predictions per value of one protected attribute.
func groupMetrics(rows []PredictionRow, attribute string) map[string]models.GroupMetrics {
	byGroup := make(map[string][]PredictionRow)
	for _, row := range rows {
		value := attributeValue(row, attribute)
		if value == "" {
			continue
		}
		byGroup[value] = append(byGroup[value], row)
	}

	metrics := make(map[string]models.GroupMetrics, len(byGroup))
	for group, groupRows := range byGroup {
		total := len(groupRows)
		highRisk := 0
		var scoreSum float64
		var tp, fp, fn float64
		for _, row := range groupRows {
			scoreSum += row.RiskScore
			predicted := row.RiskLevel == "HIGH"
			if predicted {
				highRisk++
			}
			if row.ActualReadmission == nil {
				continue
			}
			actual := *row.ActualReadmission
			switch {
			case predicted && actual:
				tp++
			case predicted && !actual:
				fp++
			case !predicted && actual:
				fn++
			}
		}

		metrics[group] = models.GroupMetrics{
			TotalPredictions: total,
			HighRiskRate:     float64(highRisk) / math.Max(float64(total), 1),
			AverageRiskScore: scoreSum / math.Max(float64(total), 1),
			Precision:        tp / math.Max(tp+fp, 1),
			Recall:           tp / math.Max(tp+fn, 1),
		}
	}
	return metrics
}

// demographicParity is the min/max ratio of HIGH-risk rates across groups.
// Fewer than two groups, or a zero max rate, counts as perfect parity.
func demographicParity(rows []PredictionRow, attribute string) float64 {
	highCount := make(map[string]int)
	totalCount := make(map[string]int)
	for _, row := range rows {
		value := attributeValue(row, attribute)
		if value == "" {
			continue
		}
		totalCount[value]++
		if row.RiskLevel == "HIGH" {
			highCount[value]++
		}
	}
	if len(totalCount) < 2 {
		return 1.0
	}

	minRate, maxRate := math.Inf(1), 0.0
	for group, total := range totalCount {
		rate := float64(highCount[group]) / float64(total)
		minRate = math.Min(minRate, rate)
		maxRate = math.Max(maxRate, rate)
	}
	if maxRate == 0 {
		return 1.0
	}
	return minRate / maxRate
}

// equalizedOdds averages the min/max ratios of per-group true positive and
// false positive rates. It reports perfect odds when fewer than
// minLabeledForOdds rows carry an outcome, or when fewer than two groups have
// a measurable rate.
func equalizedOdds(rows []PredictionRow, attribute string) float64 {
	type groupCounts struct {
		tp, positives float64
		fp, negatives float64
	}
	counts := make(map[string]*groupCounts)
	labeled := 0
	for _, row := range rows {
		if row.ActualReadmission == nil {
			continue
		}
		labeled++
		value := attributeValue(row, attribute)
		if value == "" {
			continue
		}
		c := counts[value]
		if c == nil {
			c = &groupCounts{}
			counts[value] = c
		}
		predicted := row.RiskLevel == "HIGH"
		if *row.ActualReadmission {
			c.positives++
			if predicted {
				c.tp++
			}
		} else {
			c.negatives++
			if predicted {
				c.fp++
			}
		}
	}
	if labeled < minLabeledForOdds {
		return 1.0
	}

	var tprs, fprs []float64
	for _, c := range counts {
		if c.positives > 0 {
			tprs = append(tprs, c.tp/c.positives)
		}
		if c.negatives > 0 {
			fprs = append(fprs, c.fp/c.negatives)
		}
	}
	if len(tprs) < 2 || len(fprs) < 2 {
		return 1.0
	}

	tprRatio := minOf(tprs) / math.Max(maxOf(tprs), 0.001)
	fprRatio := minOf(fprs) / math.Max(maxOf(fprs), 0.001)
	return (tprRatio + fprRatio) / 2
}

// splitDriftWindows partitions predictions into the last 7 days and the 7
// days before those.
func splitDriftWindows(rows []PredictionRow, now time.Time) (recent, older []PredictionRow) {
	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)
	for _, row := range rows {
		ts := row.PredictionTimestamp
		switch {
		case !ts.Before(weekAgo):
			recent = append(recent, row)
		case !ts.Before(twoWeeksAgo):
			older = append(older, row)
		}
	}
	return recent, older
}

// driftScores compares the reference window against the current one: feature
// drift is the absolute change in HIGH-risk rate, prediction drift is
// 1 - p from a two-sample KS test over risk scores. Either window being
// empty reports no drift.
func driftScores(reference, current []PredictionRow) (float64, float64) {
	if len(reference) == 0 || len(current) == 0 {
		return 0, 0
	}

	refScores := make([]float64, len(reference))
	refHigh := 0
	for i, row := range reference {
		refScores[i] = row.RiskScore
		if row.RiskLevel == "HIGH" {
			refHigh++
		}
	}
	curScores := make([]float64, len(current))
	curHigh := 0
	for i, row := range current {
		curScores[i] = row.RiskScore
		if row.RiskLevel == "HIGH" {
			curHigh++
		}
	}

	_, p := stats.KolmogorovSmirnov(refScores, curScores)
	predictionDrift := 1 - p

	refRate := float64(refHigh) / float64(len(reference))
	curRate := float64(curHigh) / float64(len(current))
	featureDrift := math.Abs(refRate - curRate)

	return featureDrift, predictionDrift
}

// raiseAlerts creates one alert per breached threshold and returns the
// created alerts.
func (s *Service) raiseAlerts(ctx context.Context, snapshot models.FairnessSnapshot) ([]models.BiasAlert, error) {
	now := s.opts.Now().UTC()
	var alerts []models.BiasAlert

	if snapshot.DemographicParityRatio < s.opts.ParityThreshold {
		alerts = append(alerts, models.BiasAlert{
			ID:             uuid.New(),
			AlertType:      AlertDemographicParity,
			Severity:       ratioSeverity(snapshot.DemographicParityRatio),
			MetricName:     "demographic_parity_ratio",
			MetricValue:    snapshot.DemographicParityRatio,
			ThresholdValue: s.opts.ParityThreshold,
			Description: fmt.Sprintf("Demographic parity ratio (%.2f) below threshold",
				snapshot.DemographicParityRatio),
			Recommendations: "Review prediction distribution across demographic groups. Consider rebalancing training data or adjusting model thresholds.",
			CreatedAt:       now,
		})
	}

	if snapshot.EqualizedOddsRatio < s.opts.OddsThreshold {
		alerts = append(alerts, models.BiasAlert{
			ID:             uuid.New(),
			AlertType:      AlertEqualizedOdds,
			Severity:       ratioSeverity(snapshot.EqualizedOddsRatio),
			MetricName:     "equalized_odds_ratio",
			MetricValue:    snapshot.EqualizedOddsRatio,
			ThresholdValue: s.opts.OddsThreshold,
			Description: fmt.Sprintf("Equalized odds ratio (%.2f) below threshold",
				snapshot.EqualizedOddsRatio),
			Recommendations: "Review true/false positive rates across groups. Consider fairness-aware model training.",
			CreatedAt:       now,
		})
	}

	if snapshot.PredictionDriftScore > s.opts.DriftThreshold {
		alerts = append(alerts, models.BiasAlert{
			ID:             uuid.New(),
			AlertType:      AlertPredictionDrift,
			Severity:       "medium",
			MetricName:     "prediction_drift_score",
			MetricValue:    snapshot.PredictionDriftScore,
			ThresholdValue: s.opts.DriftThreshold,
			Description: fmt.Sprintf("Prediction drift detected (%.2f)",
				snapshot.PredictionDriftScore),
			Recommendations: "Monitor model performance. Consider model retraining if drift persists.",
			CreatedAt:       now,
		})
	}

	for _, alert := range alerts {
		if err := s.store.InsertAlert(ctx, alert); err != nil {
			return nil, err
		}
	}
	return alerts, nil
}

func ratioSeverity(ratio float64) string {
	if ratio < severityHighCutoff {
		return "high"
	}
	return "medium"
}

func (s *Service) Latest(ctx context.Context) (models.FairnessSnapshot, error) {
	return s.store.LatestSnapshot(ctx)
}

func (s *Service) History(ctx context.Context, days int) ([]models.FairnessSnapshot, error) {
	return s.store.SnapshotHistory(ctx, days)
}

func (s *Service) OpenAlerts(ctx context.Context) ([]models.BiasAlert, error) {
	return s.store.OpenAlerts(ctx)
}

func (s *Service) ResolveAlert(ctx context.Context, alertID uuid.UUID, resolvedBy string) error {
	return s.store.ResolveAlert(ctx, alertID, resolvedBy, s.opts.Now().UTC())
}

func minOf(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func maxOf(values []float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}
