package risk

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/healthflow-ai/platform/pkg/features"
)

func writeToyArtifact(t *testing.T, dir string) {
	t.Helper()
	var artifact Artifact
	artifact.Model.Type = "classifier"
	artifact.Model.Algorithm = "logistic_regression"
	artifact.Model.FeatureNames = []string{"admissions", "home"}
	artifact.Model.Weights.Bias = 0
	artifact.Model.Weights.Coefficients = []float64{1, -1}
	artifact.Model.Baselines = []float64{0, 0}

	content, err := json.Marshal(artifact)
	if err != nil {
		t.Fatalf("marshal artifact: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "toy_latest.json"), content, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func TestModelScoreDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeToyArtifact(t, dir)
	model := NewModel(dir)

	score, err := model.Score("toy", map[string]float64{"admissions": 2, "home": 1})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}

	// sigmoid(1*2 - 1*1) = sigmoid(1)
	want := sigmoid(1)
	if absDiff(score, want) > 1e-9 {
		t.Errorf("score = %v, want %v", score, want)
	}
	if score < 0 || score > 1 {
		t.Errorf("score out of range: %v", score)
	}
}

func TestModelScoreMissingFeature(t *testing.T) {
	dir := t.TempDir()
	writeToyArtifact(t, dir)
	model := NewModel(dir)

	if _, err := model.Score("toy", map[string]float64{"admissions": 2}); err == nil {
		t.Fatal("expected error for missing feature")
	}
}

func TestModelScoreMissingArtifact(t *testing.T) {
	model := NewModel(t.TempDir())
	if _, err := model.Score("absent", map[string]float64{}); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestAttributeDirectionAndOrder(t *testing.T) {
	dir := t.TempDir()
	writeToyArtifact(t, dir)
	model := NewModel(dir)

	factors, err := model.Attribute("toy", map[string]float64{"admissions": 2, "home": 1}, 10)
	if err != nil {
		t.Fatalf("attribute failed: %v", err)
	}
	if len(factors) != 2 {
		t.Fatalf("factors = %d, want 2", len(factors))
	}

	if factors[0].Feature != "admissions" || factors[0].Direction != "increases" {
		t.Errorf("top factor = %+v", factors[0])
	}
	if absDiff(factors[0].Impact, 2) > 1e-9 {
		t.Errorf("top impact = %v, want 2", factors[0].Impact)
	}
	if factors[1].Feature != "home" || factors[1].Direction != "decreases" {
		t.Errorf("second factor = %+v", factors[1])
	}
	if factors[0].Impact < factors[1].Impact {
		t.Error("factors not sorted by impact")
	}
}

func TestAttributeTruncatesToTopN(t *testing.T) {
	dir := t.TempDir()
	writeToyArtifact(t, dir)
	model := NewModel(dir)

	factors, err := model.Attribute("toy", map[string]float64{"admissions": 2, "home": 1}, 1)
	if err != nil {
		t.Fatalf("attribute failed: %v", err)
	}
	if len(factors) != 1 {
		t.Errorf("factors = %d, want 1", len(factors))
	}
}

func TestBootstrapCreatesLoadableArtifact(t *testing.T) {
	dir := t.TempDir()

	if err := Bootstrap(dir, "readmission"); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	path := filepath.Join(dir, "readmission_latest.json")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		t.Fatalf("artifact not valid json: %v", err)
	}
	if artifact.Model.Algorithm != "logistic_regression" {
		t.Errorf("algorithm = %s", artifact.Model.Algorithm)
	}
	if len(artifact.Model.FeatureNames) != len(features.ModelColumns) {
		t.Errorf("feature names = %d, want %d", len(artifact.Model.FeatureNames), len(features.ModelColumns))
	}
	if len(artifact.Model.Weights.Coefficients) != len(features.ModelColumns) {
		t.Errorf("coefficients = %d, want %d", len(artifact.Model.Weights.Coefficients), len(features.ModelColumns))
	}
	if len(artifact.Model.Baselines) != len(features.ModelColumns) {
		t.Errorf("baselines = %d, want %d", len(artifact.Model.Baselines), len(features.ModelColumns))
	}

	input := make(map[string]float64, len(features.ModelColumns))
	for _, column := range features.ModelColumns {
		input[column] = 0
	}
	model := NewModel(dir)
	score, err := model.Score("readmission", input)
	if err != nil {
		t.Fatalf("score against bootstrapped artifact failed: %v", err)
	}
	if score < 0 || score > 1 {
		t.Errorf("score out of range: %v", score)
	}
}

func TestBootstrapKeepsExistingArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readmission_latest.json")
	if err := os.WriteFile(path, []byte(`{"model":{}}`), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	if err := Bootstrap(dir, "readmission"); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(content) != `{"model":{}}` {
		t.Error("existing artifact should not be overwritten")
	}
}
