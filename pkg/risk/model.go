package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/healthflow-ai/platform/pkg/common/logger"
	"github.com/healthflow-ai/platform/pkg/common/models"
	"github.com/healthflow-ai/platform/pkg/features"
	"github.com/healthflow-ai/platform/pkg/ml/linear"
)

// Artifact is the serialized model the scorer loads. Baselines hold the
// per-feature training means used as the attribution reference point.
type Artifact struct {
	Model struct {
		Type         string   `json:"type"`
		Algorithm    string   `json:"algorithm"`
		FeatureNames []string `json:"feature_names"`
		Weights      struct {
			Bias         float64   `json:"bias"`
			Coefficients []float64 `json:"coefficients"`
		} `json:"weights"`
		Baselines []float64 `json:"baselines"`
	} `json:"model"`
}

// Model scores feature maps against the `<name>_latest.json` artifact in its
// directory, reloading whenever the file's mtime changes.
type Model struct {
	dir   string
	cache map[string]cachedArtifact
	mu    sync.RWMutex
}

type cachedArtifact struct {
	artifact Artifact
	modTime  int64
}

func NewModel(dir string) *Model {
	return &Model{
		dir:   dir,
		cache: make(map[string]cachedArtifact),
	}
}

// Score returns the predicted probability for one feature map.
func (m *Model) Score(name string, input map[string]float64) (float64, error) {
	artifact, err := m.loadArtifact(name)
	if err != nil {
		return 0, err
	}
	sample, err := artifact.sample(input)
	if err != nil {
		return 0, err
	}
	sum := artifact.Model.Weights.Bias
	for i, coeff := range artifact.Model.Weights.Coefficients {
		sum += coeff * sample[i]
	}
	return sigmoid(sum), nil
}

// Attribute computes the additive per-feature contributions
// coefficient * (value - baseline) and returns the topN by absolute impact.
func (m *Model) Attribute(name string, input map[string]float64, topN int) ([]models.RiskFactor, error) {
	artifact, err := m.loadArtifact(name)
	if err != nil {
		return nil, err
	}
	sample, err := artifact.sample(input)
	if err != nil {
		return nil, err
	}

	factors := make([]models.RiskFactor, 0, len(sample))
	for i, featureName := range artifact.Model.FeatureNames {
		baseline := 0.0
		if i < len(artifact.Model.Baselines) {
			baseline = artifact.Model.Baselines[i]
		}
		contribution := artifact.Model.Weights.Coefficients[i] * (sample[i] - baseline)
		direction := "increases"
		if contribution <= 0 {
			direction = "decreases"
		}
		factors = append(factors, models.RiskFactor{
			Feature:   featureName,
			Impact:    math.Abs(contribution),
			Value:     sample[i],
			Direction: direction,
		})
	}

	sort.SliceStable(factors, func(i, j int) bool { return factors[i].Impact > factors[j].Impact })
	if topN > 0 && len(factors) > topN {
		factors = factors[:topN]
	}
	return factors, nil
}

func (a Artifact) sample(input map[string]float64) ([]float64, error) {
	if len(a.Model.FeatureNames) == 0 {
		return nil, fmt.Errorf("artifact missing feature names")
	}
	if len(a.Model.Weights.Coefficients) != len(a.Model.FeatureNames) {
		return nil, fmt.Errorf("artifact has %d coefficients for %d features",
			len(a.Model.Weights.Coefficients), len(a.Model.FeatureNames))
	}
	sample := make([]float64, len(a.Model.FeatureNames))
	for idx, name := range a.Model.FeatureNames {
		value, ok := input[name]
		if !ok {
			return nil, fmt.Errorf("missing feature %s", name)
		}
		sample[idx] = value
	}
	return sample, nil
}

func (m *Model) loadArtifact(name string) (Artifact, error) {
	latest := filepath.Join(m.dir, fmt.Sprintf("%s_latest.json", name))
	info, err := os.Stat(latest)
	if err != nil {
		return Artifact{}, err
	}
	mod := info.ModTime().UnixNano()

	m.mu.RLock()
	cached, ok := m.cache[name]
	m.mu.RUnlock()
	if ok && cached.modTime == mod {
		return cached.artifact, nil
	}

	content, err := os.ReadFile(latest)
	if err != nil {
		return Artifact{}, err
	}
	var artifact Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		return Artifact{}, err
	}
	m.mu.Lock()
	m.cache[name] = cachedArtifact{artifact: artifact, modTime: mod}
	m.mu.Unlock()
	return artifact, nil
}

// Bootstrap writes a default artifact trained on seeded synthetic data when
// none exists yet, so a fresh deployment can score before the first real
// training run.
func Bootstrap(dir, name string) error {
	latest := filepath.Join(dir, fmt.Sprintf("%s_latest.json", name))
	if _, err := os.Stat(latest); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	columns := features.ModelColumns
	samples, labels := syntheticTrainingData(columns, 1000, 42)
	weights, metrics := linear.TrainLogistic(samples, labels, linear.Options{Epochs: 300, LearningRate: 0.05, ShuffleSeed: 42})

	var artifact Artifact
	artifact.Model.Type = "classifier"
	artifact.Model.Algorithm = "logistic_regression"
	artifact.Model.FeatureNames = columns
	artifact.Model.Weights.Bias = weights.Bias
	artifact.Model.Weights.Coefficients = weights.Coefficients
	artifact.Model.Baselines = columnMeans(samples)

	content, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(latest, content, 0o644); err != nil {
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"model":    name,
		"path":     latest,
		"loss":     metrics.Loss,
		"accuracy": metrics.Accuracy,
	}).Info("default model artifact created")

	return nil
}

// syntheticTrainingData draws standard-normal features and labels each row by
// whether a weighted combination of admission history, comorbidity burden,
// creatinine and age exceeds the sample median.
func syntheticTrainingData(columns []string, n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))

	samples := make([][]float64, n)
	scores := make([]float64, n)
	for i := range samples {
		row := make([]float64, len(columns))
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		samples[i] = row
		scores[i] = 0.3*row[3] + 0.2*row[6] + 0.15*row[14] + 0.1*row[0]/100 + rng.NormFloat64()*0.2
	}

	median := medianOf(scores)
	labels := make([]float64, n)
	for i, score := range scores {
		if score > median {
			labels[i] = 1
		}
	}
	return samples, labels
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func columnMeans(samples [][]float64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	means := make([]float64, len(samples[0]))
	for _, row := range samples {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(samples))
	}
	return means
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
