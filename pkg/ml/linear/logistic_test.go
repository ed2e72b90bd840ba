package linear

import "testing"

func separableData() ([][]float64, []float64) {
	samples := [][]float64{
		{-2.0}, {-1.5}, {-1.2}, {-0.8}, {-0.5},
		{0.5}, {0.8}, {1.2}, {1.5}, {2.0},
	}
	labels := []float64{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}
	return samples, labels
}

func TestTrainLogisticSeparates(t *testing.T) {
	samples, labels := separableData()

	weights, metrics := TrainLogistic(samples, labels, Options{Epochs: 500, LearningRate: 0.5})

	if metrics.Accuracy != 1 {
		t.Errorf("accuracy = %v, want 1", metrics.Accuracy)
	}
	if Predict(weights, []float64{-1}) >= 0.5 {
		t.Error("negative sample should score below 0.5")
	}
	if Predict(weights, []float64{1}) < 0.5 {
		t.Error("positive sample should score at least 0.5")
	}
}

func TestTrainLogisticSeededShuffleDeterministic(t *testing.T) {
	samples, labels := separableData()
	opts := Options{Epochs: 200, LearningRate: 0.1, ShuffleSeed: 42}

	first, _ := TrainLogistic(samples, labels, opts)
	second, _ := TrainLogistic(samples, labels, opts)

	if first.Bias != second.Bias {
		t.Errorf("bias differs across runs: %v vs %v", first.Bias, second.Bias)
	}
	for i := range first.Coefficients {
		if first.Coefficients[i] != second.Coefficients[i] {
			t.Errorf("coefficient %d differs: %v vs %v", i, first.Coefficients[i], second.Coefficients[i])
		}
	}
}

func TestTrainLogisticEmptyInput(t *testing.T) {
	weights, metrics := TrainLogistic(nil, nil, Options{})
	if weights.Bias != 0 || len(weights.Coefficients) != 0 {
		t.Errorf("weights = %+v, want zero", weights)
	}
	if metrics.Loss != 0 || metrics.Accuracy != 0 {
		t.Errorf("metrics = %+v, want zero", metrics)
	}
}
