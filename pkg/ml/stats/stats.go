package stats

import (
	"math"
	"sort"
)

// Classification summarises binary classification quality at a decision
// threshold.
type Classification struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// Classify computes decision metrics from predicted scores and 0/1 labels,
// treating scores at or above threshold as positive. Degenerate denominators
// report 0 rather than NaN.
func Classify(scores []float64, labels []float64, threshold float64) Classification {
	var tp, fp, tn, fn float64
	for i, score := range scores {
		predicted := score >= threshold
		actual := labels[i] == 1
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
	}

	total := tp + fp + tn + fn
	out := Classification{}
	if total > 0 {
		out.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		out.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		out.Recall = tp / (tp + fn)
	}
	if out.Precision+out.Recall > 0 {
		out.F1 = 2 * out.Precision * out.Recall / (out.Precision + out.Recall)
	}
	return out
}

// AUC is the rank-based area under the ROC curve: the probability a random
// positive scores above a random negative, with ties counting half. Returns
// 0.5 when either class is absent.
func AUC(scores []float64, labels []float64) float64 {
	var positives, negatives int
	for _, label := range labels {
		if label == 1 {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return 0.5
	}

	var rankSum float64
	for i, score := range scores {
		if labels[i] != 1 {
			continue
		}
		for j, other := range scores {
			if labels[j] == 1 {
				continue
			}
			if score > other {
				rankSum++
			} else if score == other {
				rankSum += 0.5
			}
		}
	}
	return rankSum / float64(positives*negatives)
}

// Brier is the mean squared error between predicted probabilities and
// outcomes; lower is better.
func Brier(scores []float64, labels []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for i, score := range scores {
		diff := score - labels[i]
		sum += diff * diff
	}
	return sum / float64(len(scores))
}

// KolmogorovSmirnov runs the two-sample KS test and returns the statistic D
// and the asymptotic p-value. Either sample being empty yields D=0, p=1.
func KolmogorovSmirnov(a, b []float64) (float64, float64) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 1
	}

	sortedA := append([]float64(nil), a...)
	sortedB := append([]float64(nil), b...)
	sort.Float64s(sortedA)
	sort.Float64s(sortedB)

	var d float64
	i, j := 0, 0
	nA, nB := float64(len(sortedA)), float64(len(sortedB))
	for i < len(sortedA) && j < len(sortedB) {
		if sortedA[i] <= sortedB[j] {
			i++
		} else {
			j++
		}
		diff := math.Abs(float64(i)/nA - float64(j)/nB)
		if diff > d {
			d = diff
		}
	}

	en := math.Sqrt(nA * nB / (nA + nB))
	p := ksProbability((en + 0.12 + 0.11/en) * d)
	return d, p
}

// ksProbability is the asymptotic KS survival function
// Q(lambda) = 2 * sum_{k>=1} (-1)^{k-1} exp(-2 k^2 lambda^2).
func ksProbability(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	var sum float64
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Mean returns 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
