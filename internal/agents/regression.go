package agents

import (
	"math"

	"github.com/S-Corkum/caching-platform/internal/platform"
)

// ridgeLambda damps the normal equations so near-collinear features
// (hour of day against lag values, for instance) stay solvable.
const ridgeLambda = 1e-3

// linearRegressor is a least-squares linear model with feature
// standardization. It is deliberately small: agents need a trend line
// with an error estimate, not a model zoo.
type linearRegressor struct {
	weights   []float64
	intercept float64
	means     []float64
	stds      []float64
	mae       float64
	rmse      float64
	trained   bool
}

// Fit solves ridge-regularized least squares over the samples. Every row
// of features must have the same length as the first.
func (r *linearRegressor) Fit(features [][]float64, targets []float64) error {
	n := len(features)
	if n == 0 || n != len(targets) {
		return platform.New(platform.CodeInvalidArgument, "training set is empty or misaligned")
	}
	dims := len(features[0])
	if dims == 0 {
		return platform.New(platform.CodeInvalidArgument, "feature vectors are empty")
	}

	r.means = make([]float64, dims)
	r.stds = make([]float64, dims)
	for j := 0; j < dims; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += features[i][j]
		}
		mean := sum / float64(n)
		var variance float64
		for i := 0; i < n; i++ {
			d := features[i][j] - mean
			variance += d * d
		}
		r.means[j] = mean
		r.stds[j] = math.Sqrt(variance / float64(n))
		if r.stds[j] == 0 {
			r.stds[j] = 1
		}
	}

	scaled := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, dims)
		for j := 0; j < dims; j++ {
			row[j] = (features[i][j] - r.means[j]) / r.stds[j]
		}
		scaled[i] = row
	}

	// Normal equations with an intercept column: solve (X'X + lI)w = X'y.
	size := dims + 1
	xtx := make([][]float64, size)
	xty := make([]float64, size)
	for i := range xtx {
		xtx[i] = make([]float64, size)
	}
	for i := 0; i < n; i++ {
		row := append([]float64{1}, scaled[i]...)
		for a := 0; a < size; a++ {
			xty[a] += row[a] * targets[i]
			for b := 0; b < size; b++ {
				xtx[a][b] += row[a] * row[b]
			}
		}
	}
	for a := 1; a < size; a++ {
		xtx[a][a] += ridgeLambda
	}

	solution, err := solveLinearSystem(xtx, xty)
	if err != nil {
		return err
	}
	r.intercept = solution[0]
	r.weights = solution[1:]
	r.trained = true

	var absSum, sqSum float64
	for i := 0; i < n; i++ {
		diff := r.predictScaled(scaled[i]) - targets[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
	}
	r.mae = absSum / float64(n)
	r.rmse = math.Sqrt(sqSum / float64(n))
	return nil
}

// Predict evaluates the model on one raw feature vector
func (r *linearRegressor) Predict(features []float64) (float64, error) {
	if !r.trained {
		return 0, platform.New(platform.CodeUnavailable, "model is not trained")
	}
	if len(features) != len(r.weights) {
		return 0, platform.Newf(platform.CodeInvalidArgument,
			"expected %d features, got %d", len(r.weights), len(features))
	}
	scaled := make([]float64, len(features))
	for j, v := range features {
		scaled[j] = (v - r.means[j]) / r.stds[j]
	}
	return r.predictScaled(scaled), nil
}

func (r *linearRegressor) predictScaled(scaled []float64) float64 {
	out := r.intercept
	for j, w := range r.weights {
		out += w * scaled[j]
	}
	return out
}

func (r *linearRegressor) Trained() bool { return r.trained }
func (r *linearRegressor) MAE() float64  { return r.mae }
func (r *linearRegressor) RMSE() float64 { return r.rmse }

// solveLinearSystem solves Ax=b by Gaussian elimination with partial
// pivoting. A is modified in place.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, platform.New(platform.CodeInternal, "singular system in regression fit")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for col := row + 1; col < n; col++ {
			sum -= a[row][col] * x[col]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}
