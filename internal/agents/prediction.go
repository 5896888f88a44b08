package agents

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

const (
	seriesHistoryCap = 10000
	// minTrainPoints is what the lag features need before a series model
	// can be fit.
	minTrainPoints = 48
	forecastSteps  = 24
	retrainSeries  = 100
	anomalyWindow  = 24
	anomalyMedium  = 2.0
	anomalyHigh    = 3.0
	anomalyCap     = 500
)

// Forecast is a 24-step hourly projection for one metric series
type Forecast struct {
	Series      string        `json:"series"`
	Metric      string        `json:"metric"`
	Predictions []float64     `json:"predictions"`
	Timestamps  []time.Time   `json:"timestamps"`
	Intervals   [][2]float64  `json:"confidence_intervals"`
	Accuracy    float64       `json:"accuracy_score"`
	GeneratedAt time.Time     `json:"generated_at"`
	Horizon     time.Duration `json:"-"`
}

// Anomaly flags a metric value far outside its recent distribution
type Anomaly struct {
	Series        string    `json:"series"`
	Metric        string    `json:"metric"`
	CurrentValue  float64   `json:"current_value"`
	ExpectedValue float64   `json:"expected_value"`
	Score         float64   `json:"anomaly_score"`
	Severity      string    `json:"severity"`
	Description   string    `json:"description"`
	DetectedAt    time.Time `json:"detected_at"`
}

type seriesPoint struct {
	at    time.Time
	value float64
}

type seriesState struct {
	points     []seriesPoint
	model      *linearRegressor
	sinceTrain int
}

// PredictionAgent forecasts usage and flags anomalies. It maintains one
// regression model per metric series, fed by samples taken each cycle
// from the scaler's load history and the per-tenant cache metrics.
type PredictionAgent struct {
	scale   ScaleControl
	metrics MetricsReader
	clock   platform.Clock
	logger  observability.Logger

	mu           sync.Mutex
	series       map[string]*seriesState
	forecasts    map[string]Forecast
	anomalies    []Anomaly
	lastActivity time.Time
}

// NewPredictionAgent creates a prediction agent
func NewPredictionAgent(scale ScaleControl, metrics MetricsReader, clock platform.Clock, logger observability.Logger) *PredictionAgent {
	return &PredictionAgent{
		scale:     scale,
		metrics:   metrics,
		clock:     clock,
		logger:    logger.WithPrefix("prediction-agent"),
		series:    make(map[string]*seriesState),
		forecasts: make(map[string]Forecast),
	}
}

func (a *PredictionAgent) Name() string            { return "prediction" }
func (a *PredictionAgent) Interval() time.Duration { return PredictionInterval }

// Run executes one prediction cycle: sample, detect anomalies, retrain
// stale models, and regenerate forecasts.
func (a *PredictionAgent) Run(ctx context.Context) error {
	now := a.clock.Now()
	a.collect(now)

	newAnomalies := a.detectAnomalies(now)

	a.mu.Lock()
	a.anomalies = append(a.anomalies, newAnomalies...)
	if len(a.anomalies) > anomalyCap {
		a.anomalies = a.anomalies[len(a.anomalies)-anomalyCap:]
	}
	keys := make([]string, 0, len(a.series))
	for key := range a.series {
		keys = append(keys, key)
	}
	a.mu.Unlock()

	for _, key := range keys {
		a.refreshSeries(key, now)
	}

	a.mu.Lock()
	a.lastActivity = now
	forecastCount := len(a.forecasts)
	a.mu.Unlock()

	a.logger.Debug("prediction cycle complete", map[string]interface{}{
		"series":    len(keys),
		"forecasts": forecastCount,
		"anomalies": len(newAnomalies),
	})
	return nil
}

// collect samples every tracked metric into its series
func (a *PredictionAgent) collect(now time.Time) {
	if records := a.scale.PerformanceHistory(time.Hour); len(records) > 0 {
		latest := records[len(records)-1]
		a.appendPoint("system/cpu_usage", now, latest.Load.CPUPercent)
		a.appendPoint("system/memory_usage", now, latest.Load.MemoryPercent)
		a.appendPoint("system/request_rate", now, latest.Load.RequestRate)
	}

	for tenantID, metrics := range a.metrics.AllMetrics() {
		prefix := "tenant:" + tenantID + "/"
		a.appendPoint(prefix+"hit_ratio", now, metrics.HitRatio)
		a.appendPoint(prefix+"total_requests", now, float64(metrics.TotalRequests))
		a.appendPoint(prefix+"avg_response_time", now, metrics.AvgResponseTimeMs)
	}
}

func (a *PredictionAgent) appendPoint(key string, at time.Time, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.series[key]
	if !ok {
		state = &seriesState{model: &linearRegressor{}}
		a.series[key] = state
	}
	state.points = append(state.points, seriesPoint{at: at, value: value})
	if len(state.points) > seriesHistoryCap {
		state.points = state.points[len(state.points)-seriesHistoryCap:]
	}
	state.sinceTrain++
}

// refreshSeries retrains the series model when enough new samples have
// accumulated and regenerates its forecast.
func (a *PredictionAgent) refreshSeries(key string, now time.Time) {
	a.mu.Lock()
	state, ok := a.series[key]
	if !ok || len(state.points) < minTrainPoints {
		a.mu.Unlock()
		return
	}
	points := make([]seriesPoint, len(state.points))
	copy(points, state.points)
	needTrain := !state.model.Trained() || state.sinceTrain >= retrainSeries
	model := state.model
	a.mu.Unlock()

	if needTrain {
		features, targets := seriesTrainingSet(points)
		if len(features) == 0 {
			return
		}
		fresh := &linearRegressor{}
		if err := fresh.Fit(features, targets); err != nil {
			a.logger.Warn("series model training failed", map[string]interface{}{
				"series": key,
				"error":  err.Error(),
			})
			return
		}
		a.mu.Lock()
		state.model = fresh
		state.sinceTrain = 0
		a.mu.Unlock()
		model = fresh
	}

	if !model.Trained() {
		return
	}

	forecast := a.forecastSeries(key, points, model, now)
	a.mu.Lock()
	a.forecasts[key] = forecast
	a.mu.Unlock()
}

// seriesTrainingSet builds lagged feature rows: calendar position, the
// values 1, 6, and 24 samples back, and a 6-sample rolling mean and
// deviation.
func seriesTrainingSet(points []seriesPoint) ([][]float64, []float64) {
	var features [][]float64
	var targets []float64
	for i := anomalyWindow; i < len(points); i++ {
		features = append(features, seriesFeatures(points, i))
		targets = append(targets, points[i].value)
	}
	return features, targets
}

func seriesFeatures(points []seriesPoint, i int) []float64 {
	at := points[i].at
	weekend := 0.0
	if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = 1.0
	}

	var rollingMean, rollingStd float64
	if i >= 6 {
		for j := i - 6; j < i; j++ {
			rollingMean += points[j].value
		}
		rollingMean /= 6
		for j := i - 6; j < i; j++ {
			d := points[j].value - rollingMean
			rollingStd += d * d
		}
		rollingStd = math.Sqrt(rollingStd / 6)
	}

	return []float64{
		float64(at.Hour()),
		float64(at.Weekday()),
		weekend,
		points[i-1].value,
		points[i-6].value,
		points[i-24].value,
		rollingMean,
		rollingStd,
	}
}

// forecastSeries rolls the model forward one hour at a time, feeding each
// prediction back as the next step's most recent lag.
func (a *PredictionAgent) forecastSeries(key string, points []seriesPoint, model *linearRegressor, now time.Time) Forecast {
	working := make([]seriesPoint, len(points))
	copy(working, points)

	predictions := make([]float64, 0, forecastSteps)
	timestamps := make([]time.Time, 0, forecastSteps)
	intervals := make([][2]float64, 0, forecastSteps)
	margin := 2 * model.RMSE()

	for step := 1; step <= forecastSteps; step++ {
		at := now.Add(time.Duration(step) * time.Hour)
		working = append(working, seriesPoint{at: at})
		idx := len(working) - 1

		value, err := model.Predict(seriesFeatures(working, idx))
		if err != nil {
			break
		}
		if value < 0 {
			value = 0
		}
		working[idx].value = value

		predictions = append(predictions, value)
		timestamps = append(timestamps, at)
		lower := value - margin
		if lower < 0 {
			lower = 0
		}
		intervals = append(intervals, [2]float64{lower, value + margin})
	}

	series, metric := splitSeriesKey(key)
	return Forecast{
		Series:      series,
		Metric:      metric,
		Predictions: predictions,
		Timestamps:  timestamps,
		Intervals:   intervals,
		Accuracy:    1 / (1 + model.MAE()),
		GeneratedAt: now,
		Horizon:     forecastSteps * time.Hour,
	}
}

// detectAnomalies compares each series' newest value against the
// distribution of the window before it.
func (a *PredictionAgent) detectAnomalies(now time.Time) []Anomaly {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Anomaly
	for key, state := range a.series {
		n := len(state.points)
		if n < anomalyWindow+1 {
			continue
		}

		window := state.points[n-anomalyWindow-1 : n-1]
		current := state.points[n-1].value

		var mean float64
		for _, p := range window {
			mean += p.value
		}
		mean /= float64(len(window))
		var variance float64
		for _, p := range window {
			d := p.value - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(len(window)))
		if std == 0 {
			continue
		}

		score := math.Abs(current-mean) / std
		if score < anomalyMedium {
			continue
		}
		severity := "medium"
		if score >= anomalyHigh {
			severity = "high"
		}

		series, metric := splitSeriesKey(key)
		out = append(out, Anomaly{
			Series:        series,
			Metric:        metric,
			CurrentValue:  current,
			ExpectedValue: mean,
			Score:         score,
			Severity:      severity,
			Description:   fmt.Sprintf("%s is %.1f, expected around %.1f", metric, current, mean),
			DetectedAt:    now,
		})
	}
	return out
}

func splitSeriesKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// Forecasts returns the latest forecast per series
func (a *PredictionAgent) Forecasts() map[string]Forecast {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Forecast, len(a.forecasts))
	for k, v := range a.forecasts {
		out[k] = v
	}
	return out
}

// Anomalies returns detected anomalies newer than the window
func (a *PredictionAgent) Anomalies(window time.Duration) []Anomaly {
	cutoff := a.clock.Now().Add(-window)
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Anomaly
	for _, anomaly := range a.anomalies {
		if anomaly.DetectedAt.After(cutoff) {
			out = append(out, anomaly)
		}
	}
	return out
}

// Info implements Agent
func (a *PredictionAgent) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	trained := 0
	for _, state := range a.series {
		if state.model.Trained() {
			trained++
		}
	}
	return Info{
		Name:         a.Name(),
		LastActivity: a.lastActivity,
		Metrics: map[string]interface{}{
			"series_tracked": len(a.series),
			"models_trained": trained,
			"forecasts":      len(a.forecasts),
			"anomalies":      len(a.anomalies),
		},
	}
}
