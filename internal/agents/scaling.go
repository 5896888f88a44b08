package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/internal/scaler"
	"github.com/S-Corkum/caching-platform/internal/tenant"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

const (
	scalingHistoryCap = 1000
	retrainEvery      = 50
	// maeGuard is the model error, in load points, above which the agent
	// distrusts the regressor and falls back to the heuristic.
	maeGuard = 20.0
)

// scalingSample is one training example: cluster state at a point in time
// and the load that followed it.
type scalingSample struct {
	features []float64
	load     float64
}

// ScalingAgent predicts cluster load and feeds the auto-scaler's
// prediction channel. The model is a linear regressor over cluster and
// calendar features; until it is trained, or when its error degrades, a
// weighted heuristic stands in.
type ScalingAgent struct {
	scale   ScaleControl
	metrics MetricsReader
	clock   platform.Clock
	logger  observability.Logger

	mu           sync.Mutex
	model        *linearRegressor
	history      []scalingSample
	pendingFeats []float64
	sinceTrain   int
	predictions  int
	lastActivity time.Time
}

// NewScalingAgent creates a scaling agent
func NewScalingAgent(scale ScaleControl, metrics MetricsReader, clock platform.Clock, logger observability.Logger) *ScalingAgent {
	return &ScalingAgent{
		scale:   scale,
		metrics: metrics,
		clock:   clock,
		logger:  logger.WithPrefix("scaling-agent"),
		model:   &linearRegressor{},
	}
}

func (a *ScalingAgent) Name() string            { return "scaling" }
func (a *ScalingAgent) Interval() time.Duration { return ScalingInterval }

// Run executes one prediction cycle
func (a *ScalingAgent) Run(ctx context.Context) error {
	records := a.scale.PerformanceHistory(time.Hour)
	if len(records) == 0 {
		return nil
	}
	latest := records[len(records)-1]
	sys := a.metrics.SystemMetricsSnapshot()
	features := a.extractFeatures(latest, sys)

	a.mu.Lock()
	// The previous cycle's features paired with the load that actually
	// materialized become a training example.
	if a.pendingFeats != nil {
		a.history = append(a.history, scalingSample{features: a.pendingFeats, load: latest.Load.CPUPercent})
		if len(a.history) > scalingHistoryCap {
			a.history = a.history[len(a.history)-scalingHistoryCap:]
		}
		a.sinceTrain++
	}
	a.pendingFeats = features
	needTrain := a.sinceTrain >= retrainEvery && len(a.history) >= retrainEvery
	a.mu.Unlock()

	if needTrain {
		a.train()
	}

	predicted, confidence, source := a.predictLoad(features, latest)

	cfg := a.scale.Config()
	recommended := recommendedNodes(predicted, cfg.MinNodes, cfg.MaxNodes)
	current := a.scale.Status().CurrentNodes

	outlook := "none"
	if recommended > current {
		outlook = string(scaler.ScaleUp)
	} else if recommended < current {
		outlook = string(scaler.ScaleDown)
	}

	if source == "model" {
		a.scale.SetPredictions(scaler.Predictions{
			PredictedScaling: outlook,
			Confidence:       confidence,
			AvgCPU:           latest.Load.CPUPercent,
			AvgMemory:        latest.Load.MemoryPercent,
			AvgRequestRate:   latest.Load.RequestRate,
		})
	}

	a.mu.Lock()
	a.predictions++
	a.lastActivity = a.clock.Now()
	a.mu.Unlock()

	a.logger.Debug("prediction cycle complete", map[string]interface{}{
		"predicted_load":    fmt.Sprintf("%.1f", predicted),
		"confidence":        confidence,
		"recommended_nodes": recommended,
		"source":            source,
	})
	return nil
}

// extractFeatures builds the model's feature vector: cluster load, cache
// behavior, cluster size, and calendar position.
func (a *ScalingAgent) extractFeatures(rec scaler.PerformanceRecord, sys tenant.SystemMetrics) []float64 {
	now := a.clock.Now()
	return []float64{
		rec.Load.CPUPercent,
		rec.Load.MemoryPercent,
		rec.Load.RequestRate,
		sys.OverallHitRatio,
		float64(sys.ActiveTenants),
		float64(rec.Nodes),
		float64(now.Hour()),
		float64(now.Weekday()),
	}
}

func (a *ScalingAgent) train() {
	a.mu.Lock()
	features := make([][]float64, len(a.history))
	targets := make([]float64, len(a.history))
	for i, s := range a.history {
		features[i] = s.features
		targets[i] = s.load
	}
	a.mu.Unlock()

	model := &linearRegressor{}
	if err := model.Fit(features, targets); err != nil {
		a.logger.Warn("model training failed", map[string]interface{}{"error": err.Error()})
		return
	}

	a.mu.Lock()
	a.model = model
	a.sinceTrain = 0
	a.mu.Unlock()

	a.logger.Info("load model trained", map[string]interface{}{
		"samples": len(features),
		"mae":     model.MAE(),
	})
}

// predictLoad returns the predicted load on a 0-100 scale, the prediction
// confidence, and which predictor produced it.
func (a *ScalingAgent) predictLoad(features []float64, latest scaler.PerformanceRecord) (float64, float64, string) {
	a.mu.Lock()
	model := a.model
	a.mu.Unlock()

	if model.Trained() && model.MAE() < maeGuard {
		if predicted, err := model.Predict(features); err == nil {
			confidence := 1 - model.MAE()/100
			if confidence > 0.95 {
				confidence = 0.95
			}
			if confidence < 0.5 {
				confidence = 0.5
			}
			return clampLoad(predicted), confidence, "model"
		}
	}
	return a.heuristicLoad(latest), 0.6, "heuristic"
}

// heuristicLoad is the fallback predictor: a weighted blend of current
// resource usage with a business-hours uplift.
func (a *ScalingAgent) heuristicLoad(latest scaler.PerformanceRecord) float64 {
	rateScore := latest.Load.RequestRate / 10
	if rateScore > 100 {
		rateScore = 100
	}
	load := latest.Load.CPUPercent*0.4 + latest.Load.MemoryPercent*0.3 + rateScore*0.3

	hour := a.clock.Now().Hour()
	switch {
	case hour >= 9 && hour <= 17:
		load *= 1.2
	case hour >= 18 && hour <= 22:
		load *= 1.1
	}
	return clampLoad(load)
}

// recommendedNodes maps predicted load onto cluster size by linear
// interpolation between the node bounds.
func recommendedNodes(load float64, minNodes, maxNodes int) int {
	switch {
	case load < 30:
		return minNodes
	case load > 80:
		return maxNodes
	default:
		factor := (load - 30) / 50
		n := minNodes + int(float64(maxNodes-minNodes)*factor)
		if n < minNodes {
			return minNodes
		}
		if n > maxNodes {
			return maxNodes
		}
		return n
	}
}

func clampLoad(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Info implements Agent
func (a *ScalingAgent) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{
		Name:         a.Name(),
		LastActivity: a.lastActivity,
		Metrics: map[string]interface{}{
			"predictions_made": a.predictions,
			"training_samples": len(a.history),
			"model_trained":    a.model.Trained(),
			"model_mae":        a.model.MAE(),
		},
	}
}
