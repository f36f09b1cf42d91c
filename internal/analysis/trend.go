package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultMinDataPoints — меньше точек регрессия не считается.
	DefaultMinDataPoints = 3
	// DefaultConfidenceThreshold — тренды с меньшей уверенностью отбрасываются.
	DefaultConfidenceThreshold = 70.0

	stableChangePercent = 2.0
	anomalyDeviation    = 0.2
)

type TrendConfig struct {
	MinDataPoints       int
	ConfidenceThreshold float64
}

func (c TrendConfig) withDefaults() TrendConfig {
	if c.MinDataPoints < 2 {
		c.MinDataPoints = DefaultMinDataPoints
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return c
}

// TrendAnalyzer считает тренды по системным, агентским и валидационным метрикам.
// Не имеет состояния: одинаковый вход дает одинаковый выход.
type TrendAnalyzer struct {
	cfg    TrendConfig
	logger *zap.Logger
}

func NewTrendAnalyzer(cfg TrendConfig, logger *zap.Logger) *TrendAnalyzer {
	return &TrendAnalyzer{cfg: cfg.withDefaults(), logger: logger.Named("trends")}
}

// series — один временной ряд метрики.
type series struct {
	metric  string
	agentID string
	times   []time.Time
	values  []float64
}

func (s *series) add(ts time.Time, v float64) {
	// Битые значения не валят анализ, а просто выпадают из ряда
	if !finite(v) {
		return
	}
	s.times = append(s.times, ts)
	s.values = append(s.values, v)
}

// AnalyzeTrends строит тренды за окно, отсчитанное от самого свежего среза.
func (a *TrendAnalyzer) AnalyzeTrends(snapshots []domain.MetricsSnapshot, window time.Duration) []domain.PerformanceTrend {
	label := windowLabel(window)
	inWindow := filterWindow(snapshots, window)

	if len(inWindow) < a.cfg.MinDataPoints {
		a.logger.Debug("not enough data for trend analysis, returning baseline",
			zap.Int("points", len(inWindow)), zap.Int("required", a.cfg.MinDataPoints))
		return []domain.PerformanceTrend{baselineTrend(inWindow, label)}
	}

	all := make([]*series, 0, 16)
	all = append(all, systemSeries(inWindow)...)
	all = append(all, agentSeries(inWindow)...)
	all = append(all, validationSeries(inWindow)...)

	trends := make([]domain.PerformanceTrend, 0, len(all))
	for _, s := range all {
		if len(s.values) < a.cfg.MinDataPoints {
			continue
		}
		t := buildTrend(s, label)
		if t.Confidence < a.cfg.ConfidenceThreshold {
			continue
		}
		trends = append(trends, t)
	}

	a.logger.Debug("trend analysis finished",
		zap.Int("series", len(all)), zap.Int("significant", len(trends)), zap.String("window", label))
	return trends
}

func buildTrend(s *series, label string) domain.PerformanceTrend {
	fit := fitLine(s.values)
	n := len(s.values)
	change := fit.normalizedChange(n)

	direction := domain.TrendStable
	if math.Abs(change) >= stableChangePercent {
		if fit.slope > 0 {
			direction = domain.TrendUp
		} else {
			direction = domain.TrendDown
		}
	}

	points := make([]domain.TrendPoint, n)
	limit := anomalyDeviation * math.Abs(fit.mean)
	for i, v := range s.values {
		points[i] = domain.TrendPoint{
			Timestamp: s.times[i],
			Value:     v,
			Anomaly:   math.Abs(v-fit.predict(i)) > limit,
		}
	}

	return domain.PerformanceTrend{
		Metric:        s.metric,
		AgentID:       s.agentID,
		Direction:     direction,
		ChangePercent: round2(change),
		Confidence:    round2(clamp(fit.rSquared*100, 0, 100)),
		Slope:         fit.slope,
		RSquared:      fit.rSquared,
		TimeWindow:    label,
		Points:        points,
	}
}

// baselineTrend — заглушка "данных мало". Нулевая уверенность не дает потребителям
// принять ее за подтвержденную стабильность.
func baselineTrend(snaps []domain.MetricsSnapshot, label string) domain.PerformanceTrend {
	points := make([]domain.TrendPoint, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, domain.TrendPoint{Timestamp: s.Timestamp, Value: s.System.HealthScore})
	}
	return domain.PerformanceTrend{
		Metric:     domain.BaselineMetric,
		Direction:  domain.TrendStable,
		Confidence: 0,
		TimeWindow: label,
		Points:     points,
	}
}

func filterWindow(snapshots []domain.MetricsSnapshot, window time.Duration) []domain.MetricsSnapshot {
	if len(snapshots) == 0 || window <= 0 {
		return snapshots
	}
	newest := snapshots[0].Timestamp
	for _, s := range snapshots {
		if s.Timestamp.After(newest) {
			newest = s.Timestamp
		}
	}
	from := newest.Add(-window)
	out := make([]domain.MetricsSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if !s.Timestamp.Before(from) {
			out = append(out, s)
		}
	}
	return out
}

func windowLabel(window time.Duration) string {
	if window <= 0 {
		return "all"
	}
	if window%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(window/time.Hour))
	}
	return window.String()
}

func systemSeries(snaps []domain.MetricsSnapshot) []*series {
	rt := &series{metric: "system.response_time"}
	sr := &series{metric: "system.success_rate"}
	tp := &series{metric: "system.throughput"}
	hs := &series{metric: "system.health_score"}
	ce := &series{metric: "system.critical_events"}
	for _, s := range snaps {
		rt.add(s.Timestamp, s.System.AverageResponseTime)
		sr.add(s.Timestamp, s.System.SuccessRate)
		tp.add(s.Timestamp, float64(s.System.TotalRequests))
		hs.add(s.Timestamp, s.System.HealthScore)
		ce.add(s.Timestamp, float64(s.System.CriticalEvents))
	}
	return []*series{rt, sr, tp, hs, ce}
}

func agentSeries(snaps []domain.MetricsSnapshot) []*series {
	byAgent := make(map[string][]*series)
	order := make([]string, 0)
	for _, s := range snaps {
		for _, id := range s.AgentIDs() {
			m := s.Agents[id]
			set, ok := byAgent[id]
			if !ok {
				set = []*series{
					{metric: "agent.response_time", agentID: id},
					{metric: "agent.success_rate", agentID: id},
					{metric: "agent.memory_usage", agentID: id},
					{metric: "agent.cpu_usage", agentID: id},
					{metric: "agent.throughput", agentID: id},
					{metric: "agent.error_count", agentID: id},
				}
				byAgent[id] = set
				order = append(order, id)
			}
			set[0].add(s.Timestamp, m.ResponseTime)
			set[1].add(s.Timestamp, m.SuccessRate)
			set[2].add(s.Timestamp, m.MemoryUsage)
			set[3].add(s.Timestamp, m.CPUUsage)
			set[4].add(s.Timestamp, m.Throughput)
			set[5].add(s.Timestamp, float64(m.ErrorCount))
		}
	}

	sort.Strings(order)
	out := make([]*series, 0, len(order)*6)
	for _, id := range order {
		out = append(out, byAgent[id]...)
	}
	return out
}

func validationSeries(snaps []domain.MetricsSnapshot) []*series {
	sr := &series{metric: "validation.success_rate"}
	vt := &series{metric: "validation.validation_time"}
	qs := &series{metric: "validation.quality_score"}
	for _, s := range snaps {
		// Срезы без валидаций не несут информации о ее качестве
		if s.Validation.TotalValidations == 0 && s.Validation.SuccessRate == 0 {
			continue
		}
		sr.add(s.Timestamp, s.Validation.SuccessRate)
		vt.add(s.Timestamp, s.Validation.AverageValidationTime)
		qs.add(s.Timestamp, s.Validation.QualityScore)
	}
	return []*series{sr, vt, qs}
}
