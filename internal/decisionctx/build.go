// Package decisionctx assembles the DecisionContext the policy tree is
// evaluated against, from a health insight, host metrics, recent log lines
// and the project's historical feedback summary.
package decisionctx

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sat18-labs/sat18/internal/model"
)

// HealthCheckFailedMarker is matched case-insensitively against log text.
const HealthCheckFailedMarker = "health check failed"

// loadAvgScale converts a one-minute load average into a CPU percentage proxy.
const loadAvgScale = 10

// Input is the raw material for one context.
type Input struct {
	Project string
	Insight *model.SystemHealthInsight
	System  *model.VpsSystemInfo
	Logs    []model.VpsLogEntry
	// Summary is nil when no history exists or it could not be fetched.
	Summary *model.FeedbackSummary
	Now     time.Time
}

// Build derives a DecisionContext from in. It is pure and never fails.
//
// The outcome is FAIL when the insight reports a success rate below 100 and
// SUCCESS otherwise; without an insight no outcome is set. With no summary the
// weekly accuracy defaults to 1.0.
func Build(in Input) model.DecisionContext {
	m := &model.Metrics{
		CPU:                model.Float(cpuFromLoad(in.System)),
		Memory:             model.Float(memoryPercent(in.System)),
		HealthChecksFailed: model.Int(countHealthCheckFailures(in.Logs)),
	}

	ctx := model.DecisionContext{
		Project: in.Project,
		Metrics: m,
	}
	if !in.Now.IsZero() {
		ctx.Timestamp = in.Now.UTC().Format(time.RFC3339)
	}
	if in.Insight != nil {
		m.SuccessRate = model.Float(in.Insight.Metrics.SuccessRate)
		m.AvgDeployTime = model.Float(in.Insight.Metrics.AvgDeployTime)
		if in.Insight.Metrics.SuccessRate < 100 {
			ctx.Outcome = model.OutcomeFail
		} else {
			ctx.Outcome = model.OutcomeSuccess
		}
	}

	trend := &model.Trend{Accuracy7d: model.Float(1.0)}
	if hasHistory(in.Summary) {
		trend.Accuracy7d = model.Float(in.Summary.AccuracyRate / 100)
		for _, p := range in.Summary.Trend {
			if p.Accuracy == nil {
				continue
			}
			trend.DailyAccuracy = append(trend.DailyAccuracy, model.DailyAccuracy{
				Date:     p.Label,
				Accuracy: *p.Accuracy / 100,
			})
		}
	}
	ctx.RecentTrend = trend
	return ctx
}

// hasHistory reports whether s carries any feedback. The feedback API
// answers an unknown project with an all-zero summary.
func hasHistory(s *model.FeedbackSummary) bool {
	return s != nil && (s.Total > 0 || s.AccuracyRate > 0)
}

// cpuFromLoad scales the one-minute load average (rounded to two decimals)
// by ten and clamps to [0, 100].
func cpuFromLoad(sys *model.VpsSystemInfo) float64 {
	if sys == nil || len(sys.LoadAvg) == 0 {
		return 0
	}
	load := sys.LoadAvg[0]
	if math.IsNaN(load) || math.IsInf(load, 0) {
		return 0
	}
	cpu := math.Round(load*100) / 100 * loadAvgScale
	return math.Max(0, math.Min(cpu, 100))
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// memoryPercent reads the leading number of the reported memory string,
// e.g. "62.5%" or "62.5 (used)". Unparseable values read as 0.
func memoryPercent(sys *model.VpsSystemInfo) float64 {
	if sys == nil {
		return 0
	}
	match := leadingNumber.FindString(strings.TrimSpace(sys.Memory))
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func countHealthCheckFailures(logs []model.VpsLogEntry) int {
	n := 0
	for _, l := range logs {
		if strings.Contains(strings.ToLower(l.Text), HealthCheckFailedMarker) {
			n++
		}
	}
	return n
}
