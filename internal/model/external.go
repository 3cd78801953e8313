package model

// HealthLevel is the coarse verdict of the health insight generator.
type HealthLevel string

const (
	HealthNominal  HealthLevel = "Nominal"
	HealthWarning  HealthLevel = "Warning"
	HealthCritical HealthLevel = "Critical"
	HealthUnknown  HealthLevel = "Unknown"
)

// HealthMetrics are the numbers the insight generator derives from deploy logs.
type HealthMetrics struct {
	SuccessRate   float64 `json:"successRate"`   // percentage
	AvgDeployTime float64 `json:"avgDeployTime"` // seconds
}

// SystemHealthInsight is produced by the external health/insight generator.
type SystemHealthInsight struct {
	Level   HealthLevel   `json:"level"`
	Message string        `json:"message"`
	Metrics HealthMetrics `json:"metrics"`
}

// VpsSystemInfo is the host status reported by the deploy target.
type VpsSystemInfo struct {
	Platform string    `json:"platform"`
	Memory   string    `json:"memory"`
	Uptime   string    `json:"uptime"`
	LoadAvg  []float64 `json:"loadAvg"`
}

// VpsLogEntry is one decrypted line from the deploy log stream.
type VpsLogEntry struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Level     string         `json:"level,omitempty"`
	Timestamp *int64         `json:"timestamp,omitempty"` // unix millis
	Meta      map[string]any `json:"meta,omitempty"`
}

// TrendPoint is a labelled accuracy bucket. Accuracy is nil for empty buckets.
type TrendPoint struct {
	Label    string   `json:"label"`
	Accuracy *float64 `json:"accuracy"`
}

// FeedbackSummary is the historical performance of past decisions for a project.
type FeedbackSummary struct {
	AccuracyRate      float64      `json:"accuracyRate"` // percentage 0-100
	Total             int          `json:"total"`
	SuccessCount      int          `json:"successCount"`
	AverageConfidence *float64     `json:"averageConfidence"`
	Trend             []TrendPoint `json:"trend"`
}
