package model

// InsightType classifies how a signal should be presented.
type InsightType string

const (
	InsightCritical    InsightType = "critical"
	InsightWarning     InsightType = "warning"
	InsightOpportunity InsightType = "opportunity"
	InsightPositive    InsightType = "positive"
	InsightInfo        InsightType = "info"
)

// InsightCategory groups signals by the analytics dimension they describe.
type InsightCategory string

const (
	CategoryTraffic     InsightCategory = "traffic"
	CategoryGeography   InsightCategory = "geography"
	CategoryPerformance InsightCategory = "performance"
	CategoryTemporal    InsightCategory = "temporal"
	CategoryDevice      InsightCategory = "device"
	CategorySource      InsightCategory = "source"
)

// InsightSignal is one rule outcome. Key is stable per rule.
type InsightSignal struct {
	Key         string          `json:"key"`
	Type        InsightType     `json:"type"`
	Category    InsightCategory `json:"category"`
	Priority    int             `json:"priority"` // 0-100, higher first
	MetricValue float64         `json:"metric_value"`
	MetricDelta *float64        `json:"metric_delta,omitempty"` // percent change
	RelatedIDs  []string        `json:"related_ids,omitempty"`
	ChartData   []float64       `json:"chart_data,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}
