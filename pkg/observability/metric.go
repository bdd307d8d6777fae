package observability

// MetricType distinguishes the supported measurement kinds.
type MetricType string

const (
	// MetricCounter is a monotonically increasing counter.
	MetricCounter MetricType = "counter"
	// MetricHistogram records a distribution of observed values.
	MetricHistogram MetricType = "histogram"
)

// Metric describes a single measurement emitted by the sentry components.
type Metric struct {
	Name        string
	Type        MetricType
	Value       float64
	Labels      map[string]string
	Description string
	Unit        string
}

// MetricsCollector consumes measurements for aggregation or exposure.
type MetricsCollector interface {
	Collect(Metric)
}

// NoopCollector discards all measurements.
type NoopCollector struct{}

// Collect implements MetricsCollector.
func (NoopCollector) Collect(Metric) {}

var _ MetricsCollector = NoopCollector{}
