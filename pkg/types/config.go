package types

// Thresholds are the monitor's quality bands and rule parameters.
type Thresholds struct {
	Critical       float64 `yaml:"critical" json:"critical"`
	Warning        float64 `yaml:"warning" json:"warning"`
	Target         float64 `yaml:"target" json:"target"`
	Excellent      float64 `yaml:"excellent" json:"excellent"`
	Variance       float64 `yaml:"variance" json:"variance"`
	DeclineEpsilon float64 `yaml:"declineEpsilon,omitempty" json:"decline_epsilon"`
	WindowSize     int     `yaml:"windowSize,omitempty" json:"window_size"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical:       0.85,
		Warning:        0.90,
		Target:         0.95,
		Excellent:      0.98,
		Variance:       0.05,
		DeclineEpsilon: 0.001,
		WindowSize:     10,
	}
}

// MonitorConfig controls the monitoring loop.
type MonitorConfig struct {
	Interval    string     `yaml:"interval,omitempty" json:"interval,omitempty"` // e.g. "30s"
	BufferSize  int        `yaml:"bufferSize,omitempty" json:"bufferSize,omitempty"`
	IntakeQueue int        `yaml:"intakeQueue,omitempty" json:"intakeQueue,omitempty"`
	Spectra     []string   `yaml:"spectra,omitempty" json:"spectra,omitempty"`
	Thresholds  Thresholds `yaml:"thresholds" json:"thresholds"`
}

// AlertConfig defines an alert sink configuration.
type AlertConfig struct {
	Type       SinkType `yaml:"type" json:"type"`
	URL        string   `yaml:"url,omitempty" json:"url,omitempty"`
	Path       string   `yaml:"path,omitempty" json:"path,omitempty"`
	TopicARN   string   `yaml:"topicArn,omitempty" json:"topicArn,omitempty"`
	BucketName string   `yaml:"bucketName,omitempty" json:"bucketName,omitempty"`
	Prefix     string   `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	EventBus   string   `yaml:"eventBus,omitempty" json:"eventBus,omitempty"`
	Source     string   `yaml:"source,omitempty" json:"source,omitempty"`
}

// AlertingConfig controls suppression and delivery.
type AlertingConfig struct {
	Cooldown        string        `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`               // e.g. "15m"
	DeliveryTimeout string        `yaml:"deliveryTimeout,omitempty" json:"deliveryTimeout,omitempty"` // e.g. "5s"
	HistoryLimit    int           `yaml:"historyLimit,omitempty" json:"historyLimit,omitempty"`
	Channels        []AlertConfig `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// OptimizationConfig controls when optimizations may run.
type OptimizationConfig struct {
	MaxConcurrent        int    `yaml:"maxConcurrent,omitempty" json:"maxConcurrent,omitempty"`
	Cooldown             string `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`             // per spectrum, e.g. "1h"
	ManualCooldown       string `yaml:"manualCooldown,omitempty" json:"manualCooldown,omitempty"` // e.g. "10m"
	CycleTimeout         string `yaml:"cycleTimeout,omitempty" json:"cycleTimeout,omitempty"`
	EvaluationDelay      string `yaml:"evaluationDelay,omitempty" json:"evaluationDelay,omitempty"`
	MinEvaluationSamples int    `yaml:"minEvaluationSamples,omitempty" json:"minEvaluationSamples,omitempty"`
	LocationTemplate     string `yaml:"locationTemplate,omitempty" json:"locationTemplate,omitempty"` // "{spectrum}" is replaced
	HistorySize          int    `yaml:"historySize,omitempty" json:"historySize,omitempty"`
}

// DeploymentConfig holds the governor's gates.
type DeploymentConfig struct {
	ImprovementThreshold float64 `yaml:"improvementThreshold,omitempty" json:"improvementThreshold,omitempty"`
	ConfidenceThreshold  float64 `yaml:"confidenceThreshold,omitempty" json:"confidenceThreshold,omitempty"`
	RegressionTolerance  float64 `yaml:"regressionTolerance,omitempty" json:"regressionTolerance,omitempty"`
	LockTimeout          string  `yaml:"lockTimeout,omitempty" json:"lockTimeout,omitempty"`
}

// ABTestSettings holds A/B coordinator defaults.
type ABTestSettings struct {
	Enabled              bool    `yaml:"enabled" json:"enabled"`
	SampleInterval       string  `yaml:"sampleInterval,omitempty" json:"sampleInterval,omitempty"` // e.g. "5m"
	TrafficSplit         float64 `yaml:"trafficSplit,omitempty" json:"trafficSplit,omitempty"`
	Duration             string  `yaml:"duration,omitempty" json:"duration,omitempty"`
	MinSampleSize        int     `yaml:"minSampleSize,omitempty" json:"minSampleSize,omitempty"`
	SignificanceDelta    float64 `yaml:"significanceDelta,omitempty" json:"significanceDelta,omitempty"`
	ImprovementThreshold float64 `yaml:"improvementThreshold,omitempty" json:"improvementThreshold,omitempty"`
	RoutingPrefix        string  `yaml:"routingPrefix,omitempty" json:"routingPrefix,omitempty"`
}

// LearningConfig selects the learning-pattern store.
type LearningConfig struct {
	Backend   string `yaml:"backend" json:"backend"` // memory, sqlite, dynamodb
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	TableName string `yaml:"tableName,omitempty" json:"tableName,omitempty"`
}

// HistoryConfig selects the audit log backend.
type HistoryConfig struct {
	Backend   string `yaml:"backend" json:"backend"` // memory, file, dynamodb
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	TableName string `yaml:"tableName,omitempty" json:"tableName,omitempty"`
}

// ArtifactConfig selects where deployable artifacts live.
type ArtifactConfig struct {
	Backend string `yaml:"backend" json:"backend"` // file, s3
	Dir     string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Bucket  string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix  string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// InfluxDBConfig configures the InfluxDB metric source.
type InfluxDBConfig struct {
	URL            string `yaml:"url" json:"url"`
	Org            string `yaml:"org" json:"org"`
	Bucket         string `yaml:"bucket" json:"bucket"`
	Measurement    string `yaml:"measurement,omitempty" json:"measurement,omitempty"`
	Token          string `yaml:"token,omitempty" json:"-"`
	TokenSecretARN string `yaml:"tokenSecretArn,omitempty" json:"tokenSecretArn,omitempty"`
}

// SQSConfig configures the SQS push intake.
type SQSConfig struct {
	QueueURL        string `yaml:"queueUrl" json:"queueUrl"`
	WaitTimeSeconds int32  `yaml:"waitTimeSeconds,omitempty" json:"waitTimeSeconds,omitempty"`
	MaxMessages     int32  `yaml:"maxMessages,omitempty" json:"maxMessages,omitempty"`
}

// MetricSourceConfig selects how samples reach the orchestrator.
type MetricSourceConfig struct {
	Type           string          `yaml:"type" json:"type"` // none, influxdb, sqs
	CollectTimeout string          `yaml:"collectTimeout,omitempty" json:"collectTimeout,omitempty"`
	InfluxDB       *InfluxDBConfig `yaml:"influxdb,omitempty" json:"influxdb,omitempty"`
	SQS            *SQSConfig      `yaml:"sqs,omitempty" json:"sqs,omitempty"`
}

// AWSConfig holds shared AWS client settings.
type AWSConfig struct {
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// TelemetryConfig controls tracing and metric export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	OTLPInsecure bool   `yaml:"otlpInsecure,omitempty" json:"otlpInsecure,omitempty"`
	Prometheus   bool   `yaml:"prometheus,omitempty" json:"prometheus,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string  `yaml:"addr"`
	APIKey         string  `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxRequestBody int64   `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
	ControlRate    float64 `yaml:"controlRate,omitempty" json:"controlRate,omitempty"` // requests/second on mutating endpoints
	ControlBurst   int     `yaml:"controlBurst,omitempty" json:"controlBurst,omitempty"`
}

// ProjectConfig represents the top-level qualityloop.yaml configuration.
type ProjectConfig struct {
	LogLevel     string             `yaml:"logLevel,omitempty"`
	Server       *ServerConfig      `yaml:"server,omitempty"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Alerting     AlertingConfig     `yaml:"alerting"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Deployment   DeploymentConfig   `yaml:"deployment"`
	ABTest       ABTestSettings     `yaml:"abtest"`
	Learning     LearningConfig     `yaml:"learning"`
	History      HistoryConfig      `yaml:"history"`
	Artifacts    ArtifactConfig     `yaml:"artifacts"`
	MetricSource MetricSourceConfig `yaml:"metricSource"`
	AWS          *AWSConfig         `yaml:"aws,omitempty"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}
