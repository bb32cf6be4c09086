package models

import "time"

// ImmutableConfig is a parsed, read-only snapshot of Config taken after
// validation. Commands build their collaborators from it so a concurrent reload
// cannot change a value halfway through an operation.
type ImmutableConfig struct {
	webServiceURL      string
	authToken          string
	insecureSkipVerify bool
	timeout            time.Duration
	retryCount         int
	cacheTTL           time.Duration
	requestsPerSecond  float64
	breakerFailures    uint32

	browseRetryDelay  time.Duration
	browseMaxAttempts int
	metricsPoll       time.Duration

	serverAddress    string
	metricsURI       string
	scrapingInterval time.Duration
	logName          string

	otelEnabled      bool
	otelEndpoint     string
	otelInsecure     bool
	otelSamplingRate float64
}

// NewImmutableConfig snapshots cfg. cfg must already be validated; an
// unvalidated config is validated here.
func NewImmutableConfig(cfg *Config) (ImmutableConfig, error) {
	if err := cfg.Validate(); err != nil {
		return ImmutableConfig{}, err
	}

	return ImmutableConfig{
		webServiceURL:      cfg.WebServiceURL(),
		authToken:          cfg.Commcell.AuthToken,
		insecureSkipVerify: cfg.Commcell.InsecureSkipVerify,
		timeout:            Duration(cfg.Commcell.Timeout),
		retryCount:         cfg.Commcell.RetryCount,
		cacheTTL:           Duration(cfg.Commcell.CacheTTL),
		requestsPerSecond:  cfg.Commcell.RequestsPerSecond,
		breakerFailures:    cfg.Commcell.BreakerFailures,

		browseRetryDelay:  Duration(cfg.Browse.RetryDelay),
		browseMaxAttempts: cfg.Browse.MaxAttempts,
		metricsPoll:       Duration(cfg.Metrics.PollInterval),

		serverAddress:    cfg.GetServerAddress(),
		metricsURI:       cfg.Server.URI,
		scrapingInterval: Duration(cfg.Server.ScrapingInterval),
		logName:          cfg.Server.LogName,

		otelEnabled:      cfg.OpenTelemetry.Enabled,
		otelEndpoint:     cfg.OpenTelemetry.Endpoint,
		otelInsecure:     cfg.OpenTelemetry.Insecure,
		otelSamplingRate: cfg.OpenTelemetry.SamplingRate,
	}, nil
}

// WebServiceURL returns the web-service base with one trailing slash.
func (c ImmutableConfig) WebServiceURL() string { return c.webServiceURL }

// AuthToken returns the session token. Do not log it.
func (c ImmutableConfig) AuthToken() string { return c.authToken }

func (c ImmutableConfig) InsecureSkipVerify() bool { return c.insecureSkipVerify }
func (c ImmutableConfig) Timeout() time.Duration   { return c.timeout }
func (c ImmutableConfig) RetryCount() int          { return c.retryCount }

// CacheTTL is the lifetime of collection name maps; zero means until refreshed.
func (c ImmutableConfig) CacheTTL() time.Duration { return c.cacheTTL }

func (c ImmutableConfig) RequestsPerSecond() float64 { return c.requestsPerSecond }
func (c ImmutableConfig) BreakerFailures() uint32    { return c.breakerFailures }

func (c ImmutableConfig) BrowseRetryDelay() time.Duration { return c.browseRetryDelay }
func (c ImmutableConfig) BrowseMaxAttempts() int          { return c.browseMaxAttempts }
func (c ImmutableConfig) MetricsPollInterval() time.Duration {
	return c.metricsPoll
}

func (c ImmutableConfig) ServerAddress() string           { return c.serverAddress }
func (c ImmutableConfig) MetricsURI() string              { return c.metricsURI }
func (c ImmutableConfig) ScrapingInterval() time.Duration { return c.scrapingInterval }
func (c ImmutableConfig) LogName() string                 { return c.logName }
func (c ImmutableConfig) OTelEnabled() bool               { return c.otelEnabled }
func (c ImmutableConfig) OTelEndpoint() string            { return c.otelEndpoint }
func (c ImmutableConfig) OTelInsecure() bool              { return c.otelInsecure }
func (c ImmutableConfig) OTelSamplingRate() float64       { return c.otelSamplingRate }

// MaskedAuthToken returns the token safe for logging.
func (c ImmutableConfig) MaskedAuthToken() string {
	if len(c.authToken) <= 8 {
		return "****"
	}
	return c.authToken[:4] + "****" + c.authToken[len(c.authToken)-4:]
}
