package telemetry

// Error message templates with troubleshooting steps. They are formatted with
// fmt and logged; they are not returned to SDK callers.
const (
	// ErrTelemetryInitTemplate is logged when the OTLP exporter cannot start.
	ErrTelemetryInitTemplate = `Failed to initialize OpenTelemetry: %v. Continuing without tracing.

Troubleshooting steps:
1. Check that the collector is listening on the configured opentelemetry.endpoint
2. Set opentelemetry.insecure: true when the collector has no TLS
3. Set opentelemetry.enabled: false to silence this warning`

	// ErrCommcellUnreachableTemplate is logged when the inventory scrape cannot reach the web service.
	ErrCommcellUnreachableTemplate = `Commcell web service is not reachable at %s: %v

Troubleshooting steps:
1. Verify commcell.webServiceURL ends with /webconsole/api/ (or /commandcenter/api/)
2. Check the Authtoken has not expired
3. Set commcell.insecureSkipVerify: true only for self-signed lab certificates`
)
