// Package telemetry provides OpenTelemetry integration for cvsdk.
//
// Manager owns the TracerProvider lifecycle. The transport creates one client
// span per Commcell request and the inventory collector one span per scrape;
// both take the provider by injection and fall back to noop when it is nil.
//
//	manager := telemetry.NewManager(telemetry.Config{
//	    Enabled:      true,
//	    Endpoint:     "localhost:4317",
//	    Insecure:     true,
//	    SamplingRate: 1.0,
//	    ServiceName:  "cvsdk",
//	    CommcellHost: "cs.example.com",
//	})
//	if err := manager.Initialize(ctx); err != nil {
//	    log.Fatalf("Failed to initialize telemetry: %v", err)
//	}
//	defer manager.Shutdown(ctx)
//
// Sampling is AlwaysSample at a rate of 1.0 and TraceIDRatioBased below it.
package telemetry
