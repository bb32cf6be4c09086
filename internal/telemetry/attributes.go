package telemetry

// HTTP semantic convention attributes
const (
	AttrHTTPMethod                = "http.method"
	AttrHTTPStatusCode            = "http.status_code"
	AttrHTTPResponseContentLength = "http.response_content_length"
	AttrHTTPDurationMS            = "http.duration_ms"
)

// Commcell attributes
const (
	AttrCommcellHost       = "commcell.host"
	AttrCommcellPath       = "commcell.path"
	AttrCommcellCollection = "commcell.collection"
	AttrCommcellEntities   = "commcell.entities"
)

// Scrape cycle attributes
const (
	AttrScrapeDurationMS = "scrape.duration_ms"
	AttrScrapeStatus     = "scrape.status"
)

// Error attributes
const (
	AttrError = "error"
)
