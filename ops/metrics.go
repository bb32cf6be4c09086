package ops

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// Metrics services.
const (
	ServiceHealthCheck      = "Health Check"
	ServiceActivity         = "Activity"
	ServiceAudit            = "Audit"
	ServicePostUpgradeCheck = "Post Upgrade Check"
	ServiceChargeBack       = "Charge Back"
	ServiceUpgradeReadiness = "Upgrade Readiness"
	ServiceProactiveSupport = "Proactive Support"
	ServiceCloudAssist      = "Cloud Assist"
)

// Default wait budgets of WaitForUploadNowCompletion.
const (
	DefaultDownloadTimeout   = 300 * time.Second
	DefaultCollectionTimeout = 400 * time.Second
	DefaultUploadTimeout     = 120 * time.Second
	DefaultPollInterval      = 30 * time.Second
)

// ClientGroup selects a client group for metrics collection.
type ClientGroup struct {
	ID   int
	Name string
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithPollInterval sets the wait between refreshes of the WaitFor loops.
func WithPollInterval(d time.Duration) MetricsOption {
	return func(m *Metrics) {
		if d > 0 {
			m.interval = d
		}
	}
}

// Metrics edits the metrics reporting configuration of the CommServe. The
// configuration document is edited locally by the setters and written back by
// Save or UploadNow.
type Metrics struct {
	cc       *commcell.Commcell
	private  bool
	interval time.Duration

	mu sync.Mutex
	// doc is the whole document as the server sent it. Save posts it back,
	// so fields this package does not model are kept.
	doc map[string]any
}

func newMetrics(cc *commcell.Commcell, private bool, opts []MetricsOption) *Metrics {
	m := &Metrics{cc: cc, private: private, interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsPrivate reports whether m targets a private metrics server.
func (m *Metrics) IsPrivate() bool { return m.private }

// Refresh reloads the configuration document.
func (m *Metrics) Refresh(ctx context.Context) error {
	flag := "False"
	if m.private {
		flag = "True"
	}
	var doc map[string]any
	if err := m.cc.GetJSON(ctx, commcell.GetMetrics.URL(flag), &doc); err != nil {
		return err
	}
	cfg, ok := doc["config"].(map[string]any)
	if !ok {
		return sdkerrors.EmptyResponse()
	}
	if _, ok := cfg["cloud"].(map[string]any); !ok {
		return sdkerrors.EmptyResponse()
	}
	doc["isPrivateCloud"] = m.private

	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc
	return nil
}

func (m *Metrics) ensureLoaded(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.doc != nil
	m.mu.Unlock()
	if loaded {
		return nil
	}
	return m.Refresh(ctx)
}

// edit runs fn on the loaded configuration under the lock.
func (m *Metrics) edit(ctx context.Context, fn func(cfg map[string]any) error) error {
	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.doc["config"].(map[string]any))
}

func (m *Metrics) read(ctx context.Context, fn func(cfg map[string]any)) error {
	return m.edit(ctx, func(cfg map[string]any) error {
		fn(cfg)
		return nil
	})
}

func (m *Metrics) timestamp(ctx context.Context, key string) (int64, error) {
	var v int64
	err := m.read(ctx, func(cfg map[string]any) { v = toInt64(cfg[key]) })
	return v, err
}

func (m *Metrics) LastDownloadTime(ctx context.Context) (int64, error) {
	return m.timestamp(ctx, "scriptDownloadTime")
}

func (m *Metrics) LastCollectionTime(ctx context.Context) (int64, error) {
	return m.timestamp(ctx, "lastCollectionTime")
}

func (m *Metrics) LastUploadTime(ctx context.Context) (int64, error) {
	return m.timestamp(ctx, "lastUploadTime")
}

func (m *Metrics) NextUploadTime(ctx context.Context) (int64, error) {
	return m.timestamp(ctx, "nextUploadTime")
}

// UploadFrequency is the upload interval in days.
func (m *Metrics) UploadFrequency(ctx context.Context) (int64, error) {
	return m.timestamp(ctx, "uploadFrequency")
}

func serviceList(cfg map[string]any) []map[string]any {
	cloud, _ := cfg["cloud"].(map[string]any)
	list, _ := cloud["serviceList"].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if s, ok := item.(map[string]any); ok {
			out = append(out, s)
		}
	}
	return out
}

func serviceName(s map[string]any) string {
	svc, _ := s["service"].(map[string]any)
	name, _ := svc["name"].(string)
	return name
}

// Services returns the enabled state of every metrics service.
func (m *Metrics) Services(ctx context.Context) (map[string]bool, error) {
	services := make(map[string]bool)
	err := m.read(ctx, func(cfg map[string]any) {
		for _, s := range serviceList(cfg) {
			enabled, _ := s["enabled"].(bool)
			services[serviceName(s)] = enabled
		}
	})
	return services, err
}

func setService(cfg map[string]any, name string, enabled bool) error {
	found := false
	for _, s := range serviceList(cfg) {
		if serviceName(s) == name {
			s["enabled"] = enabled
			found = true
		}
	}
	if !found {
		return sdkerrors.Precondition(sdkerrors.ModuleMetrics, "101", fmt.Sprintf("Unknown metrics service: %s", name))
	}
	return nil
}

// SetService enables or disables one service.
func (m *Metrics) SetService(ctx context.Context, name string, enabled bool) error {
	return m.edit(ctx, func(cfg map[string]any) error {
		return setService(cfg, name, enabled)
	})
}

func (m *Metrics) setAll(ctx context.Context, enabled bool) error {
	return m.edit(ctx, func(cfg map[string]any) error {
		for _, s := range serviceList(cfg) {
			if serviceName(s) != ServicePostUpgradeCheck {
				s["enabled"] = enabled
			}
		}
		return nil
	})
}

// EnableAll enables every service except Post Upgrade Check.
func (m *Metrics) EnableAll(ctx context.Context) error { return m.setAll(ctx, true) }

// DisableAll disables every service except Post Upgrade Check.
func (m *Metrics) DisableAll(ctx context.Context) error { return m.setAll(ctx, false) }

// SetUploadFrequency sets the upload interval in days.
func (m *Metrics) SetUploadFrequency(ctx context.Context, days int) error {
	if days < 1 {
		return sdkerrors.Precondition(sdkerrors.ModuleMetrics, "101", "Invalid Upload Frequency supplied")
	}
	return m.edit(ctx, func(cfg map[string]any) error {
		cfg["uploadFrequency"] = days
		return nil
	})
}

// SetDataCollectionWindow starts collection the given number of seconds
// after midnight.
func (m *Metrics) SetDataCollectionWindow(ctx context.Context, seconds int) error {
	if seconds < 300 {
		return sdkerrors.Precondition(sdkerrors.ModuleMetrics, "101", "Data collection window should be above 12.05 AM")
	}
	return m.edit(ctx, func(cfg map[string]any) error {
		cfg["dataCollectionTime"] = seconds
		return nil
	})
}

func (m *Metrics) RemoveDataCollectionWindow(ctx context.Context) error {
	return m.edit(ctx, func(cfg map[string]any) error {
		cfg["dataCollectionTime"] = -1
		return nil
	})
}

const clientGroupEntityType = 28

// SetClientGroups limits collection to groups. No groups selects all client
// groups.
func (m *Metrics) SetClientGroups(ctx context.Context, groups ...ClientGroup) error {
	list := make([]any, 0, len(groups))
	for _, g := range groups {
		list = append(list, map[string]any{"_type_": clientGroupEntityType, "clientGroupId": g.ID, "clientGroupName": g.Name})
	}
	if len(groups) == 0 {
		list = append(list, map[string]any{"_type_": clientGroupEntityType, "clientGroupId": -1})
	}
	return m.edit(ctx, func(cfg map[string]any) error {
		cfg["clientGroupList"] = list
		return nil
	})
}

func (m *Metrics) setDiagUsage(ctx context.Context, enabled bool) error {
	return m.edit(ctx, func(cfg map[string]any) error {
		cfg["commcellDiagUsage"] = enabled
		return nil
	})
}

func (m *Metrics) EnableMetrics(ctx context.Context) error  { return m.setDiagUsage(ctx, true) }
func (m *Metrics) DisableMetrics(ctx context.Context) error { return m.setDiagUsage(ctx, false) }

// Save writes the configuration document back.
func (m *Metrics) Save(ctx context.Context) error {
	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.post(ctx)
}

// post must be called with m.mu held.
func (m *Metrics) post(ctx context.Context) error {
	_, err := m.cc.Request(ctx, http.MethodPost, commcell.Metrics.URL(), m.doc)
	return errors.Trace(err)
}

// UploadNow saves the configuration with an immediate upload request.
func (m *Metrics) UploadNow(ctx context.Context) error {
	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.doc["config"].(map[string]any)
	cfg["uploadNow"] = 1
	err := m.post(ctx)
	cfg["uploadNow"] = 0
	return err
}

// waitFor refreshes until done reports true or timeout runs out.
func (m *Metrics) waitFor(ctx context.Context, stage string, timeout time.Duration, done func(cfg map[string]any) bool) error {
	if err := m.Refresh(ctx); err != nil {
		return err
	}
	clk := m.cc.Clock()
	for remaining := timeout; remaining > 0; remaining -= m.interval {
		var finished bool
		if err := m.read(ctx, func(cfg map[string]any) { finished = done(cfg) }); err != nil {
			return err
		}
		if finished {
			return nil
		}
		log.WithFields(log.Fields{"stage": stage, "remaining": remaining.String()}).Debug("waiting for metrics")
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-clk.After(m.interval):
		}
		if err := m.Refresh(ctx); err != nil {
			return err
		}
	}
	return sdkerrors.Timeout(sdkerrors.ModuleMetrics, "102",
		fmt.Sprintf("%s process didn't complete after %s", stage, timeout))
}

// WaitForDownloadCompletion waits for the collection scripts to be downloaded.
func (m *Metrics) WaitForDownloadCompletion(ctx context.Context, timeout time.Duration) error {
	return m.waitFor(ctx, "Download", timeout, func(cfg map[string]any) bool {
		return toInt64(cfg["scriptDownloadTime"]) > 0
	})
}

func (m *Metrics) WaitForCollectionCompletion(ctx context.Context, timeout time.Duration) error {
	return m.waitFor(ctx, "Collection", timeout, func(cfg map[string]any) bool {
		return toInt64(cfg["lastCollectionTime"]) > 0
	})
}

// WaitForUploadCompletion waits until the last upload is at least as recent
// as the last collection.
func (m *Metrics) WaitForUploadCompletion(ctx context.Context, timeout time.Duration) error {
	return m.waitFor(ctx, "Upload", timeout, func(cfg map[string]any) bool {
		upload := toInt64(cfg["lastUploadTime"])
		return upload > 0 && upload >= toInt64(cfg["lastCollectionTime"])
	})
}

// WaitForUploadNowCompletion waits for download, collection and upload in turn.
func (m *Metrics) WaitForUploadNowCompletion(ctx context.Context, download, collection, upload time.Duration) error {
	if err := m.WaitForDownloadCompletion(ctx, download); err != nil {
		return err
	}
	if err := m.WaitForCollectionCompletion(ctx, collection); err != nil {
		return err
	}
	return m.WaitForUploadCompletion(ctx, upload)
}

// UploadedFileName returns the name of the file the last collection was
// uploaded as. commcellID -1 stands for an unregistered CommCell; an empty
// queryID names the full collection file.
func (m *Metrics) UploadedFileName(ctx context.Context, commcellID int, queryID string) (string, error) {
	collected, err := m.LastCollectionTime(ctx)
	if err != nil {
		return "", err
	}
	if collected == 0 {
		return "", sdkerrors.Precondition(sdkerrors.ModuleMetrics, "103", "last collection time is 0, Upload didn't complete or failed")
	}
	id := "FFFFF"
	if commcellID != -1 {
		id = strings.ToUpper(strconv.FormatInt(int64(commcellID), 16))
	}
	name := fmt.Sprintf("CSS%d_%s", collected, id)
	if queryID != "" {
		name += "_" + queryID
	}
	return name + ".xml", nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

// PrivateMetrics is the configuration of a private metrics server.
type PrivateMetrics struct {
	*Metrics
}

func NewPrivateMetrics(cc *commcell.Commcell, opts ...MetricsOption) *PrivateMetrics {
	return &PrivateMetrics{newMetrics(cc, true, opts)}
}

func (p *PrivateMetrics) cloudString(ctx context.Context, key string) (string, error) {
	var s string
	err := p.read(ctx, func(cfg map[string]any) {
		cloud, _ := cfg["cloud"].(map[string]any)
		s, _ = cloud[key].(string)
	})
	return s, err
}

func (p *PrivateMetrics) DownloadURL(ctx context.Context) (string, error) {
	return p.cloudString(ctx, "downloadURL")
}

func (p *PrivateMetrics) UploadURL(ctx context.Context) (string, error) {
	return p.cloudString(ctx, "uploadURL")
}

// ServerName is the host name of the upload URL.
func (p *PrivateMetrics) ServerName(ctx context.Context) (string, error) {
	upload, err := p.UploadURL(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(upload)
	if err != nil {
		return "", errors.Annotatef(err, "parsing upload url %q", upload)
	}
	return u.Hostname(), nil
}

// UpdateURL points the download and upload URLs at host.
func (p *PrivateMetrics) UpdateURL(ctx context.Context, host string, port int, protocol string) error {
	if host == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleMetrics, "101", "host name cannot be empty")
	}
	if protocol == "" {
		protocol = "http"
	}
	if port == 0 {
		port = 80
	}
	return p.edit(ctx, func(cfg map[string]any) error {
		cloud := cfg["cloud"].(map[string]any)
		cloud["downloadURL"] = fmt.Sprintf("%s://%s:%d/downloads/sqlscripts/", protocol, host, port)
		cloud["uploadURL"] = fmt.Sprintf("%s://%s:%d/webconsole/", protocol, host, port)
		return nil
	})
}

// Chargeback report frequencies.
const (
	ChargebackDaily   = 4
	ChargebackWeekly  = 8
	ChargebackMonthly = 16
)

// EnableChargeback enables the Charge Back service with the given report
// frequencies.
func (p *PrivateMetrics) EnableChargeback(ctx context.Context, daily, weekly, monthly bool) error {
	flags := 0
	if daily {
		flags |= ChargebackDaily
	}
	if weekly {
		flags |= ChargebackWeekly
	}
	if monthly {
		flags |= ChargebackMonthly
	}
	return p.edit(ctx, func(cfg map[string]any) error {
		if err := setService(cfg, ServiceChargeBack, true); err != nil {
			return err
		}
		for _, s := range serviceList(cfg) {
			if serviceName(s) == ServiceChargeBack {
				s["flags"] = flags
			}
		}
		return nil
	})
}

// EnableForwarding forwards collected data to another metrics server.
func (p *PrivateMetrics) EnableForwarding(ctx context.Context, forwardingURL string) error {
	return p.edit(ctx, func(cfg map[string]any) error {
		cfg["tieringActive"] = true
		info, ok := cfg["HttpServerInfo"].(map[string]any)
		if !ok {
			info = map[string]any{}
			cfg["HttpServerInfo"] = info
		}
		info["httpServer"] = []any{map[string]any{
			"httpServerURL": forwardingURL,
			"isPublic":      false,
			"urlPwd":        "",
			"urlUser":       "",
		}}
		return nil
	})
}

func (p *PrivateMetrics) DisableForwarding(ctx context.Context) error {
	return p.edit(ctx, func(cfg map[string]any) error {
		cfg["tieringActive"] = false
		return nil
	})
}

// CloudMetrics is the configuration of the Commvault cloud metrics upload.
type CloudMetrics struct {
	*Metrics
}

func NewCloudMetrics(cc *commcell.Commcell, opts ...MetricsOption) *CloudMetrics {
	return &CloudMetrics{newMetrics(cc, false, opts)}
}

// RandomizationMinutes is the upload randomization window.
func (c *CloudMetrics) RandomizationMinutes(ctx context.Context) (int64, error) {
	return c.timestamp(ctx, "randomization")
}

// SetRandomizationMinutes stores the randomization window on the CommServe.
func (c *CloudMetrics) SetRandomizationMinutes(ctx context.Context, minutes int) error {
	if minutes < 0 {
		return sdkerrors.Precondition(sdkerrors.ModuleMetrics, "101", "randomization minutes cannot be negative")
	}
	op := fmt.Sprintf("qoperation execscript -sn SetKeyIntoGlobalParamTbl.sql -si CommservSurveyRandomizationEnabled -si y -si %d", minutes)
	_, err := c.cc.Request(ctx, http.MethodPost, commcell.QCommand.URL(), op)
	return errors.Trace(err)
}

// EnableCloudAssist enables Cloud Assist together with Proactive Support,
// which it depends on.
func (c *CloudMetrics) EnableCloudAssist(ctx context.Context) error {
	return c.edit(ctx, func(cfg map[string]any) error {
		if err := setService(cfg, ServiceProactiveSupport, true); err != nil {
			return err
		}
		return setService(cfg, ServiceCloudAssist, true)
	})
}
