package ops

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/internal/testutil"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

const metricsPath = "/CommServ/MetricsReporting"

func metricsDoc(download, collection, upload int) string {
	r := strings.NewReplacer(
		"$DL", strconv.Itoa(download),
		"$COL", strconv.Itoa(collection),
		"$UP", strconv.Itoa(upload),
	)
	return r.Replace(`{"config":{"scriptDownloadTime":$DL,"lastCollectionTime":$COL,"lastUploadTime":$UP,
		"nextUploadTime":1700100000,"uploadFrequency":1,"randomization":15,"dataCollectionTime":28800,
		"commcellDiagUsage":true,"HttpServerInfo":{"httpServer":[]},
		"cloud":{"downloadURL":"http://old:80/downloads/sqlscripts/","uploadURL":"https://metrics.example.com:8443/webconsole/",
		"serviceList":[
			{"service":{"name":"Health Check"},"enabled":false},
			{"service":{"name":"Activity"},"enabled":true},
			{"service":{"name":"Audit"},"enabled":false},
			{"service":{"name":"Post Upgrade Check"},"enabled":false},
			{"service":{"name":"Charge Back"},"enabled":false,"flags":0},
			{"service":{"name":"Proactive Support"},"enabled":false},
			{"service":{"name":"Cloud Assist"},"enabled":false}]}}}`)
}

func sentConfig(t *testing.T, srv *testutil.MockServer) map[string]any {
	t.Helper()
	var sent map[string]any
	require.NoError(t, srv.LastCall(t, http.MethodPost, metricsPath).JSON(&sent))
	return sent["config"].(map[string]any)
}

func sentServices(cfg map[string]any) map[string]any {
	out := map[string]any{}
	for _, s := range cfg["cloud"].(map[string]any)["serviceList"].([]any) {
		entry := s.(map[string]any)
		out[entry["service"].(map[string]any)["name"].(string)] = entry["enabled"]
	}
	return out
}

func TestMetricsRefresh(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, metricsPath, metricsDoc(1, 2, 3)).Build()
	defer srv.Close()
	ctx := context.Background()

	private := NewPrivateMetrics(newTestCommcell(t, srv))
	require.NoError(t, private.Refresh(ctx))
	assert.Equal(t, "isPrivateCloud=True", srv.LastCall(t, http.MethodGet, metricsPath).Query)
	assert.True(t, private.IsPrivate())

	cloud := NewCloudMetrics(newTestCommcell(t, srv))
	services, err := cloud.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, "isPrivateCloud=False", srv.LastCall(t, http.MethodGet, metricsPath).Query)
	assert.Len(t, services, 7)
	assert.True(t, services[ServiceActivity])

	upload, err := cloud.LastUploadTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), upload)
	next, err := cloud.NextUploadTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1700100000), next)
	minutes, err := cloud.RandomizationMinutes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), minutes)
	assert.Equal(t, 2, srv.Count(http.MethodGet, metricsPath))
}

func TestMetricsRefreshWithoutConfig(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, metricsPath, `{"errorCode":0}`).Build()
	defer srv.Close()

	err := NewCloudMetrics(newTestCommcell(t, srv)).Refresh(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestMetricsSettersAndSave(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, metricsPath, metricsDoc(0, 0, 0)).
		WithJSON(http.MethodPost, metricsPath, testutil.TopLevelOK).
		Build()
	defer srv.Close()
	m := NewCloudMetrics(newTestCommcell(t, srv))
	ctx := context.Background()

	require.NoError(t, m.EnableAll(ctx))
	require.NoError(t, m.SetService(ctx, ServiceAudit, false))
	require.NoError(t, m.SetUploadFrequency(ctx, 7))
	require.NoError(t, m.SetDataCollectionWindow(ctx, 3600))
	require.NoError(t, m.SetClientGroups(ctx, ClientGroup{ID: 5, Name: "Servers"}))
	require.NoError(t, m.DisableMetrics(ctx))
	require.NoError(t, m.Save(ctx))

	cfg := sentConfig(t, srv)
	assert.Equal(t, map[string]any{
		ServiceHealthCheck:      true,
		ServiceActivity:         true,
		ServiceAudit:            false,
		ServicePostUpgradeCheck: false,
		ServiceChargeBack:       true,
		ServiceProactiveSupport: true,
		ServiceCloudAssist:      true,
	}, sentServices(cfg))
	assert.Equal(t, float64(7), cfg["uploadFrequency"])
	assert.Equal(t, float64(3600), cfg["dataCollectionTime"])
	assert.Equal(t, false, cfg["commcellDiagUsage"])
	assert.Equal(t, []any{map[string]any{"_type_": float64(28), "clientGroupId": float64(5), "clientGroupName": "Servers"}}, cfg["clientGroupList"])

	require.NoError(t, m.DisableAll(ctx))
	require.NoError(t, m.RemoveDataCollectionWindow(ctx))
	require.NoError(t, m.SetClientGroups(ctx))
	require.NoError(t, m.Save(ctx))
	cfg = sentConfig(t, srv)
	assert.Equal(t, false, sentServices(cfg)[ServiceHealthCheck])
	assert.Equal(t, float64(-1), cfg["dataCollectionTime"])
	assert.Equal(t, []any{map[string]any{"_type_": float64(28), "clientGroupId": float64(-1)}}, cfg["clientGroupList"])
	assert.Equal(t, 1, srv.Count(http.MethodGet, metricsPath))
}

func TestMetricsSaveKeepsUnmodelledFields(t *testing.T) {
	doc := strings.Replace(metricsDoc(0, 0, 0), `"uploadFrequency":1,`,
		`"uploadFrequency":1,"gatewayRetentionDays":30,"extraProps":{"region":"emea"},`, 1)
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, metricsPath, doc).
		WithJSON(http.MethodPost, metricsPath, testutil.TopLevelOK).
		Build()
	defer srv.Close()
	m := NewCloudMetrics(newTestCommcell(t, srv))
	ctx := context.Background()

	require.NoError(t, m.SetUploadFrequency(ctx, 3))
	require.NoError(t, m.Save(ctx))

	cfg := sentConfig(t, srv)
	assert.Equal(t, float64(3), cfg["uploadFrequency"])
	assert.Equal(t, float64(30), cfg["gatewayRetentionDays"])
	assert.Equal(t, map[string]any{"region": "emea"}, cfg["extraProps"])
	assert.Equal(t, map[string]any{"httpServer": []any{}}, cfg["HttpServerInfo"])
}

func TestMetricsSetterValidation(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, metricsPath, metricsDoc(0, 0, 0)).Build()
	defer srv.Close()
	m := NewCloudMetrics(newTestCommcell(t, srv))
	ctx := context.Background()

	err := m.SetUploadFrequency(ctx, 0)
	sdkErr := requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleMetrics, "101")
	assert.Equal(t, "Invalid input(s) specified\nInvalid Upload Frequency supplied", sdkErr.Message)

	err = m.SetDataCollectionWindow(ctx, 299)
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleMetrics, "101")

	err = m.SetService(ctx, "Telemetry", true)
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleMetrics, "101")
}

func TestMetricsUploadNow(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, metricsPath, metricsDoc(0, 0, 0)).
		WithJSON(http.MethodPost, metricsPath, testutil.TopLevelOK).
		Build()
	defer srv.Close()
	m := NewCloudMetrics(newTestCommcell(t, srv))
	ctx := context.Background()

	require.NoError(t, m.UploadNow(ctx))
	assert.Equal(t, float64(1), sentConfig(t, srv)["uploadNow"])

	require.NoError(t, m.Save(ctx))
	assert.Equal(t, float64(0), sentConfig(t, srv)["uploadNow"])
}

func TestMetricsSaveFailure(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, metricsPath, metricsDoc(0, 0, 0)).
		WithStatus(http.MethodPost, metricsPath, http.StatusBadRequest, "bad config").
		Build()
	defer srv.Close()

	err := NewCloudMetrics(newTestCommcell(t, srv)).Save(context.Background())
	requireSDKError(t, err, sdkerrors.KindTransport, sdkerrors.ModuleResponse, "101")
}

func runWait(t *testing.T, clk *testclock.Clock, advances int, wait func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- wait() }()
	for i := 0; i < advances; i++ {
		require.NoError(t, clk.WaitAdvance(DefaultPollInterval, 5*time.Second, 1))
	}
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return")
		return nil
	}
}

func TestMetricsWaitTimesOut(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, metricsPath, metricsDoc(0, 0, 0)).Build()
	defer srv.Close()
	clk := testclock.NewClock(time.Now())
	m := NewCloudMetrics(newTestCommcell(t, srv, commcell.WithClock(clk)))

	err := runWait(t, clk, 3, func() error {
		return m.WaitForDownloadCompletion(context.Background(), 90*time.Second)
	})
	sdkErr := requireSDKError(t, err, sdkerrors.KindTimeout, sdkerrors.ModuleMetrics, "102")
	assert.Contains(t, sdkErr.Message, "Download process didn't complete after 1m30s")
	assert.Equal(t, 4, srv.Count(http.MethodGet, metricsPath))
}

func TestMetricsWaitCompletes(t *testing.T) {
	tests := []struct {
		name   string
		bodies []any
		wait   func(m *CloudMetrics) error
	}{
		{
			name:   "download",
			bodies: []any{metricsDoc(0, 0, 0), metricsDoc(1700000100, 0, 0)},
			wait: func(m *CloudMetrics) error {
				return m.WaitForDownloadCompletion(context.Background(), DefaultDownloadTimeout)
			},
		},
		{
			name:   "collection",
			bodies: []any{metricsDoc(1, 0, 0), metricsDoc(1, 1700000200, 0)},
			wait: func(m *CloudMetrics) error {
				return m.WaitForCollectionCompletion(context.Background(), DefaultCollectionTimeout)
			},
		},
		{
			name:   "upload waits for the latest collection",
			bodies: []any{metricsDoc(1, 1700000200, 1700000000), metricsDoc(1, 1700000200, 1700000300)},
			wait: func(m *CloudMetrics) error {
				return m.WaitForUploadCompletion(context.Background(), DefaultUploadTimeout)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().WithSequence(http.MethodGet, metricsPath, tt.bodies...).Build()
			defer srv.Close()
			clk := testclock.NewClock(time.Now())
			m := NewCloudMetrics(newTestCommcell(t, srv, commcell.WithClock(clk)))

			err := runWait(t, clk, 1, func() error { return tt.wait(m) })
			require.NoError(t, err)
			assert.Equal(t, 2, srv.Count(http.MethodGet, metricsPath))
		})
	}
}

func TestMetricsWaitForUploadNowCompletion(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, metricsPath, metricsDoc(1, 2, 3)).Build()
	defer srv.Close()
	m := NewCloudMetrics(newTestCommcell(t, srv))

	err := m.WaitForUploadNowCompletion(context.Background(), DefaultDownloadTimeout, DefaultCollectionTimeout, DefaultUploadTimeout)
	require.NoError(t, err)
	assert.Equal(t, 3, srv.Count(http.MethodGet, metricsPath))
}

func TestMetricsWaitHonoursContext(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, metricsPath, metricsDoc(0, 0, 0)).Build()
	defer srv.Close()
	clk := testclock.NewClock(time.Now())
	m := NewCloudMetrics(newTestCommcell(t, srv, commcell.WithClock(clk)))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.WaitForCollectionCompletion(ctx, DefaultCollectionTimeout) }()
	require.NoError(t, clk.WaitAdvance(0, 5*time.Second, 1))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("wait ignored cancellation")
	}
}

func TestMetricsUploadedFileName(t *testing.T) {
	srv := testutil.NewMockServer().WithSequence(http.MethodGet, metricsPath, metricsDoc(1, 0, 0), metricsDoc(1, 1700000200, 0)).Build()
	defer srv.Close()
	m := NewCloudMetrics(newTestCommcell(t, srv))
	ctx := context.Background()

	_, err := m.UploadedFileName(ctx, 2748, "")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleMetrics, "103")

	require.NoError(t, m.Refresh(ctx))
	tests := []struct {
		commcellID int
		queryID    string
		want       string
	}{
		{2748, "", "CSS1700000200_ABC.xml"},
		{-1, "", "CSS1700000200_FFFFF.xml"},
		{2748, "7", "CSS1700000200_ABC_7.xml"},
	}
	for _, tt := range tests {
		name, err := m.UploadedFileName(ctx, tt.commcellID, tt.queryID)
		require.NoError(t, err)
		assert.Equal(t, tt.want, name)
	}
}

func TestPrivateMetricsSettings(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, metricsPath, metricsDoc(0, 0, 0)).
		WithJSON(http.MethodPost, metricsPath, testutil.TopLevelOK).
		Build()
	defer srv.Close()
	m := NewPrivateMetrics(newTestCommcell(t, srv))
	ctx := context.Background()

	name, err := m.ServerName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "metrics.example.com", name)

	require.NoError(t, m.UpdateURL(ctx, "ws01", 0, ""))
	download, err := m.DownloadURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://ws01:80/downloads/sqlscripts/", download)
	upload, err := m.UploadURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://ws01:80/webconsole/", upload)

	require.NoError(t, m.EnableChargeback(ctx, true, false, true))
	require.NoError(t, m.EnableForwarding(ctx, "https://fwd.example.com/webconsole"))
	require.NoError(t, m.Save(ctx))

	cfg := sentConfig(t, srv)
	assert.Equal(t, true, cfg["tieringActive"])
	assert.Equal(t, []any{map[string]any{
		"httpServerURL": "https://fwd.example.com/webconsole",
		"isPublic":      false,
		"urlPwd":        "",
		"urlUser":       "",
	}}, cfg["HttpServerInfo"].(map[string]any)["httpServer"])
	for _, s := range cfg["cloud"].(map[string]any)["serviceList"].([]any) {
		entry := s.(map[string]any)
		if entry["service"].(map[string]any)["name"] == ServiceChargeBack {
			assert.Equal(t, true, entry["enabled"])
			assert.Equal(t, float64(ChargebackDaily|ChargebackMonthly), entry["flags"])
		}
	}

	require.NoError(t, m.DisableForwarding(ctx))
	require.NoError(t, m.Save(ctx))
	assert.Equal(t, false, sentConfig(t, srv)["tieringActive"])

	err = m.UpdateURL(ctx, "", 80, "http")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleMetrics, "101")
}

func TestCloudMetricsExtras(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, metricsPath, metricsDoc(0, 0, 0)).
		WithJSON(http.MethodPost, metricsPath, testutil.TopLevelOK).
		WithJSON(http.MethodPost, "/QCommand", testutil.TopLevelOK).
		Build()
	defer srv.Close()
	m := NewCloudMetrics(newTestCommcell(t, srv))
	ctx := context.Background()

	require.NoError(t, m.SetRandomizationMinutes(ctx, 20))
	assert.Equal(t,
		"qoperation execscript -sn SetKeyIntoGlobalParamTbl.sql -si CommservSurveyRandomizationEnabled -si y -si 20",
		string(srv.LastCall(t, http.MethodPost, "/QCommand").Body))
	err := m.SetRandomizationMinutes(ctx, -1)
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleMetrics, "101")

	require.NoError(t, m.EnableCloudAssist(ctx))
	require.NoError(t, m.Save(ctx))
	services := sentServices(sentConfig(t, srv))
	assert.Equal(t, true, services[ServiceProactiveSupport])
	assert.Equal(t, true, services[ServiceCloudAssist])

	err = m.SetService(ctx, ServiceUpgradeReadiness, true)
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleMetrics, "101")
}
