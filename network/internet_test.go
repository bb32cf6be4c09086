package network

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Commvault/cvpysdk-sub002/internal/testutil"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

const (
	internetPath    = "/Commcell/InternetOptions/Proxy"
	internetOptions = `{"config":{
		"proxyType":1,
		"proxyClient":{"clientId":0,"clientName":""},
		"useHttpProxy":false,
		"proxyServer":"",
		"proxyPort":0,
		"bandwidthThrottle":{"enabled":true,"kbps":512}}}`
)

func sentConfig(t *testing.T, srv *testutil.MockServer) map[string]any {
	t.Helper()
	var body struct {
		Config map[string]any `json:"config"`
	}
	require.NoError(t, srv.LastCall(t, http.MethodPost, internetPath).JSON(&body))
	require.NotNil(t, body.Config)
	return body.Config
}

func TestInternetOptionsConfig(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, internetPath, internetOptions).Build()
	defer srv.Close()
	options := NewInternetOptions(newTestCommcell(t, srv))

	cfg, err := options.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProxyTypeNone, cfg.ProxyType)
	assert.False(t, cfg.UseHTTPProxy)

	_, err = options.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Count(http.MethodGet, internetPath))
}

func TestInternetOptionsMissingConfig(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, internetPath, testutil.Empty).Build()
	defer srv.Close()

	err := NewInternetOptions(newTestCommcell(t, srv)).Refresh(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestInternetOptionsGatewayClient(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, internetPath, internetOptions).
		WithJSON(http.MethodPost, internetPath, testutil.TopLevelOK).
		Build()
	defer srv.Close()
	options := NewInternetOptions(newTestCommcell(t, srv))

	require.NoError(t, options.SetInternetGatewayClient(context.Background(), 9, "gateway01", true, false))

	sent := sentConfig(t, srv)
	assert.EqualValues(t, ProxyTypeGatewayClient, sent["proxyType"])
	assert.Equal(t, map[string]any{"clientId": float64(9), "clientName": "gateway01"}, sent["proxyClient"])
	assert.Equal(t, true, sent["useInternetGatewayPublic"])
	assert.Equal(t, false, sent["useInternetGatewayPrivate"])
	assert.Equal(t, map[string]any{"enabled": true, "kbps": float64(512)}, sent["bandwidthThrottle"])
}

func TestInternetOptionsHTTPProxy(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, internetPath, internetOptions).
		WithJSON(http.MethodPost, internetPath, testutil.TopLevelOK).
		Build()
	defer srv.Close()
	options := NewInternetOptions(newTestCommcell(t, srv))
	ctx := context.Background()

	require.NoError(t, options.SetHTTPProxy(ctx, "proxy.example.com", 3128))
	sent := sentConfig(t, srv)
	assert.Equal(t, true, sent["useHttpProxy"])
	assert.Equal(t, "proxy.example.com", sent["proxyServer"])
	assert.EqualValues(t, 3128, sent["proxyPort"])

	require.NoError(t, options.SetHTTPAuthentication(ctx, "svc", "s3cret"))
	sent = sentConfig(t, srv)
	encoded := base64.StdEncoding.EncodeToString([]byte("s3cret"))
	assert.Equal(t, true, sent["useProxyAuthentication"])
	assert.Equal(t, map[string]any{"userName": "svc", "password": encoded, "confirmPassword": encoded}, sent["proxyCredentials"])
	assert.Equal(t, true, sent["useHttpProxy"])

	require.NoError(t, options.DisableHTTPProxy(ctx))
	sent = sentConfig(t, srv)
	assert.Equal(t, false, sent["useHttpProxy"])
	assert.Equal(t, 1, srv.Count(http.MethodGet, internetPath))
	assert.Equal(t, 3, srv.Count(http.MethodPost, internetPath))
}

func TestInternetOptionsValidation(t *testing.T) {
	srv := testutil.NewMockServer().Build()
	defer srv.Close()
	options := NewInternetOptions(newTestCommcell(t, srv))
	ctx := context.Background()

	err := options.SetHTTPProxy(ctx, "", 8080)
	sdkErr, ok := sdkerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, sdkerrors.KindPrecondition, sdkErr.Kind)
	assert.Contains(t, sdkErr.Message, "proxy server name and port cannot be empty")

	err = options.SetGatewayForSendLogs(ctx, 3, "")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleInternetOptions, "101")
	assert.Empty(t, srv.Calls())
}
