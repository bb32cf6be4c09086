package network

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/goccy/go-json"
	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// Gateway modes of the internet options.
const (
	ProxyTypeNone           = 1
	ProxyTypeGatewayClient  = 2
	ProxyTypeMetricsGateway = 3
)

// ProxyClient names the client that acts as internet gateway.
type ProxyClient struct {
	ClientID   int    `json:"clientId"`
	ClientName string `json:"clientName"`
}

// ProxyCredentials authenticate against the HTTP proxy. Passwords are base64
// encoded.
type ProxyCredentials struct {
	UserName        string `json:"userName"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// InternetConfig is the modelled part of the internet options document.
type InternetConfig struct {
	ProxyType                     int              `json:"proxyType"`
	ProxyClient                   ProxyClient      `json:"proxyClient"`
	UseInternetGatewayPublic      bool             `json:"useInternetGatewayPublic"`
	UseInternetGatewayPrivate     bool             `json:"useInternetGatewayPrivate"`
	UseInternetGatewaySendLogFile bool             `json:"useInternetGatewaySendLogFile"`
	UseHTTPProxy                  bool             `json:"useHttpProxy"`
	ProxyServer                   string           `json:"proxyServer"`
	ProxyPort                     int              `json:"proxyPort"`
	UseProxyAuthentication        bool             `json:"useProxyAuthentication"`
	ProxyCredentials              ProxyCredentials `json:"proxyCredentials"`
}

// InternetOptions reads and writes the CommCell internet gateway and HTTP
// proxy settings. Fields of the server document that InternetConfig does not
// model are sent back unchanged on Save.
type InternetOptions struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	raw    map[string]json.RawMessage
	config InternetConfig
	loaded bool
}

func NewInternetOptions(cc *commcell.Commcell) *InternetOptions {
	return &InternetOptions{cc: cc}
}

// Refresh reloads the internet options.
func (o *InternetOptions) Refresh(ctx context.Context) error {
	var body struct {
		Config map[string]json.RawMessage `json:"config"`
	}
	if err := o.cc.GetJSON(ctx, commcell.InternetProxy.URL(), &body); err != nil {
		return err
	}
	if body.Config == nil {
		return sdkerrors.EmptyResponse()
	}
	encoded, err := json.Marshal(body.Config)
	if err != nil {
		return errors.Trace(err)
	}
	var cfg InternetConfig
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return sdkerrors.EmptyResponse().Wrap(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.raw = body.Config
	o.config = cfg
	o.loaded = true
	return nil
}

// Config returns the current settings, loading them on first use.
func (o *InternetOptions) Config(ctx context.Context) (InternetConfig, error) {
	if err := o.ensureLoaded(ctx); err != nil {
		return InternetConfig{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.config, nil
}

func (o *InternetOptions) ensureLoaded(ctx context.Context) error {
	o.mu.Lock()
	loaded := o.loaded
	o.mu.Unlock()
	if loaded {
		return nil
	}
	return o.Refresh(ctx)
}

// Save posts the whole document back to the server.
func (o *InternetOptions) Save(ctx context.Context) error {
	o.mu.Lock()
	doc, err := o.document()
	o.mu.Unlock()
	if err != nil {
		return err
	}
	return errors.Trace(o.cc.PostJSON(ctx, commcell.InternetProxy.URL(), doc, nil))
}

// document merges the modelled fields over the raw server document.
func (o *InternetOptions) document() (map[string]any, error) {
	encoded, err := json.Marshal(o.config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var modelled map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &modelled); err != nil {
		return nil, errors.Trace(err)
	}
	merged := make(map[string]json.RawMessage, len(o.raw)+len(modelled))
	for k, v := range o.raw {
		merged[k] = v
	}
	for k, v := range modelled {
		merged[k] = v
	}
	return map[string]any{"config": merged}, nil
}

func (o *InternetOptions) apply(ctx context.Context, change func(*InternetConfig)) error {
	if err := o.ensureLoaded(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	change(&o.config)
	o.mu.Unlock()
	return o.Save(ctx)
}

// SetInternetGatewayClient routes internet traffic through a client. The
// metrics flags choose which metrics servers use the gateway.
func (o *InternetOptions) SetInternetGatewayClient(ctx context.Context, clientID int, clientName string, cloudMetrics, privateMetrics bool) error {
	if clientName == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleInternetOptions, "101", "Client name is required")
	}
	return o.apply(ctx, func(c *InternetConfig) {
		c.ProxyType = ProxyTypeGatewayClient
		c.ProxyClient = ProxyClient{ClientID: clientID, ClientName: clientName}
		c.UseInternetGatewayPublic = cloudMetrics
		c.UseInternetGatewayPrivate = privateMetrics
	})
}

// SetGatewayForSendLogs uses a gateway client for uploading send-log files.
func (o *InternetOptions) SetGatewayForSendLogs(ctx context.Context, clientID int, clientName string) error {
	if clientName == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleInternetOptions, "101", "Client name is required")
	}
	return o.apply(ctx, func(c *InternetConfig) {
		c.ProxyType = ProxyTypeGatewayClient
		c.ProxyClient = ProxyClient{ClientID: clientID, ClientName: clientName}
		c.UseInternetGatewaySendLogFile = true
	})
}

// SetMetricsInternetGateway uses the metrics server as gateway.
func (o *InternetOptions) SetMetricsInternetGateway(ctx context.Context) error {
	return o.apply(ctx, func(c *InternetConfig) { c.ProxyType = ProxyTypeMetricsGateway })
}

// SetNoGateway disables the internet gateway.
func (o *InternetOptions) SetNoGateway(ctx context.Context) error {
	return o.apply(ctx, func(c *InternetConfig) { c.ProxyType = ProxyTypeNone })
}

// SetHTTPProxy enables the HTTP proxy server:port.
func (o *InternetOptions) SetHTTPProxy(ctx context.Context, server string, port int) error {
	if server == "" || port == 0 {
		return sdkerrors.Precondition(sdkerrors.ModuleResponse, "101", "proxy server name and port cannot be empty")
	}
	return o.apply(ctx, func(c *InternetConfig) {
		c.UseHTTPProxy = true
		c.ProxyServer = server
		c.ProxyPort = port
	})
}

func (o *InternetOptions) DisableHTTPProxy(ctx context.Context) error {
	return o.apply(ctx, func(c *InternetConfig) { c.UseHTTPProxy = false })
}

// SetHTTPAuthentication enables proxy authentication with the given
// credentials.
func (o *InternetOptions) SetHTTPAuthentication(ctx context.Context, username, password string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(password))
	return o.apply(ctx, func(c *InternetConfig) {
		c.UseProxyAuthentication = true
		c.ProxyCredentials = ProxyCredentials{UserName: username, Password: encoded, ConfirmPassword: encoded}
	})
}

func (o *InternetOptions) DisableHTTPAuthentication(ctx context.Context) error {
	return o.apply(ctx, func(c *InternetConfig) { c.UseProxyAuthentication = false })
}
