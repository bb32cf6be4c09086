// Package commcell holds the shared handle every SDK collection and entity is
// built on: the transport, the service URL table and the helpers that turn a
// response into a typed value or an *sdkerrors.Error.
package commcell

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

// Commcell is the handle shared by all objects of one session.
type Commcell struct {
	requester    transport.Requester
	commservName string
	cacheTTL     time.Duration
	clock        clock.Clock
}

// Option configures a Commcell.
type Option func(*Commcell)

// WithCommservName records the CommServe name used by payloads that must name
// the CommCell, such as DR orchestration tasks.
func WithCommservName(name string) Option {
	return func(c *Commcell) { c.commservName = name }
}

// WithCacheTTL sets the lifetime of collection name maps. Zero keeps a map
// until the next Refresh.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Commcell) { c.cacheTTL = ttl }
}

// WithClock replaces the wall clock used by retry and poll loops.
func WithClock(clk clock.Clock) Option {
	return func(c *Commcell) { c.clock = clk }
}

// New returns a handle sending every request through r. It performs no I/O.
func New(r transport.Requester, opts ...Option) *Commcell {
	c := &Commcell{requester: r, clock: clock.WallClock}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Commcell) CommservName() string    { return c.commservName }
func (c *Commcell) CacheTTL() time.Duration { return c.cacheTTL }
func (c *Commcell) Clock() clock.Clock      { return c.clock }

// Request sends one request and returns the 2xx response.
func (c *Commcell) Request(ctx context.Context, method, path string, body any) (*transport.Response, error) {
	return c.do(ctx, transport.Request{Method: method, Path: path, Body: body})
}

func (c *Commcell) do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		log.WithFields(log.Fields{"method": req.Method, "path": req.Path}).WithError(err).Debug("commcell call failed")
		return nil, errors.Trace(err)
	}
	return resp, nil
}

// Ping checks that the web service answers and accepts the session token.
func (c *Commcell) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, http.MethodGet, WhoAmI.URL(), nil)
	return err
}

// Decode unmarshals a JSON body into v; an empty body is Response/102.
func Decode(resp *transport.Response, v any) error {
	return resp.JSON(v)
}

// GetJSON issues a GET and decodes the JSON body into out.
func (c *Commcell) GetJSON(ctx context.Context, path string, out any) error {
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON posts body and decodes the JSON answer into out. A nil out skips
// decoding.
func (c *Commcell) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, body, out)
}

// PutJSON is PostJSON with PUT.
func (c *Commcell) PutJSON(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE and decodes the JSON answer into out.
func (c *Commcell) Delete(ctx context.Context, path string, out any) error {
	return c.sendJSON(ctx, http.MethodDelete, path, nil, out)
}

func (c *Commcell) sendJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.Request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return Decode(resp, out)
}

// xmlBody renders doc as an XML document. Strings and byte slices are sent
// verbatim.
func xmlBody(doc any) (string, error) {
	switch v := doc.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	data, err := xml.Marshal(doc)
	if err != nil {
		return "", errors.Annotate(err, "encoding request xml")
	}
	return string(data), nil
}

// SendXML posts an XML document. accept selects the answer format, typically
// transport.ContentTypeJSON or transport.ContentTypeXML.
func (c *Commcell) SendXML(ctx context.Context, path string, doc any, accept string) (*transport.Response, error) {
	body, err := xmlBody(doc)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
		Headers: map[string]string{
			transport.HeaderContentType: transport.ContentTypeXML,
			transport.HeaderAccept:      accept,
		},
	})
}

// PostXML posts an XML document and decodes the XML answer into out.
func (c *Commcell) PostXML(ctx context.Context, path string, doc, out any) error {
	resp, err := c.SendXML(ctx, path, doc, transport.ContentTypeXML)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.XML(out)
}

// GetXML issues a GET with Accept: application/xml and decodes the answer.
func (c *Commcell) GetXML(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    path,
		Headers: map[string]string{transport.HeaderAccept: transport.ContentTypeXML},
	})
	if err != nil {
		return err
	}
	return resp.XML(out)
}

// QOperationExecute runs an XML request through "qoperation execute" and
// decodes the JSON answer into out.
func (c *Commcell) QOperationExecute(ctx context.Context, doc, out any) error {
	resp, err := c.SendXML(ctx, QOperationExecute.URL(), doc, transport.ContentTypeJSON)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return Decode(resp, out)
}

// ExecuteQCommand posts doc to QCommand/<command> and returns the raw answer.
func (c *Commcell) ExecuteQCommand(ctx context.Context, command string, doc any) (*transport.Response, error) {
	if command == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleResponse, "101", "qcommand cannot be empty")
	}
	return c.SendXML(ctx, QCommand.URL()+"/"+command, doc, transport.ContentTypeJSON)
}
