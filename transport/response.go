package transport

import (
	"bytes"
	"encoding/xml"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// Request describes one call to the Commcell web service.
//
// Path is either an absolute URL or a path relative to the configured base URL.
// Body may be nil, a string or []byte sent verbatim, or any value that is
// encoded as JSON.
type Request struct {
	Method  string
	Path    string
	Body    any
	Headers map[string]string
}

// Response is a successful (2xx) HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

var emptyBodies = [][]byte{
	[]byte(""),
	[]byte("null"),
	[]byte("{}"),
	[]byte("[]"),
}

// Empty reports whether the body carries no data: nothing, null, {} or [].
func (r *Response) Empty() bool {
	if r == nil {
		return true
	}
	trimmed := bytes.TrimSpace(r.Body)
	for _, e := range emptyBodies {
		if bytes.Equal(trimmed, e) {
			return true
		}
	}
	return false
}

// Text returns the raw body.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// JSON decodes the body into v. An empty or undecodable body is reported as
// an empty response (Response/102).
func (r *Response) JSON(v any) error {
	if r.Empty() {
		return sdkerrors.EmptyResponse()
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return sdkerrors.EmptyResponse().Wrap(err)
	}
	return nil
}

// XML decodes the body into v with the same empty-body rules as JSON.
func (r *Response) XML(v any) error {
	if r.Empty() {
		return sdkerrors.EmptyResponse()
	}
	if err := xml.Unmarshal(r.Body, v); err != nil {
		return sdkerrors.EmptyResponse().Wrap(err)
	}
	return nil
}
