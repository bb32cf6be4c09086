// Package testutil provides shared test utilities for the cvsdk packages.
//
// # Key Components
//
// Constants: shared header names, tokens and canned Commcell payloads.
//
// MockServerBuilder: a fluent builder for an httptest server that answers
// Commcell web-service routes and records every request it receives.
//
// # Usage
//
//	srv := testutil.NewMockServer().
//	    WithJSON(http.MethodGet, "/Role", rolesResponse).
//	    WithJSON(http.MethodPost, "/Role", testutil.ResponseOK).
//	    Build()
//	defer srv.Close()
//
//	// ... exercise the SDK against srv.BaseURL() ...
//	require.Equal(t, 1, srv.Count(http.MethodPost, "/Role"))
package testutil

// HTTP headers
const (
	ContentTypeHeader = "Content-Type"
	AcceptHeader      = "Accept"
	AuthTokenHeader   = "Authtoken"
)

// Content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
)

// Common test values
const (
	TestAuthToken   = "QSDK test-token-0123456789"
	TestCommcell    = "cs.example.com"
	TestClientName  = "client01"
	TestClientID    = "12"
	TestLogName     = "test.log"
	TestServiceName = "cvsdk-test"
)

// Canned Commcell payloads.
const (
	// ResponseOK is the response-list success shape used by most POST endpoints.
	ResponseOK = `{"response":[{"errorCode":0}]}`
	// ErrorOK is the nested error shape used by the V4 endpoints.
	ErrorOK = `{"error":{"errorCode":0}}`
	// TopLevelOK is the flat errorCode shape.
	TopLevelOK = `{"errorCode":0}`
	// Empty is a body the SDK treats as an empty response.
	Empty = `{}`
)

// Error messages returned by the mock for unregistered routes.
const (
	ErrEndpointNotFound = "Endpoint not found"
)
