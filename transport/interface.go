package transport

import "context"

// Requester is the single dependency SDK packages have on the network.
// *Client is the production implementation; tests may substitute their own.
type Requester interface {
	// Do sends req and returns the response for a 2xx status. Non-2xx statuses
	// and network failures are returned as Response/101 errors.
	Do(ctx context.Context, req Request) (*Response, error)
}

var _ Requester = (*Client)(nil)
