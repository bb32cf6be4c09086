// Package security manages roles, directory domains, key management servers
// and identity-provider apps configured on a CommCell.
package security

import (
	"context"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// sendResponseList sends body and checks the response-list status. A non-zero
// code is reported as Response/101 with the server's errorString.
func sendResponseList(ctx context.Context, cc *commcell.Commcell, method, path string, body any) error {
	resp, err := cc.Request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if resp.Empty() {
		return sdkerrors.EmptyResponse()
	}
	var status commcell.ResponseListStatus
	if err := commcell.Decode(resp, &status); err != nil {
		return err
	}
	return commcell.Check(status, sdkerrors.ModuleResponse, "101")
}
