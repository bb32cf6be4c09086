package dr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/internal/testutil"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

func newTestCommcell(t *testing.T, srv *testutil.MockServer) *commcell.Commcell {
	t.Helper()
	client := transport.NewClient(transport.Config{
		BaseURL:   srv.BaseURL(),
		AuthToken: testutil.TestAuthToken,
		Timeout:   5 * time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })
	return commcell.New(client)
}

func requireSDKError(t *testing.T, err error, kind sdkerrors.Kind, module, code string) *sdkerrors.Error {
	t.Helper()
	require.Error(t, err)
	sdkErr, ok := sdkerrors.As(err)
	require.True(t, ok, "expected *sdkerrors.Error, got %T: %v", err, err)
	require.Equal(t, kind, sdkErr.Kind)
	require.Equal(t, module, sdkErr.Module)
	require.Equal(t, code, sdkErr.Code)
	return sdkErr
}
