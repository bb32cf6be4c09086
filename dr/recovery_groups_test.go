package dr

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Commvault/cvpysdk-sub002/internal/testutil"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

const (
	recoveryGroupsPath = "/RecoveryGroups"
	recoveryGroupsBody = `{"recoveryGroups":[{"id":21,"name":"Tier1-Apps"},{"id":"22","name":"Tier2"}]}`
	recoveryGroupBody  = `{"name":"Tier1-Apps","entities":[
		{"id":1,"name":"web01","recoveryStatus":2},
		{"id":2,"name":"db01","recoveryStatus":1},
		{"id":3,"name":"app01","recoveryStatus":6},
		{"id":4,"name":"mail01","recoveryStatus":4}]}`
)

func TestRecoveryGroupsList(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, recoveryGroupsPath, recoveryGroupsBody).Build()
	defer srv.Close()
	groups := NewRecoveryGroups(newTestCommcell(t, srv))
	ctx := context.Background()

	all, err := groups.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tier1-apps": "21", "tier2": "22"}, all)

	has, err := groups.Has(ctx, "TIER2")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = groups.Get(ctx, "tier3")
	sdkErr := requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleRecoveryGroup, "102")
	assert.Equal(t, "No recovery group exists with name: tier3", sdkErr.Message)
	_, err = groups.Has(ctx, "")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleRecoveryGroup, "101")
}

func TestRecoveryGroupsListMissingKey(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, recoveryGroupsPath, testutil.Empty).Build()
	defer srv.Close()

	_, err := NewRecoveryGroups(newTestCommcell(t, srv)).All(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestRecoveryGroupEntities(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, "/RecoveryGroup/21", recoveryGroupBody).Build()
	defer srv.Close()
	group := NewRecoveryGroup(newTestCommcell(t, srv), "Tier1-Apps", "21")

	entities, err := group.Entities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 4)
	assert.Equal(t, RecoveryEntity{ID: 2, Name: "db01", RecoveryStatus: StatusNotReady}, entities[1])
	assert.Equal(t, "getEntityDetails=true", srv.LastCall(t, http.MethodGet, "/RecoveryGroup/21").Query)

	props, err := group.Properties(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(props.Raw), "Tier1-Apps")
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/RecoveryGroup/21"))
}

func TestRecoveryGroupRecoverAll(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, recoveryGroupsPath, recoveryGroupsBody).
		WithJSON(http.MethodGet, "/RecoveryGroup/21", recoveryGroupBody).
		WithJSON(http.MethodPost, "/RecoveryGroup/21/Recover", `{"jobId":7001}`).
		Build()
	defer srv.Close()
	group := NewRecoveryGroup(newTestCommcell(t, srv), "tier1-apps", "")

	jobID, err := group.RecoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7001", jobID)

	var sent map[string]any
	require.NoError(t, srv.LastCall(t, http.MethodPost, "/RecoveryGroup/21/Recover").JSON(&sent))
	assert.Equal(t, map[string]any{"id": float64(21)}, sent["recoveryGroup"])
	assert.Equal(t, []any{map[string]any{"id": float64(1)}, map[string]any{"id": float64(4)}}, sent["entities"])
}

func TestRecoveryGroupRecoverWithoutJobID(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodPost, "/RecoveryGroup/21/Recover", `{"taskId":3}`).Build()
	defer srv.Close()

	_, err := NewRecoveryGroup(newTestCommcell(t, srv), "tier1-apps", "21").Recover(context.Background(), []int{1})
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestRecoveryGroupsDelete(t *testing.T) {
	srv := testutil.NewMockServer().
		WithSequence(http.MethodGet, recoveryGroupsPath, recoveryGroupsBody, `{"recoveryGroups":[{"id":21,"name":"Tier1-Apps"}]}`).
		WithSequence(http.MethodDelete, "/RecoveryGroup/22", `{"error":{"errorCode":9,"errorMessage":"recovery running"}}`, testutil.ErrorOK).
		Build()
	defer srv.Close()
	groups := NewRecoveryGroups(newTestCommcell(t, srv))
	ctx := context.Background()

	err := groups.Delete(ctx, "tier2")
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleRecoveryGroup, "102")
	assert.Equal(t, "recovery running", sdkErr.Message)

	require.NoError(t, groups.Delete(ctx, "tier2"))
	has, err := groups.Has(ctx, "tier2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRecoveryStatusRecoverable(t *testing.T) {
	for status, want := range map[RecoveryStatus]bool{
		StatusNone:       true,
		StatusNotReady:   false,
		StatusReady:      true,
		StatusFailed:     true,
		StatusInProgress: false,
		StatusCleanedUp:  true,
	} {
		assert.Equal(t, want, status.Recoverable(), "status %d", status)
	}
}
