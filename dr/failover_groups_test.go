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
	drGroupsPath  = "/DRGroups"
	groupsBefore  = `{"vApp":[{"vAppEntity":{"vAppId":4,"vAppName":"FG-Finance"},"operationType":8,"replicationType":1}]}`
	groupsAfter   = `{"vApp":[{"vAppEntity":{"vAppId":4,"vAppName":"FG-Finance"},"operationType":8,"replicationType":1},{"vAppEntity":{"vAppId":"6","vAppName":"FG-Legal"}}]}`
	groupDetail   = `{"vApp":[{"isClientGroup":true,"approvalRequired":true,"usersForApproval":[{"userEntity":{"userName":"dr-admin"}}],"selectedEntities":[{"entityName":"vcenter01","instanceId":3}],"config":{"vmGroups":[{"vmSequence":[{"replicationId":7,"vmName":"web01"},{"vmName":"pending"},{"replicationId":"8","vmName":"db01"}]}]}}]}`
	pairPath      = "/Replications/Monitors/streaming"
	pairWeb       = `{"siteInfo":[{"replicationId":7,"sourceName":"web01","destinationName":"web01_DR","status":2}]}`
	pairDB        = `{"siteInfo":[{"replicationId":8,"sourceName":"db01","destinationName":"db01_DR","status":2}]}`
	groupTaskBody = `{"taskId":12,"jobIds":[900]}`
)

func TestFailoverGroupsList(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, drGroupsPath, groupsAfter).Build()
	defer srv.Close()
	groups := NewFailoverGroups(newTestCommcell(t, srv))
	ctx := context.Background()

	all, err := groups.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]FailoverGroupInfo{
		"fg-finance": {ID: "4", OperationType: GroupLiveRecovery, ReplicationType: ReplicationLiveSyncDirect},
		"fg-legal":   {ID: "6", OperationType: GroupFailover, ReplicationType: ReplicationLiveSync},
	}, all)

	for _, name := range []string{"fg-legal", "FG-LEGAL", "Fg-Legal"} {
		has, err := groups.Has(ctx, name)
		require.NoError(t, err)
		assert.True(t, has, name)
	}

	group, err := groups.Get(ctx, "FG-Legal")
	require.NoError(t, err)
	assert.Equal(t, "fg-legal", group.Name())

	_, err = groups.Get(ctx, "fg-hr")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleFailoverGroup, "103")
	_, err = groups.Has(ctx, "")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleFailoverGroup, "101")
	assert.Equal(t, 1, srv.Count(http.MethodGet, drGroupsPath))
}

func TestFailoverGroupsListWithoutVApp(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, drGroupsPath, testutil.Empty).Build()
	defer srv.Close()

	_, err := NewFailoverGroups(newTestCommcell(t, srv)).All(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestFailoverGroupsAdd(t *testing.T) {
	srv := testutil.NewMockServer().
		WithSequence(http.MethodGet, drGroupsPath, groupsBefore, groupsAfter).
		WithJSON(http.MethodPost, drGroupsPath, testutil.ErrorOK).
		Build()
	defer srv.Close()
	groups := NewFailoverGroups(newTestCommcell(t, srv))

	group, err := groups.Add(context.Background(), FailoverGroupOptions{Name: "FG-Legal", ReplicationIDs: []int{7, 8}})
	require.NoError(t, err)
	assert.Equal(t, "fg-legal", group.Name())
	id, err := group.ID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6", id)

	var sent map[string]any
	require.NoError(t, srv.LastCall(t, http.MethodPost, drGroupsPath).JSON(&sent))
	vApp := sent["vApp"].(map[string]any)
	assert.Equal(t, map[string]any{"vAppName": "FG-Legal"}, vApp["vAppEntity"])
	assert.Equal(t, float64(GroupFailover), vApp["operationType"])
	assert.Equal(t, map[string]any{"vmGroups": []any{map[string]any{"vmSequence": []any{
		map[string]any{"replicationId": float64(7)},
		map[string]any{"replicationId": float64(8)},
	}}}}, vApp["config"])
}

func TestFailoverGroupsAddFailures(t *testing.T) {
	tests := []struct {
		name   string
		opts   FailoverGroupOptions
		answer string
		kind   sdkerrors.Kind
		code   string
		posts  int
	}{
		{"no name", FailoverGroupOptions{ReplicationIDs: []int{7}}, testutil.ErrorOK, sdkerrors.KindPrecondition, "101", 0},
		{"no pairs", FailoverGroupOptions{Name: "fg-new"}, testutil.ErrorOK, sdkerrors.KindPrecondition, "101", 0},
		{"duplicate", FailoverGroupOptions{Name: "FG-FINANCE", ReplicationIDs: []int{7}}, testutil.ErrorOK, sdkerrors.KindPrecondition, "102", 0},
		{"rejected", FailoverGroupOptions{Name: "fg-new", ReplicationIDs: []int{7}}, `{"error":{"errorCode":5,"errorMessage":"x"}}`, sdkerrors.KindApplication, "102", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().
				WithJSON(http.MethodGet, drGroupsPath, groupsBefore).
				WithJSON(http.MethodPost, drGroupsPath, tt.answer).
				Build()
			defer srv.Close()
			groups := NewFailoverGroups(newTestCommcell(t, srv))

			_, err := groups.Add(context.Background(), tt.opts)
			requireSDKError(t, err, tt.kind, sdkerrors.ModuleFailoverGroup, tt.code)
			assert.Equal(t, tt.posts, srv.Count(http.MethodPost, drGroupsPath))
			assert.LessOrEqual(t, srv.Count(http.MethodGet, drGroupsPath), 1)
		})
	}
}

func TestFailoverGroupsDelete(t *testing.T) {
	srv := testutil.NewMockServer().
		WithSequence(http.MethodGet, drGroupsPath, groupsAfter, groupsBefore).
		WithSequence(http.MethodDelete, "/DRGroups/6", `{"errorCode":3,"errorMessage":"group in use"}`, testutil.TopLevelOK).
		Build()
	defer srv.Close()
	groups := NewFailoverGroups(newTestCommcell(t, srv))
	ctx := context.Background()

	err := groups.Delete(ctx, "fg-legal")
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleFailoverGroup, "102")
	assert.Contains(t, sdkErr.Message, "group in use")
	assert.Equal(t, 1, srv.Count(http.MethodGet, drGroupsPath))

	require.NoError(t, groups.Delete(ctx, "fg-legal"))
	has, err := groups.Has(ctx, "fg-legal")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFailoverGroupProperties(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, "/DRGroups/4", groupDetail).
		WithHandler(http.MethodGet, pairPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", testutil.ContentTypeJSON)
			if r.URL.Query().Get("replicationPairId") == "8" {
				_, _ = w.Write([]byte(pairDB))
				return
			}
			_, _ = w.Write([]byte(pairWeb))
		}).
		Build()
	defer srv.Close()
	group := NewFailoverGroup(newTestCommcell(t, srv), "FG-Finance", "4")
	ctx := context.Background()

	isClientGroup, err := group.IsClientGroup(ctx)
	require.NoError(t, err)
	assert.True(t, isClientGroup)
	approval, err := group.ApprovalRequired(ctx)
	require.NoError(t, err)
	assert.True(t, approval)
	user, err := group.UserForApproval(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dr-admin", user)
	source, err := group.SourceClientName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vcenter01", source)

	ids, err := group.VMPairIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8}, ids)
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/DRGroups/4"))

	pairs, err := group.VMPairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "web01_DR", pairs["web01"].DestinationName)
	assert.Equal(t, 8, pairs["db01"].ReplicationID)
}

func TestFailoverGroupRefreshWithoutVApp(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, "/DRGroups/4", testutil.Empty).Build()
	defer srv.Close()

	err := NewFailoverGroup(newTestCommcell(t, srv), "fg-finance", "4").Refresh(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestFailoverGroupOperations(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, drGroupsPath, groupsBefore).
		WithJSON(http.MethodGet, "/DRGroups/4", groupDetail).
		WithJSON(http.MethodPost, createTaskPath, groupTaskBody).
		WithJSON(http.MethodGet, "/DRGroups/JobStats", `{"job":[{"phase":[{"phase":1,"status":0}]}]}`).
		Build()
	defer srv.Close()
	group := NewFailoverGroup(newTestCommcell(t, srv), "FG-Finance", "")
	ctx := context.Background()

	job, err := group.PlannedFailover(ctx)
	require.NoError(t, err)
	assert.Equal(t, Job{JobID: "900", TaskID: "12"}, job)

	opt := drOption(t, srv)
	assert.Equal(t, map[string]any{"vAppId": float64(4), "vAppName": "fg-finance"}, opt["vApp"])

	require.NoError(t, group.ValidateJob(ctx, job.JobID))
	assert.Equal(t, 2, srv.Count(http.MethodGet, "/DRGroups/JobStats"))
	assert.Equal(t, 1, srv.Count(http.MethodGet, drGroupsPath))
}
