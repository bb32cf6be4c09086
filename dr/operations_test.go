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
	createTaskPath = "/CreateTask"
	taskStarted    = `{"taskId":9,"jobIds":["101"]}`
)

// drOption digs the drOrchestrationOption out of a CreateTask request.
func drOption(t *testing.T, srv *testutil.MockServer) map[string]any {
	t.Helper()
	var sent map[string]any
	require.NoError(t, srv.LastCall(t, http.MethodPost, createTaskPath).JSON(&sent))
	taskInfo := sent["taskInfo"].(map[string]any)
	subTasks := taskInfo["subTasks"].([]any)
	require.Len(t, subTasks, 1)
	sub := subTasks[0].(map[string]any)
	assert.Equal(t, map[string]any{"subTaskType": float64(1), "operationType": float64(4046)}, sub["subTask"])
	opts := sub["options"].(map[string]any)["adminOpts"].(map[string]any)
	return opts["drOrchestrationOption"].(map[string]any)
}

func TestOperationsSubmit(t *testing.T) {
	tests := []struct {
		name string
		run  func(*Operations, context.Context) (Job, error)
		op   OperationType
	}{
		{"test boot", (*Operations).TestBoot, TestBoot},
		{"planned", (*Operations).PlannedFailover, PlannedFailover},
		{"unplanned", (*Operations).UnplannedFailover, UnplannedFailover},
		{"failback", (*Operations).Failback, Failback},
		{"undo", (*Operations).UndoFailover, UndoFailover},
		{"revert", (*Operations).RevertFailover, RevertFailover},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().WithJSON(http.MethodPost, createTaskPath, taskStarted).Build()
			defer srv.Close()
			ops := NewOperations(newTestCommcell(t, srv), Options{FailoverGroupID: 4, FailoverGroupName: "fg1"})

			job, err := tt.run(ops, context.Background())
			require.NoError(t, err)
			assert.Equal(t, Job{JobID: "101", TaskID: "9"}, job)

			opt := drOption(t, srv)
			assert.Equal(t, float64(tt.op), opt["operationType"])
			assert.Equal(t, false, opt["initiatedfromMonitor"])
			assert.Equal(t, map[string]any{"vAppId": float64(4), "vAppName": "fg1"}, opt["vApp"])
			assert.NotContains(t, opt, "replicationInfo")
		})
	}
}

func TestOperationsTaskHeader(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodPost, createTaskPath, taskStarted).Build()
	defer srv.Close()

	_, err := NewOperations(newTestCommcell(t, srv), Options{FailoverGroupID: 4}).TestBoot(context.Background())
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, srv.LastCall(t, http.MethodPost, createTaskPath).JSON(&sent))
	task := sent["taskInfo"].(map[string]any)["task"].(map[string]any)
	assert.Equal(t, float64(1), task["ownerId"])
	assert.Equal(t, "admin", task["ownerName"])
	assert.Equal(t, float64(2), task["initiatedFrom"])
	assert.Equal(t, map[string]any{"disabled": false}, task["taskFlags"])
}

func TestOperationsFromMonitor(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodPost, createTaskPath, taskStarted).Build()
	defer srv.Close()
	ops := NewOperations(newTestCommcell(t, srv), Options{
		ReplicationIDs:            []int{7, 8},
		InitiatedFromMonitor:      true,
		SkipDisableNetworkAdapter: true,
	})

	_, err := ops.PlannedFailover(context.Background())
	require.NoError(t, err)

	opt := drOption(t, srv)
	assert.Equal(t, true, opt["initiatedfromMonitor"])
	assert.Equal(t, map[string]any{"replicationId": []any{float64(7), float64(8)}}, opt["replicationInfo"])
	assert.Equal(t, map[string]any{"skipDisableNetworkAdapter": true}, opt["advancedOptions"])
	assert.NotContains(t, opt, "vApp")
}

func TestOperationsValidation(t *testing.T) {
	srv := testutil.NewMockServer().Build()
	defer srv.Close()
	ops := NewOperations(newTestCommcell(t, srv), Options{})
	ctx := context.Background()

	_, err := ops.PlannedFailover(ctx)
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleDROperations, "101")
	err = ops.ValidateJob(ctx, "55")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleDROperations, "101")
	assert.Empty(t, srv.Calls())
}

func TestOperationsRejected(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodPost, createTaskPath, `{"error":{"errorCode":2,"errorMessage":"group busy"}}`).
		Build()
	defer srv.Close()

	_, err := NewOperations(newTestCommcell(t, srv), Options{FailoverGroupID: 4}).PlannedFailover(context.Background())
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleDROperations, "102")
	assert.Equal(t, "Failed to start Planned Failover job \nError: \"group busy\"", sdkErr.Message)
}

func TestOperationsEmptyAnswer(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodPost, createTaskPath, testutil.ErrorOK).Build()
	defer srv.Close()

	_, err := NewOperations(newTestCommcell(t, srv), Options{FailoverGroupID: 4}).TestBoot(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestOperationsReverseReplication(t *testing.T) {
	const reversePath = "/Replications/Monitors/streaming/Operation"
	srv := testutil.NewMockServer().
		WithJSON(http.MethodPut, reversePath, `{"taskId":31}`).
		WithJSON(http.MethodPost, createTaskPath, taskStarted).
		Build()
	defer srv.Close()
	ops := NewOperations(newTestCommcell(t, srv), Options{ReplicationIDs: []int{7}, InitiatedFromMonitor: true})
	ctx := context.Background()

	taskID, err := ops.ScheduleReverseReplication(ctx)
	require.NoError(t, err)
	assert.Equal(t, "31", taskID)

	var scheduled map[string]any
	require.NoError(t, srv.LastCall(t, http.MethodPut, reversePath).JSON(&scheduled))
	opt := scheduled["drOrchestrationOption"].(map[string]any)
	assert.Equal(t, float64(ReverseReplication), opt["operationType"])
	assert.NotContains(t, opt["advancedOptions"], "powerOnVM")

	job, err := ops.ReverseReplication(ctx)
	require.NoError(t, err)
	assert.Equal(t, "101", job.JobID)
	assert.Equal(t, 2, srv.Count(http.MethodPut, reversePath))

	forced := drOption(t, srv)
	assert.Equal(t, float64(ReverseReplication), forced["operationType"])
	assert.Equal(t, map[string]any{"skipDisableNetworkAdapter": false, "powerOnVM": false}, forced["advancedOptions"])
}

func TestOperationsScheduleRejected(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodPut, "/Replications/Monitors/streaming/Operation", `{"error":{"errorCode":1,"errorMessage":"no pairs"}}`).
		Build()
	defer srv.Close()

	_, err := NewOperations(newTestCommcell(t, srv), Options{FailoverGroupID: 4}).ReverseReplication(context.Background())
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleDROperations, "102")
	assert.Contains(t, sdkErr.Message, "Reverse Replication")
	assert.Equal(t, 0, srv.Count(http.MethodPost, createTaskPath))
}

func TestOperationsPointInTime(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodPost, createTaskPath, taskStarted).Build()
	defer srv.Close()
	ops := NewOperations(newTestCommcell(t, srv), Options{FailoverGroupID: 4})

	_, err := ops.PointInTimeFailover(context.Background(), 1700000000, 7)
	require.NoError(t, err)

	opt := drOption(t, srv)
	assert.Equal(t, float64(PointInTimeFailover), opt["operationType"])
	info := opt["replicationInfo"].(map[string]any)
	assert.Equal(t, []any{map[string]any{"pointInTime": float64(1700000000), "replicationId": float64(7)}}, info["configOption"])
}

func TestOperationsValidateJob(t *testing.T) {
	const statsPath = "/DRGroups/JobStats"
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"all phases passed", `{"job":[{"phase":[{"phase":1,"status":0},{"phase":2,"status":0}]}]}`, ""},
		{"failed phase", `{"job":[{"phase":[{"phase":1,"status":0},{"phase":3,"status":1}]}]}`, "Failed to complete phase: [phase 3] status: [1]"},
		{"no phases", `{"job":[{}]}`, "Failed to finish any phases in DR orchestration Job 55 \n"},
		{"no job", `{"jobs":[]}`, "Failed to start DR orchestration job"},
		{"server error", `{"error":{"errorCode":5,"errorMessage":"unknown job"}}`, "Failed to validate DR orchestration job 55 \nError: \"unknown job\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().WithJSON(http.MethodGet, statsPath, tt.body).Build()
			defer srv.Close()
			ops := NewOperations(newTestCommcell(t, srv), Options{FailoverGroupID: 4, ReplicationIDs: []int{7, 8}})

			err := ops.ValidateJob(context.Background(), "55")
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, 2, srv.Count(http.MethodGet, statsPath))
				assert.Equal(t, "jobId=55&drGroupId=4&replicationId=8&clientId=0", srv.LastCall(t, http.MethodGet, statsPath).Query)
				return
			}
			sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleDROperations, "102")
			assert.Equal(t, tt.wantErr, sdkErr.Message)
			assert.Equal(t, 1, srv.Count(http.MethodGet, statsPath))
		})
	}
}

func TestOperationsSnapshotList(t *testing.T) {
	const browsePath = "/VMBrowse/guid-1"
	body := `{"scList":[{"snapshots":[
		{"name":"__GX_Recovery_Point_1700000300"},
		{"name":"manual-snap"},
		{"name":"__GX_Recovery_Point_bad"},
		{"name":"__GX_Recovery_Point_1700000000"}]}]}`
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, browsePath, body).Build()
	defer srv.Close()
	ops := NewOperations(newTestCommcell(t, srv), Options{})
	ctx := context.Background()

	points, err := ops.SnapshotList(ctx, "guid-1", 3, true)
	require.NoError(t, err)
	assert.Equal(t, []Snapshot{
		{Name: "__GX_Recovery_Point_1700000300", Timestamp: 1700000300},
		{Name: "__GX_Recovery_Point_1700000000", Timestamp: 1700000000},
	}, points)
	assert.Equal(t, "instanceId=3&snapshots=true", srv.LastCall(t, http.MethodGet, browsePath).Query)

	all, err := ops.SnapshotList(ctx, "guid-1", 3, false)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestOperationsSnapshotListMissing(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, "/VMBrowse/guid-1", `{"scList":[]}`).Build()
	defer srv.Close()

	_, err := NewOperations(newTestCommcell(t, srv), Options{}).SnapshotList(context.Background(), "guid-1", 3, true)
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestOperationTypeString(t *testing.T) {
	assert.Equal(t, "UnPlanned Failover", UnplannedFailover.String())
	assert.Equal(t, "Point in Time Failover", PointInTimeFailover.String())
	assert.Equal(t, "operation 5", OperationType(5).String())
}
