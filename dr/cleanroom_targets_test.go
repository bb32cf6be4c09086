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
	targetsPath = "/V4/RecoveryTargets"
	targetsBody = `{"recoveryTargets":[
		{"id":31,"name":"Azure-Cleanroom","applicationType":"CLEAN_ROOM"},
		{"id":32,"name":"VMware-Replica","applicationType":"REPLICATION"},
		{"id":"33","name":"Lab","applicationType":"CLEAN_ROOM"}]}`
	azureTarget = `{"entity":{"applicationType":"CLEAN_ROOM","policyType":"AZURE_RESOURCE_MANAGER","destinationHypervisor":{"name":"azure-hv"}},
		"vmDisplayName":{"prefix":"CR-","suffix":"-test"},
		"accessNode":{"type":"Automatic"},
		"proxyClientGroupEntity":{"clientGroupName":"azure-proxies"},
		"securityOptions":{"users":[{"userName":"alice"},{"userName":"bob"}],"userGroups":[{"userGroupName":"dr-ops"}]},
		"cloudDestinationOptions":{"region":{"name":"eastus"},"availabilityZone":"2","restoreAsManagedVM":true},
		"destinationOptions":{"dataStore":"crstorage"},
		"liveMountOptions":{"expirationTime":{"daysRetainUntil":5}}}`
)

func TestCleanroomTargetsList(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, targetsPath, targetsBody).Build()
	defer srv.Close()
	targets := NewCleanroomTargets(newTestCommcell(t, srv))
	ctx := context.Background()

	all, err := targets.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"azure-cleanroom": "31", "lab": "33"}, all)

	has, err := targets.Has(ctx, "VMware-Replica")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = targets.Get(ctx, "VMware-Replica")
	sdkErr := requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleRecoveryTarget, "102")
	assert.Equal(t, "No target exists with name: vmware-replica", sdkErr.Message)
	_, err = targets.Get(ctx, "")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleRecoveryTarget, "101")
}

func TestCleanroomTargetsListMissingKey(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, targetsPath, testutil.Empty).Build()
	defer srv.Close()

	_, err := NewCleanroomTargets(newTestCommcell(t, srv)).All(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestCleanroomTargetProperties(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, targetsPath, targetsBody).
		WithJSON(http.MethodGet, "/V4/RecoveryTarget/31", azureTarget).
		Build()
	defer srv.Close()
	target := NewCleanroomTarget(newTestCommcell(t, srv), "AZURE-Cleanroom", "")
	ctx := context.Background()

	props, err := target.Properties(ctx)
	require.NoError(t, err)
	assert.Equal(t, TargetProperties{
		ApplicationType:       "CLEAN_ROOM",
		PolicyType:            PolicyAzureRM,
		DestinationHypervisor: "azure-hv",
		AccessNode:            "Automatic",
		AccessNodeClientGroup: "azure-proxies",
		Users:                 []string{"alice", "bob"},
		UserGroups:            []string{"dr-ops"},
		VMPrefix:              "CR-",
		VMSuffix:              "-test",
		Region:                "eastus",
		AvailabilityZone:      "2",
		StorageAccount:        "crstorage",
		RestoreAsManagedVM:    true,
		ExpirationTime:        "5 days",
	}, props)
	assert.Equal(t, "azure-cleanroom", target.Name())
}

func TestCleanroomTargetNonAzureSkipsCloudFields(t *testing.T) {
	body := `{"entity":{"applicationType":"CLEAN_ROOM","policyType":"VMW_LIVEMOUNT","destinationHypervisor":{"name":"vc01"}},
		"cloudDestinationOptions":{"region":{"name":"ignored"}}}`
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, "/V4/RecoveryTarget/33", body).Build()
	defer srv.Close()

	props, err := NewCleanroomTarget(newTestCommcell(t, srv), "lab", "33").Properties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PolicyVMware, props.PolicyType)
	assert.Empty(t, props.Region)
	assert.Equal(t, "vc01", props.DestinationHypervisor)
}

func TestCleanroomTargetRefreshWithoutEntity(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, "/V4/RecoveryTarget/33", `{"vmDisplayName":{}}`).Build()
	defer srv.Close()

	err := NewCleanroomTarget(newTestCommcell(t, srv), "lab", "33").Refresh(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestCleanroomTargetsDelete(t *testing.T) {
	srv := testutil.NewMockServer().
		WithSequence(http.MethodGet, targetsPath, targetsBody, `{"recoveryTargets":[{"id":31,"name":"Azure-Cleanroom","applicationType":"CLEAN_ROOM"}]}`).
		WithJSON(http.MethodDelete, "/V4/RecoveryTarget/33", testutil.Empty).
		Build()
	defer srv.Close()
	targets := NewCleanroomTargets(newTestCommcell(t, srv))
	ctx := context.Background()

	require.NoError(t, targets.Delete(ctx, "Lab"))
	assert.Equal(t, 1, srv.Count(http.MethodDelete, "/V4/RecoveryTarget/33"))
	has, err := targets.Has(ctx, "lab")
	require.NoError(t, err)
	assert.False(t, has)
}
