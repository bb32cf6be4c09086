package ops

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
	activityPath = "/V4/CommCell/ActivityControl"
	activityBody = `{"acObjects":[
		{"activityType":128,"enabled":true,"reEnableTime":0,"noSchedEnable":false,"reenableTimeZone":"UTC"},
		{"activityType":"1","enabled":false,"reEnableTime":1700003600,"noSchedEnable":true,"reenableTimeZone":42}]}`
)

func TestActivityControlIsEnabled(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, activityPath, activityBody).Build()
	defer srv.Close()
	ac := NewActivityControl(newTestCommcell(t, srv))
	ctx := context.Background()

	enabled, err := ac.IsEnabled(ctx, AllActivity)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "UTC", ac.ReEnableTimeZone())

	enabled, err = ac.IsEnabled(ctx, DataManagement)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, int64(1700003600), ac.ReEnableTime())
	assert.Equal(t, "42", ac.ReEnableTimeZone())
	assert.True(t, ac.NoSchedEnable())
	assert.Equal(t, 2, srv.Count(http.MethodGet, activityPath))

	_, err = ac.IsEnabled(ctx, DataAging)
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleClient, "102")
	assert.Equal(t, `Failed to find activity type:"DATA AGING" in the response`, sdkErr.Message)

	_, err = ac.IsEnabled(ctx, ActivityType("BOGUS"))
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleClient, "101")
}

func TestActivityControlRefreshWithoutObjects(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, activityPath, `{"errorCode":0}`).Build()
	defer srv.Close()

	err := NewActivityControl(newTestCommcell(t, srv)).Refresh(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestActivityControlSet(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		wantErr bool
		gets    int
	}{
		{"success refreshes", testutil.TopLevelOK, false, 1},
		{"rejected", `{"errorCode":1,"errorMessage":"not allowed"}`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().
				WithJSON(http.MethodGet, activityPath, activityBody).
				WithJSON(http.MethodPost, "/CommCell/ActivityControl/128/Action/Disable", tt.answer).
				Build()
			defer srv.Close()
			ac := NewActivityControl(newTestCommcell(t, srv))

			err := ac.Set(context.Background(), AllActivity, ActionDisable)
			if tt.wantErr {
				sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleCVPySDK, "102")
				assert.Equal(t, "not allowed", sdkErr.Message)
			} else {
				require.NoError(t, err)
				assert.Len(t, ac.Statuses(), 2)
			}
			assert.Equal(t, tt.gets, srv.Count(http.MethodGet, activityPath))
		})
	}
}

func TestActivityControlEnableAfterDelay(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, activityPath, activityBody).
		WithSequence(http.MethodPut, "/Commcell/properties",
			`{"response":[{"errorCode":0}]}`,
			`{"response":[{"errorCode":5,"errorMessage":"bad time"}]}`,
			`{"errorCode":0}`).
		Build()
	defer srv.Close()
	ac := NewActivityControl(newTestCommcell(t, srv))
	ctx := context.Background()

	require.NoError(t, ac.EnableAfterDelay(ctx, DataRecovery, 1700000000))
	var sent map[string]any
	require.NoError(t, srv.LastCall(t, http.MethodPut, "/Commcell/properties").JSON(&sent))
	info := sent["commCellInfo"].(map[string]any)["commCellActivityControlInfo"].(map[string]any)
	assert.Equal(t, []any{map[string]any{
		"activityType":       float64(2),
		"enableAfterADelay":  true,
		"enableActivityType": false,
		"dateTime":           map[string]any{"time": float64(1700000000)},
	}}, info["activityControlOptions"])

	err := ac.EnableAfterDelay(ctx, DataRecovery, 1700000000)
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleCVPySDK, "102")
	assert.Equal(t, "Failed to enable activity control after a delay\nError: \"bad time\"", sdkErr.Message)

	err = ac.EnableAfterDelay(ctx, DataRecovery, 1700000000)
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestActivityTypeCodes(t *testing.T) {
	want := map[ActivityType]int{
		AllActivity: 128, DataManagement: 1, DataRecovery: 2, DataAging: 16, AuxCopy: 4,
		DataVerification: 8192, DDBActivity: 512, Scheduler: 256, OfflineContentIndexing: 1024,
	}
	assert.Len(t, ActivityTypes(), len(want))
	for _, a := range ActivityTypes() {
		code, ok := a.Code()
		require.True(t, ok, a)
		assert.Equal(t, want[a], code, a)
	}
}
