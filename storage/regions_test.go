package storage

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Commvault/cvpysdk-sub002/internal/testutil"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

const regionsBody = `{"regions":[{"id":1,"name":"East US"},{"id":"6","name":"West Europe"}]}`

func TestRegionsList(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, "/v4/Regions", regionsBody).Build()
	defer srv.Close()
	regions := NewRegions(newTestCommcell(t, srv))
	ctx := context.Background()

	all, err := regions.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"east us": "1", "west europe": "6"}, all)

	region, err := regions.Get(ctx, "WEST EUROPE")
	require.NoError(t, err)
	id, err := region.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6", id)

	_, err = regions.Get(ctx, "mars")
	sdkErr := requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleRegion, "103")
	assert.Equal(t, "Region not present in commcell", sdkErr.Message)

	_, err = regions.Has(ctx, "")
	requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleRegion, "102")
}

func TestRegionsMissingKey(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, "/v4/Regions", `{"total":0}`).Build()
	defer srv.Close()

	_, err := NewRegions(newTestCommcell(t, srv)).All(context.Background())
	requireSDKError(t, err, sdkerrors.KindEmptyResponse, sdkerrors.ModuleResponse, "102")
}

func TestRegionDetails(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, "/v4/Regions", regionsBody).
		WithJSON(http.MethodGet, "/v4/Regions/6", `{"id":6,"name":"westeurope","displayName":"West Europe","regionType":"AZURE",
			"locations":[{"city":"Amsterdam","country":"Netherlands"}]}`).
		Build()
	defer srv.Close()

	region := NewRegion(newTestCommcell(t, srv), "West Europe", "")
	details, err := region.Details(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "West Europe", details.DisplayName)
	require.Len(t, details.Locations, 1)
	assert.Equal(t, "Amsterdam", details.Locations[0].City)
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/v4/Regions"))
}

func TestSetRegion(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		code    string
		message string
	}{
		{name: "ok", reply: testutil.TopLevelOK},
		{name: "unknown entity", reply: `{"errorCode":50000,"errorMessage":"x"}`, code: "101", message: "Entity type not found."},
		{name: "bad region", reply: `{"errorCode":547}`, code: "102", message: "Invalid regionID provided in request"},
		{name: "other", reply: `{"errorCode":3,"errorMessage":"denied"}`, code: "102", message: "denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().WithJSON(http.MethodPut, "/entity/CLIENT/12/region", tt.reply).Build()
			defer srv.Close()

			err := NewRegions(newTestCommcell(t, srv)).SetRegion(context.Background(), EntityClient, 12, RegionWorkload, 6)
			var sent map[string]any
			require.NoError(t, srv.LastCall(t, http.MethodPut, "/entity/CLIENT/12/region").JSON(&sent))
			assert.Equal(t, "WORKLOAD", sent["entityRegionType"])
			assert.Equal(t, map[string]any{"id": float64(6)}, sent["region"])
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleRegions, tt.code)
			assert.Equal(t, tt.message, sdkErr.Message)
		})
	}
}

func TestGetAndCalculateRegion(t *testing.T) {
	path := "/entity/STORAGE_POOL/14/region"
	srv := testutil.NewMockServer().
		WithSequence(http.MethodGet, path, `{"regionId":6}`, testutil.Empty, `{"regionId":1}`, `{"errorCode":2,"errorMessage":"no plan"}`).
		Build()
	defer srv.Close()
	regions := NewRegions(newTestCommcell(t, srv))
	ctx := context.Background()

	id, err := regions.GetRegion(ctx, EntityStoragePool, 14, RegionBackup)
	require.NoError(t, err)
	assert.Equal(t, 6, id)
	assert.Equal(t, "entityRegionType=BACKUP", srv.LastCall(t, http.MethodGet, path).Query)

	id, err = regions.GetRegion(ctx, EntityStoragePool, 14, RegionBackup)
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = regions.CalculateRegion(ctx, EntityStoragePool, 14, RegionBackup)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, "calculate=True&entityRegionType=BACKUP", srv.LastCall(t, http.MethodGet, path).Query)

	_, err = regions.CalculateRegion(ctx, EntityStoragePool, 14, RegionBackup)
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleRegions, "102")
	assert.Equal(t, "no plan", sdkErr.Message)
}
