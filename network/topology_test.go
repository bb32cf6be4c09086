package network

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
	topologiesPath   = "/FirewallTopology"
	topologiesBefore = `{"error":{"errorCode":0},"firewallTopologies":[{"topologyEntity":{"topologyName":"DMZ","topologyId":3}}]}`
	topologiesAfter  = `{"error":{"errorCode":0},"firewallTopologies":[{"topologyEntity":{"topologyName":"DMZ","topologyId":3}},{"topologyEntity":{"topologyName":"Branch","topologyId":8}}]}`
	topologyDetail   = `{"topologyInfo":{
		"topologyEntity":{"topologyName":"DMZ","topologyId":3},
		"description":"edge",
		"topologyType":2,
		"useWildcardProxy":true,
		"extendedProperties":"<App_TopologyExtendedProperties displayType=\"0\" encryptTraffic=\"1\" numberOfStreams=\"4\" regionId=\"0\" connectionProtocol=\"2\" />",
		"firewallGroups":[{"fwGroupType":2,"isMnemonic":false,"clientGroup":{"clientGroupName":"servers"}}]}}`
)

func serversAndGateway() []FirewallGroup {
	return []FirewallGroup{
		NewFirewallGroup("servers", 2, false),
		NewFirewallGroup("gateways", 3, false),
	}
}

func TestValidateGroups(t *testing.T) {
	tests := []struct {
		name    string
		groups  []FirewallGroup
		smart   bool
		wantErr string
	}{
		{name: "plain", groups: serversAndGateway()},
		{name: "smart with one mnemonic", groups: []FirewallGroup{NewFirewallGroup(MnemonicMediaAgents, 2, true)}, smart: true},
		{name: "smart without mnemonic", groups: serversAndGateway(), smart: true, wantErr: "One client group should be mnemonic"},
		{
			name:    "smart with two mnemonics",
			groups:  []FirewallGroup{NewFirewallGroup(MnemonicMediaAgents, 2, true), NewFirewallGroup(MnemonicCommServe, 1, true)},
			smart:   true,
			wantErr: "more than one mnemonic group",
		},
		{name: "mnemonic in plain topology", groups: []FirewallGroup{NewFirewallGroup(MnemonicCommServe, 2, true)}, wantErr: "Non-smart toplogy"},
		{name: "unknown mnemonic", groups: []FirewallGroup{NewFirewallGroup("laptops", 2, true)}, smart: true, wantErr: "laptops is not a mnemonic group"},
		{name: "proxy mnemonic", groups: []FirewallGroup{NewFirewallGroup(MnemonicCommServe, 3, true)}, smart: true, wantErr: "cannot be a mnemonic group"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateGroups(tt.groups, tt.smart)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			sdkErr := requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleNetworkTopology, "102")
			assert.Contains(t, sdkErr.Message, tt.wantErr)
		})
	}
}

func TestExtendedProperties(t *testing.T) {
	p, err := ParseExtendedProperties(`<App_TopologyExtendedProperties displayType="1" encryptTraffic="1"
		numberOfStreams="3" regionId="0" connectionProtocol="2" />`)
	require.NoError(t, err)
	assert.Equal(t, 1, p.DisplayType)
	assert.Equal(t, 3, p.NumberOfStreams)

	p, err = ParseExtendedProperties("")
	require.NoError(t, err)
	assert.Equal(t, 1, p.NumberOfStreams)
	assert.Equal(t, 2, p.ConnectionProtocol)
	assert.Equal(t,
		`<App_TopologyExtendedProperties displayType="0" encryptTraffic="0" numberOfStreams="1" regionId="0" connectionProtocol="2" isRoundRobin="0"></App_TopologyExtendedProperties>`,
		p.String())

	_, err = ParseExtendedProperties("<not-closed")
	require.Error(t, err)
}

func TestNetworkTopologiesAdd(t *testing.T) {
	srv := testutil.NewMockServer().
		WithSequence(http.MethodGet, topologiesPath, topologiesBefore, topologiesAfter).
		WithJSON(http.MethodPost, topologiesPath, `{"topology":{"topologyName":"Branch","topologyId":8}}`).
		Build()
	defer srv.Close()
	topologies := NewNetworkTopologies(newTestCommcell(t, srv))

	topology, err := topologies.Add(context.Background(), "Branch", serversAndGateway(), TopologyOptions{
		TopologyType:    TopologyTwoWay,
		Description:     "branch offices",
		EncryptTraffic:  1,
		NumberOfStreams: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "branch", topology.Name())
	assert.Equal(t, "8", topology.ID())

	var sent topologyRequest
	require.NoError(t, srv.LastCall(t, http.MethodPost, topologiesPath).JSON(&sent))
	ft := sent.FirewallTopology
	assert.Equal(t, TopologyTwoWay, ft.TopologyType)
	assert.Equal(t, "Branch", ft.TopologyEntity.TopologyName)
	assert.Equal(t, serversAndGateway(), ft.FirewallGroups)
	ext, err := ParseExtendedProperties(ft.ExtendedProperties)
	require.NoError(t, err)
	assert.Equal(t, 1, ext.EncryptTraffic)
	assert.Equal(t, 2, ext.NumberOfStreams)
	assert.Equal(t, 2, ext.ConnectionProtocol)
}

func TestNetworkTopologiesAddFailures(t *testing.T) {
	tests := []struct {
		name     string
		topology string
		reply    string
		kind     sdkerrors.Kind
		contains string
	}{
		{name: "duplicate", topology: "dmz", kind: sdkerrors.KindPrecondition, contains: `Network Topology "dmz" already exists.`},
		{name: "server message", topology: "Branch", reply: `{"errorMessage":"group not found"}`, kind: sdkerrors.KindApplication, contains: `Error:"group not found"`},
		{name: "no topology echoed", topology: "Branch", reply: `{"status":"ok"}`, kind: sdkerrors.KindApplication, contains: "Failed to create new Network Topology"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().
				WithJSON(http.MethodGet, topologiesPath, topologiesBefore).
				WithJSON(http.MethodPost, topologiesPath, tt.reply).
				Build()
			defer srv.Close()

			_, err := NewNetworkTopologies(newTestCommcell(t, srv)).Add(context.Background(), tt.topology, serversAndGateway(), TopologyOptions{})
			sdkErr := requireSDKError(t, err, tt.kind, sdkerrors.ModuleNetworkTopology, "102")
			assert.Contains(t, sdkErr.Message, tt.contains)
			assert.Equal(t, 1, srv.Count(http.MethodGet, topologiesPath))
		})
	}
}

func TestNetworkTopologiesListError(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, topologiesPath, `{"error":{"errorCode":1,"errorString":"denied"}}`).
		Build()
	defer srv.Close()

	_, err := NewNetworkTopologies(newTestCommcell(t, srv)).Has(context.Background(), "dmz")
	requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleNetworkTopology, "102")
}

func TestNetworkTopologiesDelete(t *testing.T) {
	srv := testutil.NewMockServer().
		WithSequence(http.MethodGet, topologiesPath, topologiesAfter, topologiesBefore).
		WithSequence(http.MethodDelete, topologiesPath+"/8", `{"errorCode":5,"errorMessage":"in use"}`, `{"errorCode":0,"errorMessage":""}`).
		Build()
	defer srv.Close()
	topologies := NewNetworkTopologies(newTestCommcell(t, srv))
	ctx := context.Background()

	err := topologies.Delete(ctx, "BRANCH")
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleNetworkTopology, "102")
	assert.Contains(t, sdkErr.Message, `Error: "in use"`)
	has, err := topologies.Has(ctx, "branch")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, topologies.Delete(ctx, "branch"))
	has, err = topologies.Has(ctx, "branch")
	require.NoError(t, err)
	assert.False(t, has)

	err = topologies.Delete(ctx, "branch")
	sdkErr = requireSDKError(t, err, sdkerrors.KindPrecondition, sdkerrors.ModuleNetworkTopology, "102")
	assert.Equal(t, "No Network Topology exists with name: branch", sdkErr.Message)
}

func TestNetworkTopologyProperties(t *testing.T) {
	srv := testutil.NewMockServer().WithJSON(http.MethodGet, topologiesPath+"/3", topologyDetail).Build()
	defer srv.Close()

	topology := NewNetworkTopology(newTestCommcell(t, srv), "DMZ", "3")
	props, err := topology.Properties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DMZ", props.Name)
	assert.Equal(t, "edge", props.Description)
	assert.Equal(t, TopologyOneWay, props.TopologyType)
	assert.True(t, props.UseWildcardProxy)
	require.Len(t, props.FirewallGroups, 1)
	assert.Equal(t, "servers", props.FirewallGroups[0].ClientGroup.ClientGroupName)
}

func TestNetworkTopologyRefreshMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind sdkerrors.Kind
		code string
	}{
		{name: "no topology info", body: `{"other":1}`, kind: sdkerrors.KindEmptyResponse, code: "102"},
		{name: "no name", body: `{"topologyInfo":{"topologyEntity":{},"topologyType":2}}`, kind: sdkerrors.KindApplication, code: "102"},
		{name: "no type", body: `{"topologyInfo":{"topologyEntity":{"topologyName":"DMZ"}}}`, kind: sdkerrors.KindApplication, code: "102"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().WithJSON(http.MethodGet, topologiesPath+"/3", tt.body).Build()
			defer srv.Close()

			err := NewNetworkTopology(newTestCommcell(t, srv), "DMZ", "3").Refresh(context.Background())
			require.Error(t, err)
			sdkErr, ok := sdkerrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, sdkErr.Kind)
			assert.Equal(t, tt.code, sdkErr.Code)
		})
	}
}

func TestNetworkTopologyUpdate(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, topologiesPath+"/3", topologyDetail).
		WithJSON(http.MethodPut, topologiesPath+"/3", `{"errorCode":0,"errorMessage":""}`).
		Build()
	defer srv.Close()
	topology := NewNetworkTopology(newTestCommcell(t, srv), "DMZ", "3")
	ctx := context.Background()

	require.NoError(t, topology.SetDisplayType(ctx, DisplayLaptops))

	var sent topologyRequest
	require.NoError(t, srv.LastCall(t, http.MethodPut, topologiesPath+"/3").JSON(&sent))
	ft := sent.FirewallTopology
	assert.Equal(t, "DMZ", ft.TopologyEntity.TopologyName)
	assert.Equal(t, "edge", ft.Description)
	assert.Equal(t, TopologyOneWay, ft.TopologyType)
	ext, err := ParseExtendedProperties(ft.ExtendedProperties)
	require.NoError(t, err)
	assert.Equal(t, DisplayLaptops, ext.DisplayType)
	assert.Equal(t, 1, ext.EncryptTraffic)
	assert.Equal(t, 4, ext.NumberOfStreams)
	assert.Equal(t, 2, srv.Count(http.MethodGet, topologiesPath+"/3"))

	require.NoError(t, topology.SetName(ctx, "Perimeter"))
	require.NoError(t, srv.LastCall(t, http.MethodPut, topologiesPath+"/3").JSON(&sent))
	assert.Equal(t, "Perimeter", sent.FirewallTopology.TopologyEntity.TopologyName)
}

func TestNetworkTopologyUpdateRejected(t *testing.T) {
	srv := testutil.NewMockServer().
		WithJSON(http.MethodGet, topologiesPath+"/3", topologyDetail).
		WithJSON(http.MethodPut, topologiesPath+"/3", `{"errorCode":4,"errorMessage":"invalid topology type"}`).
		Build()
	defer srv.Close()

	err := NewNetworkTopology(newTestCommcell(t, srv), "DMZ", "3").SetTopologyType(context.Background(), 9)
	sdkErr := requireSDKError(t, err, sdkerrors.KindApplication, sdkerrors.ModuleNetworkTopology, "102")
	assert.Contains(t, sdkErr.Message, "invalid topology type")
	assert.Equal(t, 1, srv.Count(http.MethodGet, topologiesPath+"/3"))
}

func TestNetworkTopologyPush(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		kind  sdkerrors.Kind
	}{
		{name: "pushed", reply: testutil.ErrorOK},
		{name: "failed", reply: `{"error":{"errorCode":2,"errorString":"client offline"}}`, kind: sdkerrors.KindApplication},
		{name: "no status", reply: `{"jobId":1}`, kind: sdkerrors.KindEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer().
				WithJSON(http.MethodGet, topologiesPath, topologiesBefore).
				WithJSON(http.MethodPost, topologiesPath+"/3/Push", tt.reply).
				Build()
			defer srv.Close()

			err := NewNetworkTopologies(newTestCommcell(t, srv)).PushTopology(context.Background(), "dmz")
			if tt.kind == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, sdkerrors.Is(err, tt.kind))
		})
	}
}
