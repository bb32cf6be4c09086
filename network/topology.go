// Package network manages firewall topologies, backup network pairs and the
// CommCell internet gateway and proxy options.
package network

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// Topology types.
const (
	TopologyProxy             = 1
	TopologyOneWay            = 2
	TopologyTwoWay            = 3
	TopologyCascadingGateways = 4
)

// Display types.
const (
	DisplayServers = 0
	DisplayLaptops = 1
)

// Mnemonic client groups usable in a smart topology.
const (
	MnemonicCommServeAndMediaAgents = "My CommServe Computer and MediaAgents"
	MnemonicCommServe               = "My CommServe Computer"
	MnemonicMediaAgents             = "My MediaAgents"
)

var mnemonicGroups = map[string]struct{}{
	MnemonicCommServeAndMediaAgents: {},
	MnemonicCommServe:               {},
	MnemonicMediaAgents:             {},
}

// FirewallGroup places a client group in a topology. GroupType is the group's
// position in the topology: 2 first, 1 second, 3 and 4 proxy groups.
type FirewallGroup struct {
	GroupType   int  `json:"fwGroupType"`
	IsMnemonic  bool `json:"isMnemonic"`
	ClientGroup struct {
		ClientGroupName string `json:"clientGroupName"`
	} `json:"clientGroup"`
}

// NewFirewallGroup returns a firewall group entry for groupName.
func NewFirewallGroup(groupName string, groupType int, mnemonic bool) FirewallGroup {
	g := FirewallGroup{GroupType: groupType, IsMnemonic: mnemonic}
	g.ClientGroup.ClientGroupName = groupName
	return g
}

// ExtendedProperties is the App_TopologyExtendedProperties document carried as
// a string inside the topology.
type ExtendedProperties struct {
	XMLName            xml.Name `xml:"App_TopologyExtendedProperties"`
	DisplayType        int      `xml:"displayType,attr"`
	EncryptTraffic     int      `xml:"encryptTraffic,attr"`
	NumberOfStreams    int      `xml:"numberOfStreams,attr"`
	RegionID           int      `xml:"regionId,attr"`
	ConnectionProtocol int      `xml:"connectionProtocol,attr"`
	IsRoundRobin       int      `xml:"isRoundRobin,attr"`
}

func defaultExtendedProperties() ExtendedProperties {
	return ExtendedProperties{NumberOfStreams: 1, ConnectionProtocol: 2}
}

func (p ExtendedProperties) String() string {
	data, err := xml.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// ParseExtendedProperties decodes the extendedProperties string of a
// topology. Attributes missing from s keep their defaults.
func ParseExtendedProperties(s string) (ExtendedProperties, error) {
	p := defaultExtendedProperties()
	if s == "" {
		return p, nil
	}
	if err := xml.Unmarshal([]byte(s), &p); err != nil {
		return p, errors.Annotate(err, "parsing topology extended properties")
	}
	return p, nil
}

type topologyEntity struct {
	TopologyName string           `json:"topologyName"`
	TopologyID   commcell.FlexInt `json:"topologyId,omitempty"`
}

type firewallTopology struct {
	UseWildcardProxy   bool            `json:"useWildcardProxy"`
	ExtendedProperties string          `json:"extendedProperties"`
	TopologyType       int             `json:"topologyType"`
	Description        string          `json:"description"`
	IsSmartTopology    bool            `json:"isSmartTopology"`
	FirewallGroups     []FirewallGroup `json:"firewallGroups"`
	TopologyEntity     topologyEntity  `json:"topologyEntity"`
}

type topologyRequest struct {
	FirewallTopology firewallTopology `json:"firewallTopology"`
}

type topologyListResponse struct {
	commcell.NestedStatus
	FirewallTopologies []struct {
		TopologyEntity topologyEntity `json:"topologyEntity"`
	} `json:"firewallTopologies"`
}

// TopologyOptions configures a new topology. Zero values select the server
// defaults: one-way topology, one stream and connection protocol 2.
type TopologyOptions struct {
	TopologyType       int
	Description        string
	DisplayType        int
	EncryptTraffic     int
	NumberOfStreams    int
	RegionID           int
	ConnectionProtocol int
	UseWildcardProxy   bool
	SmartTopology      bool
}

func (o TopologyOptions) extendedProperties() ExtendedProperties {
	p := defaultExtendedProperties()
	p.DisplayType = o.DisplayType
	p.EncryptTraffic = o.EncryptTraffic
	p.RegionID = o.RegionID
	if o.NumberOfStreams > 0 {
		p.NumberOfStreams = o.NumberOfStreams
	}
	if o.ConnectionProtocol > 0 {
		p.ConnectionProtocol = o.ConnectionProtocol
	}
	return p
}

func topologyError(detail string) error {
	return sdkerrors.Precondition(sdkerrors.ModuleNetworkTopology, "102", detail)
}

// validateGroups counts mnemonic groups and checks them against the smart
// topology rules.
func validateGroups(groups []FirewallGroup, smart bool) error {
	mnemonics := 0
	for _, g := range groups {
		if !g.IsMnemonic {
			continue
		}
		name := g.ClientGroup.ClientGroupName
		if _, ok := mnemonicGroups[name]; !ok {
			return topologyError(fmt.Sprintf("Client group %s is not a mnemonic group", name))
		}
		if g.GroupType == 3 || g.GroupType == 4 {
			return topologyError(fmt.Sprintf("Proxy Client group %s cannot be a mnemonic group", name))
		}
		mnemonics++
	}
	switch {
	case smart && mnemonics == 0:
		return topologyError(" One client group should be mnemonic in a smart topology")
	case smart && mnemonics > 1:
		return topologyError("There cannot be more than one mnemonic group in a topology")
	case !smart && mnemonics != 0:
		return topologyError(" Mnemonic group cannot be present in Non-smart toplogy")
	}
	return nil
}

// NetworkTopologies is the collection of firewall topologies.
type NetworkTopologies struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[string]
}

// NewNetworkTopologies returns the topology collection.
func NewNetworkTopologies(cc *commcell.Commcell) *NetworkTopologies {
	n := &NetworkTopologies{cc: cc}
	n.cache = namemap.NewCache("network_topologies", cc.CacheTTL(), n.load)
	return n
}

func (n *NetworkTopologies) load(ctx context.Context) (namemap.Map[string], error) {
	var body topologyListResponse
	if err := n.cc.GetJSON(ctx, commcell.NetworkTopologies.URL(), &body); err != nil {
		return namemap.Map[string]{}, err
	}
	if body.Error == nil || body.Error.ErrorCode.Int() != 0 {
		return namemap.Map[string]{}, sdkerrors.Application(sdkerrors.ModuleNetworkTopology, "102",
			"Failed to get the list of network topologies")
	}
	topologies := namemap.New[string](len(body.FirewallTopologies))
	for _, t := range body.FirewallTopologies {
		topologies.Set(t.TopologyEntity.TopologyName, t.TopologyEntity.TopologyID.String())
	}
	return topologies, nil
}

// Refresh reloads the topology list.
func (n *NetworkTopologies) Refresh(ctx context.Context) error {
	_, err := n.cache.Refresh(ctx)
	return err
}

// All returns topology ids keyed by lower-cased name.
func (n *NetworkTopologies) All(ctx context.Context) (map[string]string, error) {
	m, err := n.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether a topology named name exists.
func (n *NetworkTopologies) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleNetworkTopology, "101", "")
	}
	m, err := n.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

func (n *NetworkTopologies) id(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", sdkerrors.Precondition(sdkerrors.ModuleNetworkTopology, "101", "")
	}
	m, err := n.cache.Get(ctx)
	if err != nil {
		return "", err
	}
	id, ok := m.Get(name)
	if !ok {
		return "", topologyError("No Network Topology exists with name: " + namemap.Key(name))
	}
	return id, nil
}

// Get returns the topology named name.
func (n *NetworkTopologies) Get(ctx context.Context, name string) (*NetworkTopology, error) {
	id, err := n.id(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewNetworkTopology(n.cc, name, id), nil
}

// Add creates a topology over the given client groups.
func (n *NetworkTopologies) Add(ctx context.Context, name string, groups []FirewallGroup, opts TopologyOptions) (*NetworkTopology, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleNetworkTopology, "101", "")
	}
	if len(groups) == 0 {
		return nil, topologyError("Client Groups should be a list of dict containing group name and group type")
	}
	if err := validateGroups(groups, opts.SmartTopology); err != nil {
		return nil, err
	}
	exists, err := n.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, topologyError(fmt.Sprintf("Network Topology %q already exists.", name))
	}

	topologyType := opts.TopologyType
	if topologyType == 0 {
		topologyType = TopologyOneWay
	}
	req := topologyRequest{FirewallTopology: firewallTopology{
		UseWildcardProxy:   opts.UseWildcardProxy,
		ExtendedProperties: opts.extendedProperties().String(),
		TopologyType:       topologyType,
		Description:        opts.Description,
		IsSmartTopology:    opts.SmartTopology,
		FirewallGroups:     groups,
		TopologyEntity:     topologyEntity{TopologyName: name},
	}}

	var resp struct {
		ErrorMessage *string         `json:"errorMessage"`
		Topology     *topologyEntity `json:"topology"`
	}
	if err := n.cc.PostJSON(ctx, commcell.NetworkTopologies.URL(), req, &resp); err != nil {
		return nil, errors.Trace(err)
	}
	switch {
	case resp.ErrorMessage != nil:
		return nil, sdkerrors.Application(sdkerrors.ModuleNetworkTopology, "102",
			fmt.Sprintf("Failed to create new Network Topology\nError:%q", *resp.ErrorMessage))
	case resp.Topology == nil:
		return nil, sdkerrors.Application(sdkerrors.ModuleNetworkTopology, "102", "Failed to create new Network Topology")
	}
	if err := n.Refresh(ctx); err != nil {
		return nil, err
	}
	return n.Get(ctx, name)
}

// Delete removes the topology named name.
func (n *NetworkTopologies) Delete(ctx context.Context, name string) error {
	id, err := n.id(ctx, name)
	if err != nil {
		return err
	}
	var status commcell.TopLevelStatus
	resp, err := n.cc.Request(ctx, http.MethodDelete, commcell.NetworkTopology.URL(id), nil)
	if err != nil {
		return errors.Trace(err)
	}
	if err := resp.JSON(&status); err != nil {
		return err
	}
	if status.ErrorCode.Int() != 0 {
		return sdkerrors.Application(sdkerrors.ModuleNetworkTopology, "102",
			fmt.Sprintf("Failed to delete topology\nError: %q", status.ErrorMessage))
	}
	return n.Refresh(ctx)
}

// PushTopology pushes the network configuration of the named topology to its
// clients.
func (n *NetworkTopologies) PushTopology(ctx context.Context, name string) error {
	t, err := n.Get(ctx, name)
	if err != nil {
		return err
	}
	return t.Push(ctx)
}

// TopologyProperties is the detail view of a topology.
type TopologyProperties struct {
	Name               string
	ID                 string
	Description        string
	TopologyType       int
	ExtendedProperties string
	FirewallGroups     []FirewallGroup
	UseWildcardProxy   bool
	SmartTopology      bool
}

// TopologyUpdate lists the fields Update changes. Nil fields keep their
// current value.
type TopologyUpdate struct {
	Name               *string
	Description        *string
	TopologyType       *int
	FirewallGroups     []FirewallGroup
	DisplayType        *int
	EncryptTraffic     *int
	NumberOfStreams    *int
	RegionID           *int
	ConnectionProtocol *int
	UseWildcardProxy   bool
	SmartTopology      bool
}

// NetworkTopology is a single firewall topology.
type NetworkTopology struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	name   string
	id     string
	props  TopologyProperties
	loaded bool
}

// NewNetworkTopology returns a handle on a topology. An empty id is resolved
// through the topology list on first use.
func NewNetworkTopology(cc *commcell.Commcell, name, id string) *NetworkTopology {
	return &NetworkTopology{cc: cc, name: namemap.Key(name), id: id}
}

func (t *NetworkTopology) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

func (t *NetworkTopology) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *NetworkTopology) resolveID(ctx context.Context) (string, error) {
	if id := t.ID(); id != "" {
		return id, nil
	}
	id, err := NewNetworkTopologies(t.cc).id(ctx, t.Name())
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
	return id, nil
}

// Refresh reloads the topology properties.
func (t *NetworkTopology) Refresh(ctx context.Context) error {
	id, err := t.resolveID(ctx)
	if err != nil {
		return err
	}
	var body struct {
		TopologyInfo *struct {
			TopologyEntity     topologyEntity  `json:"topologyEntity"`
			Description        string          `json:"description"`
			ExtendedProperties string          `json:"extendedProperties"`
			TopologyType       *int            `json:"topologyType"`
			FirewallGroups     []FirewallGroup `json:"firewallGroups"`
			UseWildcardProxy   bool            `json:"useWildcardProxy"`
			IsSmartTopology    bool            `json:"isSmartTopology"`
		} `json:"topologyInfo"`
	}
	if err := t.cc.GetJSON(ctx, commcell.NetworkTopology.URL(id), &body); err != nil {
		return err
	}
	info := body.TopologyInfo
	switch {
	case info == nil:
		return sdkerrors.EmptyResponse()
	case info.TopologyEntity.TopologyName == "":
		return sdkerrors.Application(sdkerrors.ModuleNetworkTopology, "102", "Network Topology name is not specified in the respone")
	case info.TopologyType == nil:
		return sdkerrors.Application(sdkerrors.ModuleNetworkTopology, "102", "Network Topology type is not specified in the response")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.props = TopologyProperties{
		Name:               info.TopologyEntity.TopologyName,
		ID:                 id,
		Description:        info.Description,
		TopologyType:       *info.TopologyType,
		ExtendedProperties: info.ExtendedProperties,
		FirewallGroups:     info.FirewallGroups,
		UseWildcardProxy:   info.UseWildcardProxy,
		SmartTopology:      info.IsSmartTopology,
	}
	t.name = info.TopologyEntity.TopologyName
	t.loaded = true
	return nil
}

// Properties returns the topology properties, loading them on first use.
func (t *NetworkTopology) Properties(ctx context.Context) (TopologyProperties, error) {
	t.mu.Lock()
	loaded := t.loaded
	t.mu.Unlock()
	if !loaded {
		if err := t.Refresh(ctx); err != nil {
			return TopologyProperties{}, err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.props, nil
}

// Update rewrites the topology with u applied over the current properties.
func (t *NetworkTopology) Update(ctx context.Context, u TopologyUpdate) error {
	props, err := t.Properties(ctx)
	if err != nil {
		return err
	}

	groups := props.FirewallGroups
	if u.FirewallGroups != nil {
		groups = u.FirewallGroups
		if err := validateGroups(groups, u.SmartTopology); err != nil {
			return err
		}
	} else if u.SmartTopology {
		if err := validateGroups(groups, true); err != nil {
			return err
		}
	}

	ext, err := ParseExtendedProperties(props.ExtendedProperties)
	if err != nil {
		return err
	}
	for dst, src := range map[*int]*int{
		&ext.DisplayType:        u.DisplayType,
		&ext.EncryptTraffic:     u.EncryptTraffic,
		&ext.NumberOfStreams:    u.NumberOfStreams,
		&ext.RegionID:           u.RegionID,
		&ext.ConnectionProtocol: u.ConnectionProtocol,
	} {
		if src != nil {
			*dst = *src
		}
	}

	name, description, topologyType := props.Name, props.Description, props.TopologyType
	if u.Name != nil {
		name = *u.Name
	}
	if u.Description != nil {
		description = *u.Description
	}
	if u.TopologyType != nil {
		topologyType = *u.TopologyType
	}

	req := topologyRequest{FirewallTopology: firewallTopology{
		UseWildcardProxy:   u.UseWildcardProxy,
		ExtendedProperties: ext.String(),
		TopologyType:       topologyType,
		Description:        description,
		IsSmartTopology:    u.SmartTopology,
		FirewallGroups:     groups,
		TopologyEntity:     topologyEntity{TopologyName: name},
	}}
	var status commcell.TopLevelStatus
	if err := t.cc.PutJSON(ctx, commcell.NetworkTopology.URL(props.ID), req, &status); err != nil {
		return errors.Trace(err)
	}
	if err := commcell.Check(status, sdkerrors.ModuleNetworkTopology, "102"); err != nil {
		return err
	}
	return t.Refresh(ctx)
}

// SetName renames the topology.
func (t *NetworkTopology) SetName(ctx context.Context, name string) error {
	return t.Update(ctx, TopologyUpdate{Name: &name})
}

// SetDescription changes the topology description.
func (t *NetworkTopology) SetDescription(ctx context.Context, description string) error {
	return t.Update(ctx, TopologyUpdate{Description: &description})
}

// SetTopologyType changes the topology type.
func (t *NetworkTopology) SetTopologyType(ctx context.Context, topologyType int) error {
	return t.Update(ctx, TopologyUpdate{TopologyType: &topologyType})
}

// SetDisplayType switches the topology between servers and laptops.
func (t *NetworkTopology) SetDisplayType(ctx context.Context, displayType int) error {
	return t.Update(ctx, TopologyUpdate{DisplayType: &displayType})
}

// SetFirewallGroups replaces the client groups of the topology.
func (t *NetworkTopology) SetFirewallGroups(ctx context.Context, groups []FirewallGroup) error {
	if len(groups) == 0 {
		return topologyError("Client Groups should be a list of dict containing group name and group type")
	}
	return t.Update(ctx, TopologyUpdate{FirewallGroups: groups})
}

// Push pushes the topology's network configuration to its clients.
func (t *NetworkTopology) Push(ctx context.Context) error {
	id, err := t.resolveID(ctx)
	if err != nil {
		return err
	}
	var status commcell.NestedStatus
	if err := t.cc.PostJSON(ctx, commcell.PushTopology.URL(id), nil, &status); err != nil {
		return errors.Trace(err)
	}
	if status.Error == nil {
		return sdkerrors.EmptyResponse()
	}
	return commcell.Check(status, sdkerrors.ModuleNetworkTopology, "102")
}
