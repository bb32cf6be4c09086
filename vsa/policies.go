package vsa

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// PolicyType is the VM allocation policy type code.
type PolicyType int

const (
	PolicyCloneFromTemplate PolicyType = 0
	PolicyLiveMount         PolicyType = 4
	PolicyRestoreFromBackup PolicyType = 13
)

var policyTypes = map[string]PolicyType{
	"live mount":          PolicyLiveMount,
	"clone from template": PolicyCloneFromTemplate,
	"restore from backup": PolicyRestoreFromBackup,
}

// ParsePolicyType maps "Live Mount", "Clone From Template" or "Restore From
// Backup" to its code, ignoring case.
func ParsePolicyType(name string) (PolicyType, error) {
	t, ok := policyTypes[namemap.Key(name)]
	if !ok {
		return 0, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("%s is not a valid virtual machine policy type.", name))
	}
	return t, nil
}

// IsLiveMount reports whether policies of this type run live mounts. Type 2
// is the legacy live-mount code.
func (t PolicyType) IsLiveMount() bool {
	return t == PolicyLiveMount || t == 2
}

// PolicyRef is the cached view of one policy.
type PolicyRef struct {
	ID   string
	Type PolicyType
}

type policyEntity struct {
	VMAllocPolicyName string            `json:"vmAllocPolicyName"`
	VMAllocPolicyID   *commcell.FlexInt `json:"vmAllocPolicyId,omitempty"`
	Type              int               `json:"_type_,omitempty"`
	PolicyType        commcell.FlexInt  `json:"policyType"`
	Region            *struct{}         `json:"region,omitempty"`
}

type policyListing struct {
	Policy []struct {
		Entity policyEntity `json:"entity"`
	} `json:"policy"`
}

type namedClient struct {
	ClientID   int    `json:"clientId,omitempty"`
	ClientName string `json:"clientName"`
}

type securityUser struct {
	Type     int    `json:"_type_"`
	UserGUID string `json:"userGUID"`
	UserName string `json:"userName"`
	UserID   int    `json:"userId"`
}

type networkMapping struct {
	DestinationNetwork string `json:"destinationNetwork"`
	SourceNetwork      string `json:"sourceNetwork"`
}

type policyBody struct {
	VMNameEditType        int                    `json:"vmNameEditType"`
	VMNameEditString      string                 `json:"vmNameEditString"`
	CreateIsolatedNetwork bool                   `json:"createIsolatedNetwork"`
	IsResourceGroupPolicy bool                   `json:"isResourceGroupPolicy"`
	ResourcePoolPath      string                 `json:"resourcePoolPath"`
	DestinationHyperV     namedClient            `json:"destinationHyperV"`
	AllDataStoresSelected bool                   `json:"allDataStoresSelected"`
	DaysRetainUntil       int                    `json:"daysRetainUntil"`
	MigrateVMs            bool                   `json:"migrateVMs"`
	SenderEmailID         string                 `json:"senderEmailId"`
	NotifyToEmailIDs      string                 `json:"notifyToEmailIds"`
	QuotaType             int                    `json:"quotaType"`
	MaxVMQuota            int                    `json:"maxVMQuota"`
	NamingPattern         string                 `json:"namingPattern"`
	Description           string                 `json:"description"`
	Enabled               bool                   `json:"enabled"`
	AllowRenewals         bool                   `json:"allowRenewals"`
	DisableSuccessEmail   bool                   `json:"disableSuccessEmail"`
	PerformAutoMigration  bool                   `json:"performAutoMigration"`
	AllESXServersSelected bool                   `json:"allESXServersSelected"`
	DataCenter            map[string]any         `json:"dataCenter"`
	Entity                policyEntity           `json:"entity"`
	ProxyClientEntity     *namedClient           `json:"proxyClientEntity"`
	NetworkList           []networkMapping       `json:"networkList"`
	ESXServers            []map[string]string    `json:"esxServers,omitempty"`
	DataStores            []map[string]string    `json:"dataStores,omitempty"`
	NetworkNames          []string               `json:"networkNames,omitempty"`
	SecurityAssociations  map[string][]securityUser `json:"securityAssociations,omitempty"`
	MinutesRetainUntil    int                    `json:"minutesRetainUntil,omitempty"`
	MediaAgent            *namedClient           `json:"mediaAgent,omitempty"`
}

type policyRequest struct {
	Action int `json:"action"`
	Policy any `json:"policy"`
}

type errorReply struct {
	commcell.NestedStatus
}

// PolicyOptions are the optional settings of a new VM allocation policy.
type PolicyOptions struct {
	Description          string
	VCenterName          string
	InstanceID           int
	DataCenterName       string
	DataStores           []string
	ESXServers           []string
	NetworkNames         []string
	DestinationNetwork   string
	ProxyClient          string
	MediaAgent           string
	NamingPattern        string
	SenderEmailID        string
	NotifyToEmailIDs     string
	DaysRetainUntil      int
	MinutesRetainUntil   int
	QuotaType            int
	MaxVMQuota           int
	MigrateVMs           bool
	PerformAutoMigration bool
	DisableSuccessEmail  bool
	Disabled             bool
	DisallowRenewals     bool
}

// VMPolicies is the collection of VM allocation policies.
type VMPolicies struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[PolicyRef]
}

// NewVMPolicies returns the policy collection. Nothing is fetched until first
// use.
func NewVMPolicies(cc *commcell.Commcell) *VMPolicies {
	p := &VMPolicies{cc: cc}
	p.cache = namemap.NewCache("vm_policies", cc.CacheTTL(), p.load)
	return p
}

func (p *VMPolicies) load(ctx context.Context) (namemap.Map[PolicyRef], error) {
	resp, err := p.cc.Request(ctx, http.MethodGet, commcell.AllVMAllocationPolicies.URL(), nil)
	if err != nil {
		return namemap.Map[PolicyRef]{}, err
	}
	if resp.Empty() {
		return namemap.New[PolicyRef](0), nil
	}
	var body policyListing
	if err := commcell.Decode(resp, &body); err != nil {
		return namemap.Map[PolicyRef]{}, err
	}
	policies := namemap.New[PolicyRef](len(body.Policy))
	for _, pol := range body.Policy {
		ref := PolicyRef{Type: PolicyType(pol.Entity.PolicyType.Int())}
		if pol.Entity.VMAllocPolicyID != nil {
			ref.ID = pol.Entity.VMAllocPolicyID.String()
		}
		policies.Set(pol.Entity.VMAllocPolicyName, ref)
	}
	return policies, nil
}

// Refresh reloads the policy list.
func (p *VMPolicies) Refresh(ctx context.Context) error {
	_, err := p.cache.Refresh(ctx)
	return err
}

// Invalidate drops the cached list.
func (p *VMPolicies) Invalidate() { p.cache.Invalidate() }

// All returns the policies keyed by lower-cased name.
func (p *VMPolicies) All(ctx context.Context) (map[string]PolicyRef, error) {
	m, err := p.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether a policy named name exists.
func (p *VMPolicies) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "101", "")
	}
	m, err := p.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

// Get returns the policy named name.
func (p *VMPolicies) Get(ctx context.Context, name string) (*VMPolicy, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "101", "")
	}
	m, err := p.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	ref, ok := m.Get(name)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("No policy exists with name: %s", name))
	}
	return NewVMPolicy(p.cc, name, ref.Type, ref.ID), nil
}

type pseudoClients struct {
	List []struct {
		Client struct {
			ClientName string           `json:"clientName"`
			ClientID   commcell.FlexInt `json:"clientId"`
			HostName   string           `json:"hostName"`
		} `json:"client"`
	} `json:"VSPseudoClientsList"`
}

type virtualizationClient struct {
	Name     string
	ID       int
	HostName string
}

func (p *VMPolicies) virtualizationClient(ctx context.Context, name string) (virtualizationClient, error) {
	var body pseudoClients
	if err := p.cc.GetJSON(ctx, commcell.VirtualClients.URL(), &body); err != nil {
		if sdkerrors.IsEmptyResponse(err) {
			return virtualizationClient{}, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
				"No virtualization clients exist on this Commcell.")
		}
		return virtualizationClient{}, err
	}
	for _, pc := range body.List {
		if namemap.Key(pc.Client.ClientName) == namemap.Key(name) {
			return virtualizationClient{
				Name:     pc.Client.ClientName,
				ID:       pc.Client.ClientID.Int(),
				HostName: pc.Client.HostName,
			}, nil
		}
	}
	return virtualizationClient{}, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
		fmt.Sprintf("Virtualization client %q does not exist", name))
}

func addPolicyBody(name string, typ PolicyType, vc virtualizationClient, opts PolicyOptions) (policyBody, error) {
	vcenter := opts.VCenterName
	if vcenter == "" {
		vcenter = vc.HostName
	}
	body := policyBody{
		VMNameEditType:        1,
		VMNameEditString:      "Replicated_",
		IsResourceGroupPolicy: true,
		ResourcePoolPath:      "//",
		DestinationHyperV:     namedClient{ClientID: vc.ID, ClientName: vc.Name},
		DaysRetainUntil:       -1,
		MigrateVMs:            opts.MigrateVMs,
		SenderEmailID:         opts.SenderEmailID,
		NotifyToEmailIDs:      opts.NotifyToEmailIDs,
		QuotaType:             opts.QuotaType,
		MaxVMQuota:            10,
		NamingPattern:         opts.NamingPattern,
		Description:           opts.Description,
		Enabled:               !opts.Disabled,
		AllowRenewals:         !opts.DisallowRenewals,
		DisableSuccessEmail:   opts.DisableSuccessEmail,
		PerformAutoMigration:  opts.PerformAutoMigration,
		AllDataStoresSelected: len(opts.DataStores) == 0,
		AllESXServersSelected: len(opts.ESXServers) == 0,
		DataCenter: map[string]any{
			"vCenterName": vcenter,
			"instanceEntity": map[string]any{
				"clientId":     vc.ID,
				"instanceName": vc.Name,
				"instanceId":   opts.InstanceID,
			},
		},
		Entity: policyEntity{
			VMAllocPolicyName: name,
			Type:              93,
			PolicyType:        commcell.FlexInt(typ),
			Region:            &struct{}{},
		},
		ProxyClientEntity: &namedClient{},
		NetworkList:       []networkMapping{{DestinationNetwork: opts.DestinationNetwork, SourceNetwork: "Any Network"}},
		NetworkNames:      opts.NetworkNames,
		SecurityAssociations: map[string][]securityUser{
			"users": {{Type: 13, UserGUID: "admin", UserName: "admin", UserID: 1}},
		},
	}
	if opts.DataCenterName != "" {
		body.DataCenter["dataCenterName"] = opts.DataCenterName
	}
	if opts.DaysRetainUntil != 0 {
		body.DaysRetainUntil = opts.DaysRetainUntil
	}
	if opts.MaxVMQuota != 0 {
		body.MaxVMQuota = opts.MaxVMQuota
	}
	if opts.ProxyClient != "" {
		body.ProxyClientEntity = &namedClient{ClientName: opts.ProxyClient}
	}
	for _, esx := range opts.ESXServers {
		body.ESXServers = append(body.ESXServers, map[string]string{"esxServerName": esx})
	}
	for _, ds := range opts.DataStores {
		body.DataStores = append(body.DataStores, map[string]string{"dataStoreName": ds})
	}
	if typ.IsLiveMount() {
		if opts.MediaAgent == "" {
			return body, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
				"a media agent is required for a Live Mount policy")
		}
		body.MinutesRetainUntil = 1
		if opts.MinutesRetainUntil != 0 {
			body.MinutesRetainUntil = opts.MinutesRetainUntil
		}
		body.MediaAgent = &namedClient{ClientName: opts.MediaAgent}
	}
	return body, nil
}

// Add creates a policy of the named type ("Live Mount", "Clone From Template"
// or "Restore From Backup") under the virtualization client vclient.
func (p *VMPolicies) Add(ctx context.Context, name, policyType, vclient string, opts PolicyOptions) (*VMPolicy, error) {
	if name == "" || vclient == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "101", "")
	}
	typ, err := ParsePolicyType(policyType)
	if err != nil {
		return nil, err
	}
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	exists, err := p.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("Virtual Machine Policy %q already exists (not case sensitive)", name))
	}
	vc, err := p.virtualizationClient(ctx, vclient)
	if err != nil {
		return nil, err
	}
	body, err := addPolicyBody(namemap.Key(name), typ, vc, opts)
	if err != nil {
		return nil, err
	}
	return p.create(ctx, policyRequest{Action: 0, Policy: body}, name)
}

// create posts a new policy document and returns the created policy.
func (p *VMPolicies) create(ctx context.Context, req policyRequest, name string) (*VMPolicy, error) {
	var reply errorReply
	if err := p.cc.PostJSON(ctx, commcell.VMAllocationPolicies.URL(), req, &reply); err != nil {
		return nil, errors.Annotatef(err, "creating VM policy %s", name)
	}
	if st := reply.Status(); !st.OK() {
		return nil, sdkerrors.Application(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("Failed to create virtual machine policy\nError: %q", st.Message))
	}
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	return p.Get(ctx, name)
}

type deleteReply struct {
	ErrorCode    *commcell.FlexInt `json:"errorCode"`
	ErrorMessage string            `json:"errorMessage"`
}

// Delete removes the policy named name. The server answers a successful
// delete with a plain-text message, which is returned.
func (p *VMPolicies) Delete(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "101", "")
	}
	m, err := p.cache.Get(ctx)
	if err != nil {
		return "", err
	}
	ref, ok := m.Get(name)
	if !ok {
		return "", sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("No policy exists with name: %s", name))
	}
	resp, err := p.cc.Request(ctx, http.MethodDelete, commcell.VMAllocationPolicy.URL(ref.ID), nil)
	if err != nil {
		return "", errors.Annotatef(err, "deleting VM policy %s", name)
	}
	if resp.Empty() {
		return "", sdkerrors.EmptyResponse()
	}
	var reply deleteReply
	if json.Unmarshal(resp.Body, &reply) == nil && reply.ErrorCode != nil && reply.ErrorMessage != "" {
		return "", sdkerrors.Application(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("Failed to delete virtual machine policy\nError: %q", reply.ErrorMessage))
	}
	if err := p.Refresh(ctx); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// VMPolicy is one VM allocation policy. Its properties are kept as the raw
// server document so that Update and Clone send back every field unchanged.
type VMPolicy struct {
	cc *commcell.Commcell

	mu         sync.Mutex
	name       string
	id         string
	typ        PolicyType
	properties map[string]any
	mountedVM  string
}

// NewVMPolicy returns a handle on a policy. An empty id is resolved through
// the policy list on first use.
func NewVMPolicy(cc *commcell.Commcell, name string, typ PolicyType, id string) *VMPolicy {
	return &VMPolicy{cc: cc, name: namemap.Key(name), typ: typ, id: id}
}

func (v *VMPolicy) Name() string     { return v.name }
func (v *VMPolicy) Type() PolicyType { return v.typ }

func (v *VMPolicy) ID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.id
}

func (v *VMPolicy) resolveID(ctx context.Context) (string, error) {
	if id := v.ID(); id != "" {
		return id, nil
	}
	pol, err := NewVMPolicies(v.cc).Get(ctx, v.name)
	if err != nil {
		return "", err
	}
	v.mu.Lock()
	v.id = pol.id
	v.mu.Unlock()
	return pol.id, nil
}

// Refresh reloads the policy document.
func (v *VMPolicy) Refresh(ctx context.Context) error {
	id, err := v.resolveID(ctx)
	if err != nil {
		return err
	}
	var body struct {
		Policy []map[string]any `json:"policy"`
	}
	if err := v.cc.GetJSON(ctx, commcell.VMAllocationPolicy.URL(id), &body); err != nil {
		return err
	}
	if len(body.Policy) == 0 || body.Policy[0] == nil {
		return sdkerrors.EmptyResponse()
	}
	v.mu.Lock()
	v.properties = body.Policy[0]
	v.mu.Unlock()
	return nil
}

// Properties returns a deep copy of the policy document, loading it on first
// use.
func (v *VMPolicy) Properties(ctx context.Context) (map[string]any, error) {
	if err := v.ensure(ctx); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return deepCopy(v.properties)
}

func (v *VMPolicy) ensure(ctx context.Context) error {
	v.mu.Lock()
	loaded := v.properties != nil
	v.mu.Unlock()
	if loaded {
		return nil
	}
	return v.Refresh(ctx)
}

// Enabled reports whether the policy is enabled.
func (v *VMPolicy) Enabled(ctx context.Context) (bool, error) {
	props, err := v.Properties(ctx)
	if err != nil {
		return false, err
	}
	enabled, _ := props["enabled"].(bool)
	return enabled, nil
}

// Update sends props as the new policy document. The policy is refreshed
// before the answer is checked, so a failed update still reloads the
// server's state.
func (v *VMPolicy) Update(ctx context.Context, props map[string]any) error {
	id, err := v.resolveID(ctx)
	if err != nil {
		return err
	}
	resp, reqErr := v.cc.Request(ctx, http.MethodPut, commcell.VMAllocationPolicy.URL(id),
		policyRequest{Action: 1, Policy: props})
	if err := v.Refresh(ctx); err != nil && reqErr == nil {
		return err
	}
	if reqErr != nil {
		return errors.Annotatef(reqErr, "updating VM policy %s", v.name)
	}
	var reply errorReply
	if err := commcell.Decode(resp, &reply); err != nil {
		return err
	}
	if st := reply.Status(); !st.OK() {
		return sdkerrors.Application(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("Failed to update virtual machine policy\nError: %q", st.Message))
	}
	return nil
}

func (v *VMPolicy) setEnabled(ctx context.Context, enabled bool) error {
	props, err := v.Properties(ctx)
	if err != nil {
		return err
	}
	if current, _ := props["enabled"].(bool); current == enabled {
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102", "Policy is already "+state)
	}
	props["enabled"] = enabled
	return v.Update(ctx, props)
}

// Enable turns a disabled policy on.
func (v *VMPolicy) Enable(ctx context.Context) error { return v.setEnabled(ctx, true) }

// Disable turns an enabled policy off.
func (v *VMPolicy) Disable(ctx context.Context) error { return v.setEnabled(ctx, false) }

// Clone creates a policy named name with this policy's properties.
func (v *VMPolicy) Clone(ctx context.Context, name string) (*VMPolicy, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "101", "")
	}
	policies := NewVMPolicies(v.cc)
	exists, err := policies.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("Policy %q already exists", name))
	}
	props, err := v.Properties(ctx)
	if err != nil {
		return nil, err
	}
	entity, _ := props["entity"].(map[string]any)
	if entity == nil {
		entity = map[string]any{}
		props["entity"] = entity
	}
	entity["vmAllocPolicyName"] = namemap.Key(name)
	delete(entity, "vmAllocPolicyId")
	return policies.create(ctx, policyRequest{Action: 0, Policy: props}, name)
}

func deepCopy(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

func (v *VMPolicy) String() string {
	return fmt.Sprintf("VirtualMachinePolicy %q", v.name)
}


// LiveMountOptions tune a live mount job.
type LiveMountOptions struct {
	VMName         string
	CopyPrecedence int
	NetworkName    string
	// PointInTime is "yyyy-mm-dd hh:mm:ss" in TimeZone.
	PointInTime string
	TimeZone    string
}

type clientListing struct {
	ClientProperties []struct {
		Client struct {
			ClientEntity struct {
				ClientName string `json:"clientName"`
			} `json:"clientEntity"`
		} `json:"client"`
	} `json:"clientProperties"`
}

func (v *VMPolicy) clientNames(ctx context.Context, svc commcell.Service) (map[string]bool, error) {
	var body clientListing
	if err := v.cc.GetJSON(ctx, svc.URL(), &body); err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(body.ClientProperties))
	for _, c := range body.ClientProperties {
		names[namemap.Key(c.Client.ClientEntity.ClientName)] = true
	}
	return names, nil
}

// hiddenClients lists the clients only visible with hiddenclients=true, which
// is where backed-up VMs show up.
func (v *VMPolicy) hiddenClients(ctx context.Context) (map[string]bool, error) {
	all, err := v.clientNames(ctx, commcell.ClientsWithHidden)
	if err != nil {
		return nil, err
	}
	visible, err := v.clientNames(ctx, commcell.Clients)
	if err != nil {
		return nil, err
	}
	for name := range visible {
		delete(all, name)
	}
	return all, nil
}

type liveMountVM struct {
	PowerOnVM                          bool           `json:"powerOnVM"`
	Flags                              int            `json:"flags"`
	UseLinkedClone                     bool           `json:"useLinkedClone"`
	Vendor                             int            `json:"vendor"`
	DoLinkedCloneFromLocalTemplateCopy bool           `json:"doLinkedCloneFromLocalTemplateCopy"`
	VMAllocPolicy                      map[string]any `json:"vmAllocPolicy"`
	OneTouchResponse                   map[string]any `json:"oneTouchResponse"`
	VMEntity                           map[string]any `json:"vmEntity"`
	VMInfo                             map[string]any `json:"vmInfo"`
}

type liveMountSubTask struct {
	SubTaskOperation int            `json:"subTaskOperation"`
	SubTask          map[string]int `json:"subTask"`
	Options          struct {
		AdminOpts struct {
			VMProvisioningOption struct {
				OperationType        int           `json:"operationType"`
				VirtualMachineOption []liveMountVM `json:"virtualMachineOption"`
			} `json:"vmProvisioningOption"`
		} `json:"adminOpts"`
	} `json:"options"`
}

type liveMountTask struct {
	TaskInfo struct {
		Associations []map[string]string `json:"associations"`
		Task         map[string]any      `json:"task"`
		SubTasks     []liveMountSubTask  `json:"subTasks"`
	} `json:"taskInfo"`
}

type liveMountReply struct {
	commcell.NestedStatus
	JobIDs []commcell.FlexInt `json:"jobIds"`
}

func (v *VMPolicy) liveMountTask(client, vmName string, opts LiveMountOptions) liveMountTask {
	var t liveMountTask
	t.TaskInfo.Associations = []map[string]string{{
		"clientName": client, "subclientName": "", "backupsetName": "", "instanceName": "", "appName": "",
	}}
	t.TaskInfo.Task = map[string]any{
		"taskType":      1,
		"initiatedFrom": 2,
		"alert":         map[string]string{"alertName": ""},
		"taskFlags":     map[string]bool{"disabled": false},
	}
	browseTime := map[string]string{}
	if opts.PointInTime != "" {
		browseTime = map[string]string{"timeValue": opts.PointInTime, "TimeZoneName": opts.TimeZone}
	}
	vm := liveMountVM{
		PowerOnVM:     true,
		Vendor:        1,
		VMAllocPolicy: map[string]any{"vmAllocPolicyName": v.name},
		OneTouchResponse: map[string]any{
			"copyPrecedence": opts.CopyPrecedence,
			"version":        "",
			"platform":       0,
			"dateCreated":    "",
			"automationTest": false,
			"autoReboot":     true,
			"csinfo": map[string]any{
				"firewallPort": 0, "cvdPort": 0, "evmgrPort": 0, "fwClientGroupName": "",
				"mediaAgentInfo": map[string]any{}, "mediaAgentIP": map[string]any{},
				"ip": map[string]any{}, "commservInfo": map[string]any{},
				"creds": map[string]string{"password": "", "domainName": "", "confirmPassword": "", "userName": ""},
			},
			"hwconfig": map[string]any{
				"vmName": vmName, "magicno": "", "bootFirmware": 0, "version": "",
				"mem_size": 0, "cpu_count": 0, "nic_count": 0, "overwriteVm": false,
				"useMtptSelection": false, "ide_count": 0, "mtpt_count": 0, "scsi_count": 0,
				"diskType": 1, "optimizeStorage": false,
				"systemDisk": map[string]any{
					"forceProvision": false, "bus": 0, "refcnt": 0, "size": 0, "name": "",
					"dataStoreName": "", "vm_disk_type": 0, "slot": 0, "diskType": 1, "tx_type": 0,
				},
			},
			"netconfig": map[string]any{
				"wins":     map[string]bool{"useDhcp": false},
				"firewall": map[string]string{"certificatePath": "", "certificateBlob": "", "configBlob": ""},
				"dns":      map[string]any{"suffix": "", "useDhcp": false},
				"ipinfo":   map[string]string{"defaultgw": ""},
			},
			"dataBrowseTime": browseTime,
			"maInfo":         map[string]string{"clientName": ""},
			"datastoreList":  map[string]any{},
		},
		VMEntity: map[string]any{"vmName": vmName, "clientName": client, "_type_": 88},
		VMInfo: map[string]any{
			"advancedProperties": map[string]any{
				"networkCards": []map[string]string{{"label": opts.NetworkName}},
			},
			"vm": map[string]any{"vmName": vmName, "_type_": 88},
		},
	}
	t.TaskInfo.SubTasks = make([]liveMountSubTask, 1)
	sub := &t.TaskInfo.SubTasks[0]
	sub.SubTaskOperation = 1
	sub.SubTask = map[string]int{"subTaskType": 1, "operationType": 4038}
	sub.Options.AdminOpts.VMProvisioningOption.OperationType = 23
	sub.Options.AdminOpts.VMProvisioningOption.VirtualMachineOption = []liveMountVM{vm}
	return t
}

// LiveMount mounts the backed-up VM client clientVM through this policy and
// returns the job id. Without opts.VMName the mounted VM is named after the
// client with a "VM" suffix, plus a counter while that name is taken.
func (v *VMPolicy) LiveMount(ctx context.Context, clientVM string, opts LiveMountOptions) (string, error) {
	if clientVM == "" {
		return "", sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "101", "")
	}
	if !v.typ.IsLiveMount() {
		return "", sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("Policy %q is not a Live Mount policy", v.name))
	}
	hidden, err := v.hiddenClients(ctx)
	if err != nil {
		return "", err
	}
	if !hidden[namemap.Key(clientVM)] {
		return "", sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("Client %q not found in Commcell", clientVM))
	}

	vmName := opts.VMName
	if vmName != "" {
		if hidden[namemap.Key(vmName)] {
			return "", sdkerrors.Precondition(sdkerrors.ModuleVirtualMachine, "102",
				fmt.Sprintf("A client already exists by the name %q", vmName))
		}
	} else {
		base := clientVM + "VM"
		vmName = base
		for i := 1; hidden[namemap.Key(vmName)]; i++ {
			vmName = base + strconv.Itoa(i)
		}
	}

	var reply liveMountReply
	err = v.cc.PostJSON(ctx, commcell.CreateTask.URL(), v.liveMountTask(clientVM, vmName, opts), &reply)
	if err != nil {
		return "", errors.Annotatef(err, "live mount of %s", clientVM)
	}
	if st := reply.Status(); !st.OK() {
		return "", sdkerrors.Application(sdkerrors.ModuleVirtualMachine, "102",
			fmt.Sprintf("Failed to run Live Mount\nError: %q", st.Message))
	}
	if len(reply.JobIDs) == 0 {
		return "", sdkerrors.Application(sdkerrors.ModuleVirtualMachine, "102", "Failed to run live mount")
	}
	v.mu.Lock()
	v.mountedVM = vmName
	v.mu.Unlock()
	log.WithFields(log.Fields{"policy": v.name, "client": clientVM, "vm": vmName, "job": reply.JobIDs[0].String()}).
		Info("live mount submitted")
	return reply.JobIDs[0].String(), nil
}

// MountedVMName is the VM name used by the last LiveMount call.
func (v *VMPolicy) MountedVMName() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mountedVM
}

type activeMountsRequest struct {
	XMLName xml.Name `xml:"Ida_GetVirtualMachinesReq"`
	Filter  struct {
		AllocationPolicy struct {
			ID string `xml:"vmAllocPolicyId,attr"`
		} `xml:"allocationPolicy"`
	} `xml:"filter"`
}

// ActiveMounts lists the VMs currently mounted through this policy.
func (v *VMPolicy) ActiveMounts(ctx context.Context) ([]map[string]any, error) {
	id, err := v.resolveID(ctx)
	if err != nil {
		return nil, err
	}
	var req activeMountsRequest
	req.Filter.AllocationPolicy.ID = id
	var body struct {
		VirtualMachines []map[string]any `json:"virtualMachines"`
	}
	if err := v.cc.QOperationExecute(ctx, req, &body); err != nil {
		return nil, err
	}
	return body.VirtualMachines, nil
}
