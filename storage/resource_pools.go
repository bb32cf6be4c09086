package storage

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// ResourcePoolType is the application a resource pool serves.
type ResourcePoolType int

const (
	ResourcePoolGeneric                 ResourcePoolType = 0
	ResourcePoolO365                    ResourcePoolType = 1
	ResourcePoolSalesforce              ResourcePoolType = 2
	ResourcePoolExchange                ResourcePoolType = 3
	ResourcePoolSharePoint              ResourcePoolType = 4
	ResourcePoolOneDrive                ResourcePoolType = 5
	ResourcePoolTeams                   ResourcePoolType = 6
	ResourcePoolDynamics365             ResourcePoolType = 7
	ResourcePoolVSA                     ResourcePoolType = 8
	ResourcePoolFileSystem              ResourcePoolType = 9
	ResourcePoolKubernetes              ResourcePoolType = 10
	ResourcePoolAzureAD                 ResourcePoolType = 11
	ResourcePoolCloudLaptop             ResourcePoolType = 12
	ResourcePoolFileStorageOptimization ResourcePoolType = 13
	ResourcePoolDataGovernance          ResourcePoolType = 14
	ResourcePoolEDiscovery              ResourcePoolType = 15
	ResourcePoolCloudDB                 ResourcePoolType = 16
	ResourcePoolObjectStorage           ResourcePoolType = 17
	ResourcePoolGmail                   ResourcePoolType = 18
	ResourcePoolGoogleDrive             ResourcePoolType = 19
	ResourcePoolGoogleWorkspace         ResourcePoolType = 20
	ResourcePoolServiceNow              ResourcePoolType = 21
	ResourcePoolThreatScan              ResourcePoolType = 22
	ResourcePoolDevOps                  ResourcePoolType = 23
	ResourcePoolRiskAnalysis            ResourcePoolType = 24
	ResourcePoolGoogleCloudPlatform     ResourcePoolType = 50001
)

// ResourcePoolInfo is one entry of the resource pool list.
type ResourcePoolInfo struct {
	ID      commcell.FlexInt `json:"id"`
	Name    string           `json:"name"`
	AppType commcell.FlexInt `json:"appType"`
}

// ResourcePools is the collection of resource pools.
type ResourcePools struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[ResourcePoolInfo]
}

func NewResourcePools(cc *commcell.Commcell) *ResourcePools {
	r := &ResourcePools{cc: cc}
	r.cache = namemap.NewCache("resource_pools", cc.CacheTTL(), r.load)
	return r
}

func (r *ResourcePools) load(ctx context.Context) (namemap.Map[ResourcePoolInfo], error) {
	resp, err := r.cc.Request(ctx, http.MethodGet, commcell.ResourcePools.URL(), nil)
	if err != nil {
		return namemap.Map[ResourcePoolInfo]{}, err
	}
	if resp.Empty() {
		return namemap.New[ResourcePoolInfo](0), nil
	}
	var body struct {
		ResourcePools *[]ResourcePoolInfo `json:"resourcePools"`
	}
	if err := resp.JSON(&body); err != nil {
		return namemap.Map[ResourcePoolInfo]{}, err
	}
	if body.ResourcePools == nil {
		return namemap.Map[ResourcePoolInfo]{}, sdkerrors.Application(sdkerrors.ModuleResourcePools, "103", "")
	}
	pools := namemap.New[ResourcePoolInfo](len(*body.ResourcePools))
	for _, p := range *body.ResourcePools {
		if p.Name == "" {
			continue
		}
		pools.Set(p.Name, p)
	}
	return pools, nil
}

// Refresh reloads the resource pool list.
func (r *ResourcePools) Refresh(ctx context.Context) error {
	_, err := r.cache.Refresh(ctx)
	return err
}

// All returns the pools keyed by lower-cased name.
func (r *ResourcePools) All(ctx context.Context) (map[string]ResourcePoolInfo, error) {
	m, err := r.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether a resource pool named name exists.
func (r *ResourcePools) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleResourcePools, "101", "")
	}
	m, err := r.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

func (r *ResourcePools) lookup(ctx context.Context, name string) (ResourcePoolInfo, error) {
	if name == "" {
		return ResourcePoolInfo{}, sdkerrors.Precondition(sdkerrors.ModuleResourcePools, "101", "")
	}
	m, err := r.cache.Get(ctx)
	if err != nil {
		return ResourcePoolInfo{}, err
	}
	info, ok := m.Get(name)
	if !ok {
		return ResourcePoolInfo{}, sdkerrors.Precondition(sdkerrors.ModuleResourcePools, "104", "")
	}
	return info, nil
}

// Get returns the resource pool named name.
func (r *ResourcePools) Get(ctx context.Context, name string) (*ResourcePool, error) {
	info, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewResourcePool(r.cc, name, info.ID.String()), nil
}

// ResourcePoolOptions carries the type-specific settings of a new pool.
type ResourcePoolOptions struct {
	// IndexServerName and IndexServerClientID are required for threat scan
	// pools.
	IndexServerName     string
	IndexServerClientID int
}

type resourcePoolBody struct {
	AppType         ResourcePoolType `json:"appType"`
	DataAccessNodes []any            `json:"dataAccessNodes"`
	ExtendedProp    struct {
		ExchangeOnePassClientProperties map[string]any `json:"exchangeOnePassClientProperties"`
	} `json:"extendedProp"`
	ResourcePool struct {
		ResourcePoolID   int    `json:"resourcePoolId"`
		ResourcePoolName string `json:"resourcePoolName"`
	} `json:"resourcePool"`
	ExchangeServerProps struct {
		JobResultsDirCredentials struct {
			UserName string `json:"userName"`
		} `json:"jobResultsDirCredentials"`
		JobResultsDirPath string `json:"jobResultsDirPath"`
	} `json:"exchangeServerProps"`
	RoleID             *int  `json:"roleId"`
	IndexServerMembers []any `json:"indexServerMembers"`
	IndexServer        struct {
		ClientID    int    `json:"clientId"`
		ClientName  string `json:"clientName"`
		DisplayName string `json:"displayName"`
		Selected    bool   `json:"selected"`
	} `json:"indexServer"`
	AccessNodes struct {
		ClientGroups []any `json:"clientGroups"`
		Clients      []any `json:"clients"`
	} `json:"accessNodes"`
}

func newResourcePoolBody(name string, poolType ResourcePoolType, opts ResourcePoolOptions) resourcePoolBody {
	b := resourcePoolBody{
		AppType:            poolType,
		DataAccessNodes:    []any{},
		IndexServerMembers: []any{},
	}
	b.ExtendedProp.ExchangeOnePassClientProperties = map[string]any{}
	b.ResourcePool.ResourcePoolName = name
	b.IndexServer.Selected = true
	b.AccessNodes.ClientGroups = []any{}
	b.AccessNodes.Clients = []any{}
	if poolType == ResourcePoolThreatScan {
		b.IndexServer.ClientID = opts.IndexServerClientID
		b.IndexServer.ClientName = opts.IndexServerName
		b.IndexServer.DisplayName = opts.IndexServerName
	}
	return b
}

// Create adds a resource pool. Only threat scan pools can be created through
// the API.
func (r *ResourcePools) Create(ctx context.Context, name string, poolType ResourcePoolType, opts ResourcePoolOptions) (*ResourcePool, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleResourcePools, "101", "")
	}
	if poolType != ResourcePoolThreatScan {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleResourcePools, "102",
			"Resource pool creation is not supported for this resource type")
	}
	if opts.IndexServerName == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleResourcePools, "102", "Index server name is missing in kwargs")
	}
	exists, err := r.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleResourcePools, "107", "")
	}

	req := struct {
		ResourcePool resourcePoolBody `json:"resourcePool"`
	}{ResourcePool: newResourcePoolBody(name, poolType, opts)}
	if err := r.send(ctx, http.MethodPost, commcell.CreateResourcePool.URL(), req, "creation", "108"); err != nil {
		return nil, err
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r.Get(ctx, name)
}

// Delete removes the resource pool named name.
func (r *ResourcePools) Delete(ctx context.Context, name string) error {
	info, err := r.lookup(ctx, name)
	if err != nil {
		return err
	}
	if err := r.send(ctx, http.MethodDelete, commcell.ResourcePool.URL(info.ID.String()), nil, "deletion", "106"); err != nil {
		return err
	}
	return r.Refresh(ctx)
}

// send issues a create or delete call. The answer must carry an error object;
// its absence is reported with missingCode.
func (r *ResourcePools) send(ctx context.Context, method, path string, body any, action, missingCode string) error {
	resp, err := r.cc.Request(ctx, method, path, body)
	if err != nil {
		return errors.Trace(err)
	}
	var status commcell.NestedStatus
	if !resp.Empty() {
		if err := resp.JSON(&status); err != nil {
			return err
		}
	}
	if status.Error == nil {
		return sdkerrors.Application(sdkerrors.ModuleResourcePools, missingCode, "")
	}
	if code := status.Error.ErrorCode.Int(); code != 0 {
		return sdkerrors.Application(sdkerrors.ModuleResourcePools, "102",
			fmt.Sprintf("Resource pool %s failed with error code %d: %s", action, code, status.Status().Message))
	}
	return nil
}

// ResourcePoolProperties is the detail view of a resource pool.
type ResourcePoolProperties struct {
	Name string
	ID   int
	Type ResourcePoolType
}

// ResourcePool is a single resource pool.
type ResourcePool struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	name   string
	id     string
	props  ResourcePoolProperties
	loaded bool
}

func NewResourcePool(cc *commcell.Commcell, name, id string) *ResourcePool {
	return &ResourcePool{cc: cc, name: namemap.Key(name), id: id}
}

func (p *ResourcePool) Name() string { return p.name }

// Refresh reloads the pool details.
func (p *ResourcePool) Refresh(ctx context.Context) error {
	p.mu.Lock()
	id := p.id
	p.mu.Unlock()
	if id == "" {
		info, err := NewResourcePools(p.cc).lookup(ctx, p.name)
		if err != nil {
			return err
		}
		id = info.ID.String()
	}

	var body struct {
		ResourcePool *struct {
			AppType      commcell.FlexInt `json:"appType"`
			ResourcePool struct {
				ResourcePoolID   commcell.FlexInt `json:"resourcePoolId"`
				ResourcePoolName string           `json:"resourcePoolName"`
			} `json:"resourcePool"`
		} `json:"resourcePool"`
	}
	resp, err := p.cc.Request(ctx, http.MethodGet, commcell.ResourcePool.URL(id), nil)
	if err != nil {
		return err
	}
	if !resp.Empty() {
		if err := resp.JSON(&body); err != nil {
			return err
		}
	}
	if body.ResourcePool == nil {
		return sdkerrors.Application(sdkerrors.ModuleResourcePools, "105", "")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
	p.props = ResourcePoolProperties{
		Name: body.ResourcePool.ResourcePool.ResourcePoolName,
		ID:   body.ResourcePool.ResourcePool.ResourcePoolID.Int(),
		Type: ResourcePoolType(body.ResourcePool.AppType.Int()),
	}
	p.loaded = true
	return nil
}

// Properties returns the pool details, loading them on first use.
func (p *ResourcePool) Properties(ctx context.Context) (ResourcePoolProperties, error) {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if !loaded {
		if err := p.Refresh(ctx); err != nil {
			return ResourcePoolProperties{}, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props, nil
}
