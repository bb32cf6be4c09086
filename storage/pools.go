// Package storage manages storage pools, resource pools and the regions that
// entities are placed in.
package storage

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

// MediaAgent identifies a media agent by name and id.
type MediaAgent struct {
	Name string
	ID   int
}

type mediaAgentRef struct {
	MediaAgentID   int    `json:"mediaAgentId"`
	MediaAgentName string `json:"mediaAgentName"`
}

func (m MediaAgent) ref() mediaAgentRef {
	return mediaAgentRef{MediaAgentID: m.ID, MediaAgentName: m.Name}
}

type storagePoolListResponse struct {
	XMLName xml.Name `xml:"Api_GetStoragePoolListResp"`
	Pools   []struct {
		Entity struct {
			Name string `xml:"storagePoolName,attr"`
			ID   string `xml:"storagePoolId,attr"`
		} `xml:"storagePoolEntity"`
	} `xml:"storagePoolList"`
}

// StoragePools is the collection of storage pools.
type StoragePools struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[string]
}

// NewStoragePools returns the storage pool collection. The list is fetched on
// first use.
func NewStoragePools(cc *commcell.Commcell) *StoragePools {
	s := &StoragePools{cc: cc}
	s.cache = namemap.NewCache("storage_pools", cc.CacheTTL(), s.load)
	return s
}

func (s *StoragePools) load(ctx context.Context) (namemap.Map[string], error) {
	var body storagePoolListResponse
	if err := s.cc.GetXML(ctx, commcell.StoragePools.URL(), &body); err != nil {
		if sdkerrors.IsEmptyResponse(err) {
			return namemap.New[string](0), nil
		}
		return namemap.Map[string]{}, err
	}
	pools := namemap.New[string](len(body.Pools))
	for _, p := range body.Pools {
		pools.Set(p.Entity.Name, p.Entity.ID)
	}
	return pools, nil
}

// Refresh reloads the storage pool list.
func (s *StoragePools) Refresh(ctx context.Context) error {
	_, err := s.cache.Refresh(ctx)
	return err
}

// All returns pool ids keyed by lower-cased name.
func (s *StoragePools) All(ctx context.Context) (map[string]string, error) {
	m, err := s.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether a pool named name exists.
func (s *StoragePools) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleStorage, "101", "")
	}
	m, err := s.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

// NameByID returns the name of the pool with the given id.
func (s *StoragePools) NameByID(ctx context.Context, id string) (string, error) {
	m, err := s.cache.Get(ctx)
	if err != nil {
		return "", err
	}
	name, _, ok := m.Find(func(v string) bool { return v == id })
	if !ok {
		return "", sdkerrors.Precondition(sdkerrors.ModuleStoragePool, "103", "No storage pool exists with the given Name / Id")
	}
	return name, nil
}

// Get returns the pool named name.
func (s *StoragePools) Get(ctx context.Context, name string) (*StoragePool, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleStorage, "101", "")
	}
	m, err := s.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := m.Get(name)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleStoragePool, "103", "")
	}
	return NewStoragePool(s.cc, name, id), nil
}

// PoolOptions describes a deduplicated disk storage pool.
type PoolOptions struct {
	Name       string
	MountPath  string
	MediaAgent MediaAgent
	// DDBMediaAgent hosts the deduplication database at DedupPath.
	DDBMediaAgent MediaAgent
	DedupPath     string
}

type poolStorage struct {
	Path        string         `json:"path"`
	MediaAgent  mediaAgentRef  `json:"mediaAgent"`
	Credentials map[string]any `json:"credentials"`
}

type subStore struct {
	AccessPath struct {
		Path string `json:"path"`
	} `json:"accessPath"`
}

type ddbPartition struct {
	MediaAgent   mediaAgentRef `json:"mediaAgent"`
	SubStoreList []subStore    `json:"subStoreList"`
}

type poolCopyInfo struct {
	CopyType    int  `json:"copyType"`
	IsFromGui   bool `json:"isFromGui"`
	Active      int  `json:"active"`
	IsDefault   int  `json:"isDefault"`
	DedupeFlags struct {
		EnableDASHFull       int `json:"enableDASHFull"`
		HostGlobalDedupStore int `json:"hostGlobalDedupStore"`
		EnableDeduplication  int `json:"enableDeduplication"`
	} `json:"dedupeFlags"`
	StoragePolicyFlags struct {
		BlockLevelDedup           int `json:"blockLevelDedup"`
		EnableGlobalDeduplication int `json:"enableGlobalDeduplication"`
	} `json:"storagePolicyFlags"`
	DDBPartitionInfo struct {
		MAInfoList []ddbPartition `json:"maInfoList"`
	} `json:"DDBPartitionInfo"`
	Library struct {
		LibraryName string `json:"libraryName"`
	} `json:"library"`
	MediaAgent mediaAgentRef `json:"mediaAgent"`
}

type createPoolRequest struct {
	StoragePolicyName     string        `json:"storagePolicyName"`
	Type                  int           `json:"type"`
	CopyName              string        `json:"copyName"`
	NumberOfCopies        int           `json:"numberOfCopies"`
	Storage               []poolStorage `json:"storage"`
	StoragePolicyCopyInfo poolCopyInfo  `json:"storagePolicyCopyInfo"`
}

func (o PoolOptions) request() createPoolRequest {
	req := createPoolRequest{
		StoragePolicyName: o.Name,
		Type:              1,
		CopyName:          "Primary",
		NumberOfCopies:    1,
		Storage: []poolStorage{{
			Path:        o.MountPath,
			MediaAgent:  o.MediaAgent.ref(),
			Credentials: map[string]any{},
		}},
	}
	info := &req.StoragePolicyCopyInfo
	info.CopyType = 1
	info.IsFromGui = true
	info.Active = 1
	info.IsDefault = 1
	info.DedupeFlags.EnableDASHFull = 1
	info.DedupeFlags.HostGlobalDedupStore = 1
	info.DedupeFlags.EnableDeduplication = 1
	info.StoragePolicyFlags.BlockLevelDedup = 1
	info.StoragePolicyFlags.EnableGlobalDeduplication = 1
	info.Library.LibraryName = o.MountPath
	info.MediaAgent = o.MediaAgent.ref()

	var store subStore
	store.AccessPath.Path = o.DedupPath
	info.DDBPartitionInfo.MAInfoList = []ddbPartition{{
		MediaAgent:   o.DDBMediaAgent.ref(),
		SubStoreList: []subStore{store},
	}}
	return req
}

// checkPoolStatus reads the nested error of a create or delete answer.
func checkPoolStatus(resp *transport.Response, module, prefix string) error {
	if resp.Empty() {
		return sdkerrors.EmptyResponse()
	}
	var status commcell.NestedStatus
	if err := resp.JSON(&status); err != nil {
		return err
	}
	if status.Error == nil || status.Error.ErrorCode.Int() == 0 {
		return nil
	}
	return sdkerrors.Application(module, "102", fmt.Sprintf("%s\nError: %q", prefix, status.Error.ErrorMessage))
}

// Add creates a deduplicated disk storage pool.
func (s *StoragePools) Add(ctx context.Context, opts PoolOptions) (*StoragePool, error) {
	if opts.Name == "" || opts.MountPath == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleStorage, "101", "")
	}
	if opts.MediaAgent.Name == "" || opts.DDBMediaAgent.Name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleStorage, "103", "")
	}
	exists, err := s.Has(ctx, opts.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleStoragePool, "102",
			fmt.Sprintf("Storage pool %q already exists.", opts.Name))
	}

	resp, err := s.cc.Request(ctx, http.MethodPost, commcell.AddStoragePool.URL(), opts.request())
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := checkPoolStatus(resp, sdkerrors.ModuleStoragePool, "Failed to create storage policy"); err != nil {
		return nil, err
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.Get(ctx, opts.Name)
}

type hyperscaleRequest struct {
	XMLName        xml.Name `xml:"App_CreateStoragePolicyReq"`
	Name           string   `xml:"storagePolicyName,attr"`
	CopyName       string   `xml:"copyName,attr"`
	Type           int      `xml:"type,attr"`
	NumberOfCopies int      `xml:"numberOfCopies,attr"`
	CopyInfo       struct {
		Flags struct {
			ScaleOut int `xml:"scaleOutStoragePolicy,attr"`
		} `xml:"storagePolicyFlags"`
	} `xml:"storagePolicyCopyInfo"`
	Storage  []hyperscaleNode `xml:"storage"`
	ScaleOut struct {
		ConfigurationType int `xml:"configurationType,attr"`
	} `xml:"scaleoutConfiguration"`
}

type hyperscaleNode struct {
	MediaAgent struct {
		ID          int    `xml:"mediaAgentId,attr"`
		Name        string `xml:"mediaAgentName,attr"`
		DisplayName string `xml:"displayName,attr"`
	} `xml:"mediaAgent"`
}

func newHyperscaleRequest(name string, agents []MediaAgent) hyperscaleRequest {
	req := hyperscaleRequest{Name: name, CopyName: name + "_Primary", Type: 1, NumberOfCopies: 1}
	req.CopyInfo.Flags.ScaleOut = 1
	req.ScaleOut.ConfigurationType = 1
	req.Storage = make([]hyperscaleNode, len(agents))
	for i, ma := range agents {
		req.Storage[i].MediaAgent.ID = ma.ID
		req.Storage[i].MediaAgent.Name = ma.Name
		req.Storage[i].MediaAgent.DisplayName = ma.Name
	}
	return req
}

func checkHyperscaleAgents(agents []MediaAgent, detail string) error {
	for _, ma := range agents {
		if ma.Name == "" {
			return sdkerrors.Precondition(sdkerrors.ModuleStorage, "103", "")
		}
	}
	if len(agents) < 3 {
		return sdkerrors.Precondition(sdkerrors.ModuleStorage, "102", detail)
	}
	return nil
}

// AddHyperscale creates a scale-out storage pool over at least three media
// agents.
func (s *StoragePools) AddHyperscale(ctx context.Context, name string, agents []MediaAgent) (*StoragePool, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleStorage, "101", "")
	}
	if err := checkHyperscaleAgents(agents, "minimum 3 media agents are required"); err != nil {
		return nil, err
	}
	resp, err := s.cc.SendXML(ctx, commcell.AddStoragePool.URL(), newHyperscaleRequest(name, agents), transport.ContentTypeJSON)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := checkPoolStatus(resp, sdkerrors.ModuleStoragePool, "Failed to create storage pool"); err != nil {
		return nil, err
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.Get(ctx, name)
}

// Delete removes the pool named name.
func (s *StoragePools) Delete(ctx context.Context, name string) error {
	if name == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleStorage, "101", "")
	}
	m, err := s.cache.Get(ctx)
	if err != nil {
		return err
	}
	key := namemap.Key(name)
	id, ok := m.Get(key)
	if !ok {
		return sdkerrors.Precondition(sdkerrors.ModuleStorage, "102", "No storage pool exists with name: "+key)
	}
	resp, err := s.cc.Request(ctx, http.MethodDelete, commcell.DeleteStoragePool.URL(id), nil)
	if err != nil {
		return errors.Trace(err)
	}
	if err := checkPoolStatus(resp, sdkerrors.ModuleStorage, "Failed to delete storage pools "+key); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// PoolProperties is the detail view of a storage pool.
type PoolProperties struct {
	Name             string
	ID               string
	GlobalPolicyName string
	StoragePolicyID  int
	CopyID           int
	// Raw is the full detail document.
	Raw json.RawMessage
}

type poolDetails struct {
	StoragePoolDetails *struct {
		CopyInfo struct {
			StoragePolicyCopy struct {
				StoragePolicyName string           `json:"storagePolicyName"`
				StoragePolicyID   commcell.FlexInt `json:"storagePolicyId"`
				CopyID            commcell.FlexInt `json:"copyId"`
			} `json:"StoragePolicyCopy"`
		} `json:"copyInfo"`
	} `json:"storagePoolDetails"`
}

// StoragePool is a single storage pool.
type StoragePool struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	name   string
	id     string
	props  PoolProperties
	loaded bool
}

// NewStoragePool returns a handle on a pool. An empty id is resolved through
// the pool list on first use.
func NewStoragePool(cc *commcell.Commcell, name, id string) *StoragePool {
	return &StoragePool{cc: cc, name: namemap.Key(name), id: id}
}

func (p *StoragePool) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *StoragePool) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *StoragePool) resolveID(ctx context.Context) (string, error) {
	if id := p.ID(); id != "" {
		return id, nil
	}
	pool, err := NewStoragePools(p.cc).Get(ctx, p.Name())
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.id = pool.id
	p.mu.Unlock()
	return pool.id, nil
}

// Refresh reloads the pool details.
func (p *StoragePool) Refresh(ctx context.Context) error {
	id, err := p.resolveID(ctx)
	if err != nil {
		return err
	}
	resp, err := p.cc.Request(ctx, http.MethodGet, commcell.StoragePool.URL(id), nil)
	if err != nil {
		return err
	}
	var details poolDetails
	if err := resp.JSON(&details); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.props = PoolProperties{Name: p.name, ID: id, Raw: json.RawMessage(resp.Body)}
	if d := details.StoragePoolDetails; d != nil {
		c := d.CopyInfo.StoragePolicyCopy
		p.props.GlobalPolicyName = c.StoragePolicyName
		p.props.StoragePolicyID = c.StoragePolicyID.Int()
		p.props.CopyID = c.CopyID.Int()
	}
	p.loaded = true
	return nil
}

// Properties returns the pool details, loading them on first use.
func (p *StoragePool) Properties(ctx context.Context) (PoolProperties, error) {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if !loaded {
		if err := p.Refresh(ctx); err != nil {
			return PoolProperties{}, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props, nil
}

// edit posts an edit request and checks the flat status.
func (p *StoragePool) edit(ctx context.Context, path string, req any, failure string) error {
	resp, err := p.cc.Request(ctx, http.MethodPost, path, req)
	if err != nil {
		return errors.Trace(err)
	}
	if resp.Empty() {
		return sdkerrors.EmptyResponse()
	}
	var status commcell.TopLevelStatus
	if err := resp.JSON(&status); err != nil {
		return err
	}
	if status.ErrorCode.Int() != 0 {
		return sdkerrors.Application(sdkerrors.ModuleStoragePool, "102",
			fmt.Sprintf("%s\nError: %q", failure, status.ErrorMessage))
	}
	return p.Refresh(ctx)
}

type scaleoutPolicy struct {
	StoragePolicyName string `json:"storagePolicyName"`
	StoragePolicyID   int    `json:"storagePolicyId,omitempty"`
}

type scaleoutNode struct {
	MediaAgent struct {
		DisplayName    string `json:"displayName"`
		MediaAgentName string `json:"mediaAgentName"`
	} `json:"mediaAgent"`
}

// HyperscaleAddNodes adds at least three media agents to a scale-out pool.
func (p *StoragePool) HyperscaleAddNodes(ctx context.Context, agents []MediaAgent) error {
	if err := checkHyperscaleAgents(agents, "Minimum 3 MediaAgents required"); err != nil {
		return err
	}
	req := struct {
		OperationType int            `json:"scaleoutOperationType"`
		StoragePolicy scaleoutPolicy `json:"StoragePolicy"`
		Storage       []scaleoutNode `json:"storage"`
		Configuration struct {
			ConfigurationType int `json:"configurationType"`
		} `json:"scaleoutConfiguration"`
	}{OperationType: 2, StoragePolicy: scaleoutPolicy{StoragePolicyName: p.Name()}}
	req.Configuration.ConfigurationType = 1
	for _, ma := range agents {
		var node scaleoutNode
		node.MediaAgent.DisplayName = strconv.Itoa(ma.ID)
		node.MediaAgent.MediaAgentName = ma.Name
		req.Storage = append(req.Storage, node)
	}
	return p.edit(ctx, commcell.EditStoragePool.URL(), req, "Failed to add nodes to storage pool")
}

// HyperscaleReconfigure retries the configuration of a scale-out pool that
// failed to come up, naming it storagePolicyName.
func (p *StoragePool) HyperscaleReconfigure(ctx context.Context, storagePolicyName string) error {
	if storagePolicyName == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleStorage, "101", "")
	}
	id, err := p.resolveID(ctx)
	if err != nil {
		return err
	}
	policyID, err := strconv.Atoi(id)
	if err != nil {
		return sdkerrors.Precondition(sdkerrors.ModuleStorage, "101", "storage pool id is not numeric: "+id)
	}
	req := struct {
		OperationType int            `json:"scaleoutOperationType"`
		StoragePolicy scaleoutPolicy `json:"StoragePolicy"`
	}{OperationType: 4, StoragePolicy: scaleoutPolicy{StoragePolicyName: storagePolicyName, StoragePolicyID: policyID}}
	return p.edit(ctx, commcell.EditStoragePool.URL(), req, "Failed to reconfigure storage pool")
}

// HyperscaleReplaceDisk replaces disk diskID hosted on agent.
func (p *StoragePool) HyperscaleReplaceDisk(ctx context.Context, diskID int, agent MediaAgent) error {
	if agent.Name == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleStorage, "103", "")
	}
	id, err := p.resolveID(ctx)
	if err != nil {
		return err
	}
	poolID, err := strconv.Atoi(id)
	if err != nil {
		return sdkerrors.Precondition(sdkerrors.ModuleStorage, "101", "storage pool id is not numeric: "+id)
	}
	type typedMediaAgent struct {
		Type           int    `json:"_type_"`
		MediaAgentID   int    `json:"mediaAgentId"`
		MediaAgentName string `json:"mediaAgentName"`
	}
	req := struct {
		DriveID       int             `json:"driveId"`
		OperationType int             `json:"operationType"`
		MediaAgent    typedMediaAgent `json:"mediaAgent"`
		Pool          struct {
			Type int    `json:"_type_"`
			ID   int    `json:"storagePoolId"`
			Name string `json:"storagePoolName"`
		} `json:"scaleoutStoragePool"`
	}{DriveID: diskID, OperationType: 1, MediaAgent: typedMediaAgent{Type: 11, MediaAgentID: agent.ID, MediaAgentName: agent.Name}}
	req.Pool.Type = 160
	req.Pool.ID = poolID
	req.Pool.Name = p.Name()
	return p.edit(ctx, commcell.ReplaceDiskPool.URL(), req, "Failed to replace disk")
}
