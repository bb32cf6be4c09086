package storage

import (
	"context"
	"net/http"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// Entity types that can be placed in a region.
const (
	EntityCommcell    = "COMMCELL"
	EntityCompany     = "COMPANY"
	EntityClient      = "CLIENT"
	EntityClientGroup = "CLIENT_GROUP"
	EntityMediaAgent  = "MEDIAAGENT"
	EntityStoragePool = "STORAGE_POOL"
	EntityPlan        = "PLAN"
)

// Region types.
const (
	RegionWorkload = "WORKLOAD"
	RegionBackup   = "BACKUP"
)

// Regions is the collection of regions and the entry point for placing
// entities in them.
type Regions struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[string]
}

func NewRegions(cc *commcell.Commcell) *Regions {
	r := &Regions{cc: cc}
	r.cache = namemap.NewCache("regions", cc.CacheTTL(), r.load)
	return r
}

func (r *Regions) load(ctx context.Context) (namemap.Map[string], error) {
	var body struct {
		Regions *[]struct {
			ID   commcell.FlexInt `json:"id"`
			Name string           `json:"name"`
		} `json:"regions"`
	}
	if err := r.cc.GetJSON(ctx, commcell.Regions.URL(), &body); err != nil {
		return namemap.Map[string]{}, err
	}
	if body.Regions == nil {
		return namemap.Map[string]{}, sdkerrors.EmptyResponse()
	}
	regions := namemap.New[string](len(*body.Regions))
	for _, region := range *body.Regions {
		regions.Set(region.Name, region.ID.String())
	}
	return regions, nil
}

// Refresh reloads the region list.
func (r *Regions) Refresh(ctx context.Context) error {
	_, err := r.cache.Refresh(ctx)
	return err
}

// All returns region ids keyed by lower-cased name.
func (r *Regions) All(ctx context.Context) (map[string]string, error) {
	m, err := r.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether a region named name exists.
func (r *Regions) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleRegion, "102", "Invalid input received")
	}
	m, err := r.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

// Get returns the region named name.
func (r *Regions) Get(ctx context.Context, name string) (*Region, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRegion, "102", "Invalid input received")
	}
	m, err := r.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := m.Get(name)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRegion, "103", "Region not present in commcell")
	}
	return NewRegion(r.cc, name, id), nil
}

type regionStatus struct {
	ErrorCode    *commcell.FlexInt `json:"errorCode"`
	ErrorMessage string            `json:"errorMessage"`
	RegionID     commcell.FlexInt  `json:"regionId"`
}

func (s regionStatus) failed() bool {
	return s.ErrorCode != nil && s.ErrorCode.Int() != 0
}

// SetRegion associates an entity with a region.
func (r *Regions) SetRegion(ctx context.Context, entityType string, entityID int, regionType string, regionID int) error {
	req := struct {
		EntityRegionType string `json:"entityRegionType"`
		Region           struct {
			ID int `json:"id"`
		} `json:"region"`
	}{EntityRegionType: regionType}
	req.Region.ID = regionID

	var status regionStatus
	if err := r.cc.PutJSON(ctx, commcell.EditEntityRegion.URL(entityType, entityID), req, &status); err != nil {
		return errors.Trace(err)
	}
	if !status.failed() {
		return nil
	}
	switch status.ErrorCode.Int() {
	case 50000:
		return sdkerrors.Application(sdkerrors.ModuleRegions, "101", "")
	case 547:
		return sdkerrors.Application(sdkerrors.ModuleRegions, "102", "Invalid regionID provided in request")
	default:
		return sdkerrors.Application(sdkerrors.ModuleRegions, "102", status.ErrorMessage)
	}
}

// GetRegion returns the region id associated with an entity. An entity
// without a region yields 0.
func (r *Regions) GetRegion(ctx context.Context, entityType string, entityID int, regionType string) (int, error) {
	resp, err := r.cc.Request(ctx, http.MethodGet, commcell.GetEntityRegion.URL(entityType, entityID, regionType), nil)
	if err != nil {
		return 0, err
	}
	if resp.Empty() {
		return 0, nil
	}
	var status regionStatus
	if err := resp.JSON(&status); err != nil {
		return 0, err
	}
	if status.failed() {
		return 0, sdkerrors.Application(sdkerrors.ModuleRegions, "102", status.ErrorMessage)
	}
	return status.RegionID.Int(), nil
}

// CalculateRegion asks the server which region an entity would be placed in.
func (r *Regions) CalculateRegion(ctx context.Context, entityType string, entityID int, regionType string) (int, error) {
	var status regionStatus
	if err := r.cc.GetJSON(ctx, commcell.CalculateEntityRegion.URL(entityType, entityID, regionType), &status); err != nil {
		return 0, err
	}
	if status.failed() {
		return 0, sdkerrors.Application(sdkerrors.ModuleRegions, "102", status.ErrorMessage)
	}
	return status.RegionID.Int(), nil
}

// RegionDetails is the detail view of a region.
type RegionDetails struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"displayName"`
	Type        string           `json:"regionType"`
	Locations   []RegionLocation `json:"locations"`
}

// RegionLocation is one geographic location of a region.
type RegionLocation struct {
	City      string `json:"city"`
	State     string `json:"state"`
	Country   string `json:"country"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// Region is a single region.
type Region struct {
	cc *commcell.Commcell

	mu      sync.Mutex
	name    string
	id      string
	details RegionDetails
	loaded  bool
}

func NewRegion(cc *commcell.Commcell, name, id string) *Region {
	return &Region{cc: cc, name: namemap.Key(name), id: id}
}

func (r *Region) Name() string { return r.name }

// ID returns the region id, resolving it through the region list when the
// handle was built without one.
func (r *Region) ID(ctx context.Context) (string, error) {
	r.mu.Lock()
	id := r.id
	r.mu.Unlock()
	if id != "" {
		return id, nil
	}
	region, err := NewRegions(r.cc).Get(ctx, r.name)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = region.id
	return r.id, nil
}

// Refresh reloads the region details.
func (r *Region) Refresh(ctx context.Context) error {
	id, err := r.ID(ctx)
	if err != nil {
		return err
	}
	var details RegionDetails
	if err := r.cc.GetJSON(ctx, commcell.Region.URL(id), &details); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details = details
	r.loaded = true
	return nil
}

// Details returns the region details, loading them on first use.
func (r *Region) Details(ctx context.Context) (RegionDetails, error) {
	r.mu.Lock()
	loaded := r.loaded
	r.mu.Unlock()
	if !loaded {
		if err := r.Refresh(ctx); err != nil {
			return RegionDetails{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.details, nil
}
