package dr

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// RecoveryStatus is the cleanroom recovery state of a recovery group entity.
type RecoveryStatus int

const (
	StatusNone                RecoveryStatus = 0
	StatusNotReady            RecoveryStatus = 1
	StatusReady               RecoveryStatus = 2
	StatusRecovered           RecoveryStatus = 3
	StatusFailed              RecoveryStatus = 4
	StatusRecoveredWithErrors RecoveryStatus = 5
	StatusInProgress          RecoveryStatus = 6
	StatusCleanedUp           RecoveryStatus = 7
)

// Recoverable reports whether an entity in status s can be submitted for
// recovery.
func (s RecoveryStatus) Recoverable() bool {
	return s != StatusNotReady && s != StatusInProgress
}

// RecoveryGroups is the collection of cleanroom recovery groups.
type RecoveryGroups struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[string]
}

func NewRecoveryGroups(cc *commcell.Commcell) *RecoveryGroups {
	g := &RecoveryGroups{cc: cc}
	g.cache = namemap.NewCache("recovery_groups", cc.CacheTTL(), g.load)
	return g
}

func (g *RecoveryGroups) load(ctx context.Context) (namemap.Map[string], error) {
	var body struct {
		RecoveryGroups *[]struct {
			ID   commcell.FlexInt `json:"id"`
			Name string           `json:"name"`
		} `json:"recoveryGroups"`
	}
	if err := g.cc.GetJSON(ctx, commcell.RecoveryGroups.URL(), &body); err != nil {
		return namemap.Map[string]{}, err
	}
	if body.RecoveryGroups == nil {
		return namemap.Map[string]{}, sdkerrors.EmptyResponse()
	}
	groups := namemap.New[string](len(*body.RecoveryGroups))
	for _, rg := range *body.RecoveryGroups {
		groups.Set(rg.Name, rg.ID.String())
	}
	return groups, nil
}

func (g *RecoveryGroups) Refresh(ctx context.Context) error {
	_, err := g.cache.Refresh(ctx)
	return err
}

// All returns recovery group ids keyed by lower-cased name.
func (g *RecoveryGroups) All(ctx context.Context) (map[string]string, error) {
	m, err := g.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

func (g *RecoveryGroups) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleRecoveryGroup, "101", "")
	}
	m, err := g.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

// Get returns the recovery group named name.
func (g *RecoveryGroups) Get(ctx context.Context, name string) (*RecoveryGroup, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRecoveryGroup, "101", "")
	}
	m, err := g.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := m.Get(name)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRecoveryGroup, "102",
			"No recovery group exists with name: "+name)
	}
	return NewRecoveryGroup(g.cc, name, id), nil
}

// Delete removes the recovery group named name.
func (g *RecoveryGroups) Delete(ctx context.Context, name string) error {
	group, err := g.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := group.Delete(ctx); err != nil {
		return err
	}
	return g.Refresh(ctx)
}

// RecoveryEntity is one VM or application in a recovery group.
type RecoveryEntity struct {
	ID             int
	Name           string
	RecoveryStatus RecoveryStatus
}

func (e *RecoveryEntity) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             commcell.FlexInt `json:"id"`
		Name           string           `json:"name"`
		RecoveryStatus commcell.FlexInt `json:"recoveryStatus"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = RecoveryEntity{ID: raw.ID.Int(), Name: raw.Name, RecoveryStatus: RecoveryStatus(raw.RecoveryStatus.Int())}
	return nil
}

// RecoveryGroupProperties is the detail view of a recovery group.
type RecoveryGroupProperties struct {
	Entities []RecoveryEntity `json:"entities"`
	Raw      json.RawMessage  `json:"-"`
}

// RecoveryGroup is a single cleanroom recovery group.
type RecoveryGroup struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	name   string
	id     string
	props  RecoveryGroupProperties
	loaded bool
}

func NewRecoveryGroup(cc *commcell.Commcell, name, id string) *RecoveryGroup {
	return &RecoveryGroup{cc: cc, name: namemap.Key(name), id: id}
}

func (g *RecoveryGroup) Name() string { return g.name }

func (g *RecoveryGroup) ID(ctx context.Context) (string, error) {
	g.mu.Lock()
	id := g.id
	g.mu.Unlock()
	if id != "" {
		return id, nil
	}
	group, err := NewRecoveryGroups(g.cc).Get(ctx, g.name)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.id = group.id
	return g.id, nil
}

// Refresh reloads the group and its entities.
func (g *RecoveryGroup) Refresh(ctx context.Context) error {
	id, err := g.ID(ctx)
	if err != nil {
		return err
	}
	var raw json.RawMessage
	if err := g.cc.GetJSON(ctx, commcell.RecoveryGroup.URL(id), &raw); err != nil {
		return err
	}
	var props RecoveryGroupProperties
	if err := json.Unmarshal(raw, &props); err != nil {
		return sdkerrors.EmptyResponse().Wrap(err)
	}
	props.Raw = raw
	g.mu.Lock()
	defer g.mu.Unlock()
	g.props = props
	g.loaded = true
	return nil
}

func (g *RecoveryGroup) Properties(ctx context.Context) (RecoveryGroupProperties, error) {
	g.mu.Lock()
	loaded := g.loaded
	g.mu.Unlock()
	if !loaded {
		if err := g.Refresh(ctx); err != nil {
			return RecoveryGroupProperties{}, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.props, nil
}

// Entities lists the entities of the group.
func (g *RecoveryGroup) Entities(ctx context.Context) ([]RecoveryEntity, error) {
	p, err := g.Properties(ctx)
	return p.Entities, err
}

// Recover submits the given entities for recovery and returns the job id.
func (g *RecoveryGroup) Recover(ctx context.Context, entityIDs []int) (string, error) {
	id, err := g.ID(ctx)
	if err != nil {
		return "", err
	}
	type ref struct {
		ID int `json:"id"`
	}
	req := struct {
		RecoveryGroup ref   `json:"recoveryGroup"`
		Entities      []ref `json:"entities"`
	}{RecoveryGroup: ref{ID: atoi(id)}, Entities: make([]ref, 0, len(entityIDs))}
	for _, e := range entityIDs {
		req.Entities = append(req.Entities, ref{ID: e})
	}

	var resp struct {
		JobID *commcell.FlexInt `json:"jobId"`
	}
	if err := g.cc.PostJSON(ctx, commcell.RecoveryGroupRecover.URL(id), req, &resp); err != nil {
		return "", errors.Annotatef(err, "recovering group %s", g.name)
	}
	if resp.JobID == nil {
		return "", sdkerrors.EmptyResponse().Wrap(errors.New("job id not found in response"))
	}
	return resp.JobID.String(), nil
}

// RecoverAll recovers every entity that is neither not ready nor already in
// progress.
func (g *RecoveryGroup) RecoverAll(ctx context.Context) (string, error) {
	entities, err := g.Entities(ctx)
	if err != nil {
		return "", err
	}
	var ids []int
	for _, e := range entities {
		if e.RecoveryStatus.Recoverable() {
			ids = append(ids, e.ID)
		}
	}
	return g.Recover(ctx, ids)
}

// Delete removes the recovery group.
func (g *RecoveryGroup) Delete(ctx context.Context) error {
	id, err := g.ID(ctx)
	if err != nil {
		return err
	}
	var status commcell.NestedStatus
	if err := g.cc.Delete(ctx, commcell.RecoveryGroup.URL(id), &status); err != nil {
		return errors.Annotatef(err, "deleting recovery group %s", g.name)
	}
	return commcell.Check(status, sdkerrors.ModuleRecoveryGroup, "102")
}
