package dr

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// GroupType is the operation type of a failover group.
type GroupType int

const (
	GroupLiveMount            GroupType = 1
	GroupLiveSync             GroupType = 2
	GroupRestore              GroupType = 4
	GroupLiveRecovery         GroupType = 8
	GroupFailover             GroupType = 16
	GroupVirtualLab           GroupType = 32
	GroupOracleEBSApp         GroupType = 64
	GroupGenericEnterpriseApp GroupType = 128
	GroupTestFailover         GroupType = 256
)

// ReplicationType is the replication flavour behind a failover group.
type ReplicationType int

const (
	ReplicationLiveSync       ReplicationType = 0
	ReplicationLiveSyncDirect ReplicationType = 1
	ReplicationLiveSyncIO     ReplicationType = 2
	ReplicationSnapArray      ReplicationType = 3
)

// FailoverGroupInfo is a failover group as listed by the CommCell.
type FailoverGroupInfo struct {
	ID              string
	OperationType   GroupType
	ReplicationType ReplicationType
}

type vAppEntry struct {
	VAppEntity struct {
		VAppID   commcell.FlexInt `json:"vAppId"`
		VAppName string           `json:"vAppName"`
	} `json:"vAppEntity"`
	OperationType   *commcell.FlexInt `json:"operationType"`
	ReplicationType *commcell.FlexInt `json:"replicationType"`
}

// FailoverGroups is the collection of DR failover groups.
type FailoverGroups struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[FailoverGroupInfo]
}

func NewFailoverGroups(cc *commcell.Commcell) *FailoverGroups {
	g := &FailoverGroups{cc: cc}
	g.cache = namemap.NewCache("failover_groups", cc.CacheTTL(), g.load)
	return g
}

func (g *FailoverGroups) load(ctx context.Context) (namemap.Map[FailoverGroupInfo], error) {
	var body struct {
		VApp *[]vAppEntry `json:"vApp"`
	}
	if err := g.cc.GetJSON(ctx, commcell.DRGroups.URL(), &body); err != nil {
		return namemap.Map[FailoverGroupInfo]{}, err
	}
	if body.VApp == nil {
		return namemap.Map[FailoverGroupInfo]{}, sdkerrors.EmptyResponse()
	}
	groups := namemap.New[FailoverGroupInfo](len(*body.VApp))
	for _, v := range *body.VApp {
		info := FailoverGroupInfo{
			ID:              v.VAppEntity.VAppID.String(),
			OperationType:   GroupFailover,
			ReplicationType: ReplicationLiveSync,
		}
		if v.OperationType != nil {
			info.OperationType = GroupType(v.OperationType.Int())
		}
		if v.ReplicationType != nil {
			info.ReplicationType = ReplicationType(v.ReplicationType.Int())
		}
		groups.Set(v.VAppEntity.VAppName, info)
	}
	return groups, nil
}

func (g *FailoverGroups) Refresh(ctx context.Context) error {
	_, err := g.cache.Refresh(ctx)
	return err
}

// All returns the failover groups keyed by lower-cased name.
func (g *FailoverGroups) All(ctx context.Context) (map[string]FailoverGroupInfo, error) {
	m, err := g.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

func (g *FailoverGroups) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleFailoverGroup, "101", "")
	}
	m, err := g.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

func (g *FailoverGroups) lookup(ctx context.Context, name string) (FailoverGroupInfo, error) {
	if name == "" {
		return FailoverGroupInfo{}, sdkerrors.Precondition(sdkerrors.ModuleFailoverGroup, "101", "")
	}
	m, err := g.cache.Get(ctx)
	if err != nil {
		return FailoverGroupInfo{}, err
	}
	info, ok := m.Get(name)
	if !ok {
		return FailoverGroupInfo{}, sdkerrors.Precondition(sdkerrors.ModuleFailoverGroup, "103", "")
	}
	return info, nil
}

// Get returns the failover group named name.
func (g *FailoverGroups) Get(ctx context.Context, name string) (*FailoverGroup, error) {
	info, err := g.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewFailoverGroup(g.cc, name, info.ID), nil
}

// FailoverGroupOptions describes a new failover group.
type FailoverGroupOptions struct {
	Name            string
	OperationType   GroupType
	ReplicationType ReplicationType
	// ReplicationIDs are the VM replication pairs placed in the group.
	ReplicationIDs []int
}

type vmSequenceEntry struct {
	ReplicationID *commcell.FlexInt `json:"replicationId,omitempty"`
	VMName        string            `json:"vmName,omitempty"`
}

type vmGroup struct {
	VMSequence []vmSequenceEntry `json:"vmSequence"`
}

type createGroupRequest struct {
	VApp struct {
		VAppEntity struct {
			VAppName string `json:"vAppName"`
		} `json:"vAppEntity"`
		OperationType   GroupType       `json:"operationType"`
		ReplicationType ReplicationType `json:"replicationType"`
		Config          struct {
			VMGroups []vmGroup `json:"vmGroups"`
		} `json:"config"`
	} `json:"vApp"`
}

// Add creates a failover group over existing replication pairs.
func (g *FailoverGroups) Add(ctx context.Context, opts FailoverGroupOptions) (*FailoverGroup, error) {
	if opts.Name == "" || len(opts.ReplicationIDs) == 0 {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleFailoverGroup, "101", "")
	}
	exists, err := g.Has(ctx, opts.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleFailoverGroup, "102",
			"Failover group already exists: "+opts.Name)
	}
	if opts.OperationType == 0 {
		opts.OperationType = GroupFailover
	}

	var req createGroupRequest
	req.VApp.VAppEntity.VAppName = opts.Name
	req.VApp.OperationType = opts.OperationType
	req.VApp.ReplicationType = opts.ReplicationType
	sequence := make([]vmSequenceEntry, 0, len(opts.ReplicationIDs))
	for _, id := range opts.ReplicationIDs {
		rid := commcell.FlexInt(id)
		sequence = append(sequence, vmSequenceEntry{ReplicationID: &rid})
	}
	req.VApp.Config.VMGroups = []vmGroup{{VMSequence: sequence}}

	var status commcell.NestedStatus
	if err := g.cc.PostJSON(ctx, commcell.DRGroups.URL(), req, &status); err != nil {
		return nil, errors.Annotatef(err, "creating failover group %s", opts.Name)
	}
	if err := commcell.Check(status, sdkerrors.ModuleFailoverGroup, "102"); err != nil {
		return nil, err
	}
	if err := g.Refresh(ctx); err != nil {
		return nil, err
	}
	return g.Get(ctx, opts.Name)
}

// Delete removes the failover group named name.
func (g *FailoverGroups) Delete(ctx context.Context, name string) error {
	info, err := g.lookup(ctx, name)
	if err != nil {
		return err
	}
	resp, err := g.cc.Request(ctx, http.MethodDelete, commcell.DRGroup.URL(info.ID), nil)
	if err != nil {
		return errors.Annotatef(err, "deleting failover group %s", name)
	}
	if !resp.Empty() {
		var status struct {
			commcell.TopLevelStatus
			commcell.NestedStatus
		}
		if err := resp.JSON(&status); err != nil {
			return err
		}
		if err := commcell.Check(status.TopLevelStatus, sdkerrors.ModuleFailoverGroup, "102"); err != nil {
			return err
		}
		if err := commcell.Check(status.NestedStatus, sdkerrors.ModuleFailoverGroup, "102"); err != nil {
			return err
		}
	}
	return g.Refresh(ctx)
}

// FailoverGroupProperties is the detail view of a failover group.
type FailoverGroupProperties struct {
	IsClientGroup    bool `json:"isClientGroup"`
	ApprovalRequired bool `json:"approvalRequired"`
	UsersForApproval []struct {
		UserEntity struct {
			UserName string `json:"userName"`
		} `json:"userEntity"`
	} `json:"usersForApproval"`
	SelectedEntities []struct {
		EntityName string           `json:"entityName"`
		InstanceID commcell.FlexInt `json:"instanceId"`
	} `json:"selectedEntities"`
	Config struct {
		VMGroups []vmGroup `json:"vmGroups"`
	} `json:"config"`
}

// FailoverGroup is a single failover group.
type FailoverGroup struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	name   string
	id     string
	props  FailoverGroupProperties
	loaded bool
}

func NewFailoverGroup(cc *commcell.Commcell, name, id string) *FailoverGroup {
	return &FailoverGroup{cc: cc, name: namemap.Key(name), id: id}
}

func (g *FailoverGroup) Name() string { return g.name }

// ID returns the group id, resolving it through the group list if needed.
func (g *FailoverGroup) ID(ctx context.Context) (string, error) {
	g.mu.Lock()
	id := g.id
	g.mu.Unlock()
	if id != "" {
		return id, nil
	}
	info, err := NewFailoverGroups(g.cc).lookup(ctx, g.name)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.id = info.ID
	return g.id, nil
}

// Refresh reloads the group details.
func (g *FailoverGroup) Refresh(ctx context.Context) error {
	id, err := g.ID(ctx)
	if err != nil {
		return err
	}
	var body struct {
		VApp *[]FailoverGroupProperties `json:"vApp"`
	}
	if err := g.cc.GetJSON(ctx, commcell.DRGroup.URL(id), &body); err != nil {
		return err
	}
	if body.VApp == nil {
		return sdkerrors.EmptyResponse()
	}
	var props FailoverGroupProperties
	if len(*body.VApp) > 0 {
		props = (*body.VApp)[0]
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.props = props
	g.loaded = true
	return nil
}

// Properties returns the group details, loading them on first use.
func (g *FailoverGroup) Properties(ctx context.Context) (FailoverGroupProperties, error) {
	g.mu.Lock()
	loaded := g.loaded
	g.mu.Unlock()
	if !loaded {
		if err := g.Refresh(ctx); err != nil {
			return FailoverGroupProperties{}, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.props, nil
}

func (g *FailoverGroup) IsClientGroup(ctx context.Context) (bool, error) {
	p, err := g.Properties(ctx)
	return p.IsClientGroup, err
}

func (g *FailoverGroup) ApprovalRequired(ctx context.Context) (bool, error) {
	p, err := g.Properties(ctx)
	return p.ApprovalRequired, err
}

// UserForApproval returns the first approver, or "" when none is set.
func (g *FailoverGroup) UserForApproval(ctx context.Context) (string, error) {
	p, err := g.Properties(ctx)
	if err != nil || len(p.UsersForApproval) == 0 {
		return "", err
	}
	return p.UsersForApproval[0].UserEntity.UserName, nil
}

// SourceClientName returns the name of the client the group protects.
func (g *FailoverGroup) SourceClientName(ctx context.Context) (string, error) {
	p, err := g.Properties(ctx)
	if err != nil || len(p.SelectedEntities) == 0 {
		return "", err
	}
	return p.SelectedEntities[0].EntityName, nil
}

// VMPairIDs returns the replication ids of the VMs in the first VM group.
func (g *FailoverGroup) VMPairIDs(ctx context.Context) ([]int, error) {
	p, err := g.Properties(ctx)
	if err != nil {
		return nil, err
	}
	if len(p.Config.VMGroups) == 0 {
		return nil, nil
	}
	var ids []int
	for _, vm := range p.Config.VMGroups[0].VMSequence {
		if vm.ReplicationID != nil {
			ids = append(ids, vm.ReplicationID.Int())
		}
	}
	return ids, nil
}

// VMPairs returns the replication pairs of the group keyed by source VM name.
func (g *FailoverGroup) VMPairs(ctx context.Context) (map[string]SiteInfo, error) {
	ids, err := g.VMPairIDs(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make(map[string]SiteInfo, len(ids))
	for _, id := range ids {
		pair, err := replicationPair(ctx, g.cc, id)
		if err != nil {
			return nil, err
		}
		pairs[pair.SourceName] = pair
	}
	return pairs, nil
}

// Operations returns the orchestration operations scoped to this group.
func (g *FailoverGroup) Operations(ctx context.Context) (*Operations, error) {
	id, err := g.ID(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := g.VMPairIDs(ctx)
	if err != nil {
		return nil, err
	}
	return NewOperations(g.cc, Options{
		FailoverGroupID:   atoi(id),
		FailoverGroupName: g.name,
		ReplicationIDs:    ids,
	}), nil
}

func (g *FailoverGroup) run(ctx context.Context, op OperationType) (Job, error) {
	ops, err := g.Operations(ctx)
	if err != nil {
		return Job{}, err
	}
	return ops.run(ctx, op)
}

func (g *FailoverGroup) TestBoot(ctx context.Context) (Job, error) {
	return g.run(ctx, TestBoot)
}

func (g *FailoverGroup) PlannedFailover(ctx context.Context) (Job, error) {
	return g.run(ctx, PlannedFailover)
}

func (g *FailoverGroup) UnplannedFailover(ctx context.Context) (Job, error) {
	return g.run(ctx, UnplannedFailover)
}

func (g *FailoverGroup) Failback(ctx context.Context) (Job, error) {
	return g.run(ctx, Failback)
}

func (g *FailoverGroup) UndoFailover(ctx context.Context) (Job, error) {
	return g.run(ctx, UndoFailover)
}

func (g *FailoverGroup) RevertFailover(ctx context.Context) (Job, error) {
	return g.run(ctx, RevertFailover)
}

// ValidateJob checks every phase of jobID for the group's VM pairs.
func (g *FailoverGroup) ValidateJob(ctx context.Context, jobID string) error {
	ops, err := g.Operations(ctx)
	if err != nil {
		return err
	}
	return ops.ValidateJob(ctx, jobID)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
