package dr

import (
	"context"
	"strings"
	"sync"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// SiteInfo is one VM replication pair as reported by the streaming
// replication monitor.
type SiteInfo struct {
	ReplicationID   int
	SourceName      string
	DestinationName string
	DestinationGUID string
	Status          int
	InstanceID      int
}

type siteInfoJSON struct {
	ReplicationID   commcell.FlexInt `json:"replicationId"`
	SourceName      string           `json:"sourceName"`
	DestinationName string           `json:"destinationName"`
	DestinationGUID string           `json:"destinationGuid"`
	Status          commcell.FlexInt `json:"status"`
	ParentSubclient struct {
		InstanceID commcell.FlexInt `json:"instanceId"`
	} `json:"parentSubclient"`
}

func (s siteInfoJSON) info() SiteInfo {
	return SiteInfo{
		ReplicationID:   s.ReplicationID.Int(),
		SourceName:      s.SourceName,
		DestinationName: s.DestinationName,
		DestinationGUID: s.DestinationGUID,
		Status:          s.Status.Int(),
		InstanceID:      s.ParentSubclient.InstanceID.Int(),
	}
}

type siteInfoList struct {
	SiteInfo *[]siteInfoJSON `json:"siteInfo"`
}

func (l siteInfoList) sites() ([]SiteInfo, error) {
	if l.SiteInfo == nil {
		return nil, sdkerrors.EmptyResponse()
	}
	sites := make([]SiteInfo, 0, len(*l.SiteInfo))
	for _, s := range *l.SiteInfo {
		sites = append(sites, s.info())
	}
	return sites, nil
}

func replicationPair(ctx context.Context, cc *commcell.Commcell, replicationID int) (SiteInfo, error) {
	var body siteInfoList
	if err := cc.GetJSON(ctx, commcell.ReplicationPair.URL(replicationID), &body); err != nil {
		return SiteInfo{}, err
	}
	sites, err := body.sites()
	if err != nil {
		return SiteInfo{}, err
	}
	if len(sites) == 0 {
		return SiteInfo{}, sdkerrors.EmptyResponse()
	}
	return sites[0], nil
}

// MonitorOptions selects the VMs a ReplicationMonitor acts on. With no VM
// names the first monitored VM is used.
type MonitorOptions struct {
	VMNames                   []string
	SkipDisableNetworkAdapter bool
}

// ReplicationMonitor runs DR operations against individual replicated VMs.
type ReplicationMonitor struct {
	cc   *commcell.Commcell
	opts MonitorOptions

	mu    sync.Mutex
	sites []SiteInfo
}

func NewReplicationMonitor(cc *commcell.Commcell, opts MonitorOptions) *ReplicationMonitor {
	return &ReplicationMonitor{cc: cc, opts: opts}
}

// Refresh reloads the monitored VMs.
func (m *ReplicationMonitor) Refresh(ctx context.Context) error {
	var body siteInfoList
	if err := m.cc.GetJSON(ctx, commcell.ReplicationMonitor.URL(), &body); err != nil {
		return err
	}
	sites, err := body.sites()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites = sites
	return nil
}

// Sites returns the monitored VMs, loading them on first use.
func (m *ReplicationMonitor) Sites(ctx context.Context) ([]SiteInfo, error) {
	m.mu.Lock()
	sites := m.sites
	m.mu.Unlock()
	if sites != nil {
		return sites, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sites, nil
}

// selected returns the monitored VMs matching the configured names.
func (m *ReplicationMonitor) selected(ctx context.Context) ([]SiteInfo, error) {
	sites, err := m.Sites(ctx)
	if err != nil {
		return nil, err
	}
	if len(m.opts.VMNames) == 0 {
		if len(sites) == 0 {
			return nil, sdkerrors.Application(sdkerrors.ModuleReplicationMonitor, "101", "No replicated VM is found.")
		}
		return sites[:1], nil
	}
	var out []SiteInfo
	for _, s := range sites {
		for _, name := range m.opts.VMNames {
			if strings.EqualFold(s.SourceName, name) {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

// ReplicationIDs returns the replication ids of the selected VMs.
func (m *ReplicationMonitor) ReplicationIDs(ctx context.Context) ([]int, error) {
	sites, err := m.selected(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(sites))
	for _, s := range sites {
		ids = append(ids, s.ReplicationID)
	}
	return ids, nil
}

// Operations returns orchestration operations bound to the selected VMs.
func (m *ReplicationMonitor) Operations(ctx context.Context) (*Operations, error) {
	ids, err := m.ReplicationIDs(ctx)
	if err != nil {
		return nil, err
	}
	return NewOperations(m.cc, Options{
		ReplicationIDs:            ids,
		InitiatedFromMonitor:      true,
		SkipDisableNetworkAdapter: m.opts.SkipDisableNetworkAdapter,
	}), nil
}

func (m *ReplicationMonitor) run(ctx context.Context, op OperationType) (Job, error) {
	ops, err := m.Operations(ctx)
	if err != nil {
		return Job{}, err
	}
	return ops.run(ctx, op)
}

func (m *ReplicationMonitor) TestBoot(ctx context.Context) (Job, error) {
	return m.run(ctx, TestBoot)
}

func (m *ReplicationMonitor) PlannedFailover(ctx context.Context) (Job, error) {
	return m.run(ctx, PlannedFailover)
}

func (m *ReplicationMonitor) UnplannedFailover(ctx context.Context) (Job, error) {
	return m.run(ctx, UnplannedFailover)
}

func (m *ReplicationMonitor) Failback(ctx context.Context) (Job, error) {
	return m.run(ctx, Failback)
}

func (m *ReplicationMonitor) UndoFailover(ctx context.Context) (Job, error) {
	return m.run(ctx, UndoFailover)
}

func (m *ReplicationMonitor) RevertFailover(ctx context.Context) (Job, error) {
	return m.run(ctx, RevertFailover)
}

func (m *ReplicationMonitor) ReverseReplication(ctx context.Context) (Job, error) {
	ops, err := m.Operations(ctx)
	if err != nil {
		return Job{}, err
	}
	return ops.ReverseReplication(ctx)
}

func (m *ReplicationMonitor) ScheduleReverseReplication(ctx context.Context) (string, error) {
	ops, err := m.Operations(ctx)
	if err != nil {
		return "", err
	}
	return ops.ScheduleReverseReplication(ctx)
}

func (m *ReplicationMonitor) ForceReverseReplication(ctx context.Context) (Job, error) {
	ops, err := m.Operations(ctx)
	if err != nil {
		return Job{}, err
	}
	return ops.ForceReverseReplication(ctx)
}

// PointInTimeFailover fails the first selected VM over to its most recent
// listed recovery point.
func (m *ReplicationMonitor) PointInTimeFailover(ctx context.Context) (Job, error) {
	sites, err := m.selected(ctx)
	if err != nil {
		return Job{}, err
	}
	if len(sites) == 0 {
		return Job{}, sdkerrors.Application(sdkerrors.ModuleReplicationMonitor, "101", "No snapshot is found.")
	}
	vm := sites[0]
	ops := NewOperations(m.cc, Options{
		ReplicationIDs:            []int{vm.ReplicationID},
		InitiatedFromMonitor:      true,
		SkipDisableNetworkAdapter: m.opts.SkipDisableNetworkAdapter,
	})
	snapshots, err := ops.SnapshotList(ctx, vm.DestinationGUID, vm.InstanceID, true)
	if err != nil {
		return Job{}, err
	}
	if len(snapshots) == 0 {
		return Job{}, sdkerrors.Application(sdkerrors.ModuleReplicationMonitor, "101", "No snapshot is found.")
	}
	return ops.PointInTimeFailover(ctx, snapshots[0].Timestamp, vm.ReplicationID)
}

// ValidateJob checks every phase of jobID for the selected VMs.
func (m *ReplicationMonitor) ValidateJob(ctx context.Context, jobID string) error {
	ops, err := m.Operations(ctx)
	if err != nil {
		return err
	}
	return ops.ValidateJob(ctx, jobID)
}
