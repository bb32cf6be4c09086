// Package dr drives disaster-recovery orchestration: failover groups, the
// streaming replication monitor, cleanroom recovery groups and targets, and
// the orchestration task submissions they share.
package dr

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// OperationType is the drOrchestrationOption operation code.
type OperationType int

const (
	PlannedFailover     OperationType = 1
	Failback            OperationType = 2
	UnplannedFailover   OperationType = 3
	RevertFailover      OperationType = 4
	UndoFailover        OperationType = 6
	TestBoot            OperationType = 7
	PointInTimeFailover OperationType = 8
	ReverseReplication  OperationType = 9
)

var operationNames = map[OperationType]string{
	PlannedFailover:     "Planned Failover",
	Failback:            "Failback",
	UnplannedFailover:   "UnPlanned Failover",
	RevertFailover:      "Revert Failover",
	UndoFailover:        "Undo Failover",
	TestBoot:            "TestBoot",
	PointInTimeFailover: "Point in Time Failover",
	ReverseReplication:  "Reverse Replication",
}

func (t OperationType) String() string {
	if name, ok := operationNames[t]; ok {
		return name
	}
	return "operation " + strconv.Itoa(int(t))
}

// RecoveryPointMarker identifies replication recovery points among VM
// snapshots.
const RecoveryPointMarker = "__GX_Recovery_Point_"

// Options selects what an orchestration runs against. Operations started
// from the replication monitor address replication ids; all others address a
// failover group.
type Options struct {
	FailoverGroupID           int
	FailoverGroupName         string
	ReplicationIDs            []int
	InitiatedFromMonitor      bool
	SkipDisableNetworkAdapter bool
}

// Job identifies a submitted orchestration.
type Job struct {
	JobID  string
	TaskID string
}

// Operations submits DR orchestration tasks.
type Operations struct {
	cc   *commcell.Commcell
	opts Options
}

func NewOperations(cc *commcell.Commcell, opts Options) *Operations {
	return &Operations{cc: cc, opts: opts}
}

// Options returns the options the operations were built with.
func (o *Operations) Options() Options {
	return o.opts
}

type advancedOptions struct {
	SkipDisableNetworkAdapter bool  `json:"skipDisableNetworkAdapter"`
	PowerOnVM                 *bool `json:"powerOnVM,omitempty"`
}

type pointInTimeOption struct {
	PointInTime   int64 `json:"pointInTime"`
	ReplicationID int   `json:"replicationId"`
}

type replicationInfo struct {
	ReplicationID []int               `json:"replicationId"`
	ConfigOption  []pointInTimeOption `json:"configOption,omitempty"`
}

type vAppRef struct {
	VAppID   int    `json:"vAppId"`
	VAppName string `json:"vAppName"`
}

type orchestrationOption struct {
	OperationType        OperationType    `json:"operationType"`
	InitiatedFromMonitor bool             `json:"initiatedfromMonitor"`
	AdvancedOptions      advancedOptions  `json:"advancedOptions"`
	ReplicationInfo      *replicationInfo `json:"replicationInfo,omitempty"`
	VApp                 *vAppRef         `json:"vApp,omitempty"`
}

type taskHeader struct {
	OwnerID        int    `json:"ownerId"`
	TaskType       int    `json:"taskType"`
	OwnerName      string `json:"ownerName"`
	SequenceNumber int    `json:"sequenceNumber"`
	InitiatedFrom  int    `json:"initiatedFrom"`
	TaskFlags      struct {
		Disabled bool `json:"disabled"`
	} `json:"taskFlags"`
}

type subTaskHeader struct {
	SubTaskType   int `json:"subTaskType"`
	OperationType int `json:"operationType"`
}

type subTask struct {
	SubTaskOperation int           `json:"subTaskOperation"`
	SubTask          subTaskHeader `json:"subTask"`
	Options          struct {
		AdminOpts struct {
			DROrchestrationOption orchestrationOption `json:"drOrchestrationOption"`
		} `json:"adminOpts"`
	} `json:"options"`
}

type taskRequest struct {
	TaskInfo struct {
		Task     taskHeader `json:"task"`
		SubTasks []subTask  `json:"subTasks"`
	} `json:"taskInfo"`
}

type taskResponse struct {
	Error  *commcell.ErrorBody `json:"error"`
	TaskID commcell.FlexInt    `json:"taskId"`
	JobIDs []commcell.FlexInt  `json:"jobIds"`
}

func (r taskResponse) failed() (string, bool) {
	if r.Error == nil {
		return "", false
	}
	msg := r.Error.ErrorMessage
	if msg == "" {
		msg = r.Error.ErrorString
	}
	return msg, r.Error.ErrorCode.Int() != 0 || msg != ""
}

func (o *Operations) option(op OperationType) (orchestrationOption, error) {
	opt := orchestrationOption{
		OperationType:        op,
		InitiatedFromMonitor: o.opts.InitiatedFromMonitor,
		AdvancedOptions:      advancedOptions{SkipDisableNetworkAdapter: o.opts.SkipDisableNetworkAdapter},
	}
	if o.opts.InitiatedFromMonitor {
		ids := o.opts.ReplicationIDs
		if len(ids) == 0 {
			ids = []int{0}
		}
		opt.ReplicationInfo = &replicationInfo{ReplicationID: ids}
		return opt, nil
	}
	if o.opts.FailoverGroupID == 0 {
		return opt, sdkerrors.Precondition(sdkerrors.ModuleDROperations, "101", "failover group id is required")
	}
	opt.VApp = &vAppRef{VAppID: o.opts.FailoverGroupID, VAppName: o.opts.FailoverGroupName}
	return opt, nil
}

func newTaskRequest(opt orchestrationOption) taskRequest {
	var req taskRequest
	req.TaskInfo.Task = taskHeader{OwnerID: 1, TaskType: 1, OwnerName: "admin", InitiatedFrom: 2}
	st := subTask{SubTaskOperation: 1, SubTask: subTaskHeader{SubTaskType: 1, OperationType: 4046}}
	st.Options.AdminOpts.DROrchestrationOption = opt
	req.TaskInfo.SubTasks = []subTask{st}
	return req
}

func (o *Operations) submit(ctx context.Context, opt orchestrationOption) (Job, error) {
	var resp taskResponse
	if err := o.cc.PostJSON(ctx, commcell.CreateTask.URL(), newTaskRequest(opt), &resp); err != nil {
		return Job{}, errors.Annotatef(err, "submitting %s", opt.OperationType)
	}
	if msg, failed := resp.failed(); failed {
		return Job{}, sdkerrors.Application(sdkerrors.ModuleDROperations, "102",
			fmt.Sprintf("Failed to start %s job \nError: %q", opt.OperationType, msg))
	}
	if len(resp.JobIDs) == 0 {
		return Job{}, sdkerrors.EmptyResponse()
	}
	job := Job{JobID: resp.JobIDs[0].String(), TaskID: resp.TaskID.String()}
	log.WithFields(log.Fields{"operation": opt.OperationType.String(), "job_id": job.JobID}).Info("DR orchestration job started")
	return job, nil
}

func (o *Operations) run(ctx context.Context, op OperationType) (Job, error) {
	opt, err := o.option(op)
	if err != nil {
		return Job{}, err
	}
	return o.submit(ctx, opt)
}

func (o *Operations) TestBoot(ctx context.Context) (Job, error) {
	return o.run(ctx, TestBoot)
}

func (o *Operations) PlannedFailover(ctx context.Context) (Job, error) {
	return o.run(ctx, PlannedFailover)
}

func (o *Operations) UnplannedFailover(ctx context.Context) (Job, error) {
	return o.run(ctx, UnplannedFailover)
}

func (o *Operations) Failback(ctx context.Context) (Job, error) {
	return o.run(ctx, Failback)
}

func (o *Operations) UndoFailover(ctx context.Context) (Job, error) {
	return o.run(ctx, UndoFailover)
}

func (o *Operations) RevertFailover(ctx context.Context) (Job, error) {
	return o.run(ctx, RevertFailover)
}

// ForceReverseReplication starts reverse replication immediately without
// powering on the VMs.
func (o *Operations) ForceReverseReplication(ctx context.Context) (Job, error) {
	opt, err := o.option(ReverseReplication)
	if err != nil {
		return Job{}, err
	}
	powerOn := false
	opt.AdvancedOptions.PowerOnVM = &powerOn
	return o.submit(ctx, opt)
}

// ScheduleReverseReplication registers the reverse replication task and
// returns its task id.
func (o *Operations) ScheduleReverseReplication(ctx context.Context) (string, error) {
	opt, err := o.option(ReverseReplication)
	if err != nil {
		return "", err
	}
	req := struct {
		DROrchestrationOption orchestrationOption `json:"drOrchestrationOption"`
	}{opt}
	var resp taskResponse
	if err := o.cc.PutJSON(ctx, commcell.ReverseReplicationTask.URL(), req, &resp); err != nil {
		return "", errors.Annotate(err, "scheduling reverse replication")
	}
	if msg, failed := resp.failed(); failed {
		return "", sdkerrors.Application(sdkerrors.ModuleDROperations, "102",
			fmt.Sprintf("Failed to start %s job \nError: %q", ReverseReplication, msg))
	}
	return resp.TaskID.String(), nil
}

// ReverseReplication schedules reverse replication and then forces a run.
func (o *Operations) ReverseReplication(ctx context.Context) (Job, error) {
	if _, err := o.ScheduleReverseReplication(ctx); err != nil {
		return Job{}, err
	}
	return o.ForceReverseReplication(ctx)
}

// PointInTimeFailover fails replicationID over to the recovery point taken at
// timestamp.
func (o *Operations) PointInTimeFailover(ctx context.Context, timestamp int64, replicationID int) (Job, error) {
	opt, err := o.option(PointInTimeFailover)
	if err != nil {
		return Job{}, err
	}
	if opt.ReplicationInfo == nil {
		opt.ReplicationInfo = &replicationInfo{ReplicationID: []int{replicationID}}
	}
	opt.ReplicationInfo.ConfigOption = []pointInTimeOption{{PointInTime: timestamp, ReplicationID: replicationID}}
	return o.submit(ctx, opt)
}

type jobPhase struct {
	Phase  commcell.FlexInt `json:"phase"`
	Status commcell.FlexInt `json:"status"`
}

type jobStats struct {
	Phase *[]jobPhase `json:"phase"`
}

// ValidateJob checks the phases of an orchestration job for every
// replication id and fails on the first phase reported as failed.
func (o *Operations) ValidateJob(ctx context.Context, jobID string) error {
	if jobID == "" || len(o.opts.ReplicationIDs) == 0 {
		return sdkerrors.Precondition(sdkerrors.ModuleDROperations, "101", "")
	}
	for _, replicationID := range o.opts.ReplicationIDs {
		stats, err := o.jobStats(ctx, jobID, replicationID)
		if err != nil {
			return err
		}
		if stats.Phase == nil {
			return sdkerrors.Application(sdkerrors.ModuleDROperations, "102",
				fmt.Sprintf("Failed to finish any phases in DR orchestration Job %s \n", jobID))
		}
		for _, phase := range *stats.Phase {
			if phase.Status.Int() == 1 {
				return sdkerrors.Application(sdkerrors.ModuleDROperations, "102",
					fmt.Sprintf("Failed to complete phase: [phase %d] status: [%d]", phase.Phase.Int(), phase.Status.Int()))
			}
		}
	}
	return nil
}

func (o *Operations) jobStats(ctx context.Context, jobID string, replicationID int) (jobStats, error) {
	var body struct {
		Error *commcell.ErrorBody `json:"error"`
		Job   *[]jobStats         `json:"job"`
	}
	url := commcell.DRGroupJobStats.URL(jobID, o.opts.FailoverGroupID, replicationID)
	if err := o.cc.GetJSON(ctx, url, &body); err != nil {
		return jobStats{}, err
	}
	if body.Error != nil {
		msg := body.Error.ErrorMessage
		if body.Error.ErrorCode.Int() != 0 || msg != "" {
			return jobStats{}, sdkerrors.Application(sdkerrors.ModuleDROperations, "102",
				fmt.Sprintf("Failed to validate DR orchestration job %s \nError: %q", jobID, msg))
		}
	}
	if body.Job == nil || len(*body.Job) == 0 {
		return jobStats{}, sdkerrors.Application(sdkerrors.ModuleDROperations, "102", "Failed to start DR orchestration job")
	}
	return (*body.Job)[0], nil
}

// Snapshot is one VM snapshot. Timestamp is set for recovery points only.
type Snapshot struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"-"`
}

// SnapshotList returns the snapshots of the VM with the given GUID. With
// recoveryPoints set only replication recovery points are returned, each with
// the timestamp encoded in its name; names without a numeric suffix are
// dropped.
func (o *Operations) SnapshotList(ctx context.Context, guid string, instanceID int, recoveryPoints bool) ([]Snapshot, error) {
	resp, err := o.cc.Request(ctx, http.MethodGet, commcell.VMBrowseSnapshots.URL(guid, instanceID), nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		SCList []struct {
			Snapshots []Snapshot `json:"snapshots"`
		} `json:"scList"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, err
	}
	if len(body.SCList) == 0 {
		return nil, sdkerrors.EmptyResponse()
	}
	snapshots := body.SCList[0].Snapshots
	if !recoveryPoints {
		return snapshots, nil
	}
	points := make([]Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if !strings.Contains(s.Name, RecoveryPointMarker) {
			continue
		}
		ts, err := strconv.ParseInt(s.Name[strings.LastIndex(s.Name, "_")+1:], 10, 64)
		if err != nil {
			continue
		}
		s.Timestamp = ts
		points = append(points, s)
	}
	return points, nil
}
