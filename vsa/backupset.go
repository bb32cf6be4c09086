// Package vsa covers the virtual-server agent: browsing VM backups, building
// full VM and disk restore tasks, and VM allocation policies.
package vsa

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
	"github.com/juju/retry"
	log "github.com/sirupsen/logrus"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/dr"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// Browse retry defaults.
const (
	DefaultBrowseRetryDelay  = 180 * time.Second
	DefaultBrowseAttempts    = 4
	DefaultEmptyRetryDelay   = 120 * time.Second
	DefaultEmptyRetries      = 10
	DefaultBrowsePageSize    = 100000
	VirtualServerAppID       = 106
	virtualServerBrowseMode  = 4
	indexRebuildingMessage   = "No items found in the index, possibly index is being rebuilt"
	liveBrowseNoticeMessage  = "Please note that this is a live browse operation. Live browse operations can take some time before the results appear in the browse window."
	browseContentFailMessage = "Failed to browse for subclient backup content"
)

// errIndexRebuilding marks a browse answer that is worth asking again.
var errIndexRebuilding = errors.New("browse index is being rebuilt")

// Entity locates a backupset or subclient on the CommServe.
type Entity struct {
	ClientName    string
	ClientID      int
	ApplicationID int
	InstanceName  string
	InstanceID    int
	BackupsetName string
	BackupsetID   int
	SubclientName string
	SubclientID   int
}

// BackupsetOption configures a Backupset.
type BackupsetOption func(*Backupset)

// WithBrowseRetry sets the wait between browse attempts and the total number
// of attempts, the first included.
func WithBrowseRetry(delay time.Duration, attempts int) BackupsetOption {
	return func(b *Backupset) {
		if delay > 0 {
			b.retryDelay = delay
		}
		if attempts > 0 {
			b.attempts = attempts
		}
	}
}

// WithEmptyRetry sets how often, and how far apart, an empty browse answer is
// requested again.
func WithEmptyRetry(delay time.Duration, retries int) BackupsetOption {
	return func(b *Backupset) {
		if delay > 0 {
			b.emptyDelay = delay
		}
		if retries >= 0 {
			b.emptyRetries = retries
		}
	}
}

// Backupset is a virtual-server backupset.
type Backupset struct {
	cc     *commcell.Commcell
	entity Entity

	retryDelay   time.Duration
	attempts     int
	emptyDelay   time.Duration
	emptyRetries int
}

// NewBackupset returns a handle on the backupset addressed by entity.
func NewBackupset(cc *commcell.Commcell, entity Entity, opts ...BackupsetOption) *Backupset {
	if entity.ApplicationID == 0 {
		entity.ApplicationID = VirtualServerAppID
	}
	b := &Backupset{
		cc:           cc,
		entity:       entity,
		retryDelay:   DefaultBrowseRetryDelay,
		attempts:     DefaultBrowseAttempts,
		emptyDelay:   DefaultEmptyRetryDelay,
		emptyRetries: DefaultEmptyRetries,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backupset) Name() string   { return b.entity.BackupsetName }
func (b *Backupset) Entity() Entity { return b.entity }

// Filter narrows a browse by file name or size. Operator is used by FileSize
// filters only.
type Filter struct {
	Field    string
	Value    string
	Operator string
}

// BrowseOptions are the caller-settable browse knobs. Zero values select the
// server defaults.
type BrowseOptions struct {
	Paths          []string
	ShowDeleted    bool
	FromTime       time.Time
	ToTime         time.Time
	CopyPrecedence int
	MediaAgent     string
	PageSize       int
	SkipNode       int
	VMDiskBrowse   bool
	VSFileBrowse   bool
	Filters        []Filter
	JobID          int
	CommcellID     int
	IncludeAged    bool
	IncludeMeta    bool
	IncludeHidden  bool
	IncludeRunning bool
	SubclientID    int
}

type browseOp int

const (
	opBrowse      browseOp = 0
	opFind        browseOp = 1
	opAllVersions browseOp = 2
)

type browsePath struct {
	Path string `json:"path"`
}

type browseEntity struct {
	ClientName    string `json:"clientName"`
	ClientID      int    `json:"clientId"`
	ApplicationID int    `json:"applicationId"`
	InstanceID    int    `json:"instanceId"`
	BackupsetID   int    `json:"backupsetId"`
	SubclientID   int    `json:"subclientId"`
}

type browseCriteria struct {
	Field        string   `json:"field"`
	Values       []string `json:"values"`
	DataOperator string   `json:"dataOperator,omitempty"`
}

type whereClause struct {
	Connector int            `json:"connector"`
	Criteria  browseCriteria `json:"criteria"`
}

type browseQuery struct {
	Type        int           `json:"type"`
	QueryID     string        `json:"queryId"`
	WhereClause []whereClause `json:"whereClause,omitempty"`
	DataParam   struct {
		SortParam struct {
			Ascending bool  `json:"ascending"`
			SortBy    []int `json:"sortBy"`
		} `json:"sortParam"`
		Paging struct {
			PageSize  int `json:"pageSize"`
			SkipNode  int `json:"skipNode"`
			FirstNode int `json:"firstNode"`
		} `json:"paging"`
	} `json:"dataParam"`
}

type browseByJob struct {
	CommcellID int `json:"commcellId"`
	JobID      int `json:"jobId"`
}

type browseRequest struct {
	OpType int `json:"opType"`
	Mode   struct {
		Mode int `json:"mode"`
	} `json:"mode"`
	Paths   []browsePath `json:"paths"`
	Options struct {
		ShowDeletedFiles   bool `json:"showDeletedFiles"`
		RestoreIndex       bool `json:"restoreIndex"`
		VSDiskBrowse       bool `json:"vsDiskBrowse"`
		VSFileBrowse       bool `json:"vsFileBrowse"`
		IncludeAgedData    bool `json:"includeAgedData,omitempty"`
		IncludeMetadata    bool `json:"includeMetadata,omitempty"`
		IncludeHidden      bool `json:"includeHidden,omitempty"`
		IncludeRunningJobs bool `json:"includeRunningJobs,omitempty"`
	} `json:"options"`
	Entity    browseEntity `json:"entity"`
	TimeRange struct {
		FromTime int64 `json:"fromTime"`
		ToTime   int64 `json:"toTime"`
	} `json:"timeRange"`
	AdvOptions struct {
		CopyPrecedence int `json:"copyPrecedence"`
		AdvConfig      *struct {
			BrowseByJob browseByJob `json:"browseAdvancedConfigBrowseByJob"`
		} `json:"advConfig,omitempty"`
	} `json:"advOptions"`
	MA struct {
		ClientName string `json:"clientName"`
	} `json:"ma"`
	Queries []browseQuery `json:"queries"`
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (b *Backupset) browseRequest(op browseOp, opts BrowseOptions) browseRequest {
	var req browseRequest
	req.OpType = int(op)
	req.Mode.Mode = virtualServerBrowseMode

	paths := opts.Paths
	if len(paths) == 0 {
		paths = []string{`\`}
	}
	for _, p := range paths {
		req.Paths = append(req.Paths, browsePath{Path: p})
	}

	req.Options.ShowDeletedFiles = opts.ShowDeleted
	req.Options.RestoreIndex = true
	req.Options.VSDiskBrowse = opts.VMDiskBrowse
	req.Options.VSFileBrowse = opts.VSFileBrowse
	req.Options.IncludeAgedData = opts.IncludeAged
	req.Options.IncludeMetadata = opts.IncludeMeta
	req.Options.IncludeHidden = opts.IncludeHidden
	req.Options.IncludeRunningJobs = opts.IncludeRunning

	subclientID := opts.SubclientID
	if subclientID == 0 {
		subclientID = b.entity.SubclientID
	}
	req.Entity = browseEntity{
		ClientName:    b.entity.ClientName,
		ClientID:      b.entity.ClientID,
		ApplicationID: b.entity.ApplicationID,
		InstanceID:    b.entity.InstanceID,
		BackupsetID:   b.entity.BackupsetID,
		SubclientID:   subclientID,
	}
	req.TimeRange.FromTime = epoch(opts.FromTime)
	req.TimeRange.ToTime = epoch(opts.ToTime)
	req.AdvOptions.CopyPrecedence = opts.CopyPrecedence
	if opts.JobID != 0 {
		req.AdvOptions.AdvConfig = &struct {
			BrowseByJob browseByJob `json:"browseAdvancedConfigBrowseByJob"`
		}{BrowseByJob: browseByJob{CommcellID: opts.CommcellID, JobID: opts.JobID}}
	}
	req.MA.ClientName = opts.MediaAgent

	q := browseQuery{Type: 0, QueryID: "dataQuery"}
	q.DataParam.SortParam.SortBy = []int{0}
	q.DataParam.Paging.PageSize = opts.PageSize
	if q.DataParam.Paging.PageSize == 0 {
		q.DataParam.Paging.PageSize = DefaultBrowsePageSize
	}
	q.DataParam.Paging.SkipNode = opts.SkipNode
	for _, f := range opts.Filters {
		if f.Field != "FileName" && f.Field != "FileSize" {
			continue
		}
		c := browseCriteria{Field: f.Field, Values: []string{f.Value}}
		if f.Field == "FileSize" {
			c.DataOperator = f.Operator
		}
		q.WhereClause = append(q.WhereClause, whereClause{Connector: 0, Criteria: c})
	}
	req.Queries = []browseQuery{q}
	return req
}

// oneOrMany decodes a JSON value that the web service sends either as a
// single object or as a list of them.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '[' {
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*o = list
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = oneOrMany[T]{one}
	return nil
}

// flexBool accepts true, false, "1" and "0".
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(data)), `"`) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// VSMetadata is the virtual-server metadata attached to a VM browse entry.
type VSMetadata struct {
	EsxHost          string `json:"esxHost,omitempty"`
	InventoryPath    string `json:"inventoryPath,omitempty"`
	InstanceSize     string `json:"instanceSize,omitempty"`
	Datastore        string `json:"datastore,omitempty"`
	DataCenter       string `json:"dataCenter,omitempty"`
	ResourcePoolPath string `json:"resourcePoolPath,omitempty"`
	ClusterName      string `json:"clusterName,omitempty"`
}

type advancedData struct {
	BackupTime     commcell.FlexInt `json:"backupTime"`
	BrowseMetaData *struct {
		VirtualServerMetaData *VSMetadata `json:"virtualServerMetaData"`
	} `json:"browseMetaData"`
}

type browseResultEntry struct {
	DisplayName      string           `json:"displayName"`
	Name             string           `json:"name"`
	Path             string           `json:"path"`
	ModificationTime commcell.FlexInt `json:"modificationTime"`
	Size             *commcell.FlexInt `json:"size"`
	Version          *commcell.FlexInt `json:"version"`
	Flags            struct {
		File *flexBool `json:"file"`
	} `json:"flags"`
	AdvancedData advancedData `json:"advancedData"`
}

type browseMessage struct {
	ErrorMessage string `json:"errorMessage"`
}

type browseResponse struct {
	RespType     int                       `json:"respType"`
	Messages     oneOrMany[browseMessage]  `json:"messages"`
	BrowseResult *struct {
		DataResultSet oneOrMany[browseResultEntry] `json:"dataResultSet"`
	} `json:"browseResult"`
}

type browseReply struct {
	BrowseResponses oneOrMany[browseResponse] `json:"browseResponses"`
}

// Item is one file, folder, disk or VM returned by a browse.
type Item struct {
	Path            string
	Name            string
	SnapDisplayName string
	Type            string
	Size            int64
	Version         int
	ModifiedTime    time.Time
	BackupTime      time.Time
	Metadata        *VSMetadata
}

// IsFile reports whether the item is a file rather than a folder.
func (i Item) IsFile() bool { return i.Type == "File" }

// Browse lists the backed up content under opts.Paths.
func (b *Backupset) Browse(ctx context.Context, opts BrowseOptions) ([]Item, error) {
	return b.browse(ctx, opBrowse, opts)
}

// Find searches the backed up content.
func (b *Backupset) Find(ctx context.Context, opts BrowseOptions) ([]Item, error) {
	return b.browse(ctx, opFind, opts)
}

// AllVersions lists every backed up version of the path in opts.
func (b *Backupset) AllVersions(ctx context.Context, opts BrowseOptions) ([]Item, error) {
	return b.browse(ctx, opAllVersions, opts)
}

// browse runs the request and asks again while the index is being rebuilt.
func (b *Backupset) browse(ctx context.Context, op browseOp, opts BrowseOptions) ([]Item, error) {
	req := b.browseRequest(op, opts)
	base := `\`
	if len(opts.Paths) > 0 {
		base = opts.Paths[0]
	}

	var items []Item
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			items, err = b.browseOnce(ctx, req, base)
			return err
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errIndexRebuilding)
		},
		NotifyFunc: func(err error, attempt int) {
			log.WithFields(log.Fields{
				"backupset": b.entity.BackupsetName,
				"attempt":   attempt,
				"delay":     b.retryDelay.String(),
			}).Debug("browse index is being rebuilt, retrying")
		},
		Attempts: b.attempts,
		Delay:    b.retryDelay,
		Clock:    b.cc.Clock(),
		Stop:     ctx.Done(),
	})
	switch {
	case err == nil:
		return items, nil
	case retry.IsAttemptsExceeded(err):
		return nil, sdkerrors.Timeout(sdkerrors.ModuleBackupset, "111",
			"Browse did not give full results").Wrap(retry.LastError(err))
	case retry.IsRetryStopped(err):
		return nil, errors.Trace(ctx.Err())
	default:
		return nil, err
	}
}

// post sends the browse request, asking again while the server answers with
// an empty body.
func (b *Backupset) post(ctx context.Context, req browseRequest) (browseReply, error) {
	var reply browseReply
	for attempt := 0; ; attempt++ {
		resp, err := b.cc.Request(ctx, http.MethodPost, commcell.Browse.URL(), req)
		if err != nil {
			return reply, err
		}
		if !resp.Empty() || attempt >= b.emptyRetries {
			if resp.Empty() {
				return reply, nil
			}
			return reply, commcell.Decode(resp, &reply)
		}
		log.WithFields(log.Fields{"backupset": b.entity.BackupsetName, "attempt": attempt + 1}).Debug("empty browse answer, waiting")
		select {
		case <-ctx.Done():
			return reply, errors.Trace(ctx.Err())
		case <-b.cc.Clock().After(b.emptyDelay):
		}
	}
}

func (b *Backupset) browseOnce(ctx context.Context, req browseRequest, base string) ([]Item, error) {
	reply, err := b.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(reply.BrowseResponses) == 0 {
		return nil, sdkerrors.EmptyResponse()
	}

	var (
		found     bool
		resultSet []browseResultEntry
	)
	for _, r := range reply.BrowseResponses {
		if len(r.Messages) > 0 {
			msg := r.Messages[0].ErrorMessage
			if r.RespType == 2 || (r.RespType == 3 && strings.Contains(msg, indexRebuildingMessage)) {
				return nil, errors.Annotate(errIndexRebuilding, msg)
			}
		}
		if r.BrowseResult != nil {
			found = true
			if r.BrowseResult.DataResultSet != nil {
				resultSet = r.BrowseResult.DataResultSet
				break
			}
		}
	}

	if !found {
		first := reply.BrowseResponses[0]
		if len(first.Messages) == 0 {
			return nil, nil
		}
		msg := first.Messages[0].ErrorMessage
		if msg == liveBrowseNoticeMessage {
			return nil, nil
		}
		return nil, sdkerrors.Application(sdkerrors.ModuleBackupset, "102", msg)
	}
	if len(resultSet) == 0 {
		return nil, sdkerrors.Application(sdkerrors.ModuleBackupset, "110", browseContentFailMessage)
	}

	items := make([]Item, 0, len(resultSet))
	for _, r := range resultSet {
		items = append(items, toItem(r, base))
	}
	return items, nil
}

func toItem(r browseResultEntry, base string) Item {
	item := Item{
		Path:            r.Path,
		Name:            r.DisplayName,
		SnapDisplayName: r.Name,
		Type:            "Folder",
	}
	if item.Path == "" {
		item.Path = strings.TrimSuffix(base, `\`) + `\` + r.DisplayName
	}
	if r.Flags.File != nil && bool(*r.Flags.File) {
		item.Type = "File"
	}
	if r.Size != nil {
		item.Size = int64(r.Size.Int())
	}
	if r.Version != nil {
		item.Version = r.Version.Int()
	}
	if r.ModificationTime > 0 {
		item.ModifiedTime = time.Unix(int64(r.ModificationTime), 0)
	}
	if r.AdvancedData.BackupTime > 0 {
		item.BackupTime = time.Unix(int64(r.AdvancedData.BackupTime), 0)
	}
	if md := r.AdvancedData.BrowseMetaData; md != nil {
		item.Metadata = md.VirtualServerMetaData
	}
	return item
}

// VMSnapshots lists the hypervisor snapshots of the VM with the given GUID.
func (b *Backupset) VMSnapshots(ctx context.Context, vmGUID string, instanceID int) ([]dr.Snapshot, error) {
	if vmGUID == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleBackupset, "101", "VM GUID is required")
	}
	if instanceID == 0 {
		instanceID = b.entity.InstanceID
	}
	snaps, err := dr.NewOperations(b.cc, dr.Options{}).SnapshotList(ctx, vmGUID, instanceID, false)
	return snaps, errors.Annotatef(err, "listing snapshots of %s", vmGUID)
}

func (b *Backupset) String() string {
	return fmt.Sprintf("Backupset %q of client %q", b.entity.BackupsetName, b.entity.ClientName)
}
