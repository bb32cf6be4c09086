package vsa

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// Restore task constants.
const (
	restoreSubTaskType   = 3
	restoreOperationType = 1001
	outOfPlacePrefix     = "del"
)

// DiskType is the destinationDiskType of a disk restore.
type DiskType int

const (
	DiskTypeOriginal DiskType = 0
	DiskTypeVMDK     DiskType = 1
	DiskTypeVHD      DiskType = 2
	DiskTypeVHDX     DiskType = 3
)

// Subclient is a virtual-server subclient. It restores the VMs and disks its
// backups hold.
type Subclient struct {
	backupset *Backupset
	entity    Entity
}

// NewSubclient returns the subclient addressed by entity, browsed through bs.
func NewSubclient(bs *Backupset, entity Entity) *Subclient {
	if entity.ApplicationID == 0 {
		entity.ApplicationID = VirtualServerAppID
	}
	return &Subclient{backupset: bs, entity: entity}
}

func (s *Subclient) Name() string { return s.entity.SubclientName }

// Browse lists the subclient's backed up content.
func (s *Subclient) Browse(ctx context.Context, opts BrowseOptions) ([]Item, error) {
	opts.SubclientID = s.entity.SubclientID
	return s.backupset.Browse(ctx, opts)
}

// BackedUpVM is a VM found in the subclient's latest backup.
type BackedUpVM struct {
	Name     string
	GUID     string
	Metadata *VSMetadata
}

// VMs returns the backed up VMs keyed by lower-cased name.
func (s *Subclient) VMs(ctx context.Context) (namemap.Map[BackedUpVM], error) {
	items, err := s.Browse(ctx, BrowseOptions{Paths: []string{`\`}})
	if err != nil {
		return namemap.Map[BackedUpVM]{}, errors.Annotate(err, "browsing backed up VMs")
	}
	vms := namemap.New[BackedUpVM](len(items))
	for _, it := range items {
		guid := it.SnapDisplayName
		if guid == "" {
			guid = strings.TrimPrefix(it.Path, `\`)
		}
		vms.Set(it.Name, BackedUpVM{Name: it.Name, GUID: guid, Metadata: it.Metadata})
	}
	return vms, nil
}

// Disks returns the disks of the backed up VM with the given GUID.
func (s *Subclient) Disks(ctx context.Context, vmGUID string) ([]Item, error) {
	return s.Browse(ctx, BrowseOptions{Paths: []string{`\` + vmGUID}, VMDiskBrowse: true})
}

// selectVMs intersects the requested names with the backed up VMs. No names
// selects every backed up VM.
func (s *Subclient) selectVMs(ctx context.Context, names []string) ([]BackedUpVM, error) {
	vms, err := s.VMs(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = vms.Names()
	}
	selected := make([]BackedUpVM, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		vm, ok := vms.Get(name)
		if !ok || seen[namemap.Key(name)] {
			continue
		}
		seen[namemap.Key(name)] = true
		selected = append(selected, vm)
	}
	if len(selected) == 0 {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleSubclient, "104", "")
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })
	return selected, nil
}

// RestoreOptions are the knobs shared by full VM restores.
type RestoreOptions struct {
	// VMs to restore; empty restores every backed up VM.
	VMs                    []string
	Proxy                  string
	DestinationClient      string
	DestinationInstance    string
	ESXServer              string
	ESXHost                string
	Datastore              string
	DataCenter             string
	VMFolder               string
	HostCluster            string
	ResourcePool           string
	NewNamePrefix          string
	DiskNamePrefix         string
	CopyPrecedence         int
	UnconditionalOverwrite bool
	PowerOn                bool
	AddToFailover          bool
	TransportMode          int
	DiskOption             int
	DestinationVendor      int
	DestinationDiskType    DiskType
	DistributeVMWorkload   int
}

type clientRef struct {
	ClientName string `json:"clientName"`
	ClientID   int    `json:"clientId,omitempty"`
}

type restoreAssociation struct {
	ClientName    string `json:"clientName"`
	ClientID      int    `json:"clientId,omitempty"`
	AppName       string `json:"appName"`
	ApplicationID int    `json:"applicationId"`
	InstanceName  string `json:"instanceName,omitempty"`
	InstanceID    int    `json:"instanceId,omitempty"`
	BackupsetName string `json:"backupsetName,omitempty"`
	BackupsetID   int    `json:"backupsetId,omitempty"`
	SubclientName string `json:"subclientName,omitempty"`
	SubclientID   int    `json:"subclientId,omitempty"`
}

type restoreDisk struct {
	Name      string `json:"name"`
	Datastore string `json:"datastore"`
	NewName   string `json:"newName"`
}

type advancedRestoreOption struct {
	Disks              []restoreDisk `json:"disks"`
	GUID               string        `json:"guid"`
	NewGUID            string        `json:"newGuid"`
	NewName            string        `json:"newName"`
	EsxHost            string        `json:"esxHost"`
	ProjectID          string        `json:"projectId"`
	Cluster            string        `json:"cluster"`
	Name               string        `json:"name"`
	Nics               []any         `json:"nics"`
	VMIPAddressOptions []any         `json:"vmIPAddressOptions"`
	FolderPath         string        `json:"FolderPath"`
	ResourcePoolPath   string        `json:"resourcePoolPath"`
	Datastore          string        `json:"Datastore"`
}

type diskLevelOption struct {
	EsxServerName          string                  `json:"esxServerName"`
	VMFolderName           string                  `json:"vmFolderName"`
	DataCenterName         string                  `json:"dataCenterName"`
	HostOrCluster          string                  `json:"hostOrCluster"`
	DiskOption             int                     `json:"diskOption"`
	VMName                 string                  `json:"vmName"`
	TransportMode          int                     `json:"transportMode"`
	PassUnconditional      bool                    `json:"passUnconditionalOverride"`
	PowerOnVMAfterRestore  bool                    `json:"powerOnVmAfterRestore"`
	RegisterWithFailover   bool                    `json:"registerWithFailoverCluster"`
	UserPassword           map[string]string       `json:"userPassword"`
	DataStore              *struct{}               `json:"dataStore,omitempty"`
	MaxNumOfVMPerJob       int                     `json:"maxNumOfVMPerJob,omitempty"`
	AdvancedRestoreOptions []advancedRestoreOption `json:"advancedRestoreOptions,omitempty"`
}

type virtualServerRstOption struct {
	IsDiskBrowse             bool             `json:"isDiskBrowse"`
	IsFileBrowse             bool             `json:"isFileBrowse"`
	IsVolumeBrowse           bool             `json:"isVolumeBrowse"`
	IsVirtualLab             bool             `json:"isVirtualLab"`
	EsxServer                string           `json:"esxServer"`
	IsAttachToNewVM          bool             `json:"isAttachToNewVM"`
	ViewType                 string           `json:"viewType"`
	IsBlockLevelReplication  bool             `json:"isBlockLevelReplication"`
	DiskLevelVMRestoreOption *diskLevelOption `json:"diskLevelVMRestoreOption,omitempty"`
}

type volumeRstOption struct {
	DestinationVendor      int      `json:"destinationVendor"`
	VolumeLeveRestore      bool     `json:"volumeLeveRestore"`
	VolumeLevelRestoreType int      `json:"volumeLevelRestoreType"`
	DestinationDiskType    DiskType `json:"destinationDiskType"`
}

type restoreOptions struct {
	BrowseOption struct {
		Backupset struct {
			ClientName    string `json:"clientName"`
			BackupsetName string `json:"backupsetName,omitempty"`
		} `json:"backupset"`
		TimeRange   struct{} `json:"timeRange"`
		MediaOption struct {
			CopyPrecedence struct {
				Applicable     bool `json:"copyPrecedenceApplicable"`
				CopyPrecedence int  `json:"copyPrecedence"`
			} `json:"copyPrecedence"`
		} `json:"mediaOption"`
	} `json:"browseOption"`
	CommonOptions struct {
		UnconditionalOverwrite bool `json:"unconditionalOverwrite"`
		PreserveLevel          int  `json:"preserveLevel"`
	} `json:"commonOptions"`
	Destination struct {
		InPlace             bool      `json:"inPlace"`
		IsLegalHold         bool      `json:"isLegalHold"`
		DestClient          clientRef `json:"destClient"`
		DestPath            []string  `json:"destPath,omitempty"`
		DestinationInstance *struct {
			ClientName   string `json:"clientName"`
			InstanceName string `json:"instanceName"`
			AppName      string `json:"appName"`
		} `json:"destinationInstance,omitempty"`
	} `json:"destination"`
	FileOption struct {
		SourceItem []string `json:"sourceItem"`
	} `json:"fileOption"`
	VirtualServerRstOption virtualServerRstOption `json:"virtualServerRstOption"`
	VolumeRstOption        volumeRstOption        `json:"volumeRstOption"`
}

type restoreTask struct {
	TaskInfo struct {
		Associations []restoreAssociation `json:"associations"`
		Task         struct {
			InitiatedFrom int `json:"initiatedFrom"`
			TaskType      int `json:"taskType"`
		} `json:"task"`
		SubTasks []restoreSubTask `json:"subTasks"`
	} `json:"taskInfo"`
}

type restoreSubTask struct {
	SubTaskOperation int `json:"subTaskOperation"`
	SubTask          struct {
		SubTaskType   int `json:"subTaskType"`
		OperationType int `json:"operationType"`
	} `json:"subTask"`
	Options struct {
		RestoreOptions restoreOptions `json:"restoreOptions"`
	} `json:"options"`
}

type jobReply struct {
	commcell.TopLevelStatus
	JobIDs []commcell.FlexInt `json:"jobIds"`
}

func (s *Subclient) newRestoreTask(opts RestoreOptions, inPlace bool) restoreTask {
	var task restoreTask
	task.TaskInfo.Associations = []restoreAssociation{{
		ClientName:    s.entity.ClientName,
		ClientID:      s.entity.ClientID,
		AppName:       "Virtual Server",
		ApplicationID: s.entity.ApplicationID,
		InstanceName:  s.entity.InstanceName,
		InstanceID:    s.entity.InstanceID,
		BackupsetName: s.entity.BackupsetName,
		BackupsetID:   s.entity.BackupsetID,
		SubclientName: s.entity.SubclientName,
		SubclientID:   s.entity.SubclientID,
	}}
	task.TaskInfo.Task.InitiatedFrom = 1
	task.TaskInfo.Task.TaskType = 1

	st := restoreSubTask{SubTaskOperation: 1}
	st.SubTask.SubTaskType = restoreSubTaskType
	st.SubTask.OperationType = restoreOperationType

	ro := &st.Options.RestoreOptions
	ro.BrowseOption.Backupset.ClientName = s.entity.ClientName
	ro.BrowseOption.Backupset.BackupsetName = s.entity.BackupsetName
	ro.BrowseOption.MediaOption.CopyPrecedence.CopyPrecedence = opts.CopyPrecedence
	ro.BrowseOption.MediaOption.CopyPrecedence.Applicable = opts.CopyPrecedence != 0
	ro.CommonOptions.UnconditionalOverwrite = opts.UnconditionalOverwrite

	proxy := opts.Proxy
	if proxy == "" {
		proxy = s.entity.ClientName
	}
	ro.Destination.InPlace = inPlace
	ro.Destination.DestClient = clientRef{ClientName: proxy}
	destClient := opts.DestinationClient
	if destClient == "" {
		destClient = s.entity.ClientName
	}
	destInstance := opts.DestinationInstance
	if destInstance == "" {
		destInstance = s.entity.InstanceName
	}
	ro.Destination.DestinationInstance = &struct {
		ClientName   string `json:"clientName"`
		InstanceName string `json:"instanceName"`
		AppName      string `json:"appName"`
	}{ClientName: destClient, InstanceName: destInstance, AppName: "Virtual Server"}

	ro.VirtualServerRstOption = virtualServerRstOption{
		IsDiskBrowse: true,
		EsxServer:    opts.ESXServer,
		ViewType:     "DEFAULT",
	}
	ro.VolumeRstOption = volumeRstOption{
		DestinationVendor:   opts.DestinationVendor,
		DestinationDiskType: opts.DestinationDiskType,
	}
	task.TaskInfo.SubTasks = []restoreSubTask{st}
	return task
}

func (s *Subclient) diskLevelOption(opts RestoreOptions, inPlace bool) *diskLevelOption {
	opt := &diskLevelOption{
		EsxServerName:         opts.ESXServer,
		VMFolderName:          opts.VMFolder,
		DataCenterName:        opts.DataCenter,
		HostOrCluster:         opts.HostCluster,
		DiskOption:            opts.DiskOption,
		TransportMode:         opts.TransportMode,
		PassUnconditional:     opts.UnconditionalOverwrite,
		PowerOnVMAfterRestore: opts.PowerOn,
		RegisterWithFailover:  opts.AddToFailover,
		UserPassword:          map[string]string{"userName": "admin"},
		MaxNumOfVMPerJob:      opts.DistributeVMWorkload,
	}
	if inPlace {
		opt.DataStore = &struct{}{}
	}
	return opt
}

// advancedOption builds the per-VM entry of a full VM restore.
func (s *Subclient) advancedOption(ctx context.Context, vm BackedUpVM, opts RestoreOptions, inPlace bool) (advancedRestoreOption, error) {
	md := vm.Metadata
	if md == nil {
		md = &VSMetadata{}
	}
	opt := advancedRestoreOption{
		GUID:               vm.GUID,
		Name:               vm.Name,
		EsxHost:            opts.ESXHost,
		Nics:               []any{},
		VMIPAddressOptions: []any{},
		ResourcePoolPath:   opts.ResourcePool,
		Datastore:          opts.Datastore,
	}
	if opt.EsxHost == "" {
		opt.EsxHost = md.EsxHost
	}
	if opt.ResourcePoolPath == "" {
		opt.ResourcePoolPath = "/"
	}
	if inPlace {
		opt.NewName = vm.Name
		opt.FolderPath = md.InventoryPath
	} else {
		prefix := opts.NewNamePrefix
		if prefix == "" {
			prefix = outOfPlacePrefix
		}
		opt.NewName = prefix + vm.Name
	}

	disks, err := s.Disks(ctx, vm.GUID)
	if err != nil {
		return opt, errors.Annotatef(err, "browsing disks of %s", vm.Name)
	}
	for _, d := range disks {
		ds := opts.Datastore
		if (inPlace || ds == "") && d.Metadata != nil && d.Metadata.Datastore != "" {
			ds = d.Metadata.Datastore
		}
		if opt.Datastore == "" {
			opt.Datastore = ds
		}
		name := d.SnapDisplayName
		if name == "" {
			name = d.Path[strings.LastIndex(d.Path, `\`)+1:]
		}
		newName := d.Name
		if opts.DiskNamePrefix != "" {
			newName = opts.DiskNamePrefix + "_" + d.Name
		}
		opt.Disks = append(opt.Disks, restoreDisk{Name: name, Datastore: ds, NewName: newName})
	}
	if len(opt.Disks) == 0 {
		return opt, sdkerrors.Precondition(sdkerrors.ModuleSubclient, "104",
			fmt.Sprintf("no disks found in the backup of %s", vm.Name))
	}
	return opt, nil
}

// FullVMRestoreInPlace overwrites the selected VMs with their backed up copy.
func (s *Subclient) FullVMRestoreInPlace(ctx context.Context, opts RestoreOptions) (string, error) {
	return s.fullVMRestore(ctx, opts, true)
}

// FullVMRestoreOutOfPlace restores the selected VMs as new VMs, named with
// NewNamePrefix ("del" by default) in front of the source name.
func (s *Subclient) FullVMRestoreOutOfPlace(ctx context.Context, opts RestoreOptions) (string, error) {
	return s.fullVMRestore(ctx, opts, false)
}

func (s *Subclient) fullVMRestore(ctx context.Context, opts RestoreOptions, inPlace bool) (string, error) {
	vms, err := s.selectVMs(ctx, opts.VMs)
	if err != nil {
		return "", err
	}

	task := s.newRestoreTask(opts, inPlace)
	ro := &task.TaskInfo.SubTasks[0].Options.RestoreOptions
	disk := s.diskLevelOption(opts, inPlace)
	for _, vm := range vms {
		adv, err := s.advancedOption(ctx, vm, opts, inPlace)
		if err != nil {
			return "", err
		}
		disk.AdvancedRestoreOptions = append(disk.AdvancedRestoreOptions, adv)
		ro.FileOption.SourceItem = append(ro.FileOption.SourceItem, `\`+vm.GUID)
	}
	ro.VirtualServerRstOption.DiskLevelVMRestoreOption = disk
	return s.submit(ctx, task)
}

// DiskRestoreOptions selects the disks of one VM and where they go.
type DiskRestoreOptions struct {
	VM                     string
	Disks                  []string
	DestinationPath        string
	Proxy                  string
	CopyPrecedence         int
	UnconditionalOverwrite bool
	DestinationVendor      int
	DestinationDiskType    DiskType
}

// DiskRestore restores disks of one VM as files under DestinationPath on the
// proxy.
func (s *Subclient) DiskRestore(ctx context.Context, opts DiskRestoreOptions) (string, error) {
	if opts.VM == "" || opts.DestinationPath == "" {
		return "", sdkerrors.Precondition(sdkerrors.ModuleSubclient, "101", "VM name and destination path are required")
	}
	vms, err := s.selectVMs(ctx, []string{opts.VM})
	if err != nil {
		return "", err
	}
	vm := vms[0]
	disks, err := s.Disks(ctx, vm.GUID)
	if err != nil {
		return "", errors.Annotatef(err, "browsing disks of %s", vm.Name)
	}

	byName := namemap.New[Item](len(disks))
	for _, d := range disks {
		byName.Set(d.Name, d)
	}
	wanted := opts.Disks
	if len(wanted) == 0 {
		wanted = byName.Names()
	}
	var sources []string
	for _, name := range wanted {
		d, ok := byName.Get(name)
		if !ok {
			return "", sdkerrors.Precondition(sdkerrors.ModuleSubclient, "104",
				fmt.Sprintf("disk %s is not in the backup of %s", name, vm.Name))
		}
		sources = append(sources, d.Path)
	}
	if len(sources) == 0 {
		return "", sdkerrors.Precondition(sdkerrors.ModuleSubclient, "104", "")
	}

	task := s.newRestoreTask(RestoreOptions{
		Proxy:                  opts.Proxy,
		CopyPrecedence:         opts.CopyPrecedence,
		UnconditionalOverwrite: opts.UnconditionalOverwrite,
		DestinationVendor:      opts.DestinationVendor,
		DestinationDiskType:    opts.DestinationDiskType,
	}, false)
	ro := &task.TaskInfo.SubTasks[0].Options.RestoreOptions
	ro.Destination.DestPath = []string{opts.DestinationPath}
	ro.Destination.DestinationInstance = nil
	ro.FileOption.SourceItem = sources
	ro.VirtualServerRstOption.DiskLevelVMRestoreOption = &diskLevelOption{
		PassUnconditional: opts.UnconditionalOverwrite,
		UserPassword:      map[string]string{"userName": "admin"},
	}
	return s.submit(ctx, task)
}

func (s *Subclient) submit(ctx context.Context, task restoreTask) (string, error) {
	resp, err := s.backupset.cc.Request(ctx, http.MethodPost, commcell.CreateTask.URL(), task)
	if err != nil {
		return "", errors.Annotate(err, "submitting restore")
	}
	var reply jobReply
	if err := commcell.Decode(resp, &reply); err != nil {
		return "", err
	}
	if len(reply.JobIDs) > 0 {
		jobID := reply.JobIDs[0].String()
		log.WithFields(log.Fields{"subclient": s.entity.SubclientName, "job_id": jobID}).Info("restore job started")
		return jobID, nil
	}
	if st := reply.Status(); !st.OK() || st.Message != "" {
		return "", sdkerrors.Application(sdkerrors.ModuleSubclient, "102",
			fmt.Sprintf("Restore job failed\nError: %q", st.Message))
	}
	return "", sdkerrors.EmptyResponse()
}
