package ops

import (
	"context"
	"encoding/xml"
	"strconv"
	"sync"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// FormatType is the output format of a report.
type FormatType int

// Report formats.
const (
	FormatHTML FormatType = 1
	FormatText FormatType = 2
	FormatPDF  FormatType = 6
	FormatXML  FormatType = 12
)

func (f FormatType) String() string {
	switch f {
	case FormatHTML:
		return "HTML"
	case FormatText:
		return "TEXT"
	case FormatPDF:
		return "PDF"
	case FormatXML:
		return "XML"
	}
	return "format " + strconv.Itoa(int(f))
}

func (f FormatType) valid() bool {
	switch f {
	case FormatHTML, FormatText, FormatPDF, FormatXML:
		return true
	}
	return false
}

// Time range types of a report.
const (
	timeRangeLastDays  = 11
	timeRangeLastHours = 13
)

const backupJobSummaryReportType = 7715

type savedToClient struct {
	HostName   string `json:"hostName"`
	ClientName string `json:"clientName"`
	Type       int    `json:"_type_"`
}

type savedTo struct {
	LocationURL         string         `json:"locationURL"`
	FTPUploadLocation   string         `json:"ftpUploadLocation"`
	UploadAsCabinetFile bool           `json:"uploadAsCabinetFile"`
	IsNetworkDrive      int            `json:"isNetworkDrive"`
	ReportSavedToClient savedToClient  `json:"reportSavedToClient"`
	FTPDetails          map[string]any `json:"ftpDetails"`
}

type outputFormat struct {
	TextDelimiter  string `json:"textDelimiter"`
	OutputType     string `json:"outputType"`
	IsNetworkDrive bool   `json:"isNetworkDrive"`
}

type reportLocale struct {
	Type          int    `json:"_type_"`
	LCID          int    `json:"LCID"`
	DisplayString string `json:"displayString"`
	Locale        string `json:"locale"`
	LocaleName    string `json:"localeName"`
	LocaleID      int    `json:"localeId"`
}

type commonOpt struct {
	DateFormat             string       `json:"dateFormat"`
	OverrideDateTimeFormat int          `json:"overrideDateTimeFormat"`
	ReportType             int          `json:"reportType"`
	SummaryOnly            bool         `json:"summaryOnly"`
	ReportCustomName       string       `json:"reportCustomName"`
	EmailType              int          `json:"emailType"`
	TimeFormat             string       `json:"timeFormat"`
	OnCS                   bool         `json:"onCS"`
	SavedTo                savedTo      `json:"savedTo"`
	Locale                 reportLocale `json:"locale"`
	OutputFormat           outputFormat `json:"outputFormat"`
}

type namedClient struct {
	ClientName string `json:"clientName"`
}

type namedClientGroup struct {
	ClientGroupName string `json:"clientGroupName"`
}

type computerSelection struct {
	IncludeAll      bool               `json:"includeAll"`
	ClientGroupList []namedClientGroup `json:"clientGroupList"`
	ClientList      []namedClient      `json:"clientList"`
}

type timeRangeOption struct {
	Type        int    `json:"type"`
	EntityType  int    `json:"_type_"`
	TimeZoneID  int    `json:"TimeZoneID"`
	ToTime      int    `json:"toTime"`
	ToTimeValue string `json:"toTimeValue,omitempty"`
}

type jobSummaryReport struct {
	SubClientDescription  string         `json:"subClientDescription"`
	SubclientFilter       bool           `json:"subclientFilter"`
	FilterOnSubClientDesc bool           `json:"filterOnSubClientDesc"`
	GroupBy               int            `json:"groupBy"`
	RptSelections         map[string]any `json:"rptSelections"`
	JobOptions            map[string]any `json:"jobOptions"`
}

type reportOption struct {
	IncludeClientGroup          bool              `json:"includeClientGroup"`
	ShowHiddenStoragePolicies   bool              `json:"showHiddenStoragePolicies"`
	ShowJobsWithFailedFilesOnly bool              `json:"showJobsWithFailedFailesOnly"`
	ShowGlobalStoragePolicies   bool              `json:"showGlobalStoragePolicies"`
	AllowDynamicContent         bool              `json:"allowDynamicContent"`
	JobOption                   bool              `json:"jobOption"`
	ExcludeHiddenSubclients     bool              `json:"excludeHiddenSubclients"`
	FailedFilesThreshold        int               `json:"failedFilesThreshold"`
	MediaAgentList              []map[string]any  `json:"mediaAgentList"`
	StoragePolicyCopyList       []map[string]any  `json:"storagePolicyCopyList"`
	CommonOpt                   commonOpt         `json:"commonOpt"`
	ComputerSelectionList       computerSelection `json:"computerSelectionList"`
	JobSummaryReport            jobSummaryReport  `json:"jobSummaryReport"`
	AgentList                   []map[string]any  `json:"agentList"`
	TimeRangeOption             timeRangeOption   `json:"timeRangeOption"`
}

type reportTaskRequest struct {
	TaskInfo struct {
		Task     map[string]any `json:"task"`
		AppGroup map[string]any `json:"appGroup"`
		SubTasks []struct {
			SubTaskOperation int            `json:"subTaskOperation"`
			SubTask          map[string]any `json:"subTask"`
			Options          struct {
				AdminOpts struct {
					ReportOption *reportOption `json:"reportOption"`
				} `json:"adminOpts"`
			} `json:"options"`
		} `json:"subTasks"`
	} `json:"taskInfo"`
}

func defaultRptSelections() map[string]any {
	sel := map[string]any{"numberOfObjects": 100, "subclientJobOpt": 0, "numberOfHours": 0}
	for _, k := range []string{
		"includeSnapProtectionJobsOnly", "includeArchivedPSTs", "includeProtectedDatabases",
		"includeClientDescription", "includeBackupFilesOnly", "stubbedFiles",
		"includeFailedSkippedMailboxes", "sizeChangePercentage", "jobAttempts",
		"includePerformanceJobsOnly", "includeReferenceCopyClientMap", "subclientContent",
		"failedObjects", "associatedEvent", "mediaAgents", "agedData", "IncBackupCopyJobsOnly",
		"subclientFilters", "protectedObjects", "IncBackupCopyJobs", "contentIndexingFailures",
		"associatedMedia", "storagePolicy", "initializingUser", "IncludeMediaDeletedJobs", "drive",
	} {
		sel[k] = false
	}
	for _, k := range []string{
		"description", "includeDisabledActivityClients", "includeProtectedVMs",
		"includeDeconfiguredClients", "failureReason",
	} {
		sel[k] = true
	}
	return sel
}

func defaultJobOptions() map[string]any {
	return map[string]any{
		"numberOfMostFreqErrors": 0,
		"sizeUnit":               0,
		"isThroughputInMB":       false,
		"isCommserveTimeZone":    true,
		"retentionType": map[string]any{
			"basicRetention": false, "manualRetention": false,
			"extendedRetention": false, "retentionAll": false,
		},
		"backupTypes": map[string]any{
			"all": true, "syntheticFull": true, "automatedSystemRecovery": false,
			"incremental": true, "full": true, "differential": true,
		},
		"jobStatus":          map[string]any{"all": true},
		"increaseInDataSize": map[string]any{"value": 10, "selected": false},
		"decreaseInDataSize": map[string]any{"value": 10, "selected": false},
	}
}

func defaultReportOption() *reportOption {
	return &reportOption{
		MediaAgentList:        []map[string]any{{"_type_": 11, "flags": map[string]any{"include": true}}},
		StoragePolicyCopyList: []map[string]any{{"_type_": 17, "allCopies": true}},
		CommonOpt: commonOpt{
			DateFormat: "mm/dd/yyyy",
			ReportType: backupJobSummaryReportType,
			EmailType:  2,
			TimeFormat: "hh:mm:ss am/pm",
			OnCS:       true,
			SavedTo: savedTo{
				FTPUploadLocation:   "Commvault Reports",
				ReportSavedToClient: savedToClient{Type: 3},
				FTPDetails:          map[string]any{},
			},
			Locale: reportLocale{
				Type: 66, LCID: 3081, DisplayString: "English-Australia",
				Locale: "en-au", LocaleName: "en",
			},
			OutputFormat: outputFormat{TextDelimiter: "\t", OutputType: "1"},
		},
		ComputerSelectionList: computerSelection{
			IncludeAll:      true,
			ClientGroupList: []namedClientGroup{},
			ClientList:      []namedClient{},
		},
		JobSummaryReport: jobSummaryReport{
			GroupBy:       2,
			RptSelections: defaultRptSelections(),
			JobOptions:    defaultJobOptions(),
		},
		AgentList:       []map[string]any{{"_type_": 4, "flags": map[string]any{"include": true}}},
		TimeRangeOption: timeRangeOption{Type: timeRangeLastHours, EntityType: 54, TimeZoneID: 42, ToTime: 86400},
	}
}

// Report gives access to the reports that can be run as CommServe tasks.
type Report struct {
	cc *commcell.Commcell

	mu      sync.Mutex
	summary *BackupJobSummary
}

func NewReport(cc *commcell.Commcell) *Report {
	return &Report{cc: cc}
}

// BackupJobSummary returns the backup job summary report, creating it on
// first use.
func (r *Report) BackupJobSummary() *BackupJobSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summary == nil {
		r.summary = NewBackupJobSummary(r.cc, "")
	}
	return r.summary
}

// BackupJobSummary runs the backup job summary report. The setters edit the
// task locally; Run and RunXML submit it.
type BackupJobSummary struct {
	cc    *commcell.Commcell
	owner string

	mu     sync.Mutex
	format FormatType
	opt    *reportOption
}

// NewBackupJobSummary returns the report with its default options. owner
// names the task owner and defaults to "admin".
func NewBackupJobSummary(cc *commcell.Commcell, owner string) *BackupJobSummary {
	if owner == "" {
		owner = "admin"
	}
	return &BackupJobSummary{cc: cc, owner: owner, format: FormatHTML, opt: defaultReportOption()}
}

// SetFormat selects the output format.
func (b *BackupJobSummary) SetFormat(format FormatType) error {
	if !format.valid() {
		return sdkerrors.Precondition(sdkerrors.ModuleRunReport, "102",
			"Invalid format type,format should be one among the type in FormatType")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.format = format
	b.opt.CommonOpt.OutputFormat.OutputType = strconv.Itoa(int(format))
	return nil
}

// SelectLocalDrive saves the report to location on client. An empty client
// is the CommServe.
func (b *BackupJobSummary) SelectLocalDrive(location, client string) {
	if client == "" {
		client = b.cc.CommservName()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opt.CommonOpt.SavedTo.ReportSavedToClient.ClientName = client
	b.opt.CommonOpt.SavedTo.LocationURL = location
}

func (b *BackupJobSummary) SelectNetworkShare() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opt.CommonOpt.SavedTo.IsNetworkDrive = 1
}

// SetCustomName names the report file. The format extension is appended, so
// the format should be chosen first.
func (b *BackupJobSummary) SetCustomName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opt.CommonOpt.ReportCustomName = name + "." + b.format.String()
}

func (b *BackupJobSummary) SelectProtectedObjects() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opt.JobSummaryReport.RptSelections["protectedObjects"] = true
}

func (b *BackupJobSummary) SetLastHours(hours int) {
	b.setTimeRange(timeRangeLastHours, hours)
}

func (b *BackupJobSummary) SetLastDays(days int) {
	b.setTimeRange(timeRangeLastDays, days)
}

func (b *BackupJobSummary) setTimeRange(kind, value int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opt.TimeRangeOption.Type = kind
	b.opt.TimeRangeOption.ToTimeValue = strconv.Itoa(value)
}

// SelectComputers restricts the report to the given clients and client
// groups.
func (b *BackupJobSummary) SelectComputers(clients, clientGroups []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sel := &b.opt.ComputerSelectionList
	sel.IncludeAll = false
	for _, c := range clients {
		sel.ClientList = append(sel.ClientList, namedClient{ClientName: c})
	}
	for _, g := range clientGroups {
		sel.ClientGroupList = append(sel.ClientGroupList, namedClientGroup{ClientGroupName: g})
	}
}

func (b *BackupJobSummary) request() reportTaskRequest {
	var req reportTaskRequest
	req.TaskInfo.Task = map[string]any{
		"ownerId":        1,
		"taskType":       1,
		"ownerName":      b.owner,
		"sequenceNumber": 0,
		"initiatedFrom":  1,
		"taskFlags":      map[string]any{"disabled": false},
	}
	req.TaskInfo.AppGroup = map[string]any{}
	req.TaskInfo.SubTasks = make([]struct {
		SubTaskOperation int            `json:"subTaskOperation"`
		SubTask          map[string]any `json:"subTask"`
		Options          struct {
			AdminOpts struct {
				ReportOption *reportOption `json:"reportOption"`
			} `json:"adminOpts"`
		} `json:"options"`
	}, 1)
	sub := &req.TaskInfo.SubTasks[0]
	sub.SubTaskOperation = 1
	sub.SubTask = map[string]any{"subTaskType": 1, "operationType": 4004}
	sub.Options.AdminOpts.ReportOption = b.opt
	return req
}

type reportJobResponse struct {
	JobIDs       []commcell.FlexInt `json:"jobIds"`
	ErrorMessage string             `json:"errorMessage"`
}

func (r reportJobResponse) jobID() (string, error) {
	if len(r.JobIDs) == 0 {
		return "", sdkerrors.Application(sdkerrors.ModuleRunReport, "101", r.ErrorMessage)
	}
	return r.JobIDs[0].String(), nil
}

// Run submits the report as a CommServe task and returns its job id.
func (b *BackupJobSummary) Run(ctx context.Context) (string, error) {
	b.mu.Lock()
	req := b.request()
	var resp reportJobResponse
	err := b.cc.PostJSON(ctx, commcell.CreateTask.URL(), req, &resp)
	b.mu.Unlock()
	if err != nil {
		return "", err
	}
	return resp.jobID()
}

type xmlCommonOpt struct {
	DateFormat             string `xml:"dateFormat,attr"`
	EmailType              int    `xml:"emailType,attr"`
	OnCS                   int    `xml:"onCS,attr"`
	OverrideDateTimeFormat int    `xml:"overrideDateTimeFormat,attr"`
	ReportCustomName       string `xml:"reportCustomName,attr"`
	ReportType             int    `xml:"reportType,attr"`
	SummaryOnly            int    `xml:"summaryOnly,attr"`
	TimeFormat             string `xml:"timeFormat,attr"`
	OutputFormat           struct {
		IsNetworkDrive int    `xml:"isNetworkDrive,attr"`
		OutputType     string `xml:"outputType,attr"`
		TextDelimiter  string `xml:"textDelimiter,attr"`
	} `xml:"outputFormat"`
	SavedTo struct {
		FTPUploadLocation   string `xml:"ftpUploadLocation,attr"`
		IsNetworkDrive      int    `xml:"isNetworkDrive,attr"`
		LocationURL         string `xml:"locationURL,attr"`
		UploadAsCabinetFile int    `xml:"uploadAsCabinetFile,attr"`
		ReportSavedToClient struct {
			Type       int    `xml:"_type_,attr"`
			ClientName string `xml:"clientName,attr"`
			HostName   string `xml:"hostName,attr"`
		} `xml:"reportSavedToClient"`
		FTPDetails struct{} `xml:"ftpDetails"`
	} `xml:"savedTo"`
	Locale struct {
		LCID          int    `xml:"LCID,attr"`
		Type          int    `xml:"_type_,attr"`
		DisplayString string `xml:"displayString,attr"`
		Locale        string `xml:"locale,attr"`
		LocaleID      int    `xml:"localeId,attr"`
		LocaleName    string `xml:"localeName,attr"`
	} `xml:"locale"`
}

type xmlTimeRange struct {
	TimeZoneID  int    `xml:"TimeZoneID,attr"`
	Type        int    `xml:"_type_,attr"`
	ToTime      int    `xml:"toTime,attr"`
	RangeType   int    `xml:"type,attr"`
	ToTimeValue string `xml:"toTimeValue,attr,omitempty"`
}

// The selections of the XML task that no setter changes.
const fixedSummarySelections = `<agentList _type_="4"><flags include="1"/></agentList>` +
	`<mediaAgentList _type_="11"><flags include="1"/></mediaAgentList>` +
	`<storagePolicyCopyList _type_="17" allCopies="1"/>` +
	`<jobSummaryReport filterOnSubClientDesc="0" groupBy="2" subClientDescription="" subclientFilter="0">` +
	`<jobOptions isCommserveTimeZone="1" isThroughputInMB="0" numberOfMostFreqErrors="0" sizeUnit="0">` +
	`<backupTypes all="1" automatedSystemRecovery="0" differential="1" full="1" incremental="1" syntheticFull="1"/>` +
	`<jobStatus all="1"/><increaseInDataSize selected="0" value="10"/><decreaseInDataSize selected="0" value="10"/>` +
	`<retentionType basicRetention="0" extendedRetention="0" manualRetention="0" retentionAll="0"/></jobOptions>` +
	`<rptSelections IncBackupCopyJobs="0" IncBackupCopyJobsOnly="0" IncludeMediaDeletedJobs="0" agedData="0" ` +
	`associatedEvent="0" associatedMedia="0" contentIndexingFailures="0" description="1" drive="0" failedObjects="0" ` +
	`failureReason="1" includeArchivedPSTs="0" includeBackupFilesOnly="0" includeClientDescription="0" ` +
	`includeDeconfiguredClients="1" includeDisabledActivityClients="1" includeFailedSkippedMailboxes="0" ` +
	`includePerformanceJobsOnly="0" includeProtectedDatabases="0" includeProtectedVMs="1" ` +
	`includeReferenceCopyClientMap="0" includeSnapProtectionJobsOnly="0" initializingUser="0" jobAttempts="0" ` +
	`mediaAgents="0" numberOfHours="0" numberOfObjects="100" protectedObjects="0" sizeChangePercentage="0" ` +
	`storagePolicy="0" stubbedFiles="0" subclientContent="0" subclientFilters="0" subclientJobOpt="0"/>` +
	`</jobSummaryReport>`

type createTaskXML struct {
	XMLName  xml.Name `xml:"TMMsg_CreateTaskReq"`
	TaskInfo struct {
		Task struct {
			InitiatedFrom  int    `xml:"initiatedFrom,attr"`
			OwnerID        int    `xml:"ownerId,attr"`
			OwnerName      string `xml:"ownerName,attr"`
			SequenceNumber int    `xml:"sequenceNumber,attr"`
			TaskType       int    `xml:"taskType,attr"`
			TaskFlags      struct {
				Disabled int `xml:"disabled,attr"`
			} `xml:"taskFlags"`
		} `xml:"task"`
		AppGroup struct{} `xml:"appGroup"`
		SubTasks struct {
			SubTaskOperation int `xml:"subTaskOperation,attr"`
			SubTask          struct {
				OperationType int `xml:"operationType,attr"`
				SubTaskType   int `xml:"subTaskType,attr"`
			} `xml:"subTask"`
			Options struct {
				AdminOpts struct {
					ReportOption struct {
						AllowDynamicContent   int          `xml:"allowDynamicContent,attr"`
						IncludeClientGroup    int          `xml:"includeClientGroup,attr"`
						CommonOpt             xmlCommonOpt `xml:"commonOpt"`
						ComputerSelectionList struct {
							IncludeAll int `xml:"includeAll,attr"`
						} `xml:"computerSelectionList"`
						TimeRangeOption xmlTimeRange `xml:"timeRangeOption"`
						Selections      string       `xml:",innerxml"`
					} `xml:"reportOption"`
				} `xml:"adminOpts"`
				CommonOpts struct{} `xml:"commonOpts"`
			} `xml:"options"`
		} `xml:"subTasks"`
	} `xml:"taskInfo"`
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (b *BackupJobSummary) document() createTaskXML {
	var doc createTaskXML
	task := &doc.TaskInfo.Task
	task.InitiatedFrom, task.OwnerID, task.TaskType = 1, 1, 1
	task.OwnerName = b.owner
	sub := &doc.TaskInfo.SubTasks
	sub.SubTaskOperation = 1
	sub.SubTask.OperationType, sub.SubTask.SubTaskType = 4004, 1

	ro := &sub.Options.AdminOpts.ReportOption
	src := b.opt.CommonOpt
	co := &ro.CommonOpt
	co.DateFormat, co.TimeFormat = src.DateFormat, src.TimeFormat
	co.EmailType, co.ReportType = src.EmailType, src.ReportType
	co.OnCS = boolInt(src.OnCS)
	co.ReportCustomName = src.ReportCustomName
	co.OutputFormat.OutputType = src.OutputFormat.OutputType
	co.OutputFormat.TextDelimiter = src.OutputFormat.TextDelimiter
	co.SavedTo.FTPUploadLocation = src.SavedTo.FTPUploadLocation
	co.SavedTo.IsNetworkDrive = src.SavedTo.IsNetworkDrive
	co.SavedTo.LocationURL = src.SavedTo.LocationURL
	co.SavedTo.ReportSavedToClient.Type = src.SavedTo.ReportSavedToClient.Type
	co.SavedTo.ReportSavedToClient.ClientName = src.SavedTo.ReportSavedToClient.ClientName
	co.Locale.LCID, co.Locale.Type = src.Locale.LCID, src.Locale.Type
	co.Locale.DisplayString, co.Locale.Locale, co.Locale.LocaleName = src.Locale.DisplayString, src.Locale.Locale, src.Locale.LocaleName

	ro.ComputerSelectionList.IncludeAll = boolInt(b.opt.ComputerSelectionList.IncludeAll)
	tr := b.opt.TimeRangeOption
	ro.TimeRangeOption = xmlTimeRange{TimeZoneID: tr.TimeZoneID, Type: tr.EntityType, ToTime: tr.ToTime, RangeType: tr.Type, ToTimeValue: tr.ToTimeValue}
	ro.Selections = fixedSummarySelections
	return doc
}

// RunXML submits the report as a TMMsg_CreateTaskReq document through
// "qoperation execute" and returns its job id.
func (b *BackupJobSummary) RunXML(ctx context.Context) (string, error) {
	b.mu.Lock()
	doc := b.document()
	b.mu.Unlock()
	var resp reportJobResponse
	if err := b.cc.QOperationExecute(ctx, doc, &resp); err != nil {
		return "", err
	}
	return resp.jobID()
}
