// Package ops holds the CommCell-wide operational controls: activity control,
// metrics reporting, report runs and the download center.
package ops

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// ActivityType names a CommCell activity that can be enabled or disabled.
type ActivityType string

// Activity types.
const (
	AllActivity            ActivityType = "ALL ACTIVITY"
	DataManagement         ActivityType = "DATA MANAGEMENT"
	DataRecovery           ActivityType = "DATA RECOVERY"
	DataAging              ActivityType = "DATA AGING"
	AuxCopy                ActivityType = "AUX COPY"
	DataVerification       ActivityType = "DATA VERIFICATION"
	DDBActivity            ActivityType = "DDB ACTIVITY"
	Scheduler              ActivityType = "SCHEDULER"
	OfflineContentIndexing ActivityType = "OFFLINE CONTENT INDEXING"
)

var activityCodes = map[ActivityType]int{
	AllActivity:            128,
	DataManagement:         1,
	DataRecovery:           2,
	DataAging:              16,
	AuxCopy:                4,
	DataVerification:       8192,
	DDBActivity:            512,
	Scheduler:              256,
	OfflineContentIndexing: 1024,
}

// ActivityTypes returns every known activity type.
func ActivityTypes() []ActivityType {
	return []ActivityType{
		AllActivity, DataManagement, DataRecovery, DataAging, AuxCopy,
		DataVerification, DDBActivity, Scheduler, OfflineContentIndexing,
	}
}

// Code returns the numeric activity type used by the web service.
func (a ActivityType) Code() (int, bool) {
	code, ok := activityCodes[a]
	return code, ok
}

// Actions accepted by ActivityControl.Set.
const (
	ActionEnable  = "Enable"
	ActionDisable = "Disable"
)

// ActivityStatus is one entry of the activity control list.
type ActivityStatus struct {
	ActivityType     int    `json:"activityType"`
	Enabled          bool   `json:"enabled"`
	ReEnableTime     int64  `json:"reEnableTime"`
	NoSchedEnable    bool   `json:"noSchedEnable"`
	ReEnableTimeZone string `json:"reenableTimeZone"`
}

// ActivityControl enables, disables and delays CommCell activities.
type ActivityControl struct {
	cc *commcell.Commcell

	mu       sync.Mutex
	statuses []ActivityStatus
	last     ActivityStatus
}

func NewActivityControl(cc *commcell.Commcell) *ActivityControl {
	return &ActivityControl{cc: cc}
}

func activityCode(activity ActivityType) (int, error) {
	code, ok := activity.Code()
	if !ok {
		return 0, sdkerrors.Precondition(sdkerrors.ModuleClient, "101", fmt.Sprintf("unknown activity type %q", activity))
	}
	return code, nil
}

// Refresh reloads the activity control list.
func (a *ActivityControl) Refresh(ctx context.Context) error {
	var body struct {
		ACObjects *[]struct {
			ActivityType     commcell.FlexInt `json:"activityType"`
			Enabled          bool             `json:"enabled"`
			ReEnableTime     commcell.FlexInt `json:"reEnableTime"`
			NoSchedEnable    bool             `json:"noSchedEnable"`
			ReEnableTimeZone any              `json:"reenableTimeZone"`
		} `json:"acObjects"`
	}
	if err := a.cc.GetJSON(ctx, commcell.GetActivityControl.URL(), &body); err != nil {
		return err
	}
	if body.ACObjects == nil {
		return sdkerrors.EmptyResponse()
	}
	statuses := make([]ActivityStatus, 0, len(*body.ACObjects))
	for _, o := range *body.ACObjects {
		s := ActivityStatus{
			ActivityType:  o.ActivityType.Int(),
			Enabled:       o.Enabled,
			ReEnableTime:  int64(o.ReEnableTime.Int()),
			NoSchedEnable: o.NoSchedEnable,
		}
		if o.ReEnableTimeZone != nil {
			s.ReEnableTimeZone = fmt.Sprint(o.ReEnableTimeZone)
		}
		statuses = append(statuses, s)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses = statuses
	return nil
}

// Statuses returns the activity list as of the last refresh.
func (a *ActivityControl) Statuses() []ActivityStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ActivityStatus(nil), a.statuses...)
}

// Set enables or disables an activity. action is ActionEnable or
// ActionDisable.
func (a *ActivityControl) Set(ctx context.Context, activity ActivityType, action string) error {
	code, err := activityCode(activity)
	if err != nil {
		return err
	}
	var body commcell.TopLevelStatus
	if err := a.cc.PostJSON(ctx, commcell.SetActivityControl.URL(code, action), nil, &body); err != nil {
		return err
	}
	if err := commcell.Check(body, sdkerrors.ModuleCVPySDK, "102"); err != nil {
		return err
	}
	log.WithFields(log.Fields{"activity": string(activity), "action": action}).Debug("activity control updated")
	return a.Refresh(ctx)
}

type delayedActivity struct {
	ActivityType       int  `json:"activityType"`
	EnableAfterADelay  bool `json:"enableAfterADelay"`
	EnableActivityType bool `json:"enableActivityType"`
	DateTime           struct {
		Time int64 `json:"time"`
	} `json:"dateTime"`
}

type commcellPropertiesRequest struct {
	CommCellInfo struct {
		ActivityControlInfo struct {
			Options []delayedActivity `json:"activityControlOptions"`
		} `json:"commCellActivityControlInfo"`
	} `json:"commCellInfo"`
}

// EnableAfterDelay disables an activity now and has the CommServe re-enable
// it at the given unix time.
func (a *ActivityControl) EnableAfterDelay(ctx context.Context, activity ActivityType, at int64) error {
	code, err := activityCode(activity)
	if err != nil {
		return err
	}
	opt := delayedActivity{ActivityType: code, EnableAfterADelay: true}
	opt.DateTime.Time = at
	var req commcellPropertiesRequest
	req.CommCellInfo.ActivityControlInfo.Options = []delayedActivity{opt}

	var body struct {
		Response *[]struct {
			ErrorCode    commcell.FlexInt `json:"errorCode"`
			ErrorMessage string           `json:"errorMessage"`
		} `json:"response"`
	}
	if err := a.cc.PutJSON(ctx, commcell.CommcellProperties.URL(), req, &body); err != nil {
		return err
	}
	if body.Response == nil || len(*body.Response) == 0 {
		return sdkerrors.EmptyResponse()
	}
	if first := (*body.Response)[0]; first.ErrorCode != 0 {
		return sdkerrors.Application(sdkerrors.ModuleCVPySDK, "102",
			fmt.Sprintf("Failed to enable activity control after a delay\nError: %q", first.ErrorMessage))
	}
	return a.Refresh(ctx)
}

// IsEnabled refreshes the list and reports whether the activity is enabled.
// The matching entry is kept for ReEnableTime and ReEnableTimeZone.
func (a *ActivityControl) IsEnabled(ctx context.Context, activity ActivityType) (bool, error) {
	code, err := activityCode(activity)
	if err != nil {
		return false, err
	}
	if err := a.Refresh(ctx); err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.statuses {
		if s.ActivityType == code {
			a.last = s
			return s.Enabled, nil
		}
	}
	return false, sdkerrors.Application(sdkerrors.ModuleClient, "102",
		fmt.Sprintf("Failed to find activity type:%q in the response", string(activity)))
}

// ReEnableTime is the re-enable time of the activity last passed to IsEnabled.
func (a *ActivityControl) ReEnableTime() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last.ReEnableTime
}

func (a *ActivityControl) ReEnableTimeZone() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last.ReEnableTimeZone
}

func (a *ActivityControl) NoSchedEnable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last.NoSchedEnable
}
