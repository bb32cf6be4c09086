package security

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

// Identity app types.
const (
	AppTypeRegular       = 1
	AppTypeSAML          = 2
	AppTypeCommCell      = 3
	AppTypeLocalIdentity = 4
	AppTypeOpenID        = 5
)

var appTypeNames = map[int]string{
	AppTypeRegular:       "Regular",
	AppTypeSAML:          "SAML",
	AppTypeCommCell:      "CommCell",
	AppTypeLocalIdentity: "Local Identity",
	AppTypeOpenID:        "OpenId Connect",
}

// AppTypeName returns the display name of an identity app type.
func AppTypeName(t int) string {
	return appTypeNames[t]
}

// NameValue is one identity-provider property.
type NameValue struct {
	Name  string `json:"name" xml:"name,attr"`
	Value string `json:"value" xml:"value,attr"`
}

// IdentityAppInfo is one third-party app as listed by the server.
type IdentityAppInfo struct {
	AppName        string           `json:"appName"`
	AppKey         string           `json:"appKey"`
	AppType        commcell.FlexInt `json:"appType"`
	AppDescription string           `json:"appDescription"`
	Flags          commcell.FlexInt `json:"flags"`
	IsEnabled      bool             `json:"isEnabled"`
}

type identityAppsResponse struct {
	ClientThirdPartyApps []IdentityAppInfo `json:"clientThirdPartyApps"`
}

type userAssoc struct {
	UserID int `json:"userId"`
	Type   int `json:"_type_"`
}

type userMapping struct {
	UserFromToken string `json:"userfromToken"`
	LocalUser     struct {
		UserID int `json:"userId"`
	} `json:"localuser"`
}

type thirdPartyApp struct {
	AppName        string `json:"appName,omitempty"`
	AppKey         string `json:"appKey,omitempty"`
	AppDisplayName string `json:"appDisplayName,omitempty"`
	AppDescription string `json:"appDescription,omitempty"`
	Flags          int    `json:"flags"`
	AppType        int    `json:"appType"`
	IsEnabled      bool   `json:"isEnabled"`
	UserMappings   *struct {
		OpType    int           `json:"opType"`
		UsersList []userMapping `json:"userslist"`
	} `json:"UserMappings,omitempty"`
	Props *struct {
		NameValues []NameValue `json:"nameValues"`
	} `json:"props,omitempty"`
	AssocTree []userAssoc `json:"assocTree,omitempty"`
}

type thirdPartyAppsRequest struct {
	OpType int             `json:"opType"`
	Apps   []thirdPartyApp `json:"clientThirdPartyApps"`
}

type identityErrorBody struct {
	ErrorCode      commcell.FlexInt `json:"errorCode"`
	ErrorString    string           `json:"errorString"`
	WarningMessage string           `json:"warningMessage"`
}

type identityStatus struct {
	Error *identityErrorBody `json:"error"`
}

func userAssocs(userIDs []int) []userAssoc {
	out := make([]userAssoc, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, userAssoc{UserID: id, Type: 13})
	}
	return out
}

// IdentityManagementApps is the collection of identity-provider apps.
type IdentityManagementApps struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[IdentityAppInfo]
}

// NewIdentityManagementApps returns the identity app collection.
func NewIdentityManagementApps(cc *commcell.Commcell) *IdentityManagementApps {
	a := &IdentityManagementApps{cc: cc}
	a.cache = namemap.NewCache("identity_apps", cc.CacheTTL(), a.load)
	return a
}

func (a *IdentityManagementApps) load(ctx context.Context) (namemap.Map[IdentityAppInfo], error) {
	resp, err := a.cc.Request(ctx, http.MethodGet, commcell.IdentityApps.URL(), nil)
	if err != nil {
		return namemap.Map[IdentityAppInfo]{}, err
	}
	if resp.Empty() {
		return namemap.New[IdentityAppInfo](0), nil
	}
	var body identityAppsResponse
	if err := commcell.Decode(resp, &body); err != nil {
		return namemap.Map[IdentityAppInfo]{}, err
	}
	apps := namemap.New[IdentityAppInfo](len(body.ClientThirdPartyApps))
	for _, app := range body.ClientThirdPartyApps {
		apps.Set(app.AppName, app)
	}
	return apps, nil
}

// Refresh reloads the app list.
func (a *IdentityManagementApps) Refresh(ctx context.Context) error {
	_, err := a.cache.Refresh(ctx)
	return err
}

// All returns every app keyed by lower-cased name.
func (a *IdentityManagementApps) All(ctx context.Context) (map[string]IdentityAppInfo, error) {
	m, err := a.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether an app named name exists.
func (a *IdentityManagementApps) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleIdentityManagement, "101", "")
	}
	m, err := a.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

// Get returns the app named name.
func (a *IdentityManagementApps) Get(ctx context.Context, name string) (*IdentityApp, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleIdentityManagement, "101", "")
	}
	m, err := a.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	info, ok := m.Get(name)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleIdentityManagement, "102", "")
	}
	return newIdentityApp(a.cc, name, info), nil
}

func (a *IdentityManagementApps) byType(ctx context.Context, appType int) ([]*IdentityApp, error) {
	m, err := a.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	var apps []*IdentityApp
	for _, name := range m.Names() {
		info, _ := m.Get(name)
		if info.AppType.Int() == appType {
			apps = append(apps, newIdentityApp(a.cc, name, info))
		}
	}
	return apps, nil
}

// LocalApp returns the local identity app, or nil when none is configured.
func (a *IdentityManagementApps) LocalApp(ctx context.Context) (*IdentityApp, error) {
	apps, err := a.byType(ctx, AppTypeLocalIdentity)
	if err != nil || len(apps) == 0 {
		return nil, err
	}
	return apps[0], nil
}

// CommcellApps returns every CommCell-type identity app.
func (a *IdentityManagementApps) CommcellApps(ctx context.Context) ([]*IdentityApp, error) {
	return a.byType(ctx, AppTypeCommCell)
}

func (a *IdentityManagementApps) send(ctx context.Context, req thirdPartyAppsRequest) (*identityErrorBody, error) {
	resp, err := a.cc.Request(ctx, http.MethodPost, commcell.IdentityApps.URL(), req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var status identityStatus
	if err := resp.JSON(&status); err != nil {
		return nil, err
	}
	if status.Error == nil {
		return nil, sdkerrors.EmptyResponse()
	}
	return status.Error, nil
}

// Delete removes the app named name.
func (a *IdentityManagementApps) Delete(ctx context.Context, name string) error {
	m, err := a.cache.Get(ctx)
	if err != nil {
		return err
	}
	info, ok := m.Get(name)
	if !ok {
		return sdkerrors.Precondition(sdkerrors.ModuleIdentityManagement, "102", "")
	}
	status, err := a.send(ctx, thirdPartyAppsRequest{OpType: 2, Apps: []thirdPartyApp{{
		AppName:        info.AppName,
		AppKey:         info.AppKey,
		AppDescription: info.AppDescription,
		Flags:          info.Flags.Int(),
		AppType:        info.AppType.Int(),
		IsEnabled:      info.IsEnabled,
	}}})
	if err != nil {
		return err
	}
	if status.ErrorCode.Int() != 0 {
		return sdkerrors.Application(sdkerrors.ModuleResponse, "101", status.WarningMessage)
	}
	return a.Refresh(ctx)
}

func configureError(status *identityErrorBody) error {
	if status.ErrorCode.Int() == 0 {
		return nil
	}
	return sdkerrors.Application(sdkerrors.ModuleIdentityManagement, "103", " - error "+status.ErrorString)
}

// ConfigureLocalApp enables the local identity app for the given users.
func (a *IdentityManagementApps) ConfigureLocalApp(ctx context.Context, userIDs []int) (*IdentityApp, error) {
	status, err := a.send(ctx, thirdPartyAppsRequest{OpType: 1, Apps: []thirdPartyApp{{
		AppType:   AppTypeLocalIdentity,
		IsEnabled: true,
		AssocTree: userAssocs(userIDs),
	}}})
	if err != nil {
		return nil, err
	}
	if err := configureError(status); err != nil {
		return nil, err
	}
	if err := a.Refresh(ctx); err != nil {
		return nil, err
	}
	return a.LocalApp(ctx)
}

// CommcellAppOptions describes a CommCell identity app.
type CommcellAppOptions struct {
	Name        string
	DisplayName string
	Description string
	Props       []NameValue
	UserIDs     []int
	// UserMappings maps a user name in the token to a local user id.
	UserMappings map[string]int
}

// ConfigureCommcellApp registers a CommCell identity app and returns every
// CommCell app afterwards.
func (a *IdentityManagementApps) ConfigureCommcellApp(ctx context.Context, opts CommcellAppOptions) ([]*IdentityApp, error) {
	if opts.Name == "" || opts.DisplayName == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleIdentityManagement, "103", " - error app name is required")
	}
	app := thirdPartyApp{
		AppName:        opts.Name,
		AppDisplayName: opts.DisplayName,
		AppDescription: opts.Description,
		AppType:        AppTypeCommCell,
		IsEnabled:      true,
		AssocTree:      userAssocs(opts.UserIDs),
	}
	app.Props = &struct {
		NameValues []NameValue `json:"nameValues"`
	}{NameValues: opts.Props}
	app.UserMappings = &struct {
		OpType    int           `json:"opType"`
		UsersList []userMapping `json:"userslist"`
	}{OpType: 2}
	for token, id := range opts.UserMappings {
		var m userMapping
		m.UserFromToken = token
		m.LocalUser.UserID = id
		app.UserMappings.UsersList = append(app.UserMappings.UsersList, m)
	}

	status, err := a.send(ctx, thirdPartyAppsRequest{OpType: 1, Apps: []thirdPartyApp{app}})
	if err != nil {
		return nil, err
	}
	if err := configureError(status); err != nil {
		return nil, err
	}
	if err := a.Refresh(ctx); err != nil {
		return nil, err
	}
	return a.CommcellApps(ctx)
}

type openIDAssoc struct {
	Type     int    `xml:"_type_,attr"`
	UserName string `xml:"userName,attr"`
}

type openIDApp struct {
	AppName    string        `xml:"appName,attr"`
	Flags      int           `xml:"flags,attr"`
	AppType    int           `xml:"appType,attr"`
	IsEnabled  int           `xml:"isEnabled,attr"`
	NameValues []NameValue   `xml:"props>nameValues"`
	AssocTree  []openIDAssoc `xml:"assocTree"`
}

type setAppPropsRequest struct {
	XMLName xml.Name    `xml:"App_SetClientThirdPartyAppPropReq"`
	OpType  int         `xml:"opType,attr"`
	Apps    []openIDApp `xml:"clientThirdPartyApps"`
}

// ConfigureOpenIDApp registers an OpenID Connect app for the given users.
func (a *IdentityManagementApps) ConfigureOpenIDApp(ctx context.Context, name string, props []NameValue, userNames []string) error {
	if name == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleIdentityManagement, "101", "")
	}
	app := openIDApp{AppName: name, AppType: AppTypeOpenID, IsEnabled: 1, NameValues: props}
	for _, u := range userNames {
		app.AssocTree = append(app.AssocTree, openIDAssoc{Type: 13, UserName: u})
	}
	resp, err := a.cc.SendXML(ctx, commcell.QOperationExecute.URL(),
		setAppPropsRequest{OpType: 1, Apps: []openIDApp{app}}, transport.ContentTypeJSON)
	if err != nil {
		return errors.Trace(err)
	}
	if !resp.Empty() {
		var status commcell.TopLevelStatus
		if err := resp.JSON(&status); err != nil {
			return err
		}
		if status.ErrorCode.Int() != 0 {
			return sdkerrors.Application(sdkerrors.ModuleIdentityManagement, "103",
				fmt.Sprintf("Error: %q", status.ErrorMessage))
		}
	}
	return a.Refresh(ctx)
}

// IdentityApp is a single identity-provider app.
type IdentityApp struct {
	cc   *commcell.Commcell
	name string

	mu   sync.Mutex
	info IdentityAppInfo
}

func newIdentityApp(cc *commcell.Commcell, name string, info IdentityAppInfo) *IdentityApp {
	return &IdentityApp{cc: cc, name: namemap.Key(name), info: info}
}

// NewIdentityApp returns a handle on an app known only by name. Its key is
// resolved on Refresh.
func NewIdentityApp(cc *commcell.Commcell, name string) *IdentityApp {
	return &IdentityApp{cc: cc, name: namemap.Key(name)}
}

func (a *IdentityApp) Name() string { return a.name }

func (a *IdentityApp) snapshot() IdentityAppInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

func (a *IdentityApp) Key() string         { return a.snapshot().AppKey }
func (a *IdentityApp) Description() string { return a.snapshot().AppDescription }
func (a *IdentityApp) Flags() int          { return a.snapshot().Flags.Int() }
func (a *IdentityApp) Enabled() bool       { return a.snapshot().IsEnabled }

// Type returns the display name of the app type.
func (a *IdentityApp) Type() string { return AppTypeName(a.snapshot().AppType.Int()) }

// Refresh reloads the app by key.
func (a *IdentityApp) Refresh(ctx context.Context) error {
	key := a.Key()
	if key == "" {
		app, err := NewIdentityManagementApps(a.cc).Get(ctx, a.name)
		if err != nil {
			return err
		}
		key = app.Key()
	}

	var body identityAppsResponse
	if err := a.cc.GetJSON(ctx, commcell.IdentityApps.URL(), &body); err != nil {
		if sdkerrors.IsEmptyResponse(err) {
			return sdkerrors.Application(sdkerrors.ModuleIdentityManagement, "101", "")
		}
		return err
	}
	for _, info := range body.ClientThirdPartyApps {
		if info.AppKey == key {
			a.mu.Lock()
			a.info = info
			a.mu.Unlock()
			return nil
		}
	}
	return sdkerrors.Application(sdkerrors.ModuleIdentityManagement, "102", "")
}

type getAppPropsRequest struct {
	XMLName   xml.Name `xml:"App_GetClientThirdPartyAppPropReq"`
	PropLevel int      `xml:"propLevel,attr"`
	AppKeys   struct {
		Val string `xml:"val,attr"`
	} `xml:"appKeys"`
}

// Props returns the identity-provider properties of the app.
func (a *IdentityApp) Props(ctx context.Context) ([]NameValue, error) {
	req := getAppPropsRequest{PropLevel: 30}
	req.AppKeys.Val = a.Key()

	var body struct {
		ClientThirdPartyApps []struct {
			Props struct {
				NameValues []NameValue `json:"nameValues"`
			} `json:"props"`
		} `json:"clientThirdPartyApps"`
	}
	if err := a.cc.QOperationExecute(ctx, req, &body); err != nil {
		if sdkerrors.IsEmptyResponse(err) {
			return nil, sdkerrors.Application(sdkerrors.ModuleIdentityManagement, "102", "")
		}
		return nil, err
	}
	if len(body.ClientThirdPartyApps) == 0 {
		return nil, sdkerrors.Application(sdkerrors.ModuleIdentityManagement, "102", "")
	}
	return body.ClientThirdPartyApps[0].Props.NameValues, nil
}
