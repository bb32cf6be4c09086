package security

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// CapabilityOp selects how ModifyCapability applies a permission list.
type CapabilityOp int

const (
	CapabilityNone      CapabilityOp = 0
	CapabilityOverwrite CapabilityOp = 1
	CapabilityUpdate    CapabilityOp = 2
	CapabilityDelete    CapabilityOp = 3
)

// CapabilityAdd is accepted by the server as a synonym of CapabilityUpdate.
const CapabilityAdd = CapabilityUpdate

type capability struct {
	PermissionName string `json:"permissionName,omitempty"`
	CategoryName   string `json:"categoryName,omitempty"`
}

type categoryPermission struct {
	OperationType any          `json:"categoriesPermissionOperationType,omitempty"`
	List          []capability `json:"categoriesPermissionList"`
}

type roleFlags struct {
	Disabled bool `json:"disabled"`
}

type roleRef struct {
	RoleName   string           `json:"roleName,omitempty"`
	RoleID     commcell.FlexInt `json:"roleId,omitempty"`
	Flags      *roleFlags       `json:"flags,omitempty"`
	EntityInfo *struct {
		CompanyName string `json:"companyName"`
	} `json:"entityInfo,omitempty"`
}

type userOrGroup struct {
	UserName      string `json:"userName,omitempty"`
	UserGroupName string `json:"userGroupName,omitempty"`
}

type associationProperties struct {
	Role               *roleRef            `json:"role,omitempty"`
	CategoryPermission *categoryPermission `json:"categoryPermission,omitempty"`
	Permissions        []capability        `json:"permissions,omitempty"`
}

type association struct {
	UserOrGroup []userOrGroup         `json:"userOrGroup"`
	Properties  associationProperties `json:"properties"`
}

type securityAssociations struct {
	OperationType  int           `json:"associationsOperationType,omitempty"`
	Associations   []association `json:"associations,omitempty"`
	TagWithCompany *struct {
		ProviderDomainName string `json:"providerDomainName"`
	} `json:"tagWithCompany,omitempty"`
}

type roleEntry struct {
	Role                 roleRef               `json:"role"`
	Description          *string               `json:"description,omitempty"`
	CategoryPermission   *categoryPermission   `json:"categoryPermission,omitempty"`
	SecurityAssociations *securityAssociations `json:"securityAssociations,omitempty"`
}

type rolesRequest struct {
	Roles []roleEntry `json:"roles"`
}

type rolesResponse struct {
	RoleProperties []roleEntry `json:"roleProperties"`
}

func capabilities(permissions, categories []string) []capability {
	list := make([]capability, 0, len(permissions)+len(categories))
	for _, p := range permissions {
		list = append(list, capability{PermissionName: p})
	}
	for _, c := range categories {
		list = append(list, capability{CategoryName: c})
	}
	return list
}

// Roles is the collection of roles on a CommCell.
type Roles struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[string]
}

// NewRoles returns the role collection. Nothing is fetched until first use.
func NewRoles(cc *commcell.Commcell) *Roles {
	r := &Roles{cc: cc}
	r.cache = namemap.NewCache("roles", cc.CacheTTL(), r.load)
	return r
}

// load maps role names to ids. Names shared by roles of different companies
// are disambiguated as "name_(company)".
func (r *Roles) load(ctx context.Context) (namemap.Map[string], error) {
	resp, err := r.cc.Request(ctx, http.MethodGet, commcell.Roles.URL(), nil)
	if err != nil {
		return namemap.Map[string]{}, err
	}
	if resp.Empty() {
		return namemap.New[string](0), nil
	}
	var body rolesResponse
	if err := commcell.Decode(resp, &body); err != nil {
		return namemap.Map[string]{}, err
	}

	companies := make(map[string]map[string]struct{})
	for _, p := range body.RoleProperties {
		name := namemap.Key(p.Role.RoleName)
		if companies[name] == nil {
			companies[name] = make(map[string]struct{})
		}
		companies[name][namemap.Key(companyOf(p.Role))] = struct{}{}
	}

	roles := namemap.New[string](len(body.RoleProperties))
	for _, p := range body.RoleProperties {
		key := p.Role.RoleName
		if len(companies[namemap.Key(key)]) > 1 {
			key = fmt.Sprintf("%s_(%s)", key, namemap.Key(companyOf(p.Role)))
		}
		roles.Set(key, p.Role.RoleID.String())
	}
	return roles, nil
}

func companyOf(r roleRef) string {
	if r.EntityInfo == nil {
		return ""
	}
	return r.EntityInfo.CompanyName
}

// Refresh reloads the role list.
func (r *Roles) Refresh(ctx context.Context) error {
	_, err := r.cache.Refresh(ctx)
	return err
}

// All returns role ids keyed by lower-cased name.
func (r *Roles) All(ctx context.Context) (map[string]string, error) {
	m, err := r.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether a role named name exists.
func (r *Roles) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleRole, "101", "")
	}
	m, err := r.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

// Get returns the role named name.
func (r *Roles) Get(ctx context.Context, name string) (*Role, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRole, "101", "")
	}
	m, err := r.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := m.Get(name)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRole, "102",
			fmt.Sprintf("Role %s doesn't exists on this commcell.", name))
	}
	return NewRole(r.cc, name, id), nil
}

// Add creates a role holding the given permissions and whole categories.
func (r *Roles) Add(ctx context.Context, name string, permissions, categories []string) (*Role, error) {
	if len(permissions) == 0 && len(categories) == 0 {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRole, "102",
			"empty role can not be created!!  either permission_list or categoryname_list should have some value! ")
	}
	exists, err := r.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRole, "102",
			fmt.Sprintf("Role %s already exists on this commcell.", name))
	}

	req := rolesRequest{Roles: []roleEntry{{
		Role: roleRef{RoleName: name},
		CategoryPermission: &categoryPermission{
			OperationType: "ADD",
			List:          capabilities(permissions, categories),
		},
	}}}
	if err := sendResponseList(ctx, r.cc, http.MethodPost, commcell.Roles.URL(), req); err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r.Get(ctx, name)
}

// Delete removes the role named name.
func (r *Roles) Delete(ctx context.Context, name string) error {
	if name == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleRole, "101", "")
	}
	m, err := r.cache.Get(ctx)
	if err != nil {
		return err
	}
	id, ok := m.Get(name)
	if !ok {
		return sdkerrors.Precondition(sdkerrors.ModuleRole, "102",
			fmt.Sprintf("Role %s doesn't exists on this commcell.", name))
	}
	if err := sendResponseList(ctx, r.cc, http.MethodDelete, commcell.Role.URL(id), nil); err != nil {
		return errors.Trace(err)
	}
	return r.Refresh(ctx)
}

// Association lists what one user or user group holds on a role.
type Association struct {
	Permissions []string
	Roles       []string
}

// RoleProperties is the detail view of a role.
type RoleProperties struct {
	Name         string
	ID           string
	Description  string
	Enabled      bool
	Company      string
	Permissions  []string
	Categories   []string
	Associations map[string]Association
}

// Role is a single role.
type Role struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	name   string
	id     string
	props  RoleProperties
	loaded bool
}

// NewRole returns a handle on a role. An empty id is resolved through the role
// list on first use.
func NewRole(cc *commcell.Commcell, name, id string) *Role {
	return &Role{cc: cc, name: namemap.Key(name), id: id}
}

func (r *Role) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// ID returns the role id, or "" while it is still unresolved.
func (r *Role) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *Role) resolveID(ctx context.Context) (string, error) {
	if id := r.ID(); id != "" {
		return id, nil
	}
	role, err := NewRoles(r.cc).Get(ctx, r.Name())
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.id = role.id
	r.mu.Unlock()
	return role.id, nil
}

// Refresh reloads the role properties.
func (r *Role) Refresh(ctx context.Context) error {
	id, err := r.resolveID(ctx)
	if err != nil {
		return err
	}
	resp, err := r.cc.Request(ctx, http.MethodGet, commcell.Role.URL(id), nil)
	if err != nil {
		return err
	}
	var body rolesResponse
	if err := commcell.Decode(resp, &body); err != nil {
		return err
	}
	if len(body.RoleProperties) == 0 {
		return sdkerrors.EmptyResponse()
	}

	props := parseRole(body.RoleProperties[0])
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props = props
	r.name = props.Name
	r.id = props.ID
	r.loaded = true
	return nil
}

func parseRole(e roleEntry) RoleProperties {
	p := RoleProperties{
		Name:         e.Role.RoleName,
		ID:           e.Role.RoleID.String(),
		Enabled:      e.Role.Flags == nil || !e.Role.Flags.Disabled,
		Associations: make(map[string]Association),
	}
	if e.Description != nil {
		p.Description = *e.Description
	}
	if e.CategoryPermission != nil {
		for _, c := range e.CategoryPermission.List {
			switch {
			case c.PermissionName != "":
				p.Permissions = append(p.Permissions, c.PermissionName)
			case c.CategoryName != "":
				p.Categories = append(p.Categories, c.CategoryName)
			}
		}
	}
	if sa := e.SecurityAssociations; sa != nil {
		if sa.TagWithCompany != nil {
			p.Company = sa.TagWithCompany.ProviderDomainName
		}
		for _, a := range sa.Associations {
			if len(a.UserOrGroup) == 0 {
				continue
			}
			name := a.UserOrGroup[0].UserName
			if name == "" {
				name = a.UserOrGroup[0].UserGroupName
			}
			if name == "" {
				continue
			}
			entry := p.Associations[name]
			switch props := a.Properties; {
			case props.CategoryPermission != nil && len(props.CategoryPermission.List) > 0:
				entry.Permissions = appendUnique(entry.Permissions, props.CategoryPermission.List[0].PermissionName)
			case len(props.Permissions) > 0:
				entry.Permissions = appendUnique(entry.Permissions, props.Permissions[0].PermissionName)
			case props.Role != nil:
				entry.Roles = appendUnique(entry.Roles, props.Role.RoleName)
			}
			p.Associations[name] = entry
		}
	}
	return p
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Properties returns the role properties, loading them on first use.
func (r *Role) Properties(ctx context.Context) (RoleProperties, error) {
	r.mu.Lock()
	loaded := r.loaded
	r.mu.Unlock()
	if !loaded {
		if err := r.Refresh(ctx); err != nil {
			return RoleProperties{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.props, nil
}

func (r *Role) update(ctx context.Context, entry roleEntry, refresh bool) error {
	id, err := r.resolveID(ctx)
	if err != nil {
		return err
	}
	if entry.Role.RoleName == "" {
		entry.Role.RoleName = r.Name()
	}
	req := rolesRequest{Roles: []roleEntry{entry}}
	if err := sendResponseList(ctx, r.cc, http.MethodPost, commcell.Role.URL(id), req); err != nil {
		return errors.Trace(err)
	}
	if !refresh {
		return nil
	}
	return r.Refresh(ctx)
}

// SetName renames the role.
func (r *Role) SetName(ctx context.Context, name string) error {
	if name == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleRole, "101", "")
	}
	return r.update(ctx, roleEntry{Role: roleRef{RoleName: name}}, true)
}

// SetDescription changes the role description.
func (r *Role) SetDescription(ctx context.Context, description string) error {
	return r.update(ctx, roleEntry{Description: &description}, true)
}

// SetStatus enables or disables the role.
func (r *Role) SetStatus(ctx context.Context, enabled bool) error {
	return r.update(ctx, roleEntry{Role: roleRef{Flags: &roleFlags{Disabled: !enabled}}}, true)
}

// ModifyCapability adds, overwrites or removes permissions and categories.
func (r *Role) ModifyCapability(ctx context.Context, op CapabilityOp, permissions, categories []string) error {
	if len(permissions) == 0 && len(categories) == 0 {
		return sdkerrors.Precondition(sdkerrors.ModuleRole, "102",
			"Capabilties can not be modified!!  either permission_list or categoryname_list should have some value! ")
	}
	return r.update(ctx, roleEntry{CategoryPermission: &categoryPermission{
		OperationType: int(op),
		List:          capabilities(permissions, categories),
	}}, true)
}

// AssociateUser lets userName manage this role through roleName.
func (r *Role) AssociateUser(ctx context.Context, roleName, userName string) error {
	return r.associate(ctx, roleName, userOrGroup{UserName: userName})
}

// AssociateUserGroup lets a user group manage this role through roleName.
func (r *Role) AssociateUserGroup(ctx context.Context, roleName, groupName string) error {
	return r.associate(ctx, roleName, userOrGroup{UserGroupName: groupName})
}

func (r *Role) associate(ctx context.Context, roleName string, who userOrGroup) error {
	if who.UserName == "" && who.UserGroupName == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleRole, "101", "")
	}
	exists, err := NewRoles(r.cc).Has(ctx, roleName)
	if err != nil {
		return err
	}
	if !exists {
		return sdkerrors.Precondition(sdkerrors.ModuleRole, "102",
			fmt.Sprintf("Role %s doesn't exists on this commcell.", roleName))
	}
	return r.update(ctx, roleEntry{SecurityAssociations: &securityAssociations{
		OperationType: 2,
		Associations: []association{{
			UserOrGroup: []userOrGroup{who},
			Properties:  associationProperties{Role: &roleRef{RoleName: roleName}},
		}},
	}}, false)
}
