package security

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

// Directory service types accepted by Domains.Add.
var domainServiceTypes = map[string]int{
	"active directory": 2,
	"apple directory":  8,
	"oracle ldap":      9,
	"open ldap":        10,
	"ldap server":      14,
}

type domainShortName struct {
	DomainName string           `json:"domainName"`
	ID         commcell.FlexInt `json:"id,omitempty"`
}

// DomainProvider is one directory domain as reported by the server.
type DomainProvider struct {
	ShortName   domainShortName  `json:"shortName"`
	ConnectName string           `json:"connectName,omitempty"`
	ServiceType commcell.FlexInt `json:"serviceType,omitempty"`
	Enabled     commcell.FlexInt `json:"enabled,omitempty"`
	Login       string           `json:"login,omitempty"`
}

type domainsResponse struct {
	Providers []DomainProvider `json:"providers"`
}

// LDAPOptions customizes the user and group lookups of a new domain.
type LDAPOptions struct {
	GroupFilter      string
	UserFilter       string
	UniqueIdentifier string
	BaseDN           string
}

// DomainOptions describes a domain to register.
type DomainOptions struct {
	DomainName  string
	NetBIOSName string
	Username    string
	Password    string
	CompanyID   int
	ADProxies   []string
	// ServerType is one of "active directory", "apple directory", "oracle ldap",
	// "open ldap" or "ldap server". Empty means active directory.
	ServerType string
	LDAP       *LDAPOptions
}

type ldapAttribute struct {
	AttrID                int    `json:"attrId"`
	AttributeName         string `json:"attributeName"`
	StaticAttributeString string `json:"staticAttributeString"`
	CustomAttributeString string `json:"customAttributeString"`
	AttrTypeFlags         int    `json:"attrTypeFlags"`
}

type customProvider struct {
	ProviderTypeID int             `json:"providerTypeId"`
	Attributes     []ldapAttribute `json:"attributes"`
}

type adProxy struct {
	ClientName string `json:"clientName"`
}

type tppm struct {
	Enable           bool `json:"enable"`
	TppmType         int  `json:"tppmType"`
	ProxyInformation struct {
		ADProxyList []adProxy `json:"adProxyList,omitempty"`
	} `json:"proxyInformation"`
}

type domainCreateProvider struct {
	ServiceType    int             `json:"serviceType"`
	Flags          int             `json:"flags"`
	BPassword      string          `json:"bPassword"`
	Login          string          `json:"login"`
	Enabled        int             `json:"enabled"`
	UseSecureLdap  int             `json:"useSecureLdap"`
	ConnectName    string          `json:"connectName"`
	BLogin         string          `json:"bLogin"`
	OwnerCompanyID int             `json:"ownerCompanyId"`
	Tppm           tppm            `json:"tppm"`
	ShortName      domainShortName `json:"shortName"`
	CustomProvider *customProvider `json:"customProvider,omitempty"`
}

type domainCreateRequest struct {
	Operation int                  `json:"operation"`
	Provider  domainCreateProvider `json:"provider"`
}

// domainStatus is the top-level errorCode reply of the domain endpoints. A
// reply without errorCode is treated as empty.
type domainStatus struct {
	ErrorCode *commcell.FlexInt `json:"errorCode"`
}

// Domains is the collection of directory domains registered on a CommCell.
type Domains struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[DomainProvider]
}

// NewDomains returns the domain collection.
func NewDomains(cc *commcell.Commcell) *Domains {
	d := &Domains{cc: cc}
	d.cache = namemap.NewCache("domains", cc.CacheTTL(), d.load)
	return d
}

func (d *Domains) load(ctx context.Context) (namemap.Map[DomainProvider], error) {
	resp, err := d.cc.Request(ctx, http.MethodGet, commcell.DomainControllers.URL(), nil)
	if err != nil {
		return namemap.Map[DomainProvider]{}, err
	}
	if resp.Empty() {
		return namemap.New[DomainProvider](0), nil
	}
	var body domainsResponse
	if err := commcell.Decode(resp, &body); err != nil {
		return namemap.Map[DomainProvider]{}, err
	}
	domains := namemap.New[DomainProvider](len(body.Providers))
	for _, p := range body.Providers {
		domains.Set(p.ShortName.DomainName, p)
	}
	return domains, nil
}

// Refresh reloads the domain list.
func (d *Domains) Refresh(ctx context.Context) error {
	_, err := d.cache.Refresh(ctx)
	return err
}

// All returns every domain keyed by lower-cased short name.
func (d *Domains) All(ctx context.Context) (map[string]DomainProvider, error) {
	m, err := d.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

// Has reports whether a domain with the given short name exists.
func (d *Domains) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleDomain, "101", "")
	}
	m, err := d.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

// Get returns the domain with the given short name.
func (d *Domains) Get(ctx context.Context, name string) (*Domain, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleDomain, "101", "")
	}
	m, err := d.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := m.Get(name)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleDomain, "102",
			fmt.Sprintf("Domain %s doesn't exists on this commcell.", name))
	}
	return NewDomain(d.cc, name, p.ShortName.ID.String()), nil
}

// Delete unregisters the domain.
func (d *Domains) Delete(ctx context.Context, name string) error {
	if name == "" {
		return sdkerrors.Precondition(sdkerrors.ModuleDomain, "101", "")
	}
	name = namemap.Key(name)
	m, err := d.cache.Get(ctx)
	if err != nil {
		return err
	}
	p, ok := m.Get(name)
	if !ok {
		return sdkerrors.Precondition(sdkerrors.ModuleDomain, "102",
			"No domain exists with name: "+name)
	}

	resp, err := d.cc.Request(ctx, http.MethodDelete, commcell.DeleteDomainController.URL(p.ShortName.ID.String()), nil)
	if err != nil {
		return errors.Trace(err)
	}
	if err := checkDomainStatus(resp, "delete"); err != nil {
		return err
	}
	return d.Refresh(ctx)
}

func checkDomainStatus(resp *transport.Response, action string) error {
	var status domainStatus
	if err := resp.JSON(&status); err != nil {
		return err
	}
	if status.ErrorCode == nil {
		return sdkerrors.EmptyResponse()
	}
	if code := status.ErrorCode.Int(); code != 0 {
		return sdkerrors.Application(sdkerrors.ModuleDomain, "102", fmt.Sprintf(
			"Failed to %s domain with error code: \"%d\"\nPlease check the documentation for more details on the error",
			action, code))
	}
	return nil
}

func ldapProvider(o *LDAPOptions) *customProvider {
	return &customProvider{Attributes: []ldapAttribute{
		{AttrID: 6, AttributeName: "User group filter", StaticAttributeString: "(objectClass=group)", CustomAttributeString: o.GroupFilter, AttrTypeFlags: 1},
		{AttrID: 7, AttributeName: "User filter", StaticAttributeString: "(&(objectCategory=User)(sAMAccountName=*))", CustomAttributeString: o.UserFilter, AttrTypeFlags: 1},
		{AttrID: 9, AttributeName: "Unique identifier", StaticAttributeString: "sAMAccountName", CustomAttributeString: o.UniqueIdentifier, AttrTypeFlags: 1},
		{AttrID: 10, AttributeName: "base DN", StaticAttributeString: "baseDN", CustomAttributeString: o.BaseDN, AttrTypeFlags: 1},
	}}
}

// Add registers a directory domain. An already registered domain is returned
// as is.
func (d *Domains) Add(ctx context.Context, opts DomainOptions) (*Domain, error) {
	serverType := opts.ServerType
	if serverType == "" {
		serverType = "active directory"
	}
	serviceType, ok := domainServiceTypes[namemap.Key(serverType)]
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleDomain, "102", "please pass valid server type")
	}
	if opts.DomainName == "" || opts.NetBIOSName == "" || opts.Username == "" || opts.Password == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleDomain, "101", "")
	}

	domainName := namemap.Key(opts.DomainName)
	exists, err := d.Has(ctx, domainName)
	if err != nil {
		return nil, err
	}
	if exists {
		return d.Get(ctx, domainName)
	}

	req := domainCreateRequest{
		Operation: 1,
		Provider: domainCreateProvider{
			ServiceType:    serviceType,
			Flags:          1,
			BPassword:      base64.StdEncoding.EncodeToString([]byte(opts.Password)),
			Login:          opts.Username,
			Enabled:        1,
			ConnectName:    domainName,
			BLogin:         opts.Username,
			OwnerCompanyID: opts.CompanyID,
			Tppm:           tppm{Enable: len(opts.ADProxies) > 0, TppmType: 4},
			ShortName:      domainShortName{DomainName: opts.NetBIOSName},
		},
	}
	for _, proxy := range opts.ADProxies {
		req.Provider.Tppm.ProxyInformation.ADProxyList = append(req.Provider.Tppm.ProxyInformation.ADProxyList, adProxy{ClientName: proxy})
	}
	if opts.LDAP != nil {
		req.Provider.CustomProvider = ldapProvider(opts.LDAP)
	}

	resp, err := d.cc.Request(ctx, http.MethodPost, commcell.DomainControllers.URL(), req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := checkDomainStatus(resp, "add"); err != nil {
		return nil, err
	}
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d.Get(ctx, opts.NetBIOSName)
}

// Domain is a single directory domain.
type Domain struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	name   string
	id     string
	props  DomainProvider
	loaded bool
}

// NewDomain returns a handle on a domain. An empty id is resolved through the
// domain list on first use.
func NewDomain(cc *commcell.Commcell, name, id string) *Domain {
	return &Domain{cc: cc, name: namemap.Key(name), id: id}
}

func (d *Domain) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *Domain) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Refresh reloads the domain properties.
func (d *Domain) Refresh(ctx context.Context) error {
	id := d.ID()
	if id == "" {
		dom, err := NewDomains(d.cc).Get(ctx, d.Name())
		if err != nil {
			return err
		}
		id = dom.id
	}

	var body domainsResponse
	if err := d.cc.GetJSON(ctx, commcell.DomainController.URL(id), &body); err != nil {
		return err
	}
	if len(body.Providers) == 0 {
		return sdkerrors.EmptyResponse()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.props = body.Providers[0]
	d.id = id
	d.loaded = true
	return nil
}

// Properties returns the provider record, loading it on first use.
func (d *Domain) Properties(ctx context.Context) (DomainProvider, error) {
	d.mu.Lock()
	loaded := d.loaded
	d.mu.Unlock()
	if !loaded {
		if err := d.Refresh(ctx); err != nil {
			return DomainProvider{}, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.props, nil
}
