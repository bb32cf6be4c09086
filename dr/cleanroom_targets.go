package dr

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// CleanroomApplicationType is the application type of recovery targets used
// for cleanroom recovery.
const CleanroomApplicationType = "CLEAN_ROOM"

// Hypervisor policy types of a recovery target.
const (
	PolicyUnknown = -1
	PolicyAmazon  = 1
	PolicyHyperV  = 2
	PolicyAzureRM = 7
	PolicyVMware  = 13
)

var policyTypes = map[string]int{
	"AMAZON":                 PolicyAmazon,
	"MICROSOFT":              PolicyHyperV,
	"AZURE_RESOURCE_MANAGER": PolicyAzureRM,
	"VMW_BACKUP_LABTEMPLATE": PolicyVMware,
	"VMW_LIVEMOUNT":          PolicyVMware,
}

// CleanroomTargets is the collection of cleanroom recovery targets. Targets
// of other application types are not listed.
type CleanroomTargets struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[string]
}

func NewCleanroomTargets(cc *commcell.Commcell) *CleanroomTargets {
	t := &CleanroomTargets{cc: cc}
	t.cache = namemap.NewCache("cleanroom_targets", cc.CacheTTL(), t.load)
	return t
}

func (t *CleanroomTargets) load(ctx context.Context) (namemap.Map[string], error) {
	var body struct {
		RecoveryTargets *[]struct {
			ID              commcell.FlexInt `json:"id"`
			Name            string           `json:"name"`
			ApplicationType string           `json:"applicationType"`
		} `json:"recoveryTargets"`
	}
	if err := t.cc.GetJSON(ctx, commcell.RecoveryTargets.URL(), &body); err != nil {
		return namemap.Map[string]{}, err
	}
	if body.RecoveryTargets == nil {
		return namemap.Map[string]{}, sdkerrors.EmptyResponse()
	}
	targets := namemap.New[string](len(*body.RecoveryTargets))
	for _, target := range *body.RecoveryTargets {
		if target.ApplicationType == CleanroomApplicationType {
			targets.Set(target.Name, target.ID.String())
		}
	}
	return targets, nil
}

func (t *CleanroomTargets) Refresh(ctx context.Context) error {
	_, err := t.cache.Refresh(ctx)
	return err
}

// All returns target ids keyed by lower-cased name.
func (t *CleanroomTargets) All(ctx context.Context) (map[string]string, error) {
	m, err := t.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.All(), nil
}

func (t *CleanroomTargets) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleRecoveryTarget, "101", "")
	}
	m, err := t.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

// Get returns the cleanroom target named name.
func (t *CleanroomTargets) Get(ctx context.Context, name string) (*CleanroomTarget, error) {
	if name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRecoveryTarget, "101", "")
	}
	m, err := t.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := m.Get(name)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleRecoveryTarget, "102",
			"No target exists with name: "+namemap.Key(name))
	}
	return NewCleanroomTarget(t.cc, name, id), nil
}

// Delete removes the cleanroom target named name.
func (t *CleanroomTargets) Delete(ctx context.Context, name string) error {
	target, err := t.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := target.Delete(ctx); err != nil {
		return err
	}
	return t.Refresh(ctx)
}

type targetDetails struct {
	Entity *struct {
		ApplicationType       string `json:"applicationType"`
		PolicyType            string `json:"policyType"`
		DestinationHypervisor struct {
			Name string `json:"name"`
		} `json:"destinationHypervisor"`
	} `json:"entity"`
	VMDisplayName struct {
		Prefix string `json:"prefix"`
		Suffix string `json:"suffix"`
	} `json:"vmDisplayName"`
	AccessNode struct {
		Type string `json:"type"`
	} `json:"accessNode"`
	ProxyClientGroupEntity struct {
		ClientGroupName string `json:"clientGroupName"`
	} `json:"proxyClientGroupEntity"`
	SecurityOptions struct {
		Users []struct {
			UserName string `json:"userName"`
		} `json:"users"`
		UserGroups []struct {
			UserGroupName string `json:"userGroupName"`
		} `json:"userGroups"`
	} `json:"securityOptions"`
	CloudDestinationOptions struct {
		Region struct {
			Name string `json:"name"`
		} `json:"region"`
		AvailabilityZone   string `json:"availabilityZone"`
		RestoreAsManagedVM *bool  `json:"restoreAsManagedVM"`
	} `json:"cloudDestinationOptions"`
	DestinationOptions struct {
		DataStore string `json:"dataStore"`
	} `json:"destinationOptions"`
	LiveMountOptions struct {
		ExpirationTime struct {
			MinutesRetainUntil commcell.FlexInt `json:"minutesRetainUntil"`
			DaysRetainUntil    commcell.FlexInt `json:"daysRetainUntil"`
		} `json:"expirationTime"`
	} `json:"liveMountOptions"`
}

// TargetProperties is the detail view of a cleanroom target. The cloud
// fields are filled for Azure targets only.
type TargetProperties struct {
	ApplicationType       string
	PolicyType            int
	DestinationHypervisor string
	AccessNode            string
	AccessNodeClientGroup string
	Users                 []string
	UserGroups            []string
	VMPrefix              string
	VMSuffix              string
	Region                string
	AvailabilityZone      string
	StorageAccount        string
	RestoreAsManagedVM    bool
	ExpirationTime        string
}

func (d targetDetails) properties() TargetProperties {
	p := TargetProperties{
		ApplicationType:       d.Entity.ApplicationType,
		PolicyType:            PolicyUnknown,
		DestinationHypervisor: d.Entity.DestinationHypervisor.Name,
		AccessNode:            d.AccessNode.Type,
		AccessNodeClientGroup: d.ProxyClientGroupEntity.ClientGroupName,
		VMPrefix:              d.VMDisplayName.Prefix,
		VMSuffix:              d.VMDisplayName.Suffix,
	}
	if pt, ok := policyTypes[d.Entity.PolicyType]; ok {
		p.PolicyType = pt
	}
	for _, u := range d.SecurityOptions.Users {
		p.Users = append(p.Users, u.UserName)
	}
	for _, g := range d.SecurityOptions.UserGroups {
		p.UserGroups = append(p.UserGroups, g.UserGroupName)
	}
	if p.PolicyType != PolicyAzureRM {
		return p
	}
	cloud := d.CloudDestinationOptions
	p.Region = cloud.Region.Name
	p.AvailabilityZone = cloud.AvailabilityZone
	p.StorageAccount = d.DestinationOptions.DataStore
	if cloud.RestoreAsManagedVM != nil {
		p.RestoreAsManagedVM = *cloud.RestoreAsManagedVM
	}
	switch expiry := d.LiveMountOptions.ExpirationTime; {
	case expiry.MinutesRetainUntil.Int() != 0:
		p.ExpirationTime = fmt.Sprintf("%d hours", expiry.MinutesRetainUntil.Int())
	case expiry.DaysRetainUntil.Int() != 0:
		p.ExpirationTime = fmt.Sprintf("%d days", expiry.DaysRetainUntil.Int())
	}
	return p
}

// CleanroomTarget is a single cleanroom recovery target.
type CleanroomTarget struct {
	cc *commcell.Commcell

	mu     sync.Mutex
	name   string
	id     string
	props  TargetProperties
	loaded bool
}

func NewCleanroomTarget(cc *commcell.Commcell, name, id string) *CleanroomTarget {
	return &CleanroomTarget{cc: cc, name: namemap.Key(name), id: id}
}

func (t *CleanroomTarget) Name() string { return t.name }

func (t *CleanroomTarget) ID(ctx context.Context) (string, error) {
	t.mu.Lock()
	id := t.id
	t.mu.Unlock()
	if id != "" {
		return id, nil
	}
	target, err := NewCleanroomTargets(t.cc).Get(ctx, t.name)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.id = target.id
	return t.id, nil
}

// Refresh reloads the target properties.
func (t *CleanroomTarget) Refresh(ctx context.Context) error {
	id, err := t.ID(ctx)
	if err != nil {
		return err
	}
	var details targetDetails
	if err := t.cc.GetJSON(ctx, commcell.RecoveryTarget.URL(id), &details); err != nil {
		return err
	}
	if details.Entity == nil {
		return sdkerrors.EmptyResponse()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.props = details.properties()
	t.loaded = true
	return nil
}

// Properties returns the target properties, loading them on first use.
func (t *CleanroomTarget) Properties(ctx context.Context) (TargetProperties, error) {
	t.mu.Lock()
	loaded := t.loaded
	t.mu.Unlock()
	if !loaded {
		if err := t.Refresh(ctx); err != nil {
			return TargetProperties{}, err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.props, nil
}

// Delete removes the target.
func (t *CleanroomTarget) Delete(ctx context.Context) error {
	id, err := t.ID(ctx)
	if err != nil {
		return err
	}
	if err := t.cc.Delete(ctx, commcell.RecoveryTarget.URL(id), nil); err != nil {
		return errors.Annotatef(err, "deleting cleanroom target %s", t.name)
	}
	return nil
}
