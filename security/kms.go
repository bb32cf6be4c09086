package security

import (
	"context"
	"net/http"
	"sort"

	"github.com/juju/errors"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/namemap"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

// Key provider type names.
const (
	KeyProviderCommvault     = "KEY_PROVIDER_COMMVAULT"
	KeyProviderKMIP          = "KEY_PROVIDER_KMIP"
	KeyProviderAWSKMS        = "KEY_PROVIDER_AWS_KMS"
	KeyProviderAzureKeyVault = "KEY_PROVIDER_AZURE_KEY_VAULT"
	KeyProviderSafenet       = "KEY_PROVIDER_SAFENET"
	KeyProviderPassphrase    = "KEY_PROVIDER_PASSPHRASE"
)

var kmsTypes = map[int]string{
	1: KeyProviderCommvault,
	2: KeyProviderKMIP,
	3: KeyProviderAWSKMS,
	4: KeyProviderAzureKeyVault,
	5: KeyProviderSafenet,
	6: KeyProviderPassphrase,
}

// Key provider authentication types.
const (
	AuthAWSKeys                  = "AWS_KEYS"
	AuthAWSIAM                   = "AWS_IAM"
	AuthAWSCredentialsFile       = "AWS_CREDENTIALS_FILE"
	AuthAzureKeyVaultCertificate = "AZURE_KEY_VAULT_CERTIFICATE"
	AuthAzureKeyVaultIAM         = "AZURE_KEY_VAULT_IAM"
	AuthKMIPCertificate          = "KMIP_CERTIFICATE"
)

var kmsAuthTypes = map[string]int{
	AuthAWSKeys:                  0,
	AuthAWSIAM:                   1,
	AuthAWSCredentialsFile:       0,
	AuthAzureKeyVaultCertificate: 1,
	AuthAzureKeyVaultIAM:         3,
	AuthKMIPCertificate:          99,
}

const (
	defaultAWSRegion        = "Asia Pacific (Mumbai)"
	defaultAzureKeyLength   = 3072
	defaultKMIPKeyLength    = 256
	azureActiveDirectoryURL = "https://login.microsoftonline.com/"
	azureKeyVaultEndpoint   = "vault.azure.net"
)

// KMSOptions describes a key management server to register. Which fields are
// read depends on ProviderType and AuthType.
type KMSOptions struct {
	Name         string
	ProviderType string
	AuthType     string
	AccessNode   string

	AWSAccessKey          string
	AWSSecretKey          string
	AWSRegion             string
	AWSCredentialsProfile string

	AzureKeyVaultName          string
	AzureCertificatePath       string
	AzureCertificateThumbprint string
	AzureCertificatePassword   string
	AzureTenantID              string
	AzureAppID                 string

	KMIPHost         string
	KMIPPort         int
	KMIPCACertPath   string
	KMIPCertPath     string
	KMIPCertPassword string
	KMIPKeyPath      string

	// KeyLength defaults to 3072 for Azure and 256 for KMIP.
	KeyLength       int
	BringYourOwnKey bool
	Keys            []string
}

type kmsInfo struct {
	Name   string
	ID     int
	TypeID int
}

type kmsListResponse struct {
	KeyProviders []struct {
		KeyProviderType commcell.FlexInt `json:"keyProviderType"`
		Provider        struct {
			KeyProviderName string           `json:"keyProviderName"`
			KeyProviderID   commcell.FlexInt `json:"keyProviderId"`
		} `json:"provider"`
	} `json:"keyProviders"`
}

type kmsUserAccount struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type awsCredential struct {
	Profile                  string          `json:"profile,omitempty"`
	UserAccount              *kmsUserAccount `json:"userAccount,omitempty"`
	AmazonAuthenticationType int             `json:"amazonAuthenticationType"`
}

type azureEndpoints struct {
	ActiveDirectoryEndpoint string `json:"activeDirectoryEndpoint"`
	KeyVaultEndpoint        string `json:"keyVaultEndpoint"`
}

type keyVaultCredential struct {
	Certificate           string          `json:"certificate,omitempty"`
	ResourceName          string          `json:"resourceName"`
	Environment           string          `json:"environment,omitempty"`
	CertificateThumbprint string          `json:"certificateThumbprint,omitempty"`
	TenantID              string          `json:"tenantId,omitempty"`
	AuthType              int             `json:"authType,omitempty"`
	ApplicationID         string          `json:"applicationId,omitempty"`
	Endpoints             *azureEndpoints `json:"endpoints,omitempty"`
	CertPassword          string          `json:"certPassword,omitempty"`
}

type kmipCredential struct {
	CACertFilePath string `json:"caCertFilePath"`
	CertFilePath   string `json:"certFilePath"`
	CertPassword   string `json:"certPassword"`
	KeyFilePath    string `json:"keyFilePath"`
}

type kmsAccessNode struct {
	AccessNode struct {
		ClientName string `json:"clientName"`
	} `json:"accessNode"`
	AWSCredential      *awsCredential      `json:"awsCredential,omitempty"`
	KeyVaultCredential *keyVaultCredential `json:"keyVaultCredential,omitempty"`
	KMIPCredential     *kmipCredential     `json:"kmipCredential,omitempty"`
}

type kmsKey struct {
	KeyID string `json:"keyId"`
}

type kmsProperties struct {
	AccessNodes        []kmsAccessNode     `json:"accessNodes,omitempty"`
	BringYourOwnKey    int                 `json:"bringYourOwnKey"`
	Keys               []kmsKey            `json:"keys,omitempty"`
	RegionName         string              `json:"regionName,omitempty"`
	UserAccount        *kmsUserAccount     `json:"userAccount,omitempty"`
	KeyVaultCredential *keyVaultCredential `json:"keyVaultCredential,omitempty"`
	SSLPassPhrase      string              `json:"sslPassPhrase,omitempty"`
	Host               string              `json:"host,omitempty"`
	Port               int                 `json:"port,omitempty"`
	CACertFilePath     string              `json:"caCertFilePath,omitempty"`
	CertFilePath       string              `json:"certFilePath,omitempty"`
	CertPassword       string              `json:"certPassword,omitempty"`
	KeyFilePath        string              `json:"keyFilePath,omitempty"`
}

type kmsProvider struct {
	Provider struct {
		KeyProviderName string `json:"keyProviderName"`
	} `json:"provider"`
	EncryptionKeyLength int           `json:"encryptionKeyLength,omitempty"`
	EncryptionType      int           `json:"encryptionType"`
	KeyProviderType     int           `json:"keyProviderType"`
	Properties          kmsProperties `json:"properties"`
}

type kmsRequest struct {
	KeyProvider kmsProvider `json:"keyProvider"`
}

// KeyManagementServers is the collection of key management servers.
type KeyManagementServers struct {
	cc    *commcell.Commcell
	cache *namemap.Cache[kmsInfo]
}

// NewKeyManagementServers returns the key management server collection.
func NewKeyManagementServers(cc *commcell.Commcell) *KeyManagementServers {
	k := &KeyManagementServers{cc: cc}
	k.cache = namemap.NewCache("key_management_servers", cc.CacheTTL(), k.load)
	return k
}

func (k *KeyManagementServers) load(ctx context.Context) (namemap.Map[kmsInfo], error) {
	resp, err := k.cc.Request(ctx, http.MethodGet, commcell.KeyManagementServers.URL(), nil)
	if err != nil {
		return namemap.Map[kmsInfo]{}, err
	}
	if resp.Empty() {
		return namemap.New[kmsInfo](0), nil
	}
	var body kmsListResponse
	if err := commcell.Decode(resp, &body); err != nil {
		return namemap.Map[kmsInfo]{}, err
	}
	servers := namemap.New[kmsInfo](len(body.KeyProviders))
	for _, kp := range body.KeyProviders {
		name := namemap.Key(kp.Provider.KeyProviderName)
		servers.Set(name, kmsInfo{Name: name, ID: kp.Provider.KeyProviderID.Int(), TypeID: kp.KeyProviderType.Int()})
	}
	return servers, nil
}

// Refresh reloads the server list.
func (k *KeyManagementServers) Refresh(ctx context.Context) error {
	_, err := k.cache.Refresh(ctx)
	return err
}

// Names returns the lower-cased names of every server.
func (k *KeyManagementServers) Names(ctx context.Context) ([]string, error) {
	m, err := k.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return m.Names(), nil
}

// Has reports whether a server named name exists.
func (k *KeyManagementServers) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, sdkerrors.Precondition(sdkerrors.ModuleKMS, "101", "Received: empty name. Expected: server name")
	}
	m, err := k.cache.Get(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(name), nil
}

func (k *KeyManagementServers) lookup(ctx context.Context, name string) (kmsInfo, error) {
	exists, err := k.Has(ctx, name)
	if err != nil {
		return kmsInfo{}, err
	}
	if !exists {
		return kmsInfo{}, sdkerrors.Precondition(sdkerrors.ModuleKMS, "102", name)
	}
	m, err := k.cache.Get(ctx)
	if err != nil {
		return kmsInfo{}, err
	}
	info, _ := m.Get(name)
	return info, nil
}

// Get returns the server named name.
func (k *KeyManagementServers) Get(ctx context.Context, name string) (*KeyManagementServer, error) {
	info, err := k.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewKeyManagementServer(k.cc, info.Name, info.ID, info.TypeID)
}

// Delete removes the server named name.
func (k *KeyManagementServers) Delete(ctx context.Context, name string) error {
	info, err := k.lookup(ctx, name)
	if err != nil {
		return err
	}
	resp, err := k.cc.Request(ctx, http.MethodDelete, commcell.DeleteKeyManagementServer.URL(info.ID), nil)
	if err != nil {
		return errors.Trace(err)
	}
	var status struct {
		ErrorCode *commcell.FlexInt `json:"errorCode"`
	}
	if err := resp.JSON(&status); err != nil {
		return err
	}
	if status.ErrorCode == nil {
		return sdkerrors.Application(sdkerrors.ModuleResponse, "101", "Something went wrong while deleting "+name)
	}
	if status.ErrorCode.Int() != 0 {
		return sdkerrors.Application(sdkerrors.ModuleResponse, "101", resp.Text())
	}
	return k.Refresh(ctx)
}

func validKMSType(name string) bool {
	for _, t := range kmsTypes {
		if t == name {
			return true
		}
	}
	return false
}

// Add registers a key management server and returns it.
func (k *KeyManagementServers) Add(ctx context.Context, opts KMSOptions) (*KeyManagementServer, error) {
	if !validKMSType(opts.ProviderType) {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleKMS, "103", "")
	}
	if _, ok := kmsAuthTypes[opts.AuthType]; !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleKMS, "105", "")
	}
	if opts.Name == "" {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleKMS, "106", "")
	}
	if opts.BringYourOwnKey && len(opts.Keys) == 0 {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleKMS, "107", "")
	}

	req, ok := buildKMSRequest(opts)
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleKMS, "105",
			opts.AuthType+" is not supported for "+opts.ProviderType)
	}
	exists, err := k.Has(ctx, opts.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleKMS, "108", opts.Name)
	}
	resp, err := k.cc.Request(ctx, http.MethodPost, commcell.KeyManagementServers.URL(), req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := checkKMSStatus(resp); err != nil {
		return nil, err
	}
	if err := k.Refresh(ctx); err != nil {
		return nil, err
	}
	return k.Get(ctx, opts.Name)
}

func checkKMSStatus(resp *transport.Response) error {
	var status struct {
		ErrorCode *commcell.FlexInt `json:"errorCode"`
	}
	if err := resp.JSON(&status); err != nil {
		return err
	}
	if status.ErrorCode == nil || status.ErrorCode.Int() != 0 {
		return sdkerrors.Application(sdkerrors.ModuleResponse, "101", resp.Text())
	}
	return nil
}

func buildKMSRequest(o KMSOptions) (kmsRequest, bool) {
	var p kmsProvider
	p.Provider.KeyProviderName = o.Name

	var keys []kmsKey
	byok := 0
	if o.BringYourOwnKey {
		byok = 1
		for _, id := range o.Keys {
			keys = append(keys, kmsKey{KeyID: id})
		}
	}
	node := func() kmsAccessNode {
		var n kmsAccessNode
		n.AccessNode.ClientName = o.AccessNode
		return n
	}

	switch o.ProviderType {
	case KeyProviderAWSKMS:
		region := o.AWSRegion
		if region == "" {
			region = defaultAWSRegion
		}
		p.EncryptionType = 3
		p.KeyProviderType = 3
		p.Properties.RegionName = region
		switch o.AuthType {
		case AuthAWSKeys:
			account := &kmsUserAccount{UserName: o.AWSAccessKey, Password: o.AWSSecretKey}
			if o.AccessNode == "" {
				p.Properties.UserAccount = account
				break
			}
			n := node()
			n.AWSCredential = &awsCredential{UserAccount: account, AmazonAuthenticationType: kmsAuthTypes[AuthAWSKeys]}
			p.Properties.AccessNodes = []kmsAccessNode{n}
			p.Properties.BringYourOwnKey = byok
			p.Properties.Keys = keys
		case AuthAWSCredentialsFile:
			n := node()
			n.AWSCredential = &awsCredential{Profile: o.AWSCredentialsProfile, AmazonAuthenticationType: kmsAuthTypes[AuthAWSCredentialsFile]}
			p.Properties.AccessNodes = []kmsAccessNode{n}
		case AuthAWSIAM:
			n := node()
			n.AWSCredential = &awsCredential{AmazonAuthenticationType: kmsAuthTypes[AuthAWSIAM]}
			p.Properties.AccessNodes = []kmsAccessNode{n}
		default:
			return kmsRequest{}, false
		}

	case KeyProviderAzureKeyVault:
		p.EncryptionKeyLength = o.KeyLength
		if p.EncryptionKeyLength == 0 {
			p.EncryptionKeyLength = defaultAzureKeyLength
		}
		p.EncryptionType = 1001
		p.KeyProviderType = 4
		endpoints := &azureEndpoints{ActiveDirectoryEndpoint: azureActiveDirectoryURL, KeyVaultEndpoint: azureKeyVaultEndpoint}
		switch o.AuthType {
		case AuthAzureKeyVaultCertificate:
			cred := &keyVaultCredential{
				Certificate:           o.AzureCertificatePath,
				ResourceName:          o.AzureKeyVaultName,
				Environment:           "AzureCloud",
				CertificateThumbprint: o.AzureCertificateThumbprint,
				TenantID:              o.AzureTenantID,
				AuthType:              kmsAuthTypes[AuthAzureKeyVaultCertificate],
				ApplicationID:         o.AzureAppID,
				Endpoints:             endpoints,
			}
			if o.AccessNode == "" {
				p.Properties.KeyVaultCredential = cred
				p.Properties.SSLPassPhrase = o.AzureCertificatePassword
				break
			}
			cred.CertPassword = o.AzureCertificatePassword
			n := node()
			n.KeyVaultCredential = cred
			p.Properties.AccessNodes = []kmsAccessNode{n}
			p.Properties.KeyVaultCredential = &keyVaultCredential{ResourceName: o.AzureKeyVaultName}
			p.Properties.BringYourOwnKey = byok
			p.Properties.Keys = keys
		case AuthAzureKeyVaultIAM:
			n := node()
			n.KeyVaultCredential = &keyVaultCredential{
				Environment:  "AzureCloud",
				AuthType:     kmsAuthTypes[AuthAzureKeyVaultIAM],
				ResourceName: o.AzureKeyVaultName,
				Endpoints:    endpoints,
			}
			p.Properties.AccessNodes = []kmsAccessNode{n}
			p.Properties.KeyVaultCredential = &keyVaultCredential{ResourceName: o.AzureKeyVaultName}
		default:
			return kmsRequest{}, false
		}

	case KeyProviderKMIP:
		p.EncryptionKeyLength = o.KeyLength
		if p.EncryptionKeyLength == 0 {
			p.EncryptionKeyLength = defaultKMIPKeyLength
		}
		p.EncryptionType = 3
		p.KeyProviderType = 2
		p.Properties.Host = o.KMIPHost
		p.Properties.Port = o.KMIPPort
		if o.AccessNode == "" {
			p.Properties.CACertFilePath = o.KMIPCACertPath
			p.Properties.CertFilePath = o.KMIPCertPath
			p.Properties.CertPassword = o.KMIPCertPassword
			p.Properties.KeyFilePath = o.KMIPKeyPath
			break
		}
		n := node()
		n.KMIPCredential = &kmipCredential{
			CACertFilePath: o.KMIPCACertPath,
			CertFilePath:   o.KMIPCertPath,
			CertPassword:   o.KMIPCertPassword,
			KeyFilePath:    o.KMIPKeyPath,
		}
		p.Properties.AccessNodes = []kmsAccessNode{n}

	default:
		return kmsRequest{}, false
	}
	return kmsRequest{KeyProvider: p}, true
}

// KeyManagementServer is a single key management server.
type KeyManagementServer struct {
	cc       *commcell.Commcell
	name     string
	id       int
	typeID   int
	typeName string
}

// NewKeyManagementServer returns a handle on a server. An unknown typeID is
// rejected with KeyManagementServer/104.
func NewKeyManagementServer(cc *commcell.Commcell, name string, id, typeID int) (*KeyManagementServer, error) {
	typeName, ok := kmsTypes[typeID]
	if !ok {
		return nil, sdkerrors.Precondition(sdkerrors.ModuleKMS, "104", "")
	}
	return &KeyManagementServer{cc: cc, name: name, id: id, typeID: typeID, typeName: typeName}, nil
}

func (k *KeyManagementServer) Name() string     { return k.name }
func (k *KeyManagementServer) ID() int          { return k.id }
func (k *KeyManagementServer) TypeID() int      { return k.typeID }
func (k *KeyManagementServer) TypeName() string { return k.typeName }

// KMSTypeNames returns the known key provider type names ordered by type id.
func KMSTypeNames() []string {
	ids := make([]int, 0, len(kmsTypes))
	for id := range kmsTypes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, kmsTypes[id])
	}
	return names
}
