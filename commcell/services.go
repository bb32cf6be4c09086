package commcell

import "fmt"

// Service is an endpoint template relative to the web-service base URL.
// Templates with %s verbs are expanded by Commcell.URL.
type Service string

// Session.
const (
	WhoAmI Service = "WhoAmI"
)

// Security.
const (
	Roles                     Service = "Role"
	Role                      Service = "Role/%s"
	DomainControllers         Service = "CommCell/DomainController"
	DomainController          Service = "CommCell/DomainController?domainId=%s"
	DeleteDomainController    Service = "CommCell/DomainController/%s"
	KeyManagementServers      Service = "CommCell/KeyManagementServers"
	DeleteKeyManagementServer Service = "CommCell/KeyManagementServers/%s"
	IdentityApps              Service = "ThirdParty/App"
	SecurityAssociation       Service = "Security"
)

// Network.
const (
	NetworkTopologies  Service = "FirewallTopology"
	NetworkTopology    Service = "FirewallTopology/%s"
	PushTopology       Service = "FirewallTopology/%s/Push"
	BackupNetworkPairs Service = "CommServ/DataInterfacePairs?ClientId=%s"
	BackupNetworkPair  Service = "CommServ/DataInterfacePairs"
	InternetProxy      Service = "Commcell/InternetOptions/Proxy"
)

// Storage.
const (
	StoragePools          Service = "StoragePool"
	StoragePool           Service = "StoragePool/%s"
	AddStoragePool        Service = "StoragePool?Action=create"
	DeleteStoragePool     Service = "StoragePool/%s"
	EditStoragePool       Service = "StoragePool?Action=edit"
	ReplaceDiskPool       Service = "StoragePool?action=diskOperation"
	ResourcePools         Service = "V4/ResourcePool"
	ResourcePool          Service = "ResourcePool/%s"
	CreateResourcePool    Service = "ResourcePool"
	Regions               Service = "v4/Regions"
	Region                Service = "v4/Regions/%s"
	EditEntityRegion      Service = "entity/%s/%s/region"
	GetEntityRegion       Service = "entity/%s/%s/region?entityRegionType=%s"
	CalculateEntityRegion Service = "entity/%s/%s/region?calculate=True&entityRegionType=%s"
)

// Tags.
const (
	EntityTags      Service = "V4/Tags/AssociatedEntities"
	CreateEntityTag Service = "EDiscovery/Tags"
	DeleteEntityTag Service = "V4/EntityTags/%s"
)

// Disaster recovery.
const (
	CreateTask             Service = "CreateTask"
	ReverseReplicationTask Service = "Replications/Monitors/streaming/Operation"
	ReplicationMonitor     Service = "Replications/Monitors/streaming?subclientId=0"
	ReplicationPair        Service = "Replications/Monitors/streaming?replicationPairId=%s"
	DRGroups               Service = "DRGroups"
	DRGroup                Service = "DRGroups/%s"
	DRGroupJobStats        Service = "DRGroups/JobStats?jobId=%s&drGroupId=%s&replicationId=%s&clientId=0"
	VMBrowseSnapshots      Service = "VMBrowse/%s?instanceId=%s&snapshots=true"
	RecoveryTargets        Service = "V4/RecoveryTargets"
	RecoveryTarget         Service = "V4/RecoveryTarget/%s"
	RecoveryGroups         Service = "RecoveryGroups"
	RecoveryGroup          Service = "RecoveryGroup/%s?getEntityDetails=true"
	RecoveryGroupRecover   Service = "RecoveryGroup/%s/Recover"
)

// Operations.
const (
	GetActivityControl   Service = "V4/CommCell/ActivityControl"
	SetActivityControl   Service = "CommCell/ActivityControl/%s/Action/%s"
	CommcellProperties   Service = "Commcell/properties"
	Metrics              Service = "CommServ/MetricsReporting"
	GetMetrics           Service = "CommServ/MetricsReporting?isPrivateCloud=%s"
	DownloadCenterData   Service = "getDownloadCenterLookupData"
	DownloadCenterEntity Service = "saveDownloadCenterLookupEntities"
	DownloadCenterSubCat Service = "saveDownloadCenterSubCategory"
	SearchPackages       Service = "searchPackages?release=11"
	UploadPackage        Service = "saveDownloadCenterPackage"
	DeletePackage        Service = "deleteDownloadCenterPackage?packageId=%s"
	DownloadFile         Service = "DownloadFile"
	DownloadStream       Service = "Stream/getDownloadCenterFileStream"
	QOperationExecute    Service = "Qcommand/qoperation execute"
	QCommand             Service = "QCommand"
)

// Virtual server.
const (
	Browse                  Service = "DoBrowse"
	VMAllocationPolicies    Service = "VMAllocationPolicy"
	AllVMAllocationPolicies Service = "VMAllocationPolicy?showResourceGroupPolicy=true&deep=false&hiddenpolicies=true"
	VMAllocationPolicy      Service = "VMAllocationPolicy/%s"
	VirtualClients          Service = "Client?PseudoClientType=VSPseudo"
	Clients                 Service = "Client"
	ClientsWithHidden       Service = "Client?hiddenclients=true"
)

// URL expands the template with args. Every argument is formatted with its
// default format, so ids may be passed as strings or integers.
func (s Service) URL(args ...any) string {
	if len(args) == 0 {
		return string(s)
	}
	parts := make([]any, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf(string(s), parts...)
}
