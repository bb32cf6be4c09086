package sdkerrors

import (
	"fmt"
	"strings"
)

// Module names used as the first half of an error key.
const (
	ModuleResponse           = "Response"
	ModuleCVPySDK            = "CVPySDK"
	ModuleClient             = "Client"
	ModuleBackupset          = "Backupset"
	ModuleSubclient          = "Subclient"
	ModuleStorage            = "Storage"
	ModuleStoragePool        = "StoragePool"
	ModuleDomain             = "Domain"
	ModuleRole               = "Role"
	ModuleEntityTags         = "EntityTags"
	ModuleResourcePools      = "ResourcePools"
	ModuleMetrics            = "Metrics"
	ModuleInternetOptions    = "InternetOptions"
	ModuleVirtualMachine     = "Virtual Machine"
	ModuleDownloadCenter     = "DownloadCenter"
	ModuleFailoverGroup      = "FailoverGroup"
	ModuleNetworkTopology    = "NetworkTopology"
	ModuleBackupNetworkPairs = "BackupNetworkPairs"
	ModuleIdentityManagement = "IdentityManagement"
	ModuleKMS                = "KeyManagementServer"
	ModuleRegion             = "Region"
	ModuleRegions            = "Regions"
	ModuleRecoveryGroup      = "RecoveryGroup"
	ModuleRecoveryTarget     = "RecoveryTarget"
	ModuleReplicationMonitor = "ReplicationMonitor"
	ModuleDROperations       = "DROrchestrationOperations"
	ModuleRunReport          = "RunReportError"
)

// Table maps a module and code to its message template. An empty template
// means the detail passed by the caller is the whole message.
var Table = map[string]map[string]string{
	ModuleResponse: {
		"101": "Response was not success",
		"102": "Response received is empty",
		"500": "Unable to perform the requested method",
	},
	ModuleCVPySDK: {
		"101": "Failed to Login with the credentials provided",
		"102": "",
		"103": "Reached the maximum attempts limit",
	},
	ModuleClient: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
	},
	ModuleBackupset: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
		"107": "No result found for the given input",
		"110": "",
		"111": "Maximum browse attempts exhausted",
	},
	ModuleSubclient: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
		"104": "File/Folder(s) to restore list is empty",
	},
	ModuleStorage: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
		"103": "Type of media agent should either be the MediaAgent class instance or string",
	},
	ModuleStoragePool: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
		"103": "No storage pool exists with the given name",
	},
	ModuleDomain: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
	},
	ModuleRole: {
		"101": "Data type of input(s) is not valid",
		"102": "",
	},
	ModuleEntityTags: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
		"103": "Unable to create entity tag with the given name",
		"104": "Unable to delete entity tag with the given name",
		"105": "Unable to find entity tag with given name for user",
	},
	ModuleResourcePools: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
		"103": "Failed to get list of resource pools from CS",
		"104": "Resource pool not exists",
		"105": "Failed to get resource pool details from cs",
		"106": "Resource pool deletion failed",
		"107": "Resource pool with same name exists already",
		"108": "Resource pool creation failed",
	},
	ModuleMetrics: {
		"101": "Invalid input(s) specified",
		"102": "Timed out waiting for the metrics operation to complete",
		"103": "",
	},
	ModuleInternetOptions: {
		"101": "Invalid input(s) specified",
	},
	ModuleVirtualMachine: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
	},
	ModuleDownloadCenter: {
		"101": "Response received is not a proper XML. Please check the XML",
		"102": "",
		"103": "Category does not exist at Download Center",
		"104": "Category already exists at Download Center",
		"105": "Sub Category already exists for the given Category at Download Center",
		"106": "Package does not exist at Download Center. Please check the name again",
		"107": "Failed to download the package",
		"108": "Category does not exists at Download Center",
		"109": "Sub Category does not exists at Download Center",
		"110": "Multiple platforms available. Please specify the platform",
		"111": "Multiple download types available for this platform. Please specify the download type",
		"112": "Package is not available for the given platform",
		"113": "Package is not available for the given download type",
		"114": "Package already exists with the given name",
		"115": "Version is not available on Download Center",
		"116": "Platform is not supported on Download Center",
		"117": "Download Type is not supported on Download Center",
		"118": "File is not a valid README file",
		"119": "Failed to upload the package",
	},
	ModuleFailoverGroup: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
		"103": "Failover group does not exist",
	},
	ModuleNetworkTopology: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
	},
	ModuleBackupNetworkPairs: {
		"101": "",
	},
	ModuleIdentityManagement: {
		"101": "Failed to retreive apps",
		"102": "App not found",
		"103": "Failed to configure identity app",
		"104": "Failed to delete identity app",
		"105": "Failed to modify identity app",
	},
	ModuleKMS: {
		"101": "Data type of the input(s) is not valid",
		"102": "Key Management Server not found",
		"103": "Key Management Server type is not valid",
		"104": "Key Management Server type not found",
		"105": "Invalid key provider authentication type",
		"106": "Invalid KMS name",
		"107": "Key list is missing for Bring Your Own Key",
		"108": "Key Management Server already exists",
	},
	ModuleRegion: {
		"101": "Entity type not found.",
		"102": "",
	},
	ModuleRegions: {
		"101": "Entity type not found.",
		"102": "",
	},
	ModuleRecoveryGroup: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
	},
	ModuleRecoveryTarget: {
		"101": "Data type of the input(s) is not valid",
		"102": "",
	},
	ModuleDROperations: {
		"101": "",
		"102": "",
	},
	ModuleReplicationMonitor: {
		"101": "",
	},
}

// Message composes the message for (module, code, detail). The template and the
// detail are joined with a newline when both are present. Unknown pairs fall back
// to the detail, or to a generic "<module> error <code>" text.
func Message(module, code, detail string) string {
	template, ok := lookup(module, code)
	if !ok {
		if detail != "" {
			return detail
		}
		return fmt.Sprintf("%s error %s", module, code)
	}
	switch {
	case template != "" && detail != "":
		return strings.Join([]string{template, detail}, "\n")
	case detail != "":
		return detail
	default:
		return template
	}
}

func lookup(module, code string) (string, bool) {
	codes, ok := Table[module]
	if !ok {
		return "", false
	}
	template, ok := codes[code]
	return template, ok
}
