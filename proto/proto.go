// Package proto holds the structures that return the json to the client.
package proto

type (
	// ListProvider is a cluster the daemon tracks.
	ListProvider struct {
		Provider string
		URL      string
		State    string
		Info     string
		Since    string
		VMs      int
	}

	ListProviders struct {
		ListProviders []ListProvider
	}

	// ListNode is a hypervisor node of a cluster.
	ListNode struct {
		Provider string
		Node     string
		Status   string
	}

	ListNodes struct {
		ListNodes []ListNode
	}

	// ListVM is a virtual machine or container on a cluster.
	ListVM struct {
		Provider   string
		Name       string
		ID         int64
		Node       string
		Type       string
		State      string
		PrivateIPs []string
		PublicIPs  []string
	}

	ListVMs struct {
		ListVMs []ListVM
	}

	// ListImage is a template volume on a storage.
	ListImage struct {
		Provider string
		Node     string
		VolID    string
		Content  string
		Format   string
		Size     int64
	}

	ListImages struct {
		ListImages []ListImage
	}

	// ListProfile is a VM profile from the configuration.
	ListProfile struct {
		Profile  string
		Provider string
		Image    string
		Full     bool
	}

	ListProfiles struct {
		ListProfiles []ListProfile
	}

	// ShowVM is a single VM with its full configuration.
	ShowVM struct {
		ListVM
		Config map[string]string
	}

	// Result reports the outcome of an action on a VM.
	Result struct {
		Success bool
		Action  string
		Name    string
		State   string
		Address string
		Info    string
	}
)
