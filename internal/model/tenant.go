package model

// Tenant identifies one deployed instance. The record is derived from the
// deployments root on every lookup; only tenant_id is stable. ContainerRef is
// whatever container currently backs the tenant and changes across
// recreation.
type Tenant struct {
	TenantID     string `json:"tenant_id"`
	ContainerRef string `json:"container_ref,omitempty"`
	DataPath     string `json:"data_path"`
	AssetPath    string `json:"asset_path"`
}

// Topology classifies how a tenant's asset directory relates to its
// container. It is computed from the container's current mount configuration
// on every call and is never stored, so it cannot drift from reality.
type Topology string

const (
	// TopologyVolumeMounted indicates the tenant's asset directory is
	// bind-mounted into the running container; host-side writes are visible
	// immediately and survive recreation.
	TopologyVolumeMounted Topology = "volume_mounted"
	// TopologyInjectOnStart indicates the container keeps assets on its own
	// private filesystem; customization must be copied in after each start
	// and is lost on recreation.
	TopologyInjectOnStart Topology = "inject_on_start"
)
