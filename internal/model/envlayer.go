package model

// LayerOrigin identifies which configuration layer contributed a value.
type LayerOrigin string

const (
	// LayerOriginDefaults is the built-in lowest-precedence layer
	LayerOriginDefaults LayerOrigin = "defaults"
	// LayerOriginTenant is the tenant-specific override file
	LayerOriginTenant LayerOrigin = "tenant"
	// LayerOriginRuntime is the highest-precedence layer, supplied by the
	// caller at resolve time
	LayerOriginRuntime LayerOrigin = "runtime"
)

// EnvLayer is one ordered configuration source. Higher rank wins; conflicting
// keys in a lower layer are shadowed, not merged.
type EnvLayer struct {
	Rank    int               `json:"rank"`
	Origin  LayerOrigin       `json:"origin"`
	Entries map[string]string `json:"entries"`
}

// LayerError records a layer that was rejected wholesale during resolution.
type LayerError struct {
	Origin  LayerOrigin `json:"origin"`
	Message string      `json:"message"`
}

// EffectiveConfig is the merged view of a tenant's configuration plus the
// provenance of every winning key. LayerErrors lists layers that failed
// validation and therefore contributed nothing.
type EffectiveConfig struct {
	Values      map[string]string      `json:"config"`
	Provenance  map[string]LayerOrigin `json:"provenance"`
	LayerErrors []LayerError           `json:"layer_errors,omitempty"`
}
