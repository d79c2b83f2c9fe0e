package v1alpha1

import "context"

// Module declares a pluggable unit: its identity, the capabilities it needs and
// the modules it depends on.
//
// Definitions are immutable once registered. Dependency edges are derived from
// DependsOn whenever the registry resolves them; they are never stored.
type Module struct {
	ID          string `json:"id" hcl:"id,label"`
	Version     string `json:"version" hcl:"version"`
	Description string `json:"description,omitempty" hcl:"description,optional"`

	RequiredCapabilities []string `json:"requiredCapabilities,omitempty" hcl:"required_capabilities,optional"`
	OptionalCapabilities []string `json:"optionalCapabilities,omitempty" hcl:"optional_capabilities,optional"`

	DependsOn []string `json:"dependsOn,omitempty" hcl:"depends_on,optional"`
	Conflicts []string `json:"conflicts,omitempty" hcl:"conflicts,optional"`
	Exports   []string `json:"exports,omitempty" hcl:"exports,optional"`

	// Remote names the federation remote serving this module's code. Empty means
	// the module is resolved from the local factory table only.
	Remote string `json:"remote,omitempty" hcl:"remote,optional"`

	// VersionConstraints maps a dependency module id to a semver constraint
	// (e.g. "^1.2.0") its registered version must satisfy.
	VersionConstraints map[string]string `json:"versionConstraints,omitempty" hcl:"version_constraints,optional"`

	// Slots are contributed while the module is active.
	Slots []SlotContribution `json:"slots,omitempty" hcl:"slot,block"`
}

// SlotContribution is a declarative slot registration carried by a module.
type SlotContribution struct {
	Slot                 string   `json:"slot" hcl:"name,label"`
	Contribution         string   `json:"contribution" hcl:"contribution"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty" hcl:"required_capabilities,optional"`
	Priority             int      `json:"priority,omitempty" hcl:"priority,optional"`
}

// ModuleState is the load state of a registered module.
type ModuleState string

const (
	ModuleStateIdle    ModuleState = "idle"
	ModuleStateLoading ModuleState = "loading"
	ModuleStateLoaded  ModuleState = "loaded"
	ModuleStateError   ModuleState = "error"
)

// Lifecycle hooks. A loaded module instance may implement any subset of these;
// the runtime discovers them with type assertions.

type Loadable interface {
	OnLoad(ctx context.Context) error
}

type Initializable interface {
	OnInit(ctx context.Context) error
}

type Activatable interface {
	OnActivate(ctx context.Context) error
}

type Deactivatable interface {
	OnDeactivate(ctx context.Context) error
}

type Unloadable interface {
	OnUnload(ctx context.Context) error
}

// MemoryReporter lets an instance report its approximate memory footprint, used
// by health checks.
type MemoryReporter interface {
	MemoryBytes() int64
}
