// Package resource implements the Resource plugin contract from spec.md
// §4.8: is_installed/get_local_version/force_install/ensure, with two
// built-in kinds (local-file, remote-file), grounded in original_source's
// plugins/resources/local_file.py and remote_file.py. Plugin discovery is a
// static registry keyed by (name, version), per spec.md §9's "register
// plugins through a static registry" redesign guidance, mirroring
// util/plugins.py:PluginsMaster.find_plugin's "newest registered version
// satisfying the floor" rule without directory scanning.
package resource

import (
	"context"
	"fmt"

	"github.com/luckygeck/dedalus/internal/retry"
	"github.com/luckygeck/dedalus/pkg/models"
)

// ResourceNonInstallable is raised when a resource plugin cannot bring its
// target to an installed state.
type ResourceNonInstallable struct {
	Kind   string
	Reason string
	cause  error
}

func (e *ResourceNonInstallable) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("resource %q not installable: %s: %v", e.Kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("resource %q not installable: %s", e.Kind, e.Reason)
}

func (e *ResourceNonInstallable) Unwrap() error { return e.cause }

// Resource is the contract every resource plugin implements.
type Resource interface {
	// IsInstalled reports whether the resource is currently present.
	IsInstalled(ctx context.Context) (bool, error)
	// GetLocalVersion returns an opaque version string for whatever is
	// currently installed (e.g. a content hash), or "" if not installed.
	GetLocalVersion(ctx context.Context) (string, error)
	// ForceInstall installs or refreshes the resource unconditionally.
	ForceInstall(ctx context.Context) error
}

// Constructor builds a Resource from a persisted ResourceConfig.
type Constructor func(cfg models.ResourceConfig) Resource

var registry = map[string]map[models.SemVer]Constructor{}

// Register adds a constructor for (kind, version) to the static registry.
// Called from each plugin's init().
func Register(kind string, version models.SemVer, ctor Constructor) {
	versions, ok := registry[kind]
	if !ok {
		versions = make(map[models.SemVer]Constructor)
		registry[kind] = versions
	}
	versions[version] = ctor
}

// FindPlugin returns the newest registered version of kind that is >=
// minVersion, mirroring util/plugins.py:find_plugin's
// `max(..., key=version)` + `version >= needed_version` check.
func FindPlugin(kind string, minVersion models.SemVer) (Constructor, error) {
	versions, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("resource: no plugin registered for kind %q", kind)
	}

	var best *models.SemVer
	var bestCtor Constructor
	for v, ctor := range versions {
		v := v
		if best == nil || v.Compare(*best) > 0 {
			best = &v
			bestCtor = ctor
		}
	}
	if best == nil || !best.GTE(minVersion) {
		return nil, fmt.Errorf("resource: no version of %q satisfies minimum %s", kind, minVersion)
	}
	return bestCtor, nil
}

// Ensure installs res if not already installed, retrying transient failures
// via internal/retry before surfacing ResourceNonInstallable — grounded in
// the original's ensure() being the only entrypoint TaskExecution.prepare()
// calls (spec.md §4.7's "for each resource... call resource.ensure()").
func Ensure(ctx context.Context, kind string, res Resource, strategy retry.Strategy) error {
	installed, err := res.IsInstalled(ctx)
	if err != nil {
		return &ResourceNonInstallable{Kind: kind, Reason: "is_installed check failed", cause: err}
	}
	if installed {
		return nil
	}

	cfg := retry.NewConfig(4, strategy)
	executor := retry.NewExecutor(cfg)
	if err := executor.Execute(ctx, func() error { return res.ForceInstall(ctx) }); err != nil {
		return &ResourceNonInstallable{Kind: kind, Reason: "force_install failed", cause: err}
	}
	return nil
}

// Describe builds the concrete Resource for a persisted ResourceDescriptor.
func Describe(desc models.ResourceDescriptor) (Resource, error) {
	ctor, err := FindPlugin(desc.Kind, models.SemVer{})
	if err != nil {
		return nil, err
	}
	return ctor(desc.Config), nil
}
