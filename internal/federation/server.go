package federation

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

// Catalog holds the descriptors a remote-entry server publishes, keyed by
// remote and module id. A module may be published in several versions.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]map[string][]Descriptor
}

func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]map[string][]Descriptor)}
}

// Add publishes d under d.Remote. Re-adding the same id and version replaces
// the previous descriptor.
func (c *Catalog) Add(d Descriptor) error {
	if d.ID == "" || d.Remote == "" {
		return fmt.Errorf("catalog: descriptor needs id and remote")
	}
	if err := semver.Validate(d.Version); err != nil {
		return fmt.Errorf("catalog: %s: %w", d.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	byID, ok := c.modules[d.Remote]
	if !ok {
		byID = make(map[string][]Descriptor)
		c.modules[d.Remote] = byID
	}
	versions := byID[d.ID]
	for i, existing := range versions {
		if existing.Version == d.Version {
			versions[i] = d
			return nil
		}
	}
	byID[d.ID] = append(versions, d)
	return nil
}

// Lookup returns the highest version of module on remote satisfying
// constraint. An empty constraint matches any version.
func (c *Catalog) Lookup(remote, module, constraint string) (Descriptor, bool) {
	c.mu.RLock()
	versions := append([]Descriptor(nil), c.modules[remote][module]...)
	c.mu.RUnlock()
	if len(versions) == 0 {
		return Descriptor{}, false
	}
	raw := make([]string, len(versions))
	for i, d := range versions {
		raw[i] = d.Version
	}
	i, ok := semver.Highest(constraint, raw)
	if !ok {
		return Descriptor{}, false
	}
	return versions[i], true
}

// Len returns the number of published descriptors.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, byID := range c.modules {
		for _, versions := range byID {
			n += len(versions)
		}
	}
	return n
}

// Server serves a Catalog over the RemoteEntry service.
type Server struct {
	Catalog *Catalog
	// Scope, when set, must match the scope of every request.
	Scope string
	Log   logr.Logger
}

var _ RemoteEntryServer = (*Server)(nil)

func (s *Server) GetModule(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is nil")
	}
	f := req.GetFields()
	scope := f["scope"].GetStringValue()
	remote := f["remote"].GetStringValue()
	module := f["module"].GetStringValue()
	constraint := f["constraint"].GetStringValue()

	if remote == "" || module == "" {
		return nil, status.Error(codes.InvalidArgument, "remote and module are required")
	}
	if s.Scope != "" && scope != s.Scope {
		return nil, status.Errorf(codes.PermissionDenied, "scope %q not served", scope)
	}

	d, ok := s.Catalog.Lookup(remote, module, constraint)
	if !ok {
		s.log().V(1).Info("module not found", "remote", remote, "module", module, "constraint", constraint)
		return nil, status.Errorf(codes.NotFound, "module %s/%s (%s) not found", remote, module, constraint)
	}
	out, err := d.toStruct()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.log().V(1).Info("served module", "remote", remote, "module", module, "version", d.Version)
	return out, nil
}

func (s *Server) log() logr.Logger {
	if s.Log.GetSink() == nil {
		return logr.Discard()
	}
	return s.Log
}
