package federation

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
)

// Fetcher fetches module descriptors from a remote entry.
type Fetcher interface {
	Fetch(ctx context.Context, remote, module, constraint string) (Descriptor, error)
}

// Client calls the RemoteEntry service.
type Client struct {
	conn  grpc.ClientConnInterface
	scope string
}

func NewClient(conn grpc.ClientConnInterface, scope string) *Client {
	return &Client{conn: conn, scope: scope}
}

// Dial connects to target without transport security. Calls are traced.
func Dial(target, scope string, opts ...grpc.DialOption) (*Client, func() error, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return NewClient(conn, scope), conn.Close, nil
}

// Fetch returns the descriptor of module on remote. gRPC status errors are
// mapped to runtime error codes.
func (c *Client) Fetch(ctx context.Context, remote, module, constraint string) (Descriptor, error) {
	req, err := structpb.NewStruct(map[string]any{
		"scope":      c.scope,
		"remote":     remote,
		"module":     module,
		"constraint": constraint,
	})
	if err != nil {
		return Descriptor{}, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getModuleMethod, req, out); err != nil {
		return Descriptor{}, apperrors.FromGRPCStatus(err)
	}
	d, err := descriptorFromStruct(out)
	if err != nil {
		return Descriptor{}, apperrors.Wrap(apperrors.CodeLoadFailure, "invalid remote descriptor", err)
	}
	return d, nil
}

// Factory instantiates a module from its descriptor.
type Factory func(ctx context.Context, d Descriptor) (any, error)

// RemoteInstance is what the default factory returns: the descriptor itself,
// for modules whose behavior lives entirely on the remote.
type RemoteInstance struct {
	Descriptor Descriptor
}

// Source resolves module code through a remote entry. It satisfies the
// loader's Source interface.
type Source struct {
	fetcher   Fetcher
	factories map[string]Factory
	caching   bool
	log       logr.Logger

	mu    sync.Mutex
	cache map[string]Descriptor
}

type SourceOptions struct {
	// Factories maps descriptor entry names to constructors. Entries without
	// a factory yield a *RemoteInstance.
	Factories map[string]Factory
	// EnableCaching keeps fetched descriptors for the life of the Source.
	EnableCaching bool
	Logger        logr.Logger
}

func NewSource(f Fetcher, opts SourceOptions) *Source {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Source{
		fetcher:   f,
		factories: opts.Factories,
		caching:   opts.EnableCaching,
		log:       log.WithName("federation"),
		cache:     make(map[string]Descriptor),
	}
}

// Resolve fetches m's descriptor from m.Remote, pinned to m.Version, and
// instantiates it. Modules without a remote are reported as not found.
func (s *Source) Resolve(ctx context.Context, m *binderyv1alpha1.Module) (any, error) {
	if m.Remote == "" {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "module %q has no federation remote", m.ID)
	}
	d, err := s.descriptor(ctx, m)
	if err != nil {
		return nil, err
	}
	if factory, ok := s.factories[d.Entry]; ok {
		inst, err := factory(ctx, d)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeLoadFailure, fmt.Sprintf("instantiate %s from %s", m.ID, m.Remote), err)
		}
		return inst, nil
	}
	return &RemoteInstance{Descriptor: d}, nil
}

func (s *Source) descriptor(ctx context.Context, m *binderyv1alpha1.Module) (Descriptor, error) {
	key := m.Remote + "/" + m.ID + "@" + m.Version
	if s.caching {
		s.mu.Lock()
		d, ok := s.cache[key]
		s.mu.Unlock()
		if ok {
			return d, nil
		}
	}

	d, err := s.fetcher.Fetch(ctx, m.Remote, m.ID, m.Version)
	if err != nil {
		s.log.V(1).Info("remote fetch failed", "module", m.ID, "remote", m.Remote, "error", err.Error())
		return Descriptor{}, err
	}
	if s.caching {
		s.mu.Lock()
		s.cache[key] = d
		s.mu.Unlock()
	}
	return d, nil
}

// Purge drops cached descriptors.
func (s *Source) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]Descriptor)
}
