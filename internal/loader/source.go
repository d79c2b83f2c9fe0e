package loader

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
)

// Source resolves the code of a module into an instance.
type Source interface {
	Resolve(ctx context.Context, m *binderyv1alpha1.Module) (any, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, m *binderyv1alpha1.Module) (any, error)

func (f SourceFunc) Resolve(ctx context.Context, m *binderyv1alpha1.Module) (any, error) {
	return f(ctx, m)
}

// Factory builds a module instance from its definition.
type Factory func(ctx context.Context, m *binderyv1alpha1.Module) (any, error)

// LocalSource resolves modules compiled into the binary through a factory
// table keyed by module id.
type LocalSource struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewLocalSource() *LocalSource {
	return &LocalSource{factories: make(map[string]Factory)}
}

// Add registers f for id, replacing any previous factory.
func (s *LocalSource) Add(id string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[id] = f
}

func (s *LocalSource) Resolve(ctx context.Context, m *binderyv1alpha1.Module) (any, error) {
	s.mu.RLock()
	f, ok := s.factories[m.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no local factory for module %q", m.ID)
	}
	return f(ctx, m)
}

// FallbackSource tries Primary for modules that name a federation remote and
// falls back to Fallback when that fails. Modules without a remote go to
// Fallback directly.
type FallbackSource struct {
	Primary  Source
	Fallback Source
	Log      logr.Logger
}

func (s *FallbackSource) Resolve(ctx context.Context, m *binderyv1alpha1.Module) (any, error) {
	if s.Primary == nil || m.Remote == "" {
		return s.fallback(ctx, m, nil)
	}
	inst, err := s.Primary.Resolve(ctx, m)
	if err == nil {
		return inst, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if s.Log.GetSink() != nil {
		s.Log.V(1).Info("federated load failed, using local source", "module", m.ID, "remote", m.Remote, "error", err.Error())
	}
	return s.fallback(ctx, m, err)
}

func (s *FallbackSource) fallback(ctx context.Context, m *binderyv1alpha1.Module, primaryErr error) (any, error) {
	if s.Fallback == nil {
		if primaryErr != nil {
			return nil, primaryErr
		}
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no source for module %q", m.ID)
	}
	return s.Fallback.Resolve(ctx, m)
}
