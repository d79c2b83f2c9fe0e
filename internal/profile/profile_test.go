package profile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayleafwalker/bindery-runtime/internal/capability"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(capability.Attributes{capability.AttrSellsProducts: true})

	var got []capability.Attributes
	cancel := s.Subscribe(func(a capability.Attributes) { got = append(got, a) })

	attrs, err := s.BusinessAttributes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, attrs[capability.AttrSellsProducts])

	// The returned map is a copy.
	attrs[capability.AttrSellsServices] = true
	again, _ := s.BusinessAttributes(context.Background())
	assert.NotContains(t, again, capability.AttrSellsServices)

	s.Set(capability.Attributes{capability.AttrSellsServices: true})
	cancel()
	cancel()
	s.Set(capability.Attributes{})

	require.Len(t, got, 1)
	assert.Equal(t, true, got[0][capability.AttrSellsServices])
}

func writeProfile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFileStore_Read(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeProfile(t, path, "sells_products: true\nsells_products_for_onsite_consumption: \"true\"\n")

	s := NewFileStore(path, logr.Discard())
	attrs, err := s.BusinessAttributes(context.Background())
	require.NoError(t, err)
	assert.True(t, attrs.Enabled(capability.AttrSellsProducts))
	assert.True(t, attrs.Enabled(capability.AttrSellsOnsite))
}

func TestFileStore_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileStore(filepath.Join(dir, "missing.yaml"), logr.Discard()).BusinessAttributes(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writeProfile(t, bad, "- not\n- a map\n")
	_, err = NewFileStore(bad, logr.Discard()).BusinessAttributes(context.Background())
	assert.Error(t, err)
}

func TestFileStore_WatchNotifiesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeProfile(t, path, "sells_products: true\n")

	s := NewFileStore(path, logr.Discard())
	var (
		mu  sync.Mutex
		got []capability.Attributes
	)
	s.Subscribe(func(a capability.Attributes) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, a)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	require.Eventually(t, func() bool {
		a, err := s.BusinessAttributes(context.Background())
		return err == nil && a.Enabled(capability.AttrSellsProducts)
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		// Rewritten each round in case the watcher was not yet registered.
		writeProfile(t, path, "sells_products: true\nsells_services: true\n")
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Enabled(capability.AttrSellsServices)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
