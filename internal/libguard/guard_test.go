package libguard

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_InitOnceDeinitOnLastRelease(t *testing.T) {
	var inits, deinits int
	g := New("test", func() error { inits++; return nil }, func() { deinits++ })

	r1, err := g.Acquire()
	require.NoError(t, err)
	r2, err := g.Acquire()
	require.NoError(t, err)

	assert.Equal(t, 1, inits)
	assert.Equal(t, 2, g.Refs())

	r1()
	assert.Equal(t, 0, deinits, "deinit must wait for the last reference")

	r2()
	assert.Equal(t, 1, deinits)
	assert.Equal(t, 0, g.Refs())

	// A new session after full release initializes again
	r3, err := g.Acquire()
	require.NoError(t, err)
	r3()
	assert.Equal(t, 2, inits)
	assert.Equal(t, 2, deinits)
	assert.Equal(t, 2, g.Inits())
}

func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	var deinits int
	g := New("test", nil, func() { deinits++ })

	r1, err := g.Acquire()
	require.NoError(t, err)
	r2, err := g.Acquire()
	require.NoError(t, err)

	r1()
	r1()
	r1()
	assert.Equal(t, 1, g.Refs())
	assert.Equal(t, 0, deinits)

	r2()
	r2()
	assert.Equal(t, 0, g.Refs())
	assert.Equal(t, 1, deinits)
}

func TestGuard_InitFailure(t *testing.T) {
	initErr := errors.New("no network layer")
	g := New("test", func() error { return initErr }, func() { t.Fatal("deinit must not run") })

	release, err := g.Acquire()
	require.Error(t, err)
	assert.ErrorIs(t, err, initErr)
	assert.Nil(t, release)
	assert.Equal(t, 0, g.Refs())
}

func TestGuard_Concurrent(t *testing.T) {
	var mu sync.Mutex
	var inits, deinits int
	g := New("test",
		func() error { mu.Lock(); inits++; mu.Unlock(); return nil },
		func() { mu.Lock(); deinits++; mu.Unlock() },
	)

	// Hold one reference so the library stays initialized across goroutines
	hold, err := g.Acquire()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire()
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			release()
		}()
	}
	wg.Wait()

	hold()

	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, deinits)
	assert.Equal(t, 0, g.Refs())
}
