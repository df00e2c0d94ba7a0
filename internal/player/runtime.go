// Package player drives an external playback library: loading it once per
// process, attaching one instance at a time to a stream URL, mapping its
// events to adapter states, and falling back to an embedded page when native
// playback cannot proceed.
package player

import (
	"context"
	"errors"
	"sync"
)

var ErrLibraryUnavailable = errors.New("playback library unavailable")

// Library is a loaded playback library.
type Library interface {
	// Supported reports whether this environment can play natively.
	Supported() bool
	Create() (Instance, error)
}

// EventKind is the library-side event an instance reports.
type EventKind string

const (
	EventPlaying EventKind = "playing"
	EventEnded   EventKind = "ended"
	EventError   EventKind = "error"
)

// Event is emitted by an Instance. Opaque errors are library-internal noise
// that carry no usable code.
type Event struct {
	Kind   EventKind
	Code   string
	Opaque bool
}

// Instance is one player created by a Library.
type Instance interface {
	OnEvent(fn func(Event))
	Load(url string) error
	Play() error
}

// Destroyer and Pauser are the optional disposal methods of an Instance.
// Destroy is preferred; Pause is the fallback.
type Destroyer interface{ Destroy() error }

type Pauser interface{ Pause() error }

// Loader fetches the library. It is called at most once at a time.
type Loader interface {
	Load(ctx context.Context) (Library, error)
}

// Presenter is implemented by loaders that can tell whether the library is
// already available without loading it.
type Presenter interface {
	Present() (Library, bool)
}

// Runtime holds the process-wide library handle.
type Runtime struct {
	loader Loader

	mu      sync.Mutex
	lib     Library
	loading chan struct{}
	loads   int
}

func NewRuntime(loader Loader) *Runtime {
	return &Runtime{loader: loader}
}

var (
	sharedOnce sync.Once
	shared     *Runtime
)

// Shared returns the process-wide runtime. The loader of the first call wins.
func Shared(loader Loader) *Runtime {
	sharedOnce.Do(func() { shared = NewRuntime(loader) })
	return shared
}

// Acquire returns the library, loading it if needed. Concurrent callers wait
// for the load already in flight. A failed load is not cached.
func (r *Runtime) Acquire(ctx context.Context) (Library, error) {
	for {
		r.mu.Lock()
		if r.lib != nil {
			lib := r.lib
			r.mu.Unlock()
			return lib, nil
		}
		if p, ok := r.loader.(Presenter); ok {
			if lib, present := p.Present(); present && lib != nil {
				r.lib = lib
				r.mu.Unlock()
				return lib, nil
			}
		}
		if wait := r.loading; wait != nil {
			r.mu.Unlock()
			select {
			case <-wait:
				r.mu.Lock()
				lib := r.lib
				r.mu.Unlock()
				if lib != nil {
					return lib, nil
				}
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if r.loader == nil {
			r.mu.Unlock()
			return nil, ErrLibraryUnavailable
		}
		done := make(chan struct{})
		r.loading = done
		r.loads++
		r.mu.Unlock()

		lib, err := r.loader.Load(ctx)
		if err == nil && lib == nil {
			err = ErrLibraryUnavailable
		}

		r.mu.Lock()
		if err == nil {
			r.lib = lib
		}
		r.loading = nil
		close(done)
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return lib, nil
	}
}

// Loaded returns the library without loading it. A library the loader
// reports as already present is adopted here.
func (r *Runtime) Loaded() (Library, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lib == nil {
		if p, ok := r.loader.(Presenter); ok {
			if lib, present := p.Present(); present && lib != nil {
				r.lib = lib
			}
		}
	}
	return r.lib, r.lib != nil
}

// Loading reports whether a load is in flight.
func (r *Runtime) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading != nil
}

// Loads counts Load calls issued to the loader.
func (r *Runtime) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}
