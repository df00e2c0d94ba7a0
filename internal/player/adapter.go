package player

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vidsight/internal/poller"
	"vidsight/internal/streamurl"
)

var (
	ErrNotReady       = errors.New("player is not ready")
	ErrFallbackActive = errors.New("fallback player is active")
	ErrClosed         = errors.New("player is closed")
)

type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateAttached State = "attached"
	StatePlaying  State = "playing"
	StateError    State = "error"
	StateFallback State = "fallback_iframe"
)

// Waiting messages shown while native playback connects.
const (
	MsgPreparing    = "Preparing stream player..."
	MsgConnecting   = "Connecting to stream..."
	MsgLoading      = "Stream is loading..."
	MsgSlow         = "Still connecting... This may take a moment"
	MsgReconnecting = "Reconnecting to stream..."
)

const (
	ErrTextEnded    = "Stream has ended"
	errTextPlayback = "Stream playback error: "
)

var transitions = map[State]map[State]bool{
	StateUnloaded: {StateLoading: true, StateReady: true, StateError: true, StateFallback: true},
	StateLoading:  {StateReady: true, StateError: true, StateFallback: true},
	StateReady:    {StateReady: true, StateAttached: true, StatePlaying: true, StateError: true, StateFallback: true},
	StateAttached: {StateReady: true, StatePlaying: true, StateError: true, StateFallback: true},
	StatePlaying:  {StateReady: true, StatePlaying: true, StateError: true, StateFallback: true},
	StateError:    {StateReady: true, StateError: true, StateFallback: true},
	StateFallback: {},
}

// CanTransition reports whether the adapter may move from one state to another.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// Status is what the adapter shows its user.
type Status struct {
	State State  `json:"state"`
	URL   string `json:"url,omitempty"`
	// Message is the waiting text; it never changes State.
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}

type Observer interface {
	PlayerTransition(state string)
}

type Options struct {
	Runtime     *Runtime
	Scheduler   *poller.Scheduler
	SoftTimeout time.Duration
	RetryDelay  time.Duration
	Logger      *zap.SugaredLogger
	Observer    Observer
}

// Adapter owns at most one live Instance.
type Adapter struct {
	rt         *Runtime
	sched      *poller.Scheduler
	ownsSched  bool
	soft       time.Duration
	retryDelay time.Duration
	log        *zap.SugaredLogger
	obs        Observer
	id         string

	// lifecycle is held from detaching the old instance until the new one
	// is started or disposed, so two attach cycles never overlap. It is
	// taken before mu.
	lifecycle sync.Mutex

	mu      sync.Mutex
	status  Status
	inst    Instance
	gen     uint64
	closed  bool
	updates chan struct{}
}

var adapterSeq atomic.Uint64

func New(opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sched := opts.Scheduler
	owns := false
	if sched == nil {
		sched = poller.New(poller.Options{Logger: log})
		owns = true
	}
	soft := opts.SoftTimeout
	if soft <= 0 {
		soft = 5 * time.Second
	}
	retry := opts.RetryDelay
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}
	rt := opts.Runtime
	if rt == nil {
		rt = NewRuntime(nil)
	}
	return &Adapter{
		rt:         rt,
		sched:      sched,
		ownsSched:  owns,
		soft:       soft,
		retryDelay: retry,
		log:        log,
		obs:        opts.Observer,
		id:         strconv.FormatUint(adapterSeq.Add(1), 10),
		status:     Status{State: StateUnloaded},
		updates:    make(chan struct{}, 1),
	}
}

// Init makes the library ready, loading it through the runtime when it is
// not already present.
func (a *Adapter) Init(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.status.State != StateUnloaded {
		a.mu.Unlock()
		return nil
	}
	if _, ok := a.rt.Loaded(); ok {
		a.transitionLocked(StateReady)
		a.mu.Unlock()
		return nil
	}
	a.transitionLocked(StateLoading)
	a.status.Message = MsgPreparing
	a.notifyLocked()
	a.mu.Unlock()

	_, err := a.rt.Acquire(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.status.State != StateLoading {
		return err
	}
	if err != nil {
		a.log.Errorw("load playback library failed", "error", err)
		a.transitionLocked(StateError)
		a.status.Message = ""
		a.status.Error = "Failed to load player: " + err.Error()
		a.status.Retriable = true
		a.notifyLocked()
		return fmt.Errorf("load player: %w", err)
	}
	a.transitionLocked(StateReady)
	a.status.Message = ""
	a.notifyLocked()
	return nil
}

// Attach disposes any current instance and starts native playback of the
// canonical form of url. Failures the library reports end in Error or
// FallbackIframe rather than an error return.
func (a *Adapter) Attach(url string) error {
	canonical := streamurl.Normalize(url)

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		return ErrClosed
	case a.status.State == StateFallback:
		a.mu.Unlock()
		return ErrFallbackActive
	case a.status.State == StateUnloaded || a.status.State == StateLoading:
		a.mu.Unlock()
		return ErrNotReady
	case canonical == "":
		a.mu.Unlock()
		return fmt.Errorf("attach: %w: empty stream URL", ErrNotReady)
	}
	lib, ok := a.rt.Loaded()
	if !ok {
		a.mu.Unlock()
		return ErrNotReady
	}
	old := a.detachLocked()
	a.status.URL = canonical
	a.resetLocked(MsgConnecting)
	gen := a.gen
	a.mu.Unlock()

	a.dispose(old)
	a.connect(lib, gen, canonical)
	return nil
}

// connect creates, wires and starts an instance for generation gen.
func (a *Adapter) connect(lib Library, gen uint64, url string) {
	if !lib.Supported() {
		a.mu.Lock()
		if gen == a.gen && !a.closed {
			a.fallbackLocked("native playback not supported")
		}
		a.mu.Unlock()
		return
	}

	inst, err := a.create(lib)
	if err != nil {
		a.log.Warnw("create player instance failed", "error", err)
		a.mu.Lock()
		if gen == a.gen && !a.closed {
			a.fallbackLocked("create failed")
		}
		a.mu.Unlock()
		return
	}
	inst.OnEvent(func(ev Event) { a.handle(gen, ev) })
	err = a.start(inst, url)

	a.mu.Lock()
	if gen != a.gen || a.closed {
		a.mu.Unlock()
		a.dispose(inst)
		return
	}
	if err != nil {
		a.log.Warnw("load stream failed", "url", url, "error", err)
		a.fallbackLocked("load failed")
		a.mu.Unlock()
		a.dispose(inst)
		return
	}
	a.inst = inst
	if a.status.State == StateReady {
		a.transitionLocked(StateAttached)
		a.status.Message = MsgLoading
		a.sched.After(a.key("soft"), a.soft, func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			if ctx.Err() == nil && gen == a.gen && a.status.State == StateAttached {
				a.status.Message = MsgSlow
				a.notifyLocked()
			}
		})
	}
	a.notifyLocked()
	a.mu.Unlock()
}

func (a *Adapter) create(lib Library) (inst Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("create player: %v", r)
		}
	}()
	inst, err = lib.Create()
	if err == nil && inst == nil {
		err = errors.New("create player: no instance")
	}
	return inst, err
}

func (a *Adapter) start(inst Instance, url string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start player: %v", r)
		}
	}()
	if err := inst.Load(url); err != nil {
		return err
	}
	return inst.Play()
}

func (a *Adapter) handle(gen uint64, ev Event) {
	if ev.Opaque {
		a.log.Debugw("suppressed player fault", "code", ev.Code)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || gen != a.gen {
		return
	}
	switch ev.Kind {
	case EventPlaying:
		a.sched.Cancel(a.key("soft"))
		if a.transitionLocked(StatePlaying) {
			a.status.Message = ""
			a.status.Error = ""
		}
	case EventEnded:
		if a.transitionLocked(StateError) {
			a.status.Message = ""
			a.status.Error = ErrTextEnded
			a.status.Retriable = false
		}
	case EventError:
		code := ev.Code
		if code == "" {
			code = "Unknown"
		}
		if a.transitionLocked(StateError) {
			a.status.Message = ""
			a.status.Error = errTextPlayback + code
			a.status.Retriable = true
		}
	default:
		return
	}
	a.notifyLocked()
}

// Retry disposes the current instance and attaches again to the same URL
// after the retry delay. Without a usable library it goes straight to the
// fallback.
func (a *Adapter) Retry() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		return ErrClosed
	case a.status.State == StateFallback:
		a.mu.Unlock()
		return ErrFallbackActive
	}
	old := a.detachLocked()
	lib, ok := a.rt.Loaded()
	if !ok || !lib.Supported() {
		a.fallbackLocked("library unavailable on retry")
		a.mu.Unlock()
		a.dispose(old)
		return nil
	}
	url := a.status.URL
	if url == "" {
		a.mu.Unlock()
		a.dispose(old)
		return ErrNotReady
	}
	a.resetLocked(MsgReconnecting)
	gen := a.gen
	a.sched.After(a.key("retry"), a.retryDelay, func(ctx context.Context) {
		a.lifecycle.Lock()
		defer a.lifecycle.Unlock()
		a.mu.Lock()
		stale := ctx.Err() != nil || gen != a.gen || a.closed
		a.mu.Unlock()
		if !stale {
			a.connect(lib, gen, url)
		}
	})
	a.mu.Unlock()
	a.dispose(old)
	return nil
}

// UseFallback switches to the embedded page from any state.
func (a *Adapter) UseFallback() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	old := a.detachLocked()
	a.fallbackLocked("requested")
	a.mu.Unlock()
	a.dispose(old)
	return nil
}

// Close disposes the instance and cancels pending timers.
func (a *Adapter) Close() {
	a.lifecycle.Lock()
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.lifecycle.Unlock()
		return
	}
	a.closed = true
	old := a.detachLocked()
	a.mu.Unlock()

	a.dispose(old)
	a.lifecycle.Unlock()
	if a.ownsSched {
		a.sched.CancelAll()
		a.sched.Wait()
	}
}

func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Updates receives a value after any status change. Sends coalesce.
func (a *Adapter) Updates() <-chan struct{} { return a.updates }

// detachLocked invalidates the current generation and returns the instance
// the caller must dispose once the lock is released.
func (a *Adapter) detachLocked() Instance {
	a.gen++
	a.sched.Halt(a.key("soft"), a.key("retry"))
	old := a.inst
	a.inst = nil
	return old
}

func (a *Adapter) resetLocked(msg string) {
	a.transitionLocked(StateReady)
	a.status.Message = msg
	a.status.Error = ""
	a.status.Retriable = false
	a.notifyLocked()
}

func (a *Adapter) fallbackLocked(reason string) {
	a.log.Infow("falling back to embedded player", "url", a.status.URL, "reason", reason)
	a.transitionLocked(StateFallback)
	a.status.Message = ""
	a.status.Error = ""
	a.status.Retriable = false
	a.notifyLocked()
}

func (a *Adapter) transitionLocked(to State) bool {
	from := a.status.State
	if !CanTransition(from, to) {
		a.log.Debugw("ignored player transition", "from", from, "to", to)
		return false
	}
	a.status.State = to
	if from != to {
		a.log.Debugw("player state", "from", from, "to", to)
		if a.obs != nil {
			a.obs.PlayerTransition(string(to))
		}
	}
	return true
}

// dispose destroys inst, or pauses it when it cannot be destroyed.
func (a *Adapter) dispose(inst Instance) {
	if inst == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Warnw("player cleanup panicked", "panic", r)
		}
	}()
	var err error
	switch v := inst.(type) {
	case Destroyer:
		err = v.Destroy()
	case Pauser:
		err = v.Pause()
	}
	if err != nil {
		a.log.Warnw("player cleanup failed", "error", err)
	}
}

func (a *Adapter) key(kind string) string {
	return poller.Key("player_"+kind, a.id)
}

func (a *Adapter) notifyLocked() {
	select {
	case a.updates <- struct{}{}:
	default:
	}
}
