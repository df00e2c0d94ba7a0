// Package poller runs keyed, cancellable timers. At most one task exists per
// key; scheduling a key again cancels the task already holding it.
package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStop ends an Every loop when returned (or wrapped) by its callback.
var ErrStop = errors.New("poll loop stopped")

// Observer receives loop activity. telemetry.Collector implements it.
type Observer interface {
	PollTick(loop string)
	PollError(loop string)
	LoopStarted(loop string)
	LoopStopped(loop string)
}

type Options struct {
	Logger   *zap.SugaredLogger
	Observer Observer
}

type Scheduler struct {
	log *zap.SugaredLogger
	obs Observer

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
	wg     sync.WaitGroup
}

// Task is the handle for one scheduled loop or timer.
type Task struct {
	key    string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *Task) Key() string { return t.key }

// Context is cancelled when the task is cancelled or superseded.
func (t *Task) Context() context.Context { return t.ctx }

// Done is closed after the task goroutine returns.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) Stop() { t.cancel() }

func New(opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		log:   log,
		obs:   opts.Observer,
		tasks: map[string]*Task{},
	}
}

// Key builds the task key for a loop bound to one resource id.
func Key(loop, id string) string {
	return loop + ":" + id
}

// Loop returns the loop part of a key built by Key.
func Loop(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// Every calls fn once per interval until the task is cancelled or fn returns
// ErrStop. The first call happens one interval after scheduling. Calls never
// overlap; the next interval starts when fn returns. Other errors are logged
// and the loop continues.
func (s *Scheduler) Every(key string, interval time.Duration, fn func(ctx context.Context) error) *Task {
	if interval <= 0 {
		interval = time.Second
	}
	task, ok := s.schedule(key)
	if !ok {
		return task
	}
	loop := Loop(key)
	s.started(loop)

	go func() {
		defer s.finish(task)
		defer s.stopped(loop)

		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-task.ctx.Done():
				return
			case <-timer.C:
			}
			s.tick(loop)
			err := fn(task.ctx)
			if task.ctx.Err() != nil {
				return
			}
			if err != nil {
				if errors.Is(err, ErrStop) {
					s.log.Infow("poll loop stopped", "key", key, "reason", err.Error())
					return
				}
				s.failed(loop)
				s.log.Warnw("poll tick failed", "key", key, "error", err)
			}
			timer.Reset(interval)
		}
	}()
	return task
}

// After calls fn once after delay unless the task is cancelled first.
func (s *Scheduler) After(key string, delay time.Duration, fn func(ctx context.Context)) *Task {
	task, ok := s.schedule(key)
	if !ok {
		return task
	}
	go func() {
		defer s.finish(task)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-task.ctx.Done():
			return
		case <-timer.C:
		}
		fn(task.ctx)
	}()
	return task
}

// Cancel stops the task holding key. It does not wait for the goroutine.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

// Halt cancels every key in one critical section, so no key in the set can
// tick after Halt returns while another is still live.
func (s *Scheduler) Halt(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, key := range keys {
		if s.cancelLocked(key) {
			n++
		}
	}
	return n
}

// CancelPrefix cancels every task whose key starts with prefix.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.tasks {
		if strings.HasPrefix(key, prefix) && s.cancelLocked(key) {
			n++
		}
	}
	return n
}

// CancelAll cancels everything and refuses new tasks. Pair with Wait to block
// until all goroutines have exited.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key := range s.tasks {
		s.cancelLocked(key)
	}
}

// Wait blocks until every task goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) schedule(key string) (*Task, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{key: key, ctx: ctx, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel()
		close(task.done)
		return task, false
	}
	s.cancelLocked(key)
	s.tasks[key] = task
	s.wg.Add(1)
	return task, true
}

func (s *Scheduler) cancelLocked(key string) bool {
	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	task.cancel()
	delete(s.tasks, key)
	return true
}

func (s *Scheduler) finish(task *Task) {
	s.mu.Lock()
	if cur, ok := s.tasks[task.key]; ok && cur == task {
		delete(s.tasks, task.key)
	}
	s.mu.Unlock()
	task.cancel()
	close(task.done)
	s.wg.Done()
}

func (s *Scheduler) tick(loop string) {
	if s.obs != nil {
		s.obs.PollTick(loop)
	}
}

func (s *Scheduler) failed(loop string) {
	if s.obs != nil {
		s.obs.PollError(loop)
	}
}

func (s *Scheduler) started(loop string) {
	if s.obs != nil {
		s.obs.LoopStarted(loop)
	}
}

func (s *Scheduler) stopped(loop string) {
	if s.obs != nil {
		s.obs.LoopStopped(loop)
	}
}
