package commander

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/link-foundation/browser-commander-sub000/abort"
	"github.com/link-foundation/browser-commander-sub000/models"
	"github.com/link-foundation/browser-commander-sub000/navigation"
)

// TriggerContext is what a trigger condition sees.
type TriggerContext struct {
	URL       string
	Commander *Commander
}

// Trigger couples a URL condition to an automation action. Higher priority
// wins; equal priorities keep registration order.
type Trigger struct {
	Name      string
	Priority  int
	Condition func(*TriggerContext) bool
	Action    func(*ActionContext) error
}

type registration struct {
	trigger Trigger
	seq     uint64
}

// actionRun is one live action. done closes when the action settles; the
// run itself is the only thing that clears the scheduler's live slot.
type actionRun struct {
	name      string
	token     *abort.Token
	startedAt time.Time
	done      chan struct{}

	// selfNav marks that the action itself is driving a navigation; stop
	// must not wait for a settle that cannot happen until the navigation
	// returns to the action.
	selfNav atomic.Bool
}

// scheduler stores triggers, selects at most one per page_ready, and
// guarantees at most one action executes at any time.
type scheduler struct {
	c        *Commander
	graceful time.Duration

	mu       sync.Mutex
	triggers []*registration
	nextSeq  uint64
	live     *actionRun
	stopWait chan struct{}
	isWedged bool
	closed   bool
}

func newScheduler(c *Commander, graceful time.Duration) *scheduler {
	if graceful <= 0 {
		graceful = 10 * time.Second
	}
	return &scheduler{c: c, graceful: graceful}
}

// bind subscribes the scheduler to the lifecycle: stop before navigation
// proceeds, attempt a start on every page_ready.
func (s *scheduler) bind(m *navigation.Manager) {
	m.OnBeforeNavigate(func(ctx context.Context) {
		s.stopCurrent(ctx)
	})
	m.OnPageReady(func(ev navigation.ReadyEvent) {
		s.onPageReady(ev)
	})
}

// register validates and inserts a trigger, keeping the sequence sorted by
// priority descending, stable for equal priorities.
func (s *scheduler) register(t Trigger) (func(), error) {
	if t.Condition == nil || t.Action == nil {
		return nil, models.NewCommandError(models.ErrCodeInvariant,
			"trigger requires both a condition and an action", nil)
	}

	s.mu.Lock()
	r := &registration{trigger: t, seq: s.nextSeq}
	s.nextSeq++
	pos := len(s.triggers)
	for i, cur := range s.triggers {
		if cur.trigger.Priority < t.Priority {
			pos = i
			break
		}
	}
	s.triggers = append(s.triggers, nil)
	copy(s.triggers[pos+1:], s.triggers[pos:])
	s.triggers[pos] = r
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cur := range s.triggers {
			if cur == r {
				s.triggers = append(s.triggers[:i], s.triggers[i+1:]...)
				return
			}
		}
	}, nil
}

func (s *scheduler) snapshot() []*registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*registration, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// onPageReady selects the first matching trigger and starts its action.
func (s *scheduler) onPageReady(ev navigation.ReadyEvent) {
	s.mu.Lock()
	busy := s.live != nil || s.closed
	s.mu.Unlock()
	if busy {
		return
	}

	tctx := &TriggerContext{URL: ev.URL, Commander: s.c}
	var chosen *registration
	for _, r := range s.snapshot() {
		if s.matches(r, tctx) {
			chosen = r
			break
		}
	}
	if chosen == nil {
		return
	}
	s.start(chosen, ev.URL)
}

// matches runs one condition; a condition failure only disqualifies that
// trigger.
func (s *scheduler) matches(r *registration, tctx *TriggerContext) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("trigger condition panicked, skipping",
				"trigger", r.trigger.Name, "panic", rec)
			ok = false
		}
	}()
	return r.trigger.Condition(tctx)
}

// start claims the live slot and spawns the action; it does not await it.
func (s *scheduler) start(r *registration, url string) {
	s.mu.Lock()
	if s.live != nil || s.closed || s.c.manager.State() != navigation.StateIdle {
		s.mu.Unlock()
		return
	}
	run := &actionRun{
		name:      r.trigger.Name,
		token:     abort.NewToken(),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.live = run
	s.mu.Unlock()

	slog.Info("starting action", "trigger", r.trigger.Name, "url", url)
	go s.runAction(r, run, url)
}

func (s *scheduler) runAction(r *registration, run *actionRun, url string) {
	actx := newActionContext(url, run.token, s.c)
	err := invokeAction(r.trigger.Action, actx)

	switch {
	case err == nil:
		slog.Info("action completed",
			"trigger", run.name, "duration", time.Since(run.startedAt))
	case models.IsActionStopped(err):
		slog.Info("action stopped", "trigger", run.name)
	case run.token.Fired():
		slog.Info("action stopped", "trigger", run.name, "error", err)
	default:
		slog.Error("action failed", "trigger", run.name, "error", err)
	}

	// Fire unconditionally so on_cleanup callbacks run even after a clean
	// completion.
	run.token.Fire()

	s.mu.Lock()
	if s.live == run {
		s.live = nil
		s.isWedged = false
	}
	s.mu.Unlock()
	close(run.done)
}

func invokeAction(action func(*ActionContext) error, actx *ActionContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = models.NewCommandError(models.ErrCodeInvariant,
				"action panicked", nil)
			slog.Error("action panicked", "panic", rec)
		}
	}()
	return action(actx)
}

// stopCurrent stops the live action, if any. It is idempotent and concurrent
// callers share one in-flight stop. After the graceful deadline the
// scheduler proceeds regardless; the abandoned run keeps the live slot until
// it settles on its own.
func (s *scheduler) stopCurrent(ctx context.Context) {
	s.mu.Lock()
	run := s.live
	if run == nil {
		s.mu.Unlock()
		return
	}
	if run.selfNav.Load() {
		// The action is inside its own Navigate call; firing the token
		// terminates it, and waiting for the settle would deadlock.
		s.mu.Unlock()
		run.token.Fire()
		return
	}
	if s.stopWait != nil {
		ch := s.stopWait
		s.mu.Unlock()
		<-ch
		return
	}
	ch := make(chan struct{})
	s.stopWait = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.stopWait = nil
		s.mu.Unlock()
		close(ch)
	}()

	run.token.Fire()

	timer := time.NewTimer(s.graceful)
	defer timer.Stop()

	select {
	case <-run.done:
	case <-timer.C:
		slog.Warn("action did not stop within the graceful deadline, abandoning",
			"trigger", run.name, "deadline", s.graceful)
		s.markWedged(run)
	case <-ctx.Done():
		slog.Warn("stop cancelled by caller before the action settled",
			"trigger", run.name)
		s.markWedged(run)
	}
}

func (s *scheduler) markWedged(run *actionRun) {
	s.mu.Lock()
	if s.live == run {
		s.isWedged = true
	}
	s.mu.Unlock()
}

func (s *scheduler) wedged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isWedged
}

// beginSelfNavigation marks the live run owning tok as navigating itself.
// The returned func clears the mark.
func (s *scheduler) beginSelfNavigation(tok *abort.Token) func() {
	s.mu.Lock()
	run := s.live
	s.mu.Unlock()
	if run == nil || run.token != tok {
		return func() {}
	}
	run.selfNav.Store(true)
	return func() { run.selfNav.Store(false) }
}

// stop stops the live action and refuses any further starts.
func (s *scheduler) stop(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopCurrent(ctx)
}
