// Package refresh serializes all dashboard state changes onto one event
// loop: credential checks, event fetches, view changes and their results.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"calboard/internal/calendar"
	"calboard/internal/clock"
	"calboard/internal/credential"
	appLog "calboard/internal/log"
	"calboard/internal/model"
	"calboard/internal/source"
	"calboard/internal/store"
)

// ErrStopped is returned by calls made after the loop exited.
var ErrStopped = errors.New("refresh: coordinator stopped")

const (
	defaultFetchTimeout   = 30 * time.Second
	defaultAcquireTimeout = 2 * time.Minute
)

// Options configures a Coordinator.
type Options struct {
	Clock       clock.Clock
	Normalizer  *calendar.Normalizer
	Source      source.Source
	Credentials *credential.Manager
	// Persist receives the view mode. Usually a *store.AsyncWriter.
	Persist credential.Persister

	WeekStart    time.Weekday
	InitialMode  model.ViewMode
	FetchTimeout time.Duration
	// AcquireTimeout bounds one provider call. An attempt that runs out
	// fails like any other.
	AcquireTimeout time.Duration
}

// fetchKey identifies a fetch. token is empty for sources that need no
// credential.
type fetchKey struct {
	mode   model.ViewMode
	anchor model.Date
	token  string
}

type pendingFetch struct {
	id         string
	key        fetchKey
	generation uint64
	waiters    []chan<- error
}

type queuedReply struct {
	ch  chan<- error
	err error
}

// Coordinator owns the grid, the view mode and the credential manager.
// Everything it owns is touched only by the goroutine running Run.
type Coordinator struct {
	clock     clock.Clock
	norm      *calendar.Normalizer
	src       source.Source
	creds     *credential.Manager
	persist   credential.Persister
	weekStart      time.Weekday
	timeout        time.Duration
	acquireTimeout time.Duration

	ops     chan func()
	done    chan struct{}
	runCtx  context.Context
	workers sync.WaitGroup
	snap    atomic.Pointer[Snapshot]

	// loop state
	mode        model.ViewMode
	generation  uint64
	pending     map[fetchKey]*pendingFetch
	index       *calendar.Index
	grid        *calendar.Grid
	lastRefresh time.Time
	lastErr     error
	replies     []queuedReply
}

// New builds a Coordinator. Call Restore before Run to pick up persisted
// state.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.InitialMode == "" {
		opts.InitialMode = model.ViewMonth
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	c := &Coordinator{
		clock:     opts.Clock,
		norm:      opts.Normalizer,
		src:       opts.Source,
		creds:     opts.Credentials,
		persist:   opts.Persist,
		weekStart:      opts.WeekStart,
		timeout:        opts.FetchTimeout,
		acquireTimeout: opts.AcquireTimeout,
		ops:            make(chan func(), 16),
		done:           make(chan struct{}),
		mode:           opts.InitialMode,
		pending:        make(map[fetchKey]*pendingFetch),
	}
	c.publish()
	return c
}

// Restore loads the credential and the last view mode from kv.
func (c *Coordinator) Restore(ctx context.Context, kv store.KeyValueStore) error {
	if err := c.creds.Restore(ctx, kv); err != nil {
		return err
	}
	raw, ok, err := kv.Get(ctx, store.KeyViewMode)
	if err != nil {
		return fmt.Errorf("restoring view mode: %w", err)
	}
	if ok {
		mode, err := model.ParseViewMode(raw)
		if err != nil {
			appLog.Warn("refresh: ignoring stored view mode", "value", raw)
		} else {
			c.mode = mode
		}
	}
	c.publish()
	return nil
}

// Run processes posted operations until ctx is cancelled. Background
// fetches and acquisitions are waited for before it returns.
func (c *Coordinator) Run(ctx context.Context) error {
	c.runCtx = ctx
	appLog.Info("refresh: loop started", "mode", c.mode, "source", c.src.Name())
	for {
		select {
		case <-ctx.Done():
			close(c.done)
			c.workers.Wait()
			appLog.Info("refresh: loop stopped")
			return nil
		case op := <-c.ops:
			op()
			c.publish()
			c.flushReplies()
		}
	}
}

func (c *Coordinator) post(ctx context.Context, op func()) error {
	select {
	case c.ops <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// call runs op on the loop and waits for the error it sends.
func (c *Coordinator) call(ctx context.Context, op func(reply chan<- error)) error {
	res := make(chan error, 1)
	if err := c.post(ctx, func() { op(res) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// goOffLoop runs work on its own goroutine and posts the completion back.
// The completion is dropped if the loop has stopped.
func (c *Coordinator) goOffLoop(work func(ctx context.Context) func()) {
	ctx := c.runCtx
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		complete := work(ctx)
		select {
		case c.ops <- complete:
		case <-ctx.Done():
		}
	}()
}

// reply queues err for ch. Replies go out after the snapshot is published,
// so a caller that returns from a call always sees its own effects.
func (c *Coordinator) reply(ch chan<- error, err error) {
	if ch != nil {
		c.replies = append(c.replies, queuedReply{ch: ch, err: err})
	}
}

func (c *Coordinator) flushReplies() {
	for _, r := range c.replies {
		r.ch <- r.err
	}
	c.replies = c.replies[:0]
}

// Refresh fetches events for the current view and today. A request for a
// view that is already being fetched with the same credential waits for
// that fetch. When the source needs a credential and none is usable the
// refresh is skipped.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.call(ctx, c.requestRefresh)
}

// RefreshAsync is Refresh without waiting for the fetch.
func (c *Coordinator) RefreshAsync(ctx context.Context) error {
	return c.post(ctx, func() { c.requestRefresh(nil) })
}

func (c *Coordinator) requestRefresh(waiter chan<- error) {
	now := c.clock.Now()
	key := fetchKey{mode: c.mode, anchor: c.norm.Today(now)}

	if c.src.RequiresCredential() {
		tok, ok := c.creds.Token(now)
		if !ok {
			appLog.Debug("refresh: skipped without credential", "state", c.creds.State(now))
			c.reply(waiter, nil)
			return
		}
		key.token = tok
	}

	if p, ok := c.pending[key]; ok {
		if waiter != nil {
			p.waiters = append(p.waiters, waiter)
		}
		appLog.Debug("refresh: joined pending fetch", "fetch", p.id)
		return
	}

	first, last, err := calendar.Range(key.mode, key.anchor, c.weekStart)
	if err != nil {
		c.reply(waiter, err)
		return
	}
	start, end := c.norm.Midnight(first), c.norm.Midnight(last.AddDays(1))

	p := &pendingFetch{id: uuid.NewString(), key: key, generation: c.generation}
	if waiter != nil {
		p.waiters = append(p.waiters, waiter)
	}
	c.pending[key] = p
	appLog.Info("refresh: fetch started", "fetch", p.id, "mode", key.mode, "anchor", key.anchor)

	c.goOffLoop(func(ctx context.Context) func() {
		fctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		events, err := c.src.ListEvents(fctx, key.token, start, end)
		return func() { c.completeFetch(p, events, err) }
	})
}

func (c *Coordinator) completeFetch(p *pendingFetch, events []model.Event, fetchErr error) {
	if c.pending[p.key] == p {
		delete(c.pending, p.key)
	}
	err := c.applyFetch(p, events, fetchErr)
	for _, w := range p.waiters {
		c.reply(w, err)
	}
}

func (c *Coordinator) applyFetch(p *pendingFetch, events []model.Event, err error) error {
	if p.generation != c.generation {
		appLog.Info("refresh: discarding stale response", "fetch", p.id, "mode", p.key.mode)
		return nil
	}
	if c.src.RequiresCredential() && !c.tokenCurrent(p.key.token) {
		// The credential this fetch used was replaced or dropped.
		appLog.Info("refresh: discarding response for superseded credential", "fetch", p.id, "error", err)
		return nil
	}
	if err != nil {
		if source.IsAuth(err) {
			c.creds.AuthFailed()
		}
		c.lastErr = err
		appLog.Error("refresh: fetch failed, keeping previous grid", err, "fetch", p.id)
		return err
	}

	now := c.clock.Now()
	ix := calendar.BuildIndex(events, c.norm)
	grid, err := calendar.BuildGrid(ix, p.key.mode, p.key.anchor, c.norm.Today(now), c.weekStart)
	if err != nil {
		c.lastErr = err
		return err
	}
	c.index, c.grid = ix, &grid
	c.lastRefresh, c.lastErr = now, nil
	appLog.Info("refresh: grid updated", "fetch", p.id, "events", len(events), "days", len(ix.Keys()))
	return nil
}

func (c *Coordinator) tokenCurrent(token string) bool {
	cur, ok := c.creds.Current()
	return ok && cur.Token == token
}

// SetViewMode switches the grid shape, persists it and refreshes. Fetches
// still running for the old view are discarded when they finish.
func (c *Coordinator) SetViewMode(ctx context.Context, mode model.ViewMode) error {
	if _, err := model.ParseViewMode(string(mode)); err != nil {
		return err
	}
	return c.call(ctx, func(res chan<- error) {
		c.switchView(mode)
		c.reply(res, nil)
	})
}

// RotateView advances day -> week -> month -> day.
func (c *Coordinator) RotateView(ctx context.Context) error {
	return c.call(ctx, func(res chan<- error) {
		c.switchView(c.mode.Next())
		c.reply(res, nil)
	})
}

func (c *Coordinator) switchView(mode model.ViewMode) {
	c.mode = mode
	c.generation++
	c.pending = make(map[fetchKey]*pendingFetch)
	c.persist.Set(store.KeyViewMode, string(mode))
	appLog.Info("refresh: view changed", "mode", mode)

	if c.index != nil {
		today := c.norm.Today(c.clock.Now())
		if grid, err := calendar.BuildGrid(c.index, mode, today, today, c.weekStart); err == nil {
			c.grid = &grid
		}
	}
	c.requestRefresh(nil)
}

// CheckCredential runs the periodic credential evaluation. An automatic
// attempt it starts runs in the background; success triggers a refresh.
func (c *Coordinator) CheckCredential(ctx context.Context) error {
	return c.call(ctx, func(res chan<- error) {
		if a := c.creds.Check(c.clock.Now()); a != nil {
			c.startAttempt(a, nil)
		}
		c.reply(res, nil)
	})
}

// Login runs a manual acquisition and waits for it.
func (c *Coordinator) Login(ctx context.Context) error {
	return c.call(ctx, func(res chan<- error) {
		c.startAttempt(c.creds.BeginManual(c.clock.Now()), res)
	})
}

func (c *Coordinator) startAttempt(a *credential.Attempt, waiter chan<- error) {
	c.goOffLoop(func(ctx context.Context) func() {
		actx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
		defer cancel()
		g, err := c.creds.Run(actx, a)
		return func() {
			ferr := c.creds.Finish(a, g, err, c.clock.Now())
			if ferr == nil {
				c.requestRefresh(nil)
			}
			c.reply(waiter, ferr)
		}
	})
}

// Logout drops the credential. Data from a credentialed source is cleared
// with it.
func (c *Coordinator) Logout(ctx context.Context) error {
	return c.call(ctx, func(res chan<- error) {
		c.creds.Logout()
		if c.src.RequiresCredential() {
			c.generation++
			c.pending = make(map[fetchKey]*pendingFetch)
			c.index, c.grid = nil, nil
		}
		c.reply(res, nil)
	})
}
