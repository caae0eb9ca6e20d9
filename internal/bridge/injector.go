package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"golang.org/x/sync/singleflight"

	"github.com/verdexhq/agentbridge/internal/apierr"
	"github.com/verdexhq/agentbridge/internal/cdplog"
	"github.com/verdexhq/agentbridge/internal/cdptransport"
)

// frameState is the per-(session, frame) record of §3 "Frame State": the
// execution context id of the frame's isolated world, the remote handle to
// the bridge object living there, and a readiness gate resolved once both
// exist. The gate is replaced, not reset, whenever the frame's document is
// swapped — a fresh *frameState is installed rather than the old one mutated.
type frameState struct {
	ready     chan struct{}
	err       error
	contextID runtime.ExecutionContextID
	handle    Helper
}

// Injector is the Bridge Injector (C3): it is constructed bound to a single
// debugger Session (one per persona, per spec.md §4.4 step 3) and guarantees
// a live bridge object in every frame reachable through that session.
type Injector struct {
	sess      *cdptransport.Session
	worldName string
	factory   string
	log       *cdplog.Logger

	mu         sync.Mutex
	states     map[cdp.FrameID]*frameState
	ctxToFrame map[runtime.ExecutionContextID]cdp.FrameID

	sf singleflight.Group

	eventCh chan cdptransport.Event
	cancel  context.CancelFunc
}

// New builds an Injector for one debugger session. worldName must already be
// salted per-persona by the caller (spec.md §4.2) so that concurrent
// personas sharing a page do not collide on isolated-world names. factory is
// the external bridge-factory source (C2); the core treats it as an opaque
// string supplied by configuration.
func New(sess *cdptransport.Session, worldName, factory string, log *cdplog.Logger) *Injector {
	return &Injector{
		sess:       sess,
		worldName:  worldName,
		factory:    factory,
		log:        log,
		states:     make(map[cdp.FrameID]*frameState),
		ctxToFrame: make(map[runtime.ExecutionContextID]cdp.FrameID),
	}
}

// SetupAutoInjection enables the protocol domains the injector depends on
// and registers every event listener *before* any injection is attempted,
// so an injection racing a navigation cannot leak a handle into a dead
// context (spec.md §4.3, Lifecycle).
func (i *Injector) SetupAutoInjection(ctx context.Context, mainFrameID cdp.FrameID) error {
	if err := cdppage.Enable().Do(cdp.WithExecutor(ctx, i.sess)); err != nil {
		return fmt.Errorf("bridge: enable page domain: %w", err)
	}
	if err := runtime.Enable().Do(cdp.WithExecutor(ctx, i.sess)); err != nil {
		return fmt.Errorf("bridge: enable runtime domain: %w", err)
	}

	evCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.eventCh = make(chan cdptransport.Event, 64)

	i.sess.On(evCtx, []string{
		cdproto.EventPageFrameNavigated,
		cdproto.EventPageFrameDetached,
		cdproto.EventRuntimeExecutionContextDestroyed,
		cdproto.EventRuntimeExecutionContextsCleared,
	}, i.eventCh)

	go i.dispatchLoop(evCtx)
	return nil
}

// Dispose unregisters listeners and drops every tracked frame state.
func (i *Injector) Dispose() {
	if i.cancel != nil {
		i.cancel()
	}
	i.mu.Lock()
	i.states = make(map[cdp.FrameID]*frameState)
	i.ctxToFrame = make(map[runtime.ExecutionContextID]cdp.FrameID)
	i.mu.Unlock()
}

func (i *Injector) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-i.eventCh:
			switch ev.Method {
			case cdproto.EventPageFrameNavigated:
				if e, ok := ev.Data.(*cdppage.EventFrameNavigated); ok && e.Frame != nil {
					i.dropFrame(e.Frame.ID)
				}
			case cdproto.EventPageFrameDetached:
				if e, ok := ev.Data.(*cdppage.EventFrameDetached); ok {
					i.dropFrame(e.FrameID)
				}
			case cdproto.EventRuntimeExecutionContextDestroyed:
				if e, ok := ev.Data.(*runtime.EventExecutionContextDestroyed); ok {
					i.dropContext(e.ExecutionContextID)
				}
			case cdproto.EventRuntimeExecutionContextsCleared:
				i.dropAll()
			}
		}
	}
}

func (i *Injector) dropFrame(id cdp.FrameID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if st, ok := i.states[id]; ok {
		delete(i.ctxToFrame, st.contextID)
		delete(i.states, id)
		i.log.Debugf("Injector:dropFrame", "fid:%v", id)
	}
}

func (i *Injector) dropContext(id runtime.ExecutionContextID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fid, ok := i.ctxToFrame[id]
	if !ok {
		return
	}
	delete(i.ctxToFrame, id)
	delete(i.states, fid)
	i.log.Debugf("Injector:dropContext", "ecid:%d fid:%v", id, fid)
}

func (i *Injector) dropAll() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.states = make(map[cdp.FrameID]*frameState)
	i.ctxToFrame = make(map[runtime.ExecutionContextID]cdp.FrameID)
}

// EnsureFrameState guarantees a live bridge object in frameID and returns
// its Helper. Concurrent calls for the same frame share one readiness gate
// and cause exactly one injection (spec.md §4.3 concurrency property),
// collapsed via singleflight keyed by the frame id.
func (i *Injector) EnsureFrameState(ctx context.Context, frameID cdp.FrameID) (Helper, error) {
	i.mu.Lock()
	if st, ok := i.states[frameID]; ok {
		i.mu.Unlock()
		return waitState(ctx, st)
	}
	i.mu.Unlock()

	v, err, _ := i.sf.Do(string(frameID), func() (interface{}, error) {
		i.mu.Lock()
		if st, ok := i.states[frameID]; ok {
			i.mu.Unlock()
			return waitState(ctx, st)
		}
		st := &frameState{ready: make(chan struct{})}
		i.states[frameID] = st
		i.mu.Unlock()

		handle, ctxID, err := i.inject(ctx, frameID)

		i.mu.Lock()
		if err != nil {
			delete(i.states, frameID)
			st.err = err
			close(st.ready)
			i.mu.Unlock()
			return nil, err
		}
		st.handle = handle
		st.contextID = ctxID
		i.ctxToFrame[ctxID] = frameID
		close(st.ready)
		i.mu.Unlock()
		return handle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Helper), nil
}

func waitState(ctx context.Context, st *frameState) (Helper, error) {
	select {
	case <-st.ready:
		if st.err != nil {
			return nil, st.err
		}
		return st.handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// inject creates the isolated world and evaluates the bridge factory in it.
func (i *Injector) inject(ctx context.Context, frameID cdp.FrameID) (Helper, runtime.ExecutionContextID, error) {
	execCtxID, err := cdppage.CreateIsolatedWorld(frameID).
		WithWorldName(i.worldName).
		WithGrantUniveralAccess(true).
		Do(cdp.WithExecutor(ctx, i.sess))
	if err != nil {
		return nil, 0, classifyInjectionError(err)
	}

	res, excp, err := runtime.Evaluate(i.factory).
		WithContextID(execCtxID).
		WithReturnByValue(false).
		Do(cdp.WithExecutor(ctx, i.sess))
	if err != nil {
		return nil, 0, classifyInjectionError(err)
	}
	if excp != nil {
		return nil, 0, fmt.Errorf("bridge: factory evaluation threw: %s", excp.Text)
	}
	if res == nil || res.ObjectID == "" {
		return nil, 0, fmt.Errorf("bridge: factory evaluation returned no object")
	}

	return newRemoteHelper(i.sess, res.ObjectID), execCtxID, nil
}

func classifyInjectionError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "frame detached"),
		strings.Contains(msg, "execution context destroyed"),
		strings.Contains(msg, "target closed"),
		strings.Contains(msg, "session closed"),
		strings.Contains(msg, "frame id not found"),
		strings.Contains(msg, "no frame for given id"):
		return apierr.NewFrameDetached(err)
	default:
		return err
	}
}

// CallMethod dispatches fn against frameID's bridge, revalidating the
// handle with a trivial ping first and retrying once, fresh, if the ping or
// the call itself reveals a stale handle (spec.md §4.3, Handle revalidation).
func CallMethod[T any](ctx context.Context, inj *Injector, frameID cdp.FrameID, fn func(Helper) (T, error)) (T, error) {
	var zero T

	h, err := inj.EnsureFrameState(ctx, frameID)
	if err != nil {
		return zero, err
	}

	if rh, ok := h.(*remoteHelper); ok {
		if pingErr := rh.ping(ctx); pingErr != nil && isStale(pingErr) {
			inj.dropFrame(frameID)
			h, err = inj.EnsureFrameState(ctx, frameID)
			if err != nil {
				return zero, err
			}
		}
	}

	out, err := fn(h)
	if err != nil && isStale(err) {
		inj.dropFrame(frameID)
		h, err2 := inj.EnsureFrameState(ctx, frameID)
		if err2 != nil {
			return zero, err
		}
		return fn(h)
	}
	return out, err
}

func isStale(err error) bool {
	if err == nil {
		return false
	}
	if apierr.IsFrameDetached(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context destroyed") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "session closed") ||
		strings.Contains(msg, "frame detached") ||
		strings.Contains(msg, "cannot find context")
}

// ElementObjectID is a package-level helper the snapshot composer uses to
// pierce an iframe marker: it resolves localRef through the parent frame's
// bridge to the underlying element's RemoteObjectID.
func ElementObjectID(ctx context.Context, inj *Injector, frameID cdp.FrameID, localRef string) (runtime.RemoteObjectID, error) {
	return CallMethod(ctx, inj, frameID, func(h Helper) (runtime.RemoteObjectID, error) {
		rh, ok := h.(*remoteHelper)
		if !ok {
			return "", fmt.Errorf("bridge: helper does not support element resolution")
		}
		return rh.elementObjectID(ctx, localRef)
	})
}
