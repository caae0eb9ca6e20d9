// Package router implements the Reference Router & Action Façade (C7): it
// translates a global reference into (frame, local reference) for every
// action and structural query, and drives navigation and snapshot
// composition.
package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"

	"github.com/verdexhq/agentbridge/internal/apierr"
	"github.com/verdexhq/agentbridge/internal/bridge"
	"github.com/verdexhq/agentbridge/internal/cdplog"
	"github.com/verdexhq/agentbridge/internal/cdptransport"
	"github.com/verdexhq/agentbridge/internal/discovery"
	"github.com/verdexhq/agentbridge/internal/failure"
	"github.com/verdexhq/agentbridge/internal/identity"
	"github.com/verdexhq/agentbridge/internal/refs"
	"github.com/verdexhq/agentbridge/internal/snapshot"
)

// navigationWaitTimeout bounds the post-click navigation-completion waiter
// (spec.md §4.7 click: "a short timeout (≈ 1 s)").
const navigationWaitTimeout = time.Second

// Snapshot is the agent-facing view of a composed snapshot (spec.md §3).
type Snapshot struct {
	Text         string
	ElementCount int
	PageContext  *PageContext
	Navigation   *NavigationInfo
	Warnings     *failure.Warnings
}

// PageContext carries the page's current url/title.
type PageContext struct {
	URL   string
	Title string
}

// NavigationInfo is the navigation metadata attached to the snapshot
// returned by Navigate (spec.md §3).
type NavigationInfo struct {
	RequestedURL  string
	FinalURL      string
	PageTitle     string
	StatusCode    int64
	LoadTime      time.Duration
	RedirectCount int
	ContentType   string
	Timestamp     time.Time
	Success       bool
}

// Router is the Reference Router & Action Façade (C7), bound to one
// Identity/Context Manager.
type Router struct {
	identities *identity.Manager
	log        *cdplog.Logger
}

// New builds a Router over ids. Its BootstrapNavigate method should be wired
// back into the identity.Manager via SetNavigateFunc so that a role's first
// selection can bootstrap its defaultUrl navigation without a dependency
// cycle between the two packages.
func New(ids *identity.Manager, log *cdplog.Logger) *Router {
	return &Router{identities: ids, log: log}
}

// BootstrapNavigate satisfies identity.NavigateFunc for the defaultUrl
// bootstrap performed on a role's first selection.
func (r *Router) BootstrapNavigate(ctx context.Context, idCtx *identity.Context, url string) error {
	_, err := r.navigateContext(ctx, idCtx, url)
	return err
}

// ParseRef is a pure lookup in idCtx.RefIndex (spec.md §4.7): a missing
// entry is an unknown-ref error. No heuristics, no fallback.
func ParseRef(idCtx *identity.Context, ref string) (refs.Entry, error) {
	e, ok := refs.Resolve(idCtx.RefIndex, ref)
	if !ok {
		return refs.Entry{}, apierr.NewUnknownRef(ref)
	}
	return e, nil
}

// Navigate drives a top-level navigation for role, re-injects the frame
// tree, and returns the post-navigation snapshot with navigation metadata
// attached.
func (r *Router) Navigate(ctx context.Context, role, url string) (*Snapshot, error) {
	idCtx, err := r.identities.GetOrCreate(ctx, role)
	if err != nil {
		return nil, err
	}
	idCtx.Touch()
	return r.navigateContext(ctx, idCtx, url)
}

func (r *Router) navigateContext(ctx context.Context, idCtx *identity.Context, url string) (*Snapshot, error) {
	start := time.Now()
	var redirectCount int64

	var finalMu sync.Mutex
	var finalResp *network.Response

	evCtx, cancel := context.WithCancel(ctx)
	evCh := make(chan cdptransport.Event, 32)
	idCtx.Session.On(evCtx, []string{"Network.responseReceived"}, evCh)
	defer cancel()

	go func() {
		for {
			select {
			case ev := <-evCh:
				resp, ok := ev.Data.(*network.EventResponseReceived)
				if !ok || resp.Type != network.ResourceTypeDocument || resp.FrameID != idCtx.MainFrameID {
					continue
				}
				if resp.Response.Status >= 300 && resp.Response.Status < 400 {
					atomic.AddInt64(&redirectCount, 1)
				}
				finalMu.Lock()
				finalResp = resp.Response
				finalMu.Unlock()
			case <-evCtx.Done():
				return
			}
		}
	}()

	_, _, errText, err := cdppage.Navigate(url).Do(cdp.WithExecutor(ctx, idCtx.Session))
	if err == nil && errText != "" {
		err = fmt.Errorf("navigation error: %s", errText)
	}

	if err != nil {
		snap, snapErr := snapshot.Compose(ctx, idCtx.Session, idCtx.Injector, idCtx.MainFrameID, idCtx.Failures, r.log)
		if snapErr == nil {
			idCtx.LastErrorSnapshot = snap.Text
		}
		return nil, apierr.NewNavigation(url, err, idCtx.LastErrorSnapshot)
	}

	if err := discovery.Run(ctx, idCtx.Session, idCtx.Injector, idCtx.MainFrameID, idCtx.Failures, r.log); err != nil {
		snap, snapErr := snapshot.Compose(ctx, idCtx.Session, idCtx.Injector, idCtx.MainFrameID, idCtx.Failures, r.log)
		if snapErr == nil {
			idCtx.LastErrorSnapshot = snap.Text
		}
		return nil, apierr.NewNavigation(url, err, idCtx.LastErrorSnapshot)
	}

	idCtx.HasNavigated = true

	result, err := r.composeSnapshot(ctx, idCtx)
	if err != nil {
		return nil, apierr.NewNavigation(url, err, idCtx.LastErrorSnapshot)
	}

	finalMu.Lock()
	fr := finalResp
	finalMu.Unlock()

	nav := &NavigationInfo{
		RequestedURL:  url,
		FinalURL:      url,
		PageTitle:     result.PageContext.Title,
		LoadTime:      time.Since(start),
		RedirectCount: int(atomic.LoadInt64(&redirectCount)),
		Timestamp:     start,
		Success:       true,
	}
	if fr != nil {
		nav.FinalURL = fr.URL
		nav.StatusCode = fr.Status
		nav.ContentType = fr.MimeType
	}
	result.Navigation = nav
	return result, nil
}

// Click parses ref, arms a tolerant navigation-completion waiter, dispatches
// the click, then awaits the waiter (spec.md §4.7).
func (r *Router) Click(ctx context.Context, role, ref string) error {
	idCtx, err := r.identities.GetOrCreate(ctx, role)
	if err != nil {
		return err
	}
	idCtx.Touch()

	entry, err := ParseRef(idCtx, ref)
	if err != nil {
		return err
	}

	navDone := r.armNavigationWaiter(ctx, idCtx)

	_, clickErr := bridge.CallMethod(ctx, idCtx.Injector, entry.FrameID, func(h bridge.Helper) (struct{}, error) {
		return struct{}{}, h.Click(ctx, entry.LocalRef)
	})

	<-navDone

	return clickErr
}

// armNavigationWaiter returns a channel that closes once either a
// navigation completes, the short timeout elapses (treated as "no
// navigation happened"), or ctx is done. It never itself returns an error
// to the caller — spec.md §4.7 requires its errors be swallowed so a
// dispatch failure still lets the waiter be awaited without leaking it.
func (r *Router) armNavigationWaiter(ctx context.Context, idCtx *identity.Context) <-chan struct{} {
	done := make(chan struct{})
	waitCtx, cancel := context.WithTimeout(ctx, navigationWaitTimeout)
	evCh := make(chan cdptransport.Event, 4)
	idCtx.Session.On(waitCtx, []string{"Page.frameStoppedLoading"}, evCh)

	go func() {
		defer cancel()
		defer close(done)
		select {
		case <-evCh:
		case <-waitCtx.Done():
		}
	}()
	return done
}

// Type parses ref and dispatches type(localRef, text) into the target
// frame.
func (r *Router) Type(ctx context.Context, role, ref, text string) error {
	idCtx, err := r.identities.GetOrCreate(ctx, role)
	if err != nil {
		return err
	}
	idCtx.Touch()

	entry, err := ParseRef(idCtx, ref)
	if err != nil {
		return err
	}

	_, err = bridge.CallMethod(ctx, idCtx.Injector, entry.FrameID, func(h bridge.Helper) (struct{}, error) {
		return struct{}{}, h.Type(ctx, entry.LocalRef, text)
	})
	return err
}

// ResolveContainer is the get_ancestors pass-through.
func (r *Router) ResolveContainer(ctx context.Context, role, ref string) (interface{}, error) {
	idCtx, err := r.identities.GetOrCreate(ctx, role)
	if err != nil {
		return nil, err
	}
	idCtx.Touch()
	entry, err := ParseRef(idCtx, ref)
	if err != nil {
		return nil, err
	}
	return bridge.CallMethod(ctx, idCtx.Injector, entry.FrameID, func(h bridge.Helper) (interface{}, error) {
		return h.ResolveContainer(ctx, entry.LocalRef)
	})
}

// InspectPattern is the get_siblings pass-through.
func (r *Router) InspectPattern(ctx context.Context, role, ref string, level int) (interface{}, error) {
	idCtx, err := r.identities.GetOrCreate(ctx, role)
	if err != nil {
		return nil, err
	}
	idCtx.Touch()
	entry, err := ParseRef(idCtx, ref)
	if err != nil {
		return nil, err
	}
	return bridge.CallMethod(ctx, idCtx.Injector, entry.FrameID, func(h bridge.Helper) (interface{}, error) {
		return h.InspectPattern(ctx, entry.LocalRef, level)
	})
}

// ExtractAnchors is the get_descendants pass-through.
func (r *Router) ExtractAnchors(ctx context.Context, role, ref string, level int) (interface{}, error) {
	idCtx, err := r.identities.GetOrCreate(ctx, role)
	if err != nil {
		return nil, err
	}
	idCtx.Touch()
	entry, err := ParseRef(idCtx, ref)
	if err != nil {
		return nil, err
	}
	return bridge.CallMethod(ctx, idCtx.Injector, entry.FrameID, func(h bridge.Helper) (interface{}, error) {
		return h.ExtractAnchors(ctx, entry.LocalRef, level)
	})
}

// Inspect is browser_inspect: it returns full element info rather than an
// opaque structural payload.
func (r *Router) Inspect(ctx context.Context, role, ref string) (bridge.ElementInfo, error) {
	idCtx, err := r.identities.GetOrCreate(ctx, role)
	if err != nil {
		return bridge.ElementInfo{}, err
	}
	idCtx.Touch()
	entry, err := ParseRef(idCtx, ref)
	if err != nil {
		return bridge.ElementInfo{}, err
	}
	return bridge.CallMethod(ctx, idCtx.Injector, entry.FrameID, func(h bridge.Helper) (bridge.ElementInfo, error) {
		return h.ElementInfo(ctx, entry.LocalRef)
	})
}

// Snapshot composes a fresh snapshot for role without navigation metadata
// (spec.md §4.7, standalone snapshot).
func (r *Router) Snapshot(ctx context.Context, role string) (*Snapshot, error) {
	idCtx, err := r.identities.GetOrCreate(ctx, role)
	if err != nil {
		return nil, err
	}
	idCtx.Touch()
	return r.composeSnapshot(ctx, idCtx)
}

func (r *Router) composeSnapshot(ctx context.Context, idCtx *identity.Context) (*Snapshot, error) {
	result, err := snapshot.Compose(ctx, idCtx.Session, idCtx.Injector, idCtx.MainFrameID, idCtx.Failures, r.log)
	if err != nil {
		return nil, err
	}
	idCtx.RefIndex = result.RefIndex

	pc, err := pageContext(ctx, idCtx)
	if err != nil {
		r.log.Warnf("Router:composeSnapshot", "role:%s err:%v", idCtx.Role, err)
		pc = &PageContext{}
	}

	warnings := failure.BuildWarnings(idCtx.Failures, idCtx.AuthConfigured())

	return &Snapshot{
		Text:         result.Text,
		ElementCount: result.ElementCount,
		PageContext:  pc,
		Warnings:     warnings,
	}, nil
}

func pageContext(ctx context.Context, idCtx *identity.Context) (*PageContext, error) {
	tree, err := cdppage.GetFrameTree().Do(cdp.WithExecutor(ctx, idCtx.Session))
	if err != nil {
		return nil, err
	}
	pc := &PageContext{URL: tree.Frame.URL}
	cur, entries, err := cdppage.GetNavigationHistory().Do(cdp.WithExecutor(ctx, idCtx.Session))
	if err == nil && cur >= 0 && int(cur) < len(entries) {
		pc.Title = entries[cur].Title
	}
	return pc, nil
}
