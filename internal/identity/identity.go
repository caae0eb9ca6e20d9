// Package identity implements the Identity/Context Manager (C4): lazy,
// isolated browsing contexts per persona, authentication-state hydration,
// and ownership-ordered teardown.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"github.com/verdexhq/agentbridge/internal/apierr"
	"github.com/verdexhq/agentbridge/internal/authstate"
	"github.com/verdexhq/agentbridge/internal/bridge"
	"github.com/verdexhq/agentbridge/internal/cdplog"
	"github.com/verdexhq/agentbridge/internal/cdptransport"
	"github.com/verdexhq/agentbridge/internal/config"
	"github.com/verdexhq/agentbridge/internal/failure"
	"github.com/verdexhq/agentbridge/internal/refs"
)

// DefaultRole is the reserved role name that reuses the browser's default
// partition and its first page, rather than a fresh isolated one
// (spec.md §4.4, Context creation step 1).
const DefaultRole = "default"

// state is a context's place in the lifecycle named by spec.md §3:
// "a context is either pending ... ready, or poisoned".
type state int

const (
	statePending state = iota
	stateReady
	statePoisoned
)

// Context is one persona's long-lived record (spec.md §3, Identity Context).
type Context struct {
	Role string

	BrowsingContextID target.BrowserContextID
	TargetID          target.ID
	Session           *cdptransport.Session
	Injector          *bridge.Injector
	MainFrameID       cdp.FrameID

	DefaultURL string

	CreatedAt    time.Time
	LastUsedAt   time.Time
	HasNavigated bool

	LastErrorSnapshot string

	RefIndex refs.Index
	Failures *failure.Log

	authConfigured bool

	mu    sync.Mutex
	state state
}

// Touch updates LastUsedAt; called by the router on every dispatched action.
func (c *Context) Touch() {
	c.mu.Lock()
	c.LastUsedAt = time.Now()
	c.mu.Unlock()
}

// AuthConfigured reports whether this context's role named an authPath,
// regardless of whether hydration succeeded — passed to BuildWarnings, which
// reports "unauthenticated" when no authPath is configured as well as when a
// configured one failed to load.
func (c *Context) AuthConfigured() bool { return c.authConfigured }

// NavigateFunc performs the defaultUrl bootstrap navigation for a freshly
// selected role; it is supplied by the router (C7) to avoid a dependency
// cycle between identity and router.
type NavigateFunc func(ctx context.Context, idCtx *Context, url string) error

// Manager is the Identity/Context Manager (C4).
type Manager struct {
	conn      *cdptransport.Connection
	log       *cdplog.Logger
	worldBase string
	factory   string
	navigate  NavigateFunc

	mu       sync.Mutex
	configs  map[string]config.RoleConfig
	contexts map[string]*Context
	current  string

	sf singleflight.Group
}

// New builds a Manager bound to one debugger connection. worldBase is
// salted per role to build each context's isolated-world name
// (spec.md §4.2); factory is the bridge factory source (C2, external).
func New(conn *cdptransport.Connection, log *cdplog.Logger, worldBase, factory string, nav NavigateFunc) *Manager {
	return &Manager{
		conn:      conn,
		log:       log,
		worldBase: worldBase,
		factory:   factory,
		navigate:  nav,
		configs:   make(map[string]config.RoleConfig),
		contexts:  make(map[string]*Context),
	}
}

// SetIdentitiesConfiguration installs the per-role configuration
// (spec.md §4.4).
func (m *Manager) SetIdentitiesConfiguration(cfg map[string]config.RoleConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = cfg
}

// SetNavigateFunc wires the defaultUrl bootstrap navigation callback. It
// exists separately from New because the callback is naturally owned by the
// router, which is itself constructed from this Manager — setting it after
// both exist avoids a constructor-time dependency cycle.
func (m *Manager) SetNavigateFunc(nav NavigateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navigate = nav
}

// GetOrCreate returns the ready Context for role, creating it if absent.
// Memoization is by in-flight *task*, not value — singleflight.Group does
// not retain a completed call, so a creation failure naturally lets the
// next request restart from Absent instead of observing a poisoned Ready
// (spec.md §4.4, §9 "Pending-task memoization").
func (m *Manager) GetOrCreate(ctx context.Context, role string) (*Context, error) {
	m.mu.Lock()
	if c, ok := m.contexts[role]; ok {
		m.mu.Unlock()
		c.mu.Lock()
		st := c.state
		c.mu.Unlock()
		if st == stateReady {
			return c, nil
		}
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do(role, func() (interface{}, error) {
		m.mu.Lock()
		if c, ok := m.contexts[role]; ok {
			c.mu.Lock()
			st := c.state
			c.mu.Unlock()
			if st == stateReady {
				m.mu.Unlock()
				return c, nil
			}
		}
		roleCfg := m.configs[role]
		m.mu.Unlock()

		c, err := m.create(ctx, role, roleCfg)
		if err != nil {
			m.mu.Lock()
			delete(m.contexts, role)
			m.mu.Unlock()
			return nil, err
		}

		m.mu.Lock()
		m.contexts[role] = c
		m.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Context), nil
}

// create performs the steps of spec.md §4.4 "Context creation".
func (m *Manager) create(ctx context.Context, role string, roleCfg config.RoleConfig) (*Context, error) {
	c := &Context{
		Role:       role,
		DefaultURL: roleCfg.DefaultURL,
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
		Failures:   failure.New(),
		state:      statePending,
	}

	targetID, browserContextID, err := m.openTarget(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("identity: open target for role %q: %w", role, err)
	}
	c.TargetID = targetID
	c.BrowsingContextID = browserContextID

	sess, err := m.attach(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("identity: attach to target for role %q: %w", role, err)
	}
	c.Session = sess

	if roleCfg.HasAuthPath() {
		c.authConfigured = true
		if err := m.hydrateAuth(ctx, sess, roleCfg.AuthPath); err != nil {
			c.Failures.RecordAuth(err)
			if roleCfg.RequiresAuth() {
				m.teardown(context.Background(), c)
				return nil, apierr.NewAuthentication(role, err)
			}
			m.log.Warnf("Identity:auth", "role:%s err:%v (continuing unauthenticated)", role, err)
		}
	}

	frameTree, err := page.GetFrameTree().Do(cdp.WithExecutor(ctx, sess))
	if err != nil {
		m.teardown(context.Background(), c)
		return nil, fmt.Errorf("identity: get frame tree for role %q: %w", role, err)
	}
	c.MainFrameID = frameTree.Frame.ID

	worldName := fmt.Sprintf("%s__%s", m.worldBase, role)
	c.Injector = bridge.New(sess, worldName, m.factory, m.log)
	if err := c.Injector.SetupAutoInjection(ctx, c.MainFrameID); err != nil {
		m.teardown(context.Background(), c)
		return nil, fmt.Errorf("identity: setup auto injection for role %q: %w", role, err)
	}

	c.mu.Lock()
	c.state = stateReady
	c.mu.Unlock()
	return c, nil
}

// openTarget implements spec.md §4.4 step 1: the default role reuses the
// browser's default partition and first page; every other role gets a
// fresh isolated partition and a new page.
func (m *Manager) openTarget(ctx context.Context, role string) (target.ID, target.BrowserContextID, error) {
	if role == DefaultRole {
		targets, err := target.GetTargets().Do(cdp.WithExecutor(ctx, m.conn.Browser()))
		if err != nil {
			return "", "", fmt.Errorf("list targets: %w", err)
		}
		for _, info := range targets {
			if info.Type == "page" {
				return info.TargetID, info.BrowserContextID, nil
			}
		}
		tid, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(ctx, m.conn.Browser()))
		if err != nil {
			return "", "", fmt.Errorf("create default page: %w", err)
		}
		return tid, "", nil
	}

	bctx, err := target.CreateBrowserContext().Do(cdp.WithExecutor(ctx, m.conn.Browser()))
	if err != nil {
		return "", "", fmt.Errorf("create browser context: %w", err)
	}
	tid, err := target.CreateTarget("about:blank").
		WithBrowserContextID(bctx).
		Do(cdp.WithExecutor(ctx, m.conn.Browser()))
	if err != nil {
		return "", "", fmt.Errorf("create target: %w", err)
	}
	return tid, bctx, nil
}

func (m *Manager) attach(ctx context.Context, targetID target.ID) (*cdptransport.Session, error) {
	sessionID, err := target.AttachToTarget(targetID).WithFlatten(true).Do(cdp.WithExecutor(ctx, m.conn.Browser()))
	if err != nil {
		return nil, fmt.Errorf("attach to target: %w", err)
	}
	return m.conn.Session(sessionID), nil
}

func (m *Manager) hydrateAuth(ctx context.Context, sess *cdptransport.Session, path string) error {
	st, err := authstate.Load(path)
	if err != nil {
		return err
	}
	return authstate.Hydrate(ctx, sess, st)
}

// Select switches the "current" role pointer, rolling back to the previous
// role on failure and, while the context has not navigated yet, navigating
// to defaultUrl (spec.md §4.4). The page's current URL is not checked: a
// page that is not blank but has never been navigated by the router is
// still sent to defaultUrl.
func (m *Manager) Select(ctx context.Context, role string) error {
	c, err := m.GetOrCreate(ctx, role)
	if err != nil {
		return err
	}

	m.mu.Lock()
	previous := m.current
	m.current = role
	m.mu.Unlock()

	needsBootstrap := !c.HasNavigated && c.DefaultURL != ""

	m.mu.Lock()
	nav := m.navigate
	m.mu.Unlock()

	if needsBootstrap && nav != nil {
		if err := nav(ctx, c, c.DefaultURL); err != nil {
			m.mu.Lock()
			m.current = previous
			m.mu.Unlock()
			return fmt.Errorf("identity: bootstrap navigation for role %q: %w", role, err)
		}
	}
	return nil
}

// Current returns the currently selected role, or "" if none has been
// selected yet.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Roles lists every role that has a configuration entry, independent of
// whether a context for it has been created yet.
func (m *Manager) Roles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.configs))
	for r := range m.configs {
		out = append(out, r)
	}
	return out
}

// Close disposes every context in reverse ownership order (bridge →
// session → page → partition); each step's failure is recorded in the
// context's Failure Log and does not abort the remaining steps or contexts.
// Once every context has been torn down, the failures are returned together
// as one aggregated error (spec.md §4.4, §6 Exit behavior).
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	contexts := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		contexts = append(contexts, c)
	}
	m.contexts = make(map[string]*Context)
	m.current = ""
	m.mu.Unlock()

	var result *multierror.Error
	for _, c := range contexts {
		if err := m.teardown(ctx, c); err != nil {
			result = multierror.Append(result, fmt.Errorf("role %q: %w", c.Role, err))
		}
	}
	return result.ErrorOrNil()
}

// teardown disposes one context's resources in ownership order, recording
// each step's failure and carrying on with the next step; the recorded
// failures are returned aggregated once all steps have run.
func (m *Manager) teardown(ctx context.Context, c *Context) error {
	c.mu.Lock()
	c.state = statePoisoned
	c.mu.Unlock()

	var result *multierror.Error

	if c.Injector != nil {
		c.Injector.Dispose()
	}

	if c.Session != nil {
		if err := target.CloseTarget(c.TargetID).Do(cdp.WithExecutor(ctx, m.conn.Browser())); err != nil {
			c.Failures.RecordCleanup("close-target", err)
			result = multierror.Append(result, err)
		}
	}

	if c.BrowsingContextID != "" {
		if err := target.DisposeBrowserContext(c.BrowsingContextID).Do(cdp.WithExecutor(ctx, m.conn.Browser())); err != nil {
			c.Failures.RecordCleanup("dispose-browser-context", err)
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
