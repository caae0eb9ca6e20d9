// Package transport is the thin agent-facing tool-dispatch shell over the
// core (spec.md §1 Out of scope: "The tool-dispatch/transport layer ...
// it is a thin shell over the core"). It maps the named operations of
// spec.md §6 onto router.Router calls and renders results as plain
// request/response payloads.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/verdexhq/agentbridge/internal/identity"
	"github.com/verdexhq/agentbridge/internal/router"
)

// Tool is one agent-facing operation (spec.md §6, "a request/response tool
// interface with the following operations").
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Execute     func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Server wires the named operations onto a Router and an Identity Manager.
type Server struct {
	router     *router.Router
	identities *identity.Manager
}

// NewServer builds the agent-facing surface over router and identities.
func NewServer(r *router.Router, ids *identity.Manager) *Server {
	return &Server{router: r, identities: ids}
}

// Tools returns every operation named in spec.md §6, in the order listed
// there.
func (s *Server) Tools() []Tool {
	return []Tool{
		s.browserInitialize(),
		s.browserNavigate(),
		s.browserSnapshot(),
		s.browserClick(),
		s.browserType(),
		s.browserInspect(),
		s.waitForBrowser(),
		s.browserClose(),
		s.getAncestors(),
		s.getSiblings(),
		s.getDescendants(),
		s.getCurrentRole(),
		s.listCurrentRoles(),
		s.selectRole(),
	}
}

func (s *Server) role(args map[string]interface{}) string {
	if v, ok := args["role"].(string); ok && v != "" {
		return v
	}
	if cur := s.identities.Current(); cur != "" {
		return cur
	}
	return identity.DefaultRole
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("transport: missing required argument %q", key)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("transport: argument %q must be a string", key)
	}
	return str, nil
}

func intArg(args map[string]interface{}, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func (s *Server) browserInitialize() Tool {
	return Tool{
		Name:        "browser_initialize",
		Description: "Ensure a role's browsing context exists and is selected: the given role, else the current one, else the default role.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			role := s.role(args)
			if err := s.identities.Select(ctx, role); err != nil {
				return nil, err
			}
			return map[string]interface{}{"role": role}, nil
		},
	}
}

func (s *Server) browserNavigate() Tool {
	return Tool{
		Name:        "browser_navigate",
		Description: "Navigate the current role's page to a URL and return the resulting snapshot.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"url": map[string]interface{}{"type": "string"}},
			"required":   []string{"url"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			url, err := stringArg(args, "url")
			if err != nil {
				return nil, err
			}
			return s.router.Navigate(ctx, s.role(args), url)
		},
	}
}

func (s *Server) browserSnapshot() Tool {
	return Tool{
		Name:        "browser_snapshot",
		Description: "Take a fresh accessibility-tree snapshot of the current role's page.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return s.router.Snapshot(ctx, s.role(args))
		},
	}
}

func (s *Server) browserClick() Tool {
	return Tool{
		Name:        "browser_click",
		Description: "Click the element named by ref in the most recent snapshot.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"ref": map[string]interface{}{"type": "string"}},
			"required":   []string{"ref"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ref, err := stringArg(args, "ref")
			if err != nil {
				return nil, err
			}
			if err := s.router.Click(ctx, s.role(args), ref); err != nil {
				return nil, err
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}
}

func (s *Server) browserType() Tool {
	return Tool{
		Name:        "browser_type",
		Description: "Type text into the element named by ref in the most recent snapshot.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ref":  map[string]interface{}{"type": "string"},
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []string{"ref", "text"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ref, err := stringArg(args, "ref")
			if err != nil {
				return nil, err
			}
			text, err := stringArg(args, "text")
			if err != nil {
				return nil, err
			}
			if err := s.router.Type(ctx, s.role(args), ref, text); err != nil {
				return nil, err
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}
}

func (s *Server) browserInspect() Tool {
	return Tool{
		Name:        "browser_inspect",
		Description: "Return role, name, tag, text, visibility, bounding rectangle, selector, and attributes for ref.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"ref": map[string]interface{}{"type": "string"}},
			"required":   []string{"ref"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ref, err := stringArg(args, "ref")
			if err != nil {
				return nil, err
			}
			return s.router.Inspect(ctx, s.role(args), ref)
		},
	}
}

func (s *Server) waitForBrowser() Tool {
	return Tool{
		Name:        "wait_for_browser",
		Description: "Suspend for the given number of milliseconds.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"milliseconds": map[string]interface{}{"type": "integer"}},
			"required":   []string{"milliseconds"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ms := intArg(args, "milliseconds", 0)
			timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}
}

func (s *Server) browserClose() Tool {
	return Tool{
		Name:        "browser_close",
		Description: "Tear down every persona's browsing context.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			err := s.identities.Close(ctx)
			return map[string]interface{}{"ok": true}, err
		},
	}
}

func (s *Server) getAncestors() Tool {
	return Tool{
		Name:        "get_ancestors",
		Description: "Resolve the structural container for ref (resolve_container).",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"ref": map[string]interface{}{"type": "string"}},
			"required":   []string{"ref"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ref, err := stringArg(args, "ref")
			if err != nil {
				return nil, err
			}
			return s.router.ResolveContainer(ctx, s.role(args), ref)
		},
	}
}

func (s *Server) getSiblings() Tool {
	return Tool{
		Name:        "get_siblings",
		Description: "Inspect the structural pattern around ref at ancestorLevel (inspect_pattern).",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ref":           map[string]interface{}{"type": "string"},
				"ancestorLevel": map[string]interface{}{"type": "integer"},
			},
			"required": []string{"ref"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ref, err := stringArg(args, "ref")
			if err != nil {
				return nil, err
			}
			level := intArg(args, "ancestorLevel", 0)
			return s.router.InspectPattern(ctx, s.role(args), ref, level)
		},
	}
}

func (s *Server) getDescendants() Tool {
	return Tool{
		Name:        "get_descendants",
		Description: "Extract anchor descendants of ref at ancestorLevel (extract_anchors).",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ref":           map[string]interface{}{"type": "string"},
				"ancestorLevel": map[string]interface{}{"type": "integer"},
			},
			"required": []string{"ref"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ref, err := stringArg(args, "ref")
			if err != nil {
				return nil, err
			}
			level := intArg(args, "ancestorLevel", 0)
			return s.router.ExtractAnchors(ctx, s.role(args), ref, level)
		},
	}
}

func (s *Server) getCurrentRole() Tool {
	return Tool{
		Name:        "get_current_role",
		Description: "Return the currently selected persona role.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"role": s.identities.Current()}, nil
		},
	}
}

func (s *Server) listCurrentRoles() Tool {
	return Tool{
		Name:        "list_current_roles",
		Description: "List every role named in the identities configuration.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"roles": s.identities.Roles()}, nil
		},
	}
}

func (s *Server) selectRole() Tool {
	return Tool{
		Name:        "select_role",
		Description: "Switch the current persona role, bootstrapping its defaultUrl on first selection.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"role": map[string]interface{}{"type": "string"}},
			"required":   []string{"role"},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			role, err := stringArg(args, "role")
			if err != nil {
				return nil, err
			}
			if err := s.identities.Select(ctx, role); err != nil {
				return nil, err
			}
			return map[string]interface{}{"role": role}, nil
		},
	}
}
