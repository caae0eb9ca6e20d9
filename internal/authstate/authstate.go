// Package authstate loads a persona's cookies and per-origin local-storage
// entries into a live page from an auth state file (spec.md §6).
package authstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/verdexhq/agentbridge/internal/cdptransport"
)

// Cookie mirrors one entry of the auth state file's `cookies` array.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// LocalStorageEntry is one key/value pair to seed into an origin's
// localStorage.
type LocalStorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Origin groups the local-storage entries that belong to one origin.
type Origin struct {
	Origin       string              `json:"origin"`
	LocalStorage []LocalStorageEntry `json:"localStorage"`
}

// State is the parsed contents of an auth state file.
type State struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Load reads and parses the auth state file at path.
func Load(path string) (*State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("authstate: read %s: %w", path, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("authstate: parse %s: %w", path, err)
	}
	return &st, nil
}

// sameSiteValue maps the file's string form onto the protocol enum, per the
// cookie fields the auth state file is allowed to carry (spec.md §6).
func sameSiteValue(s string) network.CookieSameSite {
	switch s {
	case "Strict":
		return network.CookieSameSiteStrict
	case "Lax":
		return network.CookieSameSiteLax
	case "None":
		return network.CookieSameSiteNone
	default:
		return ""
	}
}

// Hydrate sets cookies first, then for each origin navigates the page to
// that origin and writes its local-storage entries, per spec.md §6
// ("Hydration: set cookies first; for each origin, navigate to that origin
// and write its local-storage entries").
func Hydrate(ctx context.Context, sess *cdptransport.Session, st *State) error {
	if len(st.Cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(st.Cookies))
		for _, c := range st.Cookies {
			p := &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
			if c.Expires > 0 {
				p.Expires = network.TimeSinceEpoch(c.Expires)
			}
			if ss := sameSiteValue(c.SameSite); ss != "" {
				p.SameSite = ss
			}
			params = append(params, p)
		}
		if err := network.SetCookies(params).Do(cdp.WithExecutor(ctx, sess)); err != nil {
			return fmt.Errorf("authstate: set cookies: %w", err)
		}
	}

	for _, o := range st.Origins {
		if len(o.LocalStorage) == 0 {
			continue
		}
		if err := navigateAndSeed(ctx, sess, o); err != nil {
			return fmt.Errorf("authstate: hydrate origin %s: %w", o.Origin, err)
		}
	}
	return nil
}

func navigateAndSeed(ctx context.Context, sess *cdptransport.Session, o Origin) error {
	_, _, _, err := page.Navigate(o.Origin).Do(cdp.WithExecutor(ctx, sess))
	if err != nil {
		return fmt.Errorf("navigate to origin: %w", err)
	}

	script := "(() => { const entries = " + marshalEntries(o.LocalStorage) +
		"; for (const e of entries) { window.localStorage.setItem(e.name, e.value); } })()"

	if _, excp, err := runtime.Evaluate(script).Do(cdp.WithExecutor(ctx, sess)); err != nil {
		return fmt.Errorf("seed local storage: %w", err)
	} else if excp != nil {
		return fmt.Errorf("seed local storage threw: %s", excp.Text)
	}
	return nil
}

func marshalEntries(entries []LocalStorageEntry) string {
	if len(entries) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
