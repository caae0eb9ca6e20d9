package identity

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/verdexhq/agentbridge/internal/config"
)

func TestSetIdentitiesConfigurationAndRoles(t *testing.T) {
	m := New(nil, nil, "world", "", nil)
	m.SetIdentitiesConfiguration(map[string]config.RoleConfig{
		DefaultRole: {},
		"admin":     {AuthPath: "./admin.json"},
	})

	roles := m.Roles()
	sort.Strings(roles)
	assert.Equal(t, []string{"admin", DefaultRole}, roles)
}

func TestCurrentEmptyUntilSelected(t *testing.T) {
	m := New(nil, nil, "world", "", nil)
	assert.Equal(t, "", m.Current())
}

func TestContextTouchUpdatesLastUsedAt(t *testing.T) {
	c := &Context{}
	before := c.LastUsedAt
	c.Touch()
	assert.True(t, c.LastUsedAt.After(before))
}

func TestAuthConfiguredDefaultsFalse(t *testing.T) {
	c := &Context{}
	assert.False(t, c.AuthConfigured())
}

func TestSetNavigateFuncReplacesCallback(t *testing.T) {
	m := New(nil, nil, "world", "", nil)
	called := false
	m.SetNavigateFunc(func(ctx context.Context, idCtx *Context, url string) error {
		called = true
		return nil
	})
	_ = m.navigate(context.Background(), &Context{}, "https://example.com")
	assert.True(t, called)
}
