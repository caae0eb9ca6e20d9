package authstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesCookiesAndOrigins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"cookies": [
			{"name": "session", "value": "abc", "domain": "example.com", "path": "/", "httpOnly": true, "secure": true, "sameSite": "Lax"}
		],
		"origins": [
			{"origin": "https://example.com", "localStorage": [{"name": "token", "value": "xyz"}]}
		]
	}`), 0o600))

	st, err := Load(path)
	require.NoError(t, err)
	require.Len(t, st.Cookies, 1)
	assert.Equal(t, "session", st.Cookies[0].Name)
	assert.True(t, st.Cookies[0].HTTPOnly)
	require.Len(t, st.Origins, 1)
	assert.Equal(t, "https://example.com", st.Origins[0].Origin)
	assert.Equal(t, "token", st.Origins[0].LocalStorage[0].Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSameSiteValue(t *testing.T) {
	assert.Equal(t, network.CookieSameSiteStrict, sameSiteValue("Strict"))
	assert.Equal(t, network.CookieSameSiteLax, sameSiteValue("Lax"))
	assert.Equal(t, network.CookieSameSiteNone, sameSiteValue("None"))
	assert.Equal(t, network.CookieSameSite(""), sameSiteValue(""))
	assert.Equal(t, network.CookieSameSite(""), sameSiteValue("garbage"))
}

func TestMarshalEntries(t *testing.T) {
	got := marshalEntries([]LocalStorageEntry{{Name: "a", Value: "1"}})
	assert.JSONEq(t, `[{"name":"a","value":"1"}]`, got)

	assert.Equal(t, "[]", marshalEntries(nil))
}
