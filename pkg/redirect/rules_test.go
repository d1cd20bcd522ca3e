package redirect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrygold/usher/pkg/identity"
)

func TestLoadRules(t *testing.T) {
	t.Run("loads a full rules file", func(t *testing.T) {
		path := writeRules(t, `
site_root: /home
vendor_root: /partners
admin_root: /backoffice
studio_root: /planner
blocked_prefixes:
  - /backoffice
  - /auth
`)
		rules, err := LoadRules(path)
		require.NoError(t, err)
		assert.Equal(t, "/home", rules.SiteRoot)
		assert.Equal(t, "/partners", rules.VendorRoot)
		assert.Equal(t, []string{"/backoffice", "/auth"}, rules.BlockedPrefixes)
	})

	t.Run("omitted fields keep their defaults", func(t *testing.T) {
		path := writeRules(t, `vendor_root: /partners`)
		rules, err := LoadRules(path)
		require.NoError(t, err)
		assert.Equal(t, "/partners", rules.VendorRoot)
		assert.Equal(t, "/", rules.SiteRoot)
		assert.Equal(t, DefaultRules().BlockedPrefixes, rules.BlockedPrefixes)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml errors", func(t *testing.T) {
		path := writeRules(t, `site_root: [broken`)
		_, err := LoadRules(path)
		assert.Error(t, err)
	})
}

func TestWatcherReload(t *testing.T) {
	path := writeRules(t, `vendor_root: /partners`)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	resolver := NewResolver(w)
	assert.Equal(t, "/partners", resolver.Resolve(identity.RoleVendor, "", HintNone))

	require.NoError(t, os.WriteFile(path, []byte(`vendor_root: /sellers`), 0644))

	assert.Eventually(t, func() bool {
		return resolver.Resolve(identity.RoleVendor, "", HintNone) == "/sellers"
	}, 3*time.Second, 20*time.Millisecond, "rules should reload after the file changes")
}

func TestWatcherKeepsRulesAfterBadReload(t *testing.T) {
	path := writeRules(t, `vendor_root: /partners`)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`vendor_root: [broken`), 0644))

	// The watcher may take a moment to observe the write; the previous rule
	// set must remain served throughout.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "/partners", w.Rules().VendorRoot)
}

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "redirects.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
