package redirect

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/marrygold/usher/pkg/observability"
)

// Rules defines the destinations the resolver chooses between and the
// path prefixes it refuses to bounce a caller back into.
type Rules struct {
	SiteRoot   string `yaml:"site_root"`
	VendorRoot string `yaml:"vendor_root"`
	AdminRoot  string `yaml:"admin_root"`
	StudioRoot string `yaml:"studio_root"`

	// BlockedPrefixes are sensitive or circular destinations: the admin
	// area and the auth flow pages a caller has just completed.
	BlockedPrefixes []string `yaml:"blocked_prefixes"`
}

// DefaultRules returns the compiled-in destinations for the marketplace's
// application surfaces.
func DefaultRules() Rules {
	return Rules{
		SiteRoot:   "/",
		VendorRoot: "/vendor",
		AdminRoot:  "/admin",
		StudioRoot: "/studio",
		BlockedPrefixes: []string{
			"/admin",
			"/login",
			"/signup",
			"/sign-in",
			"/sign-up",
			"/verify-email",
		},
	}
}

// LoadRules reads a rules file, filling omitted fields from the defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read redirect rules: %w", err)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse redirect rules: %w", err)
	}
	return rules, nil
}

// RulesSource yields the current rule set.
type RulesSource interface {
	Rules() Rules
}

// Static is a fixed rule set.
type Static Rules

// Rules implements RulesSource.
func (s Static) Rules() Rules { return Rules(s) }

// Watcher serves a rules file and reloads it when it changes on disk. A
// reload that fails to parse keeps the previous rule set.
type Watcher struct {
	path    string
	logger  *observability.Logger
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	rules Rules

	done chan struct{}
}

// NewWatcher loads the rules file and begins watching it.
func NewWatcher(path string, logger *observability.Logger) (*Watcher, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules watcher: %w", err)
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch redirect rules: %w", err)
	}

	w := &Watcher{
		path:    path,
		logger:  logger,
		watcher: fsWatcher,
		rules:   rules,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Rules returns the current rule set.
func (w *Watcher) Rules() Rules {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rules
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rules, err := LoadRules(w.path)
			if err != nil {
				w.logger.WithError(err).Warn("keeping previous redirect rules after failed reload")
				continue
			}
			w.mu.Lock()
			w.rules = rules
			w.mu.Unlock()
			w.logger.Info("reloaded redirect rules")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("redirect rules watcher error")
		case <-w.done:
			return
		}
	}
}
