// Package discovery scans directories for plugin binaries and hands what it
// finds to the plugin manager.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/plugin"
)

// DefaultPatterns is used when no pattern is configured.
var DefaultPatterns = []string{"*.so"}

// Installer is the subset of the plugin manager used by InstallAll.
type Installer interface {
	Has(id string) bool
	Install(ctx context.Context, p *plugin.Plugin) error
}

// Discoverer walks its roots and collects every file matching one of its
// patterns; with AutoLoad set the matches are also loaded. Patterns are
// doublestar globs matched against the path relative to the root with
// forward slashes, and a pattern without a slash matches the base name.
type Discoverer struct {
	Roots    []string
	Patterns []string
	AutoLoad bool
	Loader   plugin.Loader
	Logger   *slog.Logger
}

// Failure records a path that could not be walked or loaded.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Path, f.Err) }

// Result is the outcome of one scan.
type Result struct {
	Paths   []string
	Plugins []*plugin.Plugin
	Errors  []Failure
}

// Err joins the recorded failures.
func (r Result) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for _, f := range r.Errors {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// New builds a Discoverer from the manager's discovery block. A nil loader
// selects the Go plugin loader.
func New(cfg plugin.DiscoveryConfig, loader plugin.Loader) (*Discoverer, error) {
	d := &Discoverer{
		Roots:    append([]string(nil), cfg.Roots...),
		Patterns: append([]string(nil), cfg.Patterns...),
		AutoLoad: cfg.AutoLoad,
		Loader:   loader,
	}
	for _, p := range d.patterns() {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid discovery pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	return d, nil
}

// Discover walks every root and, when AutoLoad is set, loads the matching
// files. Walk and load failures are collected in the result; only
// cancellation aborts the scan.
func (d *Discoverer) Discover(ctx context.Context) (Result, error) {
	log := d.logger()
	loader := d.Loader
	if loader == nil {
		loader = plugin.GoPluginLoader{}
	}

	var res Result
	seen := make(map[string]string)
	for _, root := range d.Roots {
		paths, walkErrs := d.scan(ctx, root)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Errors = append(res.Errors, walkErrs...)

		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Paths = append(res.Paths, p)
			if !d.AutoLoad {
				continue
			}
			loaded, err := loader.Load(p)
			if err != nil {
				log.Warn("plugin load failed", slog.String("path", p), slog.Any("error", err))
				res.Errors = append(res.Errors, Failure{Path: p, Err: err})
				continue
			}
			if prev, dup := seen[loaded.ID()]; dup {
				res.Errors = append(res.Errors, Failure{Path: p, Err: fmt.Errorf("plugin %s already discovered at %s", loaded.ID(), prev)})
				continue
			}
			seen[loaded.ID()] = p
			res.Plugins = append(res.Plugins, loaded)
			log.Debug("plugin discovered", slog.String("path", p), slog.String("plugin_id", loaded.ID()))
		}
	}
	return res, nil
}

// Run discovers plugins and, when AutoLoad is set, loads and installs them.
func (d *Discoverer) Run(ctx context.Context, m Installer) (Result, error) {
	res, err := d.Discover(ctx)
	if err != nil || !d.AutoLoad {
		return res, err
	}
	return res, InstallAll(ctx, m, res)
}

// InstallAll installs the discovered plugins in dependency order. Plugins
// that are already installed are skipped; install errors are joined.
func InstallAll(ctx context.Context, m Installer, res Result) error {
	var errs []error
	for _, p := range plugin.LoadOrder(res.Plugins) {
		if m.Has(p.ID()) {
			continue
		}
		if err := m.Install(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Discoverer) scan(ctx context.Context, root string) ([]string, []Failure) {
	var (
		paths    []string
		failures []Failure
	)
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			failures = append(failures, Failure{Path: p, Err: err})
			if entry != nil && entry.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		if d.matches(filepath.ToSlash(rel)) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		failures = append(failures, Failure{Path: root, Err: err})
	}
	sort.Strings(paths)
	return paths, failures
}

func (d *Discoverer) matches(rel string) bool {
	for _, pattern := range d.patterns() {
		if matchPattern(pattern, rel) {
			return true
		}
	}
	return false
}

func (d *Discoverer) patterns() []string {
	if len(d.Patterns) == 0 {
		return DefaultPatterns
	}
	return d.Patterns
}

func (d *Discoverer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logger.Named("discovery")
}

func matchPattern(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		rel = path.Base(rel)
	}
	matched, _ := doublestar.Match(pattern, rel)
	return matched
}
