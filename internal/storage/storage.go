// Package storage persists snapshots of the plugin registry so a restarted
// process can restore which plugins were enabled. The manager never calls
// storage itself; the daemon saves on lifecycle events and restores on boot.
package storage

import (
	"context"
	"errors"
	"time"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/pkg/plugin"
)

// Record is the serialisable projection of one registry entry.
type Record struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Status       plugin.Status       `json:"status"`
	InstalledAt  time.Time           `json:"installedAt"`
	EnabledAt    *time.Time          `json:"enabledAt,omitempty"`
	Error        string              `json:"error,omitempty"`
	Dependencies []plugin.Dependency `json:"dependencies,omitempty"`
}

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	SavedAt time.Time `json:"savedAt"`
	Plugins []Record  `json:"plugins"`
}

// Get returns the record of id.
func (s Snapshot) Get(id string) (Record, bool) {
	for _, r := range s.Plugins {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Store persists snapshots.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns ErrNotFound when nothing has been saved.
	Load(ctx context.Context) (Snapshot, error)
	Clear(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
	Close() error
}

// ErrNotFound is returned by Load when no snapshot exists.
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "no registry snapshot stored")

// FromRegistry projects reg into a snapshot stamped with now.
func FromRegistry(reg plugin.Registry, now time.Time) Snapshot {
	states := reg.All()
	snap := Snapshot{SavedAt: now.UTC(), Plugins: make([]Record, 0, len(states))}
	for _, s := range states {
		rec := Record{
			ID:           s.ID(),
			Name:         s.Plugin.Metadata.Name,
			Version:      s.Plugin.Version(),
			Status:       s.Status,
			InstalledAt:  s.InstalledAt.UTC(),
			Dependencies: append([]plugin.Dependency(nil), s.Plugin.Dependencies...),
		}
		if !s.EnabledAt.IsZero() {
			at := s.EnabledAt.UTC()
			rec.EnabledAt = &at
		}
		if s.Err != nil {
			rec.Error = s.Err.Error()
		}
		snap.Plugins = append(snap.Plugins, rec)
	}
	return snap
}

// Lifecycle is the part of *plugin.Manager Restore drives.
type Lifecycle interface {
	Has(id string) bool
	LoadOrder() []*plugin.Plugin
	Enable(ctx context.Context, id string) error
}

// Restore enables, in dependency order, every installed plugin that snap
// records as enabled. Plugins missing from the manager are skipped and
// returned so the caller can report them.
func Restore(ctx context.Context, m Lifecycle, snap Snapshot) (missing []string, err error) {
	wanted := make(map[string]bool)
	for _, r := range snap.Plugins {
		if r.Status != plugin.StatusEnabled {
			continue
		}
		if !m.Has(r.ID) {
			missing = append(missing, r.ID)
			continue
		}
		wanted[r.ID] = true
	}
	var errs []error
	for _, p := range m.LoadOrder() {
		if !wanted[p.ID()] {
			continue
		}
		if enableErr := m.Enable(ctx, p.ID()); enableErr != nil {
			errs = append(errs, enableErr)
		}
	}
	if len(errs) > 0 {
		return missing, xerrors.Wrap(xerrors.CodeInitializationFailure, errors.Join(errs...), "restore enabled plugins")
	}
	return missing, nil
}

func storageError(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
