// Package metrics tracks per-plugin performance counters: load and init
// timings, error history, call counts and how long a plugin has been enabled.
package metrics

import (
	"os"
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	// ErrorWindow is how recent an error must be to mark a plugin unhealthy.
	ErrorWindow = 60 * time.Second
	// MaxErrors is the error count at which a plugin is considered unhealthy.
	MaxErrors = 5
)

// Metrics is the counter set of one plugin.
type Metrics struct {
	PluginID        string        `json:"pluginId"`
	LoadTime        time.Duration `json:"loadTime"`
	InitTime        time.Duration `json:"initTime"`
	ErrorCount      int           `json:"errorCount"`
	LastError       time.Time     `json:"lastError,omitempty"`
	EnabledDuration time.Duration `json:"enabledDuration"`
	CallCount       int           `json:"callCount"`
	MemoryUsage     uint64        `json:"memoryUsage,omitempty"`
}

// Stats aggregates every tracked plugin.
type Stats struct {
	Total           int           `json:"total"`
	Enabled         int           `json:"enabled"`
	WithErrors      int           `json:"withErrors"`
	AverageLoadTime time.Duration `json:"averageLoadTime"`
	AverageInitTime time.Duration `json:"averageInitTime"`
}

type entry struct {
	Metrics
	enabledSince time.Time
}

// Collector records metrics keyed by plugin id. It is safe for concurrent use.
type Collector struct {
	entries cmap.ConcurrentMap[string, entry]
	now     func() time.Time
	memory  func() uint64
}

// CollectorOption customises a Collector.
type CollectorOption func(*Collector)

// WithClock replaces the time source.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMemorySampler replaces the function sampled for MemoryUsage on load.
func WithMemorySampler(sample func() uint64) CollectorOption {
	return func(c *Collector) {
		if sample != nil {
			c.memory = sample
		}
	}
}

// NewCollector returns an empty collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		entries: cmap.New[entry](),
		now:     time.Now,
		memory:  processRSS,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordLoad sets the load time and counts a call. An existing error
// timestamp is preserved.
func (c *Collector) RecordLoad(id string, d time.Duration) {
	mem := c.memory()
	c.entries.Upsert(id, entry{}, func(exist bool, current, _ entry) entry {
		if !exist {
			current = entry{Metrics: Metrics{PluginID: id}}
		}
		current.LoadTime = d
		current.CallCount++
		current.MemoryUsage = mem
		return current
	})
}

// RecordInit sets the init time and marks the plugin as enabled from now on.
func (c *Collector) RecordInit(id string, d time.Duration) {
	now := c.now()
	c.entries.Upsert(id, entry{}, func(exist bool, current, _ entry) entry {
		if !exist {
			current = entry{Metrics: Metrics{PluginID: id}}
		}
		current.InitTime = d
		current.enabledSince = now
		return current
	})
}

// MarkDisabled freezes EnabledDuration at its current value.
func (c *Collector) MarkDisabled(id string) {
	now := c.now()
	c.entries.Upsert(id, entry{}, func(exist bool, current, _ entry) entry {
		if !exist {
			return entry{Metrics: Metrics{PluginID: id}}
		}
		if !current.enabledSince.IsZero() {
			current.EnabledDuration = now.Sub(current.enabledSince)
			current.enabledSince = time.Time{}
		}
		return current
	})
}

// RecordError counts an error and stamps LastError.
func (c *Collector) RecordError(id string) {
	now := c.now()
	c.entries.Upsert(id, entry{}, func(exist bool, current, _ entry) entry {
		if !exist {
			current = entry{Metrics: Metrics{PluginID: id}}
		}
		current.ErrorCount++
		current.LastError = now
		return current
	})
}

// Metrics returns the counters of id with a live EnabledDuration.
func (c *Collector) Metrics(id string) (Metrics, bool) {
	e, ok := c.entries.Get(id)
	if !ok {
		return Metrics{}, false
	}
	return c.snapshot(e), true
}

// All returns the counters of every tracked plugin ordered by id.
func (c *Collector) All() []Metrics {
	out := make([]Metrics, 0, c.entries.Count())
	for item := range c.entries.IterBuffered() {
		out = append(out, c.snapshot(item.Val))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// Stats aggregates across all tracked plugins.
func (c *Collector) Stats() Stats {
	var (
		stats     Stats
		totalLoad time.Duration
		totalInit time.Duration
	)
	for item := range c.entries.IterBuffered() {
		e := item.Val
		stats.Total++
		if !e.enabledSince.IsZero() {
			stats.Enabled++
		}
		if e.ErrorCount > 0 {
			stats.WithErrors++
		}
		totalLoad += e.LoadTime
		totalInit += e.InitTime
	}
	if stats.Total > 0 {
		stats.AverageLoadTime = totalLoad / time.Duration(stats.Total)
		stats.AverageInitTime = totalInit / time.Duration(stats.Total)
	}
	return stats
}

// CheckHealth reports whether id had no error within ErrorWindow and fewer
// than MaxErrors errors overall. Untracked plugins are healthy.
func (c *Collector) CheckHealth(id string) bool {
	e, ok := c.entries.Get(id)
	if !ok {
		return true
	}
	if !e.LastError.IsZero() && c.now().Sub(e.LastError) < ErrorWindow {
		return false
	}
	return e.ErrorCount < MaxErrors
}

// Reset clears the counters of id, or of every plugin when id is empty.
func (c *Collector) Reset(id string) {
	if id == "" {
		c.entries.Clear()
		return
	}
	c.entries.Remove(id)
}

// Remove drops id.
func (c *Collector) Remove(id string) {
	c.entries.Remove(id)
}

func (c *Collector) snapshot(e entry) Metrics {
	m := e.Metrics
	if !e.enabledSince.IsZero() {
		m.EnabledDuration = c.now().Sub(e.enabledSince)
	}
	return m
}

func processRSS() uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}
