package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Snapshot is an immutable view of the configuration. Request handlers read a
// snapshot pointer atomically and never observe a partially-updated
// configuration.
type Snapshot struct {
	Generation int64
	LoadedAt   time.Time
	Config     Config
}

// Provider loads the configuration from a file and serves immutable
// snapshots. Reload swaps the snapshot atomically; an optional background
// watcher triggers reloads on file changes without blocking readers.
type Provider struct {
	path    string
	current atomic.Pointer[Snapshot]
	gen     atomic.Int64
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	logger  zerolog.Logger
}

// NewProvider loads the initial snapshot from path. An empty path serves the
// defaults and disables reloading.
func NewProvider(path string, logger zerolog.Logger) (*Provider, error) {
	p := &Provider{path: path, logger: logger}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticProvider wraps an in-memory configuration. Used by tests and by
// embedders that manage configuration themselves.
func NewStaticProvider(cfg Config) *Provider {
	p := &Provider{}
	p.store(cfg)
	return p
}

// Current returns the latest configuration snapshot. The returned pointer is
// immutable and safe to read without locking.
func (p *Provider) Current() *Snapshot {
	return p.current.Load()
}

// Reload re-reads the configuration file and atomically publishes a new
// snapshot. In-flight readers keep the snapshot they already hold.
func (p *Provider) Reload() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}
	p.store(*cfg)
	return nil
}

// Swap publishes an in-memory configuration, bypassing the file. Primarily
// for tests and the adaptive decorator's tuning experiments.
func (p *Provider) Swap(cfg Config) {
	p.store(cfg)
}

func (p *Provider) store(cfg Config) {
	snap := &Snapshot{
		Generation: p.gen.Add(1),
		LoadedAt:   time.Now(),
		Config:     cfg,
	}
	p.current.Store(snap)
}

// Watch starts a background fsnotify watcher that reloads the file on writes.
// Reload failures keep the previous snapshot and are logged, never fatal.
func (p *Provider) Watch() error {
	if p.path == "" {
		return fmt.Errorf("cannot watch: provider has no config file")
	}
	if p.watcher != nil {
		return fmt.Errorf("watch already started")
	}

	absPath, err := filepath.Abs(p.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.watcher = watcher
	p.cancel = cancel

	go p.watchLoop(ctx, absPath)
	return nil
}

func (p *Provider) watchLoop(ctx context.Context, absPath string) {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := p.Reload(); err != nil {
						p.logger.Error().Err(err).Msg("config reload failed, keeping previous snapshot")
						return
					}
					p.logger.Info().Int64("generation", p.Current().Generation).Msg("configuration reloaded")
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Close stops the watcher, if started.
func (p *Provider) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
