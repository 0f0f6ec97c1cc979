package moderation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// Reloadable is an Engine that can be swapped while in use.
type Reloadable struct {
	current atomic.Pointer[Engine]
	opts    []Option
}

func NewReloadable(e *Engine, opts ...Option) *Reloadable {
	r := &Reloadable{opts: opts}
	r.current.Store(e)
	return r
}

func (r *Reloadable) Evaluate(text string) Verdict {
	return r.current.Load().Evaluate(text)
}

// Engine returns the engine currently in use.
func (r *Reloadable) Engine() *Engine {
	return r.current.Load()
}

// Reload rebuilds the engine from path. On error the current engine stays.
func (r *Reloadable) Reload(path string) error {
	e, err := NewEngineFromFile(path, r.opts...)
	if err != nil {
		return err
	}
	r.current.Store(e)
	return nil
}

// Watch reloads path whenever it changes, until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func (r *Reloadable) Watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	logger := log.L().With().Str("rules_file", path).Logger()
	logger.Info().Msg("watching moderation rules")

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := r.Reload(path); err != nil {
					logger.Warn().Err(err).Msg("moderation rules reload failed, keeping previous rules")
					continue
				}
				logger.Info().Msg("moderation rules reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("moderation rules watcher error")
			}
		}
	}()
	return nil
}
