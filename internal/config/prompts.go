package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vantagesec/vantage/internal/observability"
)

// PromptStore serves system-prompt overrides from a directory of .md files,
// keyed by file basename (e.g. "terminal.md" overrides the terminal agent
// prompt). The directory is watched and reloaded on change so prompt edits
// do not require a restart.
type PromptStore struct {
	mu      sync.RWMutex
	prompts map[string]string

	dir     string
	logger  *observability.Logger
	watcher *fsnotify.Watcher
}

// NewPromptStore loads the override directory and starts the watcher. A
// missing or empty directory is valid: every lookup falls back to the
// built-in prompt.
func NewPromptStore(dir string, logger *observability.Logger) (*PromptStore, error) {
	s := &PromptStore{
		prompts: make(map[string]string),
		dir:     dir,
		logger:  logger,
	}
	if dir == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

// Lookup returns the override for key and whether one exists.
func (s *PromptStore) Lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prompts[key]
	return p, ok
}

// Close stops the watcher.
func (s *PromptStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *PromptStore) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	loaded := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".md")
		loaded[key] = strings.TrimSpace(string(data))
	}
	s.mu.Lock()
	s.prompts = loaded
	s.mu.Unlock()
	return nil
}

func (s *PromptStore) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := s.reload(); err != nil {
					s.logger.Warn(context.Background(), "prompt override reload failed", "error", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn(context.Background(), "prompt override watcher error", "error", err)
		}
	}
}
