package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// PriceTable resolves human price lookup keys (e.g. "basic", "premium") to
// provider price ids. The frontend only ever sees lookup keys; the provider
// ids stay a server-side concern.
//
// Entries come from PRICE_* environment variables and, when a file path is
// set, a YAML file of the form:
//
//	basic: price_1Mx...
//	premium: price_1My...
//
// File entries win over environment entries with the same key.
type PriceTable struct {
	mu       sync.RWMutex
	env      map[string]string
	file     map[string]string
	filePath string
}

// NewPriceTable creates an empty price table
func NewPriceTable() *PriceTable {
	return &PriceTable{
		env:  make(map[string]string),
		file: make(map[string]string),
	}
}

// Set adds or replaces an environment-sourced entry
func (t *PriceTable) Set(lookupKey, priceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.env[lookupKey] = priceID
}

// SetFilePath configures the YAML source and performs an initial load.
// Load errors at this point are deliberately not fatal so a bad edit to the
// file never prevents startup; Reload reports them.
func (t *PriceTable) SetFilePath(path string) {
	t.mu.Lock()
	t.filePath = path
	t.mu.Unlock()
	_ = t.Reload()
}

// Lookup resolves a lookup key to a provider price id
func (t *PriceTable) Lookup(lookupKey string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id, ok := t.file[lookupKey]; ok {
		return id, true
	}
	id, ok := t.env[lookupKey]
	return id, ok
}

// LookupKeys returns all configured lookup keys, sorted
func (t *PriceTable) LookupKeys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{}, len(t.env)+len(t.file))
	for k := range t.env {
		seen[k] = struct{}{}
	}
	for k := range t.file {
		seen[k] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reload re-reads the YAML file source, replacing all file-sourced entries
func (t *PriceTable) Reload() error {
	t.mu.RLock()
	path := t.filePath
	t.mu.RUnlock()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading price table: %w", err)
	}

	entries := make(map[string]string)
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing price table: %w", err)
	}

	t.mu.Lock()
	t.file = entries
	t.mu.Unlock()
	return nil
}

// Watch reloads the YAML source whenever it changes on disk, until the
// context is canceled. onError receives reload and watcher failures; a
// failed reload keeps the previous entries.
func (t *PriceTable) Watch(ctx context.Context, onError func(error)) error {
	t.mu.RLock()
	path := t.filePath
	t.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no price table file configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", path, err)
	}

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
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.Reload(); err != nil && onError != nil {
					onError(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return nil
}
