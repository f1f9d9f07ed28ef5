// Package denylist filters candidate addresses against an operator-managed list.
package denylist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain"
)

// builtins are always denied, whatever the file says.
var builtins = []string{
	"0x0000000000000000000000000000000000000000",
	strings.ToLower(blockchain.BurnAddress),
}

type Config struct {
	// Path is the denylist file. Empty means no file.
	Path string

	// WatchInterval is how often Watch polls the file for changes.
	WatchInterval time.Duration

	Logger *slog.Logger
}

func ConfigDefaults() Config {
	return Config{
		WatchInterval: 2 * time.Second,
		Logger:        slog.Default(),
	}
}

// Gate holds the current deny set. The set is replaced wholesale on every
// change, so concurrent readers always see a complete set.
type Gate struct {
	config Config
	set    atomic.Pointer[map[string]struct{}]
	logger *slog.Logger

	// writeMu serializes writers so concurrent updates are not lost.
	// Readers never take it.
	writeMu sync.Mutex
}

// NewGate creates a gate and performs the initial load of config.Path.
func NewGate(config Config) *Gate {
	defaults := ConfigDefaults()
	if config.WatchInterval <= 0 {
		config.WatchInterval = defaults.WatchInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	g := &Gate{
		config: config,
		logger: config.Logger.With("component", "denylist"),
	}
	g.store(map[string]struct{}{})
	if config.Path != "" {
		g.Reload(config.Path)
	}
	return g
}

func (g *Gate) store(entries map[string]struct{}) {
	for _, b := range builtins {
		entries[b] = struct{}{}
	}
	g.set.Store(&entries)
}

func (g *Gate) load() map[string]struct{} {
	return *g.set.Load()
}

// IsDenied reports whether addr is on the list. Comparison is case-insensitive.
func (g *Gate) IsDenied(addr string) bool {
	_, ok := g.load()[normalize(addr)]
	return ok
}

// Filter returns addrs without denied entries, preserving order.
func (g *Gate) Filter(addrs []string) (kept []string, denied int) {
	set := g.load()
	kept = make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := set[normalize(a)]; ok {
			denied++
			continue
		}
		kept = append(kept, a)
	}
	return kept, denied
}

// Size returns the number of denied addresses, built-ins included.
func (g *Gate) Size() int {
	return len(g.load())
}

// Add denies addr until the next reload.
func (g *Gate) Add(addr string) {
	key := normalize(addr)
	if key == "" {
		return
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	next := maps.Clone(g.load())
	next[key] = struct{}{}
	g.store(next)
}

// Remove lifts a runtime or file entry until the next reload. Built-ins stay.
func (g *Gate) Remove(addr string) {
	key := normalize(addr)
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	next := maps.Clone(g.load())
	delete(next, key)
	g.store(next)
}

// Reload replaces the set with the contents of path. A missing or unreadable
// file leaves an empty set (plus built-ins) and returns false.
func (g *Gate) Reload(path string) bool {
	entries, err := readFile(path)

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			g.logger.Info("denylist file not found, starting empty", "path", path)
		} else {
			g.logger.Warn("failed to load denylist", "path", path, "error", err)
		}
		g.store(map[string]struct{}{})
		return false
	}
	g.store(entries)
	g.logger.Info("denylist loaded", "path", path, "entries", len(entries))
	return true
}

// normalize maps every spelling of an address to one key. Strings that are
// not addresses are only trimmed and lowercased; they can never match a
// candidate.
func normalize(addr string) string {
	if normalized, err := entity.NormalizeAddress(addr); err == nil {
		return normalized
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

func readFile(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = normalize(line); line != "" {
			entries[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s line %d: %w", path, lineNo, err)
	}
	return entries, nil
}

// Watch reloads path whenever its size or modification time changes. A zero
// interval uses the configured WatchInterval. It blocks until ctx is done.
func (g *Gate) Watch(ctx context.Context, path string, interval time.Duration) {
	if path == "" {
		return
	}
	if interval <= 0 {
		interval = g.config.WatchInterval
	}
	last := fingerprint(path)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info("watching denylist", "path", path, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := fingerprint(path)
			if cur == last {
				continue
			}
			last = cur
			g.logger.Info("denylist changed, reloading", "path", path)
			g.Reload(path)
		}
	}
}

type fileStamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

func fingerprint(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{exists: true, size: info.Size(), modTime: info.ModTime()}
}
