package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/config"
	"github.com/Faultbox/terrastream/internal/logger"
)

const (
	// RecentFile is the file name of the recent projects list.
	RecentFile = "recent_projects.json"
	// MaxRecent bounds the recent projects list.
	MaxRecent = 10
)

// RecentEntry is one item of the recent projects list.
type RecentEntry struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	LastOpen time.Time `json:"last_opened"`
}

// Recent is the most-recently-opened projects list, newest first.
type Recent struct {
	mu   sync.Mutex
	path string
}

// NewRecent returns a list stored at path. An empty path uses the
// application config directory.
func NewRecent(path string) *Recent {
	if path == "" {
		path = filepath.Join(config.ConfigDir(), RecentFile)
	}
	return &Recent{path: path}
}

// List returns the entries whose folders are still valid projects.
func (r *Recent) List() ([]RecentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read()
	if err != nil {
		return nil, err
	}
	valid := entries[:0]
	for _, e := range entries {
		if IsValid(e.Path) {
			valid = append(valid, e)
		}
	}
	return valid, nil
}

// Add moves p to the front of the list, dropping older duplicates and
// truncating to MaxRecent.
func (r *Recent) Add(p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read()
	if err != nil {
		return err
	}
	abs := absPath(p.Path)
	out := make([]RecentEntry, 0, MaxRecent)
	out = append(out, RecentEntry{Path: abs, Name: p.Meta.Name, LastOpen: time.Now().UTC()})
	for _, e := range entries {
		if len(out) == MaxRecent {
			break
		}
		if absPath(e.Path) != abs {
			out = append(out, e)
		}
	}
	return r.write(out)
}

// Remove deletes path from the list. Removing an absent path is not an error.
func (r *Recent) Remove(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read()
	if err != nil {
		return err
	}
	abs := absPath(path)
	out := entries[:0]
	for _, e := range entries {
		if absPath(e.Path) != abs {
			out = append(out, e)
		}
	}
	return r.write(out)
}

func (r *Recent) read() ([]RecentEntry, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read recent projects: %w", err)
	}
	var entries []RecentEntry
	if err := json5.Unmarshal(data, &entries); err != nil {
		// A corrupt list is discarded rather than blocking startup.
		logger.Warn("recent projects list unreadable, starting empty",
			zap.String("path", r.path), zap.Error(err))
		return nil, nil
	}
	return entries, nil
}

func (r *Recent) write(entries []RecentEntry) error {
	if entries == nil {
		entries = []RecentEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode recent projects: %w", err)
	}
	return writeFile(r.path, data)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}
