// Package project manages terrain project folders on disk.
//
// A project folder holds project.json (metadata), map.json (the persisted
// terrain), settings.json (free-form editor settings) and an assets/
// directory.
package project

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/logger"
	"github.com/Faultbox/terrastream/pkg/encoding"
	"github.com/Faultbox/terrastream/pkg/formats"
)

// Project file names.
const (
	ProjectFile  = "project.json"
	MapFile      = "map.json"
	SettingsFile = "settings.json"
	AssetsDir    = "assets"
)

// Project errors.
var (
	ErrNotProject = errors.New("not a project folder")
	ErrExists     = errors.New("project already exists")
	ErrNoMap      = errors.New("project has no map")
)

// Metadata is the content of project.json.
type Metadata struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Settings is the free-form content of settings.json.
type Settings map[string]any

// Project is an open project folder.
type Project struct {
	Path string
	Meta Metadata
}

// IsValid reports whether dir contains a project.json.
func IsValid(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ProjectFile))
	return err == nil && !info.IsDir()
}

// Create makes a new project in dir, creating the folder and its assets
// subfolder. An empty name defaults to the folder name.
func Create(dir, name string) (*Project, error) {
	if IsValid(dir) {
		return nil, fmt.Errorf("%w: %s", ErrExists, dir)
	}
	if err := os.MkdirAll(filepath.Join(dir, AssetsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create project folder: %w", err)
	}

	name = encoding.NormalizeName(name)
	if name == "" {
		name = filepath.Base(dir)
	}
	now := time.Now().UTC()
	p := &Project{
		Path: dir,
		Meta: Metadata{
			ID:       uuid.NewString(),
			Name:     name,
			Created:  now,
			Modified: now,
		},
	}
	if err := p.SaveMetadata(); err != nil {
		return nil, err
	}
	logger.Info("project created", zap.String("path", dir), zap.String("id", p.Meta.ID))
	return p, nil
}

// Open loads the project in dir.
func Open(dir string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(dir, ProjectFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotProject, dir, ProjectFile)
	}
	if err != nil {
		return nil, fmt.Errorf("read project metadata: %w", err)
	}

	var meta Metadata
	if err := json5.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrNotProject, ProjectFile, err)
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	return &Project{Path: dir, Meta: meta}, nil
}

// SaveMetadata writes project.json.
func (p *Project) SaveMetadata() error {
	data, err := json.MarshalIndent(p.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project metadata: %w", err)
	}
	return writeFile(filepath.Join(p.Path, ProjectFile), data)
}

// Rename moves the project folder to a sibling named after newName and
// updates the display name. It fails if the target folder exists.
func (p *Project) Rename(newName string) error {
	name := encoding.NormalizeName(newName)
	if name == "" {
		return fmt.Errorf("rename project: empty name")
	}
	target := filepath.Join(filepath.Dir(p.Path), encoding.Slug(name))
	if target != p.Path {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, target)
		}
		if err := os.Rename(p.Path, target); err != nil {
			return fmt.Errorf("rename project: %w", err)
		}
	}

	old := p.Path
	p.Path = target
	p.Meta.Name = name
	p.Meta.Modified = time.Now().UTC()
	if err := p.SaveMetadata(); err != nil {
		return err
	}
	logger.Info("project renamed", zap.String("from", old), zap.String("to", target))
	return nil
}

// MapPath returns the path of map.json.
func (p *Project) MapPath() string {
	return filepath.Join(p.Path, MapFile)
}

// LoadMap reads map.json. It returns ErrNoMap if the project was never saved.
func (p *Project) LoadMap() (*formats.MapData, error) {
	md, err := formats.LoadMapDataFile(p.MapPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoMap, p.Path)
	}
	return md, err
}

// SaveMap writes map.json, naming the map after the project.
func (p *Project) SaveMap(md *formats.MapData) error {
	if md.Metadata.Name == "" {
		md.Metadata.Name = p.Meta.Name
	}
	if err := formats.SaveMapDataFile(p.MapPath(), md); err != nil {
		return err
	}
	p.Meta.Modified = time.Now().UTC()
	return p.SaveMetadata()
}

// Settings reads settings.json. A missing or empty file yields empty
// settings. Comments and trailing commas are accepted.
func (p *Project) Settings() (Settings, error) {
	data, err := os.ReadFile(filepath.Join(p.Path, SettingsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Settings{}, nil
	}
	s := Settings{}
	if err := json5.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// SaveSettings writes settings.json.
func (p *Project) SaveSettings(s Settings) error {
	if s == nil {
		s = Settings{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return writeFile(filepath.Join(p.Path, SettingsFile), data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
