// Package content loads the exercise library sessions are created from.
package content

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/culturebridge/learning-engine/internal/models"
)

// Filter narrows List; empty fields match everything
type Filter struct {
	Language string
	Type     models.SessionType
	Level    models.ProficiencyLevel
}

func (f Filter) matches(item *models.ContentItem) bool {
	if f.Language != "" && item.Language != f.Language {
		return false
	}
	if f.Type != "" && item.Type != f.Type {
		return false
	}
	if f.Level != "" && item.Level != f.Level {
		return false
	}
	return true
}

// Library holds content items keyed by id
type Library struct {
	mu    sync.RWMutex
	items map[string]*models.ContentItem
}

// NewLibrary creates an empty library
func NewLibrary() *Library {
	return &Library{items: make(map[string]*models.ContentItem)}
}

// LoadFromDir loads every YAML file in dir and its direct subdirectories.
// Files that fail to parse or validate are logged and skipped.
func (l *Library) LoadFromDir(dir string) error {
	slog.Info("loading content from directory", "dir", dir)

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("content directory: %w", err)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		for _, glob := range []string{filepath.Join(dir, pattern), filepath.Join(dir, "*", pattern)} {
			matches, err := filepath.Glob(glob)
			if err != nil {
				continue
			}
			files = append(files, matches...)
		}
	}
	sort.Strings(files)

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load content", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("content loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single content item
func (l *Library) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var item models.ContentItem
	if err := yaml.Unmarshal(data, &item); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if item.ID == "" {
		base := filepath.Base(path)
		item.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := l.Add(&item); err != nil {
		return err
	}

	slog.Debug("content loaded", "id", item.ID, "language", item.Language, "type", item.Type)
	return nil
}

// Add validates item, applies defaults and stores it
func (l *Library) Add(item *models.ContentItem) error {
	if err := normalize(item); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[item.ID] = item
	return nil
}

func normalize(item *models.ContentItem) error {
	if item.ID == "" {
		return fmt.Errorf("content id is required")
	}
	if item.Title == "" {
		return fmt.Errorf("content %s: title is required", item.ID)
	}
	if item.Language == "" {
		return fmt.Errorf("content %s: language is required", item.ID)
	}
	if !item.Type.Valid() {
		return fmt.Errorf("content %s: unknown session type %q", item.ID, item.Type)
	}
	if item.Level == "" {
		item.Level = models.LevelBeginner
	}
	if !item.Level.Valid() {
		return fmt.Errorf("content %s: unknown level %q", item.ID, item.Level)
	}
	if len(item.Exercises) == 0 {
		return fmt.Errorf("content %s: at least one exercise is required", item.ID)
	}

	for i := range item.Exercises {
		ex := &item.Exercises[i]
		if ex.Type == "" {
			ex.Type = models.ExerciseTranslation
		}
		if !ex.Type.Valid() {
			return fmt.Errorf("content %s: exercise %d has unknown type %q", item.ID, i, ex.Type)
		}
		if ex.Prompt == "" || ex.CorrectAnswer == "" {
			return fmt.Errorf("content %s: exercise %d needs a prompt and an answer", item.ID, i)
		}
		if ex.Points == 0 {
			ex.Points = 10
		}
	}

	if item.EstimatedMins == 0 {
		item.EstimatedMins = len(item.Exercises)
	}
	return nil
}

// Get returns the item with id, or nil
func (l *Library) Get(id string) *models.ContentItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.items[id]
}

// List returns items matching f ordered by id
func (l *Library) List(f Filter) []*models.ContentItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*models.ContentItem
	for _, item := range l.items {
		if f.matches(item) {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of loaded items
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Nearest returns items for language and type at level, widening to the closest
// tiers (lower tier first) until something matches.
func (l *Library) Nearest(language string, typ models.SessionType, level models.ProficiencyLevel) []*models.ContentItem {
	rank := level.Rank()
	if rank < 0 {
		rank = 0
	}

	for dist := 0; dist < len(models.ProficiencyLevels); dist++ {
		for _, r := range []int{rank - dist, rank + dist} {
			if r < 0 || r >= len(models.ProficiencyLevels) {
				continue
			}
			items := l.List(Filter{Language: language, Type: typ, Level: models.ProficiencyLevels[r]})
			if len(items) > 0 {
				return items
			}
			if dist == 0 {
				break
			}
		}
	}
	return nil
}
