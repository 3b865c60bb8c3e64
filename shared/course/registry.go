// Package course holds the in-memory course registry the session engine
// reads geometry from, plus loaders that fill it from MongoDB or a JSON file.
package course

import (
	"context"
	"sort"
	"sync"

	"github.com/Ftotnem/GO-TIMING/shared/models"
)

// Loader returns the full set of courses from some backing source.
type Loader interface {
	LoadAll(ctx context.Context) ([]models.Course, error)
}

// Store is a Loader that can also persist course edits.
type Store interface {
	Loader
	Save(ctx context.Context, c models.Course) error
	Delete(ctx context.Context, name string) (bool, error)
}

// Registry is a concurrency-safe, case-insensitive set of courses.
type Registry struct {
	mu      sync.RWMutex
	courses map[string]models.Course
	keys    []string // configured course keys, sorted
}

// NewRegistry returns a registry seeded with courses.
func NewRegistry(courses ...models.Course) *Registry {
	r := &Registry{}
	r.Replace(courses)
	return r
}

// Replace swaps the whole course set. Courses whose name has no usable key are skipped.
func (r *Registry) Replace(courses []models.Course) {
	next := make(map[string]models.Course, len(courses))
	for _, c := range courses {
		key := courseKey(c)
		if key == "" {
			continue
		}
		c.Key = key
		next[key] = c
	}
	keys := make([]string, 0, len(next))
	for key, c := range next {
		if c.IsConfigured() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	r.mu.Lock()
	r.courses = next
	r.keys = keys
	r.mu.Unlock()
}

// Put adds or replaces a single course.
func (r *Registry) Put(c models.Course) {
	target := courseKey(c)
	r.mu.RLock()
	all := make([]models.Course, 0, len(r.courses)+1)
	for key, existing := range r.courses {
		if key != target {
			all = append(all, existing)
		}
	}
	r.mu.RUnlock()
	r.Replace(append(all, c))
}

// Remove drops a course. Sessions on it are discarded at their next evaluation.
func (r *Registry) Remove(name string) bool {
	key := models.CourseKey(name)
	r.mu.RLock()
	_, ok := r.courses[key]
	all := make([]models.Course, 0, len(r.courses))
	for k, c := range r.courses {
		if k != key {
			all = append(all, c)
		}
	}
	r.mu.RUnlock()
	if ok {
		r.Replace(all)
	}
	return ok
}

// Get returns the course for name, matched case-insensitively.
func (r *Registry) Get(name string) (models.Course, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.courses[models.CourseKey(name)]
	return c, ok
}

// All returns every course sorted by key.
func (r *Registry) All() []models.Course {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Course, 0, len(r.courses))
	for _, c := range r.courses {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registry) Start(course string) (models.Zone, bool) {
	c, ok := r.Get(course)
	if !ok || c.Start == nil {
		return models.Zone{}, false
	}
	return *c.Start, true
}

func (r *Registry) End(course string) (models.Zone, bool) {
	c, ok := r.Get(course)
	if !ok || c.End == nil {
		return models.Zone{}, false
	}
	return *c.End, true
}

func (r *Registry) IsConfigured(course string) bool {
	c, ok := r.Get(course)
	return ok && c.IsConfigured()
}

func (r *Registry) Checkpoints(course string) []models.Zone {
	c, ok := r.Get(course)
	if !ok {
		return nil
	}
	return c.Checkpoints
}

// Keys lists configured courses in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.keys...)
}

// Reload replaces the registry contents with what loader returns.
func (r *Registry) Reload(ctx context.Context, loader Loader) (int, error) {
	courses, err := loader.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	r.Replace(courses)
	return len(courses), nil
}
