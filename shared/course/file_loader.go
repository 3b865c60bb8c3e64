package course

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Ftotnem/GO-TIMING/shared/models"
)

// fileMu serializes read-modify-write cycles on course files.
var fileMu sync.Mutex

var _ Store = FileLoader{}

// FileLoader reads and edits courses kept as a JSON array on disk.
type FileLoader struct {
	Path string
}

// LoadAll implements Loader. A missing file yields no courses.
func (fl FileLoader) LoadAll(ctx context.Context) ([]models.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fileMu.Lock()
	defer fileMu.Unlock()
	return fl.read()
}

// Save adds or replaces the course with the same key.
func (fl FileLoader) Save(ctx context.Context, c models.Course) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := courseKey(c)
	if key == "" {
		return fmt.Errorf("course %q has no usable key", c.Name)
	}
	c.Key = key

	fileMu.Lock()
	defer fileMu.Unlock()
	courses, err := fl.read()
	if err != nil {
		return err
	}
	replaced := false
	for i := range courses {
		if courseKey(courses[i]) == key {
			courses[i] = c
			replaced = true
		}
	}
	if !replaced {
		courses = append(courses, c)
	}
	return fl.write(courses)
}

// Delete removes a course. Deleting an unknown course is not an error.
func (fl FileLoader) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := models.CourseKey(name)

	fileMu.Lock()
	defer fileMu.Unlock()
	courses, err := fl.read()
	if err != nil {
		return false, err
	}
	kept := courses[:0]
	for _, c := range courses {
		if courseKey(c) != key {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(courses) {
		return false, nil
	}
	return true, fl.write(kept)
}

func courseKey(c models.Course) string {
	if key := models.CourseKey(c.Key); key != "" {
		return key
	}
	return models.CourseKey(c.Name)
}

func (fl FileLoader) read() ([]models.Course, error) {
	raw, err := os.ReadFile(fl.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read course file %s: %w", fl.Path, err)
	}
	var courses []models.Course
	if err := json.Unmarshal(raw, &courses); err != nil {
		return nil, fmt.Errorf("failed to decode course file %s: %w", fl.Path, err)
	}
	for i := range courses {
		if courses[i].Start != nil {
			*courses[i].Start = models.NewZone(courses[i].Start.Center, courses[i].Start.Radius)
		}
		if courses[i].End != nil {
			*courses[i].End = models.NewZone(courses[i].End.Center, courses[i].End.Radius)
		}
		for j, cp := range courses[i].Checkpoints {
			courses[i].Checkpoints[j] = models.NewZone(cp.Center, cp.Radius)
		}
	}
	return courses, nil
}

func (fl FileLoader) write(courses []models.Course) error {
	if courses == nil {
		courses = []models.Course{}
	}
	raw, err := json.MarshalIndent(courses, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode courses: %w", err)
	}
	dir := filepath.Dir(fl.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create course dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".courses-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp course file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write course file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close course file: %w", err)
	}
	if err := os.Rename(tmpName, fl.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace course file %s: %w", fl.Path, err)
	}
	return nil
}
