package courses

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"courseplatform.app/api/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog is the read-only list of courses. Content lives elsewhere; the
// catalog only knows ids, premium flags, section counts and quiz names.
type Catalog struct {
	courses []models.Course
	byID    map[string]int
}

type catalogFile struct {
	Courses []models.Course `yaml:"courses"`
}

// LoadCatalog reads the YAML catalog at path, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read course catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse course catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(file.Courses))}
	for _, course := range file.Courses {
		course.ID = strings.TrimSpace(course.ID)
		if course.ID == "" {
			return nil, fmt.Errorf("course %q has no id", course.Title)
		}
		if _, dup := c.byID[course.ID]; dup {
			return nil, fmt.Errorf("duplicate course id %q", course.ID)
		}
		if course.Sections < 1 {
			return nil, fmt.Errorf("course %q must have at least one section", course.ID)
		}
		c.byID[course.ID] = len(c.courses)
		c.courses = append(c.courses, course)
	}
	return c, nil
}

func (c *Catalog) Courses() []models.Course {
	out := make([]models.Course, len(c.courses))
	copy(out, c.courses)
	return out
}

func (c *Catalog) Get(id string) (*models.Course, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	course := c.courses[i]
	return &course, true
}

// IsPremium satisfies access.PremiumChecker.
func (c *Catalog) IsPremium(id string) (bool, bool) {
	course, ok := c.Get(id)
	if !ok {
		return false, false
	}
	return course.Premium, true
}
