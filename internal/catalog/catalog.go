// Package catalog holds the immutable river reference data loaded at startup.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/miradorstack/river-quality/internal/models"
)

var (
	// ErrMissingCollection is returned when a dataset has no top-level rivers collection.
	ErrMissingCollection = errors.New("dataset is missing the top-level rivers collection")
	// ErrDuplicateRiver is returned when two records share a name.
	ErrDuplicateRiver = errors.New("duplicate river name")
	// ErrUnsupportedSource is returned for sources that are neither JSON nor SQLite.
	ErrUnsupportedSource = errors.New("unsupported catalog source")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Catalog is a read-only index of water samples. It is safe for concurrent use
// because nothing mutates it after construction.
type Catalog struct {
	samples []models.WaterSample
	index   map[string]int
}

// New builds a catalog from records in their source order.
func New(samples []models.WaterSample) (*Catalog, error) {
	c := &Catalog{
		samples: make([]models.WaterSample, 0, len(samples)),
		index:   make(map[string]int, len(samples)),
	}
	for i, sample := range samples {
		if err := validate.Struct(sample); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, exists := c.index[sample.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRiver, sample.Name)
		}
		c.index[sample.Name] = len(c.samples)
		c.samples = append(c.samples, sample)
	}
	return c, nil
}

// Load reads a catalog from a JSON document or a SQLite database, chosen by file extension.
func Load(source string) (*Catalog, error) {
	if source == "" {
		return nil, fmt.Errorf("catalog source not configured")
	}
	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("catalog %s not found: %w", source, err)
		}
		return nil, fmt.Errorf("stat catalog: %w", err)
	}

	var (
		samples []models.WaterSample
		err     error
	)
	switch strings.ToLower(filepath.Ext(source)) {
	case ".json":
		samples, err = readJSON(source)
	case ".db", ".sqlite", ".sqlite3":
		samples, err = readSQLite(source)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
	}
	if err != nil {
		return nil, err
	}
	return New(samples)
}

type document struct {
	Rivers *[]models.WaterSample `json:"rivers"`
}

func readJSON(path string) ([]models.WaterSample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) ([]models.WaterSample, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if doc.Rivers == nil {
		return nil, ErrMissingCollection
	}
	return *doc.Rivers, nil
}

// Get returns the sample with exactly the given name.
func (c *Catalog) Get(name string) (models.WaterSample, bool) {
	i, ok := c.index[name]
	if !ok {
		return models.WaterSample{}, false
	}
	return c.samples[i], true
}

// List returns name/station pairs in catalog order.
func (c *Catalog) List() []models.RiverOption {
	out := make([]models.RiverOption, 0, len(c.samples))
	for _, sample := range c.samples {
		out = append(out, sample.Option())
	}
	return out
}

// Len reports the number of rivers.
func (c *Catalog) Len() int {
	return len(c.samples)
}
