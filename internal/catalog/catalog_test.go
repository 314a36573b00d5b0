package catalog

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/miradorstack/river-quality/internal/models"
)

const sampleDataset = `{
  "rivers": [
    {"name": "Danube", "station": "Novi Sad", "ph": 7.9, "hardness": 180.5, "solids": 15000,
     "chloroamine": 6.1, "sulphates": 310, "conductivity": 420, "organic_carbon": 12.2,
     "trichloromethane": 55, "turbidity": 3.8, "chloride": 22, "fluoride": 0.2, "iron": 0.1},
    {"name": "Sava", "ph": null, "hardness": 140},
    {"name": "Morava", "station": "Ljubicevski most", "ph": 8.1}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	c, err := Load(writeFile(t, "rivers.json", sampleDataset))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 rivers, got %d", c.Len())
	}

	danube, ok := c.Get("Danube")
	if !ok {
		t.Fatalf("expected Danube in catalog")
	}
	if danube.Chloramine == nil || *danube.Chloramine != 6.1 {
		t.Fatalf("unexpected chloramine: %v", danube.Chloramine)
	}
	if danube.Trihalomethane == nil || *danube.Trihalomethane != 55 {
		t.Fatalf("unexpected trihalomethane: %v", danube.Trihalomethane)
	}

	sava, _ := c.Get("Sava")
	if sava.PH != nil || sava.Station != nil || sava.Solids != nil {
		t.Fatalf("expected nulls to stay nil: %+v", sava)
	}
}

func TestListPreservesOrder(t *testing.T) {
	c, err := Load(writeFile(t, "rivers.json", sampleDataset))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := make([]string, 0, c.Len())
	for _, opt := range c.List() {
		got = append(got, opt.Name)
	}
	if diff := cmp.Diff([]string{"Danube", "Sava", "Morava"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if station := c.List()[0].Station; station == nil || *station != "Novi Sad" {
		t.Fatalf("unexpected station: %v", station)
	}
}

func TestGetIsExactMatch(t *testing.T) {
	c, err := Load(writeFile(t, "rivers.json", sampleDataset))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"danube", "Danube ", "Dan", ""} {
		if _, ok := c.Get(name); ok {
			t.Fatalf("expected no match for %q", name)
		}
	}
}

func TestLoadFailures(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		target  error
	}{
		{name: "missing collection", file: "a.json", content: `{"stations": []}`, target: ErrMissingCollection},
		{name: "null collection", file: "b.json", content: `{"rivers": null}`, target: ErrMissingCollection},
		{name: "duplicate", file: "c.json", content: `{"rivers": [{"name": "A"}, {"name": "A"}]}`, target: ErrDuplicateRiver},
		{name: "unsupported", file: "d.csv", content: `name`, target: ErrUnsupportedSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestLoadRejectsMalformedAndInvalid(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.json", `{"rivers": [`)); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(writeFile(t, "noname.json", `{"rivers": [{"ph": 7}]}`)); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty source")
	}
}

func TestLoadSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rivers.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE rivers (
			name TEXT NOT NULL, station TEXT, ph REAL, hardness REAL, solids REAL, chloroamine REAL,
			sulphates REAL, conductivity REAL, organic_carbon REAL, trichloromethane REAL,
			turbidity REAL, chloride REAL, fluoride REAL, iron REAL
		);
		INSERT INTO rivers (name, station, ph, hardness) VALUES ('Tisa', 'Senta', 7.4, 160);
		INSERT INTO rivers (name, ph) VALUES ('Drina', NULL);`)
	if err != nil {
		t.Fatalf("seed sqlite: %v", err)
	}
	db.Close()

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []models.RiverOption{{Name: "Tisa", Station: strPtr("Senta")}, {Name: "Drina"}}
	if diff := cmp.Diff(want, c.List()); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}
	tisa, _ := c.Get("Tisa")
	if tisa.PH == nil || *tisa.PH != 7.4 || tisa.Solids != nil {
		t.Fatalf("unexpected Tisa record: %+v", tisa)
	}
}

func TestLoadSQLiteWithoutTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE stations (name TEXT)`); err != nil {
		t.Fatalf("seed sqlite: %v", err)
	}
	db.Close()

	if _, err := Load(path); !errors.Is(err, ErrMissingCollection) {
		t.Fatalf("expected ErrMissingCollection, got %v", err)
	}
}

func strPtr(s string) *string { return &s }
