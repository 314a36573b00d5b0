package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/miradorstack/river-quality/internal/models"
)

const selectRiversSQL = `
	SELECT name, station, ph, hardness, solids, chloroamine, sulphates, conductivity,
		organic_carbon, trichloromethane, turbidity, chloride, fluoride, iron
	FROM rivers
	ORDER BY rowid`

// readSQLite loads samples from the rivers table of a SQLite database, opened read-only.
func readSQLite(path string) ([]models.WaterSample, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	defer db.Close()

	var exists int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'rivers'`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("inspect catalog database: %w", err)
	}
	if exists == 0 {
		return nil, ErrMissingCollection
	}

	rows, err := db.Query(selectRiversSQL)
	if err != nil {
		return nil, fmt.Errorf("query rivers: %w", err)
	}
	defer rows.Close()

	var samples []models.WaterSample
	for rows.Next() {
		var (
			name    string
			station sql.NullString
			values  [12]sql.NullFloat64
		)
		dest := []any{&name, &station}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan river row: %w", err)
		}

		sample := models.WaterSample{
			Name:           name,
			PH:             nullable(values[0]),
			Hardness:       nullable(values[1]),
			Solids:         nullable(values[2]),
			Chloramine:     nullable(values[3]),
			Sulphate:       nullable(values[4]),
			Conductivity:   nullable(values[5]),
			OrganicCarbon:  nullable(values[6]),
			Trihalomethane: nullable(values[7]),
			Turbidity:      nullable(values[8]),
			Chloride:       nullable(values[9]),
			Fluoride:       nullable(values[10]),
			Iron:           nullable(values[11]),
		}
		if station.Valid {
			s := station.String
			sample.Station = &s
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate river rows: %w", err)
	}
	return samples, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
