package models

// WaterSample is one catalog entry: a river monitoring point and its last chemical analysis.
// Measurements are pointers so that a missing value stays distinguishable from zero.
type WaterSample struct {
	Name           string   `json:"name" validate:"required"`
	Station        *string  `json:"station,omitempty"`
	PH             *float64 `json:"ph"`
	Hardness       *float64 `json:"hardness"`
	Solids         *float64 `json:"solids"`
	Chloramine     *float64 `json:"chloroamine"`
	Sulphate       *float64 `json:"sulphates"`
	Conductivity   *float64 `json:"conductivity"`
	OrganicCarbon  *float64 `json:"organic_carbon"`
	Trihalomethane *float64 `json:"trichloromethane"`
	Turbidity      *float64 `json:"turbidity"`
	Chloride       *float64 `json:"chloride"`
	Fluoride       *float64 `json:"fluoride"`
	Iron           *float64 `json:"iron"`
}

// RiverOption is the listing projection of a sample.
type RiverOption struct {
	Name    string  `json:"name"`
	Station *string `json:"station"`
}

// Option projects the sample into its listing form.
func (s WaterSample) Option() RiverOption {
	return RiverOption{Name: s.Name, Station: s.Station}
}

// InputParameters echoes the raw measurements of a sample, keyed as in the dataset.
type InputParameters struct {
	PH             *float64 `json:"ph"`
	Hardness       *float64 `json:"hardness"`
	Solids         *float64 `json:"solids"`
	Sulphates      *float64 `json:"sulphates"`
	Conductivity   *float64 `json:"conductivity"`
	Turbidity      *float64 `json:"turbidity"`
	Trihalomethane *float64 `json:"trichloromethane"`
	Chloramine     *float64 `json:"chloroamine"`
	OrganicCarbon  *float64 `json:"organic_carbon"`
	Chloride       *float64 `json:"chloride"`
	Fluoride       *float64 `json:"fluoride"`
	Iron           *float64 `json:"iron"`
}

// Inputs returns the untransformed measurements of the sample.
func (s WaterSample) Inputs() InputParameters {
	return InputParameters{
		PH:             s.PH,
		Hardness:       s.Hardness,
		Solids:         s.Solids,
		Sulphates:      s.Sulphate,
		Conductivity:   s.Conductivity,
		Turbidity:      s.Turbidity,
		Trihalomethane: s.Trihalomethane,
		Chloramine:     s.Chloramine,
		OrganicCarbon:  s.OrganicCarbon,
		Chloride:       s.Chloride,
		Fluoride:       s.Fluoride,
		Iron:           s.Iron,
	}
}
