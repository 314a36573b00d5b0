package models

// Potability labels reported to clients.
const (
	LabelPotable    = "potable"
	LabelNotPotable = "not potable"
)

// PredictionResult is the combined regression + classification outcome for one river.
type PredictionResult struct {
	RiverName             string          `json:"river_name"`
	Station               *string         `json:"station"`
	InputParameters       InputParameters `json:"input_parameters"`
	QualityScore          float64         `json:"quality_score"`
	PotabilityProbability float64         `json:"potability_probability"`
	PotabilityLabel       string          `json:"potability_label"`
}

// PotabilityLabel maps a classifier class to its client-facing label.
func PotabilityLabel(class int) string {
	if class == 1 {
		return LabelPotable
	}
	return LabelNotPotable
}
