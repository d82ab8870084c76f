package domain

// Nutrients holds proteins, fats and carbohydrates values
type Nutrients struct {
	Proteins      *float64 `json:"proteins" validate:"required,gte=0"`
	Fats          *float64 `json:"fats" validate:"required,gte=0"`
	Carbohydrates *float64 `json:"carbohydrates" validate:"required,gte=0"`
}

// Requirement is one nutrition rule checked against the product
type Requirement struct {
	Criterion string `json:"criterion" validate:"required"`
	Verdict   *bool  `json:"verdict" validate:"required"`
}

// Verdict is the structured analysis result produced by the classifier
type Verdict struct {
	Verdict            *bool         `json:"verdict" validate:"required"`
	Category           string        `json:"category" validate:"required"`
	GramsPer100g       *Nutrients    `json:"g_per_100g" validate:"required"`
	PercentOfDailyNorm *Nutrients    `json:"percent_of_daily_norm" validate:"required"`
	Requirements       []Requirement `json:"requirements" validate:"required,min=1,dive"`
}
