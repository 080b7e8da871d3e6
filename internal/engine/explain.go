package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Fertilizer describes one label of the recommendation taxonomy.
type Fertilizer struct {
	Label   string `json:"label"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	UseCase string `json:"use_case"`
}

var fertilizers = []Fertilizer{
	{"urea", "Urea (46-0-0)", "Nitrogen fertilizer", "Rapid nitrogen supplementation for vegetative growth"},
	{"dap", "DAP (18-46-0)", "Phosphorus fertilizer", "Root development and early growth stage"},
	{"potash", "Potash (0-0-60)", "Potassium fertilizer", "Drought resistance and stem strength"},
	{"npk_10_10_10", "NPK 10-10-10", "Balanced fertilizer", "General purpose nutrition and maintenance"},
	{"npk_20_20_20", "NPK 20-20-20", "High-analysis balanced fertilizer", "Moderate deficiencies across all nutrients"},
	{"organic_compost", "Organic Compost", "Soil amendment", "Long-term soil health and structure"},
	{"zinc_sulfate", "Zinc Sulfate", "Micronutrient fertilizer", "Zinc deficiency correction"},
	{"iron_sulfate", "Iron Sulfate", "Micronutrient fertilizer", "Iron deficiency (chlorosis) treatment"},
}

// Fertilizers returns the fixed recommendation taxonomy.
func Fertilizers() []Fertilizer {
	out := make([]Fertilizer, len(fertilizers))
	copy(out, fertilizers)
	return out
}

func lookupFertilizer(label string) (Fertilizer, bool) {
	for _, f := range fertilizers {
		if f.Label == label {
			return f, true
		}
	}
	return Fertilizer{}, false
}

// Level is a nutrient reading graded against fixed agronomic thresholds.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelGood   Level = "good"
)

type nutrient struct {
	key         string
	name        string
	unit        string
	description string
	low         float64
	optimal     float64
}

var nutrients = []nutrient{
	{"nitrogen", "Nitrogen", "kg/ha", "Essential for vegetative growth and leaf development", 50, 100},
	{"phosphorus", "Phosphorus", "kg/ha", "Critical for root development and energy transfer", 20, 50},
	{"potassium", "Potassium", "kg/ha", "Important for drought resistance and disease tolerance", 80, 150},
}

func (n nutrient) grade(v float64) Level {
	switch {
	case v < n.low:
		return LevelLow
	case v < n.optimal:
		return LevelMedium
	default:
		return LevelGood
	}
}

var featureNames = map[string]string{
	"nitrogen":   "Nitrogen",
	"phosphorus": "Phosphorus",
	"potassium":  "Potassium",
	"leaf_color": "Leaf Color",
	"weather":    "Weather",
}

var leafColors = [...]string{
	"Yellow (severe nitrogen deficiency)",
	"Pale Green (moderate deficiency)",
	"Light Green (slight deficiency)",
	"Medium Green (healthy)",
	"Dark Green (good)",
	"Dark Green with Spots (possible toxicity)",
}

var weatherConditions = [...]string{
	"Dry and Hot",
	"Dry and Cool",
	"Humid and Hot",
	"Humid and Cool",
	"Normal Conditions",
}

// LeafColorDescription returns the human label for a leaf colour code.
func LeafColorDescription(code int) string {
	if code < 0 || code >= len(leafColors) {
		return "Unknown"
	}
	return leafColors[code]
}

// WeatherDescription returns the human label for a weather code.
func WeatherDescription(code int) string {
	if code < 0 || code >= len(weatherConditions) {
		return "Unknown"
	}
	return weatherConditions[code]
}

type RankedFeature struct {
	Feature     string  `json:"feature"`
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Importance  float64 `json:"importance"`
	Status      Level   `json:"status,omitempty"`
	Description string  `json:"description,omitempty"`
}

type NutrientStatus struct {
	Nutrient    string  `json:"nutrient"`
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Status      Level   `json:"status"`
	Description string  `json:"description"`
}

// Explanation is the structured breakdown behind a recommendation.
type Explanation struct {
	Features   []RankedFeature  `json:"features"`
	Nutrients  []NutrientStatus `json:"nutrients"`
	LeafColor  string           `json:"leaf_color"`
	Weather    string           `json:"weather"`
	Fertilizer Fertilizer       `json:"fertilizer"`
	Confidence float64          `json:"confidence"`
}

type featureWeight struct {
	feature    string
	importance float64
}

// rankFeatures orders features by importance, highest first. Ties keep the
// classifier's feature order.
func rankFeatures(order []string, importance map[string]float64) []featureWeight {
	ranked := make([]featureWeight, len(order))
	for i, f := range order {
		ranked[i] = featureWeight{feature: f, importance: importance[f]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].importance > ranked[j].importance
	})
	return ranked
}

func explain(ranked []featureWeight, x []float64, order []string, label string, confidence float64) Explanation {
	values := make(map[string]float64, len(order))
	for i, f := range order {
		values[f] = x[i]
	}
	leafCode, weatherCode := int(values["leaf_color"]), int(values["weather"])

	e := Explanation{
		LeafColor:  LeafColorDescription(leafCode),
		Weather:    WeatherDescription(weatherCode),
		Confidence: confidence,
	}

	for _, fw := range ranked {
		rf := RankedFeature{
			Feature:    fw.feature,
			Name:       featureNames[fw.feature],
			Value:      values[fw.feature],
			Importance: fw.importance,
		}
		switch fw.feature {
		case "leaf_color":
			rf.Description = e.LeafColor
		case "weather":
			rf.Description = e.Weather
		}
		e.Features = append(e.Features, rf)
	}

	for _, n := range nutrients {
		v := values[n.key]
		e.Nutrients = append(e.Nutrients, NutrientStatus{
			Nutrient:    n.key,
			Name:        n.name,
			Value:       v,
			Unit:        n.unit,
			Status:      n.grade(v),
			Description: n.description,
		})
	}
	statusByKey := make(map[string]Level, len(e.Nutrients))
	for _, ns := range e.Nutrients {
		statusByKey[ns.Nutrient] = ns.Status
	}
	for i := range e.Features {
		e.Features[i].Status = statusByKey[e.Features[i].Feature]
	}

	if f, ok := lookupFertilizer(label); ok {
		e.Fertilizer = f
	} else {
		e.Fertilizer = Fertilizer{Label: label, Name: label, Type: "Unknown", UseCase: "N/A"}
	}
	return e
}

const topFeatures = 3

// Report renders the explanation as a plain-text analysis.
func (e Explanation) Report() string {
	rule := strings.Repeat("=", 50)
	var b strings.Builder

	fmt.Fprintf(&b, "%s\nFERTILIZER RECOMMENDATION ANALYSIS\n%s\n", rule, rule)

	b.WriteString("\nTOP INFLUENCING FEATURES:\n")
	for i, f := range e.Features {
		if i == topFeatures {
			break
		}
		detail := string(f.Status)
		if detail == "" {
			detail = f.Description
		}
		fmt.Fprintf(&b, "  %d. %s: %.1f (%s) - importance: %.2f%%\n", i+1, f.Name, f.Value, detail, f.Importance*100)
	}

	b.WriteString("\nNUTRIENT ANALYSIS:\n")
	for _, n := range e.Nutrients {
		fmt.Fprintf(&b, "  - %s: %.1f %s (%s)\n", n.Name, n.Value, n.Unit, n.Status)
	}

	fmt.Fprintf(&b, "\nPLANT CONDITION: %s\n", e.LeafColor)
	fmt.Fprintf(&b, "WEATHER: %s\n", e.Weather)

	fmt.Fprintf(&b, "\n%s\nRECOMMENDATION\n%s\n", rule, rule)
	fmt.Fprintf(&b, "Fertilizer: %s\n", e.Fertilizer.Name)
	fmt.Fprintf(&b, "Type: %s\n", e.Fertilizer.Type)
	fmt.Fprintf(&b, "Use Case: %s\n", e.Fertilizer.UseCase)
	fmt.Fprintf(&b, "\nConfidence: %.1f%%", e.Confidence*100)

	return b.String()
}
