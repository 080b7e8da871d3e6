package weather

import (
	"strings"

	"github.com/lox/agriadvisor/internal/models"
)

// conditionTable maps every OpenWeather condition id to the two-valued
// signal the classifier was trained on. Precipitation families (thunderstorm,
// drizzle, rain) are Rain; snow, atmosphere, clear and cloud ids are Clear.
var conditionTable = map[int]models.Condition{
	// Thunderstorm
	200: models.ConditionRain, 201: models.ConditionRain, 202: models.ConditionRain,
	210: models.ConditionRain, 211: models.ConditionRain, 212: models.ConditionRain,
	221: models.ConditionRain, 230: models.ConditionRain, 231: models.ConditionRain,
	232: models.ConditionRain,

	// Drizzle
	300: models.ConditionRain, 301: models.ConditionRain, 302: models.ConditionRain,
	310: models.ConditionRain, 311: models.ConditionRain, 312: models.ConditionRain,
	313: models.ConditionRain, 314: models.ConditionRain, 321: models.ConditionRain,

	// Rain
	500: models.ConditionRain, 501: models.ConditionRain, 502: models.ConditionRain,
	503: models.ConditionRain, 504: models.ConditionRain, 511: models.ConditionRain,
	520: models.ConditionRain, 521: models.ConditionRain, 522: models.ConditionRain,
	531: models.ConditionRain,

	// Snow
	600: models.ConditionClear, 601: models.ConditionClear, 602: models.ConditionClear,
	611: models.ConditionClear, 612: models.ConditionClear, 613: models.ConditionClear,
	615: models.ConditionClear, 616: models.ConditionClear, 620: models.ConditionClear,
	621: models.ConditionClear, 622: models.ConditionClear,

	// Atmosphere
	701: models.ConditionClear, 711: models.ConditionClear, 721: models.ConditionClear,
	731: models.ConditionClear, 741: models.ConditionClear, 751: models.ConditionClear,
	761: models.ConditionClear, 762: models.ConditionClear, 771: models.ConditionClear,
	781: models.ConditionClear,

	// Clear and clouds
	800: models.ConditionClear,
	801: models.ConditionClear, 802: models.ConditionClear, 803: models.ConditionClear,
	804: models.ConditionClear,
}

var rainGroups = map[string]bool{
	"thunderstorm": true,
	"drizzle":      true,
	"rain":         true,
}

// Classify reduces a provider condition id to Rain or Clear. Ids missing from
// the table fall back to the provider's group name, then to Clear.
func Classify(code int, group string) models.Condition {
	if c, ok := conditionTable[code]; ok {
		return c
	}
	if rainGroups[strings.ToLower(strings.TrimSpace(group))] {
		return models.ConditionRain
	}
	return models.ConditionClear
}

// hotThreshold separates hot from cool; exactly 25°C is cool.
const hotThreshold = 25.0

// ResolveCode derives the classifier's categorical weather feature from a
// snapshot. Conditions other than Rain and Clear resolve to WeatherNormal.
func ResolveCode(s models.WeatherSnapshot) models.WeatherCode {
	hot := s.TemperatureCelsius > hotThreshold
	switch s.Condition {
	case models.ConditionRain:
		if hot {
			return models.WeatherHumidHot
		}
		return models.WeatherHumidCool
	case models.ConditionClear:
		if hot {
			return models.WeatherDryHot
		}
		return models.WeatherDryCool
	default:
		return models.WeatherNormal
	}
}
