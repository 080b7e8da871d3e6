// Package engine runs the pretrained fertilizer classifier. An Engine is
// built once at startup from three artifacts and is read-only afterwards,
// so a single instance is shared by every request without locking.
package engine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"

	"github.com/lox/agriadvisor/internal/models"
)

const (
	ModelFile    = "fertilizer_model.json"
	EncoderFile  = "label_encoder.json"
	MetadataFile = "model_metadata.json"
)

var (
	// ErrModelUnavailable means an artifact was missing, unreadable or
	// inconsistent. Callers run in degraded mode rather than exit.
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInvalidInput     = errors.New("invalid model input")
)

// FeatureOrder is the column order the classifier was trained on.
var FeatureOrder = []string{"nitrogen", "phosphorus", "potassium", "leaf_color", "weather"}

type Metadata struct {
	ModelType     string   `json:"model_type"`
	ModelVersion  string   `json:"model_version"`
	TrainingDate  string   `json:"training_date"`
	NEstimators   int      `json:"n_estimators"`
	MaxDepth      int      `json:"max_depth"`
	TargetClasses []string `json:"target_classes"`
	FeatureNames  []string `json:"feature_names"`
	Metrics       struct {
		Accuracy          float64            `json:"accuracy"`
		FeatureImportance map[string]float64 `json:"feature_importance"`
	} `json:"metrics"`
}

type labelEncoder struct {
	Classes []string `json:"classes"`
}

type Engine struct {
	forest  Forest
	classes []string
	meta    Metadata
	ranked  []featureWeight
}

// InputSummary echoes the numeric features a prediction was made from.
type InputSummary struct {
	NitrogenKgHa   float64 `json:"nitrogen_kg_ha"`
	PhosphorusKgHa float64 `json:"phosphorus_kg_ha"`
	PotassiumKgHa  float64 `json:"potassium_kg_ha"`
	LeafColorCode  int     `json:"leaf_color_code"`
	WeatherCode    int     `json:"weather_code"`
}

type Result struct {
	Recommendation string
	// Confidence is the predicted class's probability rounded to 4 places.
	Confidence    float64
	Probabilities map[string]float64
	Explanation   Explanation
	InputSummary  InputSummary
	ModelVersion  string
}

// Load reads the three artifacts from dir. Any failure wraps
// ErrModelUnavailable.
func Load(dir string) (*Engine, error) {
	var forest Forest
	if err := readJSON(filepath.Join(dir, ModelFile), &forest); err != nil {
		return nil, err
	}
	var enc labelEncoder
	if err := readJSON(filepath.Join(dir, EncoderFile), &enc); err != nil {
		return nil, err
	}
	var meta Metadata
	if err := readJSON(filepath.Join(dir, MetadataFile), &meta); err != nil {
		return nil, err
	}
	return New(forest, enc.Classes, meta)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrModelUnavailable, filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrModelUnavailable, filepath.Base(path), err)
	}
	return nil
}

// New assembles an Engine from already-decoded artifacts, checking that they
// agree with each other and with the fertilizer taxonomy.
func New(forest Forest, classes []string, meta Metadata) (*Engine, error) {
	if err := forest.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if forest.NFeatures != len(FeatureOrder) {
		return nil, fmt.Errorf("%w: model expects %d features, want %d", ErrModelUnavailable, forest.NFeatures, len(FeatureOrder))
	}
	if len(classes) != forest.NClasses {
		return nil, fmt.Errorf("%w: encoder has %d classes, model has %d", ErrModelUnavailable, len(classes), forest.NClasses)
	}
	for _, c := range classes {
		if _, ok := lookupFertilizer(c); !ok {
			return nil, fmt.Errorf("%w: unknown fertilizer label %q", ErrModelUnavailable, c)
		}
	}
	if len(meta.TargetClasses) > 0 && !slices.Equal(meta.TargetClasses, classes) {
		return nil, fmt.Errorf("%w: metadata classes disagree with encoder", ErrModelUnavailable)
	}
	if !slices.Equal(meta.FeatureNames, FeatureOrder) {
		return nil, fmt.Errorf("%w: feature names %v, want %v", ErrModelUnavailable, meta.FeatureNames, FeatureOrder)
	}
	if meta.ModelVersion == "" {
		meta.ModelVersion = models.DefaultModelVersion
	}

	return &Engine{
		forest:  forest,
		classes: slices.Clone(classes),
		meta:    meta,
		ranked:  rankFeatures(FeatureOrder, meta.Metrics.FeatureImportance),
	}, nil
}

func (e *Engine) Metadata() Metadata {
	return e.meta
}

func (e *Engine) Version() string {
	return e.meta.ModelVersion
}

// Classes returns the labels the classifier can emit, in class-index order.
func (e *Engine) Classes() []string {
	return slices.Clone(e.classes)
}

// Predict classifies one sample. It re-checks ranges so it is safe to call
// without prior validation.
func (e *Engine) Predict(nitrogen, phosphorus, potassium float64, leafColor int, weather models.WeatherCode) (Result, error) {
	for _, v := range []float64{nitrogen, phosphorus, potassium} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, fmt.Errorf("%w: nutrient values must be finite", ErrInvalidInput)
		}
	}
	if nitrogen < 0 || phosphorus < 0 || potassium < 0 {
		return Result{}, fmt.Errorf("%w: Nutrient values cannot be negative", ErrInvalidInput)
	}
	if leafColor < 0 || leafColor > 5 {
		return Result{}, fmt.Errorf("%w: leaf_color must be 0-5, got %d", ErrInvalidInput, leafColor)
	}
	if !weather.Valid() {
		return Result{}, fmt.Errorf("%w: weather must be 0-4, got %d", ErrInvalidInput, int(weather))
	}

	x := []float64{nitrogen, phosphorus, potassium, float64(leafColor), float64(weather)}
	proba := e.forest.proba(x)
	idx := argmax(proba)
	label := e.classes[idx]
	confidence := round4(proba[idx])

	probs := make(map[string]float64, len(proba))
	for i, p := range proba {
		probs[e.classes[i]] = round4(p)
	}

	return Result{
		Recommendation: label,
		Confidence:     confidence,
		Probabilities:  probs,
		Explanation:    explain(e.ranked, x, FeatureOrder, label, confidence),
		InputSummary: InputSummary{
			NitrogenKgHa:   nitrogen,
			PhosphorusKgHa: phosphorus,
			PotassiumKgHa:  potassium,
			LeafColorCode:  leafColor,
			WeatherCode:    int(weather),
		},
		ModelVersion: e.meta.ModelVersion,
	}, nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
