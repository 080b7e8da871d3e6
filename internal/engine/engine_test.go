package engine

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/lox/agriadvisor/internal/models"
)

func loadTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Load(filepath.Join("testdata", "model"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func TestLoad(t *testing.T) {
	e := loadTestEngine(t)
	if e.Version() != "1.0" {
		t.Errorf("Version = %q, want 1.0", e.Version())
	}
	if got := len(e.Classes()); got != 8 {
		t.Errorf("Classes = %d, want 8", got)
	}
	if e.Metadata().Metrics.Accuracy != 0.91 {
		t.Errorf("Accuracy = %v, want 0.91", e.Metadata().Metrics.Accuracy)
	}
}

func TestLoadMissingArtifacts(t *testing.T) {
	for _, missing := range []string{ModelFile, EncoderFile, MetadataFile} {
		t.Run(missing, func(t *testing.T) {
			dir := t.TempDir()
			for _, name := range []string{ModelFile, EncoderFile, MetadataFile} {
				if name == missing {
					continue
				}
				data, err := os.ReadFile(filepath.Join("testdata", "model", name))
				if err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := Load(dir); !errors.Is(err, ErrModelUnavailable) {
				t.Errorf("err = %v, want ErrModelUnavailable", err)
			}
		})
	}
}

func TestLoadCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{EncoderFile, MetadataFile} {
		data, err := os.ReadFile(filepath.Join("testdata", "model", name))
		if err != nil {
			t.Fatal(err)
		}
		os.WriteFile(filepath.Join(dir, name), data, 0o644)
	}
	os.WriteFile(filepath.Join(dir, ModelFile), []byte("{not json"), 0o644)

	if _, err := Load(dir); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", err)
	}
}

func stump(nClasses int) Tree {
	row := make([]float64, nClasses)
	for i := range row {
		row[i] = 1
	}
	return Tree{
		ChildrenLeft:  []int{-1},
		ChildrenRight: []int{-1},
		Feature:       []int{-2},
		Threshold:     []float64{-2},
		Value:         [][]float64{row},
	}
}

func validMeta() Metadata {
	var m Metadata
	m.FeatureNames = append([]string(nil), FeatureOrder...)
	return m
}

func TestNewRejectsInconsistentArtifacts(t *testing.T) {
	classes := []string{"dap", "urea"}
	tests := []struct {
		name    string
		forest  Forest
		classes []string
		meta    func() Metadata
	}{
		{
			name:    "class count mismatch",
			forest:  Forest{NFeatures: 5, NClasses: 3, Trees: []Tree{stump(3)}},
			classes: classes,
			meta:    validMeta,
		},
		{
			name:    "unknown label",
			forest:  Forest{NFeatures: 5, NClasses: 2, Trees: []Tree{stump(2)}},
			classes: []string{"dap", "moon_dust"},
			meta:    validMeta,
		},
		{
			name:    "wrong feature count",
			forest:  Forest{NFeatures: 4, NClasses: 2, Trees: []Tree{stump(2)}},
			classes: classes,
			meta:    validMeta,
		},
		{
			name:    "feature names out of order",
			forest:  Forest{NFeatures: 5, NClasses: 2, Trees: []Tree{stump(2)}},
			classes: classes,
			meta: func() Metadata {
				m := validMeta()
				m.FeatureNames = []string{"phosphorus", "nitrogen", "potassium", "leaf_color", "weather"}
				return m
			},
		},
		{
			name:    "no trees",
			forest:  Forest{NFeatures: 5, NClasses: 2},
			classes: classes,
			meta:    validMeta,
		},
		{
			name: "cyclic child",
			forest: Forest{NFeatures: 5, NClasses: 2, Trees: []Tree{{
				ChildrenLeft:  []int{0, -1},
				ChildrenRight: []int{1, -1},
				Feature:       []int{0, -2},
				Threshold:     []float64{1, -2},
				Value:         [][]float64{{1, 1}, {1, 1}},
			}}},
			classes: classes,
			meta:    validMeta,
		},
		{
			name: "feature index out of range",
			forest: Forest{NFeatures: 5, NClasses: 2, Trees: []Tree{{
				ChildrenLeft:  []int{1, -1, -1},
				ChildrenRight: []int{2, -1, -1},
				Feature:       []int{7, -2, -2},
				Threshold:     []float64{1, -2, -2},
				Value:         [][]float64{{1, 1}, {1, 0}, {0, 1}},
			}}},
			classes: classes,
			meta:    validMeta,
		},
		{
			name: "empty leaf",
			forest: Forest{NFeatures: 5, NClasses: 2, Trees: []Tree{{
				ChildrenLeft:  []int{-1},
				ChildrenRight: []int{-1},
				Feature:       []int{-2},
				Threshold:     []float64{-2},
				Value:         [][]float64{{0, 0}},
			}}},
			classes: classes,
			meta:    validMeta,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.forest, tt.classes, tt.meta()); !errors.Is(err, ErrModelUnavailable) {
				t.Errorf("err = %v, want ErrModelUnavailable", err)
			}
		})
	}
}

func TestPredict(t *testing.T) {
	e := loadTestEngine(t)

	tests := []struct {
		name       string
		n, p, k    float64
		leaf       int
		weather    models.WeatherCode
		want       string
		confidence float64
	}{
		{"nitrogen deficient", 45, 18, 65, 1, models.WeatherDryHot, "urea", 0.4417},
		{"balanced soil", 120, 60, 200, 3, models.WeatherHumidCool, "npk_10_10_10", 0.3083},
		{"potassium deficient", 120, 10, 50, 4, models.WeatherDryHot, "potash", 0.3417},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Predict(tt.n, tt.p, tt.k, tt.leaf, tt.weather)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if res.Recommendation != tt.want {
				t.Errorf("Recommendation = %q, want %q", res.Recommendation, tt.want)
			}
			if res.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", res.Confidence, tt.confidence)
			}
			if res.Probabilities[res.Recommendation] != res.Confidence {
				t.Errorf("confidence %v differs from class probability %v", res.Confidence, res.Probabilities[res.Recommendation])
			}
		})
	}
}

func TestPredictDeterministic(t *testing.T) {
	e := loadTestEngine(t)
	first, err := e.Predict(45, 18, 65, 1, models.WeatherDryHot)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, err := e.Predict(45, 18, 65, 1, models.WeatherDryHot)
		if err != nil {
			t.Fatal(err)
		}
		if again.Recommendation != first.Recommendation || again.Confidence != first.Confidence {
			t.Fatalf("run %d: got %s/%v, want %s/%v", i, again.Recommendation, again.Confidence, first.Recommendation, first.Confidence)
		}
	}
}

func TestPredictConfidenceBounds(t *testing.T) {
	e := loadTestEngine(t)
	taxonomy := map[string]bool{}
	for _, f := range Fertilizers() {
		taxonomy[f.Label] = true
	}

	for _, n := range []float64{0, 25, 50, 50.0000001, 75, 300} {
		for _, p := range []float64{0, 20, 40, 500} {
			for _, k := range []float64{0, 80, 120} {
				for leaf := 0; leaf <= 5; leaf++ {
					for w := models.WeatherDryHot; w <= models.WeatherNormal; w++ {
						res, err := e.Predict(n, p, k, leaf, w)
						if err != nil {
							t.Fatalf("Predict(%v,%v,%v,%d,%d): %v", n, p, k, leaf, w, err)
						}
						if res.Confidence < 0 || res.Confidence > 1 {
							t.Errorf("confidence %v out of [0,1]", res.Confidence)
						}
						if !taxonomy[res.Recommendation] {
							t.Errorf("label %q outside taxonomy", res.Recommendation)
						}
						var sum float64
						for _, v := range res.Probabilities {
							sum += v
						}
						if math.Abs(sum-1) > 1e-3 {
							t.Errorf("probabilities sum to %v", sum)
						}
					}
				}
			}
		}
	}
}

func TestPredictThresholdGoesLeft(t *testing.T) {
	e := loadTestEngine(t)
	// nitrogen == 50 sits on the root split and must take the left branch.
	res, err := e.Predict(50, 18, 65, 1, models.WeatherDryHot)
	if err != nil {
		t.Fatal(err)
	}
	if res.Recommendation != "urea" {
		t.Errorf("Recommendation = %q, want urea", res.Recommendation)
	}
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	e := loadTestEngine(t)
	tests := []struct {
		name    string
		n, p, k float64
		leaf    int
		weather models.WeatherCode
	}{
		{"negative nitrogen", -1, 10, 10, 1, 0},
		{"negative potassium", 1, 10, -10, 1, 0},
		{"leaf too high", 1, 1, 1, 6, 0},
		{"leaf negative", 1, 1, 1, -1, 0},
		{"weather too high", 1, 1, 1, 1, 5},
		{"weather negative", 1, 1, 1, 1, -1},
		{"nan", math.NaN(), 1, 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Predict(tt.n, tt.p, tt.k, tt.leaf, tt.weather); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestInputSummary(t *testing.T) {
	e := loadTestEngine(t)
	res, err := e.Predict(45, 18, 65, 1, models.WeatherDryHot)
	if err != nil {
		t.Fatal(err)
	}
	want := InputSummary{NitrogenKgHa: 45, PhosphorusKgHa: 18, PotassiumKgHa: 65, LeafColorCode: 1, WeatherCode: 0}
	if res.InputSummary != want {
		t.Errorf("InputSummary = %+v, want %+v", res.InputSummary, want)
	}
}
