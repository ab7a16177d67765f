package estimators

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"floodguard/internal/features"
	"floodguard/internal/types"
)

// ModelVersion is the current model file format.
const ModelVersion = 1

// Model is the on-disk form of both estimators.
type Model struct {
	Version    int                    `yaml:"version"`
	TrainedAt  time.Time              `yaml:"trained_at,omitempty"`
	Samples    int                    `yaml:"samples,omitempty"`
	Regressor  *LinearRegressor       `yaml:"regressor,omitempty"`
	Classifier *FeedForwardClassifier `yaml:"classifier,omitempty"`
}

// Validate checks that every present estimator matches the feature vector.
func (m *Model) Validate() error {
	if m.Version != ModelVersion {
		return fmt.Errorf("model: unsupported version %d", m.Version)
	}
	if m.Regressor == nil && m.Classifier == nil {
		return errors.New("model: no estimators")
	}
	if m.Regressor != nil {
		if err := m.Regressor.validate(features.VectorSize); err != nil {
			return fmt.Errorf("model: %w", err)
		}
	}
	if m.Classifier != nil {
		if err := m.Classifier.validate(features.VectorSize); err != nil {
			return fmt.Errorf("model: %w", err)
		}
	}
	return nil
}

// DecodeModel reads and validates a YAML model.
func DecodeModel(r io.Reader) (*Model, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Model
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("model: decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode renders the model as YAML.
func (m *Model) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("model: encode: %w", err)
	}
	return enc.Close()
}

// LoadModel reads a model file.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeModel(f)
}

// SaveModel validates and writes a model file.
func SaveModel(path string, m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("model: write %s: %w", path, err)
	}
	return nil
}

// TrainModel fits both estimators on the same feature vectors. levels and
// classes label each vector; vectors labeled none train only the regressor.
func TrainModel(vectors [][]float64, levels []float64, classes []types.RiskLevel, opts TrainOptions, now time.Time) (*Model, error) {
	if len(vectors) != len(levels) || len(vectors) != len(classes) {
		return nil, errors.New("model: vectors and labels differ in length")
	}
	levelSamples := make([]LevelSample, len(vectors))
	riskSamples := make([]RiskSample, 0, len(vectors))
	for i, v := range vectors {
		levelSamples[i] = LevelSample{Features: v, Level: levels[i]}
		// The classifier has no "none" class.
		if _, ok := classTarget(classes[i]); ok {
			riskSamples = append(riskSamples, RiskSample{Features: v, Level: classes[i]})
		}
	}

	reg := NewLinearRegressor(features.VectorSize)
	if _, err := reg.Train(levelSamples, opts); err != nil {
		return nil, err
	}
	m := &Model{Version: ModelVersion, TrainedAt: now.UTC(), Samples: len(vectors), Regressor: reg}

	if len(riskSamples) > 0 {
		clf, err := NewFeedForwardClassifier(DefaultLayerSizes, opts.Rand)
		if err != nil {
			return nil, err
		}
		if _, err := clf.Train(riskSamples, opts); err != nil {
			return nil, err
		}
		m.Classifier = clf
	}
	return m, m.Validate()
}
