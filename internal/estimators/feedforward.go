package estimators

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"floodguard/internal/types"
)

// DefaultLayerSizes is the classifier topology: the feature vector, two
// ReLU hidden layers, and a single sigmoid output.
var DefaultLayerSizes = []int{8, 10, 5, 1}

// Output cut-offs between the four classes.
var classCutoffs = [...]float64{0.25, 0.5, 0.75}

var classLevels = [...]types.RiskLevel{
	types.RiskLow, types.RiskModerate, types.RiskHigh, types.RiskExtreme,
}

// Layer is a dense layer. Weights are indexed [output][input].
type Layer struct {
	Weights [][]float64 `yaml:"weights"`
	Biases  []float64   `yaml:"biases"`
}

// FeedForwardClassifier scores a feature vector in [0,1] and buckets the
// score into a risk class.
type FeedForwardClassifier struct {
	Layers []Layer       `yaml:"layers"`
	Input  *Standardizer `yaml:"input,omitempty"`
}

// RiskSample is one supervised example for the classifier.
type RiskSample struct {
	Features []float64
	Level    types.RiskLevel
}

// NewFeedForwardClassifier builds a network with He-initialized weights.
func NewFeedForwardClassifier(sizes []int, r *rand.Rand) (*FeedForwardClassifier, error) {
	if len(sizes) < 2 || sizes[len(sizes)-1] != 1 {
		return nil, fmt.Errorf("classifier: need at least two layer sizes ending in 1, got %v", sizes)
	}
	if r == nil {
		r = rand.New(rand.NewPCG(1, 2))
	}
	c := &FeedForwardClassifier{Layers: make([]Layer, len(sizes)-1)}
	for l := range c.Layers {
		in, out := sizes[l], sizes[l+1]
		if in <= 0 || out <= 0 {
			return nil, fmt.Errorf("classifier: layer sizes must be positive, got %v", sizes)
		}
		scale := math.Sqrt(2 / float64(in))
		layer := Layer{Weights: make([][]float64, out), Biases: make([]float64, out)}
		for o := range out {
			layer.Weights[o] = make([]float64, in)
			for i := range in {
				layer.Weights[o][i] = r.NormFloat64() * scale
			}
		}
		c.Layers[l] = layer
	}
	return c, nil
}

// InputSize is the width of the first layer.
func (c *FeedForwardClassifier) InputSize() int {
	if len(c.Layers) == 0 || len(c.Layers[0].Weights) == 0 {
		return 0
	}
	return len(c.Layers[0].Weights[0])
}

// Score runs the network and returns the sigmoid output.
func (c *FeedForwardClassifier) Score(vector []float64) (float64, error) {
	if err := checkVector(vector, c.InputSize()); err != nil {
		return 0, err
	}
	acts := c.forward(c.Input.Apply(vector))
	return acts[len(acts)-1][0], nil
}

// Classify implements RiskClassifier.
func (c *FeedForwardClassifier) Classify(ctx context.Context, vector []float64) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}
	s, err := c.Score(vector)
	if err != nil {
		return Classification{}, err
	}
	return ClassifyScore(s), nil
}

// ClassifyScore buckets a network output. Confidence grows with the
// distance from the midpoint.
func ClassifyScore(s float64) Classification {
	class := len(classCutoffs)
	for i, cut := range classCutoffs {
		if s < cut {
			class = i
			break
		}
	}
	return Classification{Level: classLevels[class], Confidence: math.Min(1, math.Abs(s-0.5)*2)}
}

// classTarget is the midpoint of a class's score band.
func classTarget(level types.RiskLevel) (float64, bool) {
	for i, l := range classLevels {
		if l == level {
			return (float64(i) + 0.5) / float64(len(classLevels)), true
		}
	}
	return 0, false
}

// forward returns the activations of every layer, input included.
func (c *FeedForwardClassifier) forward(x []float64) [][]float64 {
	acts := make([][]float64, 0, len(c.Layers)+1)
	acts = append(acts, x)
	for l, layer := range c.Layers {
		out := make([]float64, len(layer.Biases))
		last := l == len(c.Layers)-1
		for o, row := range layer.Weights {
			z := layer.Biases[o]
			for i, w := range row {
				z += w * x[i]
			}
			if last {
				out[o] = sigmoid(z)
			} else {
				out[o] = math.Max(0, z)
			}
		}
		acts = append(acts, out)
		x = out
	}
	return acts
}

// Train runs backpropagation with per-sample updates on binary cross-entropy
// against the class midpoints and returns the final mean loss.
func (c *FeedForwardClassifier) Train(samples []RiskSample, opts TrainOptions) (float64, error) {
	if len(samples) == 0 {
		return 0, errors.New("classifier: no training samples")
	}
	width := c.InputSize()
	rows := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for i, s := range samples {
		if err := checkVector(s.Features, width); err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		if !allFinite(s.Features) {
			return 0, fmt.Errorf("sample %d: non-finite value", i)
		}
		t, ok := classTarget(s.Level)
		if !ok {
			return 0, fmt.Errorf("sample %d: unsupported class %q", i, s.Level)
		}
		rows[i], targets[i] = s.Features, t
	}
	opts = opts.withDefaults(300, 0.05)
	c.Input = FitStandardizer(rows)

	xs := make([][]float64, len(rows))
	for i, row := range rows {
		xs[i] = c.Input.Apply(row)
	}
	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	for range opts.Epochs {
		opts.Rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			c.step(xs[idx], targets[idx], opts.LearningRate)
		}
	}
	return c.loss(xs, targets), nil
}

func (c *FeedForwardClassifier) step(x []float64, target, lr float64) {
	acts := c.forward(x)
	// With a sigmoid output and cross-entropy loss the output delta is y − t.
	delta := []float64{acts[len(acts)-1][0] - target}
	for l := len(c.Layers) - 1; l >= 0; l-- {
		layer := c.Layers[l]
		in := acts[l]
		var prev []float64
		if l > 0 {
			prev = make([]float64, len(in))
			for o, row := range layer.Weights {
				for i, w := range row {
					prev[i] += w * delta[o]
				}
			}
			for i := range prev {
				if in[i] <= 0 {
					prev[i] = 0
				}
			}
		}
		for o, row := range layer.Weights {
			for i := range row {
				row[i] -= lr * delta[o] * in[i]
			}
			layer.Biases[o] -= lr * delta[o]
		}
		delta = prev
	}
}

func (c *FeedForwardClassifier) loss(xs [][]float64, targets []float64) float64 {
	const eps = 1e-12
	var total float64
	for i, x := range xs {
		acts := c.forward(x)
		y := math.Min(1-eps, math.Max(eps, acts[len(acts)-1][0]))
		t := targets[i]
		total -= t*math.Log(y) + (1-t)*math.Log(1-y)
	}
	return total / float64(len(xs))
}

func (c *FeedForwardClassifier) validate(width int) error {
	if len(c.Layers) == 0 {
		return errors.New("classifier: no layers")
	}
	in := width
	for l, layer := range c.Layers {
		if len(layer.Weights) == 0 || len(layer.Weights) != len(layer.Biases) {
			return fmt.Errorf("classifier: layer %d has %d weight rows and %d biases", l, len(layer.Weights), len(layer.Biases))
		}
		for _, row := range layer.Weights {
			if len(row) != in {
				return fmt.Errorf("classifier: layer %d expects %d inputs, got %d", l, in, len(row))
			}
			if !allFinite(row) {
				return fmt.Errorf("classifier: layer %d has a non-finite weight", l)
			}
		}
		if !allFinite(layer.Biases) {
			return fmt.Errorf("classifier: layer %d has a non-finite bias", l)
		}
		in = len(layer.Weights)
	}
	if in != 1 {
		return fmt.Errorf("classifier: output layer must have one unit, got %d", in)
	}
	return c.Input.validate(width)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
