package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
)

// ModelFile is the JSON export of a trained landmark MLP: a stack of dense
// layers, each optionally followed by batch norm and an activation.
type ModelFile struct {
	IdxToLabel map[string]string `json:"idx_to_label"`
	Layers     []LayerFile       `json:"layers"`
}

// LayerFile is one dense layer. Weights is [out][in].
type LayerFile struct {
	Weights    [][]float64    `json:"weights"`
	Bias       []float64      `json:"bias"`
	BatchNorm  *BatchNormFile `json:"batch_norm,omitempty"`
	Activation string         `json:"activation,omitempty"`
}

// BatchNormFile holds running statistics exported in eval mode.
type BatchNormFile struct {
	Mean  []float64 `json:"mean"`
	Var   []float64 `json:"var"`
	Gamma []float64 `json:"gamma"`
	Beta  []float64 `json:"beta"`
	Eps   float64   `json:"eps"`
}

type dense struct {
	w    [][]float64
	b    []float64
	relu bool
}

// Model is an embedded MLP classifier. Batch norm is folded into the dense
// weights at load time, so inference is matrix-vector products only.
type Model struct {
	labels   []string
	layers   []dense
	alphabet Alphabet
}

// LoadModel reads a ModelFile from path.
func LoadModel(path string, alphabet Alphabet) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var mf ModelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	return NewModel(mf, alphabet)
}

// NewModel validates the layer shapes and folds batch norm.
func NewModel(mf ModelFile, alphabet Alphabet) (*Model, error) {
	if len(mf.Layers) == 0 {
		return nil, ErrNoModel
	}
	if alphabet == nil {
		alphabet = Letters
	}

	in := len(Features{})
	m := &Model{alphabet: alphabet}
	for i, lf := range mf.Layers {
		if len(lf.Weights) == 0 || len(lf.Bias) != len(lf.Weights) {
			return nil, fmt.Errorf("layer %d: %d weight rows, %d biases", i, len(lf.Weights), len(lf.Bias))
		}
		for r, row := range lf.Weights {
			if len(row) != in {
				return nil, fmt.Errorf("layer %d row %d: want %d inputs, got %d", i, r, in, len(row))
			}
		}
		d, err := fold(lf)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers = append(m.layers, d)
		in = len(lf.Weights)
	}

	m.labels = make([]string, in)
	for k, v := range mf.IdxToLabel {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= in {
			return nil, fmt.Errorf("label index %q out of range for %d outputs", k, in)
		}
		m.labels[idx] = v
	}
	return m, nil
}

func fold(lf LayerFile) (dense, error) {
	d := dense{relu: lf.Activation == "relu"}
	switch lf.Activation {
	case "", "relu", "linear":
	default:
		return d, fmt.Errorf("unsupported activation %q", lf.Activation)
	}

	out := len(lf.Weights)
	d.w = make([][]float64, out)
	d.b = make([]float64, out)
	for o := range lf.Weights {
		scale, shift := 1.0, 0.0
		if bn := lf.BatchNorm; bn != nil {
			if len(bn.Mean) != out || len(bn.Var) != out || len(bn.Gamma) != out || len(bn.Beta) != out {
				return d, fmt.Errorf("batch norm size mismatch")
			}
			scale = bn.Gamma[o] / math.Sqrt(bn.Var[o]+bn.Eps)
			shift = bn.Beta[o] - bn.Mean[o]*scale
		}
		d.w[o] = make([]float64, len(lf.Weights[o]))
		for i, w := range lf.Weights[o] {
			d.w[o][i] = w * scale
		}
		d.b[o] = lf.Bias[o]*scale + shift
	}
	return d, nil
}

// Labels returns the label for every model output, in output order.
func (m *Model) Labels() []string {
	return m.labels
}

// Classify runs the forward pass, applies softmax over every output and
// restricts the result to the alphabet.
func (m *Model) Classify(ctx context.Context, features Features) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	x := make([]float64, len(features))
	for i, f := range features {
		x[i] = float64(f)
	}
	for _, l := range m.layers {
		y := make([]float64, len(l.w))
		for o, row := range l.w {
			sum := l.b[o]
			for i, w := range row {
				sum += w * x[i]
			}
			if l.relu && sum < 0 {
				sum = 0
			}
			y[o] = sum
		}
		x = y
	}

	return Restrict(m.labels, Softmax(x), m.alphabet), nil
}
