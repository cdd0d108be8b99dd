package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearHead_Apply(t *testing.T) {
	head := &LinearHead{
		Weights: [][]float32{{1, 2}, {-1, 0.5}},
		Bias:    []float32{0.5, 0},
	}
	require.NoError(t, head.Validate(2))

	out := head.Apply([]float32{2, 3})
	assert.InDeltaSlice(t, []float32{8.5, -0.5}, out, 1e-6)
	assert.Equal(t, 2, head.InFeatures())
	assert.Equal(t, 2, head.OutFeatures())
}

func TestNewZeroHead(t *testing.T) {
	head := NewZeroHead(4, 2)
	require.NoError(t, head.Validate(4))
	assert.Equal(t, []float32{0, 0}, head.Apply([]float32{1, 2, 3, 4}))
}

func TestLoadHead(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "head.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"weights": [[1, 0, 0], [0, 1, 0]], "bias": [0, 0.1]}`), 0o644))
	head, err := LoadHead(good)
	require.NoError(t, err)
	assert.Equal(t, 3, head.InFeatures())

	ragged := filepath.Join(dir, "ragged.json")
	require.NoError(t, os.WriteFile(ragged, []byte(`{"weights": [[1, 0, 0], [0, 1]], "bias": [0, 0]}`), 0o644))
	head, err = LoadHead(ragged)
	assert.Error(t, err)
	assert.Nil(t, head)

	noBias := filepath.Join(dir, "nobias.json")
	require.NoError(t, os.WriteFile(noBias, []byte(`{"weights": [[1]]}`), 0o644))
	head, err = LoadHead(noBias)
	assert.Error(t, err)
	assert.Nil(t, head)

	_, err = LoadHead(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
