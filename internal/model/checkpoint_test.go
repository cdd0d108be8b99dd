package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCheckpoint_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fire.yaml", `
model: fire.onnx
names:
  0: fuego
  1: humo
task: detect
image_size: 320
`)

	cp, err := readCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fire.onnx"), cp.ModelPath)
	assert.True(t, cp.HasLabels)
	assert.Equal(t, []string{"fuego", "humo"}, cp.Labels.Names())
	assert.Equal(t, "detect", cp.Task)
	assert.Equal(t, 320, cp.ImageSize)
	assert.Equal(t, Logits, cp.Activation)
}

func TestReadCheckpoint_JSONWithClasses(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model_metadata.json", `{
  "model_path": "/abs/classifier.onnx",
  "classes": ["humo", "fuego", "normal"],
  "image_size": 224,
  "output": "probabilities"
}`)

	cp, err := readCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, "/abs/classifier.onnx", cp.ModelPath)
	assert.Equal(t, []string{"humo", "fuego", "normal"}, cp.Labels.Names())
	assert.Equal(t, Probabilities, cp.Activation)
	assert.Equal(t, "", cp.Task)
}

func TestReadCheckpoint_LabelsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "labels.txt", "fuego\nhumo\n")
	path := writeFile(t, dir, "fire.yaml", "weights: fire.onnx\nlabels_file: labels.txt\n")

	cp, err := readCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"fuego", "humo"}, cp.Labels.Names())
}

func TestReadCheckpoint_NoNames(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fire.yaml", "model: fire.onnx\n")

	cp, err := readCheckpoint(path)
	require.NoError(t, err)
	assert.False(t, cp.HasLabels)
}

func TestReadCheckpoint_Errors(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"nomodel.yaml":  "names: [fuego, humo]\n",
		"badtask.yaml":  "model: a.onnx\ntask: segment\n",
		"badnames.yaml": "model: a.onnx\nnames: 12\n",
		"broken.json":   "{not json",
	} {
		path := writeFile(t, dir, name, content)
		_, err := readCheckpoint(path)
		assert.Error(t, err, name)
	}
}
