package model

import (
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

// Keys a checkpoint manifest may use, in lookup order.
var (
	checkpointModelKeys = []string{"model", "model_path", "weights"}
	checkpointNameKeys  = []string{"names", "classes", "class_names"}
)

// checkpoint is what a manifest says about a serialized model.
type checkpoint struct {
	ModelPath  string
	Labels     Labels
	HasLabels  bool
	Task       string
	Activation Activation
	ImageSize  int
}

// readCheckpoint introspects a YAML or JSON manifest. Relative paths are
// resolved against the manifest's directory.
func readCheckpoint(path string) (checkpoint, error) {
	k := koanf.New(".")
	var parser koanf.Parser = yaml.Parser()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		parser = json.Parser()
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return checkpoint{}, errors.Wrap(err, "read checkpoint")
	}

	dir := filepath.Dir(path)
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	var cp checkpoint
	for _, key := range checkpointModelKeys {
		if v := k.String(key); v != "" {
			cp.ModelPath = resolve(v)
			break
		}
	}
	if cp.ModelPath == "" {
		return checkpoint{}, errors.Errorf("checkpoint %s has no model under %v", path, checkpointModelKeys)
	}

	for _, key := range checkpointNameKeys {
		if !k.Exists(key) {
			continue
		}
		labels, err := ParseLabels(k.Get(key))
		if err != nil {
			return checkpoint{}, errors.Wrapf(err, "checkpoint key %q", key)
		}
		cp.Labels, cp.HasLabels = labels, true
		break
	}
	if !cp.HasLabels {
		if labelsFile := k.String("labels_file"); labelsFile != "" {
			labels, err := LoadLabelsFile(resolve(labelsFile))
			if err != nil {
				return checkpoint{}, err
			}
			cp.Labels, cp.HasLabels = labels, true
		}
	}

	cp.Task = strings.ToLower(k.String("task"))
	switch cp.Task {
	case "", "detect", "classify":
	default:
		return checkpoint{}, errors.Errorf("checkpoint task %q is neither detect nor classify", cp.Task)
	}

	switch strings.ToLower(k.String("output")) {
	case "probabilities", "softmax":
		cp.Activation = Probabilities
	default:
		cp.Activation = Logits
	}

	cp.ImageSize = k.Int("image_size")
	if cp.ImageSize < 0 {
		return checkpoint{}, errors.Errorf("checkpoint image_size %d is negative", cp.ImageSize)
	}

	return cp, nil
}
