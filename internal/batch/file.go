package batch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// LoadFile reads a batch description from a YAML file:
//
//	name: sweep
//	jobs:
//	  - program: train_watermark_cifar.py
//	    checkpoint: checkpoint/infected_cifar_10
//	    trigger: Trigger1.png
//	    alpha: Alpha1.png
//	    poison_rate: 0.1
func LoadFile(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("error reading batch file %s: %w", path, err)
	}

	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("error parsing batch file %s: %w", path, err)
	}

	if b.Name == "" {
		b.Name = path
	}

	if err := b.Validate(); err != nil {
		return Batch{}, err
	}

	return b, nil
}
