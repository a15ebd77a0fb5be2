package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedInstrument is an instrument entry in the seed YAML file.
type SeedInstrument struct {
	Name         string `yaml:"name"`
	PurchaseCost int64  `yaml:"purchase_cost"`
	SaleCost     int64  `yaml:"sale_cost"`
}

// SeedFile represents the top-level YAML structure:
//
//	instruments:
//	  - name: Favicoin
//	    purchase_cost: 200
//	    sale_cost: 100
type SeedFile struct {
	Instruments []SeedInstrument `yaml:"instruments"`
}

// LoadSeed reads instruments from a YAML file.
func LoadSeed(path string) ([]SeedInstrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for i, in := range file.Instruments {
		if in.Name == "" {
			return nil, fmt.Errorf("instruments[%d].name is required", i)
		}
		if in.PurchaseCost <= 0 || in.SaleCost <= 0 {
			return nil, fmt.Errorf("instruments[%d] (%s): costs must be > 0", i, in.Name)
		}
	}
	if len(file.Instruments) == 0 {
		return nil, errors.New("seed file lists no instruments")
	}
	return file.Instruments, nil
}
