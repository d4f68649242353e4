package manifest

import (
	"gopkg.in/yaml.v3"
)

type yamlManifest struct {
	Name       string             `yaml:"name"`
	Vendor     string             `yaml:"vendor"`
	Version    string             `yaml:"version"`
	ID         string             `yaml:"id"`
	Category   string             `yaml:"category"`
	Inputs     int                `yaml:"inputs"`
	Outputs    int                `yaml:"outputs"`
	Parameters map[string]float64 `yaml:"parameters"`
	InitDelay  string             `yaml:"init_delay"`
	Fail       string             `yaml:"fail"`
}

func decodeYAML(data []byte) (*Manifest, error) {
	var raw yamlManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	delay, err := parseDelay(raw.InitDelay)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		Name:       raw.Name,
		Vendor:     raw.Vendor,
		Version:    raw.Version,
		ID:         raw.ID,
		Category:   raw.Category,
		Inputs:     raw.Inputs,
		Outputs:    raw.Outputs,
		Parameters: raw.Parameters,
		InitDelay:  delay,
		Fail:       raw.Fail,
	}, nil
}
