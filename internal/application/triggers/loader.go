package triggers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type triggersFile struct {
	Triggers []Trigger `yaml:"triggers"`
}

// LoadFile reads a YAML file of cron triggers.
func LoadFile(path string) ([]Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read triggers file: %w", err)
	}

	var file triggersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse triggers file: %w", err)
	}

	return file.Triggers, nil
}
