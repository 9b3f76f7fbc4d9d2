package flock

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/mobu/internal/business"
	"github.com/wesleyorama2/mobu/internal/config"
	"github.com/wesleyorama2/mobu/internal/identity"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Config describes a flock.
type Config struct {
	// Name is unique among running flocks and used in URLs.
	Name string `json:"name" yaml:"name"`

	// Count is the number of monkeys.
	Count int `json:"count" yaml:"count"`

	// UserSpec generates one identity per monkey.
	UserSpec identity.Template `json:"user_spec" yaml:"user_spec"`

	// Scopes are granted to every generated identity.
	Scopes []string `json:"scopes" yaml:"scopes"`

	// Business selects and configures what each monkey does.
	Business business.Spec `json:"business" yaml:"business"`

	// StartBatchSize is how many monkeys start together. Zero starts all
	// monkeys in a single batch.
	StartBatchSize int `json:"start_batch_size,omitempty" yaml:"start_batch_size,omitempty"`

	// StartBatchWait is the pause between batches.
	StartBatchWait config.Duration `json:"start_batch_wait,omitempty" yaml:"start_batch_wait,omitempty"`
}

// Validate checks the flock configuration and returns a
// *config.ValidationErrors listing every problem, or nil.
func (c *Config) Validate() error {
	errs := &config.ValidationErrors{}

	if c.Name == "" {
		errs.Add("name", "flock name is required")
	} else if !namePattern.MatchString(c.Name) {
		errs.Add("name", fmt.Sprintf("invalid flock name %q: use letters, digits, '-' and '_'", c.Name))
	}

	if c.Count <= 0 {
		errs.Add("count", "count must be greater than 0")
	}

	c.UserSpec.Validate("user_spec", errs)
	c.Business.Validate("business", errs)

	if c.StartBatchSize < 0 {
		errs.Add("start_batch_size", "start batch size cannot be negative")
	}
	if c.StartBatchWait < 0 {
		errs.Add("start_batch_wait", "start batch wait cannot be negative")
	}

	return errs.Err()
}

// batchSize returns the effective batch size.
func (c *Config) batchSize() int {
	if c.StartBatchSize <= 0 || c.StartBatchSize > c.Count {
		return c.Count
	}
	return c.StartBatchSize
}

// ParseConfigs decodes a YAML stream of flock configurations. The stream
// may hold one list of flocks or several documents with one flock each.
func ParseConfigs(data []byte) ([]Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var configs []Config
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse flock config: %w", err)
		}
		if len(node.Content) == 0 {
			continue
		}

		if node.Content[0].Kind == yaml.SequenceNode {
			var list []Config
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("failed to parse flock config: %w", err)
			}
			configs = append(configs, list...)
			continue
		}

		var single Config
		if err := node.Decode(&single); err != nil {
			return nil, fmt.Errorf("failed to parse flock config: %w", err)
		}
		configs = append(configs, single)
	}
	return configs, nil
}

// LoadConfigs reads flock configurations from a YAML file.
func LoadConfigs(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flock config: %w", err)
	}
	return ParseConfigs(data)
}
