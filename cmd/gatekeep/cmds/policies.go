package cmds

import (
	"fmt"
	"gatekeep/internal/types"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

// PolicyFile is the YAML layout of a policy override file. Operations not listed keep
// their defaults; fields not set keep the default of their operation.
//
//	policies:
//	  login:
//	    max_attempts: 10
//	    window: 15m
//	    block_duration: 1h
type PolicyFile struct {
	Policies map[string]PolicyEntry `yaml:"policies"`
}

type PolicyEntry struct {
	MaxAttempts   *int   `yaml:"max_attempts"`
	Window        string `yaml:"window"`
	BlockDuration string `yaml:"block_duration"`
}

// LoadPolicies returns the default policy table with the overrides of the YAML file at
// path applied. An empty path returns the defaults.
func LoadPolicies(path string) (map[types.Operation]types.Policy, error) {
	policies := types.DefaultPolicies()
	if path == "" {
		return policies, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var pf PolicyFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return nil, types.Err(types.ErrInvalidPolicy, err, "parse %s", path)
	}
	for name, entry := range pf.Policies {
		op, err := types.ParseOperation(name)
		if err != nil {
			return nil, err
		}
		p, err := entry.apply(policies[op])
		if err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		policies[op] = p
		log.WithFields(log.Fields{
			"operation":      op.String(),
			"max_attempts":   p.MaxAttempts,
			"window":         p.Window,
			"block_duration": p.BlockDuration,
		}).Info("policy override")
	}
	return policies, nil
}

func (e PolicyEntry) apply(p types.Policy) (types.Policy, error) {
	if e.MaxAttempts != nil {
		p.MaxAttempts = *e.MaxAttempts
	}
	if e.Window != "" {
		d, err := time.ParseDuration(e.Window)
		if err != nil {
			return p, types.Err(types.ErrInvalidPolicy, err, "%s: window", p.Operation)
		}
		p.Window = d
	}
	if e.BlockDuration != "" {
		d, err := time.ParseDuration(e.BlockDuration)
		if err != nil {
			return p, types.Err(types.ErrInvalidPolicy, err, "%s: block_duration", p.Operation)
		}
		p.BlockDuration = d
	}
	return p, nil
}
