package planner

import (
	"fmt"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
)

// Policy names
const (
	PolicySimple   = "simple"
	PolicyAlwaysOn = "always-on"
)

// Config selects and parameterizes a planner policy
type Config struct {
	Policy       string
	IdleTimeout  time.Duration
	MaxInstances int
	Keys         []types.InstanceKey // Instances kept warm by the always-on policy
}

// New creates the planner named by cfg.Policy
func New(cfg Config) (Planner, error) {
	switch cfg.Policy {
	case PolicySimple, "":
		if cfg.IdleTimeout < 0 {
			return nil, fmt.Errorf("idle timeout must not be negative")
		}
		return &SimplePlanner{IdleTimeout: cfg.IdleTimeout, MaxInstances: cfg.MaxInstances}, nil
	case PolicyAlwaysOn:
		return &AlwaysOnPlanner{Keys: cfg.Keys}, nil
	default:
		return nil, fmt.Errorf("unknown planner policy %q", cfg.Policy)
	}
}
