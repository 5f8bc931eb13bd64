// Package scheduler implements the ant-colony construction engine that places
// a batch of VMs on the hosts of one datacenter.
package scheduler

import (
	"fmt"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
)

// Config holds the construction engine configuration.
type Config struct {
	// Variant selects the construction policy.
	// - "liu2016": VM x VM trails, shuffled order, may overload then repair
	// - "liu2017": VM x VM trails, submission order, widens the candidate set
	// - "ouracs": VM x Host trails, submission order, leaves the VM unplaced
	Variant string `mapstructure:"variant"`

	// Generations is the number of generations G.
	Generations int `mapstructure:"generations"`

	// Ants is the number of ants A per generation.
	Ants int `mapstructure:"ants"`

	// Q0 is the exploitation probability of the construction rule.
	Q0 float64 `mapstructure:"q0"`

	// Beta weighs the heuristic against the pheromone.
	Beta float64 `mapstructure:"beta"`

	// LocalDecay is the local pheromone update rate in (0,1).
	LocalDecay float64 `mapstructure:"local_decay"`

	// GlobalDecay is the global pheromone update rate in (0,1).
	GlobalDecay float64 `mapstructure:"global_decay"`

	// ArchiveSize bounds the external archive (liu2017 and ouracs only).
	ArchiveSize int `mapstructure:"archive_size"`

	// Parallel runs the ants of a generation concurrently.
	Parallel bool `mapstructure:"parallel"`

	// Workers caps concurrent ants; zero means one per CPU.
	Workers int `mapstructure:"workers"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Variant:     string(VariantOurAcs),
		Generations: 30,
		Ants:        10,
		Q0:          0.9,
		Beta:        2,
		LocalDecay:  0.1,
		GlobalDecay: 0.1,
		ArchiveSize: 20,
		Parallel:    true,
	}
}

// Validate rejects out-of-range values before any search work.
func (c Config) Validate() error {
	policy, err := PolicyFor(Variant(c.Variant))
	if err != nil {
		return err
	}
	switch {
	case c.Generations <= 0:
		return &domain.ConfigError{Field: "generations", Reason: fmt.Sprintf("must be positive, got %d", c.Generations)}
	case c.Ants <= 0:
		return &domain.ConfigError{Field: "ants", Reason: fmt.Sprintf("must be positive, got %d", c.Ants)}
	case c.Q0 < 0 || c.Q0 > 1:
		return &domain.ConfigError{Field: "q0", Reason: fmt.Sprintf("must be in [0,1], got %v", c.Q0)}
	case c.Beta <= 0:
		return &domain.ConfigError{Field: "beta", Reason: fmt.Sprintf("must be positive, got %v", c.Beta)}
	case c.LocalDecay <= 0 || c.LocalDecay >= 1:
		return &domain.ConfigError{Field: "local_decay", Reason: fmt.Sprintf("must be in (0,1), got %v", c.LocalDecay)}
	case c.GlobalDecay <= 0 || c.GlobalDecay >= 1:
		return &domain.ConfigError{Field: "global_decay", Reason: fmt.Sprintf("must be in (0,1), got %v", c.GlobalDecay)}
	case policy.UseArchive && c.ArchiveSize <= 0:
		return &domain.ConfigError{Field: "archive_size", Reason: fmt.Sprintf("must be positive for %s, got %d", c.Variant, c.ArchiveSize)}
	case c.Workers < 0:
		return &domain.ConfigError{Field: "workers", Reason: fmt.Sprintf("must not be negative, got %d", c.Workers)}
	}
	return nil
}
