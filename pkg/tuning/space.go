package tuning

import (
	"fmt"
	"math/rand"

	"github.com/HatiCode/lagcast/pkg/models"
)

// IntRange is an inclusive integer range sampled on a Step grid.
type IntRange struct {
	Min  int `yaml:"min"`
	Max  int `yaml:"max"`
	Step int `yaml:"step"`
}

func (r IntRange) sample(rng *rand.Rand) int {
	step := r.Step
	if step < 1 {
		step = 1
	}
	n := (r.Max-r.Min)/step + 1
	return r.Min + rng.Intn(n)*step
}

func (r IntRange) validate(name string) error {
	if r.Max < r.Min {
		return fmt.Errorf("%s: max %d < min %d", name, r.Max, r.Min)
	}
	return nil
}

// FloatRange is a uniform range [Min, Max).
type FloatRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (r FloatRange) sample(rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

func (r FloatRange) validate(name string) error {
	if r.Max < r.Min {
		return fmt.Errorf("%s: max %v < min %v", name, r.Max, r.Min)
	}
	return nil
}

// Space is the hyperparameter search space.
type Space struct {
	BoostingTypes   []string   `yaml:"boostingTypes"`
	NumLeaves       IntRange   `yaml:"numLeaves"`
	MaxDepth        IntRange   `yaml:"maxDepth"`
	LearningRate    FloatRange `yaml:"learningRate"`
	NEstimators     IntRange   `yaml:"nEstimators"`
	MinChildWeight  FloatRange `yaml:"minChildWeight"`
	ColsampleByTree FloatRange `yaml:"colsampleByTree"`
	RegLambda       IntRange   `yaml:"regLambda"`
	RegAlpha        IntRange   `yaml:"regAlpha"`
}

// DefaultSpace returns the standard search ranges.
func DefaultSpace() Space {
	return Space{
		BoostingTypes:   []string{models.BoostingGBDT, models.BoostingGOSS},
		NumLeaves:       IntRange{Min: 4, Max: 64, Step: 2},
		MaxDepth:        IntRange{Min: 2, Max: 8, Step: 1},
		LearningRate:    FloatRange{Min: 1e-5, Max: 0.3},
		NEstimators:     IntRange{Min: 10, Max: 1000, Step: 10},
		MinChildWeight:  FloatRange{Min: 1e-3, Max: 0.25},
		ColsampleByTree: FloatRange{Min: 0.4, Max: 1},
		RegLambda:       IntRange{Min: 0, Max: 50, Step: 1},
		RegAlpha:        IntRange{Min: 0, Max: 50, Step: 1},
	}
}

// Validate checks every range is well formed.
func (s Space) Validate() error {
	if len(s.BoostingTypes) == 0 {
		return fmt.Errorf("boostingTypes cannot be empty")
	}
	for _, c := range []struct {
		name string
		r    IntRange
	}{
		{"numLeaves", s.NumLeaves},
		{"maxDepth", s.MaxDepth},
		{"nEstimators", s.NEstimators},
		{"regLambda", s.RegLambda},
		{"regAlpha", s.RegAlpha},
	} {
		if err := c.r.validate(c.name); err != nil {
			return err
		}
	}
	for _, c := range []struct {
		name string
		r    FloatRange
	}{
		{"learningRate", s.LearningRate},
		{"minChildWeight", s.MinChildWeight},
		{"colsampleByTree", s.ColsampleByTree},
	} {
		if err := c.r.validate(c.name); err != nil {
			return err
		}
	}
	return nil
}

// Sample draws one candidate. Parameters outside the space come from base.
func (s Space) Sample(rng *rand.Rand, base models.Params) models.Params {
	p := base
	p.BoostingType = s.BoostingTypes[rng.Intn(len(s.BoostingTypes))]
	p.NumLeaves = s.NumLeaves.sample(rng)
	p.MaxDepth = s.MaxDepth.sample(rng)
	p.LearningRate = s.LearningRate.sample(rng)
	p.NEstimators = s.NEstimators.sample(rng)
	p.MinChildWeight = s.MinChildWeight.sample(rng)
	p.ColsampleByTree = s.ColsampleByTree.sample(rng)
	p.RegLambda = float64(s.RegLambda.sample(rng))
	p.RegAlpha = float64(s.RegAlpha.sample(rng))
	return p
}
