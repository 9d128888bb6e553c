// Package tuning runs a seeded random hyperparameter search.
//
// Trial parameters are drawn up front from a single seeded source, so the
// candidates of trial i are the same whatever the parallelism. The search
// stops after nTrials trials or when the wall-clock budget runs out,
// whichever comes first, and returns the trial with the lowest objective.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/lagcast/pkg/models"
)

// DefaultTimeout is the wall-clock budget of a search.
const DefaultTimeout = 600 * time.Second

// Objective scores a parameter set; lower is better.
type Objective func(ctx context.Context, p models.Params) (float64, error)

// Trial is one evaluated candidate.
type Trial struct {
	Number   int           `json:"number"`
	Params   models.Params `json:"params"`
	Value    float64       `json:"value"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Result summarises a finished search.
type Result struct {
	Best   Trial
	Trials []Trial
}

// Study configures a search.
type Study struct {
	Space Space
	// Base supplies the parameters the space does not sample.
	Base        models.Params
	Seed        int64
	Timeout     time.Duration
	Parallelism int
	Logger      *slog.Logger
}

// NewStudy returns a study over DefaultSpace with the default budget.
func NewStudy(seed int64, logger *slog.Logger) *Study {
	return &Study{
		Space:       DefaultSpace(),
		Base:        models.DefaultParams(),
		Seed:        seed,
		Timeout:     DefaultTimeout,
		Parallelism: 1,
		Logger:      logger,
	}
}

// Optimize evaluates up to nTrials candidates and returns the best one.
// Trials still running when the budget expires see a cancelled context.
func (s *Study) Optimize(ctx context.Context, objective Objective, nTrials int) (Result, error) {
	if nTrials < 1 {
		return Result{}, fmt.Errorf("n_trials must be >= 1, got %d", nTrials)
	}
	if err := s.Space.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid search space: %w", err)
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	parallelism := s.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	rng := rand.New(rand.NewSource(s.Seed))
	candidates := make([]models.Params, nTrials)
	for i := range candidates {
		candidates[i] = s.Space.Sample(rng, s.Base)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		trials []Trial
	)
	g := new(errgroup.Group)
	g.SetLimit(parallelism)

	for i, p := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			start := time.Now()
			v, err := objective(ctx, p)
			if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
				err = fmt.Errorf("objective returned %v", v)
			}
			t := Trial{Number: i, Params: p, Value: v, Err: err, Duration: time.Since(start)}
			if err != nil {
				logger.Debug("trial failed", "trial", i, "error", err)
			} else {
				logger.Debug("trial finished", "trial", i, "value", v, "duration", t.Duration)
			}

			mu.Lock()
			trials = append(trials, t)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Trials: sortTrials(trials)}
	found := false
	for _, t := range res.Trials {
		if t.Err != nil {
			continue
		}
		if !found || t.Value < res.Best.Value {
			res.Best = t
			found = true
		}
	}
	if !found {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("no trial finished within %s", timeout)
		}
		return res, fmt.Errorf("all %d trials failed", len(res.Trials))
	}

	logger.Info("hyperparameter search finished",
		"trials", len(res.Trials),
		"best_trial", res.Best.Number,
		"best_value", res.Best.Value,
	)
	return res, nil
}

func sortTrials(trials []Trial) []Trial {
	out := slices.Clone(trials)
	slices.SortFunc(out, func(a, b Trial) int { return a.Number - b.Number })
	return out
}
