// Package simulate runs adaptive attempts for simulated test-takers whose
// true ability is known, to check how well the engine recovers it.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/irt"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// Responder picks the answer of a simulated taker.
type Responder func(item itembank.Item) []string

// Probabilistic answers correctly with the 3PL probability at theta.
func Probabilistic(theta float64, rng *rand.Rand) Responder {
	return func(item itembank.Item) []string {
		if rng.Float64() < irt.Prob(theta, item.Params) {
			return Correct(item)
		}
		return Wrong(item)
	}
}

// Always answers every item correctly when correct is true, and
// incorrectly otherwise.
func Always(correct bool) Responder {
	return func(item itembank.Item) []string {
		if correct {
			return Correct(item)
		}
		return Wrong(item)
	}
}

// Correct returns the item's key.
func Correct(item itembank.Item) []string {
	return slices.Clone(item.Key)
}

// Wrong returns the first option that is not part of the key.
func Wrong(item itembank.Item) []string {
	for _, o := range item.Options {
		if !slices.Contains(item.Key, o.ID) {
			return []string{o.ID}
		}
	}
	return nil
}

// Config describes a simulation run.
type Config struct {
	Engine engine.Config

	// Takers is the number of simulated attempts. Ignored when Thetas is set.
	Takers int

	// Thetas fixes the true abilities. Empty draws them from N(0, 1).
	Thetas []float64

	Seed uint64

	// Parallelism caps concurrent attempts. Zero uses GOMAXPROCS.
	Parallelism int
}

// DefaultConfig returns a 500-taker run with the default engine settings.
func DefaultConfig() Config {
	return Config{Engine: engine.DefaultConfig(), Takers: 500, Seed: 1}
}

// Result is the outcome of one simulated attempt.
type Result struct {
	TrueTheta  float64
	Theta      float64
	SE         float64
	Items      int
	StopReason stopping.Reason

	// SETrace is the SE after each response.
	SETrace []float64
	ItemIDs []string
}

// Summary aggregates a run.
type Summary struct {
	Attempts  int
	Bias      float64
	RMSE      float64
	MeanItems float64

	// MeanSE[i] is the mean SE after response i+1 over the attempts that
	// got that far.
	MeanSE      []float64
	StopReasons map[stopping.Reason]int

	// MaxExposure is the largest share of attempts that saw one item.
	MaxExposure float64
}

// Run simulates cfg's takers against the bank. Attempts share only the
// read-only bank, so they run in parallel; results are ordered by taker and
// depend on the seed alone.
func Run(ctx context.Context, cfg Config, bank []itembank.Item) (Summary, []Result, error) {
	if err := cfg.Engine.Validate(); err != nil {
		return Summary{}, nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if len(bank) == 0 {
		return Summary{}, nil, errors.New("item bank is empty")
	}

	thetas := cfg.Thetas
	if len(thetas) == 0 {
		rng := rand.New(rand.NewPCG(cfg.Seed, 0))
		thetas = make([]float64, cfg.Takers)
		for i := range thetas {
			thetas[i] = rng.NormFloat64()
		}
	}

	source := itembank.NewMemoryBank(bank...)
	filter := itembank.Filter{ToolID: bank[0].ToolID}
	results := make([]Result, len(thetas))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cmpOr(cfg.Parallelism, runtime.GOMAXPROCS(0)))
	for i, theta := range thetas {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
			id := fmt.Sprintf("sim-%05d", i)
			att := engine.Attempt{ID: id, TakerID: id, ToolID: filter.ToolID, Filter: filter}
			res, err := RunOne(ctx, cfg.Engine, source, att, theta, Probabilistic(theta, rng))
			if err != nil {
				return fmt.Errorf("taker %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, nil, err
	}
	return Summarize(results), results, nil
}

// RunOne drives a single attempt to its stop and returns the outcome.
func RunOne(ctx context.Context, cfg engine.Config, source engine.ItemSource, att engine.Attempt, trueTheta float64, respond Responder) (Result, error) {
	eng, err := engine.New(cfg, att, source, scratchStore{}, engine.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		return Result{}, err
	}

	res := Result{TrueTheta: trueTheta}
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		item, err := eng.NextItem(ctx)
		if errors.Is(err, engine.ErrStopped) {
			break
		}
		if err != nil {
			return Result{}, err
		}
		state, err := eng.SubmitResponse(ctx, item.ID, respond(item))
		if err != nil {
			return Result{}, err
		}
		res.SETrace = append(res.SETrace, state.SE)
		res.ItemIDs = append(res.ItemIDs, item.ID)
	}

	report, err := eng.Finalize(ctx)
	if err != nil {
		return Result{}, err
	}
	res.Theta = report.Theta
	res.SE = report.SE
	res.Items = report.TotalItems
	res.StopReason = report.StopReason
	return res, nil
}

// Summarize aggregates results in order.
func Summarize(results []Result) Summary {
	s := Summary{Attempts: len(results), StopReasons: make(map[stopping.Reason]int)}
	if len(results) == 0 {
		return s
	}

	var sumErr, sumSq, sumItems float64
	var seSum []float64
	var seN []int
	exposures := make(map[string]int)
	for _, r := range results {
		for _, id := range r.ItemIDs {
			exposures[id]++
		}
		d := r.Theta - r.TrueTheta
		sumErr += d
		sumSq += d * d
		sumItems += float64(r.Items)
		s.StopReasons[r.StopReason]++
		for i, se := range r.SETrace {
			if i == len(seSum) {
				seSum = append(seSum, 0)
				seN = append(seN, 0)
			}
			seSum[i] += se
			seN[i]++
		}
	}
	n := float64(len(results))
	s.Bias = sumErr / n
	s.RMSE = math.Sqrt(sumSq / n)
	s.MeanItems = sumItems / n
	for _, c := range exposures {
		s.MaxExposure = max(s.MaxExposure, float64(c)/n)
	}
	s.MeanSE = make([]float64, len(seSum))
	for i := range seSum {
		s.MeanSE[i] = seSum[i] / float64(seN[i])
	}
	return s
}

// SyntheticBank generates n single-choice items with difficulties spread
// over [-3, 3], discriminations in [0.8, 2.2] and guessing in [0.1, 0.25].
func SyntheticBank(toolID string, n int, seed uint64) []itembank.Item {
	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	categories := []string{"concepts", "practice", "risks"}
	items := make([]itembank.Item, n)
	for i := range items {
		b := -3 + 6*(float64(i)+rng.Float64())/float64(n)
		items[i] = itembank.Item{
			ID:       fmt.Sprintf("%s-%04d", toolID, i+1),
			ToolID:   toolID,
			Category: categories[i%len(categories)],
			Type:     itembank.SingleChoice,
			Params: irt.Params{
				A: 0.8 + 1.4*rng.Float64(),
				B: b,
				C: 0.1 + 0.15*rng.Float64(),
			},
			Options: []itembank.Option{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
			Key:     []string{[]string{"a", "b", "c", "d"}[rng.IntN(4)]},
		}
	}
	return items
}

func cmpOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
