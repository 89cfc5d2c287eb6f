// Package scoring turns a finished attempt into a report.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// z95 is the two-sided 95% normal quantile.
const z95 = 1.96

// Level is a coarse band on the ability scale.
type Level string

const (
	Beginner     Level = "Beginner"
	Intermediate Level = "Intermediate"
	Advanced     Level = "Advanced"
	Expert       Level = "Expert"
)

// LevelFor maps theta to its band.
func LevelFor(theta float64) Level {
	switch {
	case theta < -1:
		return Beginner
	case theta < 0:
		return Intermediate
	case theta < 1:
		return Advanced
	}
	return Expert
}

// CategoryScore is the per-category breakdown.
type CategoryScore struct {
	Category string  `json:"category"`
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	Score    float64 `json:"score"`
	Percent  float64 `json:"percent"`
}

// TrajectoryPoint is the estimate after one response.
type TrajectoryPoint struct {
	Sequence   int     `json:"sequence"`
	Theta      float64 `json:"theta"`
	SE         float64 `json:"se"`
	Difficulty float64 `json:"difficulty"`
	Correct    bool    `json:"correct"`
}

// ScoreReport reports raw performance and the latent ability estimate side
// by side. Normalized is computed from scores only and never from theta.
type ScoreReport struct {
	AttemptID       string            `json:"attempt_id"`
	TotalCorrect    int               `json:"total_correct"`
	TotalItems      int               `json:"total_items"`
	RawScore        float64           `json:"raw_score"`
	Normalized      float64           `json:"normalized"`
	Theta           float64           `json:"theta"`
	SE              float64           `json:"se"`
	CI95            [2]float64        `json:"ci95"`
	Level           Level             `json:"level"`
	Categories      []CategoryScore   `json:"categories"`
	Trajectory      []TrajectoryPoint `json:"trajectory"`
	AvgResponseTime time.Duration     `json:"avg_response_time"`
	BestStreak      int               `json:"best_streak"`
	StopReason      stopping.Reason   `json:"stop_reason"`

	// Points are a gamified tally kept apart from RawScore and Theta.
	PointsEarned  float64 `json:"points_earned"`
	MaxPoints     float64 `json:"max_points"`
	PointsPercent float64 `json:"points_percent"`
	HintsUsed     int     `json:"hints_used"`
}

// Compute builds the report. It is pure: equal inputs give identical reports.
func Compute(attemptID string, state ability.State, responses []attempt.Response, reason stopping.Reason) ScoreReport {
	r := ScoreReport{
		AttemptID:  attemptID,
		TotalItems: len(responses),
		Theta:      state.Theta,
		SE:         state.SE,
		Level:      LevelFor(state.Theta),
		StopReason: reason,
		Categories: []CategoryScore{},
		Trajectory: make([]TrajectoryPoint, 0, len(responses)),
	}
	r.CI95[0], r.CI95[1] = state.ConfidenceInterval(z95)

	byCat := make(map[string]*CategoryScore)
	var (
		streak    int
		totalTime time.Duration
	)
	for _, resp := range responses {
		r.RawScore += resp.Score
		totalTime += resp.ResponseTime
		if resp.Correct {
			r.TotalCorrect++
			streak++
			r.BestStreak = max(r.BestStreak, streak)
		} else {
			streak = 0
		}
		pts := PointsFor(resp, streak)
		r.PointsEarned += pts.Earned
		r.MaxPoints += pts.Max
		r.HintsUsed += resp.HintsUsed

		cs, ok := byCat[resp.Category]
		if !ok {
			cs = &CategoryScore{Category: resp.Category}
			byCat[resp.Category] = cs
		}
		cs.Total++
		cs.Score += resp.Score
		if resp.Correct {
			cs.Correct++
		}

		r.Trajectory = append(r.Trajectory, TrajectoryPoint{
			Sequence:   resp.Sequence,
			Theta:      resp.ThetaAfter,
			SE:         resp.SEAfter,
			Difficulty: resp.Params.B,
			Correct:    resp.Correct,
		})
	}

	if r.TotalItems > 0 {
		r.Normalized = round2(r.RawScore / float64(r.TotalItems) * 100)
		r.AvgResponseTime = totalTime / time.Duration(r.TotalItems)
	}
	if r.MaxPoints > 0 {
		r.PointsPercent = round2(r.PointsEarned / r.MaxPoints * 100)
	}

	for _, cs := range byCat {
		cs.Percent = round2(cs.Score / float64(cs.Total) * 100)
		r.Categories = append(r.Categories, *cs)
	}
	sort.Slice(r.Categories, func(i, j int) bool {
		return r.Categories[i].Category < r.Categories[j].Category
	})
	return r
}

// Accuracy returns the share of fully correct responses in percent.
func (r ScoreReport) Accuracy() float64 {
	if r.TotalItems == 0 {
		return 0
	}
	return float64(r.TotalCorrect) / float64(r.TotalItems) * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
