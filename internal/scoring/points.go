package scoring

import (
	"time"

	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/itembank"
)

// Points rules applied on top of an item's base points.
const (
	HintPenalty = 10

	// TimeLimit is the nominal time per item. Answers with a positive score
	// earn FastBonus under half of it and QuickBonus under three quarters.
	TimeLimit  = 120 * time.Second
	FastBonus  = 10
	QuickBonus = 5

	// StreakBonus is awarded on every StreakLength-th consecutive correct
	// answer.
	StreakBonus  = 5
	StreakLength = 3
)

// ResponsePoints is the points breakdown of one response.
type ResponsePoints struct {
	Base        float64 `json:"base"`
	HintPenalty float64 `json:"hint_penalty"`
	TimeBonus   float64 `json:"time_bonus"`
	StreakBonus float64 `json:"streak_bonus"`
	Earned      float64 `json:"earned"`
	Max         float64 `json:"max"`
}

// PointsFor scores a response. streak is the run of consecutive correct
// answers ending with this one, zero when it is not correct. Earned never
// goes below zero; Max is what the same response would earn with a full
// score and no hints.
func PointsFor(resp attempt.Response, streak int) ResponsePoints {
	base, maxBase := resp.BasePoints, resp.MaxBasePoints
	if maxBase == 0 {
		// Responses recorded before points were tracked.
		base, maxBase = resp.Score*itembank.DefaultPoints, itembank.DefaultPoints
	}

	p := ResponsePoints{
		Base:        base,
		HintPenalty: float64(resp.HintsUsed * HintPenalty),
	}
	if resp.Score > 0 {
		switch {
		case resp.ResponseTime < TimeLimit/2:
			p.TimeBonus = FastBonus
		case resp.ResponseTime < TimeLimit*3/4:
			p.TimeBonus = QuickBonus
		}
	}
	if resp.Correct && streak > 0 && streak%StreakLength == 0 {
		p.StreakBonus = StreakBonus
	}
	p.Earned = max(0, p.Base-p.HintPenalty+p.TimeBonus+p.StreakBonus)
	p.Max = maxBase + p.TimeBonus + p.StreakBonus
	return p
}
