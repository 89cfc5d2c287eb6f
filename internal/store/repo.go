package store

import (
	"context"
	"time"

	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// ListOpts configures attempt listings with filtering and pagination.
type ListOpts struct {
	TakerID string
	ToolID  string
	Status  attempt.Status
	Limit   int // max results (0 = unlimited)
	Offset  int
}

// AttemptSummary is one row of an attempt listing, joined with the latest
// ability snapshot.
type AttemptSummary struct {
	ID          string          `json:"id"`
	TakerID     string          `json:"taker_id"`
	ToolID      string          `json:"tool_id"`
	Status      attempt.Status  `json:"status"`
	Flagged     bool            `json:"flagged"`
	StopReason  stopping.Reason `json:"stop_reason,omitempty"`
	ItemCount   int             `json:"item_count"`
	Theta       *float64        `json:"theta,omitempty"`
	SE          *float64        `json:"se,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ToolSummary describes one tool present in the item bank.
type ToolSummary struct {
	ToolID     string   `json:"tool_id"`
	Items      int      `json:"items"`
	Categories []string `json:"categories"`
}

// QuarantinedItem is an item excluded from selection.
type QuarantinedItem struct {
	ItemID    string    `json:"item_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// LLMRequestEventData captures the data for a single LLM request event.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
}

// LLMUsage aggregates recorded LLM requests of one provider and model.
type LLMUsage struct {
	Provider     string
	Model        string
	Requests     int
	Failures     int
	InputTokens  int64
	OutputTokens int64
}

// EventRepo provides append access to domain events.
type EventRepo interface {
	// AppendLLMRequest records an LLM API call event.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error

	// LLMUsage sums recorded LLM requests per provider and model.
	LLMUsage(ctx context.Context) ([]LLMUsage, error)
}
