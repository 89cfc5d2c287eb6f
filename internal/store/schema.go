package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table and column names.
const (
	tableItems       = "items"
	tableAttempts    = "attempts"
	tableResponses   = "responses"
	tableSnapshots   = "attempt_snapshots"
	tableQuarantine  = "item_quarantine"
	tableLLMRequests = "llm_request_events"
	tableSequence    = "global_sequence"
)

var (
	// ItemsColumns holds the columns for the "items" table.
	ItemsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 128},
		{Name: "tool_id", Type: field.TypeString, Size: 128},
		{Name: "category", Type: field.TypeString, Size: 128},
		{Name: "audience", Type: field.TypeString, Default: ""},
		{Name: "type", Type: field.TypeString},
		{Name: "prompt", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "discrimination", Type: field.TypeFloat64},
		{Name: "difficulty", Type: field.TypeFloat64},
		{Name: "guessing", Type: field.TypeFloat64, Default: 0},
		{Name: "options", Type: field.TypeJSON},
		{Name: "answer_key", Type: field.TypeJSON},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// ItemsTable holds the schema information for the "items" table.
	ItemsTable = &schema.Table{
		Name:       tableItems,
		Columns:    ItemsColumns,
		PrimaryKey: []*schema.Column{ItemsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "item_tool_id_category", Unique: false, Columns: []*schema.Column{ItemsColumns[1], ItemsColumns[2]}},
		},
	}

	// AttemptsColumns holds the columns for the "attempts" table.
	AttemptsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 64},
		{Name: "taker_id", Type: field.TypeString, Size: 128},
		{Name: "tool_id", Type: field.TypeString, Size: 128},
		{Name: "filter", Type: field.TypeJSON},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "flagged", Type: field.TypeBool, Default: false},
		{Name: "flag_reason", Type: field.TypeString, Default: ""},
		{Name: "stop_reason", Type: field.TypeString, Default: ""},
		{Name: "item_count", Type: field.TypeInt, Default: 0},
		{Name: "report", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "completed_at", Type: field.TypeTime, Nullable: true},
	}
	// AttemptsTable holds the schema information for the "attempts" table.
	AttemptsTable = &schema.Table{
		Name:       tableAttempts,
		Columns:    AttemptsColumns,
		PrimaryKey: []*schema.Column{AttemptsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "attempt_taker_id_tool_id_status", Unique: false, Columns: []*schema.Column{AttemptsColumns[1], AttemptsColumns[2], AttemptsColumns[4]}},
		},
	}

	// ResponsesColumns holds the columns for the "responses" table.
	ResponsesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "attempt_id", Type: field.TypeString, Size: 64},
		{Name: "sequence", Type: field.TypeInt},
		{Name: "item_id", Type: field.TypeString, Size: 128},
		{Name: "category", Type: field.TypeString, Size: 128},
		{Name: "discrimination", Type: field.TypeFloat64},
		{Name: "difficulty", Type: field.TypeFloat64},
		{Name: "guessing", Type: field.TypeFloat64},
		{Name: "answer", Type: field.TypeJSON},
		{Name: "score", Type: field.TypeFloat64},
		{Name: "correct", Type: field.TypeBool},
		{Name: "response_time_ms", Type: field.TypeInt64},
		{Name: "theta_after", Type: field.TypeFloat64},
		{Name: "se_after", Type: field.TypeFloat64},
		{Name: "answered_at", Type: field.TypeTime},
		{Name: "hints_used", Type: field.TypeInt, Default: 0},
		{Name: "base_points", Type: field.TypeFloat64, Default: 0},
		{Name: "max_base_points", Type: field.TypeFloat64, Default: 0},
	}
	// ResponsesTable holds the schema information for the "responses" table.
	ResponsesTable = &schema.Table{
		Name:       tableResponses,
		Columns:    ResponsesColumns,
		PrimaryKey: []*schema.Column{ResponsesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "responses_attempts_responses",
				Columns:    []*schema.Column{ResponsesColumns[1]},
				RefColumns: []*schema.Column{AttemptsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			// One response per administered item per attempt.
			{Name: "response_attempt_id_item_id", Unique: true, Columns: []*schema.Column{ResponsesColumns[1], ResponsesColumns[3]}},
			{Name: "response_attempt_id_sequence", Unique: true, Columns: []*schema.Column{ResponsesColumns[1], ResponsesColumns[2]}},
			{Name: "response_item_id", Unique: false, Columns: []*schema.Column{ResponsesColumns[3]}},
		},
	}

	// AttemptSnapshotsColumns holds the columns for the "attempt_snapshots" table.
	AttemptSnapshotsColumns = []*schema.Column{
		{Name: "attempt_id", Type: field.TypeString, Size: 64},
		{Name: "theta", Type: field.TypeFloat64},
		{Name: "se", Type: field.TypeFloat64},
		{Name: "item_count", Type: field.TypeInt},
		{Name: "phase", Type: field.TypeString, Size: 16},
		{Name: "state", Type: field.TypeJSON},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// AttemptSnapshotsTable holds exactly one row per attempt, overwritten
	// on every response.
	AttemptSnapshotsTable = &schema.Table{
		Name:       tableSnapshots,
		Columns:    AttemptSnapshotsColumns,
		PrimaryKey: []*schema.Column{AttemptSnapshotsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "attempt_snapshots_attempts_snapshot",
				Columns:    []*schema.Column{AttemptSnapshotsColumns[0]},
				RefColumns: []*schema.Column{AttemptsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
	}

	// ItemQuarantineColumns holds the columns for the "item_quarantine" table.
	ItemQuarantineColumns = []*schema.Column{
		{Name: "item_id", Type: field.TypeString, Size: 128},
		{Name: "reason", Type: field.TypeString, Size: 2147483647},
		{Name: "created_at", Type: field.TypeTime},
	}
	// ItemQuarantineTable holds the schema information for the "item_quarantine" table.
	ItemQuarantineTable = &schema.Table{
		Name:       tableQuarantine,
		Columns:    ItemQuarantineColumns,
		PrimaryKey: []*schema.Column{ItemQuarantineColumns[0]},
	}

	// LlmRequestEventsColumns holds the columns for the "llm_request_events" table.
	LlmRequestEventsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "sequence", Type: field.TypeInt64, Unique: true},
		{Name: "timestamp", Type: field.TypeTime},
		{Name: "provider", Type: field.TypeString},
		{Name: "model", Type: field.TypeString},
		{Name: "purpose", Type: field.TypeString},
		{Name: "input_tokens", Type: field.TypeInt},
		{Name: "output_tokens", Type: field.TypeInt},
		{Name: "latency_ms", Type: field.TypeInt64},
		{Name: "success", Type: field.TypeBool},
		{Name: "error_message", Type: field.TypeString, Default: ""},
	}
	// LlmRequestEventsTable holds the schema information for the "llm_request_events" table.
	LlmRequestEventsTable = &schema.Table{
		Name:       tableLLMRequests,
		Columns:    LlmRequestEventsColumns,
		PrimaryKey: []*schema.Column{LlmRequestEventsColumns[0]},
	}

	// GlobalSequenceColumns holds the columns for the "global_sequence" table.
	GlobalSequenceColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt},
		{Name: "next_val", Type: field.TypeInt64, Default: 1},
	}
	// GlobalSequenceTable holds the single-row event sequence counter.
	GlobalSequenceTable = &schema.Table{
		Name:       tableSequence,
		Columns:    GlobalSequenceColumns,
		PrimaryKey: []*schema.Column{GlobalSequenceColumns[0]},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		ItemsTable,
		AttemptsTable,
		ResponsesTable,
		AttemptSnapshotsTable,
		ItemQuarantineTable,
		LlmRequestEventsTable,
		GlobalSequenceTable,
	}
)

func init() {
	ResponsesTable.ForeignKeys[0].RefTable = AttemptsTable
	AttemptSnapshotsTable.ForeignKeys[0].RefTable = AttemptsTable
}
