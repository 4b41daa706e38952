package sqlgate

// Status tags the terminal state of an execution attempt. Every ExecuteResult
// carries exactly one.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusBlocked             Status = "blocked"
	StatusError               Status = "error"
	StatusApprovalRequired    Status = "approval_required"
	StatusClarificationNeeded Status = "clarification_needed"
)

// ConnectionDescriptor selects a backend for one request. A nil descriptor on
// an ExecuteRequest means the system connection configured in the registry.
type ConnectionDescriptor struct {
	Provider   Identity `json:"provider"`
	ConnString string   `json:"conn_string"`
}

// ExecuteRequest is one execution attempt. SQL comes from an external
// proposer (or directly from a caller); the core never generates SQL itself.
// Clarification is set instead of SQL when the proposer needs more input from
// the user; the pipeline records the attempt and executes nothing.
type ExecuteRequest struct {
	ActorID       string                `json:"actor_id"`
	ConnectionID  string                `json:"connection_id,omitempty"`
	SessionID     string                `json:"session_id,omitempty"`
	Question      string                `json:"question,omitempty"`
	SQL           string                `json:"sql"`
	Clarification string                `json:"clarification,omitempty"`
	RequestedRows int                   `json:"requested_rows,omitempty"`
	Connection    *ConnectionDescriptor `json:"connection,omitempty"`
}

// ExecuteResult is the outcome of one execution attempt. Callers switch on
// Status; Error and Suggestion are set for blocked and error outcomes,
// Explanation for approval_required.
type ExecuteResult struct {
	Status      Status                   `json:"status"`
	Columns     []string                 `json:"columns,omitempty"`
	Rows        []map[string]interface{} `json:"rows,omitempty"`
	RowCount    int                      `json:"row_count"`
	Truncated   bool                     `json:"truncated,omitempty"`
	SQL         string                   `json:"sql,omitempty"`
	Destructive bool                     `json:"destructive,omitempty"`
	Explanation string                   `json:"explanation,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Suggestion  string                   `json:"suggestion,omitempty"`
}

// SafetyVerdict is the outcome of validating a SQL statement against the
// safety policy. Produced fresh per call; carries no identity.
type SafetyVerdict struct {
	Valid        bool   `json:"valid"`
	Destructive  bool   `json:"destructive"`
	Error        string `json:"error,omitempty"`
	Suggestion   string `json:"suggestion,omitempty"`
	SetOperation bool   `json:"set_operation,omitempty"`
	BroadQuery   bool   `json:"broad_query,omitempty"`
}

// QueryResult is the raw result of one statement on a provider client,
// before the pipeline applies row caps and redaction.
type QueryResult struct {
	Columns      []string                 `json:"columns"`
	Rows         []map[string]interface{} `json:"rows"`
	RowsAffected int64                    `json:"rows_affected"`
	Command      string                   `json:"command"`
}

// ColumnInfo describes a single column in the uniform introspection shape.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ForeignKey is one foreign-key edge from a local column to the referenced
// table and column.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// TableSchema is the uniform DescribeTable shape. The introspection query
// differs per dialect; this shape does not.
type TableSchema struct {
	Name        string       `json:"name"`
	Columns     []ColumnInfo `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}
