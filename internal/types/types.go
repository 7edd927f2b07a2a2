package types

// RawTable is an unprocessed survey table: one row per respondent, the first
// column a unique person identifier, remaining columns free-text item responses.
type RawTable struct {
	Items []string // item identifiers, column order preserved
	Rows  []RawRow
}

// RawRow is a single respondent's raw responses, aligned with RawTable.Items.
type RawRow struct {
	PersonID  string
	Responses []string
}

// AnalyzeRequest represents the request structure for the batch analyze endpoint
type AnalyzeRequest struct {
	Estimator      string `json:"estimator" form:"estimator"`
	PercentileMode string `json:"percentile_mode" form:"percentile_mode"`
	Seed           int64  `json:"seed" form:"seed"`
	Narrative      bool   `json:"narrative" form:"narrative"`
}
