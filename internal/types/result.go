package types

// ExecutionResult is produced once per call attempt
type ExecutionResult struct {
	Attempt        int                  `json:"attempt"`
	Name           string               `json:"name,omitempty"`
	Method         string               `json:"method"`
	URL            string               `json:"url"`
	RequestHeaders map[string]string    `json:"requestHeaders,omitempty"`
	RequestBody    string               `json:"requestBody,omitempty"`
	EncryptedBody  string               `json:"encryptedBody,omitempty"`
	Status         int                  `json:"status"`
	StatusText     string               `json:"statusText,omitempty"`
	Headers        map[string]string    `json:"headers,omitempty"`
	Body           string               `json:"body,omitempty"`
	Duration       int64                `json:"duration"`     // milliseconds
	RequestSize    int                  `json:"requestSize"`  // bytes
	ResponseSize   int                  `json:"responseSize"` // bytes
	Assertions     []AssertionOutcome   `json:"assertions,omitempty"`
	Diff           []DiffEntry          `json:"diff,omitempty"`
	DBAssertions   []DBAssertionOutcome `json:"dbAssertions,omitempty"`
	PreSQL         *SQLResult           `json:"preSql,omitempty"`
	PostSQL        *SQLResult           `json:"postSql,omitempty"`
	PreRedis       []RedisLogEntry      `json:"preRedis,omitempty"`
	Extracted      map[string]string    `json:"extracted,omitempty"`
	Passed         bool                 `json:"passed"`
	Error          string               `json:"error,omitempty"`
	ErrorKind      string               `json:"errorKind,omitempty"`
}

// Failed returns true if the attempt errored or an assertion did not hold
func (r *ExecutionResult) Failed() bool {
	return !r.Passed
}

// AssertionOutcome is the evaluation of one AssertionRule
type AssertionOutcome struct {
	Rule    AssertionRule `json:"rule"`
	Passed  bool          `json:"passed"`
	Actual  string        `json:"actual,omitempty"`
	Message string        `json:"message"`
}

// Diff change kinds
const (
	DiffAdded       = "added"
	DiffRemoved     = "removed"
	DiffChanged     = "changed"
	DiffTypeChanged = "type_changed"
)

// DiffEntry is one structural difference between a baseline and a response
type DiffEntry struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// DBAssertionOutcome is the evaluation of one DBAssertion
type DBAssertionOutcome struct {
	Label   string             `json:"label"`
	SQL     string             `json:"sql"`
	Row     map[string]string  `json:"row,omitempty"`
	Fields  []FieldCheckResult `json:"fields,omitempty"`
	Passed  bool               `json:"passed"`
	Message string             `json:"message,omitempty"`
}

// FieldCheckResult is the evaluation of a single column comparison
type FieldCheckResult struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// SQLResult reports pre/post SQL statement outcomes
type SQLResult struct {
	Success    bool              `json:"success"`
	Statements []StatementResult `json:"statements,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// StatementResult is the outcome of one SQL statement
type StatementResult struct {
	SQL      string              `json:"sql"`
	Type     string              `json:"type"` // SELECT, DML, DDL
	Rows     []map[string]string `json:"rows,omitempty"`
	Affected int64               `json:"affected"`
	Error    string              `json:"error,omitempty"`
}

// RedisLogEntry records one pre-call Redis lookup
type RedisLogEntry struct {
	Key     string `json:"key"`
	VarName string `json:"varName"`
	Value   string `json:"value,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Execution is one logical execution of a definition: one result per attempt
type Execution struct {
	Definition *CallDefinition   `json:"definition"`
	Attempts   []ExecutionResult `json:"attempts"`
	Passed     bool              `json:"passed"`
	Duration   int64             `json:"duration"` // milliseconds, sum of attempts
}

// Last returns the final attempt, or nil when nothing ran
func (e *Execution) Last() *ExecutionResult {
	if len(e.Attempts) == 0 {
		return nil
	}
	return &e.Attempts[len(e.Attempts)-1]
}

// Aggregate recomputes Passed and Duration from the attempts
func (e *Execution) Aggregate() {
	e.Passed = len(e.Attempts) > 0
	e.Duration = 0
	for i := range e.Attempts {
		e.Passed = e.Passed && e.Attempts[i].Passed
		e.Duration += e.Attempts[i].Duration
	}
}

// Extracted merges extraction deltas of all attempts, later attempts win
func (e *Execution) Extracted() map[string]string {
	out := make(map[string]string)
	for _, a := range e.Attempts {
		for k, v := range a.Extracted {
			out[k] = v
		}
	}
	return out
}
