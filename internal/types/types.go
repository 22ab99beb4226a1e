package types

import (
	"fmt"
	"strings"
)

// Supported HTTP methods for call definitions
var Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

const (
	// MaxRepeatCount is the upper bound for repeated attempts of a single call
	MaxRepeatCount = 100

	// DefaultTimeoutSec is applied when a definition does not set a timeout
	DefaultTimeoutSec = 30
)

// Body types
const (
	BodyJSON = "json"
	BodyForm = "form"
	BodyRaw  = "raw"
	BodyText = "text"
)

// Encryption algorithms
const (
	AlgAESCBC = "AES-CBC"
	AlgAESGCM = "AES-GCM"
	AlgBase64 = "BASE64"
	AlgMD5    = "MD5"
)

// Error kinds recorded on an ExecutionResult
const (
	ErrKindUnresolvedVariable = "UnresolvedVariable"
	ErrKindInvalidKeyLength   = "InvalidKeyLength"
	ErrKindNetworkFailure     = "NetworkFailure"
	ErrKindEncryption         = "EncryptionFailure"
	ErrKindInvalidDefinition  = "InvalidDefinition"
)

// CallDefinition is a declarative HTTP call. Executions work on a Snapshot of it.
type CallDefinition struct {
	ID           string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name         string            `json:"name,omitempty" yaml:"name,omitempty"`
	Category     string            `json:"category,omitempty" yaml:"category,omitempty"`
	Method       string            `json:"method" yaml:"method"`
	URL          string            `json:"url" yaml:"url"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Params       map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Body         string            `json:"body,omitempty" yaml:"body,omitempty"`
	BodyType     string            `json:"bodyType,omitempty" yaml:"bodyType,omitempty"`
	Encryption   *Encryption       `json:"encryption,omitempty" yaml:"encryption,omitempty"`
	TLS          *TLSConfig        `json:"tls,omitempty" yaml:"tls,omitempty"`
	CertRef      string            `json:"certRef,omitempty" yaml:"certRef,omitempty"` // named certificate from config
	Repeat       bool              `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	RepeatCount  int               `json:"repeatCount,omitempty" yaml:"repeatCount,omitempty"`
	Weight       int               `json:"weight,omitempty" yaml:"weight,omitempty"`
	TimeoutSec   int               `json:"timeoutSec,omitempty" yaml:"timeoutSec,omitempty"`
	Assertions   []AssertionRule   `json:"assertions,omitempty" yaml:"assertions,omitempty"`
	Extract      []ExtractRule     `json:"extract,omitempty" yaml:"extract,omitempty"`
	PreRedis     []RedisPreRule    `json:"preRedis,omitempty" yaml:"preRedis,omitempty"`
	PreSQL       *SQLHook          `json:"preSql,omitempty" yaml:"preSql,omitempty"`
	PostSQL      *SQLHook          `json:"postSql,omitempty" yaml:"postSql,omitempty"`
	DBAssertions []DBAssertion     `json:"dbAssertions,omitempty" yaml:"dbAssertions,omitempty"`
}

// Encryption describes an optional body transform applied before sending
type Encryption struct {
	Algorithm string            `json:"algorithm" yaml:"algorithm"`
	Key       string            `json:"key,omitempty" yaml:"key,omitempty"`
	Fields    []FieldEncryption `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FieldEncryption encrypts a single body field with AES-GCM.
// Source may contain placeholders; JSONEncode serializes the source before encryption.
type FieldEncryption struct {
	Field      string `json:"field" yaml:"field"`
	Source     string `json:"source" yaml:"source"`
	JSONEncode bool   `json:"jsonEncode,omitempty" yaml:"jsonEncode,omitempty"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty"`
}

// TLSConfig contains mTLS material paths
type TLSConfig struct {
	CertFile           string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// Assertion kinds
const (
	AssertStatusCode = "status-code"
	AssertJSONPath   = "json-path-equals"
	AssertContains   = "contains"
	AssertNotEmpty   = "not-empty"
	AssertRegex      = "regex"
	AssertDeepDiff   = "deep-diff-baseline"
)

// AssertionRule is evaluated against one ExecutionResult
type AssertionRule struct {
	Kind         string   `json:"kind" yaml:"kind"`
	Path         string   `json:"path,omitempty" yaml:"path,omitempty"`
	Expected     string   `json:"expected,omitempty" yaml:"expected,omitempty"`
	IgnoreFields []string `json:"ignoreFields,omitempty" yaml:"ignoreFields,omitempty"`
	Label        string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// ExtractRule publishes a response value into the runtime scope.
// Query is a JMESPath expression used instead of Path when set.
type ExtractRule struct {
	Name  string `json:"name" yaml:"name"`
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	Query string `json:"query,omitempty" yaml:"query,omitempty"`
}

// RedisPreRule reads a key before the call and injects its value as a variable
type RedisPreRule struct {
	Conn    string `json:"conn" yaml:"conn"`
	Key     string `json:"key" yaml:"key"`
	VarName string `json:"varName" yaml:"varName"`
	Field   string `json:"field,omitempty" yaml:"field,omitempty"` // JSON field inside the stored value
}

// SQLHook runs one or more ';'-separated statements around the call
type SQLHook struct {
	Conn string `json:"conn" yaml:"conn"`
	SQL  string `json:"sql" yaml:"sql"`
}

// DBAssertion checks the first row of a query.
// Either Field/Operator/Expected or Fields is used.
type DBAssertion struct {
	Conn     string       `json:"conn" yaml:"conn"`
	SQL      string       `json:"sql" yaml:"sql"`
	Label    string       `json:"label,omitempty" yaml:"label,omitempty"`
	Field    string       `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string       `json:"operator,omitempty" yaml:"operator,omitempty"`
	Expected string       `json:"expected,omitempty" yaml:"expected,omitempty"`
	Fields   []FieldCheck `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FieldCheck is one column comparison inside a DBAssertion
type FieldCheck struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// Validate checks the static shape of a definition
func (d *CallDefinition) Validate() error {
	method := strings.ToUpper(d.Method)
	valid := false
	for _, m := range Methods {
		if m == method {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unsupported method %q", d.Method)
	}
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("url is required")
	}
	if d.Repeat && (d.RepeatCount < 1 || d.RepeatCount > MaxRepeatCount) {
		return fmt.Errorf("repeat count must be between 1 and %d, got %d", MaxRepeatCount, d.RepeatCount)
	}
	switch d.BodyType {
	case "", BodyJSON, BodyForm, BodyRaw, BodyText:
	default:
		return fmt.Errorf("unsupported body type %q", d.BodyType)
	}
	if d.Encryption != nil {
		switch d.Encryption.Algorithm {
		case AlgAESCBC, AlgAESGCM, AlgBase64, AlgMD5:
		default:
			return fmt.Errorf("unsupported encryption algorithm %q", d.Encryption.Algorithm)
		}
	}
	return nil
}

// Attempts returns how many sequential attempts an execution makes
func (d *CallDefinition) Attempts() int {
	if d.Repeat && d.RepeatCount > 0 {
		if d.RepeatCount > MaxRepeatCount {
			return MaxRepeatCount
		}
		return d.RepeatCount
	}
	return 1
}

// Timeout returns the per-call timeout in seconds (minimum 1)
func (d *CallDefinition) Timeout() int {
	if d.TimeoutSec <= 0 {
		return DefaultTimeoutSec
	}
	return d.TimeoutSec
}

// DisplayName returns the name, falling back to "METHOD URL"
func (d *CallDefinition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return strings.ToUpper(d.Method) + " " + d.URL
}

// Snapshot returns a deep copy so a running execution is isolated from later edits
func (d *CallDefinition) Snapshot() *CallDefinition {
	c := *d
	c.Method = strings.ToUpper(d.Method)
	c.Headers = copyMap(d.Headers)
	c.Params = copyMap(d.Params)
	if d.Encryption != nil {
		enc := *d.Encryption
		enc.Fields = append([]FieldEncryption(nil), d.Encryption.Fields...)
		c.Encryption = &enc
	}
	if d.TLS != nil {
		t := *d.TLS
		c.TLS = &t
	}
	if d.PreSQL != nil {
		h := *d.PreSQL
		c.PreSQL = &h
	}
	if d.PostSQL != nil {
		h := *d.PostSQL
		c.PostSQL = &h
	}
	c.Assertions = make([]AssertionRule, len(d.Assertions))
	for i, r := range d.Assertions {
		r.IgnoreFields = append([]string(nil), r.IgnoreFields...)
		c.Assertions[i] = r
	}
	c.Extract = append([]ExtractRule(nil), d.Extract...)
	c.PreRedis = append([]RedisPreRule(nil), d.PreRedis...)
	c.DBAssertions = make([]DBAssertion, len(d.DBAssertions))
	for i, a := range d.DBAssertions {
		a.Fields = append([]FieldCheck(nil), a.Fields...)
		c.DBAssertions[i] = a
	}
	return &c
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Suite is the on-disk form of a batch: ordered definitions plus run options
type Suite struct {
	Name          string            `json:"name,omitempty" yaml:"name,omitempty"`
	StopOnFailure bool              `json:"stopOnFailure,omitempty" yaml:"stopOnFailure,omitempty"`
	Variables     map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Definitions   []CallDefinition  `json:"definitions" yaml:"definitions"`
}
