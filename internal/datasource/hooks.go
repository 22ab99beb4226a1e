package datasource

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/studiowebux/apitest/internal/jsonpath"
	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/types"
)

// Statement types
const (
	StmtSelect = "SELECT"
	StmtDML    = "DML"
	StmtDDL    = "DDL"
)

// labelLength caps the SQL prefix used as a default assertion label
const labelLength = 60

// Setter receives values injected before resolution
type Setter interface {
	SetRuntime(name, value string)
}

// ExecStatements runs ';'-separated statements in order. A failing statement
// is recorded and the remaining ones still run.
func (r *Registry) ExecStatements(ctx context.Context, hook *types.SQLHook, vars parser.Lookup) *types.SQLResult {
	if hook == nil || strings.TrimSpace(hook.SQL) == "" {
		return nil
	}

	db, err := r.sqlDB(ctx, hook.Conn)
	if err != nil {
		return &types.SQLResult{Success: false, Error: err.Error()}
	}

	result := &types.SQLResult{Success: true}
	for _, stmt := range SplitStatements(parser.ResolveBlank(hook.SQL, vars)) {
		item := types.StatementResult{SQL: stmt, Type: StatementType(stmt)}

		if item.Type == StmtSelect {
			rows, err := queryRows(ctx, db, stmt)
			if err != nil {
				item.Error = err.Error()
			} else {
				for _, row := range rows {
					item.Rows = append(item.Rows, row.Map())
				}
				item.Affected = int64(len(rows))
			}
		} else {
			res, err := db.ExecContext(ctx, stmt)
			if err != nil {
				item.Error = err.Error()
			} else if n, err := res.RowsAffected(); err == nil {
				item.Affected = n
			}
		}

		if item.Error != "" {
			result.Success = false
		}
		result.Statements = append(result.Statements, item)
	}
	return result
}

// SplitStatements splits on ';' and drops empty statements
func SplitStatements(sqlText string) []string {
	var out []string
	for _, s := range strings.Split(sqlText, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StatementType classifies a statement by its first keyword
func StatementType(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return StmtDDL
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "EXPLAIN", "DESCRIBE":
		return StmtSelect
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return StmtDML
	default:
		return StmtDDL
	}
}

// EvaluateDBAssertions checks the first row of each assertion query.
// Connectivity and SQL errors produce failed outcomes.
func (r *Registry) EvaluateDBAssertions(ctx context.Context, rules []types.DBAssertion, vars parser.Lookup) []types.DBAssertionOutcome {
	if len(rules) == 0 {
		return nil
	}

	outcomes := make([]types.DBAssertionOutcome, 0, len(rules))
	for _, rule := range rules {
		query := strings.TrimSpace(parser.ResolveBlank(rule.SQL, vars))
		outcome := types.DBAssertionOutcome{Label: rule.Label, SQL: query}
		if outcome.Label == "" {
			outcome.Label = defaultLabel(query)
		}

		if rule.Conn == "" || query == "" {
			outcome.Message = "incomplete rule: conn and sql are required"
			outcomes = append(outcomes, outcome)
			continue
		}

		rows, err := r.RunQuery(ctx, rule.Conn, query)
		if err != nil {
			outcome.Message = fmt.Sprintf("query error: %v", err)
			outcomes = append(outcomes, outcome)
			continue
		}

		var row Row
		if len(rows) > 0 {
			row = rows[0]
			outcome.Row = row.Map()
		}

		checks := rule.Fields
		if len(checks) == 0 {
			checks = []types.FieldCheck{{Field: rule.Field, Operator: rule.Operator, Expected: rule.Expected}}
		}

		outcome.Passed = true
		failed := 0
		messages := make([]string, 0, len(checks))
		for _, check := range checks {
			res := checkField(row, check, vars)
			outcome.Fields = append(outcome.Fields, res)
			if !res.Passed {
				outcome.Passed = false
				failed++
			}
			messages = append(messages, fieldMessage(res))
		}

		if len(checks) == 1 {
			outcome.Message = messages[0]
		} else if failed == 0 {
			outcome.Message = "all passed | " + strings.Join(messages, " | ")
		} else {
			outcome.Message = fmt.Sprintf("%d/%d failed | %s", failed, len(checks), strings.Join(messages, " | "))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func checkField(row Row, check types.FieldCheck, vars parser.Lookup) types.FieldCheckResult {
	field := strings.TrimSpace(check.Field)
	op := check.Operator
	if op == "" {
		op = "=="
	}
	expected := parser.ResolveBlank(check.Expected, vars)

	var actual string
	var present bool
	if field != "" {
		actual, present = row.Get(field)
	} else {
		actual, present = row.First()
	}

	return types.FieldCheckResult{
		Field:    field,
		Operator: op,
		Expected: expected,
		Actual:   actual,
		Passed:   present && Compare(actual, op, expected),
	}
}

func fieldMessage(res types.FieldCheckResult) string {
	name := res.Field
	if name == "" {
		name = "column 1"
	}
	verdict := "failed"
	if res.Passed {
		verdict = "passed"
	}
	return fmt.Sprintf("%s=%s %s %s: %s", name, res.Actual, res.Operator, res.Expected, verdict)
}

// Compare applies a DB assertion operator. Ordering operators compare as
// numbers; a value that is not a number counts as 0. Unknown operators fall
// back to equality.
func Compare(actual, op, expected string) bool {
	switch op {
	case "!=":
		return actual != expected
	case ">":
		return toNumber(actual) > toNumber(expected)
	case "<":
		return toNumber(actual) < toNumber(expected)
	case ">=":
		return toNumber(actual) >= toNumber(expected)
	case "<=":
		return toNumber(actual) <= toNumber(expected)
	case "contains":
		return strings.Contains(actual, expected)
	case "not_empty":
		return actual != "" && actual != "0"
	default:
		return actual == expected
	}
}

func toNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func defaultLabel(query string) string {
	if query == "" {
		return "unnamed assertion"
	}
	if len(query) > labelLength {
		return query[:labelLength]
	}
	return query
}

// ApplyPreRedis reads each rule's key and injects the value into scope before
// the call's templates are resolved. Keys may contain placeholders.
func (r *Registry) ApplyPreRedis(ctx context.Context, rules []types.RedisPreRule, vars parser.Lookup, scope Setter) []types.RedisLogEntry {
	if len(rules) == 0 {
		return nil
	}

	var log []types.RedisLogEntry
	for _, rule := range rules {
		if rule.Conn == "" || strings.TrimSpace(rule.Key) == "" || strings.TrimSpace(rule.VarName) == "" {
			continue
		}
		key := parser.ResolveBlank(strings.TrimSpace(rule.Key), vars)
		entry := types.RedisLogEntry{Key: key, VarName: strings.TrimSpace(rule.VarName)}

		raw, err := r.RunCommand(ctx, rule.Conn, "GET", key)
		switch {
		case errors.Is(err, ErrNoValue):
			entry.Error = fmt.Sprintf("key %s does not exist or has expired", key)
		case err != nil:
			entry.Error = err.Error()
		default:
			value := FieldValue(raw, strings.TrimSpace(rule.Field))
			scope.SetRuntime(entry.VarName, value)
			entry.Value = value
			entry.Success = true
		}

		r.logger.Debug("pre-call redis lookup",
			zap.String("key", key),
			zap.Bool("success", entry.Success))
		log = append(log, entry)
	}
	return log
}

// FieldValue picks a field from a JSON object value. The raw value is
// returned when field is empty or the value is not a JSON object holding it.
func FieldValue(raw, field string) string {
	if field == "" {
		return raw
	}
	doc, err := jsonpath.Decode(raw)
	if err != nil {
		return raw
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return raw
	}
	v, ok := obj[field]
	if !ok {
		return raw
	}
	return jsonpath.String(v)
}
