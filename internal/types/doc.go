/*
Package types defines the data structures shared by the execution engine.

# Definitions

CallDefinition:
  - Declarative HTTP call (method, URL template, headers, params, body)
  - Optional encryption settings and mTLS material
  - Repeat count (1-100), ordering weight, category
  - Assertion rules, extraction rules
  - Data-source hooks (pre-Redis, pre/post SQL, DB assertions)

Executions never use a definition directly: Snapshot returns a deep copy that
the run owns for its whole lifetime.

# Results

ExecutionResult:
  - One per call attempt
  - Resolved request, response status/headers/body, latency
  - Assertion, diff and DB assertion outcomes
  - Extracted variable deltas
  - Error and ErrorKind (UnresolvedVariable, InvalidKeyLength, NetworkFailure)

Execution groups the attempts of a repeated call. Its Passed field is the AND
of all attempts.

# Variables

Variable is a persisted global variable. Type "dynamic" moves it to the
dynamic tier, where Value names a generator evaluated once per call.

# Example

	{
	  "name": "Create order",
	  "method": "POST",
	  "url": "{{baseUrl}}/orders",
	  "headers": {"Authorization": "Bearer {{token}}"},
	  "body": "{\"sku\":\"{{sku}}\"}",
	  "assertions": [{"kind": "status-code", "expected": "201"}],
	  "extract": [{"name": "order_id", "path": "data.id"}]
	}
*/
package types
