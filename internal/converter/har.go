package converter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/apitest/internal/types"
)

// HAROptions contains options for HAR import
type HAROptions struct {
	Name          string // suite name; defaults to the HAR creator
	Filter        string // keep only entries whose URL contains this
	ImportHeaders bool   // if true, keep sensitive headers verbatim
	AssertStatus  bool   // add a status-code assertion from the recorded response
}

// HARFile represents the HAR file structure
type HARFile struct {
	Log HARLog `json:"log"`
}

// HARLog represents the log section of HAR
type HARLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

// HARCreator represents the tool that created the HAR
type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HAREntry represents a single HTTP request/response
type HAREntry struct {
	Request  HARRequest  `json:"request"`
	Response HARResponse `json:"response"`
}

// HARRequest represents the request part of an entry
type HARRequest struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	Headers     []HARNameValue `json:"headers"`
	QueryString []HARNameValue `json:"queryString"`
	PostData    *HARPostData   `json:"postData,omitempty"`
}

// HARResponse represents the response part of an entry
type HARResponse struct {
	Status int `json:"status"`
}

// HARNameValue is a header, query or form parameter
type HARNameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARPostData represents POST data
type HARPostData struct {
	MimeType string         `json:"mimeType"`
	Text     string         `json:"text"`
	Params   []HARNameValue `json:"params,omitempty"`
}

var sensitiveHeaders = []string{"Cookie", "Authorization", "X-Auth-Token", "X-API-Key"}

var nameCleaner = regexp.MustCompile(`[^a-z0-9-_]+`)

// ImportHAR converts a HAR capture into a suite of call definitions. When
// every entry targets the same origin, it is lifted into a base_url variable.
func ImportHAR(data []byte, opts HAROptions) (*types.Suite, error) {
	var har HARFile
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, fmt.Errorf("failed to parse HAR file: %w", err)
	}
	if len(har.Log.Entries) == 0 {
		return nil, fmt.Errorf("no entries found in HAR file")
	}

	suite := &types.Suite{
		Name:      opts.Name,
		Variables: make(map[string]string),
	}
	if suite.Name == "" {
		suite.Name = strings.TrimSpace(har.Log.Creator.Name + " capture")
	}

	origins := make(map[string]bool)
	for i, entry := range har.Log.Entries {
		if opts.Filter != "" && !strings.Contains(entry.Request.URL, opts.Filter) {
			continue
		}
		// Skip non-HTTP(S) requests
		u, err := url.Parse(entry.Request.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		origins[u.Scheme+"://"+u.Host] = true

		suite.Definitions = append(suite.Definitions, entryToDefinition(entry, u, i, opts, suite.Variables))
	}
	if len(suite.Definitions) == 0 {
		return nil, fmt.Errorf("no HTTP entries matched")
	}

	if len(origins) == 1 {
		for origin := range origins {
			suite.Variables["base_url"] = origin
			for i := range suite.Definitions {
				suite.Definitions[i].URL = "{{base_url}}" + strings.TrimPrefix(suite.Definitions[i].URL, origin)
			}
		}
	}
	if len(suite.Variables) == 0 {
		suite.Variables = nil
	}

	return suite, nil
}

func entryToDefinition(entry HAREntry, u *url.URL, index int, opts HAROptions, vars map[string]string) types.CallDefinition {
	req := entry.Request

	def := types.CallDefinition{
		Name:   definitionName(req.Method, u.Path, index),
		Method: strings.ToUpper(req.Method),
		URL:    u.Scheme + "://" + u.Host + u.EscapedPath(),
	}

	// Query parameters become params so they can be templated
	if len(req.QueryString) > 0 {
		def.Params = make(map[string]string, len(req.QueryString))
		for _, q := range req.QueryString {
			def.Params[q.Name] = q.Value
		}
	} else if u.RawQuery != "" {
		def.URL += "?" + u.RawQuery
	}

	headers := make(map[string]string)
	for _, h := range req.Headers {
		// Skip pseudo-headers and those the transport computes
		if strings.HasPrefix(h.Name, ":") || strings.EqualFold(h.Name, "Content-Length") || strings.EqualFold(h.Name, "Host") {
			continue
		}
		headers[h.Name] = h.Value
	}

	bearer := false
	if auth, ok := lookupHeader(headers, "Authorization"); ok && strings.HasPrefix(auth, "Bearer ") {
		vars["token"] = strings.TrimPrefix(auth, "Bearer ")
		setHeader(headers, "Authorization", "Bearer {{token}}")
		bearer = true
	}
	if !opts.ImportHeaders {
		for _, name := range sensitiveHeaders {
			if bearer && name == "Authorization" {
				continue
			}
			deleteHeader(headers, name)
		}
	}
	if len(headers) > 0 {
		def.Headers = headers
	}

	if req.PostData != nil {
		def.Body, def.BodyType = postDataBody(req.PostData)
	}

	if opts.AssertStatus && entry.Response.Status > 0 {
		def.Assertions = []types.AssertionRule{{
			Kind:     types.AssertStatusCode,
			Expected: strconv.Itoa(entry.Response.Status),
		}}
	}

	return def
}

func postDataBody(p *HARPostData) (string, string) {
	mime := strings.ToLower(p.MimeType)
	switch {
	case strings.Contains(mime, "json"):
		return p.Text, types.BodyJSON
	case strings.Contains(mime, "x-www-form-urlencoded"):
		if len(p.Params) > 0 {
			fields := make(map[string]string, len(p.Params))
			for _, param := range p.Params {
				fields[param.Name] = param.Value
			}
			data, _ := json.Marshal(fields)
			return string(data), types.BodyForm
		}
		return p.Text, types.BodyForm
	case strings.HasPrefix(mime, "text/"):
		return p.Text, types.BodyText
	default:
		return p.Text, types.BodyRaw
	}
}

// definitionName derives a name such as "get-users-id" from method and path
func definitionName(method, path string, index int) string {
	name := strings.ToLower(strings.Trim(path, "/"))
	name = nameCleaner.ReplaceAllString(strings.ReplaceAll(name, "/", "-"), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return fmt.Sprintf("%s-request-%d", strings.ToLower(method), index+1)
	}
	return strings.ToLower(method) + "-" + name
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func setHeader(headers map[string]string, name, value string) {
	deleteHeader(headers, name)
	headers[name] = value
}

func deleteHeader(headers map[string]string, name string) {
	for k := range headers {
		if strings.EqualFold(k, name) {
			delete(headers, k)
		}
	}
}

// WriteSuite writes a suite as YAML or JSON definitions
func WriteSuite(w io.Writer, suite *types.Suite, format string) error {
	switch format {
	case "", "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(suite); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(suite)
	default:
		return fmt.Errorf("unsupported format %q (yaml, json)", format)
	}
}
