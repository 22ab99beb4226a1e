package executor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/studiowebux/apitest/internal/types"
)

// rawParamKey is appended verbatim to the URL instead of being encoded as a query pair
const rawParamKey = "_raw"

// Request is a fully resolved call ready to be sent
type Request struct {
	Definition    *types.CallDefinition
	URL           string
	Headers       map[string]string
	PlainBody     string // resolved body before encryption
	Body          string // body as sent
	EncryptedBody string
}

// BuildRequest turns a resolved definition into a Request: query params are
// merged into the URL, the body is encrypted and encoded per its body type.
func BuildRequest(def *types.CallDefinition) (*Request, error) {
	target, err := buildURL(def.URL, def.Params)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Definition: def,
		URL:        target,
		Headers:    make(map[string]string, len(def.Headers)+1),
		PlainBody:  def.Body,
	}
	for k, v := range def.Headers {
		req.Headers[k] = v
	}

	body := def.Body
	bodyType := def.BodyType
	if bodyType == "" {
		bodyType = types.BodyJSON
	}

	if enc := def.Encryption; enc != nil {
		if len(enc.Fields) > 0 {
			// Field rules take precedence over whole-body encryption
			if body, err = ApplyFieldRules(body, enc.Fields, enc.Key); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
			}
		} else if enc.Algorithm != "" {
			encrypted, err := Encrypt(body, enc.Algorithm, enc.Key)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
			}
			req.EncryptedBody = encrypted
			switch bodyType {
			case types.BodyRaw, types.BodyText:
				body = encrypted
			default:
				wrapped, err := json.Marshal(map[string]string{"encrypted": encrypted})
				if err != nil {
					return nil, fmt.Errorf("failed to encode encrypted body: %w", err)
				}
				body = string(wrapped)
				bodyType = types.BodyJSON
			}
		}
	}

	if strings.TrimSpace(body) == "" {
		return req, nil
	}

	switch bodyType {
	case types.BodyForm:
		form, err := formEncode(body)
		if err != nil {
			return nil, err
		}
		req.Body = form
		setDefaultHeader(req.Headers, "Content-Type", "application/x-www-form-urlencoded")
	case types.BodyText:
		req.Body = body
		setDefaultHeader(req.Headers, "Content-Type", "text/plain; charset=utf-8")
	case types.BodyRaw:
		req.Body = body
		if isJSONDocument(body) {
			setDefaultHeader(req.Headers, "Content-Type", "application/json")
		}
	default:
		req.Body = body
		setDefaultHeader(req.Headers, "Content-Type", "application/json")
	}

	return req, nil
}

// buildURL merges params into the query string. The _raw param is appended
// verbatim: as query text when it contains '=', otherwise as a path segment.
func buildURL(raw string, params map[string]string) (string, error) {
	target := raw
	if rawParam, ok := params[rawParamKey]; ok {
		rawParam = strings.Trim(rawParam, "/")
		if rawParam != "" {
			if strings.Contains(rawParam, "=") {
				target += querySeparator(target) + rawParam
			} else {
				target = strings.TrimRight(target, "/") + "/" + rawParam
			}
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid url %q: scheme and host are required", target)
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k != rawParamKey && v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return target, nil
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	return target + querySeparator(target) + values.Encode(), nil
}

func querySeparator(u string) string {
	if strings.Contains(u, "?") {
		return "&"
	}
	return "?"
}

// formEncode accepts a JSON object or an already encoded form string
func formEncode(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return "", fmt.Errorf("invalid form body: %w", err)
	}
	values := url.Values{}
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			values.Set(k, val)
		case nil:
			values.Set(k, "")
		default:
			b, _ := json.Marshal(val)
			values.Set(k, string(b))
		}
	}
	return values.Encode(), nil
}

func isJSONDocument(s string) bool {
	t := strings.TrimSpace(s)
	return (strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")) && json.Valid([]byte(t))
}

func setDefaultHeader(headers map[string]string, name, value string) {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return
		}
	}
	headers[name] = value
}
