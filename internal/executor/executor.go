package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/types"
)

var (
	// ErrNetworkFailure wraps transport errors: DNS, connect, TLS, timeout or reset
	ErrNetworkFailure = errors.New("network failure")

	// ErrEncryption wraps failures while encrypting a request body
	ErrEncryption = errors.New("encryption failed")

	// ErrUnknownCertificate is returned when a certificate reference is not configured
	ErrUnknownCertificate = errors.New("unknown certificate")
)

// Executor performs HTTP calls for definitions. It is safe for concurrent use;
// clients are pooled per TLS configuration.
type Executor struct {
	logger       *zap.Logger
	certificates map[string]types.TLSConfig
	maxConns     int

	mu      sync.Mutex
	clients map[types.TLSConfig]*http.Client
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithCertificates registers named TLS material referenced by CertRef
func WithCertificates(certs map[string]types.TLSConfig) Option {
	return func(e *Executor) {
		for name, c := range certs {
			e.certificates[name] = c
		}
	}
}

// WithMaxConns bounds pooled connections per host
func WithMaxConns(n int) Option {
	return func(e *Executor) { e.maxConns = n }
}

// New creates an Executor
func New(opts ...Option) *Executor {
	e := &Executor{
		logger:       zap.NewNop(),
		certificates: make(map[string]types.TLSConfig),
		clients:      make(map[types.TLSConfig]*http.Client),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute resolves, encrypts and sends one call attempt. Failures never
// escape as errors: they are recorded on the returned result.
func (e *Executor) Execute(ctx context.Context, def *types.CallDefinition, vars parser.Lookup) *types.ExecutionResult {
	req, err := e.Prepare(def, vars)
	if err != nil {
		return FailedResult(def, err)
	}
	return e.Send(ctx, req)
}

// Prepare resolves templated fields and builds the request without sending it
func (e *Executor) Prepare(def *types.CallDefinition, vars parser.Lookup) (*Request, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	resolved, err := parser.ResolveDefinition(def, vars)
	if err != nil {
		return nil, err
	}

	if resolved.TLS == nil && resolved.CertRef != "" {
		cert, ok := e.certificates[resolved.CertRef]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCertificate, resolved.CertRef)
		}
		resolved.TLS = &cert
	}

	return BuildRequest(resolved)
}

// Send performs the HTTP call for a prepared request
func (e *Executor) Send(ctx context.Context, req *Request) *types.ExecutionResult {
	def := req.Definition
	result := &types.ExecutionResult{
		Name:           def.DisplayName(),
		Method:         def.Method,
		URL:            req.URL,
		RequestHeaders: req.Headers,
		RequestBody:    req.PlainBody,
		EncryptedBody:  req.EncryptedBody,
		RequestSize:    len(req.Body),
	}

	client, err := e.client(def.TLS)
	if err != nil {
		result.Error = fmt.Sprintf("failed to configure HTTP client: %v", err)
		result.ErrorKind = types.ErrKindInvalidDefinition
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(def.Timeout())*time.Second)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = bytes.NewBufferString(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, def.Method, req.URL, bodyReader)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		result.ErrorKind = types.ErrKindInvalidDefinition
		return result
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	startTime := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		result.Duration = time.Since(startTime).Milliseconds()
		result.Error = fmt.Errorf("%w: %v", ErrNetworkFailure, err).Error()
		result.ErrorKind = types.ErrKindNetworkFailure
		e.logger.Debug("request failed",
			zap.String("method", def.Method),
			zap.String("url", req.URL),
			zap.Error(err))
		return result
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	result.Duration = time.Since(startTime).Milliseconds()
	result.Status = resp.StatusCode
	result.StatusText = resp.Status
	if err != nil {
		result.Error = fmt.Errorf("%w: failed to read response body: %v", ErrNetworkFailure, err).Error()
		result.ErrorKind = types.ErrKindNetworkFailure
		return result
	}

	headers := make(map[string]string)
	for key, values := range resp.Header {
		headers[key] = strings.Join(values, ", ")
	}
	result.Headers = headers
	result.Body = string(bodyBytes)
	result.ResponseSize = len(bodyBytes)
	result.Passed = true

	e.logger.Debug("request completed",
		zap.String("method", def.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int64("duration_ms", result.Duration))

	return result
}

// client returns a pooled client for the TLS configuration
func (e *Executor) client(tlsConfig *types.TLSConfig) (*http.Client, error) {
	var key types.TLSConfig
	if tlsConfig != nil {
		key = *tlsConfig
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[key]; ok {
		return c, nil
	}

	transport, err := NewTransport(tlsConfig, e.maxConns)
	if err != nil {
		return nil, err
	}
	c := &http.Client{Transport: transport}
	e.clients[key] = c
	return c, nil
}

// Close releases idle pooled connections
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.clients {
		c.CloseIdleConnections()
	}
}

// FailedResult records a failure that happened before any request was sent
func FailedResult(def *types.CallDefinition, err error) *types.ExecutionResult {
	return &types.ExecutionResult{
		Name:      def.DisplayName(),
		Method:    strings.ToUpper(def.Method),
		URL:       def.URL,
		Error:     err.Error(),
		ErrorKind: ErrorKind(err),
	}
}

// ErrorKind classifies an error into one of the result error kinds
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, parser.ErrUnresolvedVariable):
		return types.ErrKindUnresolvedVariable
	case errors.Is(err, ErrInvalidKeyLength):
		return types.ErrKindInvalidKeyLength
	case errors.Is(err, ErrNetworkFailure):
		return types.ErrKindNetworkFailure
	case errors.Is(err, ErrEncryption):
		return types.ErrKindEncryption
	default:
		return types.ErrKindInvalidDefinition
	}
}

// FormatDuration formats duration in milliseconds to human-readable string
func FormatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	return fmt.Sprintf("%.2fs", seconds)
}

// FormatSize formats byte size to human-readable string
func FormatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	if bytes < 1024*1024 {
		return fmt.Sprintf("%.2fKB", float64(bytes)/1024.0)
	}
	return fmt.Sprintf("%.2fMB", float64(bytes)/(1024.0*1024.0))
}

// IsSuccessStatus returns true if status code is 2xx
func IsSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}
