/*
Package executor performs the HTTP side of a call attempt.

# Pipeline

Execute runs three steps on a definition snapshot:

 1. Prepare resolves placeholders through a parser.Lookup. URL and query
    params fail fast with parser.ErrUnresolvedVariable; headers, body and
    encryption keys substitute the empty string.
 2. BuildRequest merges params (including the verbatim _raw param), applies
    encryption and encodes the body per its body type.
 3. Send performs the call with the definition timeout.

Send never returns an error. Transport failures are recorded on the result
with ErrorKind NetworkFailure, and the message wraps ErrNetworkFailure.

# Encryption

	AES-CBC   {"iv": base64, "data": base64}, PKCS#7, random IV
	AES-GCM   base64(zero nonce || ciphertext || tag)
	BASE64    standard encoding
	MD5       hex digest

AES keys must be 16, 24 or 32 bytes, otherwise ErrInvalidKeyLength.
Field rules encrypt individual keys of a JSON body with AES-GCM and take
precedence over whole-body encryption. Encrypted raw and text bodies are sent
verbatim; json and form bodies are wrapped as {"encrypted": "..."}.

# TLS

Definitions may carry TLS material directly or reference a named certificate
registered with WithCertificates. Clients are pooled per TLS configuration,
so an Executor is safe to share between goroutines.
*/
package executor
