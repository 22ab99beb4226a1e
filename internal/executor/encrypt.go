package executor

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/studiowebux/apitest/internal/types"
)

// ErrInvalidKeyLength is returned when an AES key is not 16, 24 or 32 bytes
var ErrInvalidKeyLength = errors.New("invalid key length")

// gcmNonceSize is the size of the all-zero nonce prefixed to AES-GCM output
const gcmNonceSize = 12

// Encrypt transforms a body with the given algorithm.
//
//	AES-CBC   JSON {"iv": base64, "data": base64}, PKCS#7 padding, random IV
//	AES-GCM   base64(nonce || ciphertext || tag) with a zero nonce
//	BASE64    standard base64
//	MD5       lowercase hex digest
func Encrypt(plain, algorithm, key string) (string, error) {
	switch algorithm {
	case types.AlgAESCBC:
		return encryptCBC(plain, key)
	case types.AlgAESGCM:
		return EncryptGCM(plain, key)
	case types.AlgBase64:
		return base64.StdEncoding.EncodeToString([]byte(plain)), nil
	case types.AlgMD5:
		sum := md5.Sum([]byte(plain))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported encryption algorithm %q", algorithm)
	}
}

// EncryptGCM encrypts with AES-GCM using a zero nonce
func EncryptGCM(plain, key string) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	sealed := gcm.Seal(nil, nonce, []byte(plain), nil)

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func encryptCBC(plain, key string) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	out, err := json.Marshal(struct {
		IV   string `json:"iv"`
		Data string `json:"data"`
	}{
		IV:   base64.StdEncoding.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(ct),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode ciphertext: %w", err)
	}
	return string(out), nil
}

func newBlock(key string) (cipher.Block, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: AES key must be 16, 24 or 32 bytes, got %d", ErrInvalidKeyLength, len(key))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return block, nil
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// ApplyFieldRules encrypts individual keys of a JSON object body with AES-GCM.
// A rule without a key of its own uses defaultKey; rules missing a field or
// source are skipped. The body must be a JSON object (or empty).
func ApplyFieldRules(body string, rules []types.FieldEncryption, defaultKey string) (string, error) {
	if len(rules) == 0 {
		return body, nil
	}

	fields := make(map[string]interface{})
	if len(bytes.TrimSpace([]byte(body))) > 0 {
		if err := json.Unmarshal([]byte(body), &fields); err != nil {
			return "", fmt.Errorf("field encryption requires a JSON object body: %w", err)
		}
	}

	for _, rule := range rules {
		if rule.Field == "" || rule.Source == "" {
			continue
		}
		key := rule.Key
		if key == "" {
			key = defaultKey
		}

		source := rule.Source
		if rule.JSONEncode {
			source = jsonEncodeSource(source, fields)
		}

		encrypted, err := EncryptGCM(source, key)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt field %q: %w", rule.Field, err)
		}
		fields[rule.Field] = encrypted
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode body: %w", err)
	}
	return string(out), nil
}

// jsonEncodeSource serializes a field source. A source naming an existing body
// key encodes that value; valid JSON is kept; anything else becomes a JSON string.
func jsonEncodeSource(source string, fields map[string]interface{}) string {
	if v, ok := fields[source]; ok {
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	if json.Valid([]byte(source)) {
		return source
	}
	b, _ := json.Marshal(source)
	return string(b)
}
