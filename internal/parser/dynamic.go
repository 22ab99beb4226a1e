package parser

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Generator kinds for dynamic variables and tokens
const (
	GenTimestamp   = "timestamp"
	GenTimestampMs = "timestamp_ms"
	GenUUID        = "uuid"
	GenRandomInt   = "random_int"
	GenHex32       = "hex32"
	GenHex64       = "hex64"
	GenURLSafe     = "urlsafe"
	GenDate        = "date"
	GenDateTime    = "datetime"
)

// builtins maps reserved placeholder names to generator kinds
var builtins = map[string]string{
	"$timestamp":    GenTimestamp,
	"$timestamp_ms": GenTimestampMs,
	"$uuid":         GenUUID,
	"$random_int":   GenRandomInt,
	"$hex32":        GenHex32,
	"$hex64":        GenHex64,
	"$urlsafe":      GenURLSafe,
	"$date":         GenDate,
	"$datetime":     GenDateTime,
}

// BuiltinDynamic returns the generator kind for a reserved name like $uuid
func BuiltinDynamic(name string) (string, bool) {
	kind, ok := builtins[name]
	return kind, ok
}

// Generate produces a fresh value for a generator kind
func Generate(kind string) (string, error) {
	now := time.Now()
	switch kind {
	case GenTimestamp:
		return strconv.FormatInt(now.Unix(), 10), nil
	case GenTimestampMs:
		return strconv.FormatInt(now.UnixMilli(), 10), nil
	case GenUUID:
		return uuid.NewString(), nil
	case GenRandomInt:
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			return "", fmt.Errorf("failed to generate random int: %w", err)
		}
		return n.String(), nil
	case GenHex32:
		return randomHex(16)
	case GenHex64:
		return randomHex(32)
	case GenURLSafe:
		b, err := randomBytes(32)
		if err != nil {
			return "", err
		}
		return base64.RawURLEncoding.EncodeToString(b), nil
	case GenDate:
		return now.Format("2006-01-02"), nil
	case GenDateTime:
		return now.Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("unknown generator %q", kind)
	}
}

func randomHex(n int) (string, error) {
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
