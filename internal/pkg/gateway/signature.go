package gateway

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"sort"
	"strings"
)

const (
	ParamHash  = "hash"
	ParamDebug = "debug"
)

// Signer produces the keyed digest the gateway expects: keys sorted
// lexicographically, "key=value" pairs joined by ";", the secret appended
// as a trailing literal, hex encoded.
//
// The gateway contract fixes SHA-1. It is only referenced here.
type Signer struct {
	newHash func() hash.Hash
}

func NewSigner() *Signer {
	return &Signer{newHash: sha1.New}
}

var defaultSigner = NewSigner()

// Sign returns the digest over every entry of params.
func (s *Signer) Sign(params map[string]string, secret string) string {
	h := s.newHash()
	h.Write([]byte(canonical(params)))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the digest over params without the hash and debug fields
// and compares it to digest in constant time. It fails closed on empty input.
func (s *Signer) Verify(params map[string]string, digest, secret string) bool {
	digest = strings.ToLower(strings.TrimSpace(digest))
	if digest == "" || secret == "" {
		return false
	}
	signed := make(map[string]string, len(params))
	for k, v := range params {
		if k == ParamHash || k == ParamDebug {
			continue
		}
		signed[k] = v
	}
	if len(signed) == 0 {
		return false
	}
	expected := s.Sign(signed, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) == 1
}

func Sign(params map[string]string, secret string) string {
	return defaultSigner.Sign(params, secret)
}

func Verify(params map[string]string, digest, secret string) bool {
	return defaultSigner.Verify(params, digest, secret)
}

func canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
