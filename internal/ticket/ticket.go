// Package ticket decodes and verifies the capability tickets that
// authorize worker attaches. A ticket is a signed JWT whose claims carry
// the role, an optional subject (worker identity), and a budget
// override; per-role signing keys are registered once at server
// construction and only read on the dispatch path thereafter.
package ticket

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/cohesix/ninedoor/internal/budget"
	"github.com/cohesix/ninedoor/internal/model"
)

// Claims is the decoded, not-yet-verified ticket payload.
type Claims struct {
	Role    model.Role
	Subject string // empty means "no subject bound"
	Budget  budget.Spec
}

type jwtClaims struct {
	Role   string  `json:"role"`
	Sub    string  `json:"sub,omitempty"`
	Ticks  *uint64 `json:"ticks,omitempty"`
	Ops    *uint64 `json:"ops,omitempty"`
	TTLS   *uint64 `json:"ttl_s,omitempty"`
	jwt.RegisteredClaims
}

// KeyStore holds one HMAC signing key per role, registered at
// construction and only read during verification.
type KeyStore struct {
	keys map[model.Role][]byte
}

// NewKeyStore constructs an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[model.Role][]byte)}
}

// Register binds a signing key to a role.
func (k *KeyStore) Register(role model.Role, key []byte) {
	k.keys[role] = key
}

func (k *KeyStore) keyFor(role model.Role) ([]byte, bool) {
	key, ok := k.keys[role]
	return key, ok
}

// Decode verifies the ticket's signature under the key registered for
// wantRole and returns its claims. The caller (VerifyWorker or
// VerifyQueen) is responsible for the subject/role-match policy;
// Decode only proves the token is authentic and well-formed.
func Decode(store *KeyStore, wantRole model.Role, raw []byte) (Claims, error) {
	key, ok := store.keyFor(wantRole)
	if !ok {
		return Claims{}, fmt.Errorf("no key registered for role %s", wantRole)
	}

	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(string(raw), &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("ticket decode failed: %w", err)
	}

	role, ok := model.ParseRole(claims.Role)
	if !ok {
		return Claims{}, fmt.Errorf("ticket names unknown role %q", claims.Role)
	}

	return Claims{
		Role:    role,
		Subject: claims.Sub,
		Budget:  budget.Spec{Ticks: claims.Ticks, Ops: claims.Ops, TTLS: claims.TTLS},
	}, nil
}

// Sign produces a raw ticket. Nothing in the server calls it (workers
// are minted a ticket out of band by an operator in production); tests
// use it to construct one directly.
func Sign(store *KeyStore, role model.Role, subject string, spec budget.Spec) ([]byte, error) {
	key, ok := store.keyFor(role)
	if !ok {
		return nil, fmt.Errorf("no key registered for role %s", role)
	}
	claims := jwtClaims{
		Role: role.String(),
		Sub:  subject,
		Ticks: spec.Ticks,
		Ops:   spec.Ops,
		TTLS:  spec.TTLS,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(key)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}
