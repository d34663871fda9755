// Package auth mints and validates the short-lived bearer tokens that gate
// both worker and client media websockets against an already-admitted
// session, one HMAC scheme serving both internal/transport and the external
// session API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired or not yet valid")
	ErrTokenSID    = errors.New("session id mismatch")
	ErrTokenTenant = errors.New("tenant grounding mismatch")
)

// Claims is the payload signed into a worker/client token. TenantGrounding
// pins the token to the session's grounding corpus at mint time, so a token
// replayed against a session later reassigned to a different tenant fails
// validation instead of silently granting access to the new tenant's data.
type Claims struct {
	SessionID       string
	TenantGrounding string
	ExpUnix         int64
}

// GenerateWorkerToken builds a token string for sess, valid until expUnix.
// Wire format: base64url(session_id + "." + tenant_grounding + "." +
// exp_unix + "." + hex(hmac_sha256(secret, session_id+"."+tenant_grounding+"."+exp))).
func GenerateWorkerToken(secret string, claims Claims) (string, error) {
	msg := signingMessage(claims.SessionID, claims.TenantGrounding, claims.ExpUnix)
	sig := sign(secret, msg)
	raw := msg + "." + sig
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// ValidateWorkerToken parses and verifies token against secret, requiring
// its session id to equal expectSessionID (when non-empty) and its tenant
// grounding to equal expectTenantGrounding (when non-empty). Returns the
// embedded Claims on success.
func ValidateWorkerToken(secret, token, expectSessionID, expectTenantGrounding string, now time.Time, skewSeconds int) (Claims, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Claims{}, ErrTokenFormat
	}
	parts := strings.SplitN(string(b), ".", 4)
	if len(parts) != 4 {
		return Claims{}, ErrTokenFormat
	}
	sid, tenant, expStr, sigHex := parts[0], parts[1], parts[2], parts[3]

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return Claims{}, ErrTokenFormat
	}
	if expectSessionID != "" && sid != expectSessionID {
		return Claims{}, ErrTokenSID
	}
	if expectTenantGrounding != "" && tenant != expectTenantGrounding {
		return Claims{}, ErrTokenTenant
	}

	want := sign(secret, signingMessage(sid, tenant, exp))
	if !hmac.Equal([]byte(want), []byte(sigHex)) {
		return Claims{}, ErrTokenSig
	}

	skew := time.Duration(skewSeconds) * time.Second
	if now.Unix() > exp+int64(skew.Seconds()) {
		return Claims{}, ErrTokenExp
	}
	return Claims{SessionID: sid, TenantGrounding: tenant, ExpUnix: exp}, nil
}

func signingMessage(sessionID, tenantGrounding string, expUnix int64) string {
	return sessionID + "." + tenantGrounding + "." + strconv.FormatInt(expUnix, 10)
}

func sign(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// MustToken panics on error; used by tests and local tooling, never on a
// request path.
func MustToken(secret string, claims Claims) string {
	t, err := GenerateWorkerToken(secret, claims)
	if err != nil {
		panic(fmt.Sprintf("token error: %v", err))
	}
	return t
}
