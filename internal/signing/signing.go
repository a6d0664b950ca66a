// Package signing issues and checks HMAC signed links to batch error reports
// for deployments that serve reports themselves instead of presigning S3.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer whose links stay valid for ttl.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl, now: time.Now}
}

// Sign returns the hex signature over a batch id and expiry.
func (s *Signer) Sign(batchID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%s:%d", batchID, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ReportURL builds base/reports/{batchID}?expires=..&signature=..
func (s *Signer) ReportURL(base, batchID string) string {
	exp := s.now().Add(s.ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("signature", s.Sign(batchID, exp))
	return fmt.Sprintf("%s/reports/%s?%s", base, url.PathEscape(batchID), q.Encode())
}

// Validate compares the provided signature with the expected one and rejects
// expired links.
func (s *Signer) Validate(batchID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().Unix() > exp {
		return false
	}
	expected := s.Sign(batchID, exp)
	// constant time
	return hmac.Equal([]byte(expected), []byte(signature))
}
