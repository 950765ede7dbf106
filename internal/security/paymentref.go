package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
)

// RefMinter mints and validates public payment references. A reference is
// URL-safe and embeds a checksum over (timestamp, random bytes, secret) so
// references cannot be forged or enumerated.
//
// Format: PAY-<timestamp base36>-<16 hex chars upper>-<4 char checksum>
type RefMinter struct {
	secret []byte
}

// NewRefMinter creates a minter keyed with the shared payment secret.
func NewRefMinter(secret []byte) *RefMinter {
	return &RefMinter{secret: secret}
}

// Mint generates a fresh payment reference.
func (m *RefMinter) Mint() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	ts := strconv.FormatInt(time.Now().UTC().UnixMilli(), 36)
	random := strings.ToUpper(hex.EncodeToString(buf))
	return fmt.Sprintf("PAY-%s-%s-%s", ts, random, m.checksum(ts, random)), nil
}

// Validate checks the shape and checksum of a caller-supplied reference.
func (m *RefMinter) Validate(ref string) error {
	parts := strings.Split(ref, "-")
	if len(parts) != 4 || parts[0] != "PAY" {
		return domain.ErrInvalidPaymentRef
	}
	ts, random, sum := parts[1], parts[2], parts[3]
	if len(random) != 16 || len(sum) != 4 {
		return domain.ErrInvalidPaymentRef
	}
	if m.checksum(ts, random) != sum {
		return domain.ErrInvalidPaymentRef
	}
	return nil
}

func (m *RefMinter) checksum(ts, random string) string {
	h := sha256.New()
	h.Write([]byte(ts))
	h.Write([]byte(random))
	h.Write(m.secret)
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))[:4])
}
