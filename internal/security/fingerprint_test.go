package security

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIsStable(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/payments/create-intent", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept-Language", "ar-EG,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, br")

	a := Fingerprint(req, "41.33.120.5")
	b := Fingerprint(req, "41.33.120.5")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// A different IP yields a different device.
	c := Fingerprint(req, "41.33.120.6")
	assert.NotEqual(t, a, c)
}

func daytime(t *testing.T) time.Time {
	t.Helper()
	at, err := time.Parse(time.RFC3339, "2026-08-31T14:00:00Z")
	require.NoError(t, err)
	return at
}

func hasSignal(signals []domain.AnomalySignal, typ domain.AnomalyType) bool {
	for _, s := range signals {
		if s.Type == typ {
			return true
		}
	}
	return false
}

func TestFirstAttemptRaisesNothing(t *testing.T) {
	d := NewAnomalyDetector()
	signals := d.Observe(Attempt{UserID: "u1", Fingerprint: "fp1", At: daytime(t)})
	assert.False(t, hasSignal(signals, domain.AnomalyNewDevice))
	assert.False(t, hasSignal(signals, domain.AnomalyRapidAttempts))
}

func TestNewDeviceSignal(t *testing.T) {
	d := NewAnomalyDetector()
	at := daytime(t)
	d.Observe(Attempt{UserID: "u1", Fingerprint: "fp1", At: at})

	signals := d.Observe(Attempt{UserID: "u1", Fingerprint: "fp2", At: at.Add(time.Hour)})
	assert.True(t, hasSignal(signals, domain.AnomalyNewDevice))

	// Known device stays quiet.
	signals = d.Observe(Attempt{UserID: "u1", Fingerprint: "fp1", At: at.Add(2 * time.Hour)})
	assert.False(t, hasSignal(signals, domain.AnomalyNewDevice))
}

func TestNewLocationSignal(t *testing.T) {
	d := NewAnomalyDetector()
	at := daytime(t)
	d.Observe(Attempt{UserID: "u1", Fingerprint: "fp1", Latitude: 30.04, Longitude: 31.23, HasLocation: true, At: at})

	// Within the same half-degree cluster: quiet.
	signals := d.Observe(Attempt{UserID: "u1", Fingerprint: "fp1", Latitude: 30.10, Longitude: 31.30, HasLocation: true, At: at.Add(time.Hour)})
	assert.False(t, hasSignal(signals, domain.AnomalyNewLocation))

	// Alexandria from a Cairo history: flagged.
	signals = d.Observe(Attempt{UserID: "u1", Fingerprint: "fp1", Latitude: 31.20, Longitude: 29.92, HasLocation: true, At: at.Add(2 * time.Hour)})
	assert.True(t, hasSignal(signals, domain.AnomalyNewLocation))
}

func TestRapidAttemptsSignal(t *testing.T) {
	d := NewAnomalyDetector()
	at := daytime(t)

	var signals []domain.AnomalySignal
	for i := 0; i < 6; i++ {
		signals = d.Observe(Attempt{UserID: "u1", Fingerprint: "fp1", At: at.Add(time.Duration(i) * time.Second)})
	}
	assert.True(t, hasSignal(signals, domain.AnomalyRapidAttempts))
	assert.Equal(t, domain.SeverityHigh, MaxSeverity(signals))
}

func TestUnusualTimeSignal(t *testing.T) {
	d := NewAnomalyDetector()
	at, err := time.Parse(time.RFC3339, "2026-08-31T03:00:00Z")
	require.NoError(t, err)

	signals := d.Observe(Attempt{UserID: "u1", Fingerprint: "fp1", At: at})
	assert.True(t, hasSignal(signals, domain.AnomalyUnusualTime))
}

func TestMaxSeverityEmpty(t *testing.T) {
	assert.Equal(t, domain.AnomalySeverity(""), MaxSeverity(nil))
}
