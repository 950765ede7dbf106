package security

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
)

// Fingerprint computes a stable device hash from request attributes. The
// same client produces the same hash across requests, without cookies.
func Fingerprint(r *http.Request, clientIP string) string {
	parts := []string{
		r.Header.Get("User-Agent"),
		r.Header.Get("Accept-Language"),
		r.Header.Get("Accept-Encoding"),
		clientIP,
		r.Header.Get("Sec-CH-UA"),
		r.Header.Get("Sec-CH-UA-Platform"),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Attempt is one observed payment attempt used for anomaly scoring.
type Attempt struct {
	UserID      string
	Fingerprint string
	Latitude    float64
	Longitude   float64
	HasLocation bool
	At          time.Time
}

const (
	rapidAttemptWindow    = 5 * time.Minute
	rapidAttemptThreshold = 5
	locationClusterDeg    = 0.5
	historyPerUser        = 50
)

// AnomalyDetector keeps a bounded per-user attempt history and produces
// advisory signals. Signals never block a payment; high severity triggers
// an out-of-band alert elsewhere.
type AnomalyDetector struct {
	mu      sync.Mutex
	history map[string][]Attempt
}

// NewAnomalyDetector creates an empty detector.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{history: make(map[string][]Attempt)}
}

// Observe records an attempt and returns any signals it raises against the
// user's prior history.
func (d *AnomalyDetector) Observe(attempt Attempt) []domain.AnomalySignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	prior := d.history[attempt.UserID]
	var signals []domain.AnomalySignal

	if len(prior) > 0 {
		if !d.knownFingerprint(prior, attempt.Fingerprint) {
			signals = append(signals, domain.AnomalySignal{
				Type:     domain.AnomalyNewDevice,
				Severity: domain.SeverityMedium,
				Detail:   "device fingerprint not seen before",
			})
		}
		if attempt.HasLocation && !d.knownLocation(prior, attempt) {
			signals = append(signals, domain.AnomalySignal{
				Type:     domain.AnomalyNewLocation,
				Severity: domain.SeverityMedium,
				Detail:   "attempt from a new geographic cluster",
			})
		}
	}

	recent := 0
	cutoff := attempt.At.Add(-rapidAttemptWindow)
	for _, a := range prior {
		if a.At.After(cutoff) {
			recent++
		}
	}
	if recent >= rapidAttemptThreshold {
		signals = append(signals, domain.AnomalySignal{
			Type:     domain.AnomalyRapidAttempts,
			Severity: domain.SeverityHigh,
			Detail:   "more than five attempts in five minutes",
		})
	}

	if hour := attempt.At.Hour(); hour < 6 || hour > 23 {
		signals = append(signals, domain.AnomalySignal{
			Type:     domain.AnomalyUnusualTime,
			Severity: domain.SeverityLow,
			Detail:   "attempt outside usual hours",
		})
	}

	prior = append(prior, attempt)
	if len(prior) > historyPerUser {
		prior = prior[len(prior)-historyPerUser:]
	}
	d.history[attempt.UserID] = prior

	return signals
}

func (d *AnomalyDetector) knownFingerprint(prior []Attempt, fp string) bool {
	for _, a := range prior {
		if a.Fingerprint == fp {
			return true
		}
	}
	return false
}

func (d *AnomalyDetector) knownLocation(prior []Attempt, attempt Attempt) bool {
	for _, a := range prior {
		if !a.HasLocation {
			continue
		}
		if math.Abs(a.Latitude-attempt.Latitude) < locationClusterDeg &&
			math.Abs(a.Longitude-attempt.Longitude) < locationClusterDeg {
			return true
		}
	}
	return false
}

// MaxSeverity returns the highest severity among signals, or empty when
// there are none.
func MaxSeverity(signals []domain.AnomalySignal) domain.AnomalySeverity {
	var max domain.AnomalySeverity
	rank := map[domain.AnomalySeverity]int{
		domain.SeverityLow:    1,
		domain.SeverityMedium: 2,
		domain.SeverityHigh:   3,
	}
	for _, s := range signals {
		if rank[s.Severity] > rank[max] {
			max = s.Severity
		}
	}
	return max
}
