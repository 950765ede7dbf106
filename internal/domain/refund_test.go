package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedIntent(t *testing.T) *PaymentIntent {
	t.Helper()
	p := newTestIntent(t)
	require.NoError(t, p.Complete("txn-1"))
	return p
}

func TestNewRefundRequiresCompletedParent(t *testing.T) {
	pending := newTestIntent(t)
	_, err := NewRefund(pending, 50, "changed my mind", "user-1")
	assert.ErrorIs(t, err, ErrNotEligible)

	failed := newTestIntent(t)
	require.NoError(t, failed.Fail("declined"))
	_, err = NewRefund(failed, 50, "", "user-1")
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestNewRefundAmountBounds(t *testing.T) {
	p := completedIntent(t)

	_, err := NewRefund(p, 0, "", "user-1")
	assert.ErrorIs(t, err, ErrInvalidRefundAmount)

	_, err = NewRefund(p, 150, "", "user-1")
	assert.ErrorIs(t, err, ErrInvalidRefundAmount)

	r, err := NewRefund(p, 100, "full refund", "user-1")
	require.NoError(t, err)
	assert.Equal(t, RefundStatusProcessing, r.Status)
	assert.Equal(t, p.PaymentRef, r.PaymentRef)
}

func TestRefundLifecycle(t *testing.T) {
	p := completedIntent(t)
	r, err := NewRefund(p, 40, "partial", "user-1")
	require.NoError(t, err)

	require.NoError(t, r.Complete("re_123"))
	assert.Equal(t, RefundStatusCompleted, r.Status)
	assert.Equal(t, "re_123", r.ProviderRefundID)
	require.NotNil(t, r.ProcessedAt)

	// Terminal refunds cannot transition again.
	assert.Error(t, r.Complete("re_456"))
	assert.Error(t, r.Fail("late"))
}

func TestFailedRefundKeepsParentCompleted(t *testing.T) {
	p := completedIntent(t)
	r, err := NewRefund(p, 40, "", "user-1")
	require.NoError(t, err)

	require.NoError(t, r.Fail("provider rejected"))
	assert.Equal(t, RefundStatusFailed, r.Status)
	assert.Equal(t, "provider rejected", r.ErrorMessage)
	assert.Equal(t, PaymentStatusCompleted, p.Status)
}
