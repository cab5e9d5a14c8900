package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	_, err := NewLeasePolicy(0)
	require.ErrorIs(t, err, ErrInvalidDefaultLease)

	p, err := NewLeasePolicy(2 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, p.Default())
}

func TestLeasePolicy_Seconds(t *testing.T) {
	p, err := NewLeasePolicy(90 * time.Second)
	require.NoError(t, err)

	tests := []struct {
		name    string
		request time.Duration
		want    int
	}{
		{name: "default", request: 0, want: 90},
		{name: "explicit", request: 45 * time.Second, want: 45},
		{name: "sub-second", request: 200 * time.Millisecond, want: 1},
		{name: "negative", request: -time.Second, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Seconds(tt.request))
		})
	}

	var nilPolicy *LeasePolicy
	assert.Equal(t, time.Duration(0), nilPolicy.Default())
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	require.NoError(t, p.Validate())

	assert.Equal(t, 5*time.Second, p.Delay(0))
	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 10*time.Second, p.Delay(2))
	assert.Equal(t, 20*time.Second, p.Delay(3))

	p.MaxDelay = 15 * time.Second
	assert.Equal(t, 15*time.Second, p.Delay(3))
}

func TestRetryPolicy_Validate(t *testing.T) {
	assert.ErrorIs(t, RetryPolicy{MaxAttempts: 1}.Validate(), ErrInvalidRetryBase)
	assert.Error(t, RetryPolicy{BaseDelay: time.Second}.Validate())
	assert.NoError(t, RetryPolicy{MaxAttempts: 1, BaseDelay: time.Second}.Validate())
}
