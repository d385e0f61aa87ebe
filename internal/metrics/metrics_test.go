package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"venue-booking-bot/internal/pkg/apperr"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "conflict", Result(apperr.New(apperr.ErrConflict, "taken")))
	assert.Equal(t, "retryable", Result(apperr.Retryable("add", errors.New("boom"))))
	assert.Equal(t, "denied", Result(fmt.Errorf("wrapped: %w", apperr.ErrPermission)))
	assert.Equal(t, "error", Result(errors.New("plain")))
}

func TestObserve(t *testing.T) {
	before := testutil.ToFloat64(Operations.WithLabelValues("reserve", "conflict"))
	Observe("reserve", apperr.New(apperr.ErrConflict, "taken"))
	assert.Equal(t, before+1, testutil.ToFloat64(Operations.WithLabelValues("reserve", "conflict")))
}
