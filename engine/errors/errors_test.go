package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_Error(t *testing.T) {
	assert.Equal(t, "test message", New(ErrCodeBadRequest, "test message").Error())
	assert.Equal(t, "Plan: bad top", NewBadRequest("Plan", "bad top").Error())
}

func TestEngineError_Wrap(t *testing.T) {
	inner := errors.New("inner error")
	err := Wrap(inner, ErrCodeServiceUnavailable, "ExecuteQuery")

	assert.Equal(t, "ExecuteQuery: inner error", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.True(t, IsTransient(err))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		badReq    bool
		transient bool
		status    int
	}{
		{"bad request", NewBadRequest("op", MsgAggregateComposition), true, false, http.StatusBadRequest},
		{"unavailable", NewServiceUnavailable("op", "down"), false, true, http.StatusServiceUnavailable},
		{"throttled", NewThrottled("op", "slow down"), false, true, http.StatusTooManyRequests},
		{"gone", NewPartitionGone("op", "1"), false, false, http.StatusGone},
		{"not found", NewNotFoundf("op", "collection %s", "c"), false, false, http.StatusNotFound},
		{"plain", errors.New("boom"), false, false, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.badReq, IsBadRequest(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.status, StatusCode(tt.err))
		})
	}
}

func TestClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("page 3: %w", NewPartitionGone("ExecuteQuery", "7"))
	assert.True(t, IsPartitionGone(err))
	assert.Equal(t, ErrCodePartitionGone, Code(err))
}

func TestIsMatchesByCode(t *testing.T) {
	assert.True(t, errors.Is(NewRequestCanceled("op", "x"), &EngineError{Code: ErrCodeRequestCanceled}))
	assert.False(t, errors.Is(NewRequestCanceled("op", "x"), ErrConflict))
	assert.True(t, IsClosedError(ErrClosed))
}
