package ai

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Kinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"api key", errors.New("API key not valid. Please pass a valid API key."), KindAuth},
		{"http 403", errors.New("googleapi: Error 403: permission denied"), KindAuth},
		{"quota", errors.New("you exceeded your current quota, please check your plan and billing"), KindQuota},
		{"rate limit", errors.New("Error 429: RESOURCE_EXHAUSTED"), KindRateLimit},
		{"dial", errors.New("dial tcp: lookup generativelanguage.googleapis.com: no such host"), KindNetwork},
		{"deadline", errors.New("context deadline exceeded"), KindNetwork},
		{"json", errors.New("invalid character '<' looking for beginning of value"), KindValidation},
		{"unknown", errors.New("something odd happened"), KindGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			se := Classify("resolve", tc.err)
			require.NotNil(t, se)
			assert.Equal(t, tc.want, se.Kind)
			assert.ErrorIs(t, se, tc.err, "must unwrap to the original error")
		})
	}
}

func TestClassify_NilAndPassthrough(t *testing.T) {
	assert.Nil(t, Classify("op", nil))

	orig := &ServiceError{Kind: KindQuota, Op: "resolve", Err: errors.New("quota")}
	wrapped := fmt.Errorf("outer: %w", orig)
	// Already-classified errors keep their kind even when re-classified.
	assert.Same(t, orig, Classify("other", orig))
	var se *ServiceError
	require.ErrorAs(t, wrapped, &se)
	assert.Equal(t, KindQuota, se.Kind)
}

func TestKind_Terminal(t *testing.T) {
	assert.True(t, KindAuth.Terminal())
	assert.True(t, KindQuota.Terminal())
	assert.False(t, KindRateLimit.Terminal())
	assert.False(t, KindNetwork.Terminal())
	assert.False(t, KindValidation.Terminal())
	assert.False(t, KindGeneric.Terminal())
}
