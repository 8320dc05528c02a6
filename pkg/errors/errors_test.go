package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type customKind struct{}

func (customKind) Error() string { return "custom" }
func (customKind) Kind() Kind    { return KindLoginRequired }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", New(KindRateLimited, 429, "slow down"), KindRateLimited},
		{"wrapped typed", fmt.Errorf("fetch page: %w", New(KindChallengeRequired, 400, "x")), KindChallengeRequired},
		{"kinder", fmt.Errorf("wrap: %w", customKind{}), KindLoginRequired},
		{"challenge text", stderrors.New("ClientError: challenge_required"), KindChallengeRequired},
		{"login text", stderrors.New("login_required"), KindLoginRequired},
		{"please wait", stderrors.New("Please wait a few minutes before you try again."), KindRateLimited},
		{"too many", stderrors.New("429 Too Many Requests"), KindRateLimited},
		{"network", stderrors.New("read tcp: connection reset by peer"), KindTransientNetwork},
		{"unknown", stderrors.New("boom"), KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "rate_limited (code 429): slow down", New(KindRateLimited, 429, "slow down").Error())
	assert.Equal(t, "fatal: oops 3", New(KindFatal, 0, "oops %d", 3).Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(KindTransientNetwork))
	assert.True(t, IsRetryable(KindRateLimited))
	assert.False(t, IsRetryable(KindAuthenticationFailed))
	assert.False(t, IsRetryable(KindChallengeRequired))

	assert.True(t, IsRetryableStatusCode(503))
	assert.True(t, IsRetryableStatusCode(0))
	assert.False(t, IsRetryableStatusCode(404))
}

func TestIs(t *testing.T) {
	if !Is(New(KindNotFound, 404, "gone"), KindNotFound) {
		t.Error("expected not_found")
	}
	if Is(nil, KindFatal) {
		t.Error("nil must never match")
	}
}
