package source

import (
	"fmt"
	"testing"

	errs "igfollowers/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestChallengeErrorClassification(t *testing.T) {
	err := fmt.Errorf("login failed: %w", &ChallengeError{Message: "verify it's you"})

	assert.Equal(t, errs.KindChallengeRequired, errs.KindOf(err))
	assert.Contains(t, err.Error(), "challenge_required: verify it's you")

	ce, ok := AsChallenge(err)
	assert.True(t, ok)
	assert.Equal(t, "verify it's you", ce.Message)

	_, ok = AsChallenge(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestPageExhausted(t *testing.T) {
	var nilPage *Page
	assert.True(t, nilPage.Exhausted())
	assert.True(t, (&Page{}).Exhausted())
	assert.False(t, (&Page{NextCursor: "50"}).Exhausted())
}
