package ui

import (
	"bytes"
	"testing"
	"time"

	"igfollowers/pkg/auth"
	"igfollowers/pkg/session"

	"github.com/stretchr/testify/assert"
)

func TestAccountsMasksPasswords(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Accounts(nil)
	assert.Contains(t, buf.String(), "no stored accounts")

	buf.Reset()
	p.Accounts([]*auth.Account{{Username: "mylogin", Password: "hunter22secret", LastModified: time.Now()}})
	out := buf.String()
	assert.Contains(t, out, "mylogin")
	assert.Contains(t, out, "hu...et")
	assert.NotContains(t, out, "hunter22secret")
	assert.Contains(t, out, "never")

	buf.Reset()
	p.Accounts([]*auth.Account{{Username: "bound", Password: "pw", Proxy: "http://proxy:8080", LastLogin: time.Now(), LastModified: time.Now()}})
	out = buf.String()
	assert.Contains(t, out, "http://proxy:8080")
	assert.NotContains(t, out, "never")
}

func TestSessionsTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Sessions(nil, session.Stats{})
	assert.Contains(t, buf.String(), "no sessions")

	buf.Reset()
	p.Sessions([]session.Health{
		{Username: "alpha", Challenges: 1, Requests: 12, LastUsed: time.Now()},
		{Username: "beta", Proxy: "http://proxy:8080", Invalid: true, LastUsed: time.Now()},
	}, session.Stats{Total: 2, Valid: 1})

	out := buf.String()
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "invalid")
	assert.Contains(t, out, "http://proxy:8080")
	assert.Contains(t, out, "Valid: 1/2")
}
