package ui

import (
	"bytes"
	"testing"

	"igfollowers/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestFollowersTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Followers(&models.FollowerPage{Total: 4, Offset: 10})
	assert.Contains(t, buf.String(), "no followers at offset 10 of 4")

	buf.Reset()
	p.Followers(&models.FollowerPage{
		Total:  4,
		Offset: 1,
		Followers: []*models.Follower{
			{Username: "alice", FullName: "Alice A", FollowerCount: 12, IsVerified: true, IsPrivate: true},
			{Username: "bob"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "@alice")
	assert.Contains(t, out, "Alice A")
	assert.Contains(t, out, "private,verified")
	assert.Contains(t, out, "@bob")
	assert.Contains(t, out, "2-3 of 4")
}
