// Package source defines the contract between the scraping engine and the
// platform it reads followers from.
//
// An implementation authenticates a login identity and hands back a Client
// bound to that identity. Errors should be *errors.Error values (or carry
// the platform's own phrases) so callers can classify them with
// errors.KindOf. Interactive verification during login is reported as a
// *ChallengeError.
package source

import (
	"context"
	"errors"

	errs "igfollowers/pkg/errors"
)

// Credentials identify a login account
type Credentials struct {
	Username string
	Password string
}

// Profile is the public profile of an account
type Profile struct {
	ID                string
	Username          string
	FullName          string
	Biography         string
	FollowerCount     int
	FollowingCount    int
	PostCount         int
	IsPrivate         bool
	IsVerified        bool
	ExternalURL       string
	Email             string
	Phone             string
	BusinessCategory  string
	IsBusinessAccount bool
}

// FollowerRef is the summary of a follower as listed on a followers page
type FollowerRef struct {
	ID         string
	Username   string
	FullName   string
	IsPrivate  bool
	IsVerified bool
}

// Page is one page of a target's followers
type Page struct {
	Followers []FollowerRef
	// NextCursor is empty once the stream is exhausted
	NextCursor string
}

// Exhausted reports whether this was the last page
func (p *Page) Exhausted() bool { return p == nil || p.NextCursor == "" }

// Client is an authenticated handle on the platform
type Client interface {
	Username() string
	AccountInfo(ctx context.Context, username string) (*Profile, error)
	// Followers returns the page of username's followers starting at cursor.
	// An empty cursor starts from the beginning.
	Followers(ctx context.Context, username, cursor string) (*Page, error)
	FollowerDetail(ctx context.Context, ref FollowerRef) (*Profile, error)
	IsAuthenticated(ctx context.Context) bool
	// Login re-authenticates in place with the client's own credentials
	Login(ctx context.Context) error
	// State serializes what Restore needs to rebuild this client
	State() ([]byte, error)
}

// Source creates clients
type Source interface {
	Authenticate(ctx context.Context, creds Credentials, proxy string) (Client, error)
	Restore(ctx context.Context, state []byte, proxy string) (Client, error)
}

// Challenge is a pending interactive verification
type Challenge interface {
	// Methods lists the verification methods on offer, most preferred first
	Methods() []string
	Select(ctx context.Context, method string) error
	// Confirm completes the challenge and returns the authenticated client
	Confirm(ctx context.Context) (Client, error)
}

// ChallengeError is returned by Authenticate or Login when the platform
// demands verification before the login can complete.
type ChallengeError struct {
	Challenge Challenge
	Message   string
}

func (e *ChallengeError) Error() string {
	if e.Message == "" {
		return "challenge_required"
	}
	return "challenge_required: " + e.Message
}

// Kind classifies the error for errors.KindOf
func (e *ChallengeError) Kind() errs.Kind { return errs.KindChallengeRequired }

// AsChallenge extracts a *ChallengeError from err's chain
func AsChallenge(err error) (*ChallengeError, bool) {
	var ce *ChallengeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
