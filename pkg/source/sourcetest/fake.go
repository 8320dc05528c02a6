// Package sourcetest provides an in-memory source.Source for tests.
package sourcetest

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	errs "igfollowers/pkg/errors"
	"igfollowers/pkg/source"
)

// Fake serves canned profiles and follower lists.
// Zero values are usable; configure fields before handing it out.
type Fake struct {
	mu sync.Mutex

	// Profiles by username, used by AccountInfo and FollowerDetail
	Profiles map[string]*source.Profile
	// FollowerLists maps a target username to its followers in page order
	FollowerLists map[string][]source.FollowerRef
	// PageSize defaults to 50
	PageSize int
	// Passwords, when set, must match for Authenticate to succeed
	Passwords map[string]string

	// LoginChallenges is how many Authenticate calls answer with a challenge
	LoginChallenges int
	// FailChallenge makes Confirm fail
	FailChallenge bool

	// Hooks receive the 1-based call number of their kind
	PageErr   func(n int, target, cursor string) error
	DetailErr func(n int, ref source.FollowerRef) error
	LoginErr  func(n int, c *Client) error

	// LoggedOut makes every client report it is not authenticated
	LoggedOut bool

	authCalls    int
	pageCalls    int
	detailCalls  int
	loginCalls   int
	confirmCalls int
	selected     []string
}

// New creates an empty fake
func New() *Fake {
	return &Fake{
		Profiles:      make(map[string]*source.Profile),
		FollowerLists: make(map[string][]source.FollowerRef),
	}
}

// AddTarget registers a target with n generated followers, each with a profile
func (f *Fake) AddTarget(username string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Profiles == nil {
		f.Profiles = make(map[string]*source.Profile)
	}
	if f.FollowerLists == nil {
		f.FollowerLists = make(map[string][]source.FollowerRef)
	}

	f.Profiles[username] = &source.Profile{
		ID:            "1" + strconv.Itoa(len(f.Profiles)),
		Username:      username,
		FullName:      username + " Account",
		FollowerCount: n,
	}

	refs := make([]source.FollowerRef, 0, n)
	for i := 0; i < n; i++ {
		name := username + "_follower_" + strconv.Itoa(i)
		id := strconv.Itoa(100000 + i)
		refs = append(refs, source.FollowerRef{ID: id, Username: name})
		f.Profiles[name] = &source.Profile{
			ID:             id,
			Username:       name,
			FullName:       "Follower " + strconv.Itoa(i),
			FollowerCount:  i,
			FollowingCount: i * 2,
		}
	}
	f.FollowerLists[username] = refs
}

func (f *Fake) SetLoggedOut(v bool) {
	f.mu.Lock()
	f.LoggedOut = v
	f.mu.Unlock()
}

// Calls reports how many calls of each kind were made
type Calls struct {
	Authenticate int
	Pages        int
	Details      int
	Logins       int
	Confirms     int
}

func (f *Fake) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Calls{
		Authenticate: f.authCalls,
		Pages:        f.pageCalls,
		Details:      f.detailCalls,
		Logins:       f.loginCalls,
		Confirms:     f.confirmCalls,
	}
}

// SelectedMethods returns the challenge methods selected so far
func (f *Fake) SelectedMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.selected...)
}

func (f *Fake) Authenticate(ctx context.Context, creds source.Credentials, proxy string) (source.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++

	if f.Passwords != nil && f.Passwords[creds.Username] != creds.Password {
		return nil, errs.New(errs.KindAuthenticationFailed, 400, "The password you entered is incorrect")
	}

	client := &Client{fake: f, username: creds.Username, proxy: proxy}
	if f.LoginChallenges > 0 {
		f.LoginChallenges--
		return nil, &source.ChallengeError{
			Challenge: &challenge{fake: f, client: client},
			Message:   "checkpoint",
		}
	}

	client.authenticated = true
	return client, nil
}

type clientState struct {
	Username string `json:"username"`
}

func (f *Fake) Restore(ctx context.Context, state []byte, proxy string) (source.Client, error) {
	var st clientState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, err
	}
	return &Client{fake: f, username: st.Username, proxy: proxy, authenticated: true}, nil
}

// Client is the fake's source.Client
type Client struct {
	fake          *Fake
	username      string
	proxy         string
	authenticated bool
}

func (c *Client) Username() string { return c.username }

// Proxy returns the proxy the client was created with
func (c *Client) Proxy() string { return c.proxy }

func (c *Client) AccountInfo(ctx context.Context, username string) (*source.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()

	p, ok := c.fake.Profiles[username]
	if !ok {
		return nil, errs.New(errs.KindNotFound, 404, "user %s not found", username)
	}
	cp := *p
	return &cp, nil
}

func (c *Client) Followers(ctx context.Context, username, cursor string) (*source.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.fake.mu.Lock()
	c.fake.pageCalls++
	n := c.fake.pageCalls
	hook := c.fake.PageErr
	refs := c.fake.FollowerLists[username]
	size := c.fake.PageSize
	c.fake.mu.Unlock()

	if hook != nil {
		if err := hook(n, username, cursor); err != nil {
			return nil, err
		}
	}
	if size <= 0 {
		size = 50
	}

	start := 0
	if cursor != "" {
		var err error
		if start, err = strconv.Atoi(cursor); err != nil {
			return nil, errs.New(errs.KindFatal, 400, "invalid max_id %q", cursor)
		}
	}
	if start > len(refs) {
		start = len(refs)
	}
	end := start + size
	if end > len(refs) {
		end = len(refs)
	}

	page := &source.Page{Followers: append([]source.FollowerRef(nil), refs[start:end]...)}
	if end < len(refs) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (c *Client) FollowerDetail(ctx context.Context, ref source.FollowerRef) (*source.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.fake.mu.Lock()
	c.fake.detailCalls++
	n := c.fake.detailCalls
	hook := c.fake.DetailErr
	p, ok := c.fake.Profiles[ref.Username]
	c.fake.mu.Unlock()

	if hook != nil {
		if err := hook(n, ref); err != nil {
			return nil, err
		}
	}
	if !ok {
		return &source.Profile{ID: ref.ID, Username: ref.Username, FullName: ref.FullName}, nil
	}
	cp := *p
	return &cp, nil
}

func (c *Client) IsAuthenticated(ctx context.Context) bool {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	return c.authenticated && !c.fake.LoggedOut
}

func (c *Client) Login(ctx context.Context) error {
	c.fake.mu.Lock()
	c.fake.loginCalls++
	n := c.fake.loginCalls
	hook := c.fake.LoginErr
	c.fake.mu.Unlock()

	if hook != nil {
		if err := hook(n, c); err != nil {
			return err
		}
	}

	c.fake.mu.Lock()
	c.authenticated = true
	c.fake.LoggedOut = false
	c.fake.mu.Unlock()
	return nil
}

func (c *Client) State() ([]byte, error) {
	return json.Marshal(clientState{Username: c.username})
}

type challenge struct {
	fake   *Fake
	client *Client
}

func (ch *challenge) Methods() []string { return []string{"email", "sms"} }

func (ch *challenge) Select(ctx context.Context, method string) error {
	ch.fake.mu.Lock()
	defer ch.fake.mu.Unlock()
	ch.fake.selected = append(ch.fake.selected, method)
	return nil
}

func (ch *challenge) Confirm(ctx context.Context) (source.Client, error) {
	ch.fake.mu.Lock()
	defer ch.fake.mu.Unlock()
	ch.fake.confirmCalls++

	if ch.fake.FailChallenge {
		return nil, errs.New(errs.KindChallengeUnresolved, 400, "verification code rejected")
	}
	ch.client.authenticated = true
	return ch.client, nil
}

// NewChallenge returns a challenge that, once confirmed, authenticates c.
// Use it from a LoginErr hook to simulate a challenge during re-login.
func (f *Fake) NewChallenge(c *Client) source.Challenge {
	return &challenge{fake: f, client: c}
}
