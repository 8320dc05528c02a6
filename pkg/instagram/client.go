package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	errs "igfollowers/pkg/errors"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/source"

	"github.com/google/uuid"
)

const maxBodySize = 10 << 20

var (
	_ source.Source    = (*Source)(nil)
	_ source.Client    = (*Client)(nil)
	_ source.Challenge = (*challenge)(nil)
)

// Options configures the clients a Source creates
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// PasswordFor supplies the password of a restored session so it can
	// log in again. Passwords are never written into session state.
	PasswordFor func(username string) string
	Logger      logger.Logger
}

// Source logs in to the private API
type Source struct {
	opts   Options
	logger logger.Logger
}

// NewSource creates a Source. Empty options fall back to the public API
// root and the default user agent.
func NewSource(opts Options) *Source {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Source{
		opts:   opts,
		logger: logger.OrDefault(opts.Logger).WithField("component", "instagram"),
	}
}

// Client is an authenticated private API session
type Client struct {
	httpClient *http.Client
	base       *url.URL
	baseURL    string
	headers    map[string]string
	logger     logger.Logger

	mu       sync.Mutex
	username string
	password string
	userID   string
	deviceID string
	uuid     string
	loggedIn bool
	userIDs  map[string]string
}

type sessionState struct {
	Username string       `json:"username"`
	UserID   string       `json:"user_id"`
	DeviceID string       `json:"device_id"`
	UUID     string       `json:"uuid"`
	Cookies  []cookieData `json:"cookies"`
}

type cookieData struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Source) newClient(username, proxy string) (*Client, error) {
	base, err := url.Parse(s.opts.BaseURL)
	if err != nil {
		return nil, errs.New(errs.KindFatal, 0, "invalid base URL %q: %v", s.opts.BaseURL, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil || proxyURL.Host == "" {
			return nil, errs.New(errs.KindFatal, 0, "invalid proxy %q", proxy)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	deviceUUID := uuid.NewString()
	return &Client{
		httpClient: &http.Client{
			Timeout:   s.opts.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		base:    base,
		baseURL: s.opts.BaseURL,
		headers: map[string]string{
			"User-Agent":           s.opts.UserAgent,
			"Accept":               "*/*",
			"Accept-Language":      "en-US",
			"X-IG-App-ID":          AppID,
			"X-IG-Capabilities":    "3brTvwE=",
			"X-IG-Connection-Type": "WIFI",
		},
		logger:   s.logger.WithField("username", username),
		username: username,
		deviceID: "android-" + strings.ReplaceAll(deviceUUID, "-", "")[:16],
		uuid:     deviceUUID,
		userIDs:  make(map[string]string),
	}, nil
}

// Authenticate logs in with creds through proxy. A verification demand is
// returned as a *source.ChallengeError.
func (s *Source) Authenticate(ctx context.Context, creds source.Credentials, proxy string) (source.Client, error) {
	c, err := s.newClient(creds.Username, proxy)
	if err != nil {
		return nil, err
	}
	c.password = creds.Password

	if err := c.login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Restore rebuilds a client from State output without contacting the API
func (s *Source) Restore(ctx context.Context, state []byte, proxy string) (source.Client, error) {
	var st sessionState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	if st.Username == "" {
		return nil, fmt.Errorf("session state has no username")
	}

	c, err := s.newClient(st.Username, proxy)
	if err != nil {
		return nil, err
	}
	c.userID = st.UserID
	if st.DeviceID != "" {
		c.deviceID = st.DeviceID
	}
	if st.UUID != "" {
		c.uuid = st.UUID
	}
	if s.opts.PasswordFor != nil {
		c.password = s.opts.PasswordFor(st.Username)
	}

	cookies := make([]*http.Cookie, 0, len(st.Cookies))
	for _, ck := range st.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value})
		if ck.Name == "sessionid" && ck.Value != "" {
			c.loggedIn = true
		}
	}
	c.httpClient.Jar.SetCookies(c.base, cookies)
	return c, nil
}

func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Login logs in again with the client's credentials
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	hasPassword := c.password != ""
	c.mu.Unlock()
	if !hasPassword {
		return errs.New(errs.KindAuthenticationFailed, 0, "no password known for %s", c.Username())
	}
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	c.mu.Lock()
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM:0:%d:%s", time.Now().Unix(), c.password))
	form.Set("device_id", c.deviceID)
	form.Set("guid", c.uuid)
	form.Set("login_attempt_count", "0")
	c.mu.Unlock()

	var resp loginResponse
	err := c.do(ctx, http.MethodPost, LoginEndpoint, form, &resp)
	if err != nil {
		var f *apiFailure
		if errors.As(err, &f) && f.body.Challenge != nil && f.body.Challenge.APIPath != "" {
			return c.newChallengeError(ctx, f.body.Challenge.APIPath, f.body.Message)
		}
		c.logger.WithError(err).Error("Login failed")
		return err
	}

	c.mu.Lock()
	c.loggedIn = true
	c.userID = string(resp.LoggedInUser.PK)
	if resp.LoggedInUser.Username != "" {
		c.username = resp.LoggedInUser.Username
	}
	c.mu.Unlock()

	c.logger.WithField("user_id", string(resp.LoggedInUser.PK)).Info("Logged in")
	return nil
}

// IsAuthenticated asks the API whether the session is still logged in.
// Failures unrelated to the login, such as network errors, count as logged in.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	c.mu.Lock()
	loggedIn := c.loggedIn
	c.mu.Unlock()
	if !loggedIn {
		return false
	}

	err := c.do(ctx, http.MethodGet, TimelineEndpoint, nil, nil)
	if err == nil {
		return true
	}
	switch errs.KindOf(err) {
	case errs.KindLoginRequired, errs.KindChallengeRequired, errs.KindAuthenticationFailed:
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		return false
	default:
		c.logger.WithError(err).Debug("Session check failed, assuming still logged in")
		return true
	}
}

func (c *Client) AccountInfo(ctx context.Context, username string) (*source.Profile, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, UsernameInfoPath(username), nil, &resp); err != nil {
		return nil, err
	}
	if resp.User.PK != "" {
		c.mu.Lock()
		c.userIDs[username] = string(resp.User.PK)
		c.mu.Unlock()
	}
	return resp.User.profile(), nil
}

func (c *Client) resolveUserID(ctx context.Context, username string) (string, error) {
	c.mu.Lock()
	id, ok := c.userIDs[username]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	profile, err := c.AccountInfo(ctx, username)
	if err != nil {
		return "", err
	}
	if profile.ID == "" {
		return "", errs.New(errs.KindNotFound, 0, "no user id for %s", username)
	}
	return profile.ID, nil
}

func (c *Client) Followers(ctx context.Context, username, cursor string) (*source.Page, error) {
	userID, err := c.resolveUserID(ctx, username)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	rankToken := c.userID + "_" + c.uuid
	c.mu.Unlock()

	var resp followersResponse
	if err := c.do(ctx, http.MethodGet, FollowersPath(userID, rankToken, cursor), nil, &resp); err != nil {
		return nil, err
	}

	page := &source.Page{
		Followers:  make([]source.FollowerRef, 0, len(resp.Users)),
		NextCursor: string(resp.NextMaxID),
	}
	for _, u := range resp.Users {
		page.Followers = append(page.Followers, u.ref())
	}
	return page, nil
}

func (c *Client) FollowerDetail(ctx context.Context, ref source.FollowerRef) (*source.Profile, error) {
	if ref.ID == "" {
		return c.AccountInfo(ctx, ref.Username)
	}
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, UserInfoPath(ref.ID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.User.profile(), nil
}

func (c *Client) State() ([]byte, error) {
	c.mu.Lock()
	st := sessionState{
		Username: c.username,
		UserID:   c.userID,
		DeviceID: c.deviceID,
		UUID:     c.uuid,
	}
	c.mu.Unlock()

	for _, ck := range c.httpClient.Jar.Cookies(c.base) {
		st.Cookies = append(st.Cookies, cookieData{Name: ck.Name, Value: ck.Value})
	}
	return json.Marshal(st)
}

// apiFailure keeps the decoded error body next to its classification
type apiFailure struct {
	body apiError
	err  *errs.Error
}

func (f *apiFailure) Error() string { return f.err.Error() }
func (f *apiFailure) Unwrap() error { return f.err }

// do performs one API request and decodes a successful body into out
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errs.New(errs.KindFatal, 0, "failed to create request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	for _, ck := range c.httpClient.Jar.Cookies(c.base) {
		if ck.Name == "csrftoken" {
			req.Header.Set("X-CSRFToken", ck.Value)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"path":     path,
			"error":    err.Error(),
			"duration": duration,
		})
		return errs.New(errs.KindTransientNetwork, 0, "network error: %v", err)
	}
	defer resp.Body.Close()
	logger.LogRequest(c.logger, method, path, resp.StatusCode, duration)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errs.New(errs.KindTransientNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	if err := c.checkResponse(resp.StatusCode, data, path); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		bodyPreview := string(data)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("Failed to parse JSON response", map[string]interface{}{
			"path":         path,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return errs.New(errs.KindFatal, resp.StatusCode, "failed to parse JSON: %v", err)
	}
	return nil
}

// checkResponse classifies non-2xx responses and 2xx bodies with status "fail"
func (c *Client) checkResponse(status int, data []byte, path string) error {
	var body apiError
	decodeErr := json.Unmarshal(data, &body)

	if status >= 200 && status < 300 && body.Status != "fail" {
		return nil
	}

	kind := classify(status, body)
	msg := body.Message
	if msg == "" {
		if decodeErr != nil || status >= 300 {
			msg = http.StatusText(status)
		} else {
			msg = "request failed"
		}
	}

	c.logger.WarnWithFields("API error", map[string]interface{}{
		"status":     status,
		"path":       path,
		"kind":       string(kind),
		"message":    msg,
		"error_type": body.ErrorType,
	})
	return &apiFailure{body: body, err: errs.New(kind, status, "%s", msg)}
}

func classify(status int, body apiError) errs.Kind {
	msg := strings.ToLower(body.Message)
	switch {
	case body.Challenge != nil,
		msg == "challenge_required",
		strings.Contains(msg, "checkpoint_required"),
		body.ErrorType == "checkpoint_challenge_required":
		return errs.KindChallengeRequired
	case msg == "login_required", body.ErrorType == "login_required":
		return errs.KindLoginRequired
	case body.InvalidCredentials, body.ErrorType == "bad_password", body.ErrorType == "invalid_user":
		return errs.KindAuthenticationFailed
	case status == http.StatusTooManyRequests,
		body.Spam,
		msg == "feedback_required",
		strings.Contains(msg, "please wait"),
		body.ErrorType == "rate_limit_error":
		return errs.KindRateLimited
	case status == http.StatusNotFound, body.ErrorType == "user_not_found":
		return errs.KindNotFound
	case status == http.StatusUnauthorized:
		return errs.KindLoginRequired
	case status >= 500:
		return errs.KindTransientNetwork
	default:
		return errs.KindFatal
	}
}
