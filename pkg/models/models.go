package models

import "time"

// Status is the lifecycle state of a scraping job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether no transition may leave s
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusStopped
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusStopped
	default:
		return false
	}
}

// Account is a scraped target identity, unique by username
type Account struct {
	ID             uint      `json:"id"`
	Username       string    `json:"username"`
	FullName       string    `json:"full_name"`
	Biography      string    `json:"biography"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	PostCount      int       `json:"post_count"`
	IsPrivate      bool      `json:"is_private"`
	IsVerified     bool      `json:"is_verified"`
	ExternalURL    string    `json:"external_url"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Job is one bounded run of "scrape followers of an account up to a cap".
type Job struct {
	ID               uint       `json:"id"`
	TargetUsername   string     `json:"target_username"`
	AccountID        uint       `json:"account_id"`
	Status           Status     `json:"status"`
	MaxFollowers     int        `json:"max_followers"`
	FollowersScraped int        `json:"followers_scraped"`
	ErrorCount       int        `json:"error_count"`
	LastError        string     `json:"last_error"`
	LastCursor       string     `json:"last_cursor"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// Snapshot returns the operator-facing view of the job
func (j *Job) Snapshot() *StatusSnapshot {
	return &StatusSnapshot{
		ID:               j.ID,
		TargetUsername:   j.TargetUsername,
		Status:           j.Status,
		FollowersScraped: j.FollowersScraped,
		MaxFollowers:     j.MaxFollowers,
		ErrorCount:       j.ErrorCount,
		LastError:        j.LastError,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		CompletedAt:      j.CompletedAt,
	}
}

// Follower is one scraped profile, unique by (AccountID, Username)
type Follower struct {
	ID                uint      `json:"id"`
	AccountID         uint      `json:"account_id"`
	JobID             uint      `json:"job_id"`
	Username          string    `json:"username"`
	FullName          string    `json:"full_name"`
	Biography         string    `json:"biography"`
	FollowerCount     int       `json:"follower_count"`
	FollowingCount    int       `json:"following_count"`
	PostCount         int       `json:"post_count"`
	IsPrivate         bool      `json:"is_private"`
	IsVerified        bool      `json:"is_verified"`
	ExternalURL       string    `json:"external_url"`
	Email             string    `json:"email,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	BusinessCategory  string    `json:"business_category,omitempty"`
	IsBusinessAccount bool      `json:"is_business_account"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StatusSnapshot is a point-in-time read of a job
type StatusSnapshot struct {
	ID               uint       `json:"id"`
	TargetUsername   string     `json:"target_username"`
	Status           Status     `json:"status"`
	FollowersScraped int        `json:"followers_scraped"`
	MaxFollowers     int        `json:"max_followers"`
	ErrorCount       int        `json:"error_count"`
	LastError        string     `json:"last_error"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// FollowerPage is one window of the followers stored for a job's target
type FollowerPage struct {
	JobID     uint        `json:"job_id"`
	AccountID uint        `json:"account_id"`
	Total     int64       `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
	Followers []*Follower `json:"followers"`
}

// AccountStats summarizes what has been collected for an account
type AccountStats struct {
	Account        Account `json:"account"`
	TotalFollowers int64   `json:"total_followers"`
	TotalJobs      int     `json:"total_jobs"`
	LastJob        *Job    `json:"last_job,omitempty"`
}
