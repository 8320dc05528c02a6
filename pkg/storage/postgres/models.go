package postgres

import "time"

type accountModel struct {
	ID             uint      `gorm:"column:id;primaryKey"`
	Username       string    `gorm:"column:username"`
	FullName       string    `gorm:"column:full_name"`
	Biography      string    `gorm:"column:biography"`
	FollowerCount  int       `gorm:"column:follower_count"`
	FollowingCount int       `gorm:"column:following_count"`
	PostCount      int       `gorm:"column:post_count"`
	IsPrivate      bool      `gorm:"column:is_private"`
	IsVerified     bool      `gorm:"column:is_verified"`
	ExternalURL    string    `gorm:"column:external_url"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "accounts" }

type jobModel struct {
	ID               uint       `gorm:"column:id;primaryKey"`
	TargetUsername   string     `gorm:"column:target_username"`
	AccountID        uint       `gorm:"column:account_id"`
	Status           string     `gorm:"column:status"`
	MaxFollowers     int        `gorm:"column:max_followers"`
	FollowersScraped int        `gorm:"column:followers_scraped"`
	ErrorCount       int        `gorm:"column:error_count"`
	LastError        string     `gorm:"column:last_error"`
	LastCursor       string     `gorm:"column:last_cursor"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`
}

func (jobModel) TableName() string { return "scrape_jobs" }

type followerModel struct {
	ID                uint      `gorm:"column:id;primaryKey"`
	AccountID         uint      `gorm:"column:account_id"`
	JobID             uint      `gorm:"column:job_id"`
	Username          string    `gorm:"column:username"`
	FullName          string    `gorm:"column:full_name"`
	Biography         string    `gorm:"column:biography"`
	FollowerCount     int       `gorm:"column:follower_count"`
	FollowingCount    int       `gorm:"column:following_count"`
	PostCount         int       `gorm:"column:post_count"`
	IsPrivate         bool      `gorm:"column:is_private"`
	IsVerified        bool      `gorm:"column:is_verified"`
	ExternalURL       string    `gorm:"column:external_url"`
	Email             string    `gorm:"column:email"`
	Phone             string    `gorm:"column:phone"`
	BusinessCategory  string    `gorm:"column:business_category"`
	IsBusinessAccount bool      `gorm:"column:is_business_account"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (followerModel) TableName() string { return "followers" }
