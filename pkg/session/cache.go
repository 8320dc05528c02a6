package session

import (
	"context"
	"time"
)

// Record is the persisted form of a session
type Record struct {
	Username   string    `json:"username"`
	Proxy      string    `json:"proxy,omitempty"`
	State      []byte    `json:"state"`
	Challenges int       `json:"challenges"`
	Requests   int       `json:"requests"`
	LastUsed   time.Time `json:"last_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cache persists session records between runs
type Cache interface {
	Save(ctx context.Context, rec *Record) error
	LoadAll(ctx context.Context) ([]*Record, error)
	Delete(ctx context.Context, username string) error
}

// NopCache keeps nothing
type NopCache struct{}

func (NopCache) Save(context.Context, *Record) error        { return nil }
func (NopCache) LoadAll(context.Context) ([]*Record, error) { return nil, nil }
func (NopCache) Delete(context.Context, string) error       { return nil }
