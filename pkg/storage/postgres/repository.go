package postgres

import (
	"context"
	"fmt"
	"time"

	"igfollowers/pkg/models"
	"igfollowers/pkg/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ storage.Storage = (*Store)(nil)

// Store is a storage.Storage backed by PostgreSQL
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) UpsertAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.Username == "" {
		return nil, fmt.Errorf("account username is required")
	}

	now := s.now()
	rec := toAccountModel(account)
	rec.ID = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "username"}},
		DoUpdates: clause.Assignments(map[string]any{
			"full_name":       rec.FullName,
			"biography":       rec.Biography,
			"follower_count":  rec.FollowerCount,
			"following_count": rec.FollowingCount,
			"post_count":      rec.PostCount,
			"is_private":      rec.IsPrivate,
			"is_verified":     rec.IsVerified,
			"external_url":    rec.ExternalURL,
			"updated_at":      now,
		}),
	}).Create(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	return s.GetAccountByUsername(ctx, account.Username)
}

func (s *Store) GetAccount(ctx context.Context, id uint) (*models.Account, error) {
	var rec accountModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return toDomainAccount(rec), nil
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	var rec accountModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).Take(&rec).Error; err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return toDomainAccount(rec), nil
}

func (s *Store) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	if !job.Status.Valid() {
		return nil, fmt.Errorf("invalid job status %q", job.Status)
	}

	now := s.now()
	rec := toJobModel(job)
	rec.ID = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("account %d: %w", job.AccountID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	return toDomainJob(rec), nil
}

func (s *Store) GetJob(ctx context.Context, id uint) (*models.Job, error) {
	var rec jobModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return toDomainJob(rec), nil
}

func (s *Store) ListJobs(ctx context.Context, status models.Status) ([]*models.Job, error) {
	q := s.db.WithContext(ctx).Model(&jobModel{})
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var recs []jobModel
	if err := q.Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]*models.Job, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDomainJob(rec))
	}
	return out, nil
}

func (s *Store) UpdateJobCursor(ctx context.Context, id uint, cursor string) error {
	res := s.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", id).Updates(map[string]any{
		"last_cursor": cursor,
		"updated_at":  s.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("update job cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// returningInt runs an UPDATE ... RETURNING that yields one integer column
func (s *Store) returningInt(ctx context.Context, query string, args ...any) (int, error) {
	var value int
	res := s.db.WithContext(ctx).Raw(query, args...).Scan(&value)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, storage.ErrNotFound
	}
	return value, nil
}

func (s *Store) RecordJobError(ctx context.Context, id uint, msg string) (int, error) {
	count, err := s.returningInt(ctx,
		`UPDATE scrape_jobs SET error_count = error_count + 1, last_error = ?, updated_at = ? WHERE id = ? RETURNING error_count`,
		msg, s.now(), id)
	if err != nil {
		return 0, fmt.Errorf("record job error: %w", err)
	}
	return count, nil
}

func (s *Store) IncrementFollowersScraped(ctx context.Context, id uint, n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("followers scraped cannot decrease (n=%d)", n)
	}
	total, err := s.returningInt(ctx,
		`UPDATE scrape_jobs SET followers_scraped = followers_scraped + ?, updated_at = ? WHERE id = ? RETURNING followers_scraped`,
		n, s.now(), id)
	if err != nil {
		return 0, fmt.Errorf("increment followers scraped: %w", err)
	}
	return total, nil
}

func (s *Store) TransitionJob(ctx context.Context, id uint, from, to models.Status) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, from, to)
	}

	now := s.now()
	updates := map[string]any{
		"status":     string(to),
		"updated_at": now,
	}
	if to.Terminal() {
		updates["completed_at"] = now
	}

	res := s.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("transition job: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// distinguish "not in from" from "no such job"
	if _, err := s.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) UpsertFollower(ctx context.Context, follower *models.Follower) error {
	if follower.Username == "" {
		return fmt.Errorf("follower username is required")
	}

	now := s.now()
	rec := toFollowerModel(follower)
	rec.ID = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "username"}},
		DoUpdates: clause.Assignments(map[string]any{
			"job_id":              rec.JobID,
			"full_name":           rec.FullName,
			"biography":           rec.Biography,
			"follower_count":      rec.FollowerCount,
			"following_count":     rec.FollowingCount,
			"post_count":          rec.PostCount,
			"is_private":          rec.IsPrivate,
			"is_verified":         rec.IsVerified,
			"external_url":        rec.ExternalURL,
			"email":               rec.Email,
			"phone":               rec.Phone,
			"business_category":   rec.BusinessCategory,
			"is_business_account": rec.IsBusinessAccount,
			"updated_at":          now,
		}),
	}).Create(&rec).Error
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("follower %s: %w", follower.Username, storage.ErrNotFound)
		}
		return fmt.Errorf("upsert follower: %w", err)
	}
	return nil
}

func (s *Store) ListFollowers(ctx context.Context, accountID uint, limit, offset int) ([]*models.Follower, error) {
	q := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var recs []followerModel
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}

	out := make([]*models.Follower, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDomainFollower(rec))
	}
	return out, nil
}

func (s *Store) CountFollowers(ctx context.Context, accountID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&followerModel{}).Where("account_id = ?", accountID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count followers: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
