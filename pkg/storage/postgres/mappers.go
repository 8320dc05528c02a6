package postgres

import (
	"errors"

	"igfollowers/pkg/models"

	"gorm.io/gorm"
)

func toAccountModel(a *models.Account) accountModel {
	return accountModel{
		ID:             a.ID,
		Username:       a.Username,
		FullName:       a.FullName,
		Biography:      a.Biography,
		FollowerCount:  a.FollowerCount,
		FollowingCount: a.FollowingCount,
		PostCount:      a.PostCount,
		IsPrivate:      a.IsPrivate,
		IsVerified:     a.IsVerified,
		ExternalURL:    a.ExternalURL,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toDomainAccount(rec accountModel) *models.Account {
	return &models.Account{
		ID:             rec.ID,
		Username:       rec.Username,
		FullName:       rec.FullName,
		Biography:      rec.Biography,
		FollowerCount:  rec.FollowerCount,
		FollowingCount: rec.FollowingCount,
		PostCount:      rec.PostCount,
		IsPrivate:      rec.IsPrivate,
		IsVerified:     rec.IsVerified,
		ExternalURL:    rec.ExternalURL,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func toJobModel(j *models.Job) jobModel {
	return jobModel{
		ID:               j.ID,
		TargetUsername:   j.TargetUsername,
		AccountID:        j.AccountID,
		Status:           string(j.Status),
		MaxFollowers:     j.MaxFollowers,
		FollowersScraped: j.FollowersScraped,
		ErrorCount:       j.ErrorCount,
		LastError:        j.LastError,
		LastCursor:       j.LastCursor,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		CompletedAt:      j.CompletedAt,
	}
}

func toDomainJob(rec jobModel) *models.Job {
	return &models.Job{
		ID:               rec.ID,
		TargetUsername:   rec.TargetUsername,
		AccountID:        rec.AccountID,
		Status:           models.Status(rec.Status),
		MaxFollowers:     rec.MaxFollowers,
		FollowersScraped: rec.FollowersScraped,
		ErrorCount:       rec.ErrorCount,
		LastError:        rec.LastError,
		LastCursor:       rec.LastCursor,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		CompletedAt:      rec.CompletedAt,
	}
}

func toFollowerModel(f *models.Follower) followerModel {
	return followerModel{
		ID:                f.ID,
		AccountID:         f.AccountID,
		JobID:             f.JobID,
		Username:          f.Username,
		FullName:          f.FullName,
		Biography:         f.Biography,
		FollowerCount:     f.FollowerCount,
		FollowingCount:    f.FollowingCount,
		PostCount:         f.PostCount,
		IsPrivate:         f.IsPrivate,
		IsVerified:        f.IsVerified,
		ExternalURL:       f.ExternalURL,
		Email:             f.Email,
		Phone:             f.Phone,
		BusinessCategory:  f.BusinessCategory,
		IsBusinessAccount: f.IsBusinessAccount,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
}

func toDomainFollower(rec followerModel) *models.Follower {
	return &models.Follower{
		ID:                rec.ID,
		AccountID:         rec.AccountID,
		JobID:             rec.JobID,
		Username:          rec.Username,
		FullName:          rec.FullName,
		Biography:         rec.Biography,
		FollowerCount:     rec.FollowerCount,
		FollowingCount:    rec.FollowingCount,
		PostCount:         rec.PostCount,
		IsPrivate:         rec.IsPrivate,
		IsVerified:        rec.IsVerified,
		ExternalURL:       rec.ExternalURL,
		Email:             rec.Email,
		Phone:             rec.Phone,
		BusinessCategory:  rec.BusinessCategory,
		IsBusinessAccount: rec.IsBusinessAccount,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isForeignKeyViolation(err error) bool {
	return errors.Is(err, gorm.ErrForeignKeyViolated)
}
