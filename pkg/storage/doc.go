// Package storage defines the persistence contract for accounts, jobs and
// followers, and provides an in-memory implementation.
//
// Accounts are unique by username and followers by (account, username);
// both are written with upsert semantics so re-scraping refreshes rows
// instead of duplicating them. Job status changes go through
// TransitionJob, a compare-and-set on the current status, so a stop
// issued by an operator cannot be overwritten by a job loop finishing at
// the same time.
//
// The PostgreSQL implementation lives in storage/postgres.
//
//	store := storage.NewMemory()
//	account, err := store.UpsertAccount(ctx, &models.Account{Username: "target"})
//	if err != nil {
//	    return err
//	}
//	job, err := store.CreateJob(ctx, &models.Job{
//	    TargetUsername: account.Username,
//	    AccountID:      account.ID,
//	    Status:         models.StatusRunning,
//	    MaxFollowers:   500,
//	})
package storage
