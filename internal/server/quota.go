package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const dailyMessageLimit = 8

// recordUserMessage counts one chat message against the caller's daily quota
// and logs the accepted message. The guarded upsert increments and compares in
// a single statement, so two concurrent requests at the cap cannot both pass:
// the counter never exceeds dailyMessageLimit. Returns false when the cap is
// already reached; no side effect remains in that case.
func (a *App) recordUserMessage(ctx context.Context, userID, content string, now time.Time) (bool, error) {
	day := startOfUTCDay(now)

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(
		ctx,
		`INSERT INTO "DailyMessageUsage" (id, "userId", day, "messageCount", "createdAt", "updatedAt")
		 VALUES ($1, $2, $3, 1, NOW(), NOW())
		 ON CONFLICT ("userId", day)
		 DO UPDATE SET "messageCount" = "DailyMessageUsage"."messageCount" + 1,
		               "updatedAt" = NOW()
		 WHERE "DailyMessageUsage"."messageCount" < $4
		 RETURNING "messageCount"`,
		uuid.NewString(),
		userID,
		day,
		dailyMessageLimit,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO "UserMessageLog" (id, "userId", content, "createdAt")
		 VALUES ($1, $2, $3, NOW())`,
		uuid.NewString(),
		userID,
		content,
	); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// countMessagesToday reads the current day's counter without side effects.
func (a *App) countMessagesToday(ctx context.Context, q dbQuerier, userID string, now time.Time) (int, error) {
	day := startOfUTCDay(now)
	var count int
	err := q.QueryRow(
		ctx,
		`SELECT "messageCount" FROM "DailyMessageUsage" WHERE "userId" = $1 AND day = $2`,
		userID,
		day,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}
