// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package reset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/platform/apperr"
)

// QuestionStore persists the two security-question pairs per account.
type QuestionStore interface {
	ReplaceQuestions(ctx context.Context, accountID, question1, answerHash1, question2, answerHash2 string) error
	GetQuestions(ctx context.Context, accountID string) (question1, answerHash1, question2, answerHash2 string, err error)
	DeleteQuestions(ctx context.Context, accountID string) error
}

// PostgresQuestionStore implements [QuestionStore] using pgx.
type PostgresQuestionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresQuestionStore creates a new PostgreSQL implementation of [QuestionStore].
func NewPostgresQuestionStore(pool *pgxpool.Pool) *PostgresQuestionStore {
	return &PostgresQuestionStore{pool: pool}
}

// ReplaceQuestions upserts both question pairs in one statement.
//
// Answers arrive already hashed under the reset-purpose salt; this store
// never sees clear answer material.
func (store *PostgresQuestionStore) ReplaceQuestions(ctx context.Context, accountID, question1, answerHash1, question2, answerHash2 string) error {
	const query = `
		INSERT INTO identity.securityquestion (
			accountid, question1, answerhash1, question2, answerhash2, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (accountid)
		DO UPDATE SET question1 = EXCLUDED.question1, answerhash1 = EXCLUDED.answerhash1,
		              question2 = EXCLUDED.question2, answerhash2 = EXCLUDED.answerhash2,
		              updatedat = EXCLUDED.updatedat`

	_, err := store.pool.Exec(ctx, query, accountID, question1, answerHash1, question2, answerHash2, time.Now())
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("question_store_replace_failed: %w", err))
	}

	return nil
}

// GetQuestions retrieves both pairs for an account.
//
// # Returns
//
// Returns [apperr.NotFound] when the account has no questions on file.
func (store *PostgresQuestionStore) GetQuestions(ctx context.Context, accountID string) (string, string, string, string, error) {
	const query = `
		SELECT question1, answerhash1, question2, answerhash2
		FROM identity.securityquestion
		WHERE accountid = $1`

	var question1, answerHash1, question2, answerHash2 string
	err := store.pool.QueryRow(ctx, query, accountID).Scan(&question1, &answerHash1, &question2, &answerHash2)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", "", "", apperr.NotFound("Security questions")
		}
		return "", "", "", "", apperr.StoreUnavailable(fmt.Errorf("question_store_get_failed: %w", err))
	}

	return question1, answerHash1, question2, answerHash2, nil
}

// DeleteQuestions removes the question pairs for an account. Idempotent.
func (store *PostgresQuestionStore) DeleteQuestions(ctx context.Context, accountID string) error {
	const query = "DELETE FROM identity.securityquestion WHERE accountid = $1"

	_, err := store.pool.Exec(ctx, query, accountID)
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("question_store_delete_failed: %w", err))
	}

	return nil
}
