package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrNotClaimed means the caller no longer holds the dispatch claim on a
	// reminder: it was edited, deleted, or released by someone else.
	ErrNotClaimed = errors.New("reminder is not claimed by this token")

	ErrRecipientExists = errors.New("recipient already added")
	ErrRecipientLimit  = errors.New("recipient limit reached")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
