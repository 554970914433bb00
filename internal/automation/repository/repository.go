// Package repository is the Postgres adapter behind the automation ports.
package repository

import (
	"errors"

	"pipeline_backend/platform/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const errRepoNotConfigured = "automation repository not configured"

// Repository implements the read ports and the ledger on one pool.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Pool exposes the pool for the effects applier.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *Repository) ready(op string) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(op)
	}
	return nil
}

// notFoundOr maps pgx.ErrNoRows to a not-found error and anything else to an
// upstream failure.
func notFoundOr(err error, op, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(what + " not found").WithOp(op)
	}
	return apperr.Upstream("load "+what+" failed", err).WithOp(op)
}
