package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/homestack/homestack/pkg/engine"
)

// PostgresProvisioner creates databases and their owner roles on a
// shared Postgres server. The connection must authenticate as a role
// with CREATEDB and CREATEROLE.
type PostgresProvisioner struct {
	db *sql.DB
}

// NewPostgresProvisioner wraps an open admin connection.
func NewPostgresProvisioner(db *sql.DB) *PostgresProvisioner {
	return &PostgresProvisioner{db: db}
}

// OpenPostgres connects to the admin database with the pgx stdlib
// driver and verifies the server is reachable.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Exists reports whether the database behind the task key is present in
// the server catalog.
func (p *PostgresProvisioner) Exists(ctx context.Context, task engine.ProvisionTask) (bool, error) {
	_, name, err := ParseKey(task.Key)
	if err != nil {
		return false, err
	}

	var one int
	err = p.db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return true, nil
}

// Create creates the database, first ensuring the owner role from the
// task params when one is named. CREATE DATABASE takes no bind
// parameters, so identifiers are sanitized instead.
func (p *PostgresProvisioner) Create(ctx context.Context, task engine.ProvisionTask) error {
	_, name, err := ParseKey(task.Key)
	if err != nil {
		return err
	}

	owner := task.Params["owner"]
	if owner != "" {
		if err := p.ensureRole(ctx, owner, task.Params["owner_password"]); err != nil {
			return err
		}
	}

	stmt := "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
	if owner != "" {
		stmt += " OWNER " + pgx.Identifier{owner}.Sanitize()
	}
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}

	log.Info().Str("database", name).Str("owner", owner).Msg("database created")
	return nil
}

func (p *PostgresProvisioner) ensureRole(ctx context.Context, role, password string) error {
	var one int
	err := p.db.QueryRowContext(ctx, "SELECT 1 FROM pg_roles WHERE rolname = $1", role).Scan(&one)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check role %s: %w", role, err)
	}

	stmt := "CREATE ROLE " + pgx.Identifier{role}.Sanitize() + " LOGIN"
	if password != "" {
		stmt += " PASSWORD '" + strings.ReplaceAll(password, "'", "''") + "'"
	}
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create role %s: %w", role, err)
	}

	log.Info().Str("role", role).Msg("owner role created")
	return nil
}
