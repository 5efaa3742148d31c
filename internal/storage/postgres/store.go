package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/storage"
)

// Ensure Store satisfies the storage interfaces at compile time.
var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.RoleStore       = (*Store)(nil)
	_ storage.OfferStore      = (*Store)(nil)
)

// Store provides Postgres-backed persistence for credentials, roles and offers.
type Store struct {
	pool   *pgxpool.Pool
	window time.Duration
}

// NewStore connects, runs migrations and returns a Store whose decision
// updates honour the given response window.
func NewStore(ctx context.Context, databaseURL string, window time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if window <= 0 {
		window = models.DefaultResponseWindow
	}
	s := &Store{pool: pool, window: window}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_email_unique_idx ON users (lower(email));`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			role TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS servicos_realizados (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			professional_id UUID NOT NULL REFERENCES users(id),
			data_servico DATE NOT NULL,
			hora_inicio TEXT NOT NULL DEFAULT '',
			hora_fim TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'aguardando_aceite',
			status_visualizacao_prestador TEXT NOT NULL DEFAULT 'ENVIADA',
			checklist_alinhamento JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS servicos_realizados_pending_idx
			ON servicos_realizados (professional_id, created_at)
			WHERE status = 'aguardando_aceite';`,
		`CREATE OR REPLACE FUNCTION notify_servico_inserted() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('` + insertChannel + `',
				json_build_object('id', NEW.id, 'professional_id', NEW.professional_id)::text);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;`,
		`DROP TRIGGER IF EXISTS servicos_realizados_insert_notify ON servicos_realizados;`,
		`CREATE TRIGGER servicos_realizados_insert_notify
			AFTER INSERT ON servicos_realizados
			FOR EACH ROW EXECUTE FUNCTION notify_servico_inserted();`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// CreateCredential inserts a user row with its password hash.
func (s *Store) CreateCredential(ctx context.Context, cred models.Credential) (models.Credential, error) {
	const query = `
		INSERT INTO users (email, full_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id::text, email, full_name, password_hash, created_at;
	`
	row := s.pool.QueryRow(ctx, query, strings.TrimSpace(cred.User.Email), cred.User.DisplayName, cred.PasswordHash)
	created, err := scanCredential(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Credential{}, storage.ErrAlreadyExists
		}
		return models.Credential{}, err
	}
	return created, nil
}

// FindCredential fetches a login record by e-mail, case-insensitively.
func (s *Store) FindCredential(ctx context.Context, email string) (models.Credential, error) {
	const query = `
	SELECT id::text, email, full_name, password_hash, created_at
	FROM users
	WHERE lower(email) = lower($1);
	`
	row := s.pool.QueryRow(ctx, query, strings.TrimSpace(email))
	return scanCredential(row)
}

// SetRole upserts the profile role for a user.
func (s *Store) SetRole(ctx context.Context, userID, role string) error {
	const query = `
	INSERT INTO profiles (id, role) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role;
	`
	if _, err := s.pool.Exec(ctx, query, userID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// GetRole fetches the role name stored for a user.
func (s *Store) GetRole(ctx context.Context, userID string) (string, error) {
	if !validID(userID) {
		return "", storage.ErrNotFound
	}
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1;`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

// validID reports whether id can name a row; ids are uuid columns.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func scanCredential(row pgx.Row) (models.Credential, error) {
	var cred models.Credential
	if err := row.Scan(&cred.User.ID, &cred.User.Email, &cred.User.DisplayName, &cred.PasswordHash, &cred.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Credential{}, storage.ErrNotFound
		}
		return models.Credential{}, err
	}
	return cred, nil
}
