package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/marrygold/usher/pkg/observability"
)

const identityColumns = `id, external_id, email, display_name, avatar_ref, role, created_at, updated_at`

// Store persists identity records in PostgreSQL. It holds no application
// locks; concurrent deliveries for the same identity are serialized by the
// store's uniqueness constraints and upsert semantics. Store performs no
// internal retries — redelivery is the delivery mechanism's job, and the
// idempotent upsert is what makes redelivery safe.
type Store struct {
	db      *sql.DB
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewStore creates a Store. timeout bounds each store operation; hitting the
// deadline is classified as transient so the delivery mechanism redelivers.
func NewStore(db *sql.DB, timeout time.Duration, logger *observability.Logger) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Store{db: db, timeout: timeout, logger: logger}
}

// WithMetrics attaches store operation metrics.
func (s *Store) WithMetrics(m *observability.Metrics) *Store {
	s.metrics = m
	return s
}

// CreateFromNotification reconciles a created notification into exactly one
// identity record:
//
//  1. Upsert keyed on external_id. Redelivery of the same notification only
//     bumps updated_at.
//  2. If the insert instead trips the email uniqueness constraint, the
//     provider has issued a new external id for a person we already know
//     (account recovery, provider migration). Rebind the email-matched
//     record's external_id instead of creating a second record.
func (s *Store) CreateFromNotification(ctx context.Context, n *Notification) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.create(ctx, n)
}

func (s *Store) create(ctx context.Context, n *Notification) (*Identity, error) {
	if err := validateNotification(n); err != nil {
		return nil, err
	}

	start := time.Now()
	role := n.DeriveRole()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO identities (id, external_id, email, display_name, avatar_ref, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO UPDATE
		SET email = EXCLUDED.email,
		    display_name = EXCLUDED.display_name,
		    avatar_ref = EXCLUDED.avatar_ref,
		    role = EXCLUDED.role,
		    updated_at = NOW()
		RETURNING `+identityColumns,
		uuid.NewString(), n.ExternalID, n.Email,
		nullString(n.DisplayName), nullString(n.AvatarRef), role)

	rec, err := scanIdentity(row)
	if err == nil {
		s.observe("create", start, nil)
		return rec, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "identities_email_key" {
		rec, rerr := s.rebindExternalID(ctx, n, role)
		s.observe("rebind", start, rerr)
		return rec, rerr
	}

	cerr := classifyStoreError(err)
	s.observe("create", start, cerr)
	return nil, cerr
}

// rebindExternalID updates the email-matched record's external_id in place.
// This is the single allowed mutation of external_id after creation. A
// displaced prior external id (three-way conflict) resolves last-write-wins:
// the provider is the system of record, so the newest id takes over.
func (s *Store) rebindExternalID(ctx context.Context, n *Notification, role Role) (*Identity, error) {
	var prior sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT external_id FROM identities WHERE email = $1`, n.Email).Scan(&prior)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, classifyStoreError(err)
	}
	if prior.Valid && prior.String != "" && prior.String != n.ExternalID {
		s.logger.WithFields(map[string]interface{}{
			"email_record_external_id": prior.String,
			"incoming_external_id":     n.ExternalID,
		}).Warn("rebinding identity to a new external id, displacing the prior one")
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE identities
		SET external_id = $1,
		    display_name = $2,
		    avatar_ref = $3,
		    role = $4,
		    updated_at = NOW()
		WHERE email = $5
		RETURNING `+identityColumns,
		n.ExternalID, nullString(n.DisplayName), nullString(n.AvatarRef), role, n.Email)

	rec, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		// The email-matched record disappeared between the conflict and the
		// rebind; a redelivery will take the plain create path.
		return nil, &TransientError{Err: fmt.Errorf("identity for email vanished during rebind")}
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return rec, nil
}

// UpdateFromNotification applies an updated notification, keyed strictly on
// external_id. A missing record means the paired created notification was
// never processed (deliveries are unordered), so it falls back to the create
// path instead of failing.
func (s *Store) UpdateFromNotification(ctx context.Context, n *Notification) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := validateNotification(n); err != nil {
		return nil, err
	}

	start := time.Now()
	role := n.DeriveRole()
	row := s.db.QueryRowContext(ctx, `
		UPDATE identities
		SET email = $1,
		    display_name = $2,
		    avatar_ref = $3,
		    role = $4,
		    updated_at = NOW()
		WHERE external_id = $5
		RETURNING `+identityColumns,
		n.Email, nullString(n.DisplayName), nullString(n.AvatarRef), role, n.ExternalID)

	rec, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.WithField("external_id", n.ExternalID).
			Info("update for unknown identity, healing missed create")
		return s.create(ctx, n)
	}
	if err != nil {
		cerr := classifyStoreError(err)
		s.observe("update", start, cerr)
		return nil, cerr
	}
	s.observe("update", start, nil)
	return rec, nil
}

// Delete hard-deletes the record for an external id. Deleting an id with no
// record is already-satisfied, not an error, so redelivery stays safe.
func (s *Store) Delete(ctx context.Context, externalID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM identities WHERE external_id = $1`, externalID)
	if err != nil {
		cerr := classifyStoreError(err)
		s.observe("delete", start, cerr)
		return cerr
	}
	s.observe("delete", start, nil)
	return nil
}

// GetByExternalID returns the record for a provider id, or ErrNotFound.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE external_id = $1`, externalID)
	rec, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return rec, nil
}

// GetByEmail returns the record for an email, or ErrNotFound.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
	rec, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return rec, nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveStoreOperation(op, time.Since(start), err)
}

func validateNotification(n *Notification) error {
	if n.ExternalID == "" {
		return &PermanentError{Err: fmt.Errorf("notification carries no external id")}
	}
	if n.Email == "" {
		return &PermanentError{Err: fmt.Errorf("notification carries no primary email")}
	}
	return nil
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	rec := &Identity{}
	var externalID, displayName, avatarRef sql.NullString
	err := row.Scan(&rec.ID, &externalID, &rec.Email, &displayName, &avatarRef,
		&rec.Role, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.ExternalID = externalID.String
	rec.DisplayName = displayName.String
	rec.AvatarRef = avatarRef.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
