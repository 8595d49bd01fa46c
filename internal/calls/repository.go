package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"callhelm/pkg/db"
)

// Store abstracts persistence for call rows.
//
// IMPORTANT:
//   - Every method must enforce org filtering.
//   - EndedAt transitions are the source of truth for "active"; writers must go
//     through the conditional updates here rather than blind UPDATEs.
type Store interface {
	Insert(ctx context.Context, call Call) error
	GetByID(ctx context.Context, orgID, callID string) (Call, bool, error)
	ListOpen(ctx context.Context, orgID string) ([]Call, error)
	ListStartedSince(ctx context.Context, orgID string, since time.Time) ([]Call, error)

	// MarkTimedOut closes an open call with status=failed and a merged metadata
	// patch. The update is conditional on ended_at IS NULL; zero rows affected
	// surfaces as ErrAlreadyEnded (or ErrNotFound when no row exists at all).
	MarkTimedOut(ctx context.Context, orgID, callID string, patch Metadata, endedAt time.Time) (Call, error)

	// ApplyLifecycle folds a provider lifecycle event into the row identified
	// by the vendor call-control id. Metadata is merged, never replaced.
	ApplyLifecycle(ctx context.Context, orgID, externalID string, update LifecycleUpdate) (Call, error)
}

// LifecycleUpdate is the webhook-writer's view of a call transition.
type LifecycleUpdate struct {
	Status          CallStatus
	EndedAt         *time.Time
	DurationSeconds int
	BridgeStatus    BridgeStatus
	Metadata        Metadata
	At              time.Time
}

// Directory abstracts the org/member/contact lookups the initiation flow and
// the dashboard need. Kept separate from Store so tests can fake it narrowly.
type Directory interface {
	// PrimaryOutboundNumber returns the org's primary active outbound number.
	PrimaryOutboundNumber(ctx context.Context, orgID string) (string, bool, error)
	// AgentEndpoint returns the member's configured bridge endpoint.
	AgentEndpoint(ctx context.Context, orgID, memberID string) (Endpoint, bool, error)
	ListActiveMembers(ctx context.Context, orgID string) ([]Member, error)
	GetContact(ctx context.Context, orgID, contactID string) (Contact, bool, error)
	// RecordCampaignAttempt bumps the campaign-contact attempt counter and
	// last-attempt timestamp. Callers treat failures as non-fatal.
	RecordCampaignAttempt(ctx context.Context, orgID, callListID, contactID string, at time.Time) error
}

/* ===================== POSTGRES ===================== */

// PostgresStore implements Store over database/sql.
//
// Assumed tables: calls, org_numbers, org_members, contacts, call_list_contacts
// (see migrations/).
type PostgresStore struct {
	database *sql.DB
}

func NewPostgresStore(database *sql.DB) *PostgresStore {
	return &PostgresStore{database: database}
}

const callColumns = `id, org_id, external_id, member_id, contact_id, from_number, to_number,
	direction, status, started_at, ended_at, duration_seconds,
	bridge_status, agent_endpoint, agent_endpoint_type, agent_leg_control_id,
	metadata, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, call Call) error {
	meta, err := json.Marshal(call.Metadata)
	if err != nil {
		return err
	}
	_, err = s.database.ExecContext(ctx, `
		INSERT INTO calls (`+callColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		call.ID, call.OrgID, nullStr(call.ExternalID), nullStr(call.MemberID), nullStr(call.ContactID),
		call.FromNumber, call.ToNumber, call.Direction, call.Status,
		call.StartedAt, call.EndedAt, call.DurationSeconds,
		nullStr(string(call.BridgeStatus)), nullStr(call.AgentEndpoint), nullStr(string(call.AgentEndpointType)), nullStr(call.AgentLegControlID),
		meta, call.CreatedAt, call.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, orgID, callID string) (Call, bool, error) {
	row := s.database.QueryRowContext(ctx, `
		SELECT `+callColumns+` FROM calls WHERE org_id = $1 AND id = $2`, orgID, callID)
	return scanCall(row)
}

func (s *PostgresStore) ListOpen(ctx context.Context, orgID string) ([]Call, error) {
	rows, err := s.database.QueryContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE org_id = $1 AND ended_at IS NULL
		ORDER BY started_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalls(rows)
}

func (s *PostgresStore) ListStartedSince(ctx context.Context, orgID string, since time.Time) ([]Call, error) {
	rows, err := s.database.QueryContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE org_id = $1 AND started_at >= $2
		ORDER BY started_at`, orgID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalls(rows)
}

func (s *PostgresStore) MarkTimedOut(ctx context.Context, orgID, callID string, patch Metadata, endedAt time.Time) (Call, error) {
	var out Call
	err := db.WithTx(ctx, s.database, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+callColumns+` FROM calls
			WHERE org_id = $1 AND id = $2
			FOR UPDATE`, orgID, callID)
		current, ok, err := scanCall(row)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if current.EndedAt != nil {
			// Optimistic precondition: the row closed between the caller's read
			// and this write. Zero rows affected is a typed outcome, not a
			// silent no-op.
			return ErrAlreadyEnded
		}

		merged := current.Metadata.Merge(patch)
		meta, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		dur := int(endedAt.Sub(current.StartedAt).Seconds())
		if dur < 0 {
			dur = 0
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE calls
			SET status = $1, ended_at = $2, duration_seconds = $3, metadata = $4, updated_at = $5
			WHERE org_id = $6 AND id = $7 AND ended_at IS NULL`,
			CallStatusFailed, endedAt, dur, meta, endedAt, orgID, callID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyEnded
		}

		out = current
		out.Status = CallStatusFailed
		out.EndedAt = &endedAt
		out.DurationSeconds = dur
		out.Metadata = merged
		out.UpdatedAt = endedAt
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (s *PostgresStore) ApplyLifecycle(ctx context.Context, orgID, externalID string, update LifecycleUpdate) (Call, error) {
	var out Call
	err := db.WithTx(ctx, s.database, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+callColumns+` FROM calls
			WHERE org_id = $1 AND external_id = $2
			FOR UPDATE`, orgID, externalID)
		current, ok, err := scanCall(row)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}

		next := current
		if update.Status != "" {
			next.Status = update.Status
		}
		if update.EndedAt != nil {
			next.EndedAt = update.EndedAt
		}
		if update.DurationSeconds > 0 {
			next.DurationSeconds = update.DurationSeconds
		} else if next.EndedAt != nil && next.DurationSeconds == 0 {
			next.DurationSeconds = int(next.EndedAt.Sub(next.StartedAt).Seconds())
		}
		if update.BridgeStatus != "" {
			next.BridgeStatus = update.BridgeStatus
		}
		next.Metadata = current.Metadata.Merge(update.Metadata)
		next.UpdatedAt = update.At

		meta, err := json.Marshal(next.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE calls
			SET status = $1, ended_at = $2, duration_seconds = $3, bridge_status = $4, metadata = $5, updated_at = $6
			WHERE org_id = $7 AND external_id = $8`,
			next.Status, next.EndedAt, next.DurationSeconds, nullStr(string(next.BridgeStatus)), meta, next.UpdatedAt,
			orgID, externalID)
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

// FindOrgByExternalID maps a vendor call-control id back to its owning org.
// Used by the webhook path when no client state round-tripped.
func (s *PostgresStore) FindOrgByExternalID(ctx context.Context, externalID string) (string, bool, error) {
	var orgID string
	err := s.database.QueryRowContext(ctx, `
		SELECT org_id FROM calls WHERE external_id = $1
		ORDER BY started_at DESC LIMIT 1`, externalID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orgID, true, nil
}

/* ===================== DIRECTORY (POSTGRES) ===================== */

type PostgresDirectory struct {
	database *sql.DB
}

func NewPostgresDirectory(database *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{database: database}
}

func (d *PostgresDirectory) PrimaryOutboundNumber(ctx context.Context, orgID string) (string, bool, error) {
	var number string
	err := d.database.QueryRowContext(ctx, `
		SELECT number FROM org_numbers
		WHERE org_id = $1 AND is_primary AND status = 'active'
		LIMIT 1`, orgID).Scan(&number)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return number, true, nil
}

func (d *PostgresDirectory) AgentEndpoint(ctx context.Context, orgID, memberID string) (Endpoint, bool, error) {
	var ep Endpoint
	var pbxHost sql.NullString
	err := d.database.QueryRowContext(ctx, `
		SELECT endpoint_type, endpoint_value, pbx_host FROM org_members
		WHERE org_id = $1 AND id = $2 AND endpoint_value IS NOT NULL`, orgID, memberID).
		Scan(&ep.Type, &ep.Value, &pbxHost)
	if err == sql.ErrNoRows {
		return Endpoint{}, false, nil
	}
	if err != nil {
		return Endpoint{}, false, err
	}
	ep.PBXHost = pbxHost.String
	return ep, true, nil
}

func (d *PostgresDirectory) ListActiveMembers(ctx context.Context, orgID string) ([]Member, error) {
	rows, err := d.database.QueryContext(ctx, `
		SELECT id, org_id, display_name, active FROM org_members
		WHERE org_id = $1 AND active
		ORDER BY display_name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.OrgID, &m.DisplayName, &m.Active); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) GetContact(ctx context.Context, orgID, contactID string) (Contact, bool, error) {
	var c Contact
	err := d.database.QueryRowContext(ctx, `
		SELECT id, org_id, display_name, phone_number FROM contacts
		WHERE org_id = $1 AND id = $2`, orgID, contactID).
		Scan(&c.ID, &c.OrgID, &c.DisplayName, &c.PhoneNumber)
	if err == sql.ErrNoRows {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}

func (d *PostgresDirectory) RecordCampaignAttempt(ctx context.Context, orgID, callListID, contactID string, at time.Time) error {
	_, err := d.database.ExecContext(ctx, `
		UPDATE call_list_contacts
		SET attempt_count = attempt_count + 1, last_attempt_at = $1
		WHERE org_id = $2 AND call_list_id = $3 AND contact_id = $4`,
		at, orgID, callListID, contactID)
	return err
}

/* ===================== SCAN HELPERS ===================== */

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, bool, error) {
	var c Call
	var externalID, memberID, contactID sql.NullString
	var bridgeStatus, agentEndpoint, agentEndpointType, agentLegID sql.NullString
	var meta []byte

	err := row.Scan(
		&c.ID, &c.OrgID, &externalID, &memberID, &contactID,
		&c.FromNumber, &c.ToNumber, &c.Direction, &c.Status,
		&c.StartedAt, &c.EndedAt, &c.DurationSeconds,
		&bridgeStatus, &agentEndpoint, &agentEndpointType, &agentLegID,
		&meta, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}

	c.ExternalID = externalID.String
	c.MemberID = memberID.String
	c.ContactID = contactID.String
	c.BridgeStatus = BridgeStatus(bridgeStatus.String)
	c.AgentEndpoint = agentEndpoint.String
	c.AgentEndpointType = EndpointType(agentEndpointType.String)
	c.AgentLegControlID = agentLegID.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return Call{}, false, err
		}
	}
	return c, true, nil
}

func collectCalls(rows *sql.Rows) ([]Call, error) {
	out := make([]Call, 0)
	for rows.Next() {
		c, _, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
