package repo

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"agentline/internal/domain"
)

// HashToken returns the BLAKE3 hex digest stored in place of a bearer token.
func HashToken(token string) string {
	sum := blake3.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

const sessionColumns = `id,agent_id,project_id,expires_at,created_at`

func scanSession(row scanner) (domain.AgentSession, error) {
	var (
		s                    domain.AgentSession
		expiresAt, createdAt string
	)
	if err := row.Scan(&s.ID, &s.AgentID, &s.ProjectID, &expiresAt, &createdAt); err != nil {
		return s, notFound(err)
	}
	var err error
	if s.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return s, err
	}
	s.CreatedAt, err = parseTime(createdAt)
	return s, err
}

// InsertSession stores s under the digest of its token.
func (r Repo) InsertSession(ctx context.Context, s domain.AgentSession) error {
	if s.ID == "" {
		return errors.New("id required")
	}
	if s.Token == "" {
		return errors.New("token required")
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO sessions(id,agent_id,project_id,token_hash,expires_at,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.AgentID, s.ProjectID, HashToken(s.Token), formatTime(s.ExpiresAt), formatTime(s.CreatedAt))
	return err
}

// GetSessionByToken looks a session up by the digest of its raw token.
func (r Repo) GetSessionByToken(ctx context.Context, token string) (domain.AgentSession, error) {
	return scanSession(r.q().QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash=? LIMIT 1`, HashToken(token)))
}

func (r Repo) GetSession(ctx context.Context, id domain.SessionID) (domain.AgentSession, error) {
	return scanSession(r.q().QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
}

func (r Repo) ListSessionsByProject(ctx context.Context, projectID domain.ProjectID) ([]domain.AgentSession, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AgentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r Repo) UpdateSessionExpiry(ctx context.Context, id domain.SessionID, expiresAt time.Time) error {
	res, err := r.q().ExecContext(ctx, `UPDATE sessions SET expires_at=? WHERE id=?`, formatTime(expiresAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
