package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stanstork/chartdata-api/internal/models"
	"github.com/stanstork/chartdata-api/internal/utils"
)

// ConnectionRepository stores one connection profile per source system.
// Passwords are kept encrypted at rest.
type ConnectionRepository interface {
	List(ctx context.Context) ([]models.ConnectionProfile, error)
	Replace(ctx context.Context, profiles []models.ConnectionProfile) error
	LoadProfiles(ctx context.Context) (map[models.SourceSystem]models.ConnectionProfile, error)
}

type connectionRepository struct {
	db  *sql.DB
	box *utils.SecretBox
}

// NewConnectionRepository returns a repository that seals passwords with box.
// A nil box stores profiles without passwords.
func NewConnectionRepository(db *sql.DB, box *utils.SecretBox) ConnectionRepository {
	return &connectionRepository{db: db, box: box}
}

const connectionColumns = `id, source_system, host, port, instance, db_name, username, password_enc, integrated, encrypt, file_path, updated_at`

func (r *connectionRepository) List(ctx context.Context) ([]models.ConnectionProfile, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+connectionColumns+" FROM chart.connections ORDER BY source_system")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.ConnectionProfile
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// Replace makes the stored set equal to profiles: systems not listed are
// deleted and the rest upserted, in one transaction.
func (r *connectionRepository) Replace(ctx context.Context, profiles []models.ConnectionProfile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	keep := make([]string, 0, len(profiles))
	for _, p := range profiles {
		keep = append(keep, string(p.System))
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chart.connections WHERE NOT (source_system = ANY($1))", pq.Array(keep)); err != nil {
		return errors.Wrap(err, "failed to delete dropped connection profiles")
	}
	for _, p := range profiles {
		if err := r.upsert(ctx, tx, p); err != nil {
			return errors.Wrapf(err, "failed to store connection profile for %s", p.System)
		}
	}
	return tx.Commit()
}

func (r *connectionRepository) upsert(ctx context.Context, tx *sql.Tx, p models.ConnectionProfile) error {
	var enc []byte
	if p.Password != "" {
		if r.box == nil {
			return errors.New("cannot store a password without an encryption key")
		}
		var err error
		enc, err = r.box.Seal(p.Password)
		if err != nil {
			return errors.Wrap(err, "failed to encrypt connection password")
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chart.connections (source_system, host, port, instance, db_name, username, password_enc, integrated, encrypt, file_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source_system) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			instance = EXCLUDED.instance,
			db_name = EXCLUDED.db_name,
			username = EXCLUDED.username,
			password_enc = EXCLUDED.password_enc,
			integrated = EXCLUDED.integrated,
			encrypt = EXCLUDED.encrypt,
			file_path = EXCLUDED.file_path,
			updated_at = NOW()
	`, string(p.System), p.Host, p.Port, p.Instance, p.Database, p.Username, enc, p.Integrated, p.Encrypt, p.Path)
	return err
}

// LoadProfiles lets the repository back the engine's connection resolver.
func (r *connectionRepository) LoadProfiles(ctx context.Context) (map[models.SourceSystem]models.ConnectionProfile, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[models.SourceSystem]models.ConnectionProfile, len(list))
	for _, p := range list {
		out[p.System] = p
	}
	return out, nil
}

func (r *connectionRepository) scan(s rowScanner) (*models.ConnectionProfile, error) {
	var (
		p      models.ConnectionProfile
		system string
		enc    []byte
	)
	if err := s.Scan(&p.ID, &system, &p.Host, &p.Port, &p.Instance, &p.Database, &p.Username,
		&enc, &p.Integrated, &p.Encrypt, &p.Path, &p.UpdatedAt); err != nil {
		return nil, err
	}
	sys, err := models.ParseSourceSystem(system)
	if err != nil {
		return nil, err
	}
	p.System = sys
	if len(enc) > 0 {
		if r.box == nil {
			return nil, errors.Errorf("password for %s is encrypted but no key is configured", sys)
		}
		plain, err := r.box.Open(enc)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decrypt password for %s", sys)
		}
		p.Password = plain
	}
	return &p, nil
}
