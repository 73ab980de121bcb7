// Package workspace provides the per-invocation scratch directory holding
// transient certificate-authority state and HSM engine configuration.
//
// A workspace is created at invocation start with a collision-resistant name
// and removed on every exit path; nothing in it survives the invocation.
// Release is safe to defer from main and to call more than once.
package workspace

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/glitchub/cryptool/internal/config"
)

type Workspace struct {
	Dir string

	db  *sql.DB
	log zerolog.Logger
}

// New creates an empty workspace directory under the system temp dir.
func New(log zerolog.Logger) (*Workspace, error) {
	dir := filepath.Join(os.TempDir(), "cryptool-"+uuid.NewString())
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	log.Debug().Str("dir", dir).Msg("workspace created")
	return &Workspace{Dir: dir, log: log}, nil
}

// Release tears the workspace down: closes the CA database and deletes the
// directory tree.
func (w *Workspace) Release() {
	if w.db != nil {
		_ = w.db.Close()
		w.db = nil
	}
	if w.Dir != "" {
		if err := os.RemoveAll(w.Dir); err != nil {
			w.log.Debug().Err(err).Str("dir", w.Dir).Msg("workspace cleanup failed")
		} else {
			w.log.Debug().Str("dir", w.Dir).Msg("workspace released")
		}
		w.Dir = ""
	}
}

// CAStore is the transient certificate-authority database: a serial seed in
// the metadata table and one row per issuance. It exists so the issuance
// state machine is observable within an invocation; it is never persisted.
type CAStore struct {
	db *sql.DB
}

// CA opens (creating on first use) the workspace CA database.
func (w *Workspace) CA() (*CAStore, error) {
	if w.db == nil {
		db, err := sql.Open("sqlite3", filepath.Join(w.Dir, "ca.db"))
		if err != nil {
			return nil, fmt.Errorf("opening ca database: %w", err)
		}
		if err := ensureTables(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing ca database: %w", err)
		}
		w.db = db
	}
	return &CAStore{db: w.db}, nil
}

func ensureTables(db *sql.DB) error {
	const sqlStmt = `
        CREATE TABLE IF NOT EXISTS metadata (
            key   TEXT PRIMARY KEY,
            value BLOB NOT NULL
        );
        CREATE TABLE IF NOT EXISTS issued (
            serial     INTEGER PRIMARY KEY,
            subject    TEXT NOT NULL,
            issuer     TEXT NOT NULL,
            not_before TIMESTAMP NOT NULL,
            not_after  TIMESTAMP NOT NULL,
            cert_pem   TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`
	_, err := db.Exec(sqlStmt)
	return err
}

const serialSeedKey = "serial_seed"

// NextSerial returns the next certificate serial. The seed is the issuance
// epoch timestamp; repeated issuances within one second advance past it so
// serials stay unique within the invocation.
func (s *CAStore) NextSerial() (int64, error) {
	var seed int64
	err := s.db.QueryRow(
		"SELECT value FROM metadata WHERE key = ?", serialSeedKey,
	).Scan(&seed)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	serial := time.Now().Unix()
	if serial <= seed {
		serial = seed + 1
	}

	_, err = s.db.Exec(
		"INSERT INTO metadata(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		serialSeedKey, serial,
	)
	if err != nil {
		return 0, err
	}
	return serial, nil
}

// Record stores one issuance.
func (s *CAStore) Record(serial int64, subject, issuer string, notBefore, notAfter time.Time, certPEM []byte) error {
	_, err := s.db.Exec(`
      INSERT INTO issued (serial, subject, issuer, not_before, not_after, cert_pem)
           VALUES (?, ?, ?, ?, ?, ?)
    `, serial, subject, issuer, notBefore, notAfter, string(certPEM))
	return err
}

// Issued reports the subject recorded for a serial, for introspection and
// tests. Returns ok=false when the serial is unknown.
func (s *CAStore) Issued(serial int64) (subject string, ok bool, err error) {
	err = s.db.QueryRow(
		"SELECT subject FROM issued WHERE serial = ?", serial,
	).Scan(&subject)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return subject, true, nil
}

// EngineConf renders the PKCS#11 engine configuration into the workspace and
// returns its path. The connector endpoint is always loopback.
func (w *Workspace) EngineConf(cfg *config.Config) (string, error) {
	path := filepath.Join(w.Dir, "engine.conf")
	body := fmt.Sprintf(
		"engine = %s\nmodule = %s\nconnector = 127.0.0.1:%d\n",
		cfg.Engine.Module, cfg.Engine.Token, cfg.Engine.ConnectorPort,
	)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		return "", fmt.Errorf("writing engine config: %w", err)
	}
	return path, nil
}
