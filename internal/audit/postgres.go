package audit

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	keySize          = 32 // AES-256
	saltSize         = 32
	nonceSize        = 12 // GCM standard
)

// PostgresStore appends session-end records to Postgres. The free-text
// Detail column is encrypted at rest with a key derived from the configured
// webhook secret, the same PBKDF2+AES-256-GCM construction the teacher used
// for share-at-rest encryption; the difference is this store is write-once
// and never consulted to reconstruct session state.
type PostgresStore struct {
	db     *sql.DB
	secret []byte
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, databaseURL, secret string, logger *zap.Logger) (*PostgresStore, error) {
	if !strings.Contains(databaseURL, "sslmode=") {
		if strings.Contains(databaseURL, "?") {
			databaseURL += "&sslmode=disable"
		} else {
			databaseURL += "?sslmode=disable"
		}
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS coordinator_session_audit (
			session_key VARCHAR(256) NOT NULL,
			kind        VARCHAR(16) NOT NULL,
			outcome     VARCHAR(16) NOT NULL,
			closed_at   BIGINT NOT NULL,
			num_parties INTEGER NOT NULL,
			encrypted_detail BYTEA NOT NULL,
			PRIMARY KEY (session_key, closed_at)
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	return &PostgresStore{db: db, secret: []byte(secret), logger: logger}, nil
}

type encryptedDetail struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func (p *PostgresStore) encrypt(plaintext string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key(p.secret, salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return json.Marshal(encryptedDetail{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
}

// Record appends a row, best-effort: failures are logged, never surfaced to
// session handling.
func (p *PostgresStore) Record(ctx context.Context, r Record) {
	enc, err := p.encrypt(r.Detail)
	if err != nil {
		p.logger.Warn("failed to encrypt audit detail", zap.Error(err))
		return
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO coordinator_session_audit
			(session_key, kind, outcome, closed_at, num_parties, encrypted_detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_key, closed_at) DO NOTHING
	`, r.SessionKey, r.Kind, r.Outcome, r.ClosedAt, r.NumParties, enc)
	if err != nil {
		p.logger.Warn("failed to write audit record", zap.String("session_key", r.SessionKey), zap.Error(err))
	}
}

func (p *PostgresStore) Close() error { return p.db.Close() }
