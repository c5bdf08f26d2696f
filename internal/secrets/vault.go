package secrets

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Vault resolves tenant-scoped named secrets referenced from action
// templates, decrypting values on the way out.
type Vault struct {
	db     *pgxpool.Pool
	cipher *Cipher
}

// NewVault creates a vault backed by the vault_secrets table.
func NewVault(db *pgxpool.Pool, cipher *Cipher) *Vault {
	return &Vault{db: db, cipher: cipher}
}

// GetDecrypted fetches and decrypts the named secrets for one user. Every
// requested name must exist; a missing secret is an error so the caller
// fails the action instead of sending a half-substituted request.
func (v *Vault) GetDecrypted(ctx context.Context, userID uuid.UUID, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}

	rows, err := v.db.Query(ctx, `
		SELECT name, value FROM vault_secrets
		WHERE user_id = $1 AND name = ANY($2)
	`, userID, names)
	if err != nil {
		return nil, fmt.Errorf("query vault secrets: %w", err)
	}
	defer rows.Close()

	found := make(map[string]string, len(names))
	for rows.Next() {
		var name, encrypted string
		if err := rows.Scan(&name, &encrypted); err != nil {
			return nil, fmt.Errorf("scan vault secret: %w", err)
		}
		value, err := v.cipher.Decrypt(encrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt vault secret %q: %w", name, err)
		}
		found[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read vault secrets: %w", err)
	}

	for _, name := range names {
		if _, ok := found[name]; !ok {
			return nil, fmt.Errorf("vault secret %q not found", name)
		}
	}
	return found, nil
}
