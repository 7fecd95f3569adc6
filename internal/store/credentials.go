package store

import (
	"context"
	"fmt"

	"gridbot/internal/core"
)

// UpsertCredential stores one exchange credential whose key material the
// caller has already encrypted; it is written as given. At most one
// row may be marked active; activating a row deactivates every other row.
func (s *Store) UpsertCredential(ctx context.Context, c core.StoredCredential) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	active := 0
	if c.Active {
		active = 1
		if _, err := tx.ExecContext(ctx, `UPDATE exchanges SET is_active = 0`); err != nil {
			return err
		}
	}

	testnet := 0
	if c.UseTestnet {
		testnet = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exchanges (name, type, api_key, secret_key, passphrase, use_testnet, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET type = excluded.type, api_key = excluded.api_key,
			secret_key = excluded.secret_key, passphrase = excluded.passphrase,
			use_testnet = excluded.use_testnet, is_active = excluded.is_active`,
		c.Name, c.Type, c.EncryptedAPIKey, c.EncryptedSecret, c.EncryptedPassph, testnet, active,
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return tx.Commit()
}

// GetExchanges lists configured venues without exposing secret material.
func (s *Store) GetExchanges(ctx context.Context) ([]core.ExchangeSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT name, type, use_testnet, is_active FROM exchanges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ExchangeSummary
	for rows.Next() {
		var sum core.ExchangeSummary
		var testnet, active int
		if err := rows.Scan(&sum.Name, &sum.Type, &testnet, &active); err != nil {
			return nil, err
		}
		sum.UseTestnet = testnet == 1
		sum.Active = active == 1
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetCredential decrypts and returns one credential by name.
func (s *Store) GetCredential(ctx context.Context, name string) (core.Credential, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var c core.Credential
	var apiKeyEnc, secretEnc []byte
	var passphBytes []byte
	var testnet int
	row := s.db.QueryRowContext(ctx, `
		SELECT name, type, api_key, secret_key, passphrase, use_testnet FROM exchanges WHERE name = ?`, name)
	if err := row.Scan(&c.Name, &c.Type, &apiKeyEnc, &secretEnc, &passphBytes, &testnet); err != nil {
		return core.Credential{}, fmt.Errorf("get credential %q: %w", name, err)
	}
	c.UseTestnet = testnet == 1

	apiKey, err := s.keyring.Decrypt(apiKeyEnc)
	if err != nil {
		return core.Credential{}, fmt.Errorf("decrypt api key: %w", err)
	}
	secret, err := s.keyring.Decrypt(secretEnc)
	if err != nil {
		return core.Credential{}, fmt.Errorf("decrypt secret key: %w", err)
	}
	c.APIKey = string(apiKey)
	c.SecretKey = string(secret)

	if len(passphBytes) > 0 {
		passph, err := s.keyring.Decrypt(passphBytes)
		if err != nil {
			return core.Credential{}, fmt.Errorf("decrypt passphrase: %w", err)
		}
		c.Passphrase = string(passph)
	}

	return c, nil
}
