package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mustardtree/portal/pkg/storage"
)

// CredentialStore persists local admin accounts under storage.KeyAdminAccounts
type CredentialStore struct {
	accounts *storage.Collection[AdminAccount]
	now      func() time.Time
}

// NewCredentialStore creates a credential store. It starts empty; use
// Bootstrap to create the first account.
func NewCredentialStore(kv storage.KV, opts ...storage.CollectionOption) *CredentialStore {
	return &CredentialStore{
		accounts: storage.NewCollection[AdminAccount](kv, storage.KeyAdminAccounts, nil, opts...),
		now:      time.Now,
	}
}

// FindByUsername looks up an account by exact username
func (s *CredentialStore) FindByUsername(ctx context.Context, username string) (*AdminAccount, error) {
	items, err := s.accounts.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range items {
		if a.Username == username {
			return &a, nil
		}
	}
	return nil, ErrAccountNotFound
}

// Get looks up an account by id
func (s *CredentialStore) Get(ctx context.Context, id string) (*AdminAccount, error) {
	items, err := s.accounts.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range items {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, ErrAccountNotFound
}

// List returns all accounts
func (s *CredentialStore) List(ctx context.Context) ([]AdminAccount, error) {
	return s.accounts.Load(ctx)
}

// Create adds an account with an existing bcrypt hash
func (s *CredentialStore) Create(ctx context.Context, username, email, passwordHash string, role AccountRole) (*AdminAccount, error) {
	account := AdminAccount{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    s.now(),
	}

	_, err := s.accounts.Update(ctx, func(items []AdminAccount) ([]AdminAccount, error) {
		for _, a := range items {
			if a.Username == username {
				return nil, ErrAccountExists
			}
		}
		return append(items, account), nil
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *CredentialStore) modify(ctx context.Context, id string, fn func(*AdminAccount)) error {
	_, err := s.accounts.Update(ctx, func(items []AdminAccount) ([]AdminAccount, error) {
		for i := range items {
			if items[i].ID == id {
				fn(&items[i])
				return items, nil
			}
		}
		return nil, ErrAccountNotFound
	})
	return err
}

// SetPasswordHash replaces the stored hash
func (s *CredentialStore) SetPasswordHash(ctx context.Context, id, passwordHash string) error {
	return s.modify(ctx, id, func(a *AdminAccount) {
		a.PasswordHash = passwordHash
	})
}

// RecordLogin stamps last_login_at
func (s *CredentialStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.modify(ctx, id, func(a *AdminAccount) {
		a.LastLoginAt = &at
	})
}

// BootstrapOptions controls creation of the first admin account
type BootstrapOptions struct {
	Username     string
	Email        string
	PasswordHash string

	// Production refuses to start without PasswordHash
	Production bool
	// Generate creates a random password when no hash is configured
	Generate bool
}

// Bootstrap creates the first admin account when none exist. When a
// password had to be generated it is returned so the caller can show it
// once; it is not stored anywhere in plain text.
func (s *CredentialStore) Bootstrap(ctx context.Context, opts BootstrapOptions) (string, error) {
	items, err := s.accounts.Load(ctx)
	if err != nil {
		return "", err
	}
	if len(items) > 0 {
		return "", nil
	}

	if opts.PasswordHash != "" {
		_, err := s.Create(ctx, opts.Username, opts.Email, opts.PasswordHash, AccountAdmin)
		return "", err
	}
	if opts.Production {
		return "", ErrBootstrapRequired
	}
	if !opts.Generate {
		return "", nil
	}

	password, err := GeneratePassword(16)
	if err != nil {
		return "", err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}
	if _, err := s.Create(ctx, opts.Username, opts.Email, hash, AccountAdmin); err != nil {
		return "", fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	return password, nil
}
