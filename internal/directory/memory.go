// Package directory provides an in-process account directory. It stands in
// for an external directory server and keeps only bcrypt password hashes.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/resident-gate/internal/utils"
)

var (
	ErrAccountExists = errors.New("directory account already exists")
	ErrNoSuchAccount = errors.New("directory account does not exist")
)

const passwordBytes = 12

type account struct {
	passwordHash string
	attrs        map[string]string
}

// Memory is a concurrency-safe in-memory directory.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*account
	cost     int
	log      *zap.Logger
}

func NewMemory(bcryptCost int, log *zap.Logger) *Memory {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Memory{accounts: map[string]*account{}, cost: bcryptCost, log: log.Named("directory")}
}

func (m *Memory) CreateAccount(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[username]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, username)
	}
	m.accounts[username] = &account{attrs: map[string]string{}}
	m.log.Info("account created", zap.String("username", username))
	return nil
}

// ResetPassword sets a freshly generated password and returns it. Only the
// bcrypt hash is kept.
func (m *Memory) ResetPassword(ctx context.Context, username string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	secret, err := utils.RandomSecret(passwordBytes)
	if err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), m.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[username]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSuchAccount, username)
	}
	acc.passwordHash = string(hash)
	return secret, nil
}

func (m *Memory) UpdateAttributes(ctx context.Context, username string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchAccount, username)
	}
	for k, v := range fields {
		acc.attrs[k] = v
	}
	return nil
}

// Authenticate reports whether password matches the account's current
// password.
func (m *Memory) Authenticate(username, password string) bool {
	m.mu.Lock()
	acc, ok := m.accounts[username]
	var hash string
	if ok {
		hash = acc.passwordHash
	}
	m.mu.Unlock()
	return ok && hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Attributes returns a copy of the account attributes.
func (m *Memory) Attributes(username string) (map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[username]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(acc.attrs))
	for k, v := range acc.attrs {
		out[k] = v
	}
	return out, true
}
