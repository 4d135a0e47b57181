// Package memory is an in-process account store for tests and ephemeral runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/stockfolio/internal/domain"
	"github.com/vadiminshakov/stockfolio/internal/storage"
)

// Store keeps accounts and their ledgers in maps.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	ledgers  map[string][]domain.TransactionRecord
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[string]domain.Account),
		ledgers:  make(map[string][]domain.TransactionRecord),
	}
}

func (s *Store) CreateAccount(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return errors.Wrap(domain.ErrAccountExists, account.ID)
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *Store) LoadAccount(_ context.Context, id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, errors.Wrap(domain.ErrAccountNotFound, id)
	}
	return account.Clone(), nil
}

func (s *Store) SaveAccount(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[account.ID]
	if !ok {
		return errors.Wrap(domain.ErrAccountNotFound, account.ID)
	}
	if err := storage.CheckSave(current, account); err != nil {
		return err
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

// Commit stores the account and appends the record under one lock.
func (s *Store) Commit(_ context.Context, account domain.Account, record domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[account.ID]
	if !ok {
		return errors.Wrap(domain.ErrAccountNotFound, account.ID)
	}
	if err := storage.CheckCommit(current, account, record); err != nil {
		return err
	}
	s.accounts[account.ID] = account.Clone()
	s.ledgers[account.ID] = append(s.ledgers[account.ID], record)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, q domain.TransactionQuery) (domain.TransactionPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return domain.TransactionPage{}, errors.Wrap(domain.ErrAccountNotFound, accountID)
	}
	return domain.PageFromAscending(s.ledgers[accountID], q), nil
}

// AccountIDs lists every known account.
func (s *Store) AccountIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Close() error { return nil }
