// Package journal is a durable account store on top of a write-ahead log.
// Every mutation is one WAL entry, and the in-memory view is rebuilt by replay on start.
package journal

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stockfolio/internal/domain"
	"github.com/vadiminshakov/stockfolio/internal/storage"
	"github.com/vadiminshakov/stockfolio/internal/storage/memory"
)

const (
	defaultDir       = "./wal/ledger"
	segmentThreshold = 1000
	// ledger history must never rotate out of the log
	maxSegments = 1 << 20

	keyAccountPrefix = "account_"
	keyTradePrefix   = "trade_"
)

type entryOp string

const (
	opCreate entryOp = "create"
	opSave   entryOp = "save"
	opCommit entryOp = "commit"
)

type entry struct {
	Op      entryOp                   `json:"op"`
	Account domain.Account            `json:"account"`
	Record  *domain.TransactionRecord `json:"record,omitempty"`
}

// WALStore persists accounts and ledger records in a gowal log.
type WALStore struct {
	wal    *gowal.Wal
	view   *memory.Store
	mu     sync.Mutex
	logger *zap.Logger
}

// NewWALStore opens (or creates) the log under dir and replays it.
func NewWALStore(dir string, logger *zap.Logger) (*WALStore, error) {
	if dir == "" {
		dir = defaultDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &WALStore{wal: wal, view: memory.NewStore(), logger: logger}
	if err := s.replay(); err != nil {
		_ = wal.Close()
		return nil, err
	}

	return s, nil
}

func (s *WALStore) replay() error {
	ctx := context.Background()
	var applied int

	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, keyAccountPrefix) && !strings.HasPrefix(msg.Key, keyTradePrefix) {
			continue
		}

		var e entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return errors.Wrapf(err, "decode ledger entry %s", msg.Key)
		}

		var err error
		switch e.Op {
		case opCreate:
			err = s.view.CreateAccount(ctx, e.Account)
		case opSave:
			err = s.view.SaveAccount(ctx, e.Account)
		case opCommit:
			if e.Record == nil {
				return errors.Errorf("ledger entry %s has no record", msg.Key)
			}
			err = s.view.Commit(ctx, e.Account, *e.Record)
		default:
			return errors.Errorf("unknown ledger entry op %q", e.Op)
		}
		if err != nil {
			return errors.Wrapf(err, "replay ledger entry %s", msg.Key)
		}
		applied++
	}

	s.logger.Info("ledger replayed",
		zap.Int("entries", applied),
		zap.Uint64("index", s.wal.CurrentIndex()))
	return nil
}

func (s *WALStore) CreateAccount(ctx context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.view.LoadAccount(ctx, account.ID); err == nil {
		return errors.Wrap(domain.ErrAccountExists, account.ID)
	}
	if err := s.append(keyAccountPrefix+account.ID, entry{Op: opCreate, Account: account}); err != nil {
		return err
	}
	return s.view.CreateAccount(ctx, account)
}

func (s *WALStore) LoadAccount(ctx context.Context, id string) (domain.Account, error) {
	return s.view.LoadAccount(ctx, id)
}

func (s *WALStore) SaveAccount(ctx context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.view.LoadAccount(ctx, account.ID)
	if err != nil {
		return err
	}
	if err := storage.CheckSave(current, account); err != nil {
		return err
	}
	if err := s.append(keyAccountPrefix+account.ID, entry{Op: opSave, Account: account}); err != nil {
		return err
	}
	return s.view.SaveAccount(ctx, account)
}

// Commit writes the account state and the record as a single log entry,
// so after a crash either both are recovered or neither is.
func (s *WALStore) Commit(ctx context.Context, account domain.Account, record domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.view.LoadAccount(ctx, account.ID)
	if err != nil {
		return err
	}
	if err := storage.CheckCommit(current, account, record); err != nil {
		return err
	}
	if err := s.append(keyTradePrefix+account.ID, entry{Op: opCommit, Account: account, Record: &record}); err != nil {
		return err
	}
	return s.view.Commit(ctx, account, record)
}

func (s *WALStore) ListTransactions(ctx context.Context, accountID string, q domain.TransactionQuery) (domain.TransactionPage, error) {
	return s.view.ListTransactions(ctx, accountID, q)
}

// AccountIDs lists every recovered or created account.
func (s *WALStore) AccountIDs(ctx context.Context) ([]string, error) {
	return s.view.AccountIDs(ctx)
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

func (s *WALStore) append(key string, e entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal ledger entry")
	}
	if err := s.wal.Write(s.wal.CurrentIndex()+1, key, payload); err != nil {
		return errors.Wrap(err, "write ledger entry")
	}
	return nil
}
