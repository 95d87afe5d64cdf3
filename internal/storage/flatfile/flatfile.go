// Package flatfile persists every record family as a CSV file under the data
// directory. Writes go through a temp-file rename so readers never see a
// partial file, and each overwrite snapshots a timestamped backup first.
package flatfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/config"
	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/storage"
)

const (
	fileSKUs         = "skus.csv"
	fileTransactions = "transactions.csv"
	fileSales        = "sales.csv"
	fileLots         = "lots.csv"
	fileOrders       = "orders.csv"
	fileReceivings   = "receivings.csv"
	filePromos       = "promos.csv"
	fileAudit        = "audit_log.csv"
)

// Store is the flat-file backend. A single mutex serializes writers; the
// files themselves are the committed state.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

var _ storage.Storage = (*Store)(nil)

// Open prepares the data directory and returns the store.
func Open(cfg config.StorageConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	return &Store{dir: cfg.DataDir, now: time.Now}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// read returns the file contents, or nil when the file does not exist yet.
func (s *Store) read(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (s *Store) write(name string, data []byte) error {
	path := s.path(name)
	if err := backupFile(path, s.now()); err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func (s *Store) SKUs(ctx context.Context) ([]domain.SKU, error) {
	data, err := s.read(fileSKUs)
	if err != nil {
		return nil, err
	}
	return decodeSKUs(data)
}

func (s *Store) SaveSKUs(ctx context.Context, skus []domain.SKU) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(fileSKUs, encodeSKUs(skus))
}

func (s *Store) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	data, err := s.read(fileTransactions)
	if err != nil {
		return nil, err
	}
	return decodeTransactions(data)
}

func (s *Store) Sales(ctx context.Context) ([]domain.SalesRecord, error) {
	data, err := s.read(fileSales)
	if err != nil {
		return nil, err
	}
	return decodeSales(data)
}

func (s *Store) Lots(ctx context.Context) ([]domain.Lot, error) {
	data, err := s.read(fileLots)
	if err != nil {
		return nil, err
	}
	return decodeLots(data)
}

func (s *Store) Orders(ctx context.Context) ([]domain.OrderLog, error) {
	data, err := s.read(fileOrders)
	if err != nil {
		return nil, err
	}
	return decodeOrders(data)
}

func (s *Store) Receivings(ctx context.Context) ([]domain.ReceivingLog, error) {
	data, err := s.read(fileReceivings)
	if err != nil {
		return nil, err
	}
	return decodeReceivings(data)
}

func (s *Store) Promos(ctx context.Context) ([]domain.PromoWindow, error) {
	data, err := s.read(filePromos)
	if err != nil {
		return nil, err
	}
	return decodePromos(data)
}

func (s *Store) SavePromos(ctx context.Context, promos []domain.PromoWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(filePromos, encodePromos(promos))
}

// Apply computes the post-batch contents of every affected file, stages them
// all as synced temp files, and only then renames them into place. A failure
// before the first rename leaves the store untouched; a failure mid-commit
// restores the already-renamed files from their pre-batch contents. The
// receiving log commits last: a crash never marks a delivery document
// processed without its effects, so a retry redoes the whole batch.
func (s *Store) Apply(ctx context.Context, batch storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", err, domain.ErrCancelled)
	}
	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[string][]byte)

	if batch.ReplaceLedger != nil {
		pending[fileTransactions] = encodeTransactions(renumber(*batch.ReplaceLedger))
	} else if len(batch.Transactions) > 0 {
		existing, err := s.Transactions(ctx)
		if err != nil {
			return err
		}
		var maxID, maxSeq int64
		for _, t := range existing {
			if t.ID > maxID {
				maxID = t.ID
			}
			if t.Seq > maxSeq {
				maxSeq = t.Seq
			}
		}
		for _, t := range batch.Transactions {
			maxID++
			maxSeq++
			t.ID, t.Seq = maxID, maxSeq
			existing = append(existing, t)
		}
		pending[fileTransactions] = encodeTransactions(existing)
	}

	if len(batch.Orders) > 0 {
		existing, err := s.Orders(ctx)
		if err != nil {
			return err
		}
		pending[fileOrders] = encodeOrders(upsertOrders(existing, batch.Orders))
	}

	if batch.Lots != nil {
		pending[fileLots] = encodeLots(*batch.Lots)
	}

	if len(batch.Sales) > 0 {
		existing, err := s.Sales(ctx)
		if err != nil {
			return err
		}
		pending[fileSales] = encodeSales(upsertSales(existing, batch.Sales))
	}

	if len(batch.Audit) > 0 {
		existing, err := s.audit(ctx)
		if err != nil {
			return err
		}
		pending[fileAudit] = encodeAudit(append(existing, batch.Audit...))
	}

	if len(batch.Receivings) > 0 {
		existing, err := s.Receivings(ctx)
		if err != nil {
			return err
		}
		for _, r := range batch.Receivings {
			for _, e := range existing {
				if e.DocumentID == r.DocumentID && e.SKU == r.SKU {
					return fmt.Errorf("document %s already processed for %s: %w",
						r.DocumentID, r.SKU, domain.ErrConflict)
				}
			}
		}
		pending[fileReceivings] = encodeReceivings(append(existing, batch.Receivings...))
	}

	if len(pending) == 0 {
		return nil
	}
	return s.commit(pending)
}

// commit makes the pending contents visible together. Every file is staged
// and backed up before the first rename; if a rename still fails, files
// renamed earlier in the same commit are restored to their pre-batch state.
func (s *Store) commit(pending map[string][]byte) error {
	names := make([]string, 0, len(pending))
	for name := range pending {
		if name != fileReceivings {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := pending[fileReceivings]; ok {
		names = append(names, fileReceivings)
	}

	// Pre-batch contents for rollback; nil means the file did not exist.
	prev := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := os.ReadFile(s.path(name))
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("read %s before commit: %w", name, err)
			}
			data = nil
		}
		prev[name] = data
	}

	tmps := make(map[string]string, len(names))
	discard := func() {
		for _, tmp := range tmps {
			os.Remove(tmp)
		}
	}
	for _, name := range names {
		if err := backupFile(s.path(name), s.now()); err != nil {
			discard()
			return err
		}
		tmp, err := stageFile(s.path(name), pending[name])
		if err != nil {
			discard()
			return err
		}
		tmps[name] = tmp
	}

	var committed []string
	for _, name := range names {
		if err := os.Rename(tmps[name], s.path(name)); err != nil {
			discard()
			s.restore(committed, prev)
			return fmt.Errorf("commit %s: %w", name, err)
		}
		delete(tmps, name)
		committed = append(committed, name)
	}
	return syncDir(s.dir)
}

// restore puts pre-batch contents back after a failed commit.
func (s *Store) restore(committed []string, prev map[string][]byte) {
	for _, name := range committed {
		if prev[name] == nil {
			if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
				log.Error().Err(err).Str("file", name).Msg("rollback remove failed, restore from backup")
			}
			continue
		}
		if err := writeFileAtomic(s.path(name), prev[name]); err != nil {
			log.Error().Err(err).Str("file", name).Msg("rollback write failed, restore from backup")
		}
	}
}

func (s *Store) audit(ctx context.Context) ([]domain.AuditRecord, error) {
	data, err := s.read(fileAudit)
	if err != nil {
		return nil, err
	}
	return decodeAudit(data)
}

func (s *Store) Close() error { return nil }

// renumber reassigns contiguous ids and sequence numbers after a full ledger
// rewrite, preserving slice order.
func renumber(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(txs))
	for i, t := range txs {
		t.ID = int64(i + 1)
		t.Seq = int64(i + 1)
		out[i] = t
	}
	return out
}

func upsertOrders(existing, updates []domain.OrderLog) []domain.OrderLog {
	byID := make(map[string]int, len(existing))
	for i, o := range existing {
		byID[o.OrderID] = i
	}
	for _, u := range updates {
		if i, ok := byID[u.OrderID]; ok {
			existing[i] = u
		} else {
			byID[u.OrderID] = len(existing)
			existing = append(existing, u)
		}
	}
	return existing
}

func upsertSales(existing, updates []domain.SalesRecord) []domain.SalesRecord {
	type key struct {
		date string
		sku  string
	}
	byKey := make(map[key]int, len(existing))
	for i, s := range existing {
		byKey[key{s.Date.Format(domain.DateLayout), s.SKU}] = i
	}
	for _, u := range updates {
		k := key{u.Date.Format(domain.DateLayout), u.SKU}
		if i, ok := byKey[k]; ok {
			existing[i] = u
		} else {
			byKey[k] = len(existing)
			existing = append(existing, u)
		}
	}
	return existing
}
