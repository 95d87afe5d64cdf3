// Package maintenance implements the operator tooling: consistency checks,
// database upkeep, backup restore and diagnostic exports. Every operation
// reports a Status that maps directly onto a process exit code.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/storage"
	"github.com/nbrembilla/scorte/internal/storage/sqlite"
)

// Status is the outcome of a maintenance operation.
type Status int

const (
	StatusPass Status = 0
	StatusFail Status = 1
	StatusWarn Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusWarn:
		return "warn"
	default:
		return "unknown"
	}
}

// Report collects findings from one check run.
type Report struct {
	Status   Status   `json:"status"`
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Report) fail(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
	r.Status = StatusFail
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	if r.Status == StatusPass {
		r.Status = StatusWarn
	}
}

// DBCheck validates storage integrity and the cross-entity invariants:
// event kinds, order quantities, lot quantities and expiries, receiving
// document uniqueness, and lot-vs-ledger drift.
func DBCheck(ctx context.Context, store storage.Storage) (*Report, error) {
	r := &Report{Status: StatusPass}

	if s, ok := store.(*sqlite.Store); ok {
		verdict, err := s.Integrity(ctx)
		if err != nil {
			r.fail("database integrity: %s (%v)", verdict, err)
		}
	}

	txns, err := store.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	skus, err := store.SKUs(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := store.Orders(ctx)
	if err != nil {
		return nil, err
	}
	lots, err := store.Lots(ctx)
	if err != nil {
		return nil, err
	}
	receivings, err := store.Receivings(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(skus))
	for _, k := range skus {
		known[k.Code] = true
	}

	for _, t := range txns {
		if !t.Kind.Valid() {
			r.fail("transaction %d: unknown event kind %q", t.ID, t.Kind)
		}
		if len(known) > 0 && !known[t.SKU] {
			r.warn("transaction %d references unknown sku %s", t.ID, t.SKU)
		}
	}

	for _, o := range orders {
		if o.QtyReceived > o.QtyOrdered {
			r.fail("order %s: received %d > ordered %d", o.OrderID, o.QtyReceived, o.QtyOrdered)
		}
		if derived := domain.DeriveOrderStatus(o.QtyOrdered, o.QtyReceived); derived != o.Status && o.Status != domain.OrderReceived {
			r.warn("order %s: status %s, quantities imply %s", o.OrderID, o.Status, derived)
		}
	}

	for _, l := range lots {
		if l.QtyOnHand < 0 {
			r.fail("lot %s: negative quantity %d", l.LotID, l.QtyOnHand)
		}
		if l.Expiry != nil && l.Expiry.Before(domain.Day(l.ReceiptDate)) {
			r.fail("lot %s: expires %s before receipt %s", l.LotID,
				l.Expiry.Format(domain.DateLayout), l.ReceiptDate.Format(domain.DateLayout))
		}
	}

	seen := make(map[string]bool, len(receivings))
	for _, rec := range receivings {
		key := rec.DocumentID + "|" + rec.SKU
		if seen[key] {
			r.fail("duplicate receiving record for document %s sku %s", rec.DocumentID, rec.SKU)
		}
		seen[key] = true
	}

	log.Info().Str("status", r.Status.String()).
		Int("problems", len(r.Problems)).Int("warnings", len(r.Warnings)).
		Msg("db check complete")
	return r, nil
}

// ReindexVacuum rebuilds indexes and reclaims space. Only meaningful for the
// database backend; on flat files it reports a warning.
func ReindexVacuum(ctx context.Context, store storage.Storage) (Status, error) {
	s, ok := store.(*sqlite.Store)
	if !ok {
		log.Warn().Msg("reindex/vacuum is a no-op on the flat-file backend")
		return StatusWarn, nil
	}
	if err := s.Vacuum(ctx); err != nil {
		return StatusFail, err
	}
	log.Info().Msg("reindex and vacuum complete")
	return StatusPass, nil
}

// RestoreBackup replaces a live record file with its most recent backup (or
// a named one). When the store is the database backend its WAL is
// checkpointed first so the restored file is self-contained.
func RestoreBackup(ctx context.Context, store storage.Storage, dataDir, entity, backupName string) (Status, error) {
	if s, ok := store.(*sqlite.Store); ok {
		if err := s.Checkpoint(ctx); err != nil {
			return StatusFail, fmt.Errorf("wal checkpoint: %w", err)
		}
	}

	target := filepath.Join(dataDir, entity)
	var source string
	if backupName != "" {
		source = filepath.Join(dataDir, backupName)
	} else {
		backups, err := filepath.Glob(target + ".backup.*")
		if err != nil {
			return StatusFail, err
		}
		if len(backups) == 0 {
			return StatusFail, fmt.Errorf("no backups for %s: %w", entity, domain.ErrNotFound)
		}
		sort.Strings(backups)
		source = backups[len(backups)-1]
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return StatusFail, fmt.Errorf("read backup %s: %w", source, err)
	}
	tmp := target + ".restore.tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return StatusFail, err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return StatusFail, err
	}
	log.Info().Str("entity", entity).Str("backup", filepath.Base(source)).Msg("backup restored")
	return StatusPass, nil
}
