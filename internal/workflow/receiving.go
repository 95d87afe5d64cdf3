package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/storage"
)

// ReceiptItem is one line of a delivery document.
type ReceiptItem struct {
	SKU         string   `json:"sku"`
	QtyReceived int      `json:"qty_received"`
	// OrderIDs restricts allocation to these orders (FIFO order preserved).
	// Empty means all pending orders for the SKU.
	OrderIDs []string `json:"order_ids,omitempty"`
}

// ReceiptResult reports what one document close did.
type ReceiptResult struct {
	AlreadyProcessed bool                 `json:"already_processed"`
	Transactions     []domain.Transaction `json:"transactions"`
	UpdatedOrders    []domain.OrderLog    `json:"updated_orders"`
}

// CloseReceiptByDocument reconciles one delivery document against pending
// orders. The document id is the idempotency key: a replay returns
// already_processed without writing anything. All effects of one document
// commit together or not at all.
func (s *Service) CloseReceiptByDocument(ctx context.Context, documentID string, receiptDate time.Time, items []ReceiptItem, notes string) (ReceiptResult, error) {
	if documentID == "" {
		return ReceiptResult{}, fmt.Errorf("empty document id: %w", domain.ErrInvalidInput)
	}
	for _, it := range items {
		if it.QtyReceived < 0 {
			return ReceiptResult{}, fmt.Errorf("negative quantity for %s: %w", it.SKU, domain.ErrInvalidInput)
		}
	}
	if err := s.acquireWriter(ctx); err != nil {
		return ReceiptResult{}, err
	}
	defer s.releaseWriter()

	receivings, err := s.store.Receivings(ctx)
	if err != nil {
		return ReceiptResult{}, err
	}
	for _, r := range receivings {
		if r.DocumentID == documentID || r.ReceiptID == documentID {
			log.Info().Str("document_id", documentID).Msg("document already processed, skipping")
			return ReceiptResult{AlreadyProcessed: true}, nil
		}
	}

	orders, err := s.store.Orders(ctx)
	if err != nil {
		return ReceiptResult{}, err
	}
	skus, err := s.store.SKUs(ctx)
	if err != nil {
		return ReceiptResult{}, err
	}
	allLots, err := s.store.Lots(ctx)
	if err != nil {
		return ReceiptResult{}, err
	}

	receiptDate = domain.Day(receiptDate)
	receiptID := "R-" + uuid.NewString()
	runID := "receipt-" + documentID

	var (
		txs     []domain.Transaction
		updated []domain.OrderLog
		logs    []domain.ReceivingLog
		audits  []domain.AuditRecord
	)
	newLots := allLots

	for _, item := range items {
		alloc := allocateFIFO(orders, item)
		updated = append(updated, alloc.updated...)
		applyOrderUpdates(orders, alloc.updated)

		note := orderNote(documentID, alloc.orderIDs)
		if alloc.overstock > 0 && len(alloc.orderIDs) > 0 {
			note += fmt.Sprintf("; %d extra units beyond pending orders", alloc.overstock)
		}
		if notes != "" {
			note += "; " + notes
		}
		txs = append(txs, domain.Transaction{
			Date:        receiptDate,
			SKU:         item.SKU,
			Kind:        domain.EventReceipt,
			Qty:         item.QtyReceived,
			ReceiptDate: &receiptDate,
			Note:        note,
		})

		// Orders explicitly selected but left short are closed against this
		// document; the shortfall becomes tracked lost demand.
		for _, short := range alloc.closedShort {
			txs = append(txs, domain.Transaction{
				Date: receiptDate,
				SKU:  item.SKU,
				Kind: domain.EventUnfulfilled,
				Qty:  short.qty,
				Note: fmt.Sprintf("order %s closed short by document %s", short.orderID, documentID),
			})
		}

		if item.QtyReceived > 0 {
			newLots = append(newLots, newLot(item, skus, receiptID, receiptDate))
		}

		logs = append(logs, domain.ReceivingLog{
			DocumentID:  documentID,
			ReceiptID:   receiptID,
			Date:        domain.Day(s.now()),
			SKU:         item.SKU,
			QtyReceived: item.QtyReceived,
			ReceiptDate: receiptDate,
			OrderIDs:    strings.Join(alloc.orderIDs, ","),
		})
		audits = append(audits, s.audit("close_receipt", item.SKU,
			fmt.Sprintf("document=%s qty=%d orders=%s", documentID, item.QtyReceived, strings.Join(alloc.orderIDs, ",")),
			runID))
	}

	batch := storage.Batch{
		Transactions: txs,
		Orders:       updated,
		Receivings:   logs,
		Audit:        audits,
	}
	if len(newLots) != len(allLots) {
		batch.Lots = &newLots
	}
	if err := s.store.Apply(ctx, batch); err != nil {
		return ReceiptResult{}, err
	}

	log.Info().Str("document_id", documentID).Int("items", len(items)).
		Int("orders_updated", len(updated)).Msg("receipt closed")
	return ReceiptResult{Transactions: txs, UpdatedOrders: updated}, nil
}

type shortClose struct {
	orderID string
	qty     int
}

type allocation struct {
	updated     []domain.OrderLog
	orderIDs    []string
	overstock   int
	closedShort []shortClose
}

// allocateFIFO distributes one item's received quantity across pending
// orders oldest-first. An explicit order_ids subset restricts the candidates
// and closes any of them left short.
func allocateFIFO(orders []domain.OrderLog, item ReceiptItem) allocation {
	var pending []domain.OrderLog
	for _, o := range orders {
		if o.SKU == item.SKU && (o.Status == domain.OrderPending || o.Status == domain.OrderPartial) {
			pending = append(pending, o)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Date.Before(pending[j].Date) })

	explicit := len(item.OrderIDs) > 0
	if explicit {
		want := make(map[string]bool, len(item.OrderIDs))
		for _, id := range item.OrderIDs {
			want[id] = true
		}
		var restricted []domain.OrderLog
		for _, o := range pending {
			if want[o.OrderID] {
				restricted = append(restricted, o)
			}
		}
		pending = restricted
	}

	var out allocation
	remaining := item.QtyReceived
	for _, o := range pending {
		outstanding := o.QtyOrdered - o.QtyReceived
		take := outstanding
		if take > remaining {
			take = remaining
		}
		if take > 0 {
			o.QtyReceived += take
			remaining -= take
			out.orderIDs = append(out.orderIDs, o.OrderID)
		}
		o.Status = domain.DeriveOrderStatus(o.QtyOrdered, o.QtyReceived)

		// An explicitly selected order left short is closed against this
		// document: status forced to RECEIVED with the true received
		// quantity, and the shortfall tracked as lost demand.
		if explicit && o.QtyReceived < o.QtyOrdered {
			out.closedShort = append(out.closedShort, shortClose{
				orderID: o.OrderID,
				qty:     o.QtyOrdered - o.QtyReceived,
			})
			o.Status = domain.OrderReceived
			if take <= 0 {
				out.orderIDs = append(out.orderIDs, o.OrderID)
			}
		}
		if take > 0 || explicit {
			out.updated = append(out.updated, o)
		}
	}
	out.overstock = remaining
	return out
}

// applyOrderUpdates folds updated rows back into the working order list so a
// later item in the same document sees them.
func applyOrderUpdates(orders []domain.OrderLog, updated []domain.OrderLog) {
	for _, u := range updated {
		for i := range orders {
			if orders[i].OrderID == u.OrderID {
				orders[i] = u
			}
		}
	}
}

// newLot creates the lot for a received item, deriving expiry from the SKU's
// shelf life when it is perishable.
func newLot(item ReceiptItem, skus []domain.SKU, receiptID string, receiptDate time.Time) domain.Lot {
	l := domain.Lot{
		LotID:       "L-" + uuid.NewString(),
		SKU:         item.SKU,
		QtyOnHand:   item.QtyReceived,
		ReceiptID:   receiptID,
		ReceiptDate: receiptDate,
	}
	for _, k := range skus {
		if k.Code == item.SKU && k.ShelfLifeDays > 0 {
			exp := receiptDate.AddDate(0, 0, k.ShelfLifeDays)
			l.Expiry = &exp
			break
		}
	}
	return l
}
