package workflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/domain"
)

// OverlapPair names two promo windows that intersect for the same
// (sku, store).
type OverlapPair struct {
	A domain.PromoWindow `json:"a"`
	B domain.PromoWindow `json:"b"`
}

// ValidatePromoWindows returns every overlapping pair in the given set.
func ValidatePromoWindows(promos []domain.PromoWindow) []OverlapPair {
	var pairs []OverlapPair
	for i := 0; i < len(promos); i++ {
		for j := i + 1; j < len(promos); j++ {
			if promos[i].Overlaps(promos[j]) {
				pairs = append(pairs, OverlapPair{A: promos[i], B: promos[j]})
			}
		}
	}
	return pairs
}

// SavePromoCalendar validates and replaces the promo calendar. Overlapping
// windows within one (sku, store) are rejected with the offending pairs in
// the error.
func (s *Service) SavePromoCalendar(ctx context.Context, promos []domain.PromoWindow) error {
	for _, p := range promos {
		if p.EndDate.Before(p.StartDate) {
			return fmt.Errorf("promo for %s ends before it starts: %w", p.SKU, domain.ErrInvalidInput)
		}
	}
	if pairs := ValidatePromoWindows(promos); len(pairs) > 0 {
		return fmt.Errorf("%d overlapping promo windows (first: %s %s..%s vs %s..%s): %w",
			len(pairs),
			pairs[0].A.SKU,
			pairs[0].A.StartDate.Format(domain.DateLayout), pairs[0].A.EndDate.Format(domain.DateLayout),
			pairs[0].B.StartDate.Format(domain.DateLayout), pairs[0].B.EndDate.Format(domain.DateLayout),
			domain.ErrConflict)
	}

	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	if err := s.store.SavePromos(ctx, promos); err != nil {
		return err
	}
	log.Info().Int("windows", len(promos)).Msg("promo calendar saved")
	return nil
}
