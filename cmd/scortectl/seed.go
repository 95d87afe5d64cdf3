package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nbrembilla/scorte/internal/domain"
	"github.com/nbrembilla/scorte/internal/maintenance"
	"github.com/nbrembilla/scorte/internal/storage"
	"github.com/nbrembilla/scorte/pkg/logger"
)

func runSeed(c *cli.Context) error {
	store, _, err := openStore()
	if err != nil {
		return cli.Exit(err.Error(), int(maintenance.StatusFail))
	}
	defer store.Close()

	if path := c.String("skus-file"); path != "" {
		skus, err := loadSKUsCSV(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("load skus: %v", err), int(maintenance.StatusFail))
		}
		if err := store.SaveSKUs(c.Context, skus); err != nil {
			return cli.Exit(fmt.Sprintf("save skus: %v", err), int(maintenance.StatusFail))
		}
		logger.Log.Info().Int("count", len(skus)).Str("file", path).Msg("catalog seeded")
	}

	if path := c.String("sales-file"); path != "" {
		sales, err := loadSalesCSV(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("load sales: %v", err), int(maintenance.StatusFail))
		}
		batch := storage.Batch{Sales: sales}
		if err := store.Apply(c.Context, batch); err != nil {
			return cli.Exit(fmt.Sprintf("save sales: %v", err), int(maintenance.StatusFail))
		}
		logger.Log.Info().Int("count", len(sales)).Str("file", path).Msg("sales seeded")
	}

	return nil
}

// colIndex maps header names to positions so seed files can carry columns in
// any order and with extras.
type colIndex map[string]int

func indexHeader(header []string) colIndex {
	idx := make(colIndex, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.ToLower(h))] = i
	}
	return idx
}

func (c colIndex) str(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (c colIndex) num(record []string, name string) int {
	v, _ := strconv.Atoi(c.str(record, name))
	return v
}

func (c colIndex) float(record []string, name string) float64 {
	v, _ := strconv.ParseFloat(c.str(record, name), 64)
	return v
}

func loadSKUsCSV(path string) ([]domain.SKU, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := indexHeader(header)

	var skus []domain.SKU
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		code := idx.str(record, "sku")
		if code == "" {
			continue
		}
		sku := domain.SKU{
			Code:             code,
			Description:      idx.str(record, "description"),
			Barcode:          idx.str(record, "barcode"),
			MinOrderQty:      idx.num(record, "min_order_qty"),
			PackSize:         idx.num(record, "pack_size"),
			LeadTimeDays:     idx.num(record, "lead_time_days"),
			ReviewPeriodDays: idx.num(record, "review_period_days"),
			SafetyStock:      idx.num(record, "safety_stock"),
			ShelfLifeDays:    idx.num(record, "shelf_life_days"),
			MinShelfLifeDays: idx.num(record, "min_shelf_life_days"),
			ReorderPoint:     idx.num(record, "reorder_point"),
			MaxStock:         idx.num(record, "max_stock"),
			DemandTag:        domain.DemandTag(idx.str(record, "demand_tag")),
			TargetCSL:        idx.float(record, "target_csl"),
			ForecastMethod:   idx.str(record, "forecast_method"),
			InAssortment:     !strings.EqualFold(idx.str(record, "in_assortment"), "false"),
			Supplier:         idx.str(record, "supplier"),
			Notes:            idx.str(record, "notes"),
		}
		if sku.PackSize <= 0 {
			sku.PackSize = 1
		}
		if sku.MinOrderQty <= 0 {
			sku.MinOrderQty = 1
		}
		skus = append(skus, sku)
	}
	return skus, nil
}

func loadSalesCSV(path string) ([]domain.SalesRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := indexHeader(header)

	var sales []domain.SalesRecord
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		date, err := time.Parse(domain.DateLayout, idx.str(record, "date"))
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", idx.str(record, "date"), err)
		}
		sku := idx.str(record, "sku")
		if sku == "" {
			continue
		}
		sales = append(sales, domain.SalesRecord{
			Date:      domain.Day(date),
			SKU:       sku,
			QtySold:   idx.num(record, "qty_sold"),
			PromoFlag: idx.num(record, "promo_flag"),
		})
	}
	return sales, nil
}
