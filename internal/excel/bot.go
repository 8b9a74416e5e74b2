// Package excel serializes BOT report rows into the central bank's
// fixed-schema spreadsheets for T+1 batch submission.
package excel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/siamfx/naga/internal/domain"
)

const sheetName = "Report"

// variantColumns is the fixed column order per variant. Headers are the
// regulator's field codes and are never translated.
var variantColumns = map[domain.BOTVariant][]string{
	domain.BOTBuyFX: {
		"report_no", "branch_code", "transaction_ref", "transaction_date",
		"currency", "amount_foreign", "rate", "amount_thb", "usd_equivalent",
		"customer_id", "customer_country", "payment_method",
	},
	domain.BOTSellFX: {
		"report_no", "branch_code", "transaction_ref", "transaction_date",
		"currency", "amount_foreign", "rate", "amount_thb", "usd_equivalent",
		"customer_id", "customer_country", "payment_method",
	},
	domain.BOTFCD: {
		"report_no", "branch_code", "transaction_ref", "transaction_date",
		"currency", "amount_foreign", "direction", "fcd_account",
		"usd_equivalent", "customer_id",
	},
	domain.BOTProvider: {
		"report_no", "branch_code", "adjustment_date", "currency",
		"amount", "direction", "usd_equivalent",
	},
}

// Columns returns the fixed column order for a variant.
func Columns(variant domain.BOTVariant) []string {
	cols := variantColumns[variant]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// Filename composes the export name: BOT_<Variant>_<YYYYMMDD>.xlsx.
func Filename(variant domain.BOTVariant, date time.Time) string {
	return fmt.Sprintf("BOT_%s_%s.xlsx", variant, date.Format("20060102"))
}

// Builder renders BOT exports. Exports are deterministic for a given
// (variant, date, branch): rows are ordered by report number and re-running
// the export overwrites the previous file.
type Builder struct {
	repo   domain.Repository
	dir    string
	logger *slog.Logger
}

// NewBuilder creates a BOT excel builder. An empty dir disables file output;
// Export still returns the bytes.
func NewBuilder(repo domain.Repository, dir string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{repo: repo, dir: dir, logger: logger.With("component", "excel")}
}

// Export builds the spreadsheet for one (variant, date, branch) and returns
// its bytes, writing the file alongside when an export directory is set.
func (b *Builder) Export(ctx context.Context, variant domain.BOTVariant, date time.Time, branchID string) ([]byte, error) {
	cols, ok := variantColumns[variant]
	if !ok {
		return nil, fmt.Errorf("unknown BOT variant %q", variant)
	}

	rows, err := b.repo.ListBOTReports(ctx, variant, date, branchID)
	if err != nil {
		return nil, fmt.Errorf("list BOT reports: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ReportNo < rows[j].ReportNo })

	data, err := build(cols, rows)
	if err != nil {
		return nil, err
	}

	if b.dir != "" {
		path := filepath.Join(b.dir, Filename(variant, date))
		if err := os.MkdirAll(b.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create export dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write export: %w", err)
		}
		b.logger.Info("BOT export written",
			"variant", variant,
			"date", date.Format("2006-01-02"),
			"branch_id", branchID,
			"rows", len(rows),
			"path", path)
	}
	return data, nil
}

func build(cols []string, rows []*domain.BOTReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("new sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for i, col := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return nil, err
		}
	}

	for r, row := range rows {
		for c, col := range cols {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, cellValue(col, row)); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// cellValue resolves one column for one row: identity columns come from the
// record itself, everything else from the content map.
func cellValue(col string, row *domain.BOTReport) any {
	switch col {
	case "report_no":
		return row.ReportNo
	case "transaction_ref":
		return row.TransactionRef
	}
	v, ok := row.Content[col]
	if !ok {
		return ""
	}
	return v
}
