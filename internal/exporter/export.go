// Package exporter renders accumulated tax-lot data as JSON, CSV or XLSX
// downloads.
package exporter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"lotcli/internal/extract"
)

// Format identifies an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrNoData is returned when an export is requested before any lots were
// extracted.
var ErrNoData = errors.New("no extracted data to export")

// UnsupportedFormatError reports an export format this package does not
// produce.
type UnsupportedFormatError struct {
	Format Format
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %s", e.Format)
}

// csvHeader is the fixed column order of the flat exports. XLSX shares it.
var csvHeader = []string{
	"Account ID", "Symbol", "Open Date", "Quantity", "Price",
	"Cost Per Share", "Market Value", "Cost Basis",
	"Gain/Loss ($)", "Gain/Loss (%)", "Holding Period",
}

const baseFilename = "schwab-tax-lots"

// Filename returns the download filename for the format.
func Filename(f Format) string {
	return baseFilename + "." + string(f)
}

// ContentType returns the media type served with the export.
func ContentType(f Format) string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Export renders data in the requested format. Returns ErrNoData when the
// accumulator is empty and UnsupportedFormatError for unknown formats.
func Export(data *extract.AccumulatedData, f Format) ([]byte, error) {
	if !data.HasData() {
		return nil, ErrNoData
	}
	switch f {
	case FormatJSON:
		return exportJSON(data)
	case FormatCSV:
		return []byte(exportCSV(data)), nil
	case FormatXLSX:
		return exportXLSX(data)
	default:
		return nil, &UnsupportedFormatError{Format: f}
	}
}

// exportJSON renders the nested account/symbol/lot structure with two-space
// indentation, preserving discovery order.
func exportJSON(data *extract.AccumulatedData) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("could not marshal data: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return nil, fmt.Errorf("could not indent data: %w", err)
	}
	return buf.Bytes(), nil
}

// exportCSV flattens every lot into one row. Fields are quoted only when
// they contain a comma, quote or newline, and the output carries no
// trailing newline.
func exportCSV(data *extract.AccumulatedData) string {
	lines := []string{strings.Join(csvHeader, ",")}
	forEachLot(data, func(accountID, symbol string, lot extract.Lot) {
		fields := lotFields(accountID, symbol, lot)
		for i, f := range fields {
			fields[i] = escapeField(f)
		}
		lines = append(lines, strings.Join(fields, ","))
	})
	return strings.Join(lines, "\n")
}

func exportXLSX(data *extract.AccumulatedData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Tax Lots"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("could not create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("could not remove default sheet: %w", err)
	}

	header := make([]any, len(csvHeader))
	for i, h := range csvHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("could not write header row: %w", err)
	}

	row := 2
	var rowErr error
	forEachLot(data, func(accountID, symbol string, lot extract.Lot) {
		if rowErr != nil {
			return
		}
		cells := []any{
			accountID, symbol, lot.OpenDate,
			lot.Quantity, lot.Price, lot.CostPerShare,
			lot.MarketValue, lot.CostBasis,
			lot.GainOrLoss, lot.GainOrLossPercentage,
			lot.HoldingPeriod,
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			rowErr = err
			return
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			rowErr = err
			return
		}
		row++
	})
	if rowErr != nil {
		return nil, fmt.Errorf("could not write lot row: %w", rowErr)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("could not serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// forEachLot visits every lot in account, then symbol, then lot order.
func forEachLot(data *extract.AccumulatedData, fn func(accountID, symbol string, lot extract.Lot)) {
	for _, a := range data.Accounts {
		for _, s := range a.Symbols {
			for _, lot := range s.Lots {
				fn(a.AccountID, s.Symbol, lot)
			}
		}
	}
}

func lotFields(accountID, symbol string, lot extract.Lot) []string {
	return []string{
		accountID,
		symbol,
		lot.OpenDate,
		formatNumber(lot.Quantity),
		formatNumber(lot.Price),
		formatNumber(lot.CostPerShare),
		formatNumber(lot.MarketValue),
		formatNumber(lot.CostBasis),
		formatNumber(lot.GainOrLoss),
		formatNumber(lot.GainOrLossPercentage),
		lot.HoldingPeriod,
	}
}

// formatNumber uses the shortest decimal representation that round-trips.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escapeField applies minimal CSV quoting: a field is wrapped in quotes
// only when it contains a comma, a quote or a newline, with embedded quotes
// doubled.
func escapeField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
