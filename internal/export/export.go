// Package export renders the price table as an XLSX workbook.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
	"github.com/Simplici0/pricebook/internal/pricing"
)

const (
	PricesSheet = "Preços"
	RulesSheet  = "Regras"
)

// Write renders b as a workbook with the price table (price, strike price and
// margin for every channel) and the channel rules.
func Write(w io.Writer, b catalog.Bootstrap) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", PricesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(RulesSheet); err != nil {
		return fmt.Errorf("create rules sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E8EEF7"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	rules := b.Rules.Backfill()
	if err := writePrices(f, b, rules, header); err != nil {
		return err
	}
	if err := writeRules(f, rules, header); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writePrices(f *excelize.File, b catalog.Bootstrap, rules channel.RuleSet, header int) error {
	headers := []string{"ID", "Produto", "SKU", "Estoque", "Custo médio"}
	for _, c := range channel.All() {
		headers = append(headers, c.Label()+" Por", c.Label()+" De", c.Label()+" Margem %")
	}
	if err := writeRow(f, PricesSheet, 1, toAny(headers)); err != nil {
		return err
	}
	if err := styleHeader(f, PricesSheet, len(headers), header); err != nil {
		return err
	}

	for i, p := range b.Products {
		row := []any{p.ID, p.Name, p.SKU, p.Stock, p.AvgCost}
		for _, c := range channel.All() {
			e := b.Prices[catalog.Key{ProductID: p.ID, Channel: c}]
			row = append(row, cell(e.Price), cell(e.StrikePrice), marginCell(e.Price, p.AvgCost, rules[c]))
		}
		if err := writeRow(f, PricesSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(PricesSheet, "B", "B", 32); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return f.SetPanes(PricesSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeRules(f *excelize.File, rules channel.RuleSet, header int) error {
	headers := []string{"Canal", "Taxa %", "Taxa fixa", "Desconto médio", "Frete seller", "Acréscimo preço De", "Margem mínima %"}
	if err := writeRow(f, RulesSheet, 1, toAny(headers)); err != nil {
		return err
	}
	if err := styleHeader(f, RulesSheet, len(headers), header); err != nil {
		return err
	}

	for i, c := range channel.All() {
		r := rules[c]
		row := []any{c.Label(), r.FeePercent, r.FixedFee, r.AverageDiscount, r.SellerFreight, r.StrikeMarkup, r.MinMarginPercent}
		if err := writeRow(f, RulesSheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name for row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, start, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func styleHeader(f *excelize.File, sheet string, cols, style int) error {
	last, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return fmt.Errorf("header range: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	return nil
}

func cell(a money.Amount) any {
	if !a.Valid {
		return nil
	}
	return a.Float64
}

func marginCell(price money.Amount, cost float64, rule channel.Rule) any {
	if !price.Valid {
		return nil
	}
	m, ok := pricing.ComputeMargin(price.Float64, cost, rule)
	if !ok || m.MarginPercent == nil {
		return nil
	}
	return money.RoundCents(*m.MarginPercent)
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
