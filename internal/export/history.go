// Package export writes a session's local order and purchase history as an
// xlsx workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	"bodyshop-storefront/internal/domain"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	timeLayout  = "2006-01-02 15:04:05"

	ordersSheet    = "Orders"
	purchasesSheet = "Purchases"
)

type Store interface {
	Orders(ctx context.Context) ([]domain.Order, error)
	PurchaseHistory(ctx context.Context) ([]domain.PurchaseRecord, error)
}

// SessionHistory reads st's history and writes the workbook to w.
func SessionHistory(ctx context.Context, st Store, w io.Writer) error {
	orders, err := st.Orders(ctx)
	if err != nil {
		return err
	}
	purchases, err := st.PurchaseHistory(ctx)
	if err != nil {
		return err
	}
	return History(w, orders, purchases)
}

// History writes orders and purchases as two sheets. Empty inputs still
// produce both sheets with their header rows.
func History(w io.Writer, orders []domain.Order, purchases []domain.PurchaseRecord) error {
	file := xlsx.NewFile()

	sheet, err := file.AddSheet(ordersSheet)
	if err != nil {
		return fmt.Errorf("add %s sheet: %w", ordersSheet, err)
	}
	header(sheet, "Order", "Created", "Status", "Delivery", "Payment", "Address", "Phone", "Items", "Total")
	for _, o := range orders {
		row := sheet.AddRow()
		row.AddCell().SetValue(o.ID)
		row.AddCell().SetValue(formatTime(o))
		row.AddCell().SetValue(o.Status)
		row.AddCell().SetValue(o.DeliveryMethod)
		row.AddCell().SetValue(o.PaymentMethod)
		row.AddCell().SetValue(o.Address)
		row.AddCell().SetValue(o.Phone)
		row.AddCell().SetValue(itemSummary(o.Items))
		row.AddCell().SetValue(money(orderTotal(o)))
	}

	sheet, err = file.AddSheet(purchasesSheet)
	if err != nil {
		return fmt.Errorf("add %s sheet: %w", purchasesSheet, err)
	}
	header(sheet, "Product", "Name", "Slug", "Quantity", "Price", "Line total", "Purchased", "Order")
	for _, p := range purchases {
		row := sheet.AddRow()
		row.AddCell().SetValue(p.ID)
		row.AddCell().SetValue(p.Name)
		row.AddCell().SetValue(p.Slug)
		row.AddCell().SetValue(p.Quantity)
		row.AddCell().SetValue(money(p.Price))
		row.AddCell().SetValue(money(p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))))
		row.AddCell().SetValue(p.PurchaseDate.UTC().Format(timeLayout))
		order := ""
		if p.OrderID != 0 {
			order = strconv.FormatInt(p.OrderID, 10)
		}
		row.AddCell().SetValue(order)
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func header(sheet *xlsx.Sheet, titles ...string) {
	row := sheet.AddRow()
	for _, t := range titles {
		row.AddCell().SetValue(t)
	}
}

func formatTime(o domain.Order) string {
	if o.CreatedAt.IsZero() {
		return ""
	}
	return o.CreatedAt.UTC().Format(timeLayout)
}

func itemSummary(items []domain.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", it.Product.Name, it.Quantity))
	}
	return strings.Join(parts, "; ")
}

func orderTotal(o domain.Order) decimal.Decimal {
	if o.TotalPrice != nil {
		return *o.TotalPrice
	}
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// money renders prices with two decimals, as the shop prints them.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
