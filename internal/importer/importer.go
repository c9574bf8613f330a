package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/service/cart"
)

// CartAdder is the part of the cart service the importer drives.
type CartAdder interface {
	AddItem(ctx context.Context, ref domain.ProductRef, quantity int) (cart.View, error)
}

// CSVImporter reads a wholesale order sheet and adds every row to the cart.
// The sheet needs a header with a quantity column and either a slug or an id column.
type CSVImporter struct {
	reader *csv.Reader
	cart   CartAdder
}

func NewCSVImporter(r io.Reader, c CartAdder) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	csvr.TrimLeadingSpace = true
	return &CSVImporter{
		reader: csvr,
		cart:   c,
	}
}

// RowError describes a rejected row. Row counts from 1 and includes the header.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Result summarises an import.
type Result struct {
	Imported int        `json:"imported"`
	Rejected []RowError `json:"rejected"`
	Cart     cart.View  `json:"cart"`
	// Discount is the wholesale discount percent the resulting cart total qualifies for.
	Discount int `json:"discount_percent"`
}

var (
	ErrMissingColumns = errors.New("csv needs a quantity column and a slug or id column")
	// ErrMalformed wraps CSV read failures.
	ErrMalformed = errors.New("malformed csv")
)

// Run parses the sheet and adds rows one by one. Rows with a bad quantity or an
// unknown product are rejected and the import continues. Sign-in and transport
// failures stop the import.
func (i *CSVImporter) Run(ctx context.Context) (Result, error) {
	res := Result{Rejected: []RowError{}}

	headers, err := i.reader.Read()
	if err != nil {
		return res, fmt.Errorf("read headers: %w: %w", ErrMalformed, err)
	}
	index := headerIndex(headers)
	if _, ok := index["quantity"]; !ok {
		return res, ErrMissingColumns
	}
	if !hasAny(index, "slug", "product_slug", "id", "product_id") {
		return res, ErrMissingColumns
	}

	row := 1
	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return res, fmt.Errorf("read row %d: %w: %w", row, ErrMalformed, err)
		}
		if blank(record) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ref, quantity, reason := parseRow(record, index)
		if reason != "" {
			res.Rejected = append(res.Rejected, RowError{Row: row, Reason: reason})
			continue
		}

		view, err := i.cart.AddItem(ctx, ref, quantity)
		if err != nil {
			if reason, ok := rowFailure(err); ok {
				res.Rejected = append(res.Rejected, RowError{Row: row, Reason: reason})
				continue
			}
			return res, fmt.Errorf("row %d: %w", row, err)
		}
		res.Cart = view
		res.Imported++
	}

	res.Discount = WholesaleDiscount(res.Cart.Total)
	return res, nil
}

func parseRow(record []string, index map[string]int) (domain.ProductRef, int, string) {
	var ref domain.ProductRef
	ref.Slug = firstOf(record, index, "slug", "product_slug")
	if raw := firstOf(record, index, "id", "product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			return ref, 0, fmt.Sprintf("invalid product id %q", raw)
		}
		ref.ID = id
	}
	if ref.IsZero() {
		return ref, 0, domain.ErrProductRef.Error()
	}

	raw := pick(record, index, "quantity")
	quantity, err := strconv.Atoi(raw)
	if err != nil || quantity < 1 {
		return ref, 0, fmt.Sprintf("invalid quantity %q", raw)
	}
	return ref, quantity, ""
}

// rowFailure reports whether err only concerns the row being added.
func rowFailure(err error) (string, bool) {
	var apiErr *domain.APIError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "product not found", true
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrProductRef):
		return err.Error(), true
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 401:
		return apiErr.Message(), true
	}
	return "", false
}

// Wholesale tiers by cart total in BYN.
var tiers = []struct {
	from    decimal.Decimal
	percent int
}{
	{decimal.NewFromInt(25000), 20},
	{decimal.NewFromInt(10000), 15},
	{decimal.NewFromInt(5000), 10},
	{decimal.NewFromInt(1000), 5},
}

// WholesaleDiscount returns the discount percent a cart total qualifies for.
func WholesaleDiscount(total decimal.Decimal) int {
	for _, t := range tiers {
		if total.GreaterThanOrEqual(t.from) {
			return t.percent
		}
	}
	return 0
}

func headerIndex(headers []string) map[string]int {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}
	return index
}

func hasAny(index map[string]int, keys ...string) bool {
	for _, k := range keys {
		if _, ok := index[k]; ok {
			return true
		}
	}
	return false
}

func firstOf(record []string, index map[string]int, keys ...string) string {
	for _, k := range keys {
		if v := pick(record, index, k); v != "" {
			return v
		}
	}
	return ""
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
