// Package importer loads catalog CSV exports into a product sink.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"imi-storefront/internal/domain"
)

type ProductWriter interface {
	AddProduct(p domain.Product)
}

// CSVImporter reads catalog exports where a product spans one row plus
// optional continuation rows carrying extra image urls.
type CSVImporter struct {
	reader *csv.Reader
	sink   ProductWriter
}

func NewCSVImporter(r io.Reader, sink ProductWriter) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{reader: csvr, sink: sink}
}

type csvRow struct {
	ID        string
	Name      string
	Desc      string
	Price     int64
	Stock     int
	Category  string
	Status    string
	ImageURLs []string
}

// Run parses CSV rows and writes one product per id.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	if _, ok := index["id"]; !ok {
		return 0, errors.New("missing id column")
	}

	var (
		current  *csvRow
		imported int
	)

	for {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read row: %w", err)
		}

		row, err := parseRow(record, index)
		if err != nil {
			return imported, err
		}
		if row == nil {
			continue
		}

		if row.ID != "" {
			if current != nil {
				if err := i.save(current); err != nil {
					return imported, err
				}
				imported++
			}
			current = row
			continue
		}

		// Continuation rows (images) belong to the current product.
		if current != nil {
			current.ImageURLs = append(current.ImageURLs, row.ImageURLs...)
		}
	}

	if current != nil {
		if err := i.save(current); err != nil {
			return imported, err
		}
		imported++
	}

	return imported, nil
}

func (i *CSVImporter) save(row *csvRow) error {
	if row.Name == "" || row.Price <= 0 {
		return fmt.Errorf("invalid product row (missing name or price) for id %q", row.ID)
	}
	p := domain.Product{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Desc,
		Price:       row.Price,
		Images:      row.ImageURLs,
		Stock:       row.Stock,
		Category:    row.Category,
		Status:      row.Status,
	}
	if len(row.ImageURLs) > 0 {
		p.Image = row.ImageURLs[0]
	}
	if p.Status == "" {
		p.Status = "active"
	}
	i.sink.AddProduct(p)
	return nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func parseRow(record []string, index map[string]int) (*csvRow, error) {
	id := pick(record, index, "id")
	imageURL := pick(record, index, "image")
	if id == "" && imageURL == "" {
		return nil, nil
	}

	row := &csvRow{
		ID:       id,
		Name:     pick(record, index, "name"),
		Desc:     pick(record, index, "description"),
		Category: pick(record, index, "category"),
		Status:   pick(record, index, "status"),
	}
	if imageURL != "" {
		row.ImageURLs = []string{imageURL}
	}
	if id == "" {
		return row, nil
	}

	if s := pick(record, index, "price"); s != "" {
		price, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price for id %q: %s", id, s)
		}
		row.Price = price
	}
	if s := pick(record, index, "stock"); s != "" {
		stock, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid stock for id %q: %s", id, s)
		}
		row.Stock = stock
	}
	return row, nil
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
