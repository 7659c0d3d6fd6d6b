// Package catalog loads the product reference data that grounds the
// weight and inventory detectors: per-SKU expected weight, price, and
// expected shelf quantity.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/c360/retailstreams/errors"
)

// Product is one catalog row.
type Product struct {
	SKU      string
	Name     string
	WeightG  float64
	Price    float64
	Quantity int
}

// Catalog is an immutable SKU lookup table.
type Catalog struct {
	products map[string]Product
}

// FromProducts builds a catalog from in-memory rows; tests and embedded
// defaults use this.
func FromProducts(products []Product) *Catalog {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		if p.SKU != "" {
			m[normalize(p.SKU)] = p
		}
	}
	return &Catalog{products: m}
}

func normalize(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// Load reads a product catalog CSV. Expected header columns: SKU,
// product_name, weight, price, quantity; column order is free and
// unknown columns are ignored. Rows without a SKU are skipped.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "catalog", "Load", "open catalog file")
	}
	defer f.Close()

	c, err := Read(f)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%s: %w", path, err), "catalog", "Load", "parse catalog file")
	}
	return c, nil
}

// Read parses catalog CSV from r.
func Read(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		// Recorded exports carry a UTF-8 BOM on the first column.
		name = strings.TrimPrefix(name, "\uFEFF")
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["sku"]; !ok {
		return nil, fmt.Errorf("catalog header missing SKU column")
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var products []Product
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		sku := field(row, "sku")
		if sku == "" {
			continue
		}
		products = append(products, Product{
			SKU:      sku,
			Name:     field(row, "product_name"),
			WeightG:  parseFloat(field(row, "weight")),
			Price:    parseFloat(field(row, "price")),
			Quantity: int(parseFloat(field(row, "quantity"))),
		})
	}
	return FromProducts(products), nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Lookup returns the product for sku. Matching ignores case and
// surrounding whitespace.
func (c *Catalog) Lookup(sku string) (Product, bool) {
	p, ok := c.products[normalize(sku)]
	return p, ok
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.products)
}

// ExpectedQuantities returns a copy of the SKU → expected shelf count
// baseline used by the inventory detector.
func (c *Catalog) ExpectedQuantities() map[string]int {
	m := make(map[string]int, len(c.products))
	for sku, p := range c.products {
		m[sku] = p.Quantity
	}
	return m
}
