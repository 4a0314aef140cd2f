package bundles

import (
	"errors"
	"fmt"
	"sort"

	"VoteCredit/internal/config"
	"VoteCredit/internal/models"

	"github.com/shopspring/decimal"
)

var ErrBundleNotFound = errors.New("bundle not found")

// Catalog is a static, read-only bundle table.
type Catalog struct {
	Currency string
	bundles  map[string]models.Bundle
}

func New(currency string, list []models.Bundle) (*Catalog, error) {
	c := &Catalog{Currency: currency, bundles: make(map[string]models.Bundle, len(list))}
	for _, b := range list {
		if b.ID == "" {
			return nil, errors.New("bundle id is empty")
		}
		if b.Credits <= 0 {
			return nil, fmt.Errorf("bundle %s: credit count must be positive", b.ID)
		}
		if !b.Price.IsPositive() {
			return nil, fmt.Errorf("bundle %s: price must be positive", b.ID)
		}
		if _, dup := c.bundles[b.ID]; dup {
			return nil, fmt.Errorf("bundle %s: duplicate id", b.ID)
		}
		c.bundles[b.ID] = b
	}
	return c, nil
}

func FromConfig(cfg *config.Config) (*Catalog, error) {
	list := make([]models.Bundle, 0, len(cfg.Catalog.Bundles))
	for _, b := range cfg.Catalog.Bundles {
		price, err := decimal.NewFromString(b.Price)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: invalid price %q: %w", b.ID, b.Price, err)
		}
		list = append(list, models.Bundle{ID: b.ID, Credits: b.Credits, Price: price})
	}
	return New(cfg.Catalog.Currency, list)
}

func (c *Catalog) Resolve(id string) (models.Bundle, error) {
	b, ok := c.bundles[id]
	if !ok {
		return models.Bundle{}, ErrBundleNotFound
	}
	return b, nil
}

func (c *Catalog) List() []models.Bundle {
	out := make([]models.Bundle, 0, len(c.bundles))
	for _, b := range c.bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// RawAmount converts a display price into an integer count of the asset's
// smallest unit, rounding any remainder up.
func RawAmount(price decimal.Decimal, decimals int) string {
	return price.Shift(int32(decimals)).Ceil().BigInt().String()
}
