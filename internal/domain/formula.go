package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Formula struct {
	ID    string    `json:"id" yaml:"id"`
	Name  string    `json:"name" yaml:"name"`
	Items []BOMItem `json:"items" yaml:"items"`
}

// BOMItem is one line of a formula's bill of materials. Quantity is per unit of
// batch target; Min and Max are absolute bounds whose spread is used as the
// tolerance width around the calculated target.
type BOMItem struct {
	ID              string          `json:"id" yaml:"id"`
	MaterialArticle string          `json:"material_article" yaml:"material_article"`
	Quantity        decimal.Decimal `json:"quantity" yaml:"quantity"`
	Unit            string          `json:"unit" yaml:"unit"`
	Min             decimal.Decimal `json:"min" yaml:"min"`
	Max             decimal.Decimal `json:"max" yaml:"max"`
}

func (f Formula) Item(id string) (BOMItem, bool) {
	for _, item := range f.Items {
		if item.ID == id {
			return item, true
		}
	}
	return BOMItem{}, false
}

// CalculatedQuantity scales the per-unit quantity by the batch target.
func (i BOMItem) CalculatedQuantity(target decimal.Decimal) decimal.Decimal {
	return i.Quantity.Mul(target)
}

// ToleranceWidth is Max - Min, applied symmetrically around the calculated target.
func (i BOMItem) ToleranceWidth() decimal.Decimal {
	return i.Max.Sub(i.Min)
}

func (i BOMItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("bom item without id: %w", ErrInvalidInput)
	}
	if i.Min.GreaterThan(i.Max) {
		return fmt.Errorf("bom item %s: min %s above max %s: %w", i.ID, i.Min, i.Max, ErrInvalidInput)
	}
	return nil
}

func (f Formula) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("formula without id: %w", ErrInvalidInput)
	}
	for _, item := range f.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("formula %s: %w", f.ID, err)
		}
	}
	return nil
}
