package selection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
)

// Validate checks that every field is present. max_total_cost may be 0,
// which the optimizer reads as no budget limit.
func Validate(p model.SelectionParams) error {
	var errs []error
	for _, f := range []struct{ name, v string }{
		{"username", p.Username},
		{"bb_pricing_field", p.BBPricingField},
		{"demand_field", p.DemandField},
		{"method", p.Method},
	} {
		if strings.TrimSpace(f.v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
		errs = append(errs, fmt.Errorf("radius must be a positive number, got %v", p.Radius))
	}
	if p.MaxBBNum <= 0 {
		errs = append(errs, fmt.Errorf("max_bb_num must be positive, got %d", p.MaxBBNum))
	}
	if p.MaxTotalCost < 0 || math.IsNaN(p.MaxTotalCost) || math.IsInf(p.MaxTotalCost, 0) {
		errs = append(errs, fmt.Errorf("max_total_cost must be >= 0, got %v", p.MaxTotalCost))
	}
	if len(errs) == 0 {
		return nil
	}
	return newErr(KindConfiguration, "validate", errors.Join(errs...))
}

// wireParams mirrors model.SelectionParams with every field optional so a
// missing key can be told apart from an explicit zero.
type wireParams struct {
	Username       *string  `json:"username"`
	Radius         *float64 `json:"radius"`
	MaxBBNum       *int     `json:"max_bb_num"`
	BBPricingField *string  `json:"bb_pricing_field"`
	MaxTotalCost   *float64 `json:"max_total_cost"`
	DemandField    *string  `json:"demand_field"`
	Method         *string  `json:"method"`
}

// DecodeParams decodes a request body into params. Absent or null fields
// are a configuration error; an explicit max_total_cost of 0 is kept.
func DecodeParams(b []byte) (model.SelectionParams, error) {
	var w wireParams
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&w); err != nil {
		return model.SelectionParams{}, newErr(KindConfiguration, "decode params", err)
	}

	var missing []string
	str := func(name string, v *string) string {
		if v == nil {
			missing = append(missing, name)
			return ""
		}
		return *v
	}
	num := func(name string, v *float64) float64 {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return *v
	}
	p := model.SelectionParams{
		Username:       str("username", w.Username),
		Radius:         num("radius", w.Radius),
		BBPricingField: str("bb_pricing_field", w.BBPricingField),
		MaxTotalCost:   num("max_total_cost", w.MaxTotalCost),
		DemandField:    str("demand_field", w.DemandField),
		Method:         str("method", w.Method),
	}
	if w.MaxBBNum == nil {
		missing = append(missing, "max_bb_num")
	} else {
		p.MaxBBNum = *w.MaxBBNum
	}
	if len(missing) > 0 {
		return p, newErr(KindConfiguration, "decode params",
			fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")))
	}
	return p, nil
}
