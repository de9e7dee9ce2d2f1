package projection

import (
	"math"
	"strings"
)

const originalSuffix = "OriginalUsd"

// Options carries optional projection context.
type Options struct {
	// Currency is the target currency code, used as the default plan priceSuffix
	Currency string
}

// Project returns a copy of node with every monetary field multiplied by rate.
func Project(node any, rate float64) any {
	return ProjectWith(node, rate, Options{})
}

// ProjectWith is Project with additional context.
func ProjectWith(node any, rate float64, opts Options) any {
	p := projector{rate: rate, opts: opts}
	return p.walk(node, "")
}

// Round rounds half up, matching the rounding used by the page frontends
// (-2.5 rounds to -2).
func Round(x float64) float64 {
	return math.Floor(x + 0.5)
}

type projector struct {
	rate float64
	opts Options
}

// scale converts n, keeping n when the product does not fit a float64.
func (p projector) scale(n float64) float64 {
	x := Round(n * p.rate)
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return n
	}
	return x
}

// walk copies node; parent is the key under which node (or the slice that
// holds it) was found.
func (p projector) walk(node any, parent string) any {
	switch v := node.(type) {
	case map[string]any:
		return p.walkObject(v, parent)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = p.walk(item, parent)
		}
		return out
	default:
		return Clone(v)
	}
}

func (p projector) walkObject(obj map[string]any, parent string) map[string]any {
	out := make(map[string]any, len(obj))
	var monetary []string

	for key, value := range obj {
		if isMonetary(key, parent) {
			monetary = append(monetary, key)
			continue
		}
		out[key] = p.walk(value, key)
	}

	// Monetary fields are written last so that their OriginalUsd siblings win
	// over stale copies already present in obj.
	for _, key := range monetary {
		p.convertField(out, key, obj[key])
	}

	if parent == "plans" {
		p.normalizePlan(out, obj)
	}

	return out
}

func (p projector) convertField(out map[string]any, key string, value any) {
	switch v := value.(type) {
	case []any:
		converted := make([]any, len(v))
		originals := make([]any, len(v))
		for i, item := range v {
			if n, ok := toNumber(item); ok {
				originals[i] = n
				converted[i] = p.scale(n)
				continue
			}
			originals[i] = Clone(item)
			converted[i] = p.walk(item, key)
		}
		out[key+originalSuffix] = originals
		out[key] = converted
	default:
		n, ok := toNumber(v)
		if !ok {
			// Not a number: an "amounts" object, a label, null
			out[key] = p.walk(v, key)
			return
		}
		out[key+originalSuffix] = n
		out[key] = p.scale(n)
	}
}

func (p projector) normalizePlan(out, orig map[string]any) {
	price := firstPresent(orig, "priceAmount", "price", "priceAmountUsd")
	num, ok := toNumberLenient(price)
	if !ok {
		num = 0
	}

	out["priceAmountOriginalUsd"] = num
	out["priceAmountNumber"] = p.scale(num)

	if p.opts.Currency != "" {
		if suffix, _ := out["priceSuffix"].(string); suffix == "" {
			out["priceSuffix"] = p.opts.Currency
		}
	}
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

var knownFields = map[string]bool{
	"rangeUsd":   true,
	"priceRange": true,
	"minCost":    true,
	"maxCost":    true,
}

var scopedFields = map[string]map[string]bool{
	"recommendedBudgetGuidance": {"minimum": true, "recommended": true},
	"trustedMetrics":            {"value": true},
	"quickEstimates":            {"low": true, "high": true},
}

// isMonetary reports whether key, found inside parent, holds a money amount.
func isMonetary(key, parent string) bool {
	if isDerived(key) {
		return false
	}
	if knownFields[key] {
		return true
	}
	if scoped, ok := scopedFields[parent]; ok && scoped[key] {
		return true
	}
	return strings.Contains(strings.ToLower(key), "amount")
}

func isDerived(key string) bool {
	return strings.HasSuffix(key, originalSuffix) || key == "priceAmountNumber"
}
