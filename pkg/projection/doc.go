// Package projection rewrites the monetary fields of a decoded JSON page
// into another currency.
//
// Project walks maps and slices as produced by encoding/json and returns a
// new structure; its input is never modified. For every monetary field the
// base-currency value is kept under {field}OriginalUsd and the field itself
// becomes round(original * rate).
//
// A field is monetary when:
//
//   - its key contains "amount" (case-insensitive)
//   - its key is rangeUsd, priceRange, minCost or maxCost
//   - it is minimum or recommended inside recommendedBudgetGuidance
//   - it is value inside a trustedMetrics item
//   - it is low or high inside a quickEstimates item
//
// Keys ending in OriginalUsd and priceAmountNumber are outputs of a previous
// projection and are copied unchanged.
//
// Items of a plans array additionally get priceAmountOriginalUsd and
// priceAmountNumber computed from priceAmount, price or priceAmountUsd, and
// a priceSuffix defaulting to the target currency.
package projection
