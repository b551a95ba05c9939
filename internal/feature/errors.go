package feature

import "errors"

// ErrStaleQuote indicates a trade arrived with no quote recent enough to
// classify it as aggressor-buy or aggressor-sell.
var ErrStaleQuote = errors.New("feature: quote too stale to classify trade")

// ErrInvalidVA indicates the value area computed for a bar does not meet
// the configured minimum bin coverage and should not drive signal logic.
var ErrInvalidVA = errors.New("feature: value area invalid")
