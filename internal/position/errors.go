package position

import "errors"

// ErrNoPosition indicates an operation that requires an open position was
// attempted while none exists.
var ErrNoPosition = errors.New("position: no open position")

// ErrDailyLossLimit indicates the configured daily loss cap has been hit
// and new entries are blocked until the next UTC day.
var ErrDailyLossLimit = errors.New("position: daily loss limit reached")
