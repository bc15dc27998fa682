package cache

import "errors"

// ErrInvalidSize is returned by NewMemo when size is not positive.
var ErrInvalidSize = errors.New("cache size must be positive")
