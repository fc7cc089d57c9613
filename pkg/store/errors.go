package store

import "errors"

// ErrNotFound is returned by mutation methods that target a record that does
// not exist. Get methods return (nil, nil) instead so callers can treat
// missing and forbidden records identically.
var ErrNotFound = errors.New("store: record not found")
