package domain

import "encoding/json"

// RawItem is one source-native record, opaque to the engine. API sources
// populate JSON; HTML sources populate Fields directly.
type RawItem struct {
	JSON   json.RawMessage
	Fields map[string]string
}

// PageResult is one page from a paginated source. A nil NextCursor is the
// authoritative "no more pages" signal.
type PageResult struct {
	Items      []RawItem
	NextCursor *string
	RawCount   int
}
