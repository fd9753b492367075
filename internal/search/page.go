package search

// Page describes ordering and pagination for a search. Applying it is the
// storage layer's job; the composer itself only builds predicates.
type Page struct {
	SortBy    string
	Ascending bool
	Offset    int
	Limit     int
}
