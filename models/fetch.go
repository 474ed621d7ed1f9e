package models

import "sort"

// URLSet is an insertion-ordered set of distinct URLs.
type URLSet struct {
	seen  map[string]struct{}
	order []string
}

// NewURLSet returns a set seeded with urls.
func NewURLSet(urls ...string) URLSet {
	s := URLSet{seen: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		s.Add(u)
	}
	return s
}

// Add inserts u and reports whether it was new. Empty strings are ignored.
func (s *URLSet) Add(u string) bool {
	if u == "" {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[u]; ok {
		return false
	}
	s.seen[u] = struct{}{}
	s.order = append(s.order, u)
	return true
}

// Has reports whether u is in the set.
func (s URLSet) Has(u string) bool {
	_, ok := s.seen[u]
	return ok
}

// Len returns the number of distinct URLs.
func (s URLSet) Len() int {
	return len(s.order)
}

// Items returns the URLs in insertion order.
func (s URLSet) Items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Sorted returns the URLs in lexicographic order.
func (s URLSet) Sorted() []string {
	out := s.Items()
	sort.Strings(out)
	return out
}

// FetchOutcome is the per-URL result of a cache run.
type FetchOutcome struct {
	URL       string
	Success   bool
	LocalName string
	Cached    bool
	Err       error
}

// FetchReport aggregates the outcomes of one cache run, keyed by URL.
type FetchReport struct {
	Outcomes  map[string]FetchOutcome
	Total     int
	Succeeded int
	Failed    int
	Cached    int
}

// NewFetchReport returns an empty report sized for n URLs.
func NewFetchReport(n int) *FetchReport {
	return &FetchReport{Outcomes: make(map[string]FetchOutcome, n)}
}

// Add records an outcome and updates the counters.
func (r *FetchReport) Add(o FetchOutcome) {
	r.Outcomes[o.URL] = o
	r.Total++
	if o.Success {
		r.Succeeded++
		if o.Cached {
			r.Cached++
		}
		return
	}
	r.Failed++
}
