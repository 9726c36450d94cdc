package index

// Posting records one document's occurrences of a term.
type Posting struct {
	DocID     string
	Frequency int
	Positions []int
}

// PostingList is a term's postings, ordered by DocID ascending so that
// merges and scans are deterministic.
type PostingList []Posting

// VocabEntry pairs an indexed term with its document frequency. Fuzzy
// matching and autocomplete rank candidates by document frequency.
type VocabEntry struct {
	Term string
	DF   int
}
