package model

import "sort"

// SampleResult is a counts table: how many times each measured bitstring was
// observed across the shots of a sampling run.
type SampleResult struct {
	Counts map[string]int `json:"counts"`
}

// NewSampleResult returns an empty counts table.
func NewSampleResult() SampleResult {
	return SampleResult{Counts: make(map[string]int)}
}

// Add records n more observations of bits.
func (r *SampleResult) Add(bits string, n int) {
	if n <= 0 {
		return
	}
	if r.Counts == nil {
		r.Counts = make(map[string]int)
	}
	r.Counts[bits] += n
}

// Merge adds every count of other into r.
func (r *SampleResult) Merge(other SampleResult) {
	for bits, n := range other.Counts {
		r.Add(bits, n)
	}
}

// Clear removes every count.
func (r *SampleResult) Clear() {
	clear(r.Counts)
}

// Total returns the number of shots represented by the table.
func (r SampleResult) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// Count returns how many times bits was observed.
func (r SampleResult) Count(bits string) int {
	return r.Counts[bits]
}

// Probability returns the observed frequency of bits, or 0 for an empty table.
func (r SampleResult) Probability(bits string) float64 {
	total := r.Total()
	if total == 0 {
		return 0
	}
	return float64(r.Counts[bits]) / float64(total)
}

// MostProbable returns the most frequently observed bitstring. Ties resolve to
// the lexically smallest bitstring so the answer is stable.
func (r SampleResult) MostProbable() string {
	best, bestN := "", -1
	for _, bits := range r.Bitstrings() {
		if n := r.Counts[bits]; n > bestN {
			best, bestN = bits, n
		}
	}
	return best
}

// Bitstrings returns the observed bitstrings in lexical order.
func (r SampleResult) Bitstrings() []string {
	out := make([]string, 0, len(r.Counts))
	for bits := range r.Counts {
		out = append(out, bits)
	}
	sort.Strings(out)
	return out
}
