package model

import "time"

// ExamExport is the top-level JSON structure for result export.
type ExamExport struct {
	Subject     string          `json:"subject"`
	GeneratedAt time.Time       `json:"generated_at"`
	NumResults  int             `json:"num_results"`
	Average     float64         `json:"average"`
	Results     []StudentResult `json:"results"`
}

// NewExamExport summarises results for export. The subject is taken from the
// most recent result.
func NewExamExport(results []StudentResult, now time.Time) ExamExport {
	exp := ExamExport{
		GeneratedAt: now,
		NumResults:  len(results),
		Results:     results,
	}
	if len(results) == 0 {
		exp.Results = []StudentResult{}
		return exp
	}
	var total float64
	for _, r := range results {
		total += r.Score
	}
	exp.Average = total / float64(len(results))
	exp.Subject = results[len(results)-1].Subject
	return exp
}
