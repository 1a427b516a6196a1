// Package report renders search results as a CSV report.
package report

import (
	"encoding/csv"
	"io"

	"revimg"
)

var header = []string{"input_path", "match_path", "match_directory", "match_filename"}

// WriteCSV writes one row per (query file, match) pair. Only the first row
// of each query file carries the input path; follow-up rows leave it blank,
// grouping multi-match results without repeating the key.
func WriteCSV(w io.Writer, results []revimg.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		for _, queryPath := range res.QueryPaths {
			for i, m := range res.Matches {
				input := ""
				if i == 0 {
					input = queryPath
				}
				if err := cw.Write([]string{input, m.Path(), m.Directory, m.Filename}); err != nil {
					return err
				}
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
