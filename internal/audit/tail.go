package audit

import (
	"encoding/json"
	"fmt"
	"os"
)

// Tail returns the last n entries, oldest first. n <= 0 returns all of them.
// Malformed lines are skipped; use Verify to detect them.
func Tail(path string, n int) ([]Entry, error) {
	return scan(path, n, func(Entry) bool { return true })
}

// Find returns every entry for one assessment, oldest first.
func Find(path, assessmentID string) ([]Entry, error) {
	return scan(path, 0, func(e Entry) bool { return e.AssessmentID == assessmentID })
}

func scan(path string, n int, keep func(Entry) bool) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	entries := []Entry{}
	sc := newScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if !keep(e) {
			continue
		}
		entries = append(entries, e)
		if n > 0 && len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return entries, nil
}
