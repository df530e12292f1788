package audit

import (
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of a chain check. Head is the hash of the last
// valid line.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Head      string `json:"head,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks the ledger and reports the first broken link, if any. An
// empty ledger is valid.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	sc := newScanner(f)
	lineNum := 0
	expected := GenesisHash

	for sc.Scan() {
		lineNum++
		line := sc.Bytes()

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return VerifyResult{Lines: lineNum - 1, Error: fmt.Sprintf("parse error: %v", err), ErrorLine: lineNum}
		}
		if e.PrevHash != expected {
			msg := fmt.Sprintf("hash mismatch: expected %s, got %s", expected, e.PrevHash)
			if lineNum == 1 {
				msg = fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", e.PrevHash)
			}
			return VerifyResult{Lines: lineNum - 1, Error: msg, ErrorLine: lineNum}
		}
		expected = HashLine(line)
	}
	if err := sc.Err(); err != nil {
		return VerifyResult{Lines: lineNum, Error: fmt.Sprintf("scan: %v", err)}
	}

	head := ""
	if lineNum > 0 {
		head = expected
	}
	return VerifyResult{Valid: true, Lines: lineNum, Head: head}
}
