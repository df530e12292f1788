package audit

// Entry kinds.
const (
	KindAssessment = "assessment"
	KindBatch      = "batch"
)

// Entry is one line in the hash-chained JSONL assessment ledger. Only scalar
// fields, so json.Marshal output is stable and rehashable.
type Entry struct {
	Timestamp    string  `json:"ts"`
	AssessmentID string  `json:"assessment_id"`
	Kind         string  `json:"kind"`
	InputHash    string  `json:"input_hash"`
	OverallSL    int     `json:"overall_sl"`
	Mean         float64 `json:"mean"`
	P90          float64 `json:"p90"`
	PCompromised float64 `json:"p_compromised"`
	PrevHash     string  `json:"prev_hash"`
}
