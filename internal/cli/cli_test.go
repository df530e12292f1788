package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/audit"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/montecarlo"
	"github.com/ppiankov/icsrisk/internal/reportdiff"
	"github.com/ppiankov/icsrisk/internal/store"
)

// testEnv points HOME at a temp dir and writes a config whose history and
// ledger live there.
type testEnv struct {
	dir        string
	configPath string
}

func setupCLI(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	content := fmt.Sprintf(`log:
  level: error
engine:
  iterations: 200
  hours: 6
  workers: 2
store:
  path: %s
audit:
  path: %s
`, filepath.Join(dir, "history.db"), filepath.Join(dir, "audit.jsonl"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return &testEnv{dir: dir, configPath: path}
}

// resetFlags restores every flag to its default so state from one Execute
// does not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("icsrisk %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const requestJSON = `{
  "name": "%s",
  "riskScore": 6,
  "hours": 4,
  "seed": 11,
  "simulation": {"baseImpact": 8, "baseLikelihood": 0.4, "mitigationFactor": 0.3, "uncertainty": 0.1, "iterations": 300},
  "satisfied": ["SR1.1", "SR1.2"]
}`

func TestSimulateJSONReproducible(t *testing.T) {
	env := setupCLI(t)
	args := []string{"simulate", "--impact", "8", "--likelihood", "0.5", "--mitigation", "0.2", "-n", "500", "--seed", "3", "-f", "json"}

	first := env.mustRun(t, args...)
	var stats montecarlo.Stats
	if err := json.Unmarshal([]byte(first), &stats); err != nil {
		t.Fatalf("decode: %v\n%s", err, first)
	}
	total := 0
	for _, b := range stats.Data {
		total += b.Count
	}
	if total != 500 {
		t.Errorf("histogram total = %d, want 500", total)
	}
	if stats.P10 > stats.P90 {
		t.Errorf("p10 %v > p90 %v", stats.P10, stats.P90)
	}

	second := env.mustRun(t, args...)
	if first != second {
		t.Error("same seed produced different output")
	}
}

func TestSimulateText(t *testing.T) {
	env := setupCLI(t)
	out := env.mustRun(t, "simulate", "--impact", "5", "--likelihood", "0.2")
	if !strings.Contains(out, "Residual risk over 200 samples") {
		t.Errorf("expected engine default iterations in output:\n%s", out)
	}
}

func TestSimulateRejectsBadInput(t *testing.T) {
	env := setupCLI(t)
	if _, err := env.run(t, "simulate", "--likelihood", "0.2"); err == nil {
		t.Error("expected error without --impact")
	}
	if _, err := env.run(t, "simulate", "--impact", "0", "--likelihood", "0.2"); err == nil {
		t.Error("expected error for impact 0")
	}
	if _, err := env.run(t, "simulate", "--impact", "5", "--likelihood", "1.5"); err == nil {
		t.Error("expected error for likelihood above 1")
	}
	_, err := env.run(t, "simulate", "--impact", "5", "--likelihood", "0.2", "--iterations", "0")
	if err == nil || !strings.Contains(err.Error(), "iterations") {
		t.Errorf("expected iterations error for --iterations 0, got %v", err)
	}
}

func TestProgressionHours(t *testing.T) {
	env := setupCLI(t)

	var steps []markov.Step
	out := env.mustRun(t, "progression", "--risk", "5", "--hours", "3", "-f", "json")
	if err := json.Unmarshal([]byte(out), &steps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(steps) != 4 {
		t.Errorf("got %d steps, want 4", len(steps))
	}
	if steps[0].Probability(markov.Secure) != 1 {
		t.Errorf("hour 0 should be fully secure, got %v", steps[0].Probabilities)
	}

	out = env.mustRun(t, "progression", "--risk", "5", "-f", "json")
	steps = nil
	if err := json.Unmarshal([]byte(out), &steps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(steps) != 7 {
		t.Errorf("default horizon: got %d steps, want 7", len(steps))
	}
}

func TestIECScore(t *testing.T) {
	env := setupCLI(t)

	out := env.mustRun(t, "iec", "score", "-s", "SR1.1,SR1.2", "-f", "json")
	var res iec62443.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.OverallSL != 0 {
		t.Errorf("overall SL = %d, want 0", res.OverallSL)
	}
	if len(res.FRScores) != 7 {
		t.Errorf("got %d FR scores, want 7", len(res.FRScores))
	}

	cat, err := iec62443.LoadCatalogue("")
	if err != nil {
		t.Fatal(err)
	}
	all := "satisfied:\n"
	for _, id := range cat.RequirementIDs() {
		all += "  - " + id + "\n"
	}
	from := env.writeFile(t, "satisfied.yaml", all)

	out = env.mustRun(t, "iec", "score", "--from", from, "-f", "json")
	res = iec62443.Result{}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.OverallSL != 2 {
		t.Errorf("all satisfied: overall SL = %d, want 2", res.OverallSL)
	}
}

func TestIECCatalogue(t *testing.T) {
	env := setupCLI(t)
	out := env.mustRun(t, "iec", "catalogue")
	for _, want := range []string{"FR1", "SR1.1", "FR7"} {
		if !strings.Contains(out, want) {
			t.Errorf("catalogue output missing %q", want)
		}
	}
}

func TestAssessRecordsHistoryAndLedger(t *testing.T) {
	env := setupCLI(t)
	req := env.writeFile(t, "req.json", fmt.Sprintf(requestJSON, "pump station"))

	out := env.mustRun(t, "assess", req, "-f", "json")
	var rep assess.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if rep.ID == "" || rep.Name != "pump station" {
		t.Fatalf("unexpected report header: id=%q name=%q", rep.ID, rep.Name)
	}
	if len(rep.Progression) != 5 {
		t.Errorf("got %d steps, want 5", len(rep.Progression))
	}

	out = env.mustRun(t, "history", "-f", "json")
	var recs []store.Record
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != rep.ID {
		t.Fatalf("history = %+v, want one record %s", recs, rep.ID)
	}

	out = env.mustRun(t, "history", "show", rep.ID)
	if !strings.Contains(out, "pump station") {
		t.Errorf("history show missing asset name:\n%s", out)
	}

	if _, err := env.run(t, "history", "show", "no-such-id"); err == nil {
		t.Error("expected error for unknown id")
	}

	out = env.mustRun(t, "audit", "verify")
	if !strings.Contains(out, "1 entries, chain valid") {
		t.Errorf("verify output: %s", out)
	}

	out = env.mustRun(t, "audit", "tail", "-f", "json")
	var entries []audit.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode tail: %v", err)
	}
	if len(entries) != 1 || entries[0].AssessmentID != rep.ID {
		t.Errorf("tail = %+v", entries)
	}
}

func TestAssessBatchKeepsOrder(t *testing.T) {
	env := setupCLI(t)
	names := []string{"rtu-1", "rtu-2", "rtu-3"}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf(requestJSON, n)
	}
	req := env.writeFile(t, "batch.json", "["+strings.Join(parts, ",")+"]")

	out := env.mustRun(t, "assess", req, "-f", "json")
	var reports []assess.Report
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reports) != len(names) {
		t.Fatalf("got %d reports, want %d", len(reports), len(names))
	}
	for i, rep := range reports {
		if rep.Name != names[i] {
			t.Errorf("report %d name = %q, want %q", i, rep.Name, names[i])
		}
	}
}

func TestAssessNoRecord(t *testing.T) {
	env := setupCLI(t)
	req := env.writeFile(t, "req.json", fmt.Sprintf(requestJSON, "plc"))

	out := env.mustRun(t, "assess", req, "--no-record")
	if !strings.Contains(out, "Assessment plc") {
		t.Errorf("text report missing title:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "audit.jsonl")); !os.IsNotExist(err) {
		t.Error("ledger should not be created with --no-record")
	}
}

func TestAssessRejectsBadRequests(t *testing.T) {
	env := setupCLI(t)

	unknown := env.writeFile(t, "unknown.json", `{"riskScore": 3, "bogus": 1}`)
	if _, err := env.run(t, "assess", unknown); err == nil {
		t.Error("expected error for unknown field")
	}

	empty := env.writeFile(t, "empty.json", `[]`)
	if _, err := env.run(t, "assess", empty); err == nil {
		t.Error("expected error for empty batch")
	}

	invalid := env.writeFile(t, "invalid.json", fmt.Sprintf(strings.Replace(requestJSON, `"riskScore": 6`, `"riskScore": 11`, 1), "x"))
	if _, err := env.run(t, "assess", invalid); err == nil {
		t.Error("expected error for riskScore above 10")
	}

	if _, err := env.run(t, "assess", filepath.Join(env.dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestUnknownFormat(t *testing.T) {
	env := setupCLI(t)
	_, err := env.run(t, "version", "-f", "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected unknown format error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	env := setupCLI(t)
	out := env.mustRun(t, "version", "-f", "json")
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["name"] != "icsrisk" || info["version"] != version {
		t.Errorf("version info = %v", info)
	}
}

func TestHistoryDiff(t *testing.T) {
	env := setupCLI(t)
	before := env.writeFile(t, "before.json", fmt.Sprintf(requestJSON, "pump station"))
	after := env.writeFile(t, "after.json", strings.Replace(
		fmt.Sprintf(requestJSON, "pump station"), `"riskScore": 6`, `"riskScore": 3`, 1))

	var a, b assess.Report
	if err := json.Unmarshal([]byte(env.mustRun(t, "assess", before, "-f", "json")), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(env.mustRun(t, "assess", after, "-f", "json")), &b); err != nil {
		t.Fatal(err)
	}

	out := env.mustRun(t, "history", "diff", a.ID, b.ID, "-f", "json")
	var d reportdiff.DiffResult
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("decode diff: %v\n%s", err, out)
	}
	if d.OldID != a.ID || d.NewID != b.ID || !d.HasChanges {
		t.Fatalf("unexpected diff header: %+v", d)
	}
	var found bool
	for _, c := range d.Changes {
		if c.Field == "risk_score" {
			found = true
			if c.Comment != reportdiff.Improved {
				t.Errorf("risk_score comment = %q", c.Comment)
			}
		}
	}
	if !found {
		t.Errorf("risk_score change missing: %+v", d.Changes)
	}

	out = env.mustRun(t, "history", "diff", a.ID, a.ID)
	if !strings.Contains(out, "No changes detected.") {
		t.Errorf("self diff output:\n%s", out)
	}

	if _, err := env.run(t, "history", "diff", a.ID, "no-such-id"); err == nil {
		t.Error("expected error for unknown id")
	}
}
