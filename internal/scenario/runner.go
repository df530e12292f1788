package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/icsrisk/internal/assess"
)

// Assessor runs one assessment. *assess.Runner satisfies it.
type Assessor interface {
	Run(ctx context.Context, req assess.Request) (*assess.Report, error)
}

// Run checks every case in s. Cases are independent: a request the runner
// rejects fails that case and the rest still run. Only context cancellation
// aborts the scenario.
func Run(ctx context.Context, s *Scenario, a Assessor) (*RunResult, error) {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		req := c.Asset.Request()
		if req.Seed == nil {
			req.Seed = s.Seed
		}

		cr := CaseResult{Index: i + 1, Name: c.Asset.Name}
		rep, err := a.Run(ctx, req)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			cr.Error = err.Error()
		default:
			cr.OverallSL = rep.Compliance.OverallSL
			cr.Mean = rep.Simulation.Mean
			cr.P90 = rep.Simulation.P90
			cr.PCompromised = rep.PCompromised()
			cr.Failures = c.Expect.check(rep)
		}

		if cr.Error == "" && len(cr.Failures) == 0 {
			cr.Passed = true
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}
	return result, nil
}

func (e Expect) check(rep *assess.Report) []string {
	var failures []string
	if e.MinSL != nil && rep.Compliance.OverallSL < *e.MinSL {
		failures = append(failures, fmt.Sprintf("overall SL %d below %d", rep.Compliance.OverallSL, *e.MinSL))
	}
	if e.MaxMean != nil && rep.Simulation.Mean > *e.MaxMean {
		failures = append(failures, fmt.Sprintf("mean %.2f above %.2f", rep.Simulation.Mean, *e.MaxMean))
	}
	if e.MaxP90 != nil && rep.Simulation.P90 > *e.MaxP90 {
		failures = append(failures, fmt.Sprintf("P90 %.2f above %.2f", rep.Simulation.P90, *e.MaxP90))
	}
	if e.MaxPCompromised != nil && rep.PCompromised() > *e.MaxPCompromised {
		failures = append(failures, fmt.Sprintf("P(compromised) %.4f above %.4f", rep.PCompromised(), *e.MaxPCompromised))
	}
	return failures
}

// Load reads and validates a scenario file. Unknown keys are rejected so a
// misspelled bound cannot silently pass.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario: name is required")
	}
	if len(s.Cases) == 0 {
		return nil, fmt.Errorf("scenario %q: no cases", s.Name)
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and checks it.
func LoadAndRun(ctx context.Context, path string, a Assessor) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result, err := Run(ctx, s, a)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
