package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/montecarlo"
)

// --- Input/Output types ---

// SimulateInput defines parameters for the icsrisk_simulate tool.
type SimulateInput struct {
	BaseImpact       float64 `json:"baseImpact" jsonschema:"consequence severity, 1 to 10"`
	BaseLikelihood   float64 `json:"baseLikelihood" jsonschema:"probability of exploitation, 0 to 1"`
	MitigationFactor float64 `json:"mitigationFactor" jsonschema:"fractional risk reduction from controls, 0 to 1"`
	Uncertainty      float64 `json:"uncertainty" jsonschema:"relative spread of the noise terms, at least 0"`
	Iterations       *int    `json:"iterations,omitempty" jsonschema:"sample count, at least 1; omit for the configured default"`
	Seed             *uint64 `json:"seed,omitempty" jsonschema:"random seed for reproducible runs"`
}

func (in SimulateInput) simulation() assess.Simulation {
	return assess.Simulation{
		BaseImpact:       in.BaseImpact,
		BaseLikelihood:   in.BaseLikelihood,
		MitigationFactor: in.MitigationFactor,
		Uncertainty:      in.Uncertainty,
		Iterations:       in.Iterations,
	}
}

// SimulateOutput contains the residual risk distribution.
type SimulateOutput struct {
	Mean float64             `json:"mean"`
	P10  float64             `json:"p10"`
	P90  float64             `json:"p90"`
	Data []montecarlo.Bucket `json:"data"`
	Text string              `json:"text"`
}

// ProgressionInput defines parameters for the icsrisk_progression tool.
type ProgressionInput struct {
	RiskScore float64 `json:"riskScore" jsonschema:"composite risk score, 0 to 10"`
	Hours     *int    `json:"hours,omitempty" jsonschema:"hours to project, omit for the configured default"`
}

// ProgressionOutput contains the hourly distributions and their summary.
type ProgressionOutput struct {
	Summary     markov.Summary `json:"summary"`
	Progression []markov.Step  `json:"progression"`
	Text        string         `json:"text"`
}

// ScoreInput defines parameters for the icsrisk_score tool.
type ScoreInput struct {
	Satisfied []string `json:"satisfied" jsonschema:"ids of satisfied system requirements, e.g. SR1.1"`
	Language  string   `json:"language,omitempty" jsonschema:"BCP 47 tag for requirement descriptions"`
}

// ScoreOutput contains the security levels.
type ScoreOutput struct {
	OverallSL int                `json:"overallSL"`
	FRScores  []iec62443.FRScore `json:"frScores"`
	Met       int                `json:"met"`
	Total     int                `json:"total"`
	Text      string             `json:"text"`
}

// AssessInput defines parameters for the icsrisk_assess tool.
type AssessInput struct {
	Name       string        `json:"name,omitempty" jsonschema:"asset name"`
	RiskScore  float64       `json:"riskScore" jsonschema:"composite risk score, 0 to 10"`
	Hours      *int          `json:"hours,omitempty" jsonschema:"hours to project"`
	Simulation SimulateInput `json:"simulation" jsonschema:"Monte Carlo parameters"`
	Satisfied  []string      `json:"satisfied" jsonschema:"ids of satisfied system requirements"`
	Language   string        `json:"language,omitempty" jsonschema:"BCP 47 tag for the text report"`
}

// AssessOutput summarises a combined assessment.
type AssessOutput struct {
	ID           string  `json:"id"`
	OverallSL    int     `json:"overallSL"`
	Mean         float64 `json:"mean"`
	P90          float64 `json:"p90"`
	PCompromised float64 `json:"pCompromised"`
	MostLikely   string  `json:"mostLikely"`
	Text         string  `json:"text"`
}

// CatalogueInput selects the description language.
type CatalogueInput struct {
	Language string `json:"language,omitempty" jsonschema:"BCP 47 tag for descriptions"`
}

// CatalogueOutput lists every foundational and system requirement.
type CatalogueOutput struct {
	Standard string          `json:"standard"`
	Version  string          `json:"version"`
	FRs      []CatalogueItem `json:"foundationalRequirements"`
}

// CatalogueItem describes one foundational requirement.
type CatalogueItem struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Requirements []RequirementItem `json:"requirements"`
}

// RequirementItem describes one system requirement.
type RequirementItem struct {
	ID            string `json:"id"`
	RequiredForSL int    `json:"requiredForSL"`
	Description   string `json:"description"`
}

// --- Handlers ---

func (s *Server) handleSimulate(ctx context.Context, req *mcpsdk.CallToolRequest, input SimulateInput) (*mcpsdk.CallToolResult, SimulateOutput, error) {
	stats, err := s.runner.Simulate(ctx, input.simulation(), input.Seed)
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", err)
	}
	return nil, SimulateOutput{
		Mean: stats.Mean,
		P10:  stats.P10,
		P90:  stats.P90,
		Data: stats.Data,
		Text: montecarlo.FormatText(stats),
	}, nil
}

func (s *Server) handleProgression(ctx context.Context, req *mcpsdk.CallToolRequest, input ProgressionInput) (*mcpsdk.CallToolResult, ProgressionOutput, error) {
	steps, err := s.runner.Progression(ctx, input.RiskScore, input.Hours)
	if err != nil {
		return nil, ProgressionOutput{}, fmt.Errorf("progression failed: %w", err)
	}
	return nil, ProgressionOutput{
		Summary:     markov.Summarize(steps),
		Progression: steps,
		Text:        markov.FormatText(steps, 1),
	}, nil
}

func (s *Server) handleScore(ctx context.Context, req *mcpsdk.CallToolRequest, input ScoreInput) (*mcpsdk.CallToolResult, ScoreOutput, error) {
	cat := s.runner.Catalogue()
	res := s.runner.Score(input.Satisfied)
	return nil, ScoreOutput{
		OverallSL: res.OverallSL,
		FRScores:  res.FRScores,
		Met:       res.Satisfied(cat),
		Total:     len(cat.RequirementIDs()),
		Text:      iec62443.FormatText(res, cat, s.language(input.Language)),
	}, nil
}

func (s *Server) handleAssess(ctx context.Context, req *mcpsdk.CallToolRequest, input AssessInput) (*mcpsdk.CallToolResult, AssessOutput, error) {
	rep, err := s.runner.Run(ctx, assess.Request{
		Name:       input.Name,
		RiskScore:  input.RiskScore,
		Hours:      input.Hours,
		Simulation: input.Simulation.simulation(),
		Satisfied:  input.Satisfied,
		Seed:       input.Simulation.Seed,
	})
	if err != nil {
		return nil, AssessOutput{}, fmt.Errorf("assessment failed: %w", err)
	}
	s.logger.Debug("mcp assessment", zap.String("id", rep.ID))

	return nil, AssessOutput{
		ID:           rep.ID,
		OverallSL:    rep.Compliance.OverallSL,
		Mean:         rep.Simulation.Mean,
		P90:          rep.Simulation.P90,
		PCompromised: rep.PCompromised(),
		MostLikely:   string(rep.Summary.MostLikely),
		Text:         assess.FormatText(rep, s.runner.Catalogue(), s.language(input.Language)),
	}, nil
}

func (s *Server) handleCatalogue(ctx context.Context, req *mcpsdk.CallToolRequest, input CatalogueInput) (*mcpsdk.CallToolResult, CatalogueOutput, error) {
	cat := s.runner.Catalogue()
	lang := s.language(input.Language)

	out := CatalogueOutput{
		Standard: cat.Standard,
		Version:  cat.Version,
		FRs:      make([]CatalogueItem, 0, len(cat.FRs)),
	}
	for _, fr := range cat.FRs {
		item := CatalogueItem{
			ID:           fr.ID,
			Title:        fr.Title(lang),
			Requirements: make([]RequirementItem, 0, len(fr.Requirements)),
		}
		for _, sr := range fr.Requirements {
			item.Requirements = append(item.Requirements, RequirementItem{
				ID:            sr.ID,
				RequiredForSL: sr.RequiredForSL,
				Description:   sr.Description(lang),
			})
		}
		out.FRs = append(out.FRs, item)
	}
	return nil, out, nil
}

func (s *Server) language(requested string) string {
	if requested != "" {
		return requested
	}
	return s.lang
}
