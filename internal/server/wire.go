package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/store"
)

// ServiceName is the fully qualified gRPC service name. Every method takes
// and returns a google.protobuf.Struct carrying the JSON shapes below.
const ServiceName = "icsrisk.v1.AssessmentService"

// Method names.
const (
	MethodSimulate    = "Simulate"
	MethodProgression = "Progression"
	MethodScore       = "Score"
	MethodAssess      = "Assess"
	MethodGetReport   = "GetReport"
	MethodListReports = "ListReports"
	MethodCatalogue   = "Catalogue"
)

// FullMethod returns "/icsrisk.v1.AssessmentService/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SimulateRequest carries Monte Carlo parameters plus an optional seed.
// Iterations nil takes the server default. Seeds above 2^53 lose precision
// in transit.
type SimulateRequest struct {
	assess.Simulation
	Seed *uint64 `json:"seed,omitempty"`
}

// ProgressionRequest carries Markov inputs. Hours nil takes the server default.
type ProgressionRequest struct {
	RiskScore float64 `json:"riskScore"`
	Hours     *int    `json:"hours,omitempty"`
}

// ProgressionResponse is the hourly distribution plus its summary.
type ProgressionResponse struct {
	Progression []markov.Step  `json:"progression"`
	Summary     markov.Summary `json:"summary"`
}

// ScoreRequest lists the satisfied requirement ids.
type ScoreRequest struct {
	Satisfied []string `json:"satisfied"`
}

// GetReportRequest selects one stored report.
type GetReportRequest struct {
	ID string `json:"id"`
}

// ListReportsRequest bounds the history listing. Limit <= 0 lists everything.
type ListReportsRequest struct {
	Limit int `json:"limit"`
}

// ListReportsResponse is the history listing, newest first.
type ListReportsResponse struct {
	Reports []store.Record `json:"reports"`
}

// Encode converts a JSON-serializable value into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// Decode converts a Struct into v. Unknown fields are rejected.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
