// Package client talks to a remote icsrisk gRPC server.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/montecarlo"
	"github.com/ppiankov/icsrisk/internal/server"
	"github.com/ppiankov/icsrisk/internal/store"
)

// DefaultTimeout bounds each call when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Client connects to an icsrisk assessment server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New creates a gRPC client for addr. The connection is established lazily.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to assessment server: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// SetTimeout overrides DefaultTimeout.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// Simulate runs the Monte Carlo engine remotely.
func (c *Client) Simulate(ctx context.Context, sim assess.Simulation, seed *uint64) (*montecarlo.Stats, error) {
	var stats montecarlo.Stats
	if err := c.invoke(ctx, server.MethodSimulate, server.SimulateRequest{Simulation: sim, Seed: seed}, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Progression runs the Markov engine remotely.
func (c *Client) Progression(ctx context.Context, riskScore float64, hours *int) ([]markov.Step, markov.Summary, error) {
	var resp server.ProgressionResponse
	if err := c.invoke(ctx, server.MethodProgression, server.ProgressionRequest{RiskScore: riskScore, Hours: hours}, &resp); err != nil {
		return nil, markov.Summary{}, err
	}
	return resp.Progression, resp.Summary, nil
}

// Score evaluates satisfied requirements against the server's catalogue.
func (c *Client) Score(ctx context.Context, satisfied []string) (*iec62443.Result, error) {
	var res iec62443.Result
	if err := c.invoke(ctx, server.MethodScore, server.ScoreRequest{Satisfied: satisfied}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Assess runs a full assessment remotely.
func (c *Client) Assess(ctx context.Context, req assess.Request) (*assess.Report, error) {
	var rep assess.Report
	if err := c.invoke(ctx, server.MethodAssess, req, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// GetReport fetches one stored report.
func (c *Client) GetReport(ctx context.Context, id string) (*assess.Report, error) {
	var rep assess.Report
	if err := c.invoke(ctx, server.MethodGetReport, server.GetReportRequest{ID: id}, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// ListReports returns stored report summaries, newest first.
func (c *Client) ListReports(ctx context.Context, limit int) ([]store.Record, error) {
	var resp server.ListReportsResponse
	if err := c.invoke(ctx, server.MethodListReports, server.ListReportsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// Catalogue returns the server's active catalogue.
func (c *Client) Catalogue(ctx context.Context) (*iec62443.Catalogue, error) {
	var cat iec62443.Catalogue
	if err := c.invoke(ctx, server.MethodCatalogue, struct{}{}, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	in, err := server.Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.FullMethod(method), in, out); err != nil {
		return err
	}
	return server.Decode(out, resp)
}
