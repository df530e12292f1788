package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/logging"
	"github.com/ppiankov/icsrisk/internal/metrics"
)

// ProcessorConfig holds runtime configuration for job processing.
type ProcessorConfig struct {
	Dirs    DirConfig
	Runner  *assess.Runner
	Logger  *zap.Logger
	Metrics *metrics.Registry
}

// Processor handles job lifecycle transitions.
type Processor struct {
	cfg    ProcessorConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewProcessor creates a processor with the given configuration.
func NewProcessor(cfg ProcessorConfig) *Processor {
	return &Processor{cfg: cfg, logger: logging.OrNop(cfg.Logger), now: time.Now}
}

// Process handles a single job file through its full lifecycle:
// read → validate → move to processing → assess → write result to outbox.
func (p *Processor) Process(ctx context.Context, jobPath string) error {
	// Symlinks could point the daemon at arbitrary files.
	fi, err := os.Lstat(jobPath)
	if err != nil {
		return fmt.Errorf("stat job file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("rejected symlink: %s", filepath.Base(jobPath))
	}

	data, err := os.ReadFile(jobPath)
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		p.quarantine(jobPath)
		return p.writeFailedResult(trimJSON(filepath.Base(jobPath)), fmt.Sprintf("invalid JSON: %v", err))
	}

	if err := ValidateJob(&job); err != nil {
		p.quarantine(jobPath)
		id := job.ID
		if !validID.MatchString(id) {
			id = ""
		}
		return p.writeFailedResult(id, fmt.Sprintf("validation failed: %v", err))
	}

	processingPath := filepath.Join(p.cfg.Dirs.ProcessingDir(), job.ID+".json")
	if err := moveFile(jobPath, processingPath); err != nil {
		return fmt.Errorf("move to processing: %w", err)
	}

	p.cfg.Metrics.JobStarted()
	result, err := p.execute(ctx, &job)
	p.cfg.Metrics.JobFinished(err)
	if err != nil {
		result = &Result{
			ID:          job.ID,
			Status:      ResultFailed,
			Error:       err.Error(),
			CompletedAt: p.now().UTC(),
		}
	}

	if err := p.writeResult(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	p.logger.Info("job completed",
		zap.String("job", job.ID),
		zap.String("type", job.Type),
		zap.String("status", result.Status),
	)

	_ = os.Remove(processingPath)
	return nil
}

// execute dispatches the job to the runner.
func (p *Processor) execute(ctx context.Context, job *Job) (*Result, error) {
	if p.cfg.Runner == nil {
		return nil, fmt.Errorf("no assessment runner configured")
	}

	result := &Result{ID: job.ID, Status: ResultDone}
	switch job.Type {
	case JobTypeAssess:
		rep, err := p.cfg.Runner.Run(ctx, *job.Request)
		if err != nil {
			return nil, err
		}
		result.Report = rep
	case JobTypeBatch:
		reps, err := p.cfg.Runner.RunBatch(ctx, job.Requests)
		if err != nil {
			return nil, err
		}
		result.Reports = reps
	default:
		return nil, fmt.Errorf("unsupported job type: %s", job.Type)
	}
	result.CompletedAt = p.now().UTC()
	return result, nil
}

// quarantine moves an unusable job out of the inbox so it is not retried.
func (p *Processor) quarantine(jobPath string) {
	dst := filepath.Join(p.cfg.Dirs.FailedDir(), filepath.Base(jobPath))
	if err := moveFile(jobPath, dst); err != nil {
		p.logger.Warn("quarantine job file", zap.String("path", jobPath), zap.Error(err))
	}
}

// writeResult writes a result to the outbox directory atomically.
func (p *Processor) writeResult(r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	filename := r.ID + ".json"
	tmpPath := filepath.Join(p.cfg.Dirs.Outbox, filename+".tmp")
	finalPath := filepath.Join(p.cfg.Dirs.Outbox, filename)

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	return os.Rename(tmpPath, finalPath)
}

// writeFailedResult writes a minimal failed result when the job can't be run.
func (p *Processor) writeFailedResult(id string, errMsg string) error {
	if id == "" {
		id = fmt.Sprintf("unknown-%d", p.now().UnixNano())
	}
	r := &Result{
		ID:          id,
		Status:      ResultFailed,
		Error:       errMsg,
		CompletedAt: p.now().UTC(),
	}
	p.logger.Warn("job rejected", zap.String("job", id), zap.String("error", errMsg))
	return p.writeResult(r)
}

func trimJSON(name string) string {
	id := name[:len(name)-len(filepath.Ext(name))]
	if !validID.MatchString(id) {
		return ""
	}
	return id
}
