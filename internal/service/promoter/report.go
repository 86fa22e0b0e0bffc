package promoter

import (
	"context"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgedist/forgedist/internal/config"
	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
)

// durationPrecision rounds durations in logs and reports.
const durationPrecision = time.Millisecond

// Report is the YAML run summary written behind --report. Operators and
// CI wire it into release dashboards, so the field set is stable.
type Report struct {
	RunID      string `yaml:"run_id"`
	Channel    string `yaml:"channel"`
	Version    string `yaml:"version,omitempty"`
	State      string `yaml:"state"`
	DryRun     bool   `yaml:"dry_run,omitempty"`
	StartedAt  string `yaml:"started_at"`
	FinishedAt string `yaml:"finished_at,omitempty"`
	Duration   string `yaml:"duration,omitempty"`
	Artifacts  int    `yaml:"artifacts"`
	Copied     int    `yaml:"copied"`
	Skipped    int    `yaml:"skipped"`
	Error      string `yaml:"error,omitempty"`
	ErrorClass string `yaml:"error_class,omitempty"`
}

// buildReport snapshots the run.
func (p *promoter) buildReport() *Report {
	report := &Report{
		RunID:     p.run.ID,
		Channel:   p.run.Channel,
		State:     string(p.run.State),
		DryRun:    p.opts.DryRun,
		StartedAt: p.run.StartedAt.Format(time.RFC3339),
		Copied:    p.copied,
		Skipped:   p.skipped,
	}

	if p.rel != nil {
		report.Version = p.rel.Version
		report.Artifacts = len(p.rel.Artifacts)
	}

	if !p.run.FinishedAt.IsZero() {
		report.FinishedAt = p.run.FinishedAt.Format(time.RFC3339)
		report.Duration = p.run.Duration().Round(durationPrecision).String()
	}

	if p.run.Err != nil {
		report.Error = p.run.Err.Error()
		report.ErrorClass = string(release.ClassOf(p.run.Err))
	}

	return report
}

// writeReport writes the YAML run summary when a report path was given.
// Report trouble is logged, never allowed to mask the run result.
func (p *promoter) writeReport(ctx context.Context) {
	if p.opts.ReportPath == "" {
		return
	}

	data, err := yaml.Marshal(p.buildReport())
	if err != nil {
		logger.WarnKV(ctx, "Failed to encode run report", "error", err)

		return
	}

	if err := os.WriteFile(p.opts.ReportPath, data, config.DefaultFilePermissions); err != nil {
		logger.WarnKV(ctx, "Failed to write run report",
			"path", p.opts.ReportPath,
			"error", err)

		return
	}

	logger.InfoKV(ctx, "Run report written", "path", p.opts.ReportPath)
}
