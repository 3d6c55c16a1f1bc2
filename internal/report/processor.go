// Package report glues the pipeline together: for one job it resolves the
// use case, fetches the remote views, shapes them, assembles the
// presentation, renders bytes and emails the artifact.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/assembly"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/notification"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/tableau"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/transform"
)

const emailSubject = "Your Export Report"

// Fetcher is the slice of the analytics client the processor needs.
type Fetcher interface {
	FetchViewsInParallel(ctx context.Context, views []tableau.ViewRequest, workbookName, site string, concurrency int) (map[string]string, error)
}

// Mailer is the slice of the email gateway the processor needs.
type Mailer interface {
	SendAttachment(ctx context.Context, to, subject, bodyHTML string, attachment []byte, filename string) error
	SendPlain(ctx context.Context, to, subject, bodyHTML string) error
}

// Assembler produces the presentation manifest for a use case.
type Assembler interface {
	Assemble(useCase string, data map[string]*transform.ViewData) (*assembly.PresentationManifest, error)
}

// Result is the JSON payload stored on a completed job.
type Result struct {
	Success        bool   `json:"success"`
	FileName       string `json:"fileName"`
	Recipient      string `json:"recipient"`
	UseCase        string `json:"useCase"`
	ViewsProcessed int    `json:"viewsProcessed"`
}

// Processor runs the report pipeline for one job at a time. Safe for
// concurrent use; each Process call is independent.
type Processor struct {
	registry    *config.Registry
	transformer *transform.Transformer
	fetcher     Fetcher
	assembler   Assembler
	renderer    Renderer
	mailer      Mailer
	concurrency int
	logger      *zap.Logger

	now func() time.Time
}

// NewProcessor wires the pipeline. concurrency bounds the per-job remote
// fetch fan-out.
func NewProcessor(
	registry *config.Registry,
	transformer *transform.Transformer,
	fetcher Fetcher,
	assembler Assembler,
	renderer Renderer,
	mailer Mailer,
	concurrency int,
	logger *zap.Logger,
) *Processor {
	if concurrency <= 0 {
		concurrency = tableau.DefaultConcurrency
	}
	return &Processor{
		registry:    registry,
		transformer: transformer,
		fetcher:     fetcher,
		assembler:   assembler,
		renderer:    renderer,
		mailer:      mailer,
		concurrency: concurrency,
		logger:      logger.Named("report"),
		now:         time.Now,
	}
}

// Process runs the full pipeline and returns the serialized Result. Any
// error propagates to the worker, which decides retry versus terminal
// failure.
func (p *Processor) Process(ctx context.Context, job *queue.Job) (string, error) {
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("use_case", job.UseCase))

	meta, err := p.registry.UseCaseMeta(job.UseCase)
	if err != nil {
		return "", err
	}

	views, err := p.transformer.BuildViewConfigs(job.UseCase, job.Filters)
	if err != nil {
		return "", err
	}
	log.Info("fetching views",
		zap.Int("views", len(views)),
		zap.String("workbook", meta.WorkbookName),
		zap.String("site", meta.SiteName),
	)

	raw, err := p.fetcher.FetchViewsInParallel(ctx, views, meta.WorkbookName, meta.SiteName, p.concurrency)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", ErrNoViewsFetched
	}

	shaped := p.transformer.TransformAll(job.UseCase, raw)
	if len(shaped) == 0 {
		return "", ErrAllTransformsFailed
	}

	manifest, err := p.assembler.Assemble(job.UseCase, shaped)
	if err != nil {
		return "", err
	}

	artifact, err := p.renderer.Render(ctx, manifest)
	if err != nil {
		return "", err
	}

	fileName := p.fileName(job.UseCase)
	body := notification.SuccessBody(job.UseCase, fileName)
	if err := p.mailer.SendAttachment(ctx, job.Recipient, emailSubject, body, artifact, fileName); err != nil {
		return "", fmt.Errorf("%w: %s", ErrEmailFailed, err)
	}

	result := Result{
		Success:        true,
		FileName:       fileName,
		Recipient:      job.Recipient,
		UseCase:        job.UseCase,
		ViewsProcessed: len(shaped),
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("report: marshal result: %w", err)
	}
	log.Info("report delivered",
		zap.String("file", fileName),
		zap.Int("views_processed", result.ViewsProcessed),
	)
	return string(out), nil
}

// OnTerminalFailure sends the failure-notification email. Best-effort:
// its own errors are logged and swallowed so the original failure reason
// stays on the job.
func (p *Processor) OnTerminalFailure(ctx context.Context, job *queue.Job, reason string) {
	body := notification.FailureBody(job.UseCase, reason)
	if err := p.mailer.SendPlain(ctx, job.Recipient, "Report generation failed", body); err != nil {
		p.logger.Warn("failure notification could not be delivered",
			zap.String("job_id", job.ID),
			zap.String("recipient", job.Recipient),
			zap.Error(err),
		)
	}
}

func (p *Processor) fileName(useCase string) string {
	slug := strings.ToLower(strings.ReplaceAll(useCase, "_", "-"))
	return fmt.Sprintf("%s-%s.pptx", slug, p.now().Format("20060102-150405"))
}
