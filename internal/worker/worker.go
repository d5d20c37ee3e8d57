// Package worker runs the background job loop. The only job kind today is
// the transcript export: build the document, upload it to S3, mark the
// record completed.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bubbly-live/backend/internal/exports"
	"github.com/bubbly-live/backend/internal/questions"
	"github.com/bubbly-live/backend/internal/sessions"
	"github.com/bubbly-live/backend/pkg/queue"
	"github.com/bubbly-live/backend/pkg/storage"
)

// ExportProcessor processes transcript export jobs.
type ExportProcessor struct {
	exports   *exports.Repository
	sessions  *sessions.Repository
	questions *questions.Repository
	s3        *storage.S3
	queue     *queue.Queue
	logger    *zap.Logger
}

// NewExportProcessor creates a transcript export processor.
func NewExportProcessor(expRepo *exports.Repository, sessionRepo *sessions.Repository, questionRepo *questions.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{
		exports:   expRepo,
		sessions:  sessionRepo,
		questions: questionRepo,
		s3:        s3,
		queue:     q,
		logger:    logger,
	}
}

// Process executes one transcript export job.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeTranscriptExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.TranscriptExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	exp, err := p.exports.Get(ctx, payload.ExportID)
	if err != nil {
		return fmt.Errorf("export not found: %s", payload.ExportID)
	}
	if exp.Status == exports.StatusCompleted {
		p.logger.Info("export already completed", zap.String("export_id", exp.ID))
		return nil
	}
	if err := p.exports.MarkProcessing(ctx, exp.ID); err != nil {
		return err
	}

	session, err := p.sessions.Fetch(ctx, payload.SessionCode)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	items, err := p.questions.Fetch(ctx, payload.SessionCode)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	doc, err := exports.BuildTranscript(session, items, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	key := storage.ExportKey(payload.SessionCode, exp.ID)
	if _, err := p.s3.Upload(ctx, p.s3.ExportsBucket(), key, "application/json", bytes.NewReader(doc), int64(len(doc))); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.exports.MarkCompleted(ctx, exp.ID, key); err != nil {
		p.logger.Error("mark export completed failed", zap.Error(err), zap.String("export_id", exp.ID))
		return fmt.Errorf("update export: %w", err)
	}
	p.logger.Info("transcript export completed", zap.String("export_id", exp.ID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. A job out
// of retries is marked failed and parked in the DLQ.
func (p *ExportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("export worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if job.Attempt+1 >= queue.MaxRetries {
				p.markJobFailed(ctx, job, err)
			}
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}

func (p *ExportProcessor) markJobFailed(ctx context.Context, job *queue.Job, cause error) {
	var payload queue.TranscriptExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return
	}
	if err := p.exports.MarkFailed(ctx, payload.ExportID, cause.Error()); err != nil {
		p.logger.Error("mark export failed", zap.Error(err), zap.String("export_id", payload.ExportID))
	}
}
