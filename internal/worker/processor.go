package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/orchestrator"
	"github.com/mohammad-safakhou/partyplanner/internal/queue"
	"github.com/mohammad-safakhou/partyplanner/internal/store"
	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
)

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	MarkRunning(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, kind, message string) error
	SaveRun(ctx context.Context, rec store.RunRecord) error
}

// Source is the queue side of the worker.
type Source interface {
	Read(ctx context.Context, count int64, block time.Duration) ([]queue.Message, error)
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, ids ...string) error
}

// Runner executes one orchestration.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// Options tune the processing loop.
type Options struct {
	Concurrency int
	Block       time.Duration
	BatchSize   int64
	// ReclaimIdle is how long an entry may sit unacknowledged with another
	// consumer before this one takes it over. Zero disables reclaiming.
	ReclaimIdle time.Duration
}

// OptionsFromConfig maps worker settings onto Options.
func OptionsFromConfig(cfg config.WorkerConfig) Options {
	cfg = cfg.Normalize()
	return Options{Concurrency: cfg.Concurrency, Block: cfg.Block, BatchSize: cfg.BatchSize, ReclaimIdle: cfg.ReclaimIdle}
}

// Processor consumes queued run requests and persists their transcripts.
type Processor struct {
	logger  *log.Logger
	store   StoreAPI
	source  Source
	runner  Runner
	opts    Options
	metrics *telemetry.Metrics
}

// NewProcessor constructs a Processor.
func NewProcessor(logger *log.Logger, st StoreAPI, src Source, runner Runner, opts Options, metrics *telemetry.Metrics) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = int64(opts.Concurrency)
	}
	return &Processor{logger: logger, store: st, source: src, runner: runner, opts: opts, metrics: metrics}
}

// Start blocks, processing run requests until ctx is cancelled. In-flight runs
// are allowed to finish before it returns.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker starting with concurrency %d", p.opts.Concurrency)
	sem := make(chan struct{}, p.opts.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	dispatch := func(msgs []queue.Message) {
		for _, msg := range msgs {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(msg queue.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				p.process(ctx, msg)
			}(msg)
		}
	}

	if p.opts.ReclaimIdle > 0 {
		msgs, err := p.source.Reclaim(ctx, p.opts.ReclaimIdle, p.opts.BatchSize)
		if err != nil {
			p.logger.Printf("warn: reclaim pending entries failed: %v", err)
		}
		dispatch(msgs)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.source.Read(ctx, p.opts.BatchSize, p.opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		dispatch(msgs)
	}
}

// process handles one entry. Runs that fail to persist stay unacknowledged so
// they can be reclaimed.
func (p *Processor) process(ctx context.Context, msg queue.Message) {
	if err := p.handle(ctx, msg); err != nil {
		p.logger.Printf("error handling message %s: %v", msg.ID, err)
		p.metrics.QueueEvent("failed")
		return
	}
	// ack even when the worker is shutting down
	if err := p.source.Ack(context.WithoutCancel(ctx), msg.ID); err != nil {
		p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
	}
}

func (p *Processor) handle(ctx context.Context, msg queue.Message) error {
	ctx, span := telemetry.StartSpan(ctx, "worker.handle_run")
	defer span.End()

	req, err := queue.DecodeRunRequest(msg.Envelope)
	if err != nil {
		// malformed requests can never succeed
		p.logger.Printf("dropping message %s: %v", msg.ID, err)
		return nil
	}
	span.SetAttributes(attribute.String("run.id", req.RunID))

	var cat *catalog.Catalog
	if len(req.Actions) > 0 {
		if cat, err = catalog.New(req.Actions...); err != nil {
			return p.store.MarkFailed(context.WithoutCancel(ctx), req.RunID, "invalid_catalog", err.Error())
		}
	}
	if err := p.store.MarkRunning(ctx, req.RunID); err != nil && !errors.Is(err, store.ErrRunNotFound) {
		return fmt.Errorf("mark running: %w", err)
	}

	// a run that started is completed even if the worker is asked to stop
	res, err := p.runner.Run(context.WithoutCancel(ctx), orchestrator.Request{RunID: req.RunID, UserInput: req.UserInput, Catalog: cat})
	if err != nil {
		return p.store.MarkFailed(context.WithoutCancel(ctx), req.RunID, orchestrator.ErrorKind(err), err.Error())
	}
	rec, err := store.RecordFromResult(req.UserInput, res)
	if err != nil {
		return err
	}
	if err := p.store.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	p.logger.Printf("run %s finished: %s", req.RunID, res.Status())
	return nil
}
