package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pdejuan/gcnl-lite/internal/config"
	"github.com/pdejuan/gcnl-lite/internal/utils"
)

type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	text   string
	result chan<- taskResult
}

type taskResult struct {
	tokens []Token
	trace  Trace
	err    error
}

// WorkerPool runs annotations on a fixed set of worker processes. Every
// process loads its own segmenter and parser; a process handles one task
// at a time, so the models never see concurrent calls.
type WorkerPool struct {
	logger    *utils.Logger
	cfg       *config.PipelineConfig
	workerCfg WorkerConfig
	launch    Launcher
	setup     func() error
	taskQueue chan task
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	ready     atomic.Bool
}

type worker struct {
	id   int
	pool *WorkerPool
	mu   sync.Mutex
	conn *conn
}

func NewPool(
	logger *utils.Logger,
	cfg *config.PipelineConfig,
	workerCfg WorkerConfig,
	launch Launcher,
) *WorkerPool {
	return &WorkerPool{
		logger:    logger,
		cfg:       cfg,
		workerCfg: workerCfg,
		launch:    launch,
		taskQueue: make(chan task),
		done:      make(chan struct{}),
	}
}

// Initialize prepares the environment and starts every worker process.
// A worker that fails to start fails the whole pool.
func (p *WorkerPool) Initialize() error {
	p.logger.Info(nil, "Initializing annotation pipeline with %d workers", p.cfg.WorkerCount)

	if p.setup != nil {
		if err := p.setup(); err != nil {
			return fmt.Errorf("failed to setup environment: %w", err)
		}
	}

	workers := make([]*worker, 0, p.cfg.WorkerCount)
	for i := range p.cfg.WorkerCount {
		w := &worker{id: i, pool: p}
		if err := w.start(); err != nil {
			for _, started := range workers {
				started.close()
			}
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	for _, w := range workers {
		p.wg.Add(1)
		go p.runWorker(w)
	}

	p.ready.Store(true)
	p.logger.Info(nil, "Annotation pipeline initialized successfully")
	return nil
}

// Annotate runs preprocess, segment and parse for text on one worker.
// A caller that gives up gets its context error at once; the worker still
// completes the exchange so the process is never interrupted mid-stream.
// Only the pipeline timeout stops a call in flight.
func (p *WorkerPool) Annotate(ctx context.Context, text string) ([]Token, Trace, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	workCtx, cancel := p.workContext(ctx)
	result := make(chan taskResult, 1)

	select {
	case p.taskQueue <- task{ctx: workCtx, cancel: cancel, text: text, result: result}:
	case <-p.done:
		cancel()
		return nil, nil, ErrClosed
	case <-workCtx.Done():
		cancel()
		return nil, nil, contextError(workCtx)
	case <-ctx.Done():
		cancel()
		return nil, nil, ctx.Err()
	}

	select {
	case res := <-result:
		return finish(workCtx, res)
	case <-workCtx.Done():
		if errors.Is(workCtx.Err(), context.DeadlineExceeded) {
			return nil, nil, contextError(workCtx)
		}
		// released by the worker after it queued the result
		return finish(workCtx, <-result)
	case <-p.done:
		return nil, nil, ErrClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// workContext keeps the caller's values but not its cancellation, bounded
// by the pipeline timeout.
func (p *WorkerPool) workContext(ctx context.Context) (context.Context, context.CancelFunc) {
	workCtx := context.WithoutCancel(ctx)
	if p.cfg.TimeoutMs > 0 {
		return context.WithTimeout(workCtx, time.Duration(p.cfg.TimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(workCtx)
}

func finish(workCtx context.Context, res taskResult) ([]Token, Trace, error) {
	if res.err != nil && errors.Is(workCtx.Err(), context.DeadlineExceeded) {
		return nil, nil, contextError(workCtx)
	}
	return res.tokens, res.trace, res.err
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}

// Ready reports whether the pool accepts work. It does not touch the
// models; see HealthCheck for that.
func (p *WorkerPool) Ready() error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if !p.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// HealthCheck annotates a short text end to end. It occupies a worker like
// any request.
func (p *WorkerPool) HealthCheck(ctx context.Context) error {
	if _, _, err := p.Annotate(ctx, "health check"); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

func (p *WorkerPool) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return nil
}

func (p *WorkerPool) runWorker(w *worker) {
	defer p.wg.Done()
	defer w.close()

	for {
		select {
		case <-p.done:
			return
		case t := <-p.taskQueue:
			tokens, trace, err := w.annotate(t.ctx, t.text)
			t.result <- taskResult{tokens: tokens, trace: trace, err: err}
			t.cancel()
		}
	}
}

func (w *worker) start() error {
	p := w.pool

	proc, err := p.launch(w.id)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	c := newConn(proc)

	ctx := context.Background()
	if p.cfg.StartupTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.StartupTimeoutSeconds)*time.Second)
		defer cancel()
	}

	if err := c.handshake(ctx, p.workerCfg); err != nil {
		c.close()
		return err
	}

	p.logger.Debug(nil, "Pipeline worker %d ready (language=%s)", w.id, p.workerCfg.Language)
	w.conn = c
	return nil
}

func (w *worker) annotate(ctx context.Context, text string) ([]Token, Trace, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if w.conn == nil {
		w.pool.logger.Info(nil, "Restarting pipeline worker %d", w.id)
		if err := w.start(); err != nil {
			return nil, nil, fmt.Errorf("restart worker %d: %w", w.id, err)
		}
	}

	placeholder := Sentence{
		Text:   text,
		Tokens: []Token{{Word: text, Start: -1, End: -1, Head: -1}},
	}

	resp, err := w.call(ctx, stageRequest{Stage: stagePreprocess, Sentence: &placeholder})
	if err != nil {
		return nil, nil, err
	}
	if err := expectOne(stagePreprocess, "annotations", len(resp.Annotations)); err != nil {
		return nil, nil, err
	}

	resp, err = w.call(ctx, stageRequest{Stage: stageSegment, Input: resp.Annotations[0]})
	if err != nil {
		return nil, nil, err
	}
	if err := expectOne(stageSegment, "annotations", len(resp.Annotations)); err != nil {
		return nil, nil, err
	}

	resp, err = w.call(ctx, stageRequest{Stage: stageParse, Input: resp.Annotations[0]})
	if err != nil {
		return nil, nil, err
	}
	if err := expectOne(stageParse, "annotations", len(resp.Annotations)); err != nil {
		return nil, nil, err
	}
	if err := expectOne(stageParse, "traces", len(resp.Traces)); err != nil {
		return nil, nil, err
	}

	var parsed Sentence
	if err := json.Unmarshal(resp.Annotations[0], &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode parse annotation: %w", err)
	}

	return parsed.Tokens, Trace(resp.Traces[0]), nil
}

// call performs one stage exchange. Transport failures drop the process;
// it is relaunched on the next task.
func (w *worker) call(ctx context.Context, req stageRequest) (*stageResponse, error) {
	req.ID = newCallID()

	resp, err := w.conn.roundTrip(ctx, req)
	if err != nil {
		w.pool.logger.Error(nil, "Pipeline worker %d lost during %s: %v", w.id, req.Stage, err)
		w.conn.close()
		w.conn = nil
		return nil, err
	}

	if resp.Error != "" {
		return nil, &WorkerError{Stage: req.Stage, Message: resp.Error}
	}
	return resp, nil
}

func expectOne(stage, field string, got int) error {
	if got != 1 {
		return &ContractViolationError{Stage: stage, Field: field, Got: got}
	}
	return nil
}

func (w *worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.close()
		w.conn = nil
	}
}
