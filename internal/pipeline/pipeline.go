// Package pipeline coordinates the lifecycle of a family of versioned copies.
//
// Every copy registered with a Pipeline is eventually hashed and then either
// flushed to durable storage or merged into its younger neighbour. A single
// background goroutine per pipeline performs that work, so copies are always
// resolved in a well defined order.
package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type action int

const (
	actionStop action = iota
	actionWait
	actionFlush
	actionMerge
)

// String returns the string representation of the action.
func (a action) String() string {
	switch a {
	case actionStop:
		return "stop"
	case actionWait:
		return "wait"
	case actionFlush:
		return "flush"
	case actionMerge:
		return "merge"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// job is work submitted through PausePipelineAndRun.
type job struct {
	label  string
	fn     func() error
	result chan error
}

type registration struct {
	node      *ListNode[Root]
	destroyed bool
}

// Pipeline resolves the copies of a single family on a background goroutine.
type Pipeline struct {
	cfg    Config
	label  string
	logger *zap.Logger

	copies List[Root]

	regMu      sync.Mutex
	registered map[Root]*registration
	live       atomic.Int64
	closing    atomic.Bool

	// hashMu serializes ComputeHash across the worker and HashCopy callers.
	hashMu sync.Mutex

	jobMu   sync.Mutex
	jobs    []*job
	stopped bool

	wake         chan struct{}
	terminating  atomic.Bool
	done         chan struct{}
	shutdownOnce sync.Once

	errMu sync.Mutex
	err   error

	stats struct {
		hashes    atomic.Uint64
		flushes   atomic.Uint64
		merges    atomic.Uint64
		lastPause atomic.Int64
	}

	metrics *metrics
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// Option configures a Pipeline.
type Option func(*options)

// WithLogger sets the logger used by the pipeline.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer exposes the pipeline statistics as prometheus collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// New creates a pipeline and starts its worker goroutine.
func New(cfg Config, label string, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pipeline{
		cfg:        cfg,
		label:      label,
		logger:     o.logger.With(zap.String("pipeline", label)),
		registered: make(map[Root]*registration),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	if o.registerer != nil {
		m, err := newMetrics(o.registerer, p)
		if err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
		p.metrics = m
	}

	go p.run()

	return p, nil
}

// Label returns the label the pipeline was created with.
func (p *Pipeline) Label() string {
	return p.label
}

// Config returns the pipeline thresholds.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// RegisterCopy appends a new mutable copy to the end of the family chain.
// The previous newest copy must already be immutable.
func (p *Pipeline) RegisterCopy(root Root) error {
	if root == nil {
		return p.stateError("register", nil, ErrNilCopy)
	}
	if root.IsImmutable() {
		return p.stateError("register", root, fmt.Errorf("%w: copy is immutable", ErrInvalidState))
	}
	if p.terminating.Load() || p.closing.Load() {
		return p.stateError("register", root, ErrTerminated)
	}

	p.regMu.Lock()
	if _, ok := p.registered[root]; ok {
		p.regMu.Unlock()
		return p.stateError("register", root, fmt.Errorf("%w: copy is already registered", ErrInvalidState))
	}
	if last := p.copies.Last(); last != nil && !last.Value().IsImmutable() {
		p.regMu.Unlock()
		return p.stateError("register", root, fmt.Errorf("%w: newest copy %s is still mutable", ErrInvalidState, describe(last.Value())))
	}
	node := p.copies.Add(root)
	p.registered[root] = &registration{node: node}
	p.regMu.Unlock()

	p.live.Add(1)
	p.signal()
	return nil
}

// DestroyCopy records that the owner released root. When the last live copy
// is destroyed the pipeline performs a final pass and shuts down.
func (p *Pipeline) DestroyCopy(root Root) error {
	if root == nil {
		return p.stateError("destroy", nil, ErrNilCopy)
	}

	p.regMu.Lock()
	reg, ok := p.registered[root]
	if !ok {
		p.regMu.Unlock()
		return p.stateError("destroy", root, ErrNotRegistered)
	}
	if reg.destroyed {
		p.regMu.Unlock()
		return p.stateError("destroy", root, fmt.Errorf("%w: copy is already destroyed", ErrInvalidState))
	}
	reg.destroyed = true
	if reg.node.Removed() {
		delete(p.registered, root)
	}
	p.regMu.Unlock()

	if p.live.Add(-1) == 0 {
		p.closing.Store(true)
	}
	p.signal()
	return nil
}

// DetachCopy hashes root and detaches it while the pipeline is paused. A
// detached copy no longer blocks younger copies.
func (p *Pipeline) DetachCopy(root Root) error {
	node, err := p.lookupImmutable("detach", root)
	if err != nil {
		return err
	}
	if err := p.hashUpTo(node); err != nil {
		return p.stateError("detach", root, err)
	}

	err = p.PausePipelineAndRun("detach", root.Detach)
	p.signal()
	if err != nil {
		return p.stateError("detach", root, err)
	}
	return nil
}

// Snapshot hashes root and writes its state to path while the pipeline is
// paused.
func (p *Pipeline) Snapshot(root Root, path string) error {
	node, err := p.lookupImmutable("snapshot", root)
	if err != nil {
		return err
	}
	if err := p.hashUpTo(node); err != nil {
		return p.stateError("snapshot", root, err)
	}

	err = p.PausePipelineAndRun("snapshot", func() error {
		return root.Snapshot(path)
	})
	p.signal()
	if err != nil {
		return p.stateError("snapshot", root, err)
	}
	return nil
}

// HashCopy hashes root together with every older copy that is not hashed yet.
func (p *Pipeline) HashCopy(root Root) error {
	node, err := p.lookupImmutable("hash", root)
	if err != nil {
		return err
	}
	if err := p.hashUpTo(node); err != nil {
		return p.stateError("hash", root, err)
	}
	return nil
}

// PausePipelineAndRun runs fn on the worker goroutine between two units of
// work. Once the worker has stopped, fn runs on the calling goroutine.
func (p *Pipeline) PausePipelineAndRun(label string, fn func() error) error {
	j := &job{label: label, fn: fn, result: make(chan error, 1)}

	p.jobMu.Lock()
	if p.stopped {
		p.jobMu.Unlock()
		return p.runJob(j)
	}
	p.jobs = append(p.jobs, j)
	p.jobMu.Unlock()

	p.signal()
	return <-j.result
}

// PausePipelineAndExecute is PausePipelineAndRun for functions that return a value.
func PausePipelineAndExecute[T any](p *Pipeline, label string, fn func() (T, error)) (T, error) {
	var out T
	err := p.PausePipelineAndRun(label, func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}

// Terminate stops the pipeline once the current unit of work completes.
// Unresolved copies are left as they are. Terminate blocks until the worker
// exits and must not be called from a Root callback.
func (p *Pipeline) Terminate() {
	p.terminating.Store(true)
	p.signal()
	<-p.done
}

// AwaitTermination waits up to timeout for the worker to exit.
func (p *Pipeline) AwaitTermination(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel that is closed when the worker exits.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// IsAlive reports whether the worker goroutine is still running.
func (p *Pipeline) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// IsTerminated reports whether the pipeline stopped accepting work.
func (p *Pipeline) IsTerminated() bool {
	return p.terminating.Load()
}

// TerminatedByError returns the error that stopped the pipeline, if any.
func (p *Pipeline) TerminatedByError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) lookupImmutable(op string, root Root) (*ListNode[Root], error) {
	if root == nil {
		return nil, p.stateError(op, nil, ErrNilCopy)
	}

	p.regMu.Lock()
	reg, ok := p.registered[root]
	p.regMu.Unlock()
	if !ok {
		return nil, p.stateError(op, root, ErrNotRegistered)
	}
	if !root.IsImmutable() {
		return nil, p.stateError(op, root, fmt.Errorf("%w: copy is mutable", ErrInvalidState))
	}
	return reg.node, nil
}

func (p *Pipeline) run() {
	defer p.exit()
	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Errorf("worker panic: %v", r))
		}
	}()

	for range p.wake {
		p.drainJobs()
		if p.terminating.Load() {
			p.shutdown(p.failed())
			return
		}

		closing := p.closing.Load()
		if err := p.resolve(); err != nil {
			p.fail(err)
			return
		}

		if p.terminating.Load() || closing {
			p.shutdown(p.failed())
			return
		}
	}
}

// resolve walks the chain until a full pass makes no progress.
func (p *Pipeline) resolve() error {
	for {
		progress := false
		for n := p.copies.First(); n != nil; n = n.Next() {
			if p.terminating.Load() {
				return nil
			}
			p.drainJobs()
			if n.Removed() {
				continue
			}

			act := p.decide(n)
			if act == actionStop {
				break
			}
			if act == actionWait {
				continue
			}

			var err error
			if act == actionFlush {
				err = p.flush(n)
			} else {
				err = p.merge(n)
			}
			if err != nil {
				return err
			}
			progress = true
		}
		if !progress {
			return nil
		}
	}
}

// decide classifies a single node. Flushes only happen at the head of the
// chain; merges may happen anywhere as long as the successor is immutable.
func (p *Pipeline) decide(n *ListNode[Root]) action {
	c := n.Value()
	if !c.IsImmutable() {
		return actionStop
	}
	if !c.IsDestroyed() && !c.IsDetached() {
		return actionWait
	}
	if p.shouldFlush(c) {
		if n.Prev() != nil {
			return actionWait
		}
		return actionFlush
	}
	next := n.Next()
	if next == nil || !next.Value().IsImmutable() {
		return actionWait
	}
	return actionMerge
}

func (p *Pipeline) shouldFlush(c Root) bool {
	if c.ShouldBeFlushed() {
		return true
	}
	return p.cfg.CopyFlushThreshold > 0 && c.EstimatedSize() >= p.cfg.CopyFlushThreshold
}

func (p *Pipeline) flush(n *ListNode[Root]) error {
	c := n.Value()
	if err := p.hashUpTo(n); err != nil {
		return p.stateError("hash", c, err)
	}

	start := time.Now()
	if err := safely(c.Flush); err != nil {
		return p.stateError("flush", c, err)
	}
	p.stats.flushes.Add(1)
	p.release(n)

	p.logger.Debug("flushed copy",
		zap.String("copy", describe(c)),
		zap.Int64("size", c.EstimatedSize()),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (p *Pipeline) merge(n *ListNode[Root]) error {
	c := n.Value()
	next := n.Next()
	if err := p.hashUpTo(next); err != nil {
		return p.stateError("hash", next.Value(), err)
	}

	start := time.Now()
	if err := safely(c.Merge); err != nil {
		return p.stateError("merge", c, err)
	}
	successor := next.Value()
	successor.SetEstimatedSize(successor.EstimatedSize() + c.EstimatedSize())
	p.stats.merges.Add(1)
	p.release(n)

	p.logger.Debug("merged copy",
		zap.String("copy", describe(c)),
		zap.String("into", describe(successor)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// hashUpTo hashes every unhashed copy from the head of the chain up to and
// including target. A ComputeHash failure is fatal to the pipeline, no matter
// which goroutine hit it.
func (p *Pipeline) hashUpTo(target *ListNode[Root]) error {
	p.hashMu.Lock()
	defer p.hashMu.Unlock()

	if err := p.TerminatedByError(); err != nil {
		return fmt.Errorf("%w: %v", ErrTerminated, err)
	}
	if target.Removed() {
		return nil
	}

	for n := p.copies.First(); n != nil; n = n.Next() {
		if n.Removed() {
			continue
		}
		c := n.Value()
		if !c.IsHashed() {
			if !c.IsImmutable() {
				return fmt.Errorf("%w: cannot hash mutable copy %s", ErrInvalidState, describe(c))
			}
			if err := safely(c.ComputeHash); err != nil {
				p.recordError(p.stateError("hash", c, err))
				return err
			}
			p.stats.hashes.Add(1)
		}
		if n == target {
			return nil
		}
	}
	return nil
}

// release removes a resolved node from the chain.
func (p *Pipeline) release(n *ListNode[Root]) {
	p.copies.Remove(n)

	p.regMu.Lock()
	if reg, ok := p.registered[n.Value()]; ok && reg.destroyed {
		delete(p.registered, n.Value())
	}
	p.regMu.Unlock()
}

func (p *Pipeline) drainJobs() {
	p.jobMu.Lock()
	jobs := p.jobs
	p.jobs = nil
	p.jobMu.Unlock()

	for _, j := range jobs {
		j.result <- p.runJob(j)
	}
}

func (p *Pipeline) runJob(j *job) error {
	err := safely(j.fn)
	if err != nil {
		p.logger.Debug("paused job failed", zap.String("job", j.label), zap.Error(err))
	}
	return err
}

func (p *Pipeline) fail(err error) {
	p.recordError(err)
	p.shutdown(true)
}

// recordError keeps the first resolution error and stops the pipeline. The
// worker runs the shutdown once it wakes.
func (p *Pipeline) recordError(err error) {
	p.errMu.Lock()
	first := p.err == nil
	if first {
		p.err = err
	}
	p.errMu.Unlock()

	if first {
		p.logger.Error("pipeline terminated by error", zap.Error(err))
	}
	p.terminating.Store(true)
	p.signal()
}

func (p *Pipeline) failed() bool {
	return p.TerminatedByError() != nil
}

// shutdown notifies every copy still in the chain, oldest first.
func (p *Pipeline) shutdown(immediate bool) {
	p.shutdownOnce.Do(func() {
		p.terminating.Store(true)

		for _, c := range p.copies.Values() {
			err := safely(func() error {
				c.OnShutdown(immediate)
				return nil
			})
			if err != nil {
				p.logger.Error("shutdown handler failed", zap.String("copy", describe(c)), zap.Error(err))
			}
		}

		p.logger.Info("pipeline shut down",
			zap.Bool("immediate", immediate),
			zap.Int("copies", p.copies.Size()),
			zap.Uint64("flushes", p.stats.flushes.Load()),
			zap.Uint64("merges", p.stats.merges.Load()))
	})
}

func (p *Pipeline) exit() {
	p.jobMu.Lock()
	p.stopped = true
	jobs := p.jobs
	p.jobs = nil
	p.jobMu.Unlock()

	for _, j := range jobs {
		j.result <- p.runJob(j)
	}

	if p.metrics != nil {
		p.metrics.unregister()
	}
	close(p.done)
}

// safely runs fn and converts a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
