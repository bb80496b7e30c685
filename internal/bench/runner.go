// Package bench 在后台协程中运行长时间的设备任务（读出、曝光）
//
// 同一时刻只允许一个设备任务；被取消的任务在释放设备前会排空控制端点，
// 排空失败则重连设备。
package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/xray-bench/internal/clock"
	"github.com/taoyao-code/xray-bench/internal/metrics"
	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa"
	"github.com/taoyao-code/xray-bench/internal/protocol/faxitron"
)

var (
	ErrBusy        = errors.New("another device job is running")
	ErrJobNotFound = errors.New("job not found")
	ErrClosed      = errors.New("runner closed")
	ErrNoExposer   = errors.New("faxitron not configured")
)

// Sensor 传感器读出
type Sensor interface {
	Readout(ctx context.Context, highGain bool, onProgress dalsa.ProgressFunc) (dalsa.Frame, error)
}

// Exposer 曝光序列
type Exposer interface {
	PerformExposure(ctx context.Context, seconds float64, onProgress func(faxitron.ExposureProgress)) (faxitron.ExposureResult, error)
}

// Drainer 丢弃残留应答
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// Reconnector 重新打开设备
type Reconnector interface {
	Reconnect() error
}

// Config 运行参数
type Config struct {
	// History 保留的已结束任务数
	History int
	// RecoverTimeout 取消后排空的时限
	RecoverTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{History: 32, RecoverTimeout: 5 * time.Second}
}

// Deps 依赖；Exposer、Reconnector、Metrics 可为 nil
// 曝光任务失败后排空 CabinetDrainer，未设置时退回 Drainer
type Deps struct {
	Sensor             Sensor
	Exposer            Exposer
	Drainer            Drainer
	Reconnector        Reconnector
	CabinetDrainer     Drainer
	CabinetReconnector Reconnector
	Clock              clock.Clock
	Metrics            *metrics.AppMetrics
}

type entry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner 设备任务调度
type Runner struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	active  *entry
	closed  bool
	wg      sync.WaitGroup
	rootCtx context.Context
	stop    context.CancelFunc

	frame   dalsa.Frame
	frameID string
	frameAt time.Time

	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewRunner 创建任务调度器
func NewRunner(deps Deps, cfg Config, logger *zap.Logger) *Runner {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.History <= 0 {
		cfg.History = DefaultConfig().History
	}
	if cfg.RecoverTimeout <= 0 {
		cfg.RecoverTimeout = DefaultConfig().RecoverTimeout
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		jobs:    make(map[string]*entry),
		rootCtx: ctx,
		stop:    stop,
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
	}
}

// StartReadout 提交一次读出任务
func (r *Runner) StartReadout(highGain bool) (Job, error) {
	return r.submit(KindReadout, func(ctx context.Context, e *entry) error {
		start := r.deps.Clock.Now()
		frame, err := r.deps.Sensor.Readout(ctx, highGain, func(p dalsa.Progress) {
			r.update(e, func(j *Job) {
				j.Step = p.Phase.String()
				j.Percent = p.Percent
			})
		})
		if m := r.deps.Metrics; m != nil {
			m.ReadoutDuration.WithLabelValues(metrics.Result(err)).Observe(r.deps.Clock.Now().Sub(start).Seconds())
		}
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.frame, r.frameID, r.frameAt = frame, e.job.ID, r.deps.Clock.Now()
		e.job.Result = ReadoutResult{Bytes: len(frame)}
		r.mu.Unlock()
		return nil
	})
}

// StartExposure 提交一次曝光任务；seconds 为 0 时由设备查询曝光时间
func (r *Runner) StartExposure(seconds float64) (Job, error) {
	if r.deps.Exposer == nil {
		return Job{}, ErrNoExposer
	}
	return r.submit(KindExposure, func(ctx context.Context, e *entry) error {
		res, err := r.deps.Exposer.PerformExposure(ctx, seconds, func(p faxitron.ExposureProgress) {
			r.update(e, func(j *Job) {
				j.Step = p.Step.String()
				if p.Budget > 0 {
					j.Percent = min(100, 100*float64(p.Elapsed)/float64(p.Budget))
				}
			})
		})
		if m := r.deps.Metrics; m != nil {
			m.ExposureTotal.WithLabelValues(metrics.Result(err)).Inc()
		}
		if err != nil {
			return err
		}
		r.mu.Lock()
		e.job.Result = res
		r.mu.Unlock()
		return nil
	})
}

func (r *Runner) submit(kind Kind, run func(ctx context.Context, e *entry) error) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Job{}, ErrClosed
	}
	if r.active != nil {
		return Job{}, fmt.Errorf("%w: %s", ErrBusy, r.active.job.ID)
	}

	ctx, cancel := context.WithCancel(r.rootCtx)
	e := &entry{
		job: Job{
			ID:        uuid.NewString(),
			Kind:      kind,
			Status:    StatusRunning,
			StartedAt: r.deps.Clock.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.jobs[e.job.ID] = e
	r.order = append(r.order, e.job.ID)
	r.active = e
	r.prune()
	if m := r.deps.Metrics; m != nil {
		m.JobsRunning.Inc()
	}

	r.wg.Add(1)
	go r.execute(ctx, e, run)

	r.logger.Info("job started", zap.String("job_id", e.job.ID), zap.String("kind", string(kind)))
	return e.job, nil
}

func (r *Runner) execute(ctx context.Context, e *entry, run func(ctx context.Context, e *entry) error) {
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()

	err := run(ctx, e)
	canceled := err != nil && ctx.Err() != nil

	// 放弃的任务可能在端点上留下应答，先恢复再释放设备
	if err != nil {
		r.restore(e.job.Kind, e.job.ID)
	}

	r.mu.Lock()
	now := r.deps.Clock.Now()
	e.job.FinishedAt = &now
	switch {
	case canceled:
		e.job.Status = StatusCanceled
		e.job.Error = context.Canceled.Error()
	case err != nil:
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
	default:
		e.job.Status = StatusSucceeded
		e.job.Percent = 100
	}
	if r.active == e {
		r.active = nil
	}
	job := e.job
	r.mu.Unlock()

	if m := r.deps.Metrics; m != nil {
		m.JobsRunning.Dec()
	}
	if err != nil && !canceled {
		r.logger.Warn("job failed", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.Error(err))
		return
	}
	r.logger.Info("job finished", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
}

// recovery 按任务类型选择要排空的链路
func (r *Runner) recovery(kind Kind) (Drainer, Reconnector) {
	if kind == KindExposure && r.deps.CabinetDrainer != nil {
		return r.deps.CabinetDrainer, r.deps.CabinetReconnector
	}
	return r.deps.Drainer, r.deps.Reconnector
}

// restore 排空任务所用链路；失败则重连
func (r *Runner) restore(kind Kind, id string) {
	drainer, recon := r.recovery(kind)
	if drainer == nil {
		return
	}
	if m := r.deps.Metrics; m != nil {
		m.DeviceRecoveries.Inc()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RecoverTimeout)
	defer cancel()

	n, err := drainer.Drain(ctx)
	if err == nil {
		r.logger.Debug("drained after job", zap.String("job_id", id), zap.Int("bytes", n))
		return
	}
	r.logger.Warn("drain failed, reconnecting", zap.String("job_id", id), zap.Error(err))
	if recon == nil {
		return
	}
	if err := recon.Reconnect(); err != nil {
		r.logger.Error("reconnect failed", zap.String("job_id", id), zap.Error(err))
	}
}

func (r *Runner) update(e *entry, fn func(j *Job)) {
	r.mu.Lock()
	fn(&e.job)
	r.mu.Unlock()
}

// prune 丢弃最早的已结束任务，持锁调用
func (r *Runner) prune() {
	for len(r.order) > r.cfg.History {
		drop := -1
		for i, id := range r.order {
			if e := r.jobs[id]; e != r.active && e.job.FinishedAt != nil {
				drop = i
				break
			}
		}
		if drop < 0 {
			return
		}
		delete(r.jobs, r.order[drop])
		r.order = append(r.order[:drop], r.order[drop+1:]...)
	}
}

// Get 任务快照
func (r *Runner) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// List 按提交顺序返回任务快照
func (r *Runner) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].job)
	}
	return out
}

// Active 当前运行中的任务
func (r *Runner) Active() (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Job{}, false
	}
	return r.active.job, true
}

// Cancel 取消任务；已结束的任务直接返回
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	e.cancel()
	return nil
}

// Wait 等待任务结束
func (r *Runner) Wait(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	j, _ := r.Get(id)
	return j, nil
}

// LatestFrame 最近一次成功读出的帧
func (r *Runner) LatestFrame() (dalsa.Frame, string, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frame == nil {
		return nil, "", time.Time{}, false
	}
	return r.frame, r.frameID, r.frameAt, true
}

// Close 取消所有任务并等待退出
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
}
