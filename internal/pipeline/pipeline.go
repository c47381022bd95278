// Package pipeline 实现客户端的消息投递管道：触发后端、轮询出队端点，并按顺序渲染收到的消息。
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"factcheck-relay/internal/model"
	"factcheck-relay/pkg/log"
	"factcheck-relay/pkg/relayclient"
)

var (
	// ErrBusy 表示当前会话尚未结束，不能提交新问题。
	ErrBusy            = errors.New("a question is already being answered")
	// ErrEmptyQuestion 表示问题去掉空白后为空。
	ErrEmptyQuestion   = errors.New("question is empty")
	// ErrNothingToResume 表示没有可恢复的（未过期的）本地队列。
	ErrNothingToResume = errors.New("no session to resume")
	// ErrStopped 表示 Run 已经退出。
	ErrStopped         = errors.New("pipeline is not running")
)

const (
	completionText = "Analysis complete. Do you have any other questions?"
	apologyText    = "Sorry, something went wrong while sending your question to the backend. Please try again."
)

// State 是当前会话所处的阶段。
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateRendering
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRendering:
		return "rendering"
	default:
		return "idle"
	}
}

// Relay 是管道对中转服务与后端的依赖，relayclient.Client 满足该接口。
type Relay interface {
	Poll(ctx context.Context, sessionID string) (*relayclient.PollResult, error)
	Trigger(ctx context.Context, query, sessionID string) error
}

// Options 是管道的时间参数，零值字段使用默认值。
type Options struct {
	PollInterval  time.Duration
	TypingDelay   time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.TypingDelay < 0 {
		o.TypingDelay = 0
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
	return o
}

// Option 用于定制 Pipeline，主要供测试替换时钟与会话 ID。
type Option func(*Pipeline)

// WithClock 替换 time.Now。
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSessionIDs 替换会话 ID 生成函数。
func WithSessionIDs(gen func(time.Time) string) Option {
	return func(p *Pipeline) { p.newSessionID = gen }
}

type pollOutcome struct {
	sessionID string
	result    *relayclient.PollResult
	err       error
}

type triggerOutcome struct {
	sessionID string
	err       error
}

// Pipeline 同一时间只处理一个会话。视图、队列和会话状态只在执行 Run 的 goroutine 中访问，
// 这个循环就是顺序任务队列。
type Pipeline struct {
	relay        Relay
	store        QueueStore
	view         View
	opts         Options
	now          func() time.Time
	newSessionID func(time.Time) string

	commands chan func(context.Context)
	polls    chan pollOutcome
	triggers chan triggerOutcome
	done     chan struct{}

	mu    sync.RWMutex
	state State

	// 以下字段只由 Run 循环访问
	sessionID string
	queue     []QueuedMessage
	startedAt time.Time
	polling   bool
	loading   bool
}

// NewPipeline 创建管道，需要再调用 Run 启动循环。
func NewPipeline(relay Relay, store QueueStore, view View, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		relay:        relay,
		store:        store,
		view:         view,
		opts:         opts.withDefaults(),
		now:          time.Now,
		newSessionID: NewSessionID,
		commands:     make(chan func(context.Context)),
		polls:        make(chan pollOutcome, 1),
		triggers:     make(chan triggerOutcome, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// State 返回当前阶段，可在任意 goroutine 中调用。
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run 处理轮询节拍、轮询结果与命令，直到 ctx 结束。
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.done)

	pollTicker := time.NewTicker(p.opts.PollInterval)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(p.opts.SweepInterval)
	defer sweepTicker.Stop()

	p.view.SetInputEnabled(true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-p.commands:
			cmd(ctx)
		case <-pollTicker.C:
			p.tick(ctx)
		case out := <-p.polls:
			p.handlePoll(ctx, out)
		case out := <-p.triggers:
			p.handleTrigger(ctx, out)
		case <-sweepTicker.C:
			p.sweep(ctx)
		}
	}
}

// Submit 为问题开启新会话并返回会话 ID，只能在 Idle 阶段调用。
func (p *Pipeline) Submit(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if p.State() != StateIdle {
		return "", ErrBusy
	}
	return p.dispatch(ctx, func(loopCtx context.Context) (string, func(), error) {
		return p.startSession(loopCtx, question)
	})
}

// Resume 让已有会话重新进入 Waiting；sessionID 为空时恢复最近写入的本地队列。
func (p *Pipeline) Resume(ctx context.Context, sessionID string) (string, error) {
	if p.State() != StateIdle {
		return "", ErrBusy
	}
	return p.dispatch(ctx, func(loopCtx context.Context) (string, func(), error) {
		return p.resumeSession(loopCtx, sessionID)
	})
}

type commandResult struct {
	sessionID string
	err       error
}

// dispatch 在循环中执行 fn，先回复调用方，再在循环中执行 fn 返回的后续任务。
func (p *Pipeline) dispatch(ctx context.Context, fn func(context.Context) (string, func(), error)) (string, error) {
	reply := make(chan commandResult, 1)
	cmd := func(loopCtx context.Context) {
		id, next, err := fn(loopCtx)
		reply <- commandResult{sessionID: id, err: err}
		if next != nil {
			next()
		}
	}

	select {
	case p.commands <- cmd:
	case <-p.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	res := <-reply
	return res.sessionID, res.err
}

func (p *Pipeline) startSession(ctx context.Context, question string) (string, func(), error) {
	if p.State() != StateIdle {
		return "", nil, ErrBusy
	}

	p.view.UserMessage(question)
	sessionID := p.newSessionID(p.now())
	p.sessionID = sessionID
	p.startedAt = p.now()
	p.queue = nil
	p.setState(StateWaiting)
	p.view.SetInputEnabled(false)
	p.updateLoading()

	if err := p.store.Remove(ctx, sessionID); err != nil {
		log.Warnw("清理本地队列失败", "sessionId", sessionID, "error", err)
	}
	p.sweep(ctx)

	log.Infow("已提交问题", "sessionId", sessionID)
	go func() {
		err := p.relay.Trigger(ctx, question, sessionID)
		select {
		case p.triggers <- triggerOutcome{sessionID: sessionID, err: err}:
		case <-ctx.Done():
		}
	}()
	return sessionID, nil, nil
}

func (p *Pipeline) resumeSession(ctx context.Context, sessionID string) (string, func(), error) {
	if p.State() != StateIdle {
		return "", nil, ErrBusy
	}

	if sessionID == "" {
		latest, pq, err := p.store.Latest(ctx)
		if err != nil {
			return "", nil, err
		}
		if latest == "" || p.isStale(pq) {
			return "", nil, ErrNothingToResume
		}
		sessionID = latest
	}

	p.sessionID = sessionID
	p.startedAt = p.now()
	p.queue = nil
	p.setState(StateWaiting)
	p.view.SetInputEnabled(false)
	p.updateLoading()
	log.Infow("恢复会话", "sessionId", sessionID)

	return sessionID, func() { p.render(ctx) }, nil
}

func (p *Pipeline) tick(ctx context.Context) {
	if p.State() != StateWaiting || p.sessionID == "" || p.polling {
		return
	}
	p.polling = true
	sessionID := p.sessionID
	go func() {
		res, err := p.relay.Poll(ctx, sessionID)
		select {
		case p.polls <- pollOutcome{sessionID: sessionID, result: res, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (p *Pipeline) handlePoll(ctx context.Context, out pollOutcome) {
	p.polling = false
	if out.err != nil {
		log.Warnw("轮询消息失败", "sessionId", out.sessionID, "error", out.err)
		return
	}
	if out.sessionID != p.sessionID || p.State() != StateWaiting {
		log.Debugw("忽略过期会话的轮询结果", "sessionId", out.sessionID)
		return
	}
	if out.result == nil || !out.result.HasMessage {
		return
	}

	msg := out.result.Message
	if msg == nil || !msg.Complete() {
		log.Warnw("收到的消息字段不完整, 已丢弃", "sessionId", out.sessionID)
		return
	}

	complete := out.result.IsComplete != nil && *out.result.IsComplete
	p.queue = append(p.queue, QueuedMessage{MessagePayload: *msg, IsComplete: complete})
	p.persist(ctx)
	p.render(ctx)
}

func (p *Pipeline) handleTrigger(ctx context.Context, out triggerOutcome) {
	if out.err == nil {
		log.Debugw("后端已接受问题", "sessionId", out.sessionID)
		return
	}
	if out.sessionID != p.sessionID || p.State() == StateIdle {
		log.Warnw("过期会话的触发请求失败", "sessionId", out.sessionID, "error", out.err)
		return
	}

	log.Errorw("触发后端失败", "sessionId", out.sessionID, "error", out.err)
	p.view.BotMessage(apologyText)
	p.reset(ctx)
}

// render 依次渲染队列。ctx 取消时提前返回，此时本地持久化的队列仍包含正在渲染的那条。
func (p *Pipeline) render(ctx context.Context) {
	if len(p.queue) == 0 {
		p.reload(ctx)
	}

	for len(p.queue) > 0 {
		if ctx.Err() != nil {
			return
		}
		entry := p.queue[0]
		p.queue = p.queue[1:]
		p.setState(StateRendering)
		p.updateLoading()

		if entry.IsEnd() {
			elapsed := p.now().Sub(p.startedAt)
			if err := p.animate(ctx, entry.MessagePayload); err != nil {
				return
			}
			if err := p.summarize(ctx, elapsed); err != nil {
				return
			}
			log.Infow("会话完成", "sessionId", p.sessionID, "elapsed", elapsed.String())
			p.reset(ctx)
			return
		}

		if err := p.animate(ctx, entry.MessagePayload); err != nil {
			return
		}
		p.persist(ctx)
	}

	p.setState(StateWaiting)
	p.updateLoading()
}

// reload 恢复当前会话未过期的本地队列，过期的直接删除。
func (p *Pipeline) reload(ctx context.Context) {
	pq, err := p.store.Load(ctx, p.sessionID)
	if err != nil {
		log.Warnw("读取本地队列失败", "sessionId", p.sessionID, "error", err)
		return
	}
	if pq == nil {
		return
	}
	if p.isStale(pq) {
		log.Infow("本地队列已过期, 删除", "sessionId", p.sessionID)
		if err := p.store.Remove(ctx, p.sessionID); err != nil {
			log.Warnw("删除过期队列失败", "sessionId", p.sessionID, "error", err)
		}
		return
	}
	p.queue = pq.Queue
}

func (p *Pipeline) isStale(pq *PersistedQueue) bool {
	return p.now().Sub(pq.WrittenAt()) >= p.opts.StaleAfter
}

func (p *Pipeline) persist(ctx context.Context) {
	if err := p.store.Save(ctx, p.sessionID, p.queue, p.now()); err != nil {
		log.Warnw("保存本地队列失败", "sessionId", p.sessionID, "error", err)
	}
}

// reset 结束当前会话并重新开放输入。
func (p *Pipeline) reset(ctx context.Context) {
	if p.sessionID != "" {
		if err := p.store.Remove(ctx, p.sessionID); err != nil {
			log.Warnw("清理本地队列失败", "sessionId", p.sessionID, "error", err)
		}
	}
	p.sweep(ctx)
	p.queue = nil
	p.sessionID = ""
	p.setState(StateIdle)
	p.updateLoading()
	p.view.SetInputEnabled(true)
}

func (p *Pipeline) sweep(ctx context.Context) {
	removed, err := p.store.Sweep(ctx, p.now().Add(-p.opts.StaleAfter))
	if err != nil {
		log.Warnw("清理过期队列失败", "error", err)
		return
	}
	if removed > 0 {
		log.Infow("已清理过期队列", "removed", removed)
	}
}

func (p *Pipeline) updateLoading() {
	loading := p.State() == StateWaiting
	if loading != p.loading {
		p.loading = loading
		p.view.SetLoading(loading)
	}
}

func (p *Pipeline) animate(ctx context.Context, msg model.MessagePayload) error {
	p.view.OpenBubble()
	defer p.view.CloseBubble()
	if err := p.typeText(ctx, PartHeader, msg.Header); err != nil {
		return err
	}
	return p.typeText(ctx, PartContent, msg.Content)
}

func (p *Pipeline) summarize(ctx context.Context, elapsed time.Duration) error {
	p.view.OpenBubble()
	defer p.view.CloseBubble()
	if err := p.typeText(ctx, PartSummary, completionText); err != nil {
		return err
	}
	p.view.Elapsed(elapsed)
	return nil
}

func (p *Pipeline) typeText(ctx context.Context, part Part, text string) error {
	var ticker *time.Ticker
	if p.opts.TypingDelay > 0 {
		ticker = time.NewTicker(p.opts.TypingDelay)
		defer ticker.Stop()
	}
	for _, r := range text {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		p.view.TypeRune(part, r)
	}
	p.view.EndPart(part)
	return nil
}
