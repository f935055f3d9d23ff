package rbac

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Batching defaults. The debounce window re-arms on every arrival; the max
// wait bounds the worst-case defer under a sustained stream of checks.
const (
	defaultBatchWindow  = 50 * time.Millisecond
	defaultBatchMaxWait = 200 * time.Millisecond
	defaultBatchMaxSize = 64
)

// BatchMetrics observes batch flushes.
type BatchMetrics interface {
	ObserveBatchFlush(size int)
}

// BatchConfig tunes the cross-user batching collector.
type BatchConfig struct {
	Disabled bool
	Window   time.Duration
	MaxWait  time.Duration
	MaxSize  int
	Metrics  BatchMetrics
}

var errBatcherClosed = errors.New("rbac: batcher closed")

type batchAnswer struct {
	granted bool
	err     error
}

type batchRequest struct {
	userID int64
	code   string
	reply  chan batchAnswer
}

// batcher coalesces permission checks for different users arriving within a
// short window into one pair of queries (user roles, role grant sets) and
// fans the boolean answers back out to the waiting callers.
type batcher struct {
	repo     ReadPort
	logger   *slog.Logger
	metrics  BatchMetrics
	requests chan batchRequest
	done     chan struct{}
	window   time.Duration
	maxWait  time.Duration
	maxSize  int
}

func newBatcher(repo ReadPort, logger *slog.Logger, cfg BatchConfig) *batcher {
	if cfg.Window <= 0 {
		cfg.Window = defaultBatchWindow
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultBatchMaxWait
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultBatchMaxSize
	}
	b := &batcher{
		repo:     repo,
		logger:   logger,
		metrics:  cfg.Metrics,
		requests: make(chan batchRequest),
		done:     make(chan struct{}),
		window:   cfg.Window,
		maxWait:  cfg.MaxWait,
		maxSize:  cfg.MaxSize,
	}
	go b.run()
	return b
}

func (b *batcher) close() {
	close(b.done)
}

// check enqueues one permission lookup and blocks until the batch resolves
// or the context is cancelled.
func (b *batcher) check(ctx context.Context, userID int64, code string) (bool, error) {
	req := batchRequest{userID: userID, code: code, reply: make(chan batchAnswer, 1)}
	select {
	case b.requests <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-b.done:
		return false, errBatcherClosed
	}
	select {
	case answer := <-req.reply:
		return answer.granted, answer.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (b *batcher) run() {
	var pending []batchRequest
	var debounce <-chan time.Time
	var deadline <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.flush(pending)
		pending = nil
		debounce = nil
		deadline = nil
	}

	for {
		select {
		case req := <-b.requests:
			if len(pending) == 0 {
				deadline = time.After(b.maxWait)
			}
			pending = append(pending, req)
			debounce = time.After(b.window)
			if len(pending) >= b.maxSize {
				flush()
			}
		case <-debounce:
			flush()
		case <-deadline:
			flush()
		case <-b.done:
			flush()
			return
		}
	}
}

func (b *batcher) flush(pending []batchRequest) {
	if b.metrics != nil {
		b.metrics.ObserveBatchFlush(len(pending))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userIDs := make([]int64, 0, len(pending))
	seen := make(map[int64]struct{}, len(pending))
	for _, req := range pending {
		if _, ok := seen[req.userID]; ok {
			continue
		}
		seen[req.userID] = struct{}{}
		userIDs = append(userIDs, req.userID)
	}

	roles, err := b.repo.UserRoleIDs(ctx, userIDs)
	if err != nil {
		b.fail(pending, err)
		return
	}

	roleIDs := make([]int64, 0, len(roles))
	roleSeen := make(map[int64]struct{}, len(roles))
	for _, roleID := range roles {
		if _, ok := roleSeen[roleID]; ok {
			continue
		}
		roleSeen[roleID] = struct{}{}
		roleIDs = append(roleIDs, roleID)
	}

	sets, err := b.repo.GrantedPermissionSets(ctx, roleIDs)
	if err != nil {
		b.fail(pending, err)
		return
	}

	granted := make(map[int64]map[string]struct{}, len(sets))
	for roleID, codes := range sets {
		set := make(map[string]struct{}, len(codes))
		for _, code := range codes {
			set[code] = struct{}{}
		}
		granted[roleID] = set
	}

	for _, req := range pending {
		roleID, ok := roles[req.userID]
		if !ok {
			req.reply <- batchAnswer{err: ErrNotFound}
			continue
		}
		_, has := granted[roleID][req.code]
		req.reply <- batchAnswer{granted: has}
	}
}

func (b *batcher) fail(pending []batchRequest, err error) {
	if b.logger != nil {
		b.logger.Error("flush permission batch", slog.Int("size", len(pending)), slog.Any("error", err))
	}
	for _, req := range pending {
		req.reply <- batchAnswer{err: err}
	}
}
