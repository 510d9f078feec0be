package engine

import (
	"context"
	"time"
)

// HeadlessStrategy renders the target in a pooled browser page. It is
// the most expensive strategy and the only one that runs page scripts.
type HeadlessStrategy struct {
	pool         *BrowserPool
	readyTimeout time.Duration
	settleTime   time.Duration
}

// NewHeadlessStrategy creates a HeadlessStrategy on pool.
func NewHeadlessStrategy(pool *BrowserPool, readyTimeout, settleTime time.Duration) *HeadlessStrategy {
	if readyTimeout <= 0 {
		readyTimeout = 10 * time.Second
	}
	return &HeadlessStrategy{
		pool:         pool,
		readyTimeout: readyTimeout,
		settleTime:   settleTime,
	}
}

func (s *HeadlessStrategy) Name() string       { return string(KindHeadless) }
func (s *HeadlessStrategy) Kind() StrategyKind { return KindHeadless }

func (s *HeadlessStrategy) Fetch(ctx context.Context, req *FetchRequest) (*Response, error) {
	load := &PageLoad{
		URL:           req.URL,
		Headers:       req.Headers,
		ReadySelector: req.ReadySelector,
		ReadyTimeout:  s.readyTimeout,
		SettleTime:    s.settleTime,
	}

	var resp *Response
	err := s.pool.WithPage(ctx, func(p Page) error {
		var err error
		resp, err = p.Load(ctx, load)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
