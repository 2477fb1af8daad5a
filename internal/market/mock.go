package market

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// MockSource generates a random-walk trade stream for local development.
type MockSource struct {
	StartPrice float64
	Step       float64
	Interval   time.Duration

	mu    sync.Mutex
	price float64
}

func (m *MockSource) Connect(ctx context.Context, symbol string) (TickStream, error) {
	m.mu.Lock()
	if m.price == 0 {
		m.price = m.StartPrice
		if m.price == 0 {
			m.price = 100.0
		}
	}
	m.mu.Unlock()
	interval := m.Interval
	if interval == 0 {
		interval = time.Second
	}
	return &mockStream{src: m, symbol: symbol, ticker: time.NewTicker(interval), done: make(chan struct{})}, nil
}

func (m *MockSource) next() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step := m.Step
	if step == 0 {
		step = 0.5
	}
	// simple random walk
	m.price += (rand.Float64()*2 - 1) * step
	if m.price <= 0 {
		m.price = step
	}
	return m.price, rand.Float64()
}

type mockStream struct {
	src    *MockSource
	symbol string
	ticker *time.Ticker
	once   sync.Once
	done   chan struct{}
}

func (s *mockStream) Recv(timeout time.Duration) (Tick, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-s.done:
		return Tick{}, ErrStreamClosed
	case <-timer:
		return Tick{}, errors.New("mock stream: read timeout")
	case now := <-s.ticker.C:
		price, qty := s.src.next()
		return Tick{Symbol: s.symbol, Price: price, Qty: qty, Time: now.UTC()}, nil
	}
}

func (s *mockStream) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
