package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockPinger is a test implementation of Pinger.
type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

// mockFlowStats is a test implementation of FlowStats.
type mockFlowStats struct {
	stats *service.Stats
	err   error
}

func (m *mockFlowStats) Stats(ctx context.Context) (*service.Stats, error) {
	return m.stats, m.err
}

type mockQueue int

func (m mockQueue) Pending() int { return int(m) }

type mockScratch int64

func (m mockScratch) FreeSpace() int64 { return int64(m) }

// mockCompleter is a test implementation of OAuthCompleter.
type mockCompleter struct {
	mu     sync.Mutex
	userID domain.UserID
	err    error
	calls  [][2]string
}

func (m *mockCompleter) CompleteOAuth(ctx context.Context, state, code string) (domain.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, [2]string{state, code})
	if m.err != nil {
		return 0, m.err
	}
	return m.userID, nil
}

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
