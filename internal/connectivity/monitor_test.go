package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPinger struct {
	mu  sync.Mutex
	err error
}

func (p *scriptedPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *scriptedPinger) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStart_EmitsInitialState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(&scriptedPinger{}, 10*time.Millisecond, discardLogger())
	ch := m.Start(ctx)

	select {
	case online := <-ch:
		assert.True(t, online)
	case <-time.After(time.Second):
		t.Fatal("no initial state emitted")
	}
	assert.True(t, m.Online())
}

func TestStart_EmitsOnlyTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pinger := &scriptedPinger{err: errors.New("down")}
	m := NewMonitor(pinger, 5*time.Millisecond, discardLogger())
	ch := m.Start(ctx)

	require.False(t, <-ch)

	pinger.set(nil)
	select {
	case online := <-ch:
		assert.True(t, online)
	case <-time.After(time.Second):
		t.Fatal("no transition to online")
	}
	assert.True(t, m.Online())

	pinger.set(errors.New("down again"))
	select {
	case online := <-ch:
		assert.False(t, online)
	case <-time.After(time.Second):
		t.Fatal("no transition to offline")
	}
	assert.False(t, m.Online())
}

func TestStart_ChannelClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	m := NewMonitor(&scriptedPinger{}, 5*time.Millisecond, discardLogger())
	ch := m.Start(ctx)
	<-ch

	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel did not close")
	}
}
