// Package intervention runs the delayed AI moderator. A task waits, reads
// recent room history, asks a Summarizer for a nudge and hands the text
// back to the room through a Deliverer. Tasks are coalesced per room.
package intervention

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/metrics"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// Summarizer turns recent messages into a short moderator message.
type Summarizer interface {
	Analyze(ctx context.Context, msgs []domain.Message) (string, error)
}

// History reads recent persisted messages, oldest first.
type History interface {
	ListRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
}

// Deliverer posts a system message into a room.
type Deliverer interface {
	DeliverSystem(ctx context.Context, roomID, text string) error
}

type Config struct {
	Delay        time.Duration
	HistoryLimit int
	Timeout      time.Duration
}

type Scheduler struct {
	cfg        Config
	history    History
	summarizer Summarizer
	deliverer  Deliverer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewScheduler(cfg Config, history History, summarizer Summarizer, deliverer Deliverer) *Scheduler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 12
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		history:    history,
		summarizer: summarizer,
		deliverer:  deliverer,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]struct{}),
	}
}

// Schedule queues an intervention for roomID after the configured delay.
// It reports false when a task for the room is already pending.
func (s *Scheduler) Schedule(roomID string) bool {
	return s.start(roomID, s.cfg.Delay)
}

// RequestNow queues an intervention with no delay.
func (s *Scheduler) RequestNow(roomID string) bool {
	return s.start(roomID, 0)
}

// Pending reports whether a task for roomID is waiting or running.
func (s *Scheduler) Pending(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[roomID]
	return ok
}

// Stop cancels every pending task and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) start(roomID string, delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, ok := s.pending[roomID]; ok {
		metrics.Interventions.WithLabelValues(metrics.OutcomeCoalesced).Inc()
		return false
	}
	s.pending[roomID] = struct{}{}
	s.wg.Add(1)
	metrics.Interventions.WithLabelValues(metrics.OutcomeScheduled).Inc()

	go s.run(roomID, delay)
	return true
}

func (s *Scheduler) run(roomID string, delay time.Duration) {
	logger := log.ForRoom(log.L(), roomID)

	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.pending, roomID)
		s.mu.Unlock()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.Interventions.WithLabelValues(metrics.OutcomeFailed).Inc()
			logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("intervention task panicked")
		}
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			metrics.Interventions.WithLabelValues(metrics.OutcomeSkipped).Inc()
			return
		}
	}

	ctx := log.WithLogger(s.ctx, logger)
	outcome, err := s.intervene(ctx, roomID)
	if err != nil {
		logger.Warn().Err(err).Msg("intervention dropped")
	}
	metrics.Interventions.WithLabelValues(outcome).Inc()
}

func (s *Scheduler) intervene(ctx context.Context, roomID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	msgs, err := s.history.ListRecent(ctx, roomID, s.cfg.HistoryLimit)
	if err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("load history: %w", err)
	}
	if len(msgs) == 0 {
		l := log.Ctx(ctx)
		l.Debug().Msg("no history, skipping intervention")
		return metrics.OutcomeSkipped, nil
	}

	text, err := s.summarizer.Analyze(ctx, msgs)
	if err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("analyze: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return metrics.OutcomeSkipped, nil
	}

	if err := s.deliverer.DeliverSystem(ctx, roomID, text); err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("deliver: %w", err)
	}
	l := log.Ctx(ctx)
	l.Info().Int("history", len(msgs)).Msg("intervention delivered")
	return metrics.OutcomeDelivered, nil
}
