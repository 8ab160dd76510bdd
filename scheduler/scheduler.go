package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tunishome/config"
	"tunishome/models"
	"tunishome/services"
)

const commandPollInterval = 2 * time.Second

type Runner interface {
	RunAll(ctx context.Context) (*models.BatchSummary, error)
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

// CommandQueue is the operator command table. *storage.SQLiteStore implements it.
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

type Aggregator interface {
	Refresh(ctx context.Context) (*services.RefreshResult, error)
}

type Scheduler struct {
	cfg    config.SchedulerConfig
	runner Runner
	queue  CommandQueue
	market Aggregator
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once

	// busy keeps a scheduled scrape from overlapping a command-triggered one.
	busy sync.Mutex
}

func New(cfg config.SchedulerConfig, runner Runner, queue CommandQueue, market Aggregator) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		queue:  queue,
		market: market,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.AggregateCron != "" && s.market != nil {
		_, err := s.cron.AddFunc(s.cfg.AggregateCron, func() {
			if _, err := s.market.Refresh(ctx); err != nil {
				slog.Error("scheduled aggregation failed", "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid aggregate cron expression: %w", err)
		}
		slog.Info("aggregation scheduled", "cron", s.cfg.AggregateCron)
	}

	switch {
	case s.cfg.Cron != "":
		if _, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runScheduled(ctx) }); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		slog.Info("scrape scheduled", "cron", s.cfg.Cron)
	case s.cfg.Interval > 0:
		slog.Info("scrape scheduled", "interval", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runScheduled(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		slog.Info("no scrape schedule configured, daemon will only respond to commands")
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.once.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if !s.busy.TryLock() {
		slog.Warn("previous scrape still running, skipping scheduled run")
		return
	}
	defer s.busy.Unlock()

	summary, err := s.runner.RunAll(ctx)
	if err != nil {
		slog.Error("scheduled run failed", "err", err)
		return
	}
	slog.Info("scheduled run done", "persisted", summary.Persisted, "skipped", summary.SkippedTotal(), "aborted", summary.Aborted)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessCommands drains the queue once. Every command is marked processed, even on failure.
func (s *Scheduler) ProcessCommands(ctx context.Context) int {
	cmds, err := s.queue.GetPendingCommands()
	if err != nil {
		slog.Error("get pending commands", "err", err)
		return 0
	}

	for i := range cmds {
		cmd := &cmds[i]
		slog.Info("processing command", "command", cmd.Command, "id", cmd.ID)
		if err := s.handleCommand(ctx, cmd); err != nil {
			slog.Error("command failed", "command", cmd.Command, "err", err)
		}
		if err := s.queue.MarkCommandProcessed(cmd.ID); err != nil {
			slog.Error("mark command processed", "id", cmd.ID, "err", err)
		}
	}
	return len(cmds)
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdScrapeNow, models.CmdScrapeSite:
		if !s.busy.TryLock() {
			return fmt.Errorf("%s: a scrape is already running", cmd.Command)
		}
		defer s.busy.Unlock()
	}
	return s.runner.HandleCommand(ctx, cmd)
}

// TriggerNow runs every site once, outside the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) (*models.BatchSummary, error) {
	s.busy.Lock()
	defer s.busy.Unlock()
	return s.runner.RunAll(ctx)
}
