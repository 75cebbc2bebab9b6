package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository"
)

type connectionToucher interface {
	Save(ctx context.Context, conn *entity.Connection) error
	Touch(ctx context.Context, endpointID string) error
}

type endpointLister interface {
	Endpoints() []string
}

// Heartbeat - periodically extends the connection records of every live endpoint,
// so records of endpoints that vanished without a close expire on their own.
type Heartbeat struct {
	logger      *slog.Logger
	endpoints   endpointLister
	connections connectionToucher
	scheduler   gocron.Scheduler
}

// NewHeartbeat - schedules a beat every interval. The scheduler runs after Start.
func NewHeartbeat(logger *slog.Logger, endpoints endpointLister, connections connectionToucher, interval time.Duration) (*Heartbeat, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	heartbeat := &Heartbeat{
		logger:      logger.With("component", "heartbeat"),
		endpoints:   endpoints,
		connections: connections,
		scheduler:   scheduler,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			heartbeat.Beat(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	return heartbeat, nil
}

// Start - starts the scheduler.
func (that *Heartbeat) Start() {
	that.scheduler.Start()
}

// Stop - shuts the scheduler down.
func (that *Heartbeat) Stop() error {
	if err := that.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop heartbeat: %w", err)
	}

	return nil
}

// Beat - touches every live endpoint once. A record that already expired is written again.
func (that *Heartbeat) Beat(ctx context.Context) {
	log := that.logger.With("method", "Beat")

	for _, endpointID := range that.endpoints.Endpoints() {
		err := that.connections.Touch(ctx, endpointID)
		if errors.Is(err, repository.ErrConnectionNotFound) {
			err = that.connections.Save(ctx, &entity.Connection{
				EndpointID:  endpointID,
				ConnectedAt: time.Now().UTC(),
			})
		}

		if err != nil {
			log.Warn("failed to refresh connection", "endpointID", endpointID, "error", err)
		}
	}
}
