package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/webhook"
	"zapgate/internal/ports"
	"zapgate/platform/logger"
)

// ConnectionCloser is the slice of the connection controller the sweep
// needs: check for a live handle and force it closed without the
// controller's own disconnect bookkeeping, which the sweep does itself.
type ConnectionCloser interface {
	IsLive(instanceID uuid.UUID) bool
	ForceClose(ctx context.Context, instanceID uuid.UUID) bool
}

// TrialSweep periodically blocks every instance owned by users whose trial
// window has closed. Live connections are notified and torn down first, then
// one batch write flips the whole set to blocked and inactive.
type TrialSweep struct {
	users       ports.UserRepository
	instances   ports.InstanceRepository
	dispatcher  ports.EventDispatcher
	connections ConnectionCloser
	logger      *logger.Logger

	schedule string
	cron     *cron.Cron
}

func NewTrialSweep(
	users ports.UserRepository,
	instances ports.InstanceRepository,
	dispatcher ports.EventDispatcher,
	connections ConnectionCloser,
	log *logger.Logger,
	schedule string,
) *TrialSweep {
	return &TrialSweep{
		users:       users,
		instances:   instances,
		dispatcher:  dispatcher,
		connections: connections,
		logger:      log.WithModule("trial-sweep"),
		schedule:    schedule,
		cron:        cron.New(),
	}
}

// Start registers the sweep on its cron schedule and begins ticking.
func (s *TrialSweep) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Run(ctx); err != nil {
			s.logger.ErrorWithFields("Trial sweep failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule trial sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoWithFields("Trial sweep scheduled", map[string]interface{}{
		"schedule": s.schedule,
	})
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *TrialSweep) Stop() {
	<-s.cron.Stop().Done()
}

// Run executes one sweep pass.
func (s *TrialSweep) Run(ctx context.Context) error {
	expired, err := s.users.ListExpiredTrials(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list expired trials: %w", err)
	}
	if len(expired) == 0 {
		s.logger.Debug("No expired trials")
		return nil
	}

	userIDs := make([]uuid.UUID, 0, len(expired))
	for _, u := range expired {
		userIDs = append(userIDs, u.ID)
	}
	s.logger.InfoWithFields("Sweeping expired trials", map[string]interface{}{
		"users": len(userIDs),
	})

	insts, err := s.instances.ListByUsers(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("failed to list trial instances: %w", err)
	}

	for _, inst := range insts {
		if !s.connections.IsLive(inst.ID) {
			continue
		}

		// Subscribers see the record as it will stand after the batch
		// write; the notification fires while the connection is still up.
		projected := *inst
		projected.State = instance.StateDisconnected
		projected.Connected = false
		projected.Blocked = true
		projected.IsActive = false
		s.dispatcher.Dispatch(ctx, inst.ID.String(), webhook.EventInstanceDisconnected, map[string]interface{}{
			"instance": &projected,
		})

		s.connections.ForceClose(ctx, inst.ID)
		s.logger.InfoWithFields("Closed expired trial instance", map[string]interface{}{
			"instance_id": inst.ID.String(),
			"user_id":     inst.UserID.String(),
		})
	}

	if err := s.instances.BlockByUsers(ctx, userIDs); err != nil {
		return fmt.Errorf("failed to block trial instances: %w", err)
	}

	s.logger.InfoWithFields("Trial sweep completed", map[string]interface{}{
		"users":     len(userIDs),
		"instances": len(insts),
	})
	return nil
}
