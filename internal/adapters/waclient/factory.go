package waclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"zapgate/internal/ports"
	"zapgate/platform/logger"
)

// Factory builds live engine clients backed by a shared whatsmeow device
// store. Device credentials live in the same Postgres database as the rest
// of the application, in tables the store manages for itself.
type Factory struct {
	container *sqlstore.Container
	instances ports.InstanceRepository
	logger    *logger.Logger
}

func NewFactory(ctx context.Context, db *sqlx.DB, instances ports.InstanceRepository, log *logger.Logger) (*Factory, error) {
	container := sqlstore.NewWithDB(db.DB, "postgres", newEngineLogger(log))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("failed to upgrade device store: %w", err)
	}

	return &Factory{
		container: container,
		instances: instances,
		logger:    log.WithModule("waclient"),
	}, nil
}

var _ ports.WhatsAppClientFactory = (*Factory)(nil)

// Create resolves the instance's stored device, builds a client around it
// and brings the socket up. Instances that never paired get a fresh device
// and enter the QR flow.
func (f *Factory) Create(ctx context.Context, instanceID string, callbacks ports.Callbacks) (ports.WhatsAppClient, error) {
	device, err := f.resolveDevice(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	wa := whatsmeow.NewClient(device, newEngineLogger(f.logger))
	client := newClient(instanceID, wa, callbacks, f.logger)

	if err := client.connect(); err != nil {
		client.cancel()
		wa.RemoveEventHandler(client.handlerID)
		return nil, err
	}
	return client, nil
}

// resolveDevice matches the instance's last connected phone against the
// stored devices. The device store is keyed by JID, not by instance, so the
// phone recorded at pairing time is the join point; without one, or when no
// stored device matches, pairing starts from scratch.
func (f *Factory) resolveDevice(ctx context.Context, instanceID string) (*store.Device, error) {
	id, err := uuid.Parse(instanceID)
	if err != nil {
		return nil, fmt.Errorf("invalid instance ID %s: %w", instanceID, err)
	}

	inst, err := f.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if inst.ConnectedPhone != nil && *inst.ConnectedPhone != "" {
		devices, err := f.container.GetAllDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stored devices: %w", err)
		}
		for _, device := range devices {
			if device.ID != nil && device.ID.User == *inst.ConnectedPhone {
				f.logger.InfoWithFields("Reusing stored device", map[string]interface{}{
					"instance_id": instanceID,
					"device_jid":  device.ID.String(),
				})
				return device, nil
			}
		}
		f.logger.WarnWithFields("No stored device for connected phone, repairing required", map[string]interface{}{
			"instance_id": instanceID,
			"phone":       *inst.ConnectedPhone,
		})
	}

	return f.container.NewDevice(), nil
}
