package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type WorkerCmd struct {
	Store     StoreFlags     `embed:""`
	Email     EmailFlags     `embed:"" prefix:"email-"`
	Worker    WorkerFlags    `embed:"" prefix:"worker-"`
	Telemetry TelemetryFlags `embed:""`
}

func (c *WorkerCmd) Run(ctx context.Context, globals *Globals) error {
	setupLogging(globals)

	log.Info().Str("version", globals.Version).Msg("Starting delivery worker")

	stopTelemetry, err := c.Telemetry.start(ctx, globals.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer stopTelemetry()

	st, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop store")
		}
	}()

	deliveryWorker, err := newDeliveryWorker(st, &c.Email, &c.Worker)
	if err != nil {
		return err
	}

	return ignoreCanceled(deliveryWorker.Run(ctx))
}
