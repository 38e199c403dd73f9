// Command ecsdemo runs a small falling-bodies simulation on the ECS core: gravity, movement, and a
// floor that hurts players, with diagnostics, optional YAML ordering, and a snapshot at exit.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/argus-labs/ecs-core/pkg/diagnostics"
	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/argus-labs/ecs-core/pkg/ordering"
	"github.com/argus-labs/ecs-core/pkg/snapshot"
	"github.com/argus-labs/ecs-core/pkg/telemetry"
	"github.com/argus-labs/ecs-core/pkg/telemetry/sentry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type config struct {
	Ticks           int           `env:"DEMO_TICKS" envDefault:"200"`
	TickRate        time.Duration `env:"DEMO_TICK_RATE" envDefault:"50ms"`
	Population      int           `env:"DEMO_POPULATION" envDefault:"1000"`
	OrderingFile    string        `env:"DEMO_ORDERING_FILE"`
	SnapshotStorage string        `env:"SNAPSHOT_STORAGE" envDefault:"NOP"`
}

func main() {
	defer sentry.RecoverAndFlush(true)

	if err := run(); err != nil {
		sentry.CaptureException(context.Background(), err, map[string]string{"command": "ecsdemo"})
		sentry.Shutdown(context.Background())
		log.Fatal().Err(err).Msg("ecsdemo failed")
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return eris.Wrap(err, "failed to parse config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(telemetry.Options{ServiceName: "ecsdemo"})
	if err != nil {
		return eris.Wrap(err, "failed to set up telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()
	logger := tel.GetLogger("demo")

	collector, err := diagnostics.NewCollector(diagnostics.Options{BatchSize: 20})
	if err != nil {
		return err
	}
	sinks := ecs.MultiSink{collector}

	statsdCfg, err := diagnostics.LoadStatsdConfig()
	if err != nil {
		return err
	}
	if statsdCfg.Address != "" {
		statsd, err := diagnostics.NewStatsdSink(statsdCfg, tel.GetLogger("statsd"))
		if err != nil {
			return err
		}
		defer func() { _ = statsd.Close() }()
		sinks = append(sinks, statsd)
	}

	w, err := ecs.NewWorld(tel.WorldOptions(ecs.WorldOptions{Diagnostics: sinks}))
	if err != nil {
		return eris.Wrap(err, "failed to create world")
	}

	if err := setup(w, cfg); err != nil {
		return err
	}

	storage, closeStorage, err := newStorage(cfg.SnapshotStorage)
	if err != nil {
		return err
	}
	defer closeStorage()

	batches := collector.Subscribe()
	defer collector.Unsubscribe(batches)
	go logBatches(ctx, logger, batches)

	if err := loop(ctx, w, cfg, logger); err != nil {
		return err
	}

	snap, err := snapshot.Capture(w)
	if err != nil {
		return err
	}
	// The signal context may be done by now; storing still gets a short deadline of its own.
	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := storage.Store(storeCtx, snap); err != nil {
		return eris.Wrap(err, "failed to store snapshot")
	}
	logger.Info().Stringer("snapshot", snap.ID).Uint64("frame", snap.Frame).Int("bytes", len(snap.Data)).
		Msg("snapshot stored")
	return nil
}

// registerComponents fixes the component types up front so snapshots of this world restore into a
// fresh one.
func registerComponents(w *ecs.World) error {
	_, errPos := ecs.RegisterComponent[Position](w)
	_, errVel := ecs.RegisterComponent[Velocity](w)
	_, errHealth := ecs.RegisterComponent[Health](w)
	_, errPlayer := ecs.RegisterComponent[Player](w)
	return errors.Join(errPos, errVel, errHealth, errPlayer)
}

// setup registers the components, resources and systems and checks the schedules. Systems get
// explicit names so ordering files don't depend on the package path.
func setup(w *ecs.World, cfg config) error {
	if err := registerComponents(w); err != nil {
		return eris.Wrap(err, "failed to register components")
	}

	err := errors.Join(
		ecs.InsertResource(w, Gravity{Y: -0.1}),
		ecs.InsertResource(w, Arena{Width: 100, Height: 50, Population: cfg.Population}),
		ecs.InsertResource(w, Stats{}),
	)
	if err != nil {
		return eris.Wrap(err, "failed to insert resources")
	}

	err = errors.Join(
		ecs.RegisterSystem(w, SpawnSystem, ecs.WithName("spawn"), ecs.WithHook(ecs.Init)),
		ecs.RegisterSystem(w, GravitySystem, ecs.WithName("gravity"), ecs.WithHook(ecs.PreUpdate)),
		ecs.RegisterSystem(w, MovementSystem, ecs.WithName("movement")),
		ecs.RegisterSystem(w, FloorSystem, ecs.WithName("floor"), ecs.After("movement")),
		ecs.RegisterSystem(w, StatsSystem, ecs.WithName("stats"), ecs.WithHook(ecs.PostUpdate)),
	)
	if err != nil {
		return eris.Wrap(err, "failed to register systems")
	}

	if cfg.OrderingFile != "" {
		order, err := ordering.LoadFile(cfg.OrderingFile)
		if err != nil {
			return err
		}
		if err := order.Apply(w); err != nil {
			return err
		}
	}
	return w.Init()
}

// loop ticks the world at the configured rate until the tick count is reached or ctx is done.
func loop(ctx context.Context, w *ecs.World, cfg config, logger zerolog.Logger) error {
	ticker := time.NewTicker(cfg.TickRate)
	defer ticker.Stop()

	for tick := 0; tick < cfg.Ticks; tick++ {
		select {
		case <-ctx.Done():
			logger.Info().Int("tick", tick).Msg("interrupted")
			return nil
		case <-ticker.C:
		}

		if err := w.Tick(ctx); err != nil {
			// System failures are reported by the diagnostics sinks; the simulation keeps going.
			logger.Warn().Err(err).Int("tick", tick).Msg("tick failed")
		}
	}

	stats, _ := ecs.GetResource[Stats](w)
	logger.Info().Int("bodies", stats.Bodies).Int("players", stats.Players).Int("despawns", stats.Despawns).
		Msg("simulation finished")
	return nil
}

func newStorage(kind string) (snapshot.Storage, func(), error) {
	storageType, err := snapshot.ParseStorageType(kind)
	if err != nil {
		return nil, nil, err
	}
	switch storageType {
	case snapshot.StorageTypeRedis:
		s, err := snapshot.NewRedisStorage(snapshot.RedisStorageOptions{})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return snapshot.NewNopStorage(), func() {}, nil
	}
}

func logBatches(ctx context.Context, logger zerolog.Logger, batches <-chan diagnostics.Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-batches:
			var total time.Duration
			failed := 0
			for _, run := range batch.Runs {
				total += run.Duration
				if run.Failed {
					failed++
				}
			}
			logger.Debug().Int("runs", len(batch.Runs)).Dur("total", total).Int("failed", failed).
				Uint64("dropped_spans", batch.DroppedSpans).Msg("schedule runs")
		}
	}
}
