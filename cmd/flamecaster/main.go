// Flamecaster routes Art-Net universes to networked LED controllers.
//
// It listens for ArtDmx packets, copies each universe's pixel data into the
// devices mapped to it, and pushes complete frames to every controller at a
// fixed output rate. Throughput snapshots are published to observers over
// MQTT and the websocket API, and can be recorded to InfluxDB and SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/flamecaster/internal/api"
	"github.com/nerrad567/flamecaster/internal/artnet"
	"github.com/nerrad567/flamecaster/internal/device"
	"github.com/nerrad567/flamecaster/internal/eventlog"
	"github.com/nerrad567/flamecaster/internal/infrastructure/config"
	"github.com/nerrad567/flamecaster/internal/infrastructure/database"
	"github.com/nerrad567/flamecaster/internal/infrastructure/influxdb"
	"github.com/nerrad567/flamecaster/internal/infrastructure/logging"
	"github.com/nerrad567/flamecaster/internal/infrastructure/mqtt"
	"github.com/nerrad567/flamecaster/internal/relay"
	"github.com/nerrad567/flamecaster/internal/router"
	"github.com/nerrad567/flamecaster/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when FLAMECASTER_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// eventRetention is how long connectivity events are kept.
	eventRetention = 30 * 24 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until the router stops. It returns
// nil on a clean shutdown, whether triggered by a signal or a shutdown
// command.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Flamecaster",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"devices", len(cfg.Devices),
		"listen", cfg.ListenAddress(),
	)

	rt, err := buildRouter(cfg, log)
	if err != nil {
		return err
	}
	link := rt.Link()
	rel := relay.New(link)
	rel.SetLogger(log.Component("relay"))
	rt.OnStateChange(rel.PublishState)
	checks := make(map[string]api.HealthChecker)

	var events *eventlog.Store
	if cfg.Database.Enabled {
		db, err := openEventLog(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		events = eventlog.NewStore(db.DB)
		if n, pruneErr := events.Prune(ctx, eventRetention); pruneErr != nil {
			log.Warn("pruning device events", "error", pruneErr)
		} else if n > 0 {
			log.Info("pruned old device events", "rows", n)
		}

		recorder := eventlog.NewRecorder(events, eventlog.DefaultBuffer)
		recorder.SetLogger(log.Component("eventlog"))
		rt.AddRecorder(recorder)
		defer recorder.Close() //nolint:errcheck // Close always returns nil
		checks["database"] = db
	} else {
		log.Info("event log disabled")
	}

	if cfg.MQTT.Enabled {
		client, err := connectMQTT(cfg, rel, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks["mqtt"] = client
	} else {
		log.Info("MQTT disabled")
	}

	var (
		influxClient *influxdb.Client
		influxRec    *relay.InfluxRecorder
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		influxRec = relay.NewInfluxRecorder(influxClient)
		rt.AddRecorder(influxRec)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Router:  rt,
			Relay:   rel,
			Checks:  checks,
			Version: version,
		}
		if events != nil {
			deps.Events = events
		}
		if influxClient != nil {
			deps.Throughput = influxClient
		}

		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	listener, err := artnet.Listen(ctx, cfg.ListenAddress(), func(address uint16, data []byte) {
		rt.Deliver(router.UniverseAddress(address), data)
	})
	if err != nil {
		return fmt.Errorf("starting art-net listener: %w", err)
	}
	listener.SetLogger(log.Component("artnet"))
	if influxRec != nil {
		influxRec.SetCounters(func() map[string]any {
			return counterFields(rt.Stats(), listener.Stats())
		})
	}

	// The router closes the listener and stops every device when Run returns.
	rt.SetListener(listener)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Serve(gctx) })
	g.Go(func() error { return rel.Run(gctx) })
	g.Go(func() error { return rt.Run(gctx) })

	log.Info("initialisation complete, routing")
	err = g.Wait()
	rel.Flush()
	if err != nil {
		return fmt.Errorf("router stopped: %w", err)
	}

	log.Info("Flamecaster stopped", "stats", rt.Stats())
	return nil
}

// counterFields flattens router and listener counters into point fields.
func counterFields(rs router.Stats, ls artnet.Stats) map[string]any {
	//nolint:gosec // counters stay far below MaxInt64
	return map[string]any{
		"cycles":            int64(rs.Cycles),
		"faults":            int64(rs.Faults),
		"packets_delivered": int64(rs.Delivered),
		"packets_ignored":   int64(rs.Ignored),
		"dropped_status":    int64(rs.DroppedStatus),
		"dropped_commands":  int64(rs.DroppedCommands),
		"artnet_packets":    int64(ls.Packets),
		"artnet_dmx":        int64(ls.DMXPackets),
		"artnet_other":      int64(ls.OtherPackets),
		"decode_errors":     int64(ls.DecodeErrors),
		"read_errors":       int64(ls.ReadErrors),
		"listener_panics":   int64(ls.Panics),
		"observer_live":     rs.ObserverLive,
	}
}

// buildRouter creates the devices, topology and router described by cfg.
func buildRouter(cfg *config.Config, log *logging.Logger) (*router.Router, error) {
	devices := make([]*device.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		driver := device.NewPixelblazeDriver(device.PixelblazeOptions{
			Address:           dc.Address,
			Port:              cfg.Pixelblaze.Port,
			ChannelsPerPixel:  dc.ChannelsPerPixel,
			DialTimeout:       time.Duration(cfg.Pixelblaze.DialTimeoutMs) * time.Millisecond,
			ReconnectInterval: time.Duration(cfg.Pixelblaze.ReconnectIntervalMs) * time.Millisecond,
			Logger:            log.With("component", "pixelblaze", "device", dc.Name),
		})

		d, err := device.New(device.Config{
			ID:               device.ID(dc.ID),
			Name:             dc.Name,
			Address:          dc.Address,
			PixelCount:       dc.PixelCount,
			ChannelsPerPixel: dc.ChannelsPerPixel,
		}, driver)
		if err != nil {
			return nil, fmt.Errorf("creating device %q: %w", dc.Name, err)
		}
		devices = append(devices, d)
	}

	registry, err := device.NewRegistry(devices...)
	if err != nil {
		return nil, fmt.Errorf("building device registry: %w", err)
	}

	specs, err := router.FragmentsFromConfig(cfg.Devices)
	if err != nil {
		return nil, fmt.Errorf("reading universe table: %w", err)
	}
	topology, err := router.NewTopology(registry, specs)
	if err != nil {
		return nil, fmt.Errorf("building universe table: %w", err)
	}
	topology.Dump(log.Component("topology"))

	link := router.NewLink(router.LinkOptions{
		StatusBuffer:  cfg.Router.StatusBuffer,
		CommandBuffer: cfg.Router.CommandBuffer,
		ObserverTTL:   cfg.ObserverTTL(),
	})

	rt, err := router.New(topology, link, router.Options{
		OutputInterval: cfg.OutputInterval(),
		StatusInterval: cfg.StatusInterval(),
		Cooldown:       cfg.Cooldown(),
		SendTimeout:    cfg.SendTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	rt.SetLogger(log.Component("router"))
	return rt, nil
}

// openEventLog opens and migrates the SQLite database.
func openEventLog(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database connected", "path", db.Path())
	return db, nil
}

// connectMQTT connects to the broker, publishes snapshots through the
// relay and routes command topics into the link.
func connectMQTT(cfg *config.Config, rel *relay.Relay, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	topics := mqtt.Topics{}
	if err := client.Subscribe(topics.AllCommands(), byte(cfg.MQTT.QoS), rel.HandleMQTTCommand); err != nil { //nolint:gosec // QoS validated 0..2
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("subscribing to commands: %w", err)
	}
	rel.SetPublisher(client)

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", client.ID(),
	)
	return client, nil
}

// getConfigPath returns FLAMECASTER_CONFIG, or the default path.
func getConfigPath() string {
	if path := os.Getenv("FLAMECASTER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
