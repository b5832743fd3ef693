package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/meshbridge/internal/bridge"
	"github.com/nerrad567/meshbridge/internal/certstore"
	"github.com/nerrad567/meshbridge/internal/conn"
	"github.com/nerrad567/meshbridge/internal/frame"
	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshbridge/internal/infrastructure/logging"
	"github.com/nerrad567/meshbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshbridge/internal/infrastructure/nats"
	"github.com/nerrad567/meshbridge/internal/mesh"
	"github.com/nerrad567/meshbridge/internal/metrics"
	"github.com/nerrad567/meshbridge/internal/netlink"
	"github.com/nerrad567/meshbridge/internal/radio"
	"github.com/nerrad567/meshbridge/internal/status"
	"github.com/nerrad567/meshbridge/internal/topic"
	"github.com/nerrad567/meshbridge/internal/transport"
)

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configFlag: Value of --config, empty when not given
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configFlag string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting meshbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := loadConfig(configFlag)
	if err != nil {
		return err
	}
	if path == "" {
		log.Info("no config file, using defaults")
	} else {
		log.Info("configuration loaded", "path", path)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	clientID := cfg.Transport.ClientID
	if clientID == "" {
		clientID = netlink.ClientID()
	}
	log = log.With("node", clientID)

	router, err := topic.New(topic.Options{
		Base:        cfg.Topic.Base,
		ClientID:    clientID,
		Partitioned: cfg.Topic.Partitioned,
	})
	if err != nil {
		return fmt.Errorf("building topics: %w", err)
	}

	session, err := newSession(cfg, log.Component("transport"))
	if err != nil {
		return err
	}

	packets := mesh.NewManager(cfg.Bridge.PacketPool, cfg.Bridge.RadioQueue)

	b, err := bridge.New(bridgeOptions(cfg, clientID, router, session, packets, log.Component("bridge")))
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Open everything that can fail before any goroutine starts.
	if cfg.Metrics.Enabled {
		srv, err := status.New(status.Deps{
			Config:   cfg.Metrics,
			Source:   b,
			Registry: metrics.NewRegistry(b, packets, clientID),
			Logger:   log.Component("status"),
			Node:     clientID,
			Version:  version,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
	}

	var link *radio.Link
	if cfg.Radio.Enabled {
		port, err := radio.Open(cfg.Radio)
		if err != nil {
			return err
		}
		log.Info("radio opened", "port", cfg.Radio.Port, "baud", cfg.Radio.BaudRate)
		link = radio.NewLink(port, b, packets, log.Component("radio"))
	} else {
		log.Warn("radio disabled, frames from the broker are queued but never transmitted")
	}

	g, gctx := errgroup.WithContext(ctx)

	// The bridge is closed on its own goroutine once Run returns.
	g.Go(func() error {
		defer b.Close()
		return b.Run(gctx)
	})

	if link != nil {
		g.Go(func() error {
			return link.Run(gctx)
		})
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(gctx, cfg.InfluxDB)
		if err != nil {
			// Statistics are optional; the bridge runs without them.
			log.Warn("InfluxDB unavailable, statistics will not be recorded", "error", err)
		} else {
			influxClient.SetOnError(func(err error) {
				log.Warn("InfluxDB error", "error", err)
			})
			defer func() {
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			g.Go(func() error {
				influxClient.Report(gctx, clientID, cfg.GetInfluxReportInterval(), b)
				return nil
			})
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	log.Info("meshbridge running",
		"transport", cfg.Transport.Kind,
		"broker", fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.BrokerPort()),
		"publish", router.PublishTopic(),
		"subscribe", router.SubscribeTopic(),
	)

	err = g.Wait()
	log.Info("meshbridge stopped")
	return err
}

// newSession returns the broker session for the configured transport.
func newSession(cfg *config.Config, log *logging.Logger) (transport.Session, error) {
	switch cfg.Transport.Kind {
	case config.TransportMQTT, "":
		s := mqtt.New(cfg.MQTT)
		s.SetLogger(log)
		return s, nil
	case config.TransportNATS:
		s := nats.New(cfg.NATS)
		s.SetLogger(log)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// bridgeOptions maps configuration onto bridge options.
func bridgeOptions(cfg *config.Config, clientID string, router *topic.Router, session transport.Session,
	packets bridge.PacketManager, log *logging.Logger) bridge.Options {
	return bridge.Options{
		Config: bridge.Config{
			FrameVersion:   frame.Version(cfg.Bridge.FrameVersion),
			QoS:            byte(cfg.Bridge.QoS),
			RelayAware:     cfg.Bridge.RelayAware,
			SelfHash:       byte(cfg.Bridge.SelfHash),
			DedupCapacity:  cfg.Bridge.DedupCapacity,
			TickInterval:   cfg.GetTickInterval(),
			StatusInterval: cfg.GetStatusInterval(),
			Version:        version,
		},
		Conn: conn.Config{
			Host:                  cfg.Transport.Host,
			Port:                  cfg.BrokerPort(),
			ClientID:              clientID,
			Username:              cfg.Transport.Auth.Username,
			Password:              cfg.Transport.Auth.Password,
			TLS:                   cfg.TLS.Enabled,
			TLSInsecure:           cfg.TLS.Insecure,
			QoS:                   byte(cfg.Bridge.QoS),
			LinkReconnectInterval: cfg.GetLinkReconnectInterval(),
			ReconnectInterval:     cfg.GetReconnectInterval(),
			InitialLinkTimeout:    cfg.GetInitialLinkTimeout(),
			LinkConnectTimeout:    cfg.GetLinkConnectTimeout(),
			SessionConnectTimeout: cfg.GetSessionConnectTimeout(),
		},
		Session:   session,
		Link:      netlink.New(cfg.Transport.Host),
		Router:    router,
		Packets:   packets,
		CertStore: certstore.Dir(cfg.TLS.CertDir),
		Logger:    log,
	}
}
