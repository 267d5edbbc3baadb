// MeshCore to MQTT bridge.
//
// Connects to a MeshCore repeater over its serial console, classifies
// the telemetry it emits, and fans it out to one or more MQTT brokers.
// Optionally accepts signed remote commands and records signal metrics
// to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshcoretomqtt/mctomqtt/internal/auth"
	"github.com/meshcoretomqtt/mctomqtt/internal/bridge"
	"github.com/meshcoretomqtt/mctomqtt/internal/destinations"
	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/config"
	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/database"
	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/influxdb"
	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/logging"
	"github.com/meshcoretomqtt/mctomqtt/internal/remote"
	"github.com/meshcoretomqtt/mctomqtt/internal/serial"
	"github.com/meshcoretomqtt/mctomqtt/internal/topics"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0"
var version = "dev"

// Default configuration file path
const defaultConfigPath = "config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability.
func run(ctx context.Context) error {
	clientVersion := "meshcoretomqtt/" + version

	log := logging.Default()
	log.Info("starting MeshCore to MQTT bridge", "version", version)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	// Open the serial device
	serialCfg := serialConfig(cfg.Serial)
	channel, err := serial.Open(serialCfg)
	if err != nil {
		return fmt.Errorf("opening serial device: %w", err)
	}
	channel.SetLogger(log)
	defer channel.Close()
	log.Info("serial device opened", "path", channel.Path())

	// Sync clocks before anything stamps a timestamp
	if cfg.General.SyncTime {
		bridge.WaitForClockSync(ctx, log)
		if timeErr := channel.SetTime(ctx); timeErr != nil {
			log.Warn("setting repeater clock", "error", timeErr)
		}
	}

	// Query the repeater identity
	identity, privateKey, err := queryIdentity(ctx, channel, log)
	if err != nil {
		return fmt.Errorf("querying repeater identity: %w", err)
	}
	log.Info("repeater identified",
		"name", identity.Name,
		"public_key", identity.PublicKey,
		"firmware", identity.Firmware,
		"board", identity.Board,
	)

	// Resolve and verify topics before any destination connects
	resolver := topics.NewResolver(cfg.Topics, cfg.General.IATA, identity.PublicKey)
	if err := resolver.Validate(cfg.Destinations); err != nil {
		return fmt.Errorf("resolving topics: %w", err)
	}

	tokens := auth.NewTokenService(auth.NewDecoderProvider(), identity.PublicKey, privateKey, clientVersion)

	status := bridge.NewStatusBuilder(identity, clientVersion)
	if stats, statsErr := channel.GetDeviceStats(ctx); statsErr == nil {
		status.UpdateDeviceStats(stats)
	} else {
		log.Warn("initial device stats unavailable", "error", statsErr)
	}

	// Connect to InfluxDB (optional)
	var metrics bridge.MetricsSink
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, continuing without metrics", "error", influxErr)
		} else {
			defer influxClient.Close()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			metrics = influxClient
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	// Build destination sessions
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exhausted := make(chan string, 1)
	onExhausted := func(name string, failures int) {
		select {
		case exhausted <- name:
		default:
		}
	}

	dial := destinations.NewPahoDialer()
	statusPayload := func(state string) []byte { return status.Payload(state) }

	var sessions []*destinations.Session
	for _, dest := range cfg.Destinations {
		if !dest.Enabled {
			continue
		}
		clientID := topics.SanitizeClientID(dest.ClientIDPrefix, identity.Name)
		sess := destinations.NewSession(dest, resolver, tokens, dial, clientID, statusPayload, onExhausted)
		sess.SetLogger(log)
		sessions = append(sessions, sess)
	}
	manager := destinations.NewManager(sessions)

	// Build the bridge
	b := bridge.New(bridge.Options{
		Device:          channel,
		Identity:        identity,
		Publisher:       manager,
		Status:          status,
		Metrics:         metrics,
		Debug:           cfg.General.Debug,
		SyncTime:        cfg.General.SyncTime,
		WatchdogTimeout: time.Duration(cfg.Serial.WatchdogTimeout) * time.Second,
		Reopen: func(context.Context) (bridge.Device, error) {
			ch, openErr := serial.Open(serialCfg)
			if openErr != nil {
				return nil, openErr
			}
			ch.SetLogger(log)
			return ch, nil
		},
	})
	b.SetLogger(log)

	// Wire the remote command channel
	if cfg.RemoteSerial.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening nonce database: %w", dbErr)
		}
		defer db.Close()

		nonces, nonceErr := remote.NewNonceStore(db.DB, time.Duration(cfg.RemoteSerial.NonceTTL)*time.Second)
		if nonceErr != nil {
			return fmt.Errorf("initialising nonce store: %w", nonceErr)
		}

		arbiter := remote.New(cfg.RemoteSerial, tokens.Verifier(), tokens, nonces, b, manager, identity.PublicKey)
		arbiter.SetLogger(log)

		for _, sess := range sessions {
			sess.Subscribe(destinations.Subscription{
				Kind:    topics.KindCommands,
				QoS:     1,
				Handler: arbiter.Handler(sess.Name()),
			})
		}
		log.Info("remote command channel enabled", "companions", len(cfg.RemoteSerial.AllowedCompanions))
	}

	// Run everything
	manager.Start(runCtx)
	log.Info("destinations started", "count", len(sessions))

	bridgeErr := make(chan error, 1)
	go func() { bridgeErr <- b.Run(runCtx) }()

	var exitErr error
	bridgeDone := false
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case name := <-exhausted:
		log.Error("destination gave up after repeated connection failures, exiting for supervisor restart",
			"destination", name)
		exitErr = fmt.Errorf("destination %q exhausted reconnect attempts", name)
	case err := <-bridgeErr:
		bridgeDone = true
		if err != nil {
			exitErr = fmt.Errorf("serial bridge: %w", err)
		}
	}

	cancel()
	if !bridgeDone {
		<-bridgeErr
	}
	manager.Wait()

	log.Info("MeshCore to MQTT bridge stopped")
	return exitErr
}

// queryIdentity collects the repeater's identity over the serial
// console. Name, public key, and radio parameters are required; the
// rest degrades to "unknown".
func queryIdentity(ctx context.Context, channel *serial.Channel, log *logging.Logger) (serial.Identity, string, error) {
	identity := serial.Identity{}

	name, err := channel.GetName(ctx)
	if err != nil {
		return identity, "", fmt.Errorf("reading node name: %w", err)
	}
	identity.Name = name

	publicKey, err := channel.GetPublicKey(ctx)
	if err != nil {
		return identity, "", fmt.Errorf("reading public key: %w", err)
	}
	if publicKey == "" {
		return identity, "", fmt.Errorf("repeater did not report a public key")
	}
	identity.PublicKey = publicKey

	radio, err := channel.GetRadioInfo(ctx)
	if err != nil {
		return identity, "", fmt.Errorf("reading radio parameters: %w", err)
	}
	identity.Radio = radio

	privateKey, err := channel.GetPrivateKey(ctx)
	if err != nil {
		log.Warn("private key unavailable, token auth destinations will not connect", "error", err)
	}

	if identity.Firmware, err = channel.GetFirmwareVersion(ctx); err != nil {
		log.Warn("firmware version unavailable", "error", err)
	}
	if identity.Board, err = channel.GetBoardType(ctx); err != nil {
		log.Warn("board type unavailable", "error", err)
	}

	return identity, privateKey, nil
}

// serialConfig converts config file seconds to channel durations.
func serialConfig(cfg config.SerialConfig) serial.Config {
	return serial.Config{
		Ports:          cfg.Ports,
		BaudRate:       cfg.BaudRate,
		ReadTimeout:    time.Duration(cfg.ReadTimeout) * time.Second,
		CommandTimeout: time.Duration(cfg.CommandTimeout) * time.Second,
	}
}

// getConfigPath returns the configuration file path.
// Uses MCTOMQTT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MCTOMQTT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
