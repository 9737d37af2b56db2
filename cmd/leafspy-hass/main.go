package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jkaberg/leafspy-hass/internal/app"
	"github.com/jkaberg/leafspy-hass/internal/config"
	"github.com/jkaberg/leafspy-hass/internal/metrics"
	"github.com/jkaberg/leafspy-hass/internal/mqtt"
	"github.com/jkaberg/leafspy-hass/internal/store"
	"github.com/jkaberg/leafspy-hass/internal/transmission"
	"github.com/sirupsen/logrus"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := setupLogger(cfg.Verbose)

	generated, err := cfg.EnsureSecret()
	if err != nil {
		logger.WithError(err).Fatal("Failed to generate secret")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if generated {
		// Printed once so it can be entered in Leaf Spy; persist it with
		// --secret or LEAFSPY_HASS_SECRET to keep it across restarts.
		logger.WithField("webhook_url", cfg.WebhookURL("<host>"+cfg.ListenAddr)).
			Warn("No secret configured, generated a new one")
	}

	logger.WithFields(logrus.Fields{
		"version":       version,
		"listen":        cfg.ListenAddr,
		"webhook_path":  cfg.WebhookPath,
		"state_backend": cfg.StateBackend,
	}).Info("Starting leafspy-hass")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	st, err := store.Open(cfg.StoreOptions())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open state store")
	}
	defer st.Close()

	mqttClient, err := mqtt.NewClient(mqtt.Options{
		URL:               cfg.MQTTUrl,
		ClientID:          cfg.ClientID,
		AvailabilityTopic: transmission.AvailabilityTopic(cfg.BaseTopic),
		InsecureTLS:       cfg.InsecureTLS,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MQTT client")
	}
	defer mqttClient.Disconnect(250)
	tx := transmission.NewMQTTTransmitter(mqttClient, cfg.DiscoveryPrefix, cfg.BaseTopic, version, logger)

	if err := mqttClient.Subscribe(tx.StatusTopic(), tx.HandleStatus); err != nil {
		logger.WithError(err).Warn("Failed to watch Home Assistant status; discovery will not be resent after HA restarts")
	}
	// A broker that lost its retained messages needs discovery again.
	mqttClient.OnConnect(func() {
		if err := tx.Republish(); err != nil {
			logger.WithError(err).Warn("Failed to republish discovery configs after reconnect")
		}
	})
	logger.Info("MQTT transmitter ready")

	m := metrics.New()
	bridge := app.NewBridge(app.Options{
		DisplayName: cfg.DisplayName,
		Precision:   cfg.Precision,
	}, tx, st, m, logger)

	if err := app.Run(ctx, cfg, bridge, m, logger); err != nil {
		logger.WithError(err).Error("leafspy-hass stopped with error")
		return
	}
	logger.Info("leafspy-hass stopped")
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags(args []string) (*config.Config, error) {
	cfg := config.GetDefaultConfig()

	// The config file sits below env and flags, so load it before their
	// defaults are computed.
	configPath := findFlag(args, "config", getEnv("CONFIG", ""))
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("leafspy-hass", flag.ContinueOnError)
	fs.String("config", configPath, "YAML config file")
	showVersion := fs.Bool("version", false, "Show version and exit")
	genSecret := fs.Bool("gen-secret", false, "Print a new webhook secret and exit")

	fs.StringVar(&cfg.ListenAddr, "listen", getEnv("LISTEN_ADDR", cfg.ListenAddr), "HTTP listen address")
	fs.StringVar(&cfg.WebhookPath, "webhook-path", getEnv("WEBHOOK_PATH", cfg.WebhookPath), "Webhook path")
	fs.StringVar(&cfg.Secret, "secret", getEnv("SECRET", cfg.Secret), "Webhook secret")
	fs.StringVar(&cfg.DisplayName, "display-name", getEnv("DISPLAY_NAME", cfg.DisplayName), "Device name in Home Assistant")
	fs.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("MQTT_URL", cfg.MQTTUrl), "MQTT URL")
	fs.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", getEnv("DISCOVERY_PREFIX", cfg.DiscoveryPrefix), "HA discovery prefix")
	fs.StringVar(&cfg.BaseTopic, "base-topic", getEnv("BASE_TOPIC", cfg.BaseTopic), "MQTT base topic")
	fs.StringVar(&cfg.ClientID, "client-id", getEnv("CLIENT_ID", cfg.ClientID), "MQTT client id")
	fs.BoolVar(&cfg.InsecureTLS, "insecure-tls", getEnv("INSECURE_TLS", fmt.Sprint(cfg.InsecureTLS)) == "true", "Skip broker certificate verification")
	fs.StringVar(&cfg.StateBackend, "state-backend", getEnv("STATE_BACKEND", cfg.StateBackend), "State backend: file, redis or none")
	fs.StringVar(&cfg.StatePath, "state-path", getEnv("STATE_PATH", cfg.StatePath), "State file path")
	fs.StringVar(&cfg.RedisURL, "redis-url", getEnv("REDIS_URL", cfg.RedisURL), "Redis URL")
	fs.BoolVar(&cfg.Verbose, "verbose", getEnv("VERBOSE", fmt.Sprint(cfg.Verbose)) == "true", "Verbose logging")
	precision := fs.String("precision", getEnv("PRECISION", config.FormatPrecision(cfg.Precision)), "Decimal places per sensor, e.g. state_of_charge=1,hx_value=3")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showVersion {
		fmt.Printf("leafspy-hass %s\n", version)
		os.Exit(0)
	}
	if *genSecret {
		s, err := config.GenerateSecret()
		if err != nil {
			return nil, err
		}
		fmt.Println(s)
		os.Exit(0)
	}

	p, err := config.ParsePrecision(*precision)
	if err != nil {
		return nil, err
	}
	if len(p) > 0 {
		cfg.Precision = p
	}

	return cfg, nil
}

// findFlag returns the value of -name or --name from args without parsing
// the rest.
func findFlag(args []string, name, def string) string {
	for i, a := range args {
		a = strings.TrimLeft(a, "-")
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(config.EnvPrefix + key); v != "" {
		return v
	}
	return def
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
