// Command sensorbridge reads temperature and humidity frames from an XBee
// radio on a serial port and republishes them to an MQTT broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/sensorbridge/internal/config"
	"github.com/banshee-data/sensorbridge/internal/journal"
	"github.com/banshee-data/sensorbridge/internal/monitoring"
	"github.com/banshee-data/sensorbridge/internal/publish"
	"github.com/banshee-data/sensorbridge/internal/seriallink"
	"github.com/banshee-data/sensorbridge/internal/supervisor"
	"github.com/banshee-data/sensorbridge/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (MQTT-config.json format)")
	port        = flag.String("port", config.DefaultSerialPort, "Serial port to use (ignored in dev mode)")
	baud        = flag.Int("baud", seriallink.DefaultBaudRate, "Serial baud rate")
	broker      = flag.String("broker", publish.DefaultBroker, "MQTT broker host")
	mqttPort    = flag.Int("mqtt-port", publish.DefaultPort, "MQTT broker port")
	topic       = flag.String("topic", publish.DefaultTopic, "MQTT topic for readings")
	listen      = flag.String("listen", "localhost:8080", "Admin listen address (empty disables)")
	journalPath = flag.String("journal", "", "SQLite journal of accepted readings (empty disables)")
	retention   = flag.Duration("journal-retention", 7*24*time.Hour, "How long journal rows are kept (0 keeps everything)")
	devMode     = flag.Bool("dev", false, "Use a simulated serial link and log readings instead of publishing")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const pruneInterval = time.Hour

// loadConfig reads -config, if given, and lets explicitly set flags override
// the file.
func loadConfig(set map[string]bool) (*config.BridgeConfig, error) {
	cfg := &config.BridgeConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadBridgeConfig(*configPath); err != nil {
			return nil, err
		}
	}

	// Flags win over the file only when given; otherwise the file wins over
	// the flag defaults.
	if set["port"] || cfg.SerialPort == nil {
		cfg.SerialPort = port
	}
	if set["baud"] || cfg.BaudRate == nil {
		cfg.BaudRate = baud
	}
	if set["broker"] || cfg.MQTTBroker == nil {
		cfg.MQTTBroker = broker
	}
	if set["mqtt-port"] || cfg.MQTTPort == nil {
		cfg.MQTTPort = mqttPort
	}
	if set["topic"] || cfg.MQTTTopic == nil {
		cfg.MQTTTopic = topic
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func explicitFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(explicitFlags())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("starting %s", version.String())

	serialCfg := cfg.SerialConfig()
	open := seriallink.OpenSerial
	if *devMode {
		log.Printf("dev mode: simulating %s", serialCfg.Path)
		open = seriallink.NewSimulatedOpener(nil, time.Second)
	}
	reader := seriallink.NewReader(serialCfg, open, nil)

	// Assemble the sink chain: broker (or log) plus the optional journal,
	// all behind a non-blocking queue.
	var primary publish.Sink
	if *devMode {
		primary = publish.LogSink{Topic: cfg.MQTTConfig().Topic}
	} else {
		primary = publish.NewMQTTSink(cfg.MQTTConfig())
	}
	sinks := publish.Multi{primary}

	var jnl *journal.Journal
	if *journalPath != "" {
		jnl, err = journal.Open(*journalPath, nil)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		sinks = append(sinks, jnl)
	}
	sink := publish.NewAsync(sinks, 0)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := supervisor.NewMetrics(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}
	if err := publish.RegisterMetrics(reg, sink); err != nil {
		log.Fatalf("failed to register publish metrics: %v", err)
	}

	sup := supervisor.New(cfg.SupervisorConfig(), reader, sink, supervisor.WithMetrics(metrics))

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the supervisor owns the serial link until ctx is done
	runErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := sup.Run(ctx)
		if err != nil {
			log.Printf("supervisor stopped: %v", err)
		}
		runErr <- err
		// A supervisor that gave up takes the process down with it.
		stop()
	}()

	if jnl != nil && *retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jnl.RunPruner(ctx, *retention, pruneInterval)
		}()
	}

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := http.NewServeMux()
			sup.AttachAdminRoutes(mux, reg)
			if jnl != nil {
				jnl.AttachAdminRoutes(mux)
			}

			server := &http.Server{
				Addr:    *listen,
				Handler: mux,
			}

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("admin server failed: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}
			log.Printf("HTTP server routine stopped")
		}()
	}

	wg.Wait()

	// Drain queued readings to the broker, then disconnect and close the
	// journal.
	if err := sink.Close(); err != nil {
		log.Printf("closing publishers: %v", err)
	}

	if err := <-runErr; errors.Is(err, supervisor.ErrRestartLimit) {
		log.Printf("exiting after repeated failures")
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}
