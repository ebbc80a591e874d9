// Copyright 2024 eMobility Hub GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// ocpi-hub is the OCPI 2.2.1 roaming hub. It synchronizes CPO resources
// (locations, tariffs, sessions, CDRs, tokens), answers token authorization
// requests and correlates asynchronous command results.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/authorization"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/commands"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/helpers"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/postgresql"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/store"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/v221"
	"github.com/emobility-hub/ocpi-hub/internal"
)

var buildtime string
var shutdownEnabled bool

func main() {
	var logLevel = os.Getenv("LOGGING_LEVEL")
	encoderConfig := ecszap.NewDefaultEncoderConfig()
	var core zapcore.Core
	switch logLevel {
	case "DEVELOPMENT":
		core = ecszap.NewCore(encoderConfig, os.Stdout, zap.DebugLevel)
	default:
		core = ecszap.NewCore(encoderConfig, os.Stdout, zap.InfoLevel)
	}
	logger := zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(logger)
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	zap.S().Infof("This is ocpi-hub build date: %s", buildtime)

	internal.Initfgtrace()

	// Prometheus
	metricsPath := "/metrics"
	metricsPort := ":2112"
	zap.S().Debugf("Setting up metrics %s %s", metricsPath, metricsPort)
	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()

	// Loading up user accounts
	accounts, err := helpers.LoadAccounts()
	if err != nil {
		zap.S().Fatalf("Failed to load accounts: %s", err)
	}

	allowDowngrade, err := env.GetAsString("ALLOW_DOWNGRADE", false, "")
	if err != nil {
		zap.S().Fatalf("Failed to read ALLOW_DOWNGRADE: %s", err)
	}
	if err := helpers.SetAllowDowngrade(allowDowngrade); err != nil {
		zap.S().Fatalf("%s", err)
	}

	// get currentVersion
	version, err := env.GetAsString("VERSION", false, "2.2.1")
	if err != nil {
		zap.S().Fatalf("Failed to read VERSION: %s", err)
	}

	zap.S().Debugf("Starting program..")

	redisURI, _ := env.GetAsString("REDIS_URI", false, "")           //nolint:errcheck
	redisPassword, _ := env.GetAsString("REDIS_PASSWORD", false, "") //nolint:errcheck
	redisDB := 0                                                     // default database
	dryRun, _ := env.GetAsString("DRY_RUN", false, "")               //nolint:errcheck
	internal.InitCache(redisURI, redisPassword, redisDB, dryRun)

	zap.S().Debugf("Cache initialized..")

	bus := events.NewBus()
	events.NewMetrics(bus, prometheus.DefaultRegisterer)

	stores := store.NewStores()
	engine := authorization.NewEngine(stores)

	queuePath, err := env.GetAsString("OUTBOX_QUEUE_PATH", false, "/data/outbox")
	if err != nil {
		zap.S().Fatalf("Failed to read OUTBOX_QUEUE_PATH: %s", err)
	}
	brokerURL, _ := env.GetAsString("MQTT_BROKER_URL", false, "")           //nolint:errcheck
	mqttClientID, _ := env.GetAsString("MQTT_CLIENT_ID", false, "ocpi-hub") //nolint:errcheck
	mqttPassword, _ := env.GetAsString("MQTT_PASSWORD", false, "")          //nolint:errcheck
	topicPrefix, _ := env.GetAsString("MQTT_TOPIC_PREFIX", false, "ocpi")   //nolint:errcheck

	outbox, err := events.NewOutbox(queuePath, brokerURL, mqttClientID, mqttPassword, topicPrefix)
	if err != nil {
		zap.S().Fatalf("Failed to set up outbox: %s", err)
	}
	outbox.Run(bus)

	commandTimeout, err := env.GetAsInt("COMMAND_TIMEOUT_SECONDS", false, 30)
	if err != nil {
		zap.S().Fatalf("Failed to read COMMAND_TIMEOUT_SECONDS: %s", err)
	}
	mailbox := commands.NewMailbox()
	dispatcher := commands.NewDispatcher(mailbox, outbox, time.Duration(commandTimeout)*time.Second)

	archive, err := postgresql.Connect(context.Background())
	if err != nil {
		zap.S().Fatalf("Failed to connect to postgres: %s", err)
	}
	archive.Run(bus)

	zap.S().Debugf("Setting up healthcheck")
	health := healthcheck.NewHandler()
	shutdownEnabled = false
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	health.AddReadinessCheck("shutdownEnabled", isShutdownEnabled())
	if archive != nil {
		health.AddReadinessCheck("postgres", archive.HealthCheck())
	}
	go func() {
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	helpers.Init(bus)
	v221.Init(stores, engine, dispatcher, mailbox, bus)
	server := SetupRestAPI(accounts, version, bus)
	zap.S().Infof("REST API initialized..")

	// Allow graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)

	go func() {
		// Kubernetes sends SIGTERM 30 seconds before
		// shutting down the pod.
		sig := <-sigs

		// Log the received signal
		zap.S().Infof("Received SIGTERM: %s", sig)

		ShutdownApplicationGraceful(server, outbox, archive)
	}()

	select {} // block forever
}

func isShutdownEnabled() healthcheck.Check {
	return func() error {
		if shutdownEnabled {
			return errShutdown
		}
		return nil
	}
}

var errShutdown = &shutdownError{}

type shutdownError struct{}

func (e *shutdownError) Error() string { return "shutdown" }

// ShutdownApplicationGraceful drains open requests, flushes the outbox and
// closes the archive before exiting.
func ShutdownApplicationGraceful(server *http.Server, outbox *events.Outbox, archive *postgresql.Archive) {
	zap.S().Infof("Shutting down application")
	shutdownEnabled = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zap.S().Warnf("Error shutting down REST API: %s", err)
	}

	outbox.Shutdown()
	archive.Shutdown()

	zap.S().Infof("Successful shutdown. Exiting.")

	// Gracefully exit.
	// (Use runtime.GoExit() if you need to call defers)
	os.Exit(0)
}
