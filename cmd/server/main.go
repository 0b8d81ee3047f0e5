// Command server runs the gateway: the HTTP surface, the rotation FSM,
// and the control-channel link a browseragent process dials into.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"genai-relay/internal/config"
	"genai-relay/internal/constants"
	"genai-relay/internal/coordinator"
	"genai-relay/internal/credential"
	"genai-relay/internal/events"
	"genai-relay/internal/link"
	"genai-relay/internal/logging"
	"genai-relay/internal/metrics"
	"genai-relay/internal/queue"
	"genai-relay/internal/rotation"
	"genai-relay/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to optional YAML configuration overlay")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load configuration:", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "configure logging:", err)
		os.Exit(1)
	}

	credStore, err := credential.NewStore(cfg.AuthDir)
	if err != nil {
		log.WithError(err).Fatal("server: failed to discover credentials")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewRecorder()

	eventHub := events.NewHub()
	queues := queue.NewRegistry()
	controlLink := link.New(constants.ReconnectGrace, queues)
	controlLink.OnConnectionAdded(func() {
		eventHub.Publish(events.TopicConnectionAdded, nil)
		recorder.SetLinkConnected(true)
	})
	controlLink.OnConnectionLost(func() {
		eventHub.Publish(events.TopicConnectionLost, nil)
		recorder.SetLinkConnected(false)
	})

	rebinder := rotation.RebinderFunc(func(_ context.Context, index int) error {
		// The gateway never drives the browser session itself; rebinding
		// the live session to a different credential is the connected
		// browseragent's job. This only confirms the target credential is
		// one the agent could plausibly authenticate with.
		if _, err := credStore.Get(index); err != nil {
			return fmt.Errorf("rebind to index %d: %w", index, err)
		}
		return nil
	})

	rotCfg := rotation.Config{
		FailureThreshold:           cfg.FailureThreshold,
		SwitchOnUses:               cfg.SwitchOnUses,
		ImmediateSwitchStatusCodes: cfg.ImmediateSwitchStatuses,
	}
	rotController := rotation.New(credStore.AvailableIndices(), cfg.InitialAuthIndex, rotCfg, rebinder)

	// cfg is also wired into server.OperatorDeps.Config below: the
	// coordinator must read through the same pointer so an operator
	// switch-mode/toggle-reasoning/set-resume-config call takes effect
	// immediately instead of only changing a copy no request path reads.
	co := coordinator.New(controlLink, rotController, cfg, recorder)

	if dir := credStore.AuthDir(); dir != "" {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		config.WatchDir(dir, stopWatch, func() {
			if err := credStore.Reload(); err != nil {
				log.WithError(err).Warn("server: credential reload failed")
				return
			}
			rotController.SetAvailableIndices(credStore.AvailableIndices())
			log.Info("server: credential directory changed, reloaded")
		})
	}

	gaugeTicker := time.NewTicker(5 * time.Second)
	go func() {
		defer gaugeTicker.Stop()
		for {
			select {
			case <-gaugeTicker.C:
				recorder.SetOpenQueues(queues.Len())
				recorder.SetCurrentCredentialIndex(rotController.CurrentIndex())
			case <-ctx.Done():
				return
			}
		}
	}()

	engine := server.Build(server.Dependencies{
		Coordinator:    co,
		Link:           controlLink,
		APIKeys:        cfg.APIKeys,
		Debug:          cfg.Debug,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Operator: server.OperatorDeps{
			Rotation: rotController,
			Creds:    credStore,
			Config:   cfg,
			Events:   eventHub,
		},
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("server: listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server: listen failed")
		}
	}()

	<-ctx.Done()
	log.Info("server: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server: graceful shutdown failed")
	}
	queues.CloseAll(link.ErrLinkLost)
}
