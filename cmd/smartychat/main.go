// smartychat is a group-chat relay bot: one XMPP identity that fans
// one-to-one messages out to everyone else in the sender's channel.
package main

import (
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/derat/smartychat/internal/chat"
	"github.com/derat/smartychat/internal/config"
	"github.com/derat/smartychat/internal/logging"
	"github.com/derat/smartychat/internal/metrics"
	"github.com/derat/smartychat/internal/xmpp"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		logger := logging.New(logging.Config{Level: "info", Format: logging.FormatPretty})
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	jid, password, err := readCredentials(cfg.CredentialsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CredentialsFile).Msg("Failed to read credentials")
	}

	met := metrics.New()
	stopSampler := make(chan struct{})
	met.StartSampler(cfg.MetricsInterval, stopSampler, logger)
	if cfg.MetricsEnabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", met.Handler())
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Fatal().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	session, err := xmpp.Dial(xmpp.Options{
		Host:     cfg.XMPPHost,
		JID:      jid,
		Password: password,
		NoTLS:    cfg.XMPPNoTLS,
		Debug:    cfg.XMPPDebug,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect")
	}

	engine := chat.NewEngine(chat.EngineOptions{
		Client:           session,
		Roster:           session,
		StateFile:        cfg.StateFile,
		SaveInterval:     cfg.SaveInterval,
		BatchInterval:    cfg.BatchInterval,
		SeparateMessages: cfg.SeparateMessages,
		Logger:           logger,
		Metrics:          met,
	})

	// Load the previous snapshot before any traffic arrives. A missing file
	// is a fresh start; a file we cannot parse is not.
	if data, err := os.ReadFile(cfg.StateFile); err == nil {
		if err := engine.Restore(data); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.StateFile).Msg("Failed to restore state")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Fatal().Err(err).Str("path", cfg.StateFile).Msg("Failed to read state file")
	}

	session.OnMessage(engine.HandleMessage)
	session.OnSubscriptionRequest(engine.HandleSubscriptionRequest)

	// A dead receive loop means a dead bot; save and crash rather than
	// linger as a silent zombie.
	go func() {
		err := session.Run()
		engine.SaveStateIfChanged()
		logger.Fatal().Err(err).Msg("XMPP session ended")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	engine.SaveStateIfChanged()
	close(stopSampler)
	os.Exit(0)
}

// readCredentials parses a one-line "jid password" file.
func readCredentials(path string) (jid, password string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return "", "", errors.New("expected a single \"jid password\" line")
	}
	return fields[0], fields[1], nil
}
