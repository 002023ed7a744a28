package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Prismer-AI/rocketchat-bridge/internal/config"
	"github.com/Prismer-AI/rocketchat-bridge/internal/observability"
	"github.com/Prismer-AI/rocketchat-bridge/realtime"
	"github.com/Prismer-AI/rocketchat-bridge/sink"
)

var (
	listenOrigin       string
	listenRoom         string
	listenVisitorToken string
	listenSessionID    string
	listenInput        string
	listenOutput       string
	listenWebhookURL   string
	listenMetricsAddr  string
)

func init() {
	f := listenCmd.Flags()
	f.StringVar(&listenOrigin, "origin", "", "What to listen to: user, room or live")
	f.StringVar(&listenRoom, "room", "", "Room id, or kind:value (msg:, form:, env:)")
	f.StringVar(&listenVisitorToken, "visitor-token", "", "Live chat visitor token, or kind:value")
	f.StringVar(&listenSessionID, "session-id", "", "Correlation id attached to live events, or kind:value")
	f.StringVar(&listenInput, "input", "", "Input event (JSON) that msg: properties are evaluated against; @file reads a file")
	f.StringVar(&listenOutput, "output", "", "JSON-lines output file, - for stdout")
	f.StringVar(&listenWebhookURL, "webhook-url", "", "POST each event to this URL (needs sink.webhook_secret)")
	f.StringVar(&listenMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream messages from Rocket.Chat in realtime",
	Long: "Connect to the realtime API and write every new message as it arrives.\n" +
		"The connection is kept alive with pings and re-established after failures until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := applyListenFlags(cmd, cfg); err != nil {
			return err
		}
		log := newLogger(cfg)

		input, err := readInput(listenInput)
		if err != nil {
			return err
		}
		target, err := realtime.ResolveTarget(cfg.Target, input)
		if err != nil {
			return err
		}
		client, err := getClient(cfg)
		if err != nil {
			return err
		}

		out, err := buildSinks(cfg, log)
		if err != nil {
			return err
		}
		defer out.Close()

		metrics := observability.NewMetrics()
		if cfg.Listen.MetricsAddr != "" {
			srv := serveMetrics(cfg.Listen.MetricsAddr, metrics, log)
			defer shutdownServer(srv)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sup := realtime.New(cfg.Credentials(), realtime.NewRoomAPI(client),
			realtime.WithLogger(log),
			realtime.WithMetrics(metrics),
		)
		sup.OnMessage(func(ev realtime.Event) {
			// Events still flow during the shutdown grace, after ctx is done.
			dctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := out.Deliver(dctx, ev); err != nil {
				log.Error().Err(err).Str("event_id", ev.ID).Msg("delivery failed")
			}
		})
		sup.OnStateChange(func(s realtime.State) {
			log.Info().Stringer("state", s).Msg("state changed")
		})
		sup.OnReconnecting(func(d time.Duration) {
			log.Warn().Dur("delay", d).Msg("reconnecting")
		})
		sup.OnLoginFailed(func(err error) {
			log.Error().Err(err).Msg("login failed; check server.user_id and server.token")
		})

		if err := sup.Start(ctx, target); err != nil {
			return err
		}

		select {
		case <-sup.Done():
			// Closed by the server side (conversation ended).
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
		}
		log.Info().Msg("listener stopped")
		return nil
	},
}

// applyListenFlags lays command-line overrides over the configured target.
func applyListenFlags(cmd *cobra.Command, cfg *config.Config) error {
	overrides := []struct{ flag, key, value string }{
		{"origin", "target.origin", listenOrigin},
		{"room", "target.room", listenRoom},
		{"visitor-token", "target.visitor_token", listenVisitorToken},
		{"session-id", "target.session_id", listenSessionID},
		{"output", "sink.output", listenOutput},
		{"webhook-url", "sink.webhook_url", listenWebhookURL},
		{"metrics-addr", "listen.metrics_addr", listenMetricsAddr},
	}
	for _, o := range overrides {
		if !cmd.Flags().Changed(o.flag) {
			continue
		}
		if err := cfg.Set(o.key, o.value); err != nil {
			return fmt.Errorf("--%s: %w", o.flag, err)
		}
	}
	return nil
}

func readInput(v string) ([]byte, error) {
	if len(v) > 0 && v[0] == '@' {
		data, err := os.ReadFile(v[1:])
		if err != nil {
			return nil, fmt.Errorf("cannot read input: %w", err)
		}
		return data, nil
	}
	return []byte(v), nil
}

func buildSinks(cfg *config.Config, log zerolog.Logger) (sink.Fanout, error) {
	var out sink.Fanout
	switch cfg.Sink.Output {
	case "":
	case "-":
		// Hide Close so stdout survives the sink.
		out = append(out, sink.NewJSONLines(struct{ io.Writer }{os.Stdout}))
	default:
		f, err := os.OpenFile(cfg.Sink.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("cannot open output: %w", err)
		}
		out = append(out, sink.NewJSONLines(f))
	}
	if cfg.Sink.WebhookURL != "" {
		whLog := log.With().Str("component", "webhook").Logger()
		wh, err := sink.NewWebhook(cfg.Sink.WebhookURL, cfg.Sink.WebhookSecret, sink.WithWebhookLogger(whLog))
		if err != nil {
			return nil, err
		}
		if cfg.Sink.WebhookRetries > 0 {
			out = append(out, sink.NewOutbox(wh, sink.OutboxOptions{MaxRetries: cfg.Sink.WebhookRetries, Logger: whLog}))
		} else {
			out = append(out, wh)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no output configured; set sink.output or sink.webhook_url")
	}
	return out, nil
}

func serveMetrics(addr string, m *observability.Metrics, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
