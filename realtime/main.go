// Command realtime subscribes to realtime topics and prints every event as
// a JSON line on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itskum47/pulsewire/realtime/binding"
	"github.com/itskum47/pulsewire/realtime/config"
	"github.com/itskum47/pulsewire/realtime/conn"
	"github.com/itskum47/pulsewire/realtime/log"
	"github.com/itskum47/pulsewire/realtime/protocol"
	"github.com/itskum47/pulsewire/realtime/session"
	"github.com/itskum47/pulsewire/realtime/streaming"
	"github.com/itskum47/pulsewire/realtime/timeline"
	"github.com/itskum47/pulsewire/realtime/topic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

var errLoggedOut = errors.New("server rejected the auth token")

type options struct {
	configPath  string
	url         string
	token       string
	topics      []string
	events      []string
	metricsAddr string
	logLevel    string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("realtime", pflag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", os.Getenv("PULSEWIRE_CONFIG"), "path to a YAML config file")
	fs.StringVar(&o.url, "url", "", "websocket endpoint (overrides config)")
	fs.StringVar(&o.token, "token", "", "auth token (overrides PULSEWIRE_TOKEN)")
	fs.StringArrayVar(&o.topics, "topic", nil, "canonical topic path to subscribe to (repeatable)")
	fs.StringArrayVar(&o.events, "event", nil, "event name to print (repeatable, default all known)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "address for /metrics (overrides config, \"off\" disables)")
	fs.StringVar(&o.logLevel, "log-level", "", "log level (overrides config)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if len(o.topics) == 0 {
		return o, errors.New("at least one --topic is required")
	}
	return o, nil
}

// resolve merges flags over the loaded config.
func resolve(o options) (config.Config, []topic.Topic, []protocol.EventKind, error) {
	cfg, err := config.Read(o.configPath)
	if err != nil {
		return cfg, nil, nil, err
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	if o.token != "" {
		cfg.Token = o.token
	}
	if o.metricsAddr != "" {
		cfg.MetricsAddr = o.metricsAddr
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, err
	}

	topics := make([]topic.Topic, 0, len(o.topics))
	for _, p := range o.topics {
		t, err := topic.Parse(p)
		if err != nil {
			return cfg, nil, nil, err
		}
		topics = append(topics, t)
	}

	events := protocol.KnownEvents
	if len(o.events) > 0 {
		events = make([]protocol.EventKind, len(o.events))
		for i, e := range o.events {
			events[i] = protocol.EventKind(e)
		}
	}
	return cfg, topics, events, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		log.Base().Error().Err(err).Msg("realtime exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdout io.Writer) error {
	cfg, topics, events, err := resolve(o)
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "realtime"})
	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s, err := session.Open(ctx, cfg, session.OnLogout(func() { cancel(errLoggedOut) }))
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.MetricsAddr != "" && cfg.MetricsAddr != "off" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           debugMux(s.Timeline),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving /metrics")
	}

	publisher := streaming.NewJSONLinesPublisher(stdout)
	forward := streaming.Forward(ctx, publisher)
	handlers := make(binding.Handlers, len(events))
	for _, e := range events {
		handlers[e] = forward
	}
	if _, err := s.Bind(topics, handlers); err != nil {
		return err
	}
	logger.Info().Strs(log.FieldTopics, topic.Paths(topics)).Str(log.FieldURL, cfg.URL).Msg("subscribed")

	signals := make(chan conn.Signal, 1)
	go s.Conn.WatchSignals(ctx, signals)
	relaySignals(ctx, signals)

	if err := context.Cause(ctx); errors.Is(err, errLoggedOut) {
		return err
	}
	return nil
}

// relaySignals maps SIGUSR1 to network-online and SIGUSR2 to visible until
// ctx is done.
func relaySignals(ctx context.Context, out chan<- conn.Signal) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			cs := conn.SignalNetworkOnline
			if s == syscall.SIGUSR2 {
				cs = conn.SignalVisible
			}
			select {
			case out <- cs:
			default:
			}
		}
	}
}

func debugMux(tl *timeline.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/timeline", func(w http.ResponseWriter, r *http.Request) {
		events := tl.GetAllEvents()
		if id := r.URL.Query().Get("conn_id"); id != "" {
			events = tl.GetEvents(id)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	})
	return mux
}
