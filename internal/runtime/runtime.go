package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-minutes/internal/audio"
	"github.com/loqalabs/loqa-minutes/internal/bus"
	"github.com/loqalabs/loqa-minutes/internal/config"
	"github.com/loqalabs/loqa-minutes/internal/eventstore"
	"github.com/loqalabs/loqa-minutes/internal/importer"
	"github.com/loqalabs/loqa-minutes/internal/llm"
	"github.com/loqalabs/loqa-minutes/internal/mcpserver"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
	"github.com/loqalabs/loqa-minutes/internal/minutes"
	"github.com/loqalabs/loqa-minutes/internal/natsserver"
	"github.com/loqalabs/loqa-minutes/internal/notify"
	"github.com/loqalabs/loqa-minutes/internal/stt"
)

type Runtime struct {
	cfg         config.Config
	version     string
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	store      *eventstore.Store
	timeline   *eventstore.Timeline
	stt        *stt.Service
	controller *meeting.Controller
	importer   *importer.Importer
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start brings up the daemon and blocks until ctx is cancelled. An active
// recording is stopped and archived during shutdown.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		r.shutdown()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	newAPI(r.controller, r.store, r.importer, r.logger).register(mux)
	if r.cfg.HTTP.MCP {
		mux.Handle("/mcp", mcpserver.Handler(mcpserver.New(r.controller, r.store, r.version, r.logger)))
	}

	if metricsHandler != nil {
		if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", metricsHandler)
			r.metricsSrv = &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
			r.serve(r.metricsSrv, "metrics")
		} else {
			mux.Handle("/metrics", metricsHandler)
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("version", r.version))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	r.shutdown()
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.timeline = eventstore.NewTimeline(r.store, r.logger)

	recognizer, err := stt.NewRecognizer(r.cfg.STT)
	if err != nil {
		return err
	}
	r.stt = stt.NewService(ctx, r.cfg.STT, r.bus, recognizer, r.logger)
	if err := r.stt.Start(); err != nil {
		return err
	}

	capture, err := audio.NewCapture(r.cfg.Audio, r.logger)
	if err != nil {
		return err
	}
	tap := audio.NewTap(capture, r.bus, r.cfg.Audio.SourceID, float64(r.cfg.Audio.SilenceRMS),
		ms(r.cfg.Audio.SilenceHoldMS), r.logger)
	recognition := stt.NewBusStream(r.bus, r.cfg.Audio.SourceID, ms(r.cfg.STT.StreamIdleTimeoutMS), r.logger)

	opts := meetingOptions(r.cfg)
	opts.Encoder = audio.WAVEncoder{Dir: r.cfg.Audio.RecordingsDir}
	opts.Archiver = r.store
	opts.Notifier = meeting.MultiNotifier{notify.NewBusNotifier(r.bus, r.logger), r.timeline}
	opts.Logger = r.logger
	if r.cfg.LLM.Enabled {
		gen, err := llm.NewGenerator(r.cfg.LLM)
		if err != nil {
			return err
		}
		opts.Minutes = minutes.NewLLMService(gen, r.cfg.LLM, ms(r.cfg.Meeting.MinutesTimeoutMS), r.logger)
	}
	r.controller = meeting.NewController(tap, recognition, opts)
	r.importer = importer.New(recognizer, importer.Options{
		SilenceRMS:       float64(r.cfg.Audio.SilenceRMS),
		SilenceHold:      ms(r.cfg.Audio.SilenceHoldMS),
		Chunk:            ms(r.cfg.Audio.ChunkMS),
		SilenceThreshold: opts.SilenceThreshold,
		MergeWindow:      opts.MergeWindow,
		SpeakerPrefix:    opts.SpeakerPrefix,
		Palette:          opts.Palette,
		Minutes:          opts.Minutes,
		Encoder:          opts.Encoder,
		Archiver:         r.store,
		Logger:           r.logger,
	})
	return nil
}

// meetingOptions maps the meeting section of the config onto controller options.
func meetingOptions(cfg config.Config) meeting.Options {
	return meeting.Options{
		SilenceThreshold: ms(cfg.Meeting.SilenceThresholdMS),
		MergeWindow:      ms(cfg.Meeting.MergeWindowMS),
		TickInterval:     ms(cfg.Meeting.TickIntervalMS),
		SpeakerPrefix:    cfg.Meeting.SpeakerPrefix,
		Palette:          cfg.Meeting.Palette,
		ManualMinutes:    !cfg.Meeting.AutoSummarize,
	}
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// shutdown releases everything startServices created, in reverse order. It
// tolerates partially started runtimes.
func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.controller != nil {
		if _, err := r.controller.Stop(shutdownCtx); err != nil {
			r.logger.Warn("final stop reported an error", slog.String("error", err.Error()))
		}
	}
	if r.stt != nil {
		r.stt.Close()
	}
	if r.timeline != nil {
		r.timeline.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.stt.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
