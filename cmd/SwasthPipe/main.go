package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BTreeMap/SwasthPipe/internal/advisory"
	"github.com/BTreeMap/SwasthPipe/internal/api"
	"github.com/BTreeMap/SwasthPipe/internal/config"
	"github.com/BTreeMap/SwasthPipe/internal/dataset"
	"github.com/BTreeMap/SwasthPipe/internal/facility"
	"github.com/BTreeMap/SwasthPipe/internal/flow"
	"github.com/BTreeMap/SwasthPipe/internal/lockfile"
	"github.com/BTreeMap/SwasthPipe/internal/messaging"
	"github.com/BTreeMap/SwasthPipe/internal/report"
	"github.com/BTreeMap/SwasthPipe/internal/scheduler"
	"github.com/BTreeMap/SwasthPipe/internal/store"
	"github.com/BTreeMap/SwasthPipe/internal/telegram"
	"github.com/BTreeMap/SwasthPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/SwasthPipe/internal/whatsapp"
)

// Maintenance schedule.
const (
	// JanitorInterval is how often abandoned sessions are swept.
	JanitorInterval = time.Minute
	// DedupPurgeInterval is how often old de-duplication records are pruned.
	DedupPurgeInterval = time.Hour
	// DedupRetention is how long a de-duplication record is kept.
	DedupRetention = 7 * 24 * time.Hour
)

func main() {
	initializeLogger(slog.LevelDebug)
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("SwasthPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SwasthPipe exited successfully")
}

// initializeLogger installs a text handler at the given level as the default logger.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// flagBindings maps persistent flags to configuration keys.
var flagBindings = []struct {
	flag, key, usage string
	boolean          bool
}{
	{flag: "channel", key: "CHANNEL", usage: "chat channel: telegram, whatsapp or twilio (overrides $CHANNEL)"},
	{flag: "state-dir", key: "STATE_DIR", usage: "state directory for SwasthPipe data (overrides $STATE_DIR)"},
	{flag: "api-addr", key: "API_ADDR", usage: "API server address (overrides $API_ADDR)"},
	{flag: "dataset1", key: "DATASET1_PATH", usage: "path to the primary symptom dataset (overrides $DATASET1_PATH)"},
	{flag: "dataset2", key: "DATASET2_PATH", usage: "path to the supplementary symptom dataset (overrides $DATASET2_PATH)"},
	{flag: "log-level", key: "LOG_LEVEL", usage: "debug, info, warn or error (overrides $LOG_LEVEL)"},
	{flag: "qr-output", key: "QR_OUTPUT", usage: "path to write the WhatsApp login QR code"},
	{flag: "numeric-code", key: "NUMERIC_CODE", usage: "use a numeric WhatsApp login code instead of a QR code", boolean: true},
}

// newRootCommand builds the CLI with its own viper instance.
func newRootCommand() *cobra.Command {
	v := config.NewViper()

	root := &cobra.Command{
		Use:           "SwasthPipe",
		Short:         "Health-screening dialogue bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			return nil
		},
	}

	for _, b := range flagBindings {
		if b.boolean {
			root.PersistentFlags().Bool(b.flag, false, b.usage)
		} else {
			root.PersistentFlags().String(b.flag, "", b.usage)
		}
		_ = v.BindPFlag(b.key, root.PersistentFlags().Lookup(b.flag))
	}

	root.AddCommand(newServeCommand(v), newSymptomsCommand(v), newSearchCommand(v))
	return root
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			initializeLogger(cfg.SlogLevel())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newSymptomsCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "symptoms",
		Short: "Print the symptom checklist derived from the datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Decode(v)
			if err != nil {
				return err
			}
			catalog, err := dataset.LoadCatalog(cfg.Dataset1Path, cfg.Dataset2Path)
			if err != nil {
				return err
			}
			printSymptoms(cmd.OutOrStdout(), flow.NewChecklist(catalog.TopSymptoms(cfg.ChecklistSize)))
			return nil
		},
	}
}

func newSearchCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Print dataset context for a symptom term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Decode(v)
			if err != nil {
				return err
			}
			catalog, err := dataset.LoadCatalog(cfg.Dataset1Path, cfg.Dataset2Path)
			if err != nil {
				return err
			}
			printSearch(cmd.OutOrStdout(), catalog, args[0])
			return nil
		},
	}
}

func printSymptoms(w io.Writer, checklist *flow.Checklist) {
	for i, s := range checklist.Symptoms() {
		fmt.Fprintf(w, "%d. %s\n", i+1, s)
	}
}

func printSearch(w io.Writer, searcher api.DatasetSearcher, term string) {
	for _, source := range []dataset.Source{dataset.Primary, dataset.Supplementary} {
		fmt.Fprintf(w, "[%s]\n%s\n", source, searcher.Search(source, term))
	}
}

// channel bundles the running messaging service with what the rest of the
// process needs from it.
type channel struct {
	service messaging.Service
	webhook http.HandlerFunc
	close   func()
}

// buildTelegramOptions constructs Telegram client options
func buildTelegramOptions(cfg *config.Config) []telegram.Option {
	return []telegram.Option{
		telegram.WithToken(cfg.TelegramBotToken),
		telegram.WithDebug(cfg.TelegramDebug),
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(cfg *config.Config) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if cfg.QRPath != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QRPath))
	}
	if cfg.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if cfg.WhatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(cfg.WhatsAppDBDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(cfg *config.Config) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFromNumber(cfg.TwilioFromNumber),
	}
}

// openChannel connects the configured chat transport.
func openChannel(ctx context.Context, cfg *config.Config) (*channel, error) {
	switch cfg.Channel {
	case config.ChannelTelegram:
		client, err := telegram.NewClient(buildTelegramOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram client: %w", err)
		}
		return &channel{service: messaging.NewTelegramService(client), close: func() {}}, nil
	case config.ChannelWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create whatsapp client: %w", err)
		}
		return &channel{service: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil
	case config.ChannelTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		validator := twiliowhatsapp.NewSignatureValidator(cfg.TwilioAuthToken)
		svc := messaging.NewTwilioService(client, messaging.WithSignatureValidation(validator, cfg.TwilioWebhookURL))
		return &channel{service: svc, webhook: svc.WebhookHandler, close: func() {}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownChannel, cfg.Channel)
	}
}

// buildEngineOptions constructs dialogue engine options
func buildEngineOptions(cfg *config.Config, catalog *dataset.Catalog, transcripts store.TranscriptStore, finder facility.Finder) []flow.Option {
	opts := []flow.Option{
		flow.WithContextSearcher(catalog),
		flow.WithAdvisoryTimeout(cfg.AdvisoryTimeout),
		flow.WithSessionIdleTTL(cfg.SessionIdleTTL),
	}
	if transcripts != nil {
		opts = append(opts, flow.WithTranscriptSink(transcripts))
	}
	if finder != nil {
		opts = append(opts, flow.WithFacilityFinder(finder))
	}
	return opts
}

// buildDispatcherOptions enables inbound de-duplication when the store supports it.
func buildDispatcherOptions(transcripts store.TranscriptStore) []messaging.DispatcherOption {
	if repo, ok := transcripts.(store.DedupRepo); ok {
		return []messaging.DispatcherOption{messaging.WithDedup(repo)}
	}
	slog.Debug("Store does not support inbound de-duplication")
	return nil
}

// buildAPIOptions constructs API server options
func buildAPIOptions(cfg *config.Config, catalog *dataset.Catalog, transcripts store.TranscriptStore, webhook http.HandlerFunc) []api.Option {
	opts := []api.Option{
		api.WithDatasets(catalog),
		api.WithReportRenderer(report.NewRenderer(cfg.ReportFontPath)),
	}
	if transcripts != nil {
		opts = append(opts, api.WithTranscriptStore(transcripts))
	}
	if webhook != nil {
		opts = append(opts, api.WithTwilioWebhook(webhook))
	}
	return opts
}

// newFacilityFinder returns nil when no Places key is configured; location
// shares then get the no-facilities reply.
func newFacilityFinder(cfg *config.Config) facility.Finder {
	if cfg.GooglePlacesAPIKey == "" {
		slog.Warn("GOOGLE_PLACES_API_KEY not set, facility lookup disabled")
		return nil
	}
	finder, err := facility.NewPlacesFinder(cfg.GooglePlacesAPIKey, facility.WithRadius(cfg.FacilityRadiusMeters))
	if err != nil {
		slog.Error("Failed to create facility finder, lookup disabled", "error", err)
		return nil
	}
	return finder
}

// scheduleMaintenance registers the session sweep and, when the store
// supports it, the de-duplication purge.
func scheduleMaintenance(s *scheduler.Scheduler, engine *flow.Engine, transcripts store.TranscriptStore) error {
	if err := s.Every("session-janitor", JanitorInterval, func() { engine.ExpireIdleSessions() }); err != nil {
		return err
	}
	purger, ok := transcripts.(store.DedupPurger)
	if !ok {
		return nil
	}
	return s.Every("dedup-purge", DedupPurgeInterval, func() {
		n, err := purger.PurgeDedup(time.Now().Add(-DedupRetention))
		if err != nil {
			slog.Error("Dedup purge failed", "error", err)
			return
		}
		slog.Debug("Dedup purge completed", "removed", n)
	})
}

// serve runs every component until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.Channel)
	if err != nil {
		return err
	}
	defer lock.Release()

	catalog, err := dataset.LoadCatalog(cfg.Dataset1Path, cfg.Dataset2Path)
	if err != nil {
		return fmt.Errorf("failed to load datasets: %w", err)
	}
	checklist := flow.NewChecklist(catalog.TopSymptoms(cfg.ChecklistSize))
	slog.Info("Symptom checklist ready", "size", checklist.Len())

	gateway, err := advisory.New(cfg.Provider(), cfg.AdvisoryOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create advisory gateway: %w", err)
	}

	transcripts, err := store.Open(cfg.StoreDSN())
	if err != nil {
		// The bot keeps running without history; the API answers 503.
		slog.Error("Failed to open transcript store, transcripts will not be kept", "error", err)
	} else {
		defer transcripts.Close()
	}

	ch, err := openChannel(ctx, cfg)
	if err != nil {
		return err
	}
	defer ch.close()

	engine := flow.NewEngine(ch.service, gateway, checklist, buildEngineOptions(cfg, catalog, transcripts, newFacilityFinder(cfg))...)
	dispatcher := messaging.NewDispatcher(engine.HandleEvent, buildDispatcherOptions(transcripts)...)
	server := api.NewServer(buildAPIOptions(cfg, catalog, transcripts, ch.webhook)...)

	if err := ch.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s channel: %w", cfg.Channel, err)
	}

	maintenance := scheduler.NewScheduler()
	if err := scheduleMaintenance(maintenance, engine, transcripts); err != nil {
		return err
	}
	maintenance.Start()
	defer maintenance.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatcher.Run(ctx, ch.service.Events())
	}()

	slog.Info("SwasthPipe running", "channel", cfg.Channel, "provider", cfg.AdvisoryProvider, "api_addr", cfg.APIAddr)
	runErr := server.Run(ctx, cfg.APIAddr)
	if runErr != nil {
		slog.Error("API server stopped", "error", runErr)
	}

	cancel()
	if err := ch.service.Stop(); err != nil {
		slog.Warn("Channel stop failed", "error", err)
	}
	<-done
	slog.Info("SwasthPipe shut down", "open_sessions", engine.Sessions().Len())
	return runErr
}
