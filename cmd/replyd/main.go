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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/emitt/replyd/internal/analyzer"
	"github.com/emitt/replyd/internal/config"
	"github.com/emitt/replyd/internal/dedup"
	"github.com/emitt/replyd/internal/email"
	"github.com/emitt/replyd/internal/metrics"
	"github.com/emitt/replyd/internal/processor"
	"github.com/emitt/replyd/internal/reply"
	"github.com/emitt/replyd/internal/router"
	"github.com/emitt/replyd/internal/scheduler"
	"github.com/emitt/replyd/internal/sender"
	"github.com/emitt/replyd/internal/server"
	"github.com/emitt/replyd/internal/smtp"
	"github.com/emitt/replyd/internal/storage"
	"github.com/emitt/replyd/internal/translate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("replyd stopped with an error")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	for _, warning := range cfg.Validate() {
		logger.Warn().Str("problem", warning).Msg("Configuration incomplete")
	}

	store, err := storage.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	llm := processor.NewLLMClient(&cfg.LLM, logger)
	llm.ObserveLatency(m.CompletionTime)

	from := email.Address{Name: cfg.Outbound.FromName, Address: cfg.Outbound.FromAddress}
	mailer := sender.NewMailer(primarySender(cfg), fallbackSender(cfg), from, cfg.Outbound.Timeout, logger)

	rt, err := router.NewRouter(cfg.Mailboxes, logger)
	if err != nil {
		return err
	}

	opts := processor.Options{
		Secret:             cfg.Security.InboundSecret,
		AutoReply:          cfg.Processing.AutoReply(),
		TranslationFrom:    email.Address{Address: cfg.Outbound.TranslationFromAddress},
		DefaultTranslation: cfg.Processing.DefaultReplyLanguage,
		Parser:             email.NewParser(cfg.Processing.MaxContentLength, logger),
		Analyzer:           analyzer.NewAnalyzer(llm, cfg.LLM.MaxTokens, cfg.LLM.ReplyTemperature(), logger),
		Composer:           reply.NewComposer(cfg.Outbound.FromAddress, cfg.Processing.DefaultReplyLanguage),
		Translator:         translate.NewTranslator(llm, cfg.LLM.MaxTokens, cfg.LLM.TranslateTemperature(), logger),
		Mailer:             mailer,
		Store:              store,
		Router:             rt,
		Metrics:            m,
	}

	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := dedup.Connect(ctx, cfg.Redis.URL)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		opts.Dedup = dedup.NewFilter(rdb, cfg.Redis.DedupTTL)
		logger.Info().Dur("ttl", cfg.Redis.DedupTTL).Msg("Message-ID deduplication enabled")
	}

	proc := processor.NewProcessor(opts, logger)

	var cron *scheduler.Scheduler
	if cfg.Cleanup.Enabled {
		cron = scheduler.NewScheduler(&cfg.Cleanup, store, m, logger)
		if err := cron.Start(); err != nil {
			return err
		}
	}

	deps := server.Deps{
		Pipeline: proc,
		Store:    store,
		Mailer:   mailer,
		Gatherer: prometheus.DefaultGatherer,
	}
	if cron != nil {
		deps.Scheduler = cron
	}
	httpServer := server.NewServer(cfg, deps, logger)

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var smtpServer *smtp.Server
	if cfg.Server.SMTPEnabled {
		smtpServer = smtp.NewServer(&cfg.Server, cfg.Processing.MaxContentLength, func(ctx context.Context, e *email.ProcessedEmail) error {
			_, err := proc.ProcessRaw(ctx, e)
			return err
		}, logger)
		go func() {
			if err := smtpServer.Start(); err != nil {
				errCh <- fmt.Errorf("smtp server: %w", err)
			}
		}()
	}

	logger.Info().
		Str("http_addr", cfg.HTTPAddr()).
		Bool("smtp_enabled", cfg.Server.SMTPEnabled).
		Str("model", llm.Model()).
		Str("outbound", mailer.Status().Primary).
		Strs("mailboxes", rt.GetMailboxNames()).
		Msg("replyd started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Listener failed, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if smtpServer != nil {
		if err := smtpServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("SMTP server shutdown error")
		}
	}
	if cron != nil {
		if err := cron.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop scheduler")
		}
	}

	logger.Info().Msg("Server stopped gracefully")
	return runErr
}

// primarySender picks the delivery method named by outbound.provider.
func primarySender(cfg *config.Config) sender.EmailSender {
	o := cfg.Outbound
	switch o.Provider {
	case "resend":
		return sender.NewResendSender(o.ResendKey, o.Timeout)
	case "smtp":
		return sender.NewSMTPSender(o.Host, o.Port, o.Username, o.Password, o.Timeout)
	default:
		return sender.NoopSender{}
	}
}

// fallbackSender returns the SMTP relay when it backs up a non-SMTP primary.
func fallbackSender(cfg *config.Config) sender.EmailSender {
	o := cfg.Outbound
	if !o.SMTPFallback || o.Provider == "smtp" {
		return nil
	}
	s := sender.NewSMTPSender(o.Host, o.Port, o.Username, o.Password, o.Timeout)
	if !s.Configured() {
		return nil
	}
	return s
}
