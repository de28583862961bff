package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Gothik99/botweb/internal/bot"
	"github.com/Gothik99/botweb/internal/config"
	"github.com/Gothik99/botweb/internal/database"
	"github.com/Gothik99/botweb/internal/payment"
	"github.com/Gothik99/botweb/internal/settings"
	"github.com/Gothik99/botweb/internal/store"
	"github.com/Gothik99/botweb/internal/subscription"
	"github.com/Gothik99/botweb/internal/worker"
	"github.com/Gothik99/botweb/internal/xui"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.LoadConfig()

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not connect to database")
	}

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not connect to redis")
	}

	st := settings.NewManager(db)
	if err := st.Seed(settings.Defaults); err != nil {
		logger.Fatal().Err(err).Msg("could not seed settings")
	}
	if err := st.Reload(); err != nil {
		logger.Fatal().Err(err).Msg("could not load settings")
	}

	ledger := store.NewLedger(db, logger.With().Str("component", "ledger").Logger())
	payments := store.NewPayments(db)
	promos := store.NewPromos(db)
	tariffs := store.NewTariffs(db)
	if err := tariffs.SeedDefault(context.Background()); err != nil {
		logger.Error().Err(err).Msg("could not seed default tariff")
	}

	gateway := xui.NewGateway(
		func() string { return st.Get("email_domain", "vpn.bot") },
		logger.With().Str("component", "gateway").Logger(),
	)
	subs := subscription.NewService(ledger, gateway, st, logger.With().Str("component", "subscription").Logger())

	payClient := payment.NewClient(cfg.YookassaShop, cfg.YookassaKey)

	tgBot, err := bot.NewBot(cfg.BotToken, bot.Deps{
		Subs:          subs,
		Gateway:       gateway,
		Ledger:        ledger,
		Payments:      payments,
		Promos:        promos,
		Tariffs:       tariffs,
		PaymentClient: payClient,
		Settings:      st,
		Admins:        parseAdminIDs(cfg.AdminIDs),
		Log:           logger.With().Str("component", "bot").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("could not create bot")
	}

	payHandler := payment.NewHandler(payments, subs, st, tgBot.Instance, cfg.AllowedYooIP,
		logger.With().Str("component", "payment").Logger())
	poller := payment.NewPoller(payClient, payHandler, rdb, logger.With().Str("component", "poller").Logger())
	tgBot.Handler = payHandler
	tgBot.Poller = poller

	checker := worker.NewChecker(ledger, rdb, st, tgBot.Instance,
		logger.With().Str("component", "worker").Logger())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tgBot.Start(ctx)
		return nil
	})
	g.Go(func() error {
		checker.Start(ctx)
		return nil
	})
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.HandleFunc("/webhook/yookassa", payHandler.HandleWebhook)
		srv := &http.Server{Addr: cfg.WebhookAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	logger.Info().Msg("service started")
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
	logger.Info().Msg("service stopped")
}

func parseAdminIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
