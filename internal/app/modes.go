package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbcore/internal/config"
	"github.com/alanyoungcy/arbcore/internal/crypto"
	"github.com/alanyoungcy/arbcore/internal/detector"
	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/executor"
	"github.com/alanyoungcy/arbcore/internal/marketstate"
	"github.com/alanyoungcy/arbcore/internal/risk"
	"github.com/alanyoungcy/arbcore/internal/server"
	"github.com/alanyoungcy/arbcore/internal/venue/restexec"
	"github.com/alanyoungcy/arbcore/internal/venue/sim"
	"github.com/alanyoungcy/arbcore/internal/venue/wsfeed"
)

// MonitorMode ingests live quotes and logs detected opportunities without
// admitting or executing anything.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	feeds, err := a.buildFeeds()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	market := marketstate.New(a.logger)
	opps := make(chan domain.Opportunity, 32)
	det := detector.New(market, a.detectorConfig(), opps, a.logger)

	a.pumpFeeds(ctx, g, feeds, market)
	g.Go(func() error { return det.Run(ctx) })
	g.Go(func() error {
		log := a.logger.With(slog.String("component", "monitor"))
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp := <-opps:
				log.Info("opportunity detected",
					slog.String("opp_id", opp.ID),
					slog.String("instrument", string(opp.Instrument)),
					slog.String("buy_venue", opp.BuyVenue),
					slog.String("sell_venue", opp.SellVenue),
					slog.Float64("size", opp.Size),
					slog.Float64("expected_pnl_usd", opp.ExpectedPnLUSD),
				)
			}
		}
	})
	a.startServer(ctx, g, deps)

	return ignoreCancel(g.Wait())
}

// PaperMode runs the full pipeline against live quotes with simulated
// executors, so fills and PnL are tracked without touching real venues.
// Venues without a ws_url fall back to a scripted quote replay.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	feeds, err := a.buildFeeds()
	if err != nil {
		return err
	}

	executors := make(map[string]domain.VenueExecutor, len(a.cfg.Venues))
	for _, v := range a.cfg.EnabledVenues() {
		executors[v.ID] = sim.NewExecutor(v.ID, sim.ExecutorConfig{
			FillDelay: 50 * time.Millisecond,
			FillRatio: 1,
			FeeBps:    v.FeeBps,
		})
	}

	return a.runPipeline(ctx, deps, feeds, executors, nil)
}

// TradeMode runs the full pipeline against live venues: websocket quotes in,
// signed REST orders out. Interrupted attempts are recovered before any new
// opportunity is admitted.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	feeds, err := a.buildFeeds()
	if err != nil {
		return err
	}
	executors, gateways, err := a.buildGateways()
	if err != nil {
		return err
	}

	return a.runPipeline(ctx, deps, feeds, executors, gateways)
}

// RecoverMode rebuilds state from the ledger, drives every interrupted
// attempt to a terminal state, and exits.
func (a *App) RecoverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting recover mode")

	executors, gateways, err := a.buildGateways()
	if err != nil {
		return err
	}
	if err := deps.Ledger.Rebuild(ctx); err != nil {
		return fmt.Errorf("app: rebuild ledger: %w", err)
	}

	coord := executor.New(executors, deps.Ledger, a.executionConfig(), a.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, runCtx := errgroup.WithContext(runCtx)
	for _, gw := range gateways {
		g.Go(func() error { return gw.Start(runCtx) })
	}
	g.Go(func() error { return coord.Run(runCtx) })

	err = coord.Recover(runCtx)
	cancel()
	_ = g.Wait()
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "recovery complete")
	return nil
}

// runPipeline is the shared detection-to-execution loop for paper and trade
// modes.
func (a *App) runPipeline(
	ctx context.Context,
	deps *Dependencies,
	feeds []domain.VenueFeed,
	executors map[string]domain.VenueExecutor,
	gateways []*restexec.Executor,
) error {
	if err := deps.Ledger.Rebuild(ctx); err != nil {
		return fmt.Errorf("app: rebuild ledger: %w", err)
	}

	market := marketstate.New(a.logger)
	opps := make(chan domain.Opportunity, 32)
	det := detector.New(market, a.detectorConfig(), opps, a.logger)
	gate := risk.NewGate(deps.Leases, deps.Ledger, risk.Config{
		MaxVenueExposure:      a.cfg.Risk.MaxVenueExposure,
		MaxInstrumentExposure: a.cfg.Risk.MaxInstrumentExposure,
		Cooldown:              a.cfg.Risk.Cooldown.Duration,
		LeaseTTL:              a.cfg.Risk.LeaseTTL.Duration,
	}, a.logger)
	coord := executor.New(executors, deps.Ledger, a.executionConfig(), a.logger)

	g, ctx := errgroup.WithContext(ctx)
	for _, gw := range gateways {
		g.Go(func() error { return gw.Start(ctx) })
	}
	g.Go(func() error { return coord.Run(ctx) })

	// Interrupted attempts are resolved before new ones are admitted.
	if err := coord.Recover(ctx); err != nil {
		return fmt.Errorf("app: recover: %w", err)
	}

	a.pumpFeeds(ctx, g, feeds, market)
	g.Go(func() error { return det.Run(ctx) })

	// Admission loop. Execution runs on its own goroutine so a slow attempt
	// never blocks detection; the lease keeps the instrument serialized.
	// inflight tracks those goroutines so shutdown waits for every attempt
	// to reach a terminal state before dependencies are torn down.
	var inflight sync.WaitGroup
	g.Go(func() error {
		log := a.logger.With(slog.String("component", "admission"))
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp := <-opps:
				release, err := gate.Admit(ctx, opp)
				if err != nil {
					log.Debug("opportunity rejected",
						slog.String("opp_id", opp.ID),
						slog.String("reason", err.Error()),
					)
					continue
				}
				inflight.Add(1)
				go func() {
					defer inflight.Done()
					if _, err := coord.Execute(ctx, opp, release); err != nil {
						log.Error("execution failed",
							slog.String("opp_id", opp.ID),
							slog.String("error", err.Error()),
						)
					}
				}()
			}
		}
	})

	a.startServer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	err := ignoreCancel(g.Wait())
	inflight.Wait()
	return err
}

// buildFeeds constructs a quote feed per enabled venue: websocket when a
// ws_url is configured, otherwise a scripted replay.
func (a *App) buildFeeds() ([]domain.VenueFeed, error) {
	venues := a.cfg.EnabledVenues()
	feeds := make([]domain.VenueFeed, 0, len(venues))
	for _, v := range venues {
		if v.WsURL == "" {
			feeds = append(feeds, sim.NewFeed(v.ID, scriptedQuotes(a.cfg.Instruments), 100*time.Millisecond))
			continue
		}
		auth, err := a.venueAuth(v)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, wsfeed.New(wsfeed.Config{
			VenueID: v.ID,
			URL:     v.WsURL,
			Auth:    auth,
		}, a.logger))
	}
	return feeds, nil
}

// buildGateways constructs a REST order gateway per enabled venue.
func (a *App) buildGateways() (map[string]domain.VenueExecutor, []*restexec.Executor, error) {
	executors := make(map[string]domain.VenueExecutor)
	var gateways []*restexec.Executor
	for _, v := range a.cfg.EnabledVenues() {
		auth, err := a.venueAuth(v)
		if err != nil {
			return nil, nil, err
		}
		gw := restexec.New(restexec.Config{
			VenueID: v.ID,
			BaseURL: v.RestURL,
			Auth:    auth,
		}, a.logger)
		executors[v.ID] = gw
		gateways = append(gateways, gw)
	}
	return executors, gateways, nil
}

// venueAuth resolves a venue's API credentials. Venues without any secret
// configured are treated as public (nil auth).
func (a *App) venueAuth(v config.VenueConfig) (*crypto.HMACAuth, error) {
	if v.ApiSecret == "" && v.EncryptedSecretPath == "" {
		return nil, nil
	}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     v.ApiSecret,
		EncryptedPath: v.EncryptedSecretPath,
		Password:      v.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: venue %s credentials: %w", v.ID, err)
	}
	return &crypto.HMACAuth{Key: v.ApiKey, Secret: secret}, nil
}

// pumpFeeds subscribes every feed and pumps its quotes into the market
// state store.
func (a *App) pumpFeeds(ctx context.Context, g *errgroup.Group, feeds []domain.VenueFeed, market *marketstate.Store) {
	instruments := make([]domain.Instrument, len(a.cfg.Instruments))
	for i, s := range a.cfg.Instruments {
		instruments[i] = domain.Instrument(s)
	}
	for _, feed := range feeds {
		g.Go(func() error {
			quotes, err := feed.Subscribe(ctx, instruments)
			if err != nil {
				return fmt.Errorf("app: subscribe %s: %w", feed.VenueID(), err)
			}
			for q := range quotes {
				market.Update(q)
			}
			return ctx.Err()
		})
	}
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}
	srv := server.New(server.Config{Port: a.cfg.Server.Port}, deps.Ledger, a.logger)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiver exports aged ledger history to object storage once a day.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
	log := a.logger.With(slog.String("component", "archiver"))
	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				if n, err := deps.Archiver.ArchiveEntries(ctx, cutoff); err != nil {
					log.Error("entry archive failed", slog.String("error", err.Error()))
				} else if n > 0 {
					log.Info("entries archived", slog.Int64("count", n))
				}
				if n, err := deps.Archiver.ArchiveAttempts(ctx, cutoff); err != nil {
					log.Error("attempt archive failed", slog.String("error", err.Error()))
				} else if n > 0 {
					log.Info("attempts archived", slog.Int64("count", n))
				}
			}
		}
	})
}

// scriptedQuotes builds a replay script with a small crossed spread per
// instrument, for venues running without a live feed.
func scriptedQuotes(instruments []string) []domain.VenueQuote {
	quotes := make([]domain.VenueQuote, 0, len(instruments))
	for _, inst := range instruments {
		quotes = append(quotes, domain.VenueQuote{
			Instrument: domain.Instrument(inst),
			BidPrice:   100.0,
			BidSize:    5,
			AskPrice:   100.2,
			AskSize:    5,
		})
	}
	return quotes
}

func (a *App) detectorConfig() detector.Config {
	return detector.Config{
		MinProfitUSD:    a.cfg.Detector.MinProfitUSD,
		MaxPositionSize: a.cfg.Detector.MaxPositionSize,
		SlippageBps:     a.cfg.Detector.SlippageBps,
		VenueFeeBps:     a.cfg.VenueFeeBps(),
		VenueLatency:    a.cfg.VenueLatency(),
		Debounce:        a.cfg.Detector.Debounce.Duration,
		Expiry:          a.cfg.Detector.Expiry.Duration,
	}
}

func (a *App) executionConfig() executor.Config {
	return executor.Config{
		AttemptTimeout:   a.cfg.Execution.AttemptTimeout.Duration,
		UnwindTimeout:    a.cfg.Execution.UnwindTimeout.Duration,
		FillToleranceBps: a.cfg.Execution.FillToleranceBps,
		SequentialLegs:   a.cfg.Execution.SequentialLegs,
		VenueFeeBps:      a.cfg.VenueFeeBps(),
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
