package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sonroyaalmerol/tubequeue/internal/audio"
	"github.com/sonroyaalmerol/tubequeue/internal/autocomplete"
	"github.com/sonroyaalmerol/tubequeue/internal/config"
	"github.com/sonroyaalmerol/tubequeue/internal/handlers"
	"github.com/sonroyaalmerol/tubequeue/internal/health"
	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/repository"
	"github.com/sonroyaalmerol/tubequeue/internal/sponsorblock"
	"github.com/sonroyaalmerol/tubequeue/internal/spotify"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck())
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	db, err := repository.OpenDB(cfg.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	repo := repository.NewRepo(db, handlers.DefaultSettings(cfg))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.YtDlpAutoInstall {
		stream.Install(ctx)
	}
	if cfg.HealthcheckPath != "" {
		go health.Run(ctx, cfg.HealthcheckPath, cfg.HealthcheckInterval)
	}

	opts := stream.Options{Cookies: cfg.YtDlpCookies, Proxy: cfg.YtDlpProxy}
	prov := player.StreamProvisioner(stream.NewProvisioner(opts, audio.NewDecoder(), cfg.StreamStartTimeout))
	if cfg.SponsorBlock {
		prov = sponsorblock.Wrap(prov, sponsorblock.NewApplier(cfg.SponsorBlockBackoff))
	}
	deps := handlers.Deps{
		Store:       repo,
		Resolver:    stream.NewResolver(opts),
		Provisioner: prov,
	}

	var sp *spotify.Client
	if cfg.SpotifyEnabled() {
		sp = spotify.NewClientCredentials(ctx, cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		deps.Links = append(deps.Links, sp)
		slog.Info("spotify links enabled")
	}
	deps.Suggester = autocomplete.NewSuggester(sp)

	if err := handlers.NewBot(cfg, deps).Run(ctx); err != nil {
		log.Fatal(err)
	}
}

// healthcheck reports liveness from the heartbeat file for container
// probes. It only reads the environment, so it works without a token.
func healthcheck() int {
	path := os.Getenv("HEALTHCHECK_PATH")
	if path == "" {
		fmt.Fprintln(os.Stderr, "HEALTHCHECK_PATH is not set")
		return 1
	}
	maxAge := 120 * time.Second
	if v := os.Getenv("HEALTHCHECK_MAX_AGE_SECONDS"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			maxAge = time.Duration(secs) * time.Second
		}
	}
	if err := health.Check(path, maxAge, time.Now()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
