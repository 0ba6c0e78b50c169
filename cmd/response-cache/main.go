package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/response-cache/response-cache/cache"
	"github.com/response-cache/response-cache/core"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	portFlag           int
	providerFlag       string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&providerFlag, "provider", "", "Caching provider to use (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Database file for the sqlite provider")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	cfg := core.DefaultConfig()
	origin := originFlag
	if configFilenameFlag != "" {
		fileConfig, err := loadFileConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not load config")
		}
		cfg = fileConfig.coreConfig()
		if origin == "" {
			origin = fileConfig.Origin
		}
	}
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = dbFilenameFlag
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, err := range errs {
			log.Error().Err(err).Msg("Invalid configuration")
		}
		log.Fatal().Msg("Configuration is invalid")
	}
	cfg = cfg.Normalize()

	if origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	provider := buildProvider(cfg)
	if err := provider.Init(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Could not initialize cache provider")
	}

	restMiddleware, err := core.NewMiddleware(cfg, provider, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache middleware")
	}
	graphqlMiddleware, err := core.NewGraphQLMiddleware(cfg, provider, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create graphql cache middleware")
	}

	proxy := httputil.NewSingleHostReverseProxy(originURL)

	router := chi.NewRouter()
	router.Route("/__cache", func(r chi.Router) {
		r.Post("/reset", resetHandler(provider))
		r.Post("/invalidate", invalidateHandler(provider))
		r.Get("/keys", keysHandler(provider))
	})
	router.Handle(cfg.GraphQLEndpoint, graphqlMiddleware.Wrap(proxy))
	router.Handle("/*", restMiddleware.Wrap(proxy))

	log.Info().Msgf("Caching port %v in front of %s (provider '%s')", portFlag, originURL.String(), cfg.Provider)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), router); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func buildProvider(cfg core.Config) cache.Provider {
	switch cfg.Provider {
	case core.ProviderRemote:
		return cache.NewRemoteProvider(cache.RemoteConfig{
			Addr:         cfg.Remote.Addr,
			ClusterAddrs: cfg.Remote.ClusterAddrs,
			Namespace:    cfg.Remote.Namespace,
			Username:     cfg.Remote.Username,
			Password:     cfg.Remote.Password,
			TTL:          cfg.TTL,
			Logger:       &log.Logger,
		})
	case core.ProviderSQLite:
		return cache.NewSQLiteProvider(cache.SQLiteConfig{
			Path:   cfg.SQLitePath,
			TTL:    cfg.TTL,
			Logger: &log.Logger,
		})
	default:
		return cache.NewMemoryProvider(cache.MemoryConfig{
			MaxEntries: cfg.Max,
			MaxBytes:   cfg.Size,
			TTL:        cfg.TTL,
			AllowStale: cfg.AllowStale,
			Logger:     &log.Logger,
		})
	}
}

// resetHandler evicts every cached entry.
func resetHandler(provider cache.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !provider.Reset(r.Context()) {
			http.Error(w, "reset failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// invalidateHandler deletes every key matching the posted patterns.
func invalidateHandler(provider cache.Provider) http.HandlerFunc {
	type request struct {
		Patterns []string `json:"patterns"`
	}
	type response struct {
		Cleared int `json:"cleared"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Patterns) == 0 {
			http.Error(w, "expected a JSON body with a patterns list", http.StatusBadRequest)
			return
		}
		cleared := provider.ClearMatching(r.Context(), req.Patterns)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response{Cleared: cleared})
	}
}

// keysHandler lists all live cache keys.
func keysHandler(provider cache.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := provider.Keys(r.Context())
		if keys == nil {
			keys = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(keys)
	}
}
