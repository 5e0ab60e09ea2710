package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/kiliczsh/pyroxy"
	"github.com/kiliczsh/pyroxy/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	hostFlag           string
	portFlag           int
	providerFlag       string
	dbFilenameFlag     string
	debugFlag          bool
	logFilenameFlag    string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&hostFlag, "host", "", "Host to bind the server to (default 0.0.0.0)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 1458)")
	flag.StringVar(&providerFlag, "provider", "", "Cache provider to use: memory or sqlite")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name for the sqlite provider (in-memory if empty)")
	flag.BoolVar(&debugFlag, "debug", false, "Run in debug mode (debug logging)")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
}

func main() {
	flag.Parse()

	config := pyroxy.ServerConfig{}
	if configFilenameFlag != "" {
		var err error
		config, err = pyroxy.LoadServerConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot load config file")
		}
	}

	// flags override file config
	if hostFlag != "" {
		config.Host = hostFlag
	}
	if portFlag != 0 {
		config.Port = portFlag
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		config.DBFile = dbFilenameFlag
	}
	if debugFlag {
		config.Debug = true
	}
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}
	if config.Port == 0 {
		config.Port = 1458
	}

	// set log level
	logLevel := zerolog.InfoLevel
	if config.Debug {
		logLevel = zerolog.DebugLevel
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
		With().Str("version", pyroxy.Version).Logger()

	var store cache.Provider
	switch config.Provider {
	case "", "memory":
		store = cache.NewMemCache()
	case "sqlite":
		store = cache.NewSQLiteCache(config.DBFile)
	default:
		log.Fatal().Msgf("Unsupported cache provider: %s", config.Provider)
	}

	proxy := pyroxy.New(pyroxy.Config{
		Cache:               store,
		DefaultTTL:          time.Duration(config.DefaultCacheTime),
		MinTTL:              time.Duration(config.MinCacheTime),
		UpstreamTimeout:     time.Duration(config.UpstreamTimeout),
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		Logger:              &log.Logger,
	})

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	log.Info().Msgf("Starting pyroxy v%s", pyroxy.Version)
	log.Info().Msgf("Listening on http://%s/raw?url=https://www.github.com", addr)

	if err := http.ListenAndServe(addr, proxy.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
