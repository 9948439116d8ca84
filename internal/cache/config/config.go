// Package config loads cache engine configuration from flags with
// environment-variable fallback, matching the teacher's services/signaling/
// config/config.go pattern: Load() defines flags, then overrides any unset
// flag from its matching HOMESTEAD_* environment variable.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob the cache engine's entrypoint needs to wire up
// its stores, worker pool, and HTTP front-end.
type Config struct {
	LocalStorePath   string
	RemoteStores     []string // host:port list, transport-qualified (see RemoteTransport)
	RemoteTransport  string   // "http" or "grpc"
	Workers          int
	QueueSize        int
	HTTPAddr         string
	DefaultTTL       time.Duration
	CASRetries       int
	LogLevel         string
	ServerName       string
}

// Load parses flags (falling back to HOMESTEAD_* environment variables for
// any flag not explicitly passed) and returns the resulting Config.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("homestead-cache", flag.ContinueOnError)

	localStorePath := fs.String("local-store-path", envOr("HOMESTEAD_LOCAL_STORE_PATH", "./homestead-cache.db"), "path to the local embedded store file")
	remoteStores := fs.String("remote-stores", envOr("HOMESTEAD_REMOTE_STORES", ""), "comma-separated host:port list of remote store replicas")
	remoteTransport := fs.String("remote-transport", envOr("HOMESTEAD_REMOTE_TRANSPORT", "http"), "transport for remote stores: http or grpc")
	workers := fs.Int("workers", envOrInt("HOMESTEAD_WORKERS", 8), "number of cache processor worker goroutines")
	queueSize := fs.Int("queue-size", envOrInt("HOMESTEAD_QUEUE_SIZE", 1000), "cache processor job queue capacity")
	httpAddr := fs.String("http-addr", envOr("HOMESTEAD_HTTP_ADDR", ":8888"), "HTTP listen address for the reg-data API")
	defaultTTLSeconds := fs.Int("default-ttl-seconds", envOrInt("HOMESTEAD_DEFAULT_TTL_SECONDS", 1800), "default TTL applied to cache writes, in seconds")
	casRetries := fs.Int("cas-retries", envOrInt("HOMESTEAD_CAS_RETRIES", 5), "max CAS write attempts before giving up")
	logLevel := fs.String("log-level", envOr("HOMESTEAD_LOGLEVEL", "info"), "log level: debug, info, warn, error")
	serverName := fs.String("server-name", envOr("HOMESTEAD_SERVER_NAME", "homestead-cache"), "this server's own S-CSCF name; shown in the startup banner, not sent to the HSS")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	var remotes []string
	if *remoteStores != "" {
		for _, s := range strings.Split(*remoteStores, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				remotes = append(remotes, s)
			}
		}
	}

	transport := strings.ToLower(*remoteTransport)
	if transport != "http" && transport != "grpc" {
		return nil, fmt.Errorf("config: remote-transport must be \"http\" or \"grpc\", got %q", *remoteTransport)
	}

	return &Config{
		LocalStorePath:  *localStorePath,
		RemoteStores:    remotes,
		RemoteTransport: transport,
		Workers:         *workers,
		QueueSize:       *queueSize,
		HTTPAddr:        *httpAddr,
		DefaultTTL:      time.Duration(*defaultTTLSeconds) * time.Second,
		CASRetries:      *casRetries,
		LogLevel:        *logLevel,
		ServerName:      *serverName,
	}, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
