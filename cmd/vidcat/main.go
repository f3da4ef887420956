// Command vidcat: serve a fixed video catalog and stream the files behind it.
//
//	serve  Run the HTTP service (GET /videos, GET /videos/{file}, /healthz, /metrics)
//	list   Print the catalog JSON the service would serve
//	check  Probe /healthz and /videos of a running instance; non-zero exit on failure
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/snapetech/vidcat/internal/catalog"
	"github.com/snapetech/vidcat/internal/config"
	"github.com/snapetech/vidcat/internal/health"
	"github.com/snapetech/vidcat/internal/metrics"
	"github.com/snapetech/vidcat/internal/safepath"
	"github.com/snapetech/vidcat/internal/server"
	"github.com/snapetech/vidcat/internal/stream"
)

// setupLogging applies the configured level and format to the standard logrus logger.
func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("unknown log level %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// loadCatalog returns the seed file catalog when path is set, otherwise the built-in one.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

// writeCatalog prints the catalog as indented JSON.
func writeCatalog(w io.Writer, c *catalog.Catalog) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.List())
}

// localURL turns the listen address into a URL a local client can reach;
// wildcard hosts become loopback.
func localURL(cfg *config.Config) string {
	host := cfg.Host
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::", "[::]":
		host = "::1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

func main() {
	_ = config.LoadEnvFile(".env")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveAddr := serveCmd.String("addr", "", "Listen address host:port (default: VIDCAT_HOST:VIDCAT_PORT)")
	serveVideos := serveCmd.String("videos", "", "Videos directory (default: VIDCAT_VIDEOS_DIR)")
	serveCatalog := serveCmd.String("catalog", "", "Catalog JSON seed file (default: VIDCAT_CATALOG or built-in list)")

	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listCatalog := listCmd.String("catalog", "", "Catalog JSON seed file (default: VIDCAT_CATALOG or built-in list)")

	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
	checkURL := checkCmd.String("url", "", "Base URL of the instance (default: derived from VIDCAT_HOST/VIDCAT_PORT)")
	checkTimeout := checkCmd.Duration("timeout", 15*time.Second, "Overall check timeout")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <serve|list|check> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  serve  Run the catalog + streaming service\n")
		fmt.Fprintf(os.Stderr, "  list   Print the catalog JSON\n")
		fmt.Fprintf(os.Stderr, "  check  Health-check a running instance\n")
		os.Exit(1)
	}

	cfg := config.Load()
	setupLogging(cfg)

	switch os.Args[1] {
	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		if *serveAddr != "" {
			host, port, err := net.SplitHostPort(*serveAddr)
			if err != nil {
				log.Fatalf("serve: bad -addr %q: %v", *serveAddr, err)
			}
			cfg.Host = host
			if cfg.Port, err = strconv.Atoi(port); err != nil {
				log.Fatalf("serve: bad -addr port %q: %v", port, err)
			}
		}
		if *serveVideos != "" {
			cfg.VideosDir = *serveVideos
		}
		if *serveCatalog != "" {
			cfg.CatalogPath = *serveCatalog
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("serve: %v", err)
		}
		cat, err := loadCatalog(cfg.CatalogPath)
		if err != nil {
			log.Fatalf("serve: load catalog: %v", err)
		}
		root, err := safepath.New(cfg.VideosDir)
		if err != nil {
			log.Fatalf("serve: videos dir: %v", err)
		}
		m := metrics.New()
		streamer := stream.New(root, cfg.StreamWorkers, m)
		streamer.WaitTimeout = cfg.RequestTimeout
		log.WithFields(log.Fields{
			"videos_dir":     root.Dir(),
			"catalog":        cat.Len(),
			"stream_workers": cfg.StreamWorkers,
			"timeout":        cfg.RequestTimeout.String(),
		}).Info("vidcat config")

		srv := &server.Server{
			Addr:           cfg.Addr(),
			Catalog:        cat,
			Streamer:       streamer,
			Metrics:        m,
			RequestTimeout: cfg.RequestTimeout,
			MaxConns:       cfg.MaxConns,
			CORSOrigin:     cfg.CORSOrigin,
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := srv.Run(ctx); err != nil {
			log.WithError(err).Error("serve")
			os.Exit(1)
		}

	case "list":
		_ = listCmd.Parse(os.Args[2:])
		path := cfg.CatalogPath
		if *listCatalog != "" {
			path = *listCatalog
		}
		cat, err := loadCatalog(path)
		if err != nil {
			log.Fatalf("list: %v", err)
		}
		if err := writeCatalog(os.Stdout, cat); err != nil {
			log.Fatalf("list: %v", err)
		}

	case "check":
		_ = checkCmd.Parse(os.Args[2:])
		base := *checkURL
		if base == "" {
			base = localURL(cfg)
		}
		ctx, cancel := context.WithTimeout(context.Background(), *checkTimeout)
		defer cancel()
		if err := health.CheckEndpoints(ctx, base); err != nil {
			log.Errorf("check %s: %v", base, err)
			os.Exit(1)
		}
		videos, err := health.FetchCatalog(ctx, base)
		if err != nil {
			log.Errorf("check %s: %v", base, err)
			os.Exit(1)
		}
		fmt.Printf("OK %s (%d videos)\n", base, len(videos))

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}
