package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonproxy/pganonproxy/internal/apiserver"
	"github.com/anonproxy/pganonproxy/internal/config"
	"github.com/anonproxy/pganonproxy/internal/metrics"
	"github.com/anonproxy/pganonproxy/internal/pool"
	"github.com/anonproxy/pganonproxy/internal/resolver"
	"github.com/anonproxy/pganonproxy/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/pganonproxy.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("pganonproxy starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (k=%d)", *configPath, cfg.K)

	m := metrics.New()
	p, err := pool.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	p.SetOnPoolExhausted(m.PoolExhausted)

	go reportPoolStats(p, m, 5*time.Second)

	r := resolver.New(p)

	sessionServer, err := session.NewServer(cfg, r, m)
	if err != nil {
		log.Fatalf("Failed to build session server: %v", err)
	}
	if err := sessionServer.Listen(); err != nil {
		log.Fatalf("Failed to start proxy listener: %v", err)
	}

	apiServer := apiserver.NewServer(p, m, cfg.Listen)
	if err := apiServer.Start(cfg.Listen.APIPort); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Configuration reload observed; restart to apply upstream/listener changes")
		_ = newCfg
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("pganonproxy ready - listen:%d api:%d", cfg.Listen.Port, cfg.Listen.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	sessionServer.Stop()
	p.Close()

	log.Printf("pganonproxy stopped")
}

func reportPoolStats(p *pool.Pool, m *metrics.Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s := p.Stats()
		m.UpdatePoolStats(s.Active, s.Idle, s.Total, s.Waiting)
	}
}
