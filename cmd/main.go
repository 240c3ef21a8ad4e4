package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	svcMetric "github.com/rudderlabs/rudder-go-kit/stats/metric"

	"github.com/rudderlabs/marketo-import-proxy/internal/api"
	"github.com/rudderlabs/marketo-import-proxy/internal/genai"
	"github.com/rudderlabs/marketo-import-proxy/internal/importer"
	"github.com/rudderlabs/marketo-import-proxy/internal/marketo"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "marketo-import-proxy: %v\n", err)
		os.Exit(1)
	}
}

// Run wires the service together and blocks until ctx is cancelled or the
// web server stops on its own.
func Run(ctx context.Context) error {
	conf := config.Default
	loggerFactory := logger.NewFactory(conf)
	defer loggerFactory.Sync()
	log := loggerFactory.NewLogger()

	statsFactory := stats.NewStats(conf, loggerFactory, svcMetric.Instance)
	if err := statsFactory.Start(ctx, stats.DefaultGoRoutineFactory); err != nil {
		return fmt.Errorf("starting stats: %w", err)
	}
	defer statsFactory.Stop()

	marketoClient := marketo.New(conf, log, statsFactory)
	imp := importer.New(conf, log, statsFactory, marketoClient)
	generator := genai.New(conf, log)

	a := api.New(conf, log, statsFactory, marketoClient, imp, generator)

	log.Infon("starting marketo import proxy")
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("running web server: %w", err)
	}
	return nil
}
