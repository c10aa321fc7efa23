package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumen-web/lumen"
	"github.com/lumen-web/lumen/config"
	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/router"
)

var (
	port    uint16
	threads int
	static  string
)

var rootCmd = &cobra.Command{
	Use:          "lumen",
	Short:        "Reactor-based HTTP/1.x server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		cfg := config.Default()
		cfg.Pool.CoreWorkers = threads

		r := router.New()
		r.Get("/healthz", func(req *http.Request) *http.Response {
			return http.NewResponse().ContentType("text/plain").String("ok")
		})
		if static != "" {
			r.Static("/", static)
		}

		app := lumen.New(fmt.Sprintf(":%d", port)).
			Tune(cfg).
			Logger(log).
			NotifyOnStart(func() { log.Info("server starting", zap.Uint16("port", port)) }).
			NotifyOnStop(func() { log.Info("server stopped") })

		return app.Serve(r)
	},
}

func init() {
	rootCmd.Flags().Uint16Var(&port, "port", 8080, "TCP port to listen on")
	rootCmd.Flags().IntVar(&threads, "threads", 4, "worker thread count")
	rootCmd.Flags().StringVar(&static, "static", "", "directory to serve statically")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
