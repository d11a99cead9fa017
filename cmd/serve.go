package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/buggy/internal/api"
	"github.com/joescharf/buggy/internal/attachment"
	"github.com/joescharf/buggy/internal/markdown"
	"github.com/joescharf/buggy/internal/mutation"
	"github.com/joescharf/buggy/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

// shutdownSignals stop the long-running commands. syscall.SIGTERM is
// defined on every platform Go supports.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API and GitHub webhook server",
	Long: `Start an HTTP server with the REST API under /api/v1/ and, when
webhook.secret is set, the GitHub push webhook at /api/v1/webhooks/github.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
		defer stop()
		return serveRun(ctx, fmt.Sprintf(":%d", viper.GetInt("port")), newHandler(svc))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

// newHandler wires the API, attachments and webhook from config.
func newHandler(svc *mutation.Service) http.Handler {
	md := markdown.New(svc.Store(), viper.GetString("mail.base_url"))
	opts := []api.Option{
		api.WithAttachments(attachment.New(viper.GetString("attachments.dir"))),
	}
	if secret := viper.GetString("webhook.secret"); secret != "" {
		opts = append(opts, api.WithWebhook(webhook.NewHandler(secret, webhook.NewProcessor(svc, log.Logger), log.Logger)))
	} else {
		log.Warn().Msg("webhook.secret is not set; GitHub webhook disabled")
	}
	return api.NewServer(svc, md, log.Logger, opts...).Router()
}

// serveRun serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func serveRun(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("serving")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
