package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ariaview/aria2"
	"ariaview/config"
	"ariaview/handlers"
	"ariaview/middleware"
	"ariaview/services"
	"ariaview/websocket"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to aria2 and serve the live job view",
	Args:  cobra.NoArgs,
	RunE:  serveMain,
}

func serveMain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return StartWebServer(ctx, cfg)
}

// StartWebServer connects to aria2 and serves viewers until ctx is
// cancelled. Failing to reach aria2 at startup is fatal.
func StartWebServer(ctx context.Context, cfg *config.Config) error {
	gin.SetMode(cfg.Server.GinMode)

	client, err := aria2.Dial(ctx, aria2.Options{
		URL:     cfg.Aria2.URL,
		Secret:  cfg.Aria2.Secret,
		Timeout: cfg.Aria2.Timeout,
	})
	if err != nil {
		return errors.Wrap(err, "aria2 is unreachable")
	}
	defer client.Close()

	// Initialize services
	engine := services.NewEngine(services.ClientUpstream{Client: client}, cfg.Sync)
	hub := websocket.NewHub()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           SetupRouter(engine, hub, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(ctx)
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Infof("ariaview web server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "web server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// SetupRouter builds the HTTP surface over the engine
func SetupRouter(engine services.DownloadService, hub websocket.Hub, corsOrigins []string) *gin.Engine {
	downloadHandler := handlers.NewDownloadHandler(engine, hub)
	healthHandler := handlers.NewHealthHandler(engine, hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(corsOrigins))
	r.Use(middleware.Logging())
	middleware.Metrics(r)

	setupRoutes(r, downloadHandler, healthHandler)
	return r
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, downloadHandler *handlers.DownloadHandler, healthHandler *handlers.HealthHandler) {
	// Health check endpoint
	r.GET("/health", healthHandler.HealthCheck)

	// API routes group
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", healthHandler.APIStatus)

		// Download Management Endpoints
		downloadsGroup := apiGroup.Group("/downloads")
		{
			downloadsGroup.POST("/uri", downloadHandler.AddURI)
			downloadsGroup.POST("/torrent", downloadHandler.AddTorrent)

			downloadsGroup.GET("", downloadHandler.GetAllJobs)
			downloadsGroup.GET("/:gid", downloadHandler.GetJob)
			downloadsGroup.DELETE("/:gid", downloadHandler.DeleteJob)
		}

		// WebSocket endpoints for live snapshots
		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("/downloads/:gid", downloadHandler.HandleWebSocketConnection)
			wsGroup.GET("/downloads", downloadHandler.HandleWebSocketAllConnection)
		}
	}
}
