package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/config"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/crypto"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/database"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/events"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/notify"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/pipeline"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/workspace"
	"github.com/hubslotph/kiro-whatsapp-integration/pkg/logger"
)

// inboundMessage is the webhook payload for one chat message.
type inboundMessage struct {
	From        string `json:"from" binding:"required"`
	WorkspaceID string `json:"workspaceId" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

type linkRequest struct {
	Recipient string `json:"recipient" binding:"required"`
}

func main() {
	// Load configuration
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}

	// Set Gin mode
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Open database
	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize JWT manager
	jwtManager, err := crypto.NewJWTManager(cfg.MasterSecret)
	if err != nil {
		logger.Errorf("Failed to create JWT manager: %v", err)
		os.Exit(1)
	}

	// Outbound message sender
	var sender notify.Sender
	if cfg.WhatsAppToken != "" {
		sender, err = notify.NewWhatsAppSender(notify.WhatsAppConfig{
			AccessToken:   cfg.WhatsAppToken,
			PhoneNumberID: cfg.WhatsAppPhoneID,
		})
		if err != nil {
			logger.Errorf("Failed to create WhatsApp sender: %v", err)
			os.Exit(1)
		}
	} else {
		logger.Warnf("WHATSAPP_ACCESS_TOKEN not set - outbound messages are logged only")
		sender = notify.SenderFunc(func(_ context.Context, recipient, message string) error {
			logger.Infof("[outbound] to=%s\n%s", recipient, message)
			return nil
		})
	}

	// Notification dispatcher over the durable queue
	dispatcherCfg := notify.DefaultDispatcherConfig()
	dispatcherCfg.BatchWindow = cfg.BatchWindow
	dispatcher := notify.NewDispatcher(sender, notify.NewQueue(db), dispatcherCfg)
	if err := dispatcher.Start(context.Background()); err != nil {
		logger.Errorf("Failed to start dispatcher: %v", err)
		os.Exit(1)
	}
	defer dispatcher.Stop()

	// Workspace channel manager with cached results
	cache := workspace.NewResultCache(db, 5*time.Minute)
	var bridge *pipeline.EventBridge
	manager := workspace.NewManager(
		func(workspaceID string) string {
			return fmt.Sprintf(cfg.AgentURL, workspaceID)
		},
		jwtManager,
		workspace.DefaultConfig(),
		workspace.WithManagerCache(cache),
		workspace.WithManagerEventHandler(func(workspaceID string, evt wire.WorkspaceEvent) {
			bridge.HandleAgentEvent(workspaceID, evt)
		}),
	)
	defer manager.Close()

	p := pipeline.New(manager, dispatcher)
	bridge = pipeline.NewEventBridge(p, events.DefaultConfig())
	defer bridge.Close()

	// Create Gin router
	router := gin.Default()

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Root endpoint - returns plain text for client validation
	router.GET("/", func(c *gin.Context) {
		c.String(200, "Kiro WhatsApp bridge")
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"breaker": dispatcher.BreakerState().String(),
				"pending": dispatcher.Pending(),
			})
		})

		// Inbound chat messages (webhook). The reply goes back through the
		// outbound sender; the HTTP response is for the webhook caller only.
		v1.POST("/messages", func(c *gin.Context) {
			var msg inboundMessage
			if err := c.ShouldBindJSON(&msg); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
			bridge.Link(msg.From, msg.WorkspaceID)
			reply := p.HandleText(c.Request.Context(), msg.From, msg.WorkspaceID, msg.Text)
			if err := sender.Send(c.Request.Context(), msg.From, reply); err != nil {
				logger.Errorf("Failed to send reply to %s: %v", msg.From, err)
			}
			c.JSON(200, gin.H{"reply": reply})
		})

		v1.GET("/workspaces/:id/status", func(c *gin.Context) {
			id := c.Param("id")
			c.JSON(200, gin.H{
				"workspaceId": id,
				"state":       manager.State(id).String(),
			})
		})

		v1.POST("/workspaces/:id/links", func(c *gin.Context) {
			var req linkRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
			bridge.Link(req.Recipient, c.Param("id"))
			c.JSON(200, gin.H{"success": true})
		})

		v1.DELETE("/workspaces/:id/links/:recipient", func(c *gin.Context) {
			bridge.Unlink(c.Param("recipient"), c.Param("id"))
			c.JSON(200, gin.H{"success": true})
		})
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("Kiro WhatsApp bridge starting on http://localhost%s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP server failed: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal, then drain
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown failed: %v", err)
	}
}
