package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds backend configuration.
type Config struct {
	// Addr is the listen address for the ops HTTP server.
	Addr string
	DatabasePath string
	MasterSecret string
	// AgentURL is the websocket URL template for workspace agents;
	// %s is replaced by the workspace id.
	AgentURL string
	// WhatsAppToken is the Cloud API bearer token. Empty disables delivery
	// (notifications are logged instead).
	WhatsAppToken string
	// WhatsAppPhoneID identifies the sending phone number.
	WhatsAppPhoneID string
	Debug           bool
	AllowedOrigins  []string
	// BatchWindow overrides the notification batch window.
	BatchWindow time.Duration
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr            *string
	DatabasePath    *string
	MasterSecret    *string
	AgentURL        *string
	WhatsAppToken   *string
	WhatsAppPhoneID *string
	Debug           *bool
	BatchWindow     *time.Duration
}

// Load loads configuration from environment variables and applies any
// explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	port := 3010
	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	addr := fmt.Sprintf(":%d", port)
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./kiro-bridge.db"
	}
	if overrides.DatabasePath != nil {
		dbPath = *overrides.DatabasePath
	}

	masterSecret := os.Getenv("KIRO_MASTER_SECRET")
	if overrides.MasterSecret != nil {
		masterSecret = *overrides.MasterSecret
	}
	if masterSecret == "" {
		return nil, fmt.Errorf("KIRO_MASTER_SECRET environment variable is required")
	}

	agentURL := os.Getenv("KIRO_AGENT_URL")
	if agentURL == "" {
		agentURL = "ws://localhost:3011/workspaces/%s/channel"
	}
	if overrides.AgentURL != nil {
		agentURL = *overrides.AgentURL
	}

	waToken := os.Getenv("WHATSAPP_ACCESS_TOKEN")
	if overrides.WhatsAppToken != nil {
		waToken = *overrides.WhatsAppToken
	}
	waPhoneID := os.Getenv("WHATSAPP_PHONE_NUMBER_ID")
	if overrides.WhatsAppPhoneID != nil {
		waPhoneID = *overrides.WhatsAppPhoneID
	}
	if waToken != "" && waPhoneID == "" {
		return nil, fmt.Errorf("WHATSAPP_PHONE_NUMBER_ID is required when WHATSAPP_ACCESS_TOKEN is set")
	}

	debug := false
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		debug = true
	}
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	batchWindow := 30 * time.Second
	if raw := os.Getenv("NOTIFY_BATCH_WINDOW"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_BATCH_WINDOW %q: %w", raw, err)
		}
		batchWindow = d
	}
	if overrides.BatchWindow != nil {
		batchWindow = *overrides.BatchWindow
	}

	return &Config{
		Addr:            addr,
		DatabasePath:    dbPath,
		MasterSecret:    masterSecret,
		AgentURL:        agentURL,
		WhatsAppToken:   waToken,
		WhatsAppPhoneID: waPhoneID,
		Debug:           debug,
		AllowedOrigins:  []string{"*"},
		BatchWindow:     batchWindow,
	}, nil
}
