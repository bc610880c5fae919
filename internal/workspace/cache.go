package workspace

import (
	"time"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/database"
	"github.com/hubslotph/kiro-whatsapp-integration/pkg/logger"
)

// DefaultCacheTTL is how long cached command results stay valid.
const DefaultCacheTTL = 5 * time.Minute

// ResultCache stores successful results for cacheable commands (read, list,
// status) keyed by workspace and command shape.
//
// The cache is deliberately forgiving: any storage error degrades to a miss,
// never to a command failure. Entries survive restarts but expire after TTL.
type ResultCache struct {
	db  *database.DB
	ttl time.Duration
	now func() time.Time
}

// NewResultCache creates a cache over the shared database.
func NewResultCache(db *database.DB, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResultCache{db: db, ttl: ttl, now: time.Now}
}

// Get looks up a fresh cached result. A miss, an expired entry, or a storage
// error all return ok=false.
func (c *ResultCache) Get(workspaceID, key string) (CommandResult, bool) {
	if c == nil || key == "" {
		return CommandResult{}, false
	}
	var (
		data      string
		execMs    int64
		expiresAt time.Time
	)
	err := c.db.QueryRow(
		`SELECT data, execution_time_ms, expires_at FROM command_cache
		 WHERE workspace_id = ? AND cache_key = ?`,
		workspaceID, key,
	).Scan(&data, &execMs, &expiresAt)
	if err != nil {
		return CommandResult{}, false
	}
	if c.now().After(expiresAt) {
		return CommandResult{}, false
	}
	return CommandResult{
		Success:         true,
		Data:            data,
		ExecutionTimeMs: execMs,
		CacheHit:        true,
	}, true
}

// Put stores a successful result. Failures are logged and swallowed.
func (c *ResultCache) Put(workspaceID, key string, result CommandResult) {
	if c == nil || key == "" || !result.Success {
		return
	}
	_, err := c.db.Exec(
		`INSERT INTO command_cache (workspace_id, cache_key, data, execution_time_ms, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(workspace_id, cache_key) DO UPDATE SET
			data = excluded.data,
			execution_time_ms = excluded.execution_time_ms,
			expires_at = excluded.expires_at`,
		workspaceID, key, result.Data, result.ExecutionTimeMs, c.now().Add(c.ttl),
	)
	if err != nil {
		logger.Warnf("[workspace] cache write failed for %s/%s: %v", workspaceID, key, err)
	}
}

// Invalidate removes every cached entry for a workspace.
func (c *ResultCache) Invalidate(workspaceID string) {
	if c == nil {
		return
	}
	if _, err := c.db.Exec(`DELETE FROM command_cache WHERE workspace_id = ?`, workspaceID); err != nil {
		logger.Warnf("[workspace] cache invalidate failed for %s: %v", workspaceID, err)
	}
}

// PurgeExpired deletes stale entries. Intended to run periodically.
func (c *ResultCache) PurgeExpired() {
	if c == nil {
		return
	}
	if _, err := c.db.Exec(`DELETE FROM command_cache WHERE expires_at < ?`, c.now()); err != nil {
		logger.Warnf("[workspace] cache purge failed: %v", err)
	}
}
