package cloudsync

import (
	"context"
	"fmt"
	"time"

	"github.com/sqliteai/sqlite-sync/pkg/syncer"
)

// NetworkInit parses connStr (spec.md §6's sqlitecloud:// grammar),
// derives the check/upload endpoints, stashes the credential it
// carries, and — if Config.Transport was supplied at Open — builds the
// sync orchestrator (cloudsync_network_init). Every other network_*
// call requires this to have succeeded first.
func (e *Engine) NetworkInit(ctx context.Context, connStr string) error {
	ep, err := syncer.ParseConnString(connStr, e.siteID.Hex())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	e.conn.SetEndpoints(ep.Check, ep.Upload)
	if ep.APIKey != "" {
		e.conn.SetAPIKey(ep.APIKey)
	} else {
		e.conn.SetToken(ep.Token)
	}
	e.endpoint = ep

	if e.cfg.Transport != nil {
		e.orchestrator = syncer.New(e.host, e.changelog, e.settings, e.merge, e.cfg.Transport, e.siteID)
	}
	return nil
}

// SetAPIKey rotates the API-key credential used by the next network
// round trip (cloudsync_set_apikey).
func (e *Engine) SetAPIKey(key string) { e.conn.SetAPIKey(key) }

// SetToken rotates the bearer-token credential used by the next network
// round trip (cloudsync_set_token).
func (e *Engine) SetToken(token string) { e.conn.SetToken(token) }

// Terminate releases this Engine's per-connection network state: the
// parsed endpoint, credential, and orchestrator. A later NetworkInit
// call re-establishes them (cloudsync_terminate).
func (e *Engine) Terminate() {
	e.orchestrator = nil
	e.endpoint = syncer.Endpoint{}
	e.conn.SetEndpoints("", "")
	e.conn.SetToken("")
}

func (e *Engine) requireOrchestrator() (*syncer.Orchestrator, error) {
	if e.orchestrator == nil {
		return nil, ErrNotConfigured
	}
	return e.orchestrator, nil
}

// NetworkSendChanges uploads every local change since the send cursor
// and returns the row count uploaded (cloudsync_network_send_changes).
func (e *Engine) NetworkSendChanges(ctx context.Context) (int, error) {
	orch, err := e.requireOrchestrator()
	if err != nil {
		return 0, err
	}
	n, err := orch.Upload(ctx, e.endpoint)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return n, nil
}

// NetworkCheckChanges polls once for new changes since the check cursor
// and applies any it finds (cloudsync_network_check_changes).
func (e *Engine) NetworkCheckChanges(ctx context.Context) (int, error) {
	orch, err := e.requireOrchestrator()
	if err != nil {
		return 0, err
	}
	n, err := orch.Check(ctx, e.endpoint)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return n, nil
}

// NetworkCheckChangesSync polls for new changes with a bounded,
// sleeping retry, stopping at the first attempt that applies at least
// one row. A zero sleepInterval or maxRetries falls back to
// Config.RetrySleep/RetryAttempts (cloudsync_network_check_changes_sync).
func (e *Engine) NetworkCheckChangesSync(ctx context.Context, sleepInterval time.Duration, maxRetries int) (int, error) {
	orch, err := e.requireOrchestrator()
	if err != nil {
		return 0, err
	}
	if sleepInterval <= 0 {
		sleepInterval = e.cfg.RetrySleep
	}
	if maxRetries <= 0 {
		maxRetries = e.cfg.RetryAttempts
	}
	n, err := orch.CheckChangesSync(ctx, e.endpoint, sleepInterval, maxRetries)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return n, nil
}

// NetworkSync uploads then checks once, returning both row counts
// (cloudsync_network_sync).
func (e *Engine) NetworkSync(ctx context.Context) (uploaded, applied int, err error) {
	orch, err := e.requireOrchestrator()
	if err != nil {
		return 0, 0, err
	}
	uploaded, applied, err = orch.Sync(ctx, e.endpoint)
	if err != nil {
		return uploaded, applied, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return uploaded, applied, nil
}

// NetworkResetCheckVersion zeroes the check cursor, so the next check
// call re-downloads every change the peer has ever offered
// (cloudsync_network_reset_check_version).
func (e *Engine) NetworkResetCheckVersion(ctx context.Context) error {
	orch, err := e.requireOrchestrator()
	if err != nil {
		return err
	}
	if err := orch.ResetCheckCursor(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
