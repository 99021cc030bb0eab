package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
	"github.com/sqliteai/sqlite-sync/pkg/log"
	"github.com/sqliteai/sqlite-sync/pkg/merge"
	"github.com/sqliteai/sqlite-sync/pkg/metrics"
	"github.com/sqliteai/sqlite-sync/pkg/settings"
	"github.com/sqliteai/sqlite-sync/pkg/vtab"
)

// Settings keys for the orchestrator's two cursors, mirroring spec.md
// §4.8; pkg/settings already names these as its well-known keys.
const (
	keySendDBVersion  = settings.KeySendDBVersion
	keySendSeq        = settings.KeySendSeq
	keyCheckDBVersion = settings.KeyCheckDBVersion
	keyCheckSeq       = settings.KeyCheckSeq
)

// Orchestrator drives spec.md §4.8's upload/check cycle: a local site's
// own changes go out via Upload, a peer's changes come in via Check,
// and CheckChangesSync wraps Check in a bounded, sleeping retry loop
// grounded directly on teacher pkg/reconciler.Reconciler.run's
// ticker-and-timer shape, adapted from an unbounded background loop to
// a bounded synchronous one.
type Orchestrator struct {
	host      dbengine.Host
	changelog *changelog.Store
	settings  *settings.Store
	writer    *vtab.Writer
	transport Transport
	localSite idgen.ID
	logger    zerolog.Logger

	// Compress controls whether Upload lz4-compresses the wire batch
	// before handing it to the transport. Check always attempts lz4
	// decompression first and falls back to treating the blob as plain
	// wire bytes if that fails, so either setting interoperates with a
	// peer running the other.
	Compress bool
}

// New builds an Orchestrator over host's change log and settings store,
// applying downloaded changes through engine and uploading/downloading
// through transport.
func New(host dbengine.Host, cl *changelog.Store, st *settings.Store, engine *merge.Engine, transport Transport, localSite idgen.ID) *Orchestrator {
	return &Orchestrator{
		host:      host,
		changelog: cl,
		settings:  st,
		writer:    vtab.NewWriter(engine, st),
		transport: transport,
		localSite: localSite,
		logger:    log.WithComponent("syncer"),
		Compress:  true,
	}
}

func (o *Orchestrator) sendCursor(ctx context.Context) (Cursor, error) {
	dbv, err := o.settings.GetInt(ctx, keySendDBVersion)
	if err != nil {
		return Cursor{}, err
	}
	seq, err := o.settings.GetInt(ctx, keySendSeq)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{DBVersion: uint64(dbv), Seq: uint32(seq)}, nil
}

func (o *Orchestrator) checkCursor(ctx context.Context) (Cursor, error) {
	dbv, err := o.settings.GetInt(ctx, keyCheckDBVersion)
	if err != nil {
		return Cursor{}, err
	}
	seq, err := o.settings.GetInt(ctx, keyCheckSeq)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{DBVersion: uint64(dbv), Seq: uint32(seq)}, nil
}

// ResetCheckCursor zeroes the check cursor (cloudsync_network_reset_check_version).
func (o *Orchestrator) ResetCheckCursor(ctx context.Context) error {
	if err := o.settings.SetInt(ctx, keyCheckDBVersion, 0); err != nil {
		return err
	}
	return o.settings.SetInt(ctx, keyCheckSeq, 0)
}

// Upload implements spec.md §4.8's upload step: select every local
// change strictly after the send cursor, encode the batch, request an
// upload URL, upload, notify completion, and advance the send cursor
// to the batch's max (db_version, seq) on success. It returns the
// number of rows uploaded (0 if there was nothing new to send, in
// which case the transport is never contacted).
func (o *Orchestrator) Upload(ctx context.Context, ep Endpoint) (uploaded int, err error) {
	since, err := o.sendCursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("syncer: read send cursor: %w", err)
	}

	tx, err := o.host.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("syncer: begin: %w", err)
	}
	var entries []changelog.Entry
	var maxCursor = since
	scanErr := o.changelog.ScanSince(ctx, tx, since, &o.localSite, func(e changelog.Entry) (bool, error) {
		entries = append(entries, e)
		cur := Cursor{DBVersion: e.DBVersion, Seq: e.Seq}
		if cur.DBVersion > maxCursor.DBVersion || (cur.DBVersion == maxCursor.DBVersion && cur.Seq > maxCursor.Seq) {
			maxCursor = cur
		}
		return true, nil
	})
	tx.Rollback()
	if scanErr != nil {
		return 0, fmt.Errorf("syncer: scan local changes: %w", scanErr)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	batch, err := EncodeBatch(entries)
	if err != nil {
		return 0, err
	}
	if o.Compress {
		if compressed, cErr := CompressBatch(batch); cErr == nil {
			batch = compressed
		}
	}

	uploadURL, err := o.transport.RequestUpload(ctx, ep)
	if err != nil {
		metrics.SyncUploadsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("syncer: request upload url: %w", err)
	}
	if err := o.transport.PutBlob(ctx, uploadURL, batch); err != nil {
		metrics.SyncUploadsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("syncer: put blob: %w", err)
	}
	if err := o.transport.NotifyUploaded(ctx, ep, uploadURL); err != nil {
		metrics.SyncUploadsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("syncer: notify uploaded: %w", err)
	}

	if err := o.settings.SetInt(ctx, keySendDBVersion, int64(maxCursor.DBVersion)); err != nil {
		return 0, err
	}
	if err := o.settings.SetInt(ctx, keySendSeq, int64(maxCursor.Seq)); err != nil {
		return 0, err
	}

	metrics.SyncUploadsTotal.WithLabelValues("ok").Inc()
	metrics.SyncUploadRows.Observe(float64(len(entries)))
	o.logger.Debug().Int("rows", len(entries)).Msg("syncer: uploaded local changes")
	return len(entries), nil
}

// Check implements spec.md §4.8's check step: ask the transport for
// changes newer than the check cursor, and if it offers one, download
// and apply each decoded change through the virtual table's write
// side, advancing the check cursor to the highest (db_version, seq)
// seen in the batch regardless of how many entries the merge engine
// actually accepted (a skipped entry still moves the cursor past it).
func (o *Orchestrator) Check(ctx context.Context, ep Endpoint) (applied int, err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncCheckDuration)

	since, err := o.checkCursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("syncer: read check cursor: %w", err)
	}

	url, ok, err := o.transport.RequestChanges(ctx, ep, since)
	if err != nil {
		metrics.SyncCheckAttemptsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("syncer: request changes: %w", err)
	}
	if !ok {
		metrics.SyncCheckAttemptsTotal.WithLabelValues("empty").Inc()
		return 0, nil
	}

	blob, err := o.transport.FetchBlob(ctx, url)
	if err != nil {
		metrics.SyncCheckAttemptsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("syncer: fetch blob: %w", err)
	}
	if plain, dErr := DecompressBatch(blob); dErr == nil {
		blob = plain
	}

	entries, err := DecodeBatch(blob)
	if err != nil {
		metrics.SyncCheckAttemptsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("syncer: decode batch: %w", err)
	}

	maxCursor := since
	for _, e := range entries {
		wasApplied, applyErr := o.writer.Insert(ctx, e, merge.NopObserver{})
		if applyErr != nil {
			metrics.SyncCheckAttemptsTotal.WithLabelValues("error").Inc()
			return applied, fmt.Errorf("syncer: apply change: %w", applyErr)
		}
		if wasApplied {
			applied++
		}
		cur := Cursor{DBVersion: e.DBVersion, Seq: e.Seq}
		if cur.DBVersion > maxCursor.DBVersion || (cur.DBVersion == maxCursor.DBVersion && cur.Seq > maxCursor.Seq) {
			maxCursor = cur
		}
	}

	if err := o.settings.SetInt(ctx, keyCheckDBVersion, int64(maxCursor.DBVersion)); err != nil {
		return applied, err
	}
	if err := o.settings.SetInt(ctx, keyCheckSeq, int64(maxCursor.Seq)); err != nil {
		return applied, err
	}

	metrics.SyncCheckAttemptsTotal.WithLabelValues("ok").Inc()
	metrics.SyncRowsApplied.Observe(float64(applied))
	return applied, nil
}

// CheckChangesSync is the bounded-retry wrapper spec.md §4.8 exposes:
// it polls Check up to maxRetries times, sleeping sleepInterval between
// attempts, stopping at the first attempt that applies at least one
// row.
func (o *Orchestrator) CheckChangesSync(ctx context.Context, ep Endpoint, sleepInterval time.Duration, maxRetries int) (applied int, err error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		applied, err = o.Check(ctx, ep)
		if err != nil {
			return applied, err
		}
		if applied > 0 {
			return applied, nil
		}
		if attempt < maxRetries-1 {
			select {
			case <-ctx.Done():
				return applied, ctx.Err()
			case <-time.After(sleepInterval):
			}
		}
	}
	return applied, nil
}

// Sync implements cloudsync_network_sync: upload, then check once.
func (o *Orchestrator) Sync(ctx context.Context, ep Endpoint) (uploaded, applied int, err error) {
	uploaded, err = o.Upload(ctx, ep)
	if err != nil {
		return uploaded, 0, err
	}
	applied, err = o.Check(ctx, ep)
	return uploaded, applied, err
}
