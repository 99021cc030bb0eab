package syncer

import "context"

// Transport is the HTTPS collaborator spec.md §6 describes: cloudsync
// never holds an http.Client directly, so the upload/check protocol
// (GET upload URL → PUT blob → POST commit; GET check URL → GET blob)
// can be swapped for a test double or a future non-HTTP carrier without
// touching Orchestrator.
type Transport interface {
	// RequestUpload asks the upload endpoint (ep.Upload) for a one-time
	// upload URL.
	RequestUpload(ctx context.Context, ep Endpoint) (url string, err error)
	// PutBlob uploads blob to url (the PUT step).
	PutBlob(ctx context.Context, url string, blob []byte) error
	// NotifyUploaded commits an uploaded blob (the POST step).
	NotifyUploaded(ctx context.Context, ep Endpoint, url string) error

	// RequestChanges asks the check endpoint for a URL to a batch of
	// changes newer than since. ok is false when the server has
	// nothing new to offer.
	RequestChanges(ctx context.Context, ep Endpoint, since Cursor) (url string, ok bool, err error)
	// FetchBlob downloads the batch at url (returned by RequestChanges).
	FetchBlob(ctx context.Context, url string) ([]byte, error)
}

// Cursor is the sync orchestrator's (db_version, seq) progress marker,
// spec.md §4.8's send/check cursor pair — one value of this type per
// cursor, stored under two different settings keys.
type Cursor struct {
	DBVersion uint64
	Seq       uint32
}
