package domain

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ReceiptSink stores a signed copy of every committed closure.
type ReceiptSink interface {
	WriteReceipt(ctx context.Context, c Closure) error
}

// Archiver moves old ledger rows to cold storage.
type Archiver interface {
	ArchiveLedger(ctx context.Context, before time.Time) (int64, error)
}

// SignedReceipt is the stored form of a closure. Signature is the HMAC of
// Payload under the key named by KeyID.
type SignedReceipt struct {
	Payload   json.RawMessage `json:"payload"`
	KeyID     string          `json:"key_id"`
	Signature string          `json:"signature"`
}

// ReceiptSource reads back a stored receipt after checking its signature.
type ReceiptSource interface {
	ReadReceipt(ctx context.Context, contestID string) (SignedReceipt, error)
}
