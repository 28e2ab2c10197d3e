package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/scorepeers/settlement/internal/domain"
)

// Signer produces and checks receipt signatures.
type Signer interface {
	Sign(payload []byte) string
	Verify(payload []byte, sig string) error
	KeyID() string
}

var (
	_ domain.ReceiptSink   = (*ReceiptStore)(nil)
	_ domain.ReceiptSource = (*ReceiptStore)(nil)
)

// ReceiptStore writes one signed JSON receipt per closed contest under
// receipts/{contest_id}/{kind}.json.
type ReceiptStore struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	signer Signer
}

// NewReceiptStore creates a ReceiptStore that signs with signer.
func NewReceiptStore(writer domain.BlobWriter, reader domain.BlobReader, signer Signer) *ReceiptStore {
	return &ReceiptStore{writer: writer, reader: reader, signer: signer}
}

// receiptPayload is the signed body. Field order is fixed so the same
// closure always serializes to the same bytes.
type receiptPayload struct {
	ContestID string               `json:"contest_id"`
	Kind      domain.ClosureKind   `json:"kind"`
	Mode      domain.SelectionMode `json:"mode,omitempty"`
	WinnerIDs []string             `json:"winner_ids"`
	Void      bool                 `json:"void"`
	Payouts   []domain.Payout      `json:"payouts"`
	Total     domain.Amount        `json:"total"`
	PrizePool domain.Amount        `json:"prize_pool"`
	Currency  domain.Currency      `json:"currency"`
	Reason    string               `json:"reason,omitempty"`
	ActorID   string               `json:"actor_id"`
	ClosedAt  time.Time            `json:"closed_at"`
}

func receiptPath(contestID string, kind domain.ClosureKind) string {
	return fmt.Sprintf("receipts/%s/%s.json", contestID, kind)
}

// WriteReceipt signs c and uploads it. Rewriting the same closure produces
// an identical object.
func (s *ReceiptStore) WriteReceipt(ctx context.Context, c domain.Closure) error {
	payload, err := json.Marshal(receiptPayload{
		ContestID: c.ContestID,
		Kind:      c.Kind,
		Mode:      c.Mode,
		WinnerIDs: nonNil(c.WinnerIDs),
		Void:      c.Void,
		Payouts:   nonNil(c.Payouts),
		Total:     c.Total,
		PrizePool: c.PrizePool,
		Currency:  c.Currency,
		Reason:    c.Reason,
		ActorID:   c.ActorID,
		ClosedAt:  c.ClosedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("s3blob: marshal receipt %s: %w", c.ContestID, err)
	}

	doc, err := json.Marshal(domain.SignedReceipt{
		Payload:   payload,
		KeyID:     s.signer.KeyID(),
		Signature: s.signer.Sign(payload),
	})
	if err != nil {
		return fmt.Errorf("s3blob: marshal signed receipt %s: %w", c.ContestID, err)
	}
	return s.writer.Put(ctx, receiptPath(c.ContestID, c.Kind), bytes.NewReader(doc), "application/json")
}

// ReadReceipt downloads and verifies the receipt for contestID. A missing
// receipt is domain.ErrNotFound; a bad signature is reported as an error
// and the receipt is not returned.
func (s *ReceiptStore) ReadReceipt(ctx context.Context, contestID string) (domain.SignedReceipt, error) {
	var body io.ReadCloser
	var err error
	for _, kind := range []domain.ClosureKind{domain.ClosureSettlement, domain.ClosureRefund} {
		body, err = s.reader.Get(ctx, receiptPath(contestID, kind))
		if !errors.Is(err, domain.ErrNotFound) {
			break
		}
	}
	if err != nil {
		return domain.SignedReceipt{}, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.SignedReceipt{}, fmt.Errorf("s3blob: read receipt %s: %w", contestID, err)
	}
	var doc domain.SignedReceipt
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.SignedReceipt{}, fmt.Errorf("s3blob: decode receipt %s: %w", contestID, err)
	}
	if doc.KeyID != s.signer.KeyID() {
		return domain.SignedReceipt{}, fmt.Errorf("s3blob: receipt %s signed with unknown key %q", contestID, doc.KeyID)
	}
	if err := s.signer.Verify(doc.Payload, doc.Signature); err != nil {
		return domain.SignedReceipt{}, fmt.Errorf("s3blob: receipt %s: %w", contestID, err)
	}
	return doc, nil
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
