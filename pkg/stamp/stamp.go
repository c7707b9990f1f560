// Package stamp defines the PDF stamping collaborator: given the
// original bytes and the completed signers, it produces the final
// stamped PDF carrying the signature registry page.
package stamp

import (
	"context"
	"time"
)

// SignerStamp is everything the registry page shows for one signer.
type SignerStamp struct {
	Name          string
	CPF           string
	Email         string
	SignedAt      time.Time
	IP            string
	SignatureUUID string
	ImagePNG      []byte
	PositionX     float64
	PositionY     float64
	PositionPage  int
}

// DocInfo identifies the document being sealed.
type DocInfo struct {
	ID     string
	Title  string
	Sha256 string
}

// Stamper is the collaborator port. Implementations must be
// deterministic: identical inputs produce byte-identical output, so
// the recorded sha256 of the stamped file is stable.
type Stamper interface {
	EmbedSignatures(ctx context.Context, original []byte, signers []SignerStamp, info DocInfo) ([]byte, error)
}
