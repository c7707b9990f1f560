package stamp

import (
	"bytes"
	"context"
	"fmt"
)

// Layout bounds for the drawn signature image, in PDF points.
const (
	maxSignatureWidthPt  = 150.0
	maxSignatureHeightPt = 80.0
)

// shaExcerptLen is how much of the document hash the registry prints.
const shaExcerptLen = 20

// StaticStamper is the built-in stamping fallback for deployments
// without the stamping microservice. It appends a plain-text signature
// registry block after the PDF body. The output is fully deterministic
// for identical inputs.
type StaticStamper struct{}

func NewStaticStamper() *StaticStamper { return &StaticStamper{} }

func (s *StaticStamper) EmbedSignatures(ctx context.Context, original []byte, signers []SignerStamp, info DocInfo) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(original) == 0 {
		return nil, fmt.Errorf("stamp: original document is empty")
	}

	shaExcerpt := info.Sha256
	if len(shaExcerpt) > shaExcerptLen {
		shaExcerpt = shaExcerpt[:shaExcerptLen]
	}

	var b bytes.Buffer
	b.Write(original)
	if original[len(original)-1] != '\n' {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%%%% Registro de Assinaturas\n")
	fmt.Fprintf(&b, "%%%% Documento: %s\n", info.ID)
	fmt.Fprintf(&b, "%%%% Titulo: %s\n", info.Title)
	fmt.Fprintf(&b, "%%%% Hash do original: %s\n", shaExcerpt)
	for i, signer := range signers {
		cpf := signer.CPF
		if cpf == "" {
			cpf = "Não informado"
		}
		fmt.Fprintf(&b, "%%%% Assinante %d: %s | CPF: %s | %s | %s | IP: %s | %s | imagem: %dx%.0fx%.0fpt\n",
			i+1, signer.Name, cpf, signer.Email,
			signer.SignedAt.UTC().Format("02/01/2006 15:04:05"),
			signer.IP, signer.SignatureUUID,
			len(signer.ImagePNG), maxSignatureWidthPt, maxSignatureHeightPt)
	}
	return b.Bytes(), nil
}

var _ Stamper = (*StaticStamper)(nil)
