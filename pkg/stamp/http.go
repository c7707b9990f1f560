package stamp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPStamper delegates stamping to the rendering microservice behind
// STAMPER_URL, which owns the real page layout.
type HTTPStamper struct {
	httpClient *http.Client
	url        string
}

func NewHTTPStamper(url string) *HTTPStamper {
	return &HTTPStamper{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
	}
}

type stampRequest struct {
	PDF     string             `json:"pdf"`
	Signers []stampSignerEntry `json:"signers"`
	DocID   string             `json:"docId"`
	Title   string             `json:"title"`
	Sha256  string             `json:"sha256"`
}

type stampSignerEntry struct {
	Name          string  `json:"name"`
	CPF           string  `json:"cpf,omitempty"`
	Email         string  `json:"email"`
	SignedAt      string  `json:"signedAt"`
	IP            string  `json:"ip,omitempty"`
	SignatureUUID string  `json:"signatureUuid"`
	ImagePNG      string  `json:"imagePng,omitempty"`
	PositionX     float64 `json:"positionX,omitempty"`
	PositionY     float64 `json:"positionY,omitempty"`
	PositionPage  int     `json:"positionPage,omitempty"`
}

type stampResponse struct {
	PDF string `json:"pdf"`
}

func (s *HTTPStamper) EmbedSignatures(ctx context.Context, original []byte, signers []SignerStamp, info DocInfo) ([]byte, error) {
	entries := make([]stampSignerEntry, 0, len(signers))
	for _, signer := range signers {
		entries = append(entries, stampSignerEntry{
			Name:          signer.Name,
			CPF:           signer.CPF,
			Email:         signer.Email,
			SignedAt:      signer.SignedAt.UTC().Format(time.RFC3339),
			IP:            signer.IP,
			SignatureUUID: signer.SignatureUUID,
			ImagePNG:      base64.StdEncoding.EncodeToString(signer.ImagePNG),
			PositionX:     signer.PositionX,
			PositionY:     signer.PositionY,
			PositionPage:  signer.PositionPage,
		})
	}
	payload, err := json.Marshal(stampRequest{
		PDF:     base64.StdEncoding.EncodeToString(original),
		Signers: entries,
		DocID:   info.ID,
		Title:   info.Title,
		Sha256:  info.Sha256,
	})
	if err != nil {
		return nil, fmt.Errorf("stamp: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("stamp: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stamp: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("stamp: service returned %d: %s", resp.StatusCode, string(body))
	}

	var out stampResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("stamp: failed to decode response: %w", err)
	}
	stamped, err := base64.StdEncoding.DecodeString(out.PDF)
	if err != nil {
		return nil, fmt.Errorf("stamp: failed to decode stamped pdf: %w", err)
	}
	return stamped, nil
}

var _ Stamper = (*HTTPStamper)(nil)
