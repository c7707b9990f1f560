package stamp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSigners() []SignerStamp {
	signedAt := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	return []SignerStamp{
		{
			Name: "Ana Souza", CPF: "52998224725", Email: "ana@x.com",
			SignedAt: signedAt, IP: "10.0.0.1", SignatureUUID: "uuid-ana",
			ImagePNG: []byte{0x89, 0x50, 0x4e, 0x47},
		},
		{
			Name: "Bruno Lima", Email: "bruno@x.com",
			SignedAt: signedAt.Add(time.Minute), IP: "10.0.0.2", SignatureUUID: "uuid-bruno",
		},
	}
}

func TestStaticStamperDeterministic(t *testing.T) {
	s := NewStaticStamper()
	original := []byte("%PDF-1.4 original body")
	info := DocInfo{ID: "doc-1", Title: "Contrato", Sha256: "aaaabbbbccccddddeeeeffff0000111122223333"}

	first, err := s.EmbedSignatures(context.Background(), original, sampleSigners(), info)
	require.NoError(t, err)
	second, err := s.EmbedSignatures(context.Background(), original, sampleSigners(), info)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	out := string(first)
	assert.Contains(t, out, "Registro de Assinaturas")
	assert.Contains(t, out, "Ana Souza")
	assert.Contains(t, out, "52998224725")
	// missing cpf falls back to the literal placeholder
	assert.Contains(t, out, "Não informado")
	// only the first 20 chars of the hash are printed
	assert.Contains(t, out, "aaaabbbbccccddddeeee")
	assert.NotContains(t, out, "eeeeffff")
	// the original bytes lead the output unmodified
	assert.Equal(t, string(original), out[:len(original)])
}

func TestStaticStamperRejectsEmptyInput(t *testing.T) {
	_, err := NewStaticStamper().EmbedSignatures(context.Background(), nil, sampleSigners(), DocInfo{})
	assert.Error(t, err)
}

func TestHTTPStamper(t *testing.T) {
	stamped := []byte("%PDF-1.4 stamped result")
	var got stampRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(stampResponse{PDF: base64.StdEncoding.EncodeToString(stamped)})
	}))
	defer server.Close()

	original := []byte("%PDF-1.4 original")
	out, err := NewHTTPStamper(server.URL).EmbedSignatures(context.Background(), original,
		sampleSigners(), DocInfo{ID: "doc-1", Title: "Contrato", Sha256: "abc"})
	require.NoError(t, err)
	assert.Equal(t, stamped, out)

	decoded, err := base64.StdEncoding.DecodeString(got.PDF)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
	require.Len(t, got.Signers, 2)
	assert.Equal(t, "uuid-ana", got.Signers[0].SignatureUUID)
}

func TestHTTPStamperSurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "renderer down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewHTTPStamper(server.URL).EmbedSignatures(context.Background(), []byte("%PDF"), nil, DocInfo{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
