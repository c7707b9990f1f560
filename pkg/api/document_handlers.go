package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/assinado-app/assinado/pkg/auth"
	"github.com/assinado-app/assinado/pkg/documents"
	"github.com/assinado-app/assinado/pkg/signers"
)

// readUploadedFile pulls the multipart "documentFile" part within the
// configured body cap.
func (s *Server) readUploadedFile(w http.ResponseWriter, r *http.Request) (name, mime string, data []byte, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteMessage(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds the %d byte limit", s.maxUploadBytes))
			return "", "", nil, false
		}
		WriteMessage(w, http.StatusBadRequest, "expected a multipart form")
		return "", "", nil, false
	}
	file, header, err := r.FormFile("documentFile")
	if err != nil {
		WriteMessage(w, http.StatusBadRequest, "documentFile part is required")
		return "", "", nil, false
	}
	defer file.Close()
	data, err = io.ReadAll(file)
	if err != nil {
		WriteMessage(w, http.StatusBadRequest, "failed to read uploaded file")
		return "", "", nil, false
	}
	return header.Filename, header.Header.Get("Content-Type"), data, true
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, mime, data, ok := s.readUploadedFile(w, r)
	if !ok {
		return
	}

	in := documents.UploadInput{
		FileName:      name,
		MimeType:      mime,
		Data:          data,
		Title:         r.FormValue("title"),
		FolderID:      r.FormValue("folderId"),
		AutoReminders: r.FormValue("autoReminders") == "true",
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	}
	if raw := r.FormValue("deadlineAt"); raw != "" {
		deadline, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteMessage(w, http.StatusBadRequest, "deadlineAt must be RFC 3339")
			return
		}
		in.DeadlineAt = &deadline
	}

	p := auth.MustPrincipal(r.Context())
	doc, err := s.docSvc.Upload(r.Context(), p, in)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	docs, err := s.docSvc.List(r.Context(), p, r.URL.Query().Get("status"))
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	if docs == nil {
		docs = []*documents.Document{}
	}
	WriteJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	stats, err := s.docSvc.Stats(r.Context(), p)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	doc, err := s.docSvc.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	sgs, err := s.signerStore.ListByDocument(r.Context(), s.db, doc.ID)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, struct {
		*documents.Document
		Signers []*signers.Signer `json:"signers"`
	}{doc, sgs})
}

func (s *Server) handleInviteSigners(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Signers []signers.InviteInput `json:"signers"`
		Message string                `json:"message"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	p := auth.MustPrincipal(r.Context())
	created, err := s.signerSvc.InviteSigners(r.Context(), p, r.PathValue("id"), in.Signers, in.Message)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCancelDocument(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	doc, err := s.docSvc.Cancel(r.Context(), p, r.PathValue("id"), clientIP(r), r.UserAgent())
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handleExpireDocument(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	doc, err := s.docSvc.Expire(r.Context(), p, r.PathValue("id"), clientIP(r), r.UserAgent())
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// documentSignerIDs loads the signer ids after the tenant check, for
// the audit timeline and the chain walk.
func (s *Server) documentSignerIDs(r *http.Request) (*documents.Document, []string, error) {
	p := auth.MustPrincipal(r.Context())
	doc, err := s.docSvc.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		return nil, nil, err
	}
	sgs, err := s.signerStore.ListByDocument(r.Context(), s.db, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(sgs))
	for _, sg := range sgs {
		ids = append(ids, sg.ID)
	}
	return doc, ids, nil
}

func (s *Server) handleDocumentAudit(w http.ResponseWriter, r *http.Request) {
	doc, ids, err := s.documentSignerIDs(r)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	events, err := s.audits.ListForDocument(r.Context(), doc.ID, ids)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, events)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	doc, ids, err := s.documentSignerIDs(r)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	result, err := s.verifier.VerifyChainForDocument(r.Context(), doc.ID, ids)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleValidateFile(w http.ResponseWriter, r *http.Request) {
	_, _, data, ok := s.readUploadedFile(w, r)
	if !ok {
		return
	}
	result, err := s.docSvc.ValidateBuffer(r.Context(), data)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	doc, data, err := s.docSvc.DownloadVariant(r.Context(), p, r.PathValue("id"), r.URL.Query().Get("variant"))
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", doc.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Title))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	doc, err := s.docSvc.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	cert, err := s.signingSvc.Certificates().GetByDocument(r.Context(), doc.ID)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, cert)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		ParentID string `json:"parentId"`
		Color    string `json:"color"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Name == "" {
		WriteMessage(w, http.StatusBadRequest, "name is required")
		return
	}
	p := auth.MustPrincipal(r.Context())
	folder := &documents.Folder{
		TenantID: p.TenantID,
		OwnerID:  p.ID,
		ParentID: in.ParentID,
		Name:     in.Name,
		Color:    in.Color,
	}
	if err := s.docSvc.Folders().Create(r.Context(), folder); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	folders, err := s.docSvc.Folders().List(r.Context(), p.TenantID)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	if folders == nil {
		folders = []*documents.Folder{}
	}
	WriteJSON(w, http.StatusOK, folders)
}

func (s *Server) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string  `json:"name"`
		Color    string  `json:"color"`
		ParentID *string `json:"parentId"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	p := auth.MustPrincipal(r.Context())
	id := r.PathValue("id")
	current, err := s.docSvc.Folders().GetForTenant(r.Context(), p.TenantID, id)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	if in.Name != "" || in.Color != "" {
		name, color := current.Name, current.Color
		if in.Name != "" {
			name = in.Name
		}
		if in.Color != "" {
			color = in.Color
		}
		if err := s.docSvc.Folders().Rename(r.Context(), p.TenantID, id, name, color); err != nil {
			WriteServiceError(w, r, s.logger, err)
			return
		}
	}
	if in.ParentID != nil {
		if err := s.docSvc.Folders().Move(r.Context(), p.TenantID, id, *in.ParentID); err != nil {
			WriteServiceError(w, r, s.logger, err)
			return
		}
	}
	folder, err := s.docSvc.Folders().GetForTenant(r.Context(), p.TenantID, id)
	if err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, folder)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipal(r.Context())
	if err := s.docSvc.Folders().Delete(r.Context(), p.TenantID, r.PathValue("id")); err != nil {
		WriteServiceError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
