package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clipdeck/server/internal/api/pagination"
	"github.com/clipdeck/server/internal/api/problem"
	"github.com/clipdeck/server/internal/auth"
	"github.com/clipdeck/server/internal/domain/clipboard"
	"github.com/clipdeck/server/internal/files"
)

// ClipboardService is the clipboard surface the handlers use.
type ClipboardService interface {
	CreateText(ctx context.Context, owner auth.Principal, content string) (clipboard.Item, error)
	CreateFile(ctx context.Context, owner auth.Principal, name, mimeType string, r io.Reader) (clipboard.Item, error)
	List(ctx context.Context, filter clipboard.Filter, page, size int) (clipboard.Page, error)
	OpenFile(ctx context.Context, id string) (clipboard.Item, io.ReadCloser, error)
	Delete(ctx context.Context, owner auth.Principal, id string) error
}

type ClipboardHandler struct {
	items ClipboardService
	env   string
}

func NewClipboardHandler(svc ClipboardService, env string) *ClipboardHandler {
	return &ClipboardHandler{items: svc, env: env}
}

type listResponse struct {
	Success bool `json:"success"`
	clipboard.Page
}

// List pages through the caller's items, newest first. Admins may pass
// all=true to see every owner.
func (h *ClipboardHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	params := pagination.FromRequest(r, clipboard.DefaultPageSize, clipboard.MaxPageSize)

	filter := clipboard.Filter{
		OwnerID: principal.ID,
		Search:  r.URL.Query().Get("search"),
	}
	if principal.IsAdmin {
		if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
			filter.OwnerID = ""
		}
	}

	page, err := h.items.List(r.Context(), filter, params.Page, params.Size)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "failed to list clipboard items", err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Page: page})
}

type createTextRequest struct {
	Content string `json:"content"`
}

func (h *ClipboardHandler) CreateText(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req createTextRequest
	if err := decodeJSON(r, &req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		problem.Write(w, r, status, err.Error(), nil, h.env)
		return
	}

	item, err := h.items.CreateText(r.Context(), principal, req.Content)
	if err != nil {
		h.writeItemError(w, r, err, "failed to save text")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// CreateFile streams the multipart "file" part into the file store without
// buffering the whole upload.
func (h *ClipboardHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	mr, err := r.MultipartReader()
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, "expected a multipart/form-data upload", nil, h.env)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			problem.Write(w, r, http.StatusBadRequest, "no file was uploaded", nil, h.env)
			return
		}
		if err != nil {
			h.writeItemError(w, r, err, "failed to read upload")
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		item, err := h.items.CreateFile(r.Context(), principal, part.FileName(), part.Header.Get("Content-Type"), part)
		_ = part.Close()
		if err != nil {
			h.writeItemError(w, r, err, "failed to store file")
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}
}

// ServeFile returns a file inline so images and media render in the client.
// It needs no credentials; item IDs are unguessable ULIDs.
func (h *ClipboardHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	h.sendFile(w, r, "inline")
}

// Download returns a file as an attachment.
func (h *ClipboardHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.sendFile(w, r, "attachment")
}

func (h *ClipboardHandler) sendFile(w http.ResponseWriter, r *http.Request, disposition string) {
	item, rc, err := h.items.OpenFile(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeItemError(w, r, err, "failed to open file")
		return
	}
	defer rc.Close()

	contentType := item.MimeType
	if disposition == "attachment" || contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if cd := mime.FormatMediaType(disposition, map[string]string{"filename": item.FileName}); cd != "" {
		w.Header().Set("Content-Disposition", cd)
	} else {
		w.Header().Set("Content-Disposition", disposition)
	}

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", item.CreatedAt, rs)
		return
	}
	if item.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(item.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("item_id", item.ID).Msg("file transfer interrupted")
	}
}

// Delete removes one of the caller's items. Items owned by someone else
// answer 404, the same as missing ones.
func (h *ClipboardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	id := strings.TrimSpace(r.PathValue("id"))

	if err := h.items.Delete(r.Context(), principal, id); err != nil {
		if errors.Is(err, clipboard.ErrItemNotFound) {
			problem.Write(w, r, http.StatusNotFound, "item not found or not owned by you", nil, h.env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, "failed to delete item", err, h.env)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (h *ClipboardHandler) writeItemError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, clipboard.ErrEmptyContent):
		problem.Write(w, r, http.StatusBadRequest, "content must not be empty", nil, h.env)
	case errors.Is(err, clipboard.ErrContentTooBig), errors.Is(err, files.ErrTooLarge), errors.As(err, &maxErr):
		problem.Write(w, r, http.StatusRequestEntityTooLarge, "upload exceeds the size limit", nil, h.env)
	case errors.Is(err, clipboard.ErrItemNotFound), errors.Is(err, clipboard.ErrNoFile), errors.Is(err, files.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, "file not found", nil, h.env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, fallback, err, h.env)
	}
}
