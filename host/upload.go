// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/slatecast/slatecast/docstore"
	"github.com/slatecast/slatecast/relay"
	"github.com/slatecast/slatecast/session"
)

// UploadHandler is the operator's HTTP surface for documents:
//
//	POST /upload          multipart: document file, name, total_pages
//	GET  /documents/{id}  raw document bytes by store id
//
// A successful upload stores the file, makes it the active document,
// and broadcasts new_pdf to every connected client (the uploader is
// the operator, not a hub client, so nobody is excluded).
type UploadHandler struct {
	host     *Server
	store    *docstore.Store
	maxBytes int64
	logger   *slog.Logger
}

// NewUploadHandler creates the handler. maxBytes bounds one uploaded
// document.
func NewUploadHandler(host *Server, store *docstore.Store, maxBytes int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{host: host, store: store, maxBytes: maxBytes, logger: logger}
}

// ServeHTTP routes the two document endpoints.
func (h *UploadHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	switch {
	case request.URL.Path == "/upload":
		h.handleUpload(writer, request)
	case strings.HasPrefix(request.URL.Path, "/documents/"):
		h.handleDownload(writer, request)
	default:
		http.NotFound(writer, request)
	}
}

func (h *UploadHandler) handleUpload(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBytes)

	file, header, err := request.FormFile("document")
	if err != nil {
		http.Error(writer, fmt.Sprintf("missing document file: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	totalPages, err := strconv.Atoi(request.FormValue("total_pages"))
	if err != nil || totalPages < 1 {
		http.Error(writer, "total_pages must be a positive integer", http.StatusBadRequest)
		return
	}

	name := request.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(writer, "document too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(writer, fmt.Sprintf("reading document: %v", err), http.StatusBadRequest)
		return
	}

	id, err := h.store.Put(data)
	if err != nil {
		h.logger.Error("storing uploaded document failed", "name", name, "error", err)
		http.Error(writer, "storing document failed", http.StatusInternalServerError)
		return
	}

	ref := session.DocumentRef{StoreID: id, Name: name}
	if err := h.host.Document().SetDocument(ref, totalPages); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	h.host.Hub().Publish("", relay.MustEnvelope(relay.EventNewDocument, relay.NewDocument{
		StoreID:    id,
		Name:       name,
		TotalPages: totalPages,
	}))
	h.logger.Info("document shared",
		"store_id", id,
		"name", name,
		"total_pages", totalPages,
		"bytes", len(data),
	)

	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(map[string]any{
		"document_id": id,
		"total_pages": totalPages,
	})
}

func (h *UploadHandler) handleDownload(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(request.URL.Path, "/documents/")
	data, err := h.store.Get(id)
	if err != nil {
		http.Error(writer, "document not found", http.StatusNotFound)
		return
	}
	writer.Header().Set("Content-Type", "application/octet-stream")
	writer.Write(data)
}
