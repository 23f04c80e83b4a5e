// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slatecast/slatecast/docstore"
	"github.com/slatecast/slatecast/relay"
)

func uploadRequest(t *testing.T, url string, name string, totalPages string, body []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("document", "slides.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(body); err != nil {
		t.Fatalf("writing part: %v", err)
	}
	if name != "" {
		form.WriteField("name", name)
	}
	if totalPages != "" {
		form.WriteField("total_pages", totalPages)
	}
	form.Close()

	resp, err := http.Post(url+"/upload", form.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestUploadSharesDocument(t *testing.T) {
	server := startServer(t, Options{})
	store, err := docstore.New(t.TempDir(), docstore.CompressionZstd)
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	handler := NewUploadHandler(server, store, 1<<20, discardLogger())
	web := httptest.NewServer(handler)
	defer web.Close()

	// A viewer attached before the upload hears the broadcast.
	viewer := server.Hub().Attach("viewer")

	content := []byte("%PDF-1.7 fake document body")
	resp := uploadRequest(t, web.URL, "lecture.pdf", "9", content)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	var reply struct {
		DocumentID string `json:"document_id"`
		TotalPages int    `json:"total_pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if reply.DocumentID == "" || reply.TotalPages != 9 {
		t.Fatalf("reply = %+v", reply)
	}

	snap := server.Document().Snapshot()
	if !snap.Active || snap.Document.StoreID != reply.DocumentID || snap.TotalPages != 9 {
		t.Fatalf("document state = %+v", snap)
	}
	if snap.Document.Name != "lecture.pdf" {
		t.Fatalf("document name = %q", snap.Document.Name)
	}

	env := <-viewer.C
	if env.Type != relay.EventNewDocument {
		t.Fatalf("broadcast type = %s", env.Type)
	}
	var doc relay.NewDocument
	if err := env.Decode(&doc); err != nil {
		t.Fatalf("decoding broadcast: %v", err)
	}
	if doc.StoreID != reply.DocumentID || doc.TotalPages != 9 {
		t.Fatalf("broadcast = %+v", doc)
	}

	// Late joiners fetch the bytes back by store id.
	download, err := http.Get(web.URL + "/documents/" + reply.DocumentID)
	if err != nil {
		t.Fatalf("GET document: %v", err)
	}
	defer download.Body.Close()
	if download.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", download.StatusCode)
	}
	got, err := io.ReadAll(download.Body)
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("downloaded bytes differ from upload")
	}
}

func TestUploadValidation(t *testing.T) {
	server := startServer(t, Options{})
	store, err := docstore.New(t.TempDir(), docstore.CompressionNone)
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	handler := NewUploadHandler(server, store, 256, discardLogger())
	web := httptest.NewServer(handler)
	defer web.Close()

	if resp := uploadRequest(t, web.URL, "x.pdf", "0", []byte("doc")); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero pages: status = %d", resp.StatusCode)
	}
	if resp := uploadRequest(t, web.URL, "x.pdf", "", []byte("doc")); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing pages: status = %d", resp.StatusCode)
	}
	if server.Document().Snapshot().Active {
		t.Fatal("rejected upload activated a document")
	}

	// GET on an unknown id is a plain 404.
	resp, err := http.Get(web.URL + "/documents/feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown document: status = %d", resp.StatusCode)
	}
}
