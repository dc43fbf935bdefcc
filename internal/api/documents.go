package api

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/hyperifyio/docdistill/internal/store"
)

var htmlPolicy = bluemonday.UGCPolicy()

// combinedFile maps a document kind to its single-file artifact. Directory
// kinds are handled separately and served as zip archives.
func (s *Server) combinedFile(kind string) (string, bool) {
	switch kind {
	case "combined":
		return filepath.Join(s.store.SummariesDir(), store.CombinedName), true
	case "optimized_combined":
		return filepath.Join(s.store.SummariesDir(), store.OptimizedCombinedName), true
	}
	return "", false
}

func (s *Server) documentDir(kind string) (string, bool) {
	switch kind {
	case "docs":
		return s.store.DocsDir(), true
	case "chunks":
		return s.store.ChunksDir(), true
	case "summaries":
		return s.store.SummariesDir(), true
	}
	return "", false
}

// handleDocument downloads one artifact. Single-file kinds come back as
// markdown; directory kinds are zipped on the fly.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	if path, ok := s.combinedFile(kind); ok {
		f, err := os.Open(path)
		if err != nil {
			jsonError(w, "document not available: "+kind, http.StatusNotFound)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
		_, _ = io.Copy(w, f)
		return
	}

	dir, ok := s.documentDir(kind)
	if !ok {
		jsonError(w, "unknown document kind "+kind, http.StatusNotFound)
		return
	}
	buf, err := zipDir(dir)
	if err != nil {
		jsonError(w, "archive failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+kind+`.zip"`)
	_, _ = w.Write(buf)
}

// handleDocumentView renders a combined document as sanitized HTML.
func (s *Server) handleDocumentView(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	path, ok := s.combinedFile(kind)
	if !ok {
		jsonError(w, "kind "+kind+" has no HTML view", http.StatusBadRequest)
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		jsonError(w, "document not available: "+kind, http.StatusNotFound)
		return
	}
	var rendered bytes.Buffer
	if err := goldmark.Convert(raw, &rendered); err != nil {
		jsonError(w, "render failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(htmlPolicy.SanitizeBytes(rendered.Bytes()))
}

// zipDir packs the regular files directly under dir and its subdirectories
// into an in-memory zip archive with paths relative to dir.
func zipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		dst, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
