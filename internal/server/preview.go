package server

import (
	"bytes"
	"net/http"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/harrison/umd/internal/models"
)

var previewMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// handlePreview renders a sidecar markdown file to HTML. The path may
// point at either the markdown file itself or the source file it sits
// next to.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if !strings.HasSuffix(strings.ToLower(path), models.MarkdownExt) {
		path += models.MarkdownExt
	}

	source, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, "no markdown output for "+path)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var html bytes.Buffer
	if err := previewMarkdown.Convert(source, &html); err != nil {
		s.writeError(w, http.StatusInternalServerError, "render markdown: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"path": path,
		"html": html.String(),
	})
}
