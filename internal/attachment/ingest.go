// Package attachment saves inline binary parts of a user turn into the
// session working directory and rewrites the turn to name the saved files.
package attachment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const fallbackExt = ".bin"

var extensions = map[string]string{
	"image/png":          ".png",
	"image/jpeg":         ".jpg",
	"image/jpg":          ".jpg",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"image/svg+xml":      ".svg",
	"image/heic":         ".heic",
	"image/heif":         ".heif",
	"application/pdf":    ".pdf",
	"application/json":   ".json",
	"application/zip":    ".zip",
	"text/plain":         ".txt",
	"text/markdown":      ".md",
	"text/csv":           ".csv",
	"text/html":          ".html",
	"audio/mpeg":         ".mp3",
	"audio/mp3":          ".mp3",
	"audio/wav":          ".wav",
	"audio/x-wav":        ".wav",
	"audio/ogg":          ".ogg",
	"video/mp4":          ".mp4",
	"video/webm":         ".webm",
	"video/quicktime":    ".mov",
	"application/x-yaml": ".yaml",
}

// Extension maps a declared media type to a file extension. Undeclared or
// generic types are sniffed from the data.
func Extension(mimeType string, data []byte) string {
	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), ";")
	base = strings.TrimSpace(base)

	if ext, ok := extensions[base]; ok {
		return ext
	}
	if base == "" || base == "application/octet-stream" {
		detected := mimetype.Detect(data)
		if ext, ok := extensions[detected.String()]; ok {
			return ext
		}
		if ext := detected.Extension(); ext != "" {
			return ext
		}
	}
	return fallbackExt
}

// Result is the rewritten turn
type Result struct {
	// Parts is the part sequence to send to the agent
	Parts []genai.Part
	// Saved lists the file names written, in part order
	Saved []string
	// Text is the concatenated text of the turn
	Text string
}

// StoredContent is the transcript text of the turn: one @name marker per saved file, then the text
func (r Result) StoredContent() string {
	if len(r.Saved) == 0 {
		return r.Text
	}
	var b strings.Builder
	for _, name := range r.Saved {
		b.WriteString("@")
		b.WriteString(name)
		b.WriteString(" ")
	}
	b.WriteString(r.Text)
	return b.String()
}

// Ingestor writes attachments into working directories
type Ingestor struct {
	fs    afero.Fs
	clock clockwork.Clock
}

func NewIngestor(fs afero.Fs, clock clockwork.Clock) *Ingestor {
	return &Ingestor{fs: fs, clock: clock}
}

func (i *Ingestor) fileName(mimeType string, data []byte) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s%s", i.clock.Now().UnixMilli(), suffix, Extension(mimeType, data))
}

// Ingest saves every inline part into workDir. A part that cannot be written
// is logged and forwarded unchanged.
func (i *Ingestor) Ingest(ctx context.Context, workDir string, parts []domain.InboundPart) Result {
	var (
		res  Result
		text strings.Builder
	)
	for _, p := range parts {
		if p.IsText() {
			text.WriteString(p.Text)
			res.Parts = append(res.Parts, genai.Text(p.Text))
			continue
		}

		blob := genai.Blob{MIMEType: p.Inline.MIMEType, Data: p.Inline.Data}
		name := i.fileName(p.Inline.MIMEType, p.Inline.Data)
		if err := afero.WriteFile(i.fs, filepath.Join(workDir, name), p.Inline.Data, 0o644); err != nil {
			log.Warn().Err(err).Str("work_dir", workDir).Str("file", name).Str("mime_type", p.Inline.MIMEType).
				Msg("failed to save attachment, forwarding inline")
			res.Parts = append(res.Parts, blob)
			continue
		}

		res.Saved = append(res.Saved, name)
		res.Parts = append(res.Parts, genai.Text("@"+name), blob)
	}

	res.Text = text.String()
	return res
}
