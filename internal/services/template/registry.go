// Package template tracks the document templates available for run
// labeling. Templates are .docx files in a configured directory; the
// registry describes them, it does not render them.
package template

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/interfaces"
	"github.com/bobmcallan/patentforge/internal/models"
)

var (
	idPattern  = regexp.MustCompile(`[^\w]+`)
	tagPattern = regexp.MustCompile(`<[^>]+>`)

	placeholderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\{\{[^}]+\}\}`),
		regexp.MustCompile(`\{[^{}]+\}`),
		regexp.MustCompile(`\[[^\]]+\]`),
	}

	// Section names a Chinese invention patent template is expected to
	// carry. Presence of any marks the template usable.
	patentSections = []string{
		"技术领域", "背景技术", "发明内容", "附图说明", "具体实施方式", "权利要求", "摘要",
	}
)

// Registry implements interfaces.TemplateRegistry over a directory of
// .docx files. The descriptor map is replaced wholesale on reload.
type Registry struct {
	dir    string
	logger *common.Logger

	mu        sync.RWMutex
	templates map[string]models.TemplateDescriptor
	order     []string
	defaultID string
}

// NewRegistry scans dir immediately. A missing directory yields an
// empty registry, not an error.
func NewRegistry(dir string, logger *common.Logger) *Registry {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	r := &Registry{dir: dir, logger: logger, templates: map[string]models.TemplateDescriptor{}}
	if err := r.Reload(); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("Initial template scan failed")
	}
	return r
}

// Reload rescans the directory and swaps in the fresh descriptor set.
// The first valid template in name order becomes the default.
func (r *Registry) Reload() error {
	templates := map[string]models.TemplateDescriptor{}
	var order []string
	defaultID := ""

	paths, err := filepath.Glob(filepath.Join(r.dir, "*.docx"))
	if err != nil {
		return models.WrapError(models.ErrIO, "failed to scan template directory", err)
	}

	for _, path := range paths {
		desc := describe(path)
		templates[desc.ID] = desc
		order = append(order, desc.ID)
	}

	sort.Slice(order, func(i, j int) bool {
		return templates[order[i]].Name < templates[order[j]].Name
	})
	for _, id := range order {
		if templates[id].IsValid {
			defaultID = id
			break
		}
	}

	r.mu.Lock()
	r.templates = templates
	r.order = order
	r.defaultID = defaultID
	r.mu.Unlock()

	r.logger.Info().
		Int("count", len(order)).
		Str("default", defaultID).
		Str("dir", r.dir).
		Msg("Document templates scanned")
	return nil
}

// List returns descriptors in name order.
func (r *Registry) List() []models.TemplateDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TemplateDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.templates[id])
	}
	return out
}

// Get returns the descriptor for an ID.
func (r *Registry) Get(id string) (models.TemplateDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.templates[id]
	return desc, ok
}

// DefaultID returns the default template's ID, empty when none is valid.
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// describe builds a descriptor for one template file. Analysis failures
// leave the descriptor present but marked invalid, so the API can still
// list the file.
func describe(path string) models.TemplateDescriptor {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	desc := models.TemplateDescriptor{
		ID:   strings.Trim(idPattern.ReplaceAllString(strings.ToLower(stem), "_"), "_"),
		Name: titleize(stem),
	}

	if info, err := os.Stat(path); err == nil {
		desc.FileSize = info.Size()
		desc.CreatedAt = info.ModTime()
	}

	text, err := documentText(path)
	if err != nil {
		return desc
	}

	for _, pattern := range placeholderPatterns {
		desc.PlaceholderCount += len(pattern.FindAllString(text, -1))
	}
	for _, section := range patentSections {
		if strings.Contains(text, section) {
			desc.SectionCount++
		}
	}
	desc.IsValid = desc.SectionCount > 0 || desc.PlaceholderCount > 0
	return desc
}

// documentText extracts the visible text of word/document.xml.
func documentText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		return tagPattern.ReplaceAllString(string(raw), ""), nil
	}
	return "", nil
}

// titleize turns a file stem like "standard_patent_template" into
// "Standard Patent Template".
func titleize(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		runes := []rune(w)
		if len(runes) == 0 {
			continue
		}
		words[i] = strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
	return strings.Join(words, " ")
}

var _ interfaces.TemplateRegistry = (*Registry)(nil)
