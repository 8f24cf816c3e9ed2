// Package prompts loads and renders the markdown templates the agents
// feed to the models. Templates live under <dir>/<lang>/<name>.md,
// selected by language code with compiled-in defaults as fallback, and
// support {placeholder} substitution.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
)

//go:embed defaults
var defaultsFS embed.FS

// DefaultLanguage is the language every shipped template exists in.
const DefaultLanguage = "en"

const cacheSize = 64

// Placeholders are the substitution keys templates may use. Save
// rejects templates referencing anything else so typos surface at edit
// time instead of as literal braces in a prompt.
var Placeholders = []string{
	"document_content",
	"document_excerpt",
	"similar_titles",
	"similar_docs",
	"existing_correspondents",
	"existing_types",
	"existing_tags",
	"feedback",
	"analysis_result",
	"document_type",
	"custom_fields",
	"suggested_fields",
	"reasoning",
}

var recognized = func() map[string]bool {
	m := make(map[string]bool, len(Placeholders))
	for _, p := range Placeholders {
		m[p] = true
	}
	return m
}()

var (
	namePattern        = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)
)

// Loader resolves templates by language and name. Disk overrides win
// over embedded defaults; a missing language falls back to the shipped
// defaults. Resolved templates sit in an LRU cache that file changes
// under the override directory invalidate.
type Loader struct {
	dir     string
	cache   *lru.Cache[string, string]
	watcher *fsnotify.Watcher
}

// NewLoader builds a loader rooted at dir. An empty dir serves only
// the embedded defaults and skips the file watcher.
func NewLoader(dir string) (*Loader, error) {
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	l := &Loader{dir: dir, cache: cache}
	if dir == "" {
		return l, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create template directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create template watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch template directory %s: %w", dir, err)
	}
	// Language subdirectories need their own watches; new ones are
	// picked up from Create events.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if err := watcher.Add(filepath.Join(dir, entry.Name())); err != nil {
				slog.Warn("Failed to watch template language directory",
					"dir", entry.Name(), "error", err)
			}
		}
	}

	l.watcher = watcher
	go l.watch()
	return l, nil
}

func (l *Loader) watch() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := l.watcher.Add(event.Name); err != nil {
						slog.Warn("Failed to watch new template directory",
							"path", event.Name, "error", err)
					}
				}
			}
			// The handful of templates reload cheaply, so any change
			// drops the whole cache.
			l.cache.Purge()

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Template watcher error", "error", err)
		}
	}
}

// Close stops the file watcher.
func (l *Loader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// Get returns the raw template text for a language and name.
func (l *Loader) Get(lang, name string) (string, error) {
	if err := validateElement(lang); err != nil {
		return "", err
	}
	if err := validateElement(name); err != nil {
		return "", err
	}

	key := lang + "/" + name
	if text, ok := l.cache.Get(key); ok {
		return text, nil
	}

	text, err := l.resolve(lang, name)
	if err != nil {
		return "", err
	}
	l.cache.Add(key, text)
	return text, nil
}

func (l *Loader) resolve(lang, name string) (string, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, lang, name+".md"))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template %s/%s: %w", lang, name, err)
		}
	}

	if data, err := defaultsFS.ReadFile(path.Join("defaults", lang, name+".md")); err == nil {
		return string(data), nil
	}
	if lang != DefaultLanguage {
		if data, err := defaultsFS.ReadFile(path.Join("defaults", DefaultLanguage, name+".md")); err == nil {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("unknown template %q", name)
}

// Render substitutes vars into the template. Placeholders without a
// value stay literal so a missing variable is visible in the output.
func (l *Loader) Render(lang, name string, vars map[string]string) (string, error) {
	text, err := l.Get(lang, name)
	if err != nil {
		return "", err
	}
	return Substitute(text, vars), nil
}

// Save writes a template override to disk and invalidates its cache
// entry. The watcher covers edits made outside this process.
func (l *Loader) Save(lang, name, content string) error {
	if l.dir == "" {
		return errors.New("no template directory configured")
	}
	if err := validateElement(lang); err != nil {
		return err
	}
	if err := validateElement(name); err != nil {
		return err
	}
	if unknown := UnknownPlaceholders(content); len(unknown) > 0 {
		return fmt.Errorf("unrecognized placeholders: %s", strings.Join(unknown, ", "))
	}

	langDir := filepath.Join(l.dir, lang)
	if err := os.MkdirAll(langDir, 0o755); err != nil {
		return fmt.Errorf("create language directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(langDir, name+".md"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}

	l.cache.Remove(lang + "/" + name)
	return nil
}

// Names lists the templates resolvable for a language: the shipped
// defaults plus any overrides on disk.
func (l *Loader) Names(lang string) ([]string, error) {
	if err := validateElement(lang); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	collect := func(entries []fs.DirEntry) {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			set[strings.TrimSuffix(entry.Name(), ".md")] = true
		}
	}

	if entries, err := fs.ReadDir(defaultsFS, path.Join("defaults", DefaultLanguage)); err == nil {
		collect(entries)
	}
	if lang != DefaultLanguage {
		if entries, err := fs.ReadDir(defaultsFS, path.Join("defaults", lang)); err == nil {
			collect(entries)
		}
	}
	if l.dir != "" {
		if entries, err := os.ReadDir(filepath.Join(l.dir, lang)); err == nil {
			collect(entries)
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Substitute replaces {key} markers with their values. Keys absent
// from vars are left untouched.
func Substitute(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// UnknownPlaceholders returns the {placeholder} names in template that
// are not in the recognized set, deduplicated and sorted.
func UnknownPlaceholders(template string) []string {
	seen := map[string]bool{}
	var unknown []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := match[1]
		if recognized[name] || seen[name] {
			continue
		}
		seen[name] = true
		unknown = append(unknown, name)
	}
	sort.Strings(unknown)
	return unknown
}

// Template paths are built from user-supplied language and name, so
// both must stay single path elements.
func validateElement(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("invalid template path element %q", s)
	}
	return nil
}
