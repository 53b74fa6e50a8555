package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Change is one "section.key[@scope] = value" write request passed to
// SetMulti.
type Change struct {
	Section string
	Key     string
	Scope   string // "" for unscoped
	Value   string
	Delete  bool
}

// Config owns a single object's (or the node's) on-disk file and the
// snapshot readers observe. Writers take Mu (an exclusive lock) then
// atomically publish a new Snapshot; readers never see a torn write.
type Config struct {
	path     string
	registry *Registry
	builtins Builtins

	mu       sync.Mutex // serializes writers only
	snapshot atomic.Pointer[Snapshot]
	mtime    atomic.Int64
}

// Load reads path from disk, validates required keywords, and returns a
// ready Config. A missing file is treated as an empty document (the caller
// may still need required keywords with defaults to succeed).
func Load(path string, registry *Registry, builtins Builtins) (*Config, error) {
	doc, err := readFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, &ConfigError{Op: "load", Detail: err.Error()}
	}
	if doc == nil {
		doc = NewDocument()
	}
	if err := validateRequired(doc, registry); err != nil {
		return nil, err
	}
	c := &Config{path: path, registry: registry, builtins: builtins}
	c.snapshot.Store(NewSnapshot(doc, registry, builtins))
	c.mtime.Store(time.Now().UnixNano())
	return c, nil
}

// Snapshot returns the current immutable snapshot. Safe for concurrent use.
func (c *Config) Snapshot() *Snapshot { return c.snapshot.Load() }

// Get is a convenience wrapper delegating to the current Snapshot.
func (c *Config) Get(section, key string, ctx ResolveContext, evaluate bool) (interface{}, error) {
	return c.Snapshot().Get(section, key, ctx, evaluate)
}

// Mtime returns the UnixNano timestamp of the last successful write.
func (c *Config) Mtime() int64 { return c.mtime.Load() }

// SetMulti applies a batch of changes under the exclusive writer lock,
// validates the result, writes it to disk via temp-file+rename at mode
// 0600, then atomically republishes the Snapshot. Either all changes apply
// or none do.
func (c *Config) SetMulti(changes []Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.Snapshot().Document().Clone()
	for _, ch := range changes {
		scopedKey := ch.Key
		if ch.Scope != "" {
			scopedKey = ch.Key + "@" + ch.Scope
		}
		if ch.Delete {
			doc.Delete(ch.Section, scopedKey)
			continue
		}
		doc.Set(ch.Section, scopedKey, ch.Value)
	}

	pruneUnknown(doc, c.registry)
	if err := validateRequired(doc, c.registry); err != nil {
		return err
	}
	if err := validateCandidates(doc, c.registry); err != nil {
		return err
	}

	if c.path != "" {
		if err := writeFile(c.path, doc); err != nil {
			return &ConfigError{Op: "set", Detail: err.Error()}
		}
	}

	c.snapshot.Store(NewSnapshot(doc, c.registry, c.builtins))
	c.mtime.Store(time.Now().UnixNano())
	return nil
}

// validateRequired fails with MissingKeyError for any required keyword
// with no value and no default, across all declared sections.
func validateRequired(doc *Document, registry *Registry) error {
	for _, section := range doc.Sections() {
		sectionType := SectionType(section)
		secMeta := registry.bySection[sectionType]
		for kw, meta := range secMeta {
			if !meta.Required || meta.Default != "" {
				continue
			}
			body := doc.Body(section)
			if _, ok := resolveRaw(body, kw, ResolveContext{}); !ok {
				return &MissingKeyError{Section: section, Keyword: kw}
			}
		}
	}
	return nil
}

// validateCandidates enforces closed candidate sets for keywords that
// declare them with StrictCandidates.
func validateCandidates(doc *Document, registry *Registry) error {
	for _, section := range doc.Sections() {
		sectionType := SectionType(section)
		body := doc.Body(section)
		for _, scopedKey := range sortedKeys(body) {
			key, _ := SplitScopedKey(scopedKey)
			meta, ok := registry.Lookup(sectionType, key)
			if !ok || !meta.StrictCandidates || len(meta.Candidates) == 0 {
				continue
			}
			val := body[scopedKey]
			if !contains(meta.Candidates, val) {
				return &ConfigError{Op: "set", Detail: fmt.Sprintf("%s.%s: %q not in candidates %v", section, key, val, meta.Candidates)}
			}
		}
	}
	return nil
}

// pruneUnknown drops keywords with no registry entry under a non-generic
// section type other than DEFAULT/env (which accept arbitrary user keys),
// logging a warning for each.
func pruneUnknown(doc *Document, registry *Registry) {
	for _, section := range doc.Sections() {
		if section == "DEFAULT" || section == "env" {
			continue
		}
		sectionType := SectionType(section)
		body := doc.Body(section)
		for _, scopedKey := range sortedKeys(body) {
			key, _ := SplitScopedKey(scopedKey)
			if _, ok := registry.Lookup(sectionType, key); !ok {
				log.Printf("config: dropping unknown keyword %s.%s", section, key)
				doc.Delete(section, scopedKey)
			}
		}
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// writeFile serializes doc as INI-like text and writes it atomically at
// mode 0600 via a temp-file-then-rename.
func writeFile(path string, doc *Document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod tmp: %w", err)
	}
	if _, err := tmp.WriteString(renderDocument(doc)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func renderDocument(doc *Document) string {
	var b strings.Builder
	for _, section := range doc.Sections() {
		fmt.Fprintf(&b, "[%s]\n", section)
		body := doc.Body(section)
		for _, k := range sortedKeys(body) {
			fmt.Fprintf(&b, "%s = %s\n", k, body[k])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
