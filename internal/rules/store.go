// Package rules persists the user's exemption rules as a JSON array file.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Store is an ordered, duplicate-free list of rules backed by a file.
type Store struct {
	mu    sync.Mutex
	path  string
	rules []string
	log   *slog.Logger
}

// NewStore loads rules from path. A missing, unreadable or corrupt file
// yields an empty store; the problem is logged, not returned.
func NewStore(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{path: path, log: log.With("component", "rules")}
	s.rules = s.load()
	return s
}

func (s *Store) load() []string {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		s.log.Warn("read rules file", "path", s.path, "error", err)
		return nil
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Warn("corrupt rules file, starting empty", "path", s.path, "error", err)
		return nil
	}

	var rules []string
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || slices.Contains(rules, r) {
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

// List returns a copy of the current rules in insertion order.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.rules))
	copy(out, s.rules)
	return out
}

// Add appends a trimmed rule and rewrites the file. Empty and duplicate
// rules are ignored without touching the file. The returned bool reports
// whether the rule was added.
func (s *Store) Add(rule string) (bool, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.rules, rule) {
		return false, nil
	}

	next := append(slices.Clone(s.rules), rule)
	if err := s.write(next); err != nil {
		return false, err
	}
	s.rules = next
	s.log.Info("rule added", "count", len(next))
	return true, nil
}

// Clear empties the store and removes the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove rules file: %w", err)
	}
	s.rules = nil
	s.log.Info("rules cleared")
	return nil
}

// write replaces the file atomically with rules as an indented array.
func (s *Store) write(rules []string) error {
	if rules == nil {
		rules = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(rules); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".rules-*.json")
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rules file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace rules file: %w", err)
	}
	return nil
}
