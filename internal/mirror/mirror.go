// Package mirror edits this server's entry in an external JSON configuration
// document owned by a host application. Keys outside the entry are left untouched.
package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrDisabled = errors.New("mirror disabled")

type Entry struct {
	// Present reports whether the document has an entry for this server.
	Present  bool
	Provider string
	Models   map[string]string
}

type File struct {
	path       string
	serverName string
}

// New returns a mirror for path. An empty path yields a disabled mirror.
func New(path, serverName string) *File {
	return &File{path: strings.TrimSpace(path), serverName: serverName}
}

func (f *File) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

func (f *File) Enabled() bool {
	return f != nil && f.path != "" && f.serverName != ""
}

func (f *File) Read() (Entry, error) {
	if !f.Enabled() {
		return Entry{}, ErrDisabled
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return Entry{}, fmt.Errorf("read mirror: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return Entry{}, fmt.Errorf("mirror %s is not valid json", f.path)
	}

	server := gjson.GetBytes(raw, f.serverPath())
	if !server.Exists() || !server.IsObject() {
		return Entry{}, nil
	}
	entry := Entry{Present: true, Models: map[string]string{}}
	if p := server.Get("provider"); p.Type == gjson.String {
		entry.Provider = strings.TrimSpace(p.String())
	}
	server.Get("models").ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			entry.Models[key.String()] = value.String()
		}
		return true
	})
	return entry, nil
}

func (f *File) SetProvider(provider string) error {
	return f.update(func(doc []byte) ([]byte, error) {
		return sjson.SetBytes(doc, f.serverPath()+".provider", provider)
	})
}

func (f *File) SetModel(provider, model string) error {
	return f.update(func(doc []byte) ([]byte, error) {
		return sjson.SetBytes(doc, f.serverPath()+".models."+escape(provider), model)
	})
}

// update rewrites the document through a temp file rename. There is no locking:
// a concurrent writer can lose its change.
func (f *File) update(edit func([]byte) ([]byte, error)) error {
	if !f.Enabled() {
		return ErrDisabled
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("stat mirror: %w", err)
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read mirror: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("mirror %s is not valid json", f.path)
	}
	out, err := edit(raw)
	if err != nil {
		return fmt.Errorf("edit mirror: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".mirror-*.json")
	if err != nil {
		return fmt.Errorf("create mirror temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write mirror temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close mirror temp file: %w", err)
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod mirror temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace mirror: %w", err)
	}
	return nil
}

func (f *File) serverPath() string {
	return "mcpServers." + escape(f.serverName)
}

// escape quotes gjson/sjson path metacharacters in a single key.
func escape(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '!', '\\', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
