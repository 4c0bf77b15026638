package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrCorrupt marks a registry file that exists but cannot be trusted:
// unreadable JSON, schema violation, or an incompatible format version.
// Callers are expected to fall back to an empty registry and log.
var ErrCorrupt = errors.New("registry document corrupt")

// Repository persists the whole registry document. Save must be atomic:
// after a crash the file holds either the old or the new document, never
// a mix.
type Repository interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// documentSchema validates the §external-interface registry document shape.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "skills"],
  "properties": {
    "version": {"type": "string"},
    "skills": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["agent", "permission_level"],
        "properties": {
          "name": {"type": "string"},
          "agent": {"type": "string", "minLength": 1},
          "permission_level": {
            "enum": ["read_only", "metrics_write", "edit_access_tests", "edit_access_src"]
          },
          "permission_granted_at": {"type": "string"},
          "permission_granted_by": {"type": "string"},
          "permission_expires_at": {"type": "string"},
          "confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
          "requires_reapproval": {"type": "boolean"},
          "promotion_history": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["from", "to", "date"],
              "properties": {
                "from": {"type": "string"},
                "to": {"type": "string"},
                "date": {"type": "string"},
                "reason": {"type": "string"},
                "confidence": {"type": "number"},
                "approval_signature": {"type": "string"},
                "allowlist_patterns": {"type": "array", "items": {"type": "string"}},
                "forbidlist_patterns": {"type": "array", "items": {"type": "string"}}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("registry.schema.json", strings.NewReader(documentSchema)); err != nil {
		panic(fmt.Sprintf("registry: schema resource: %v", err))
	}
	return c.MustCompile("registry.schema.json")
}

// FileRepository stores the registry as one JSON file on local disk.
type FileRepository struct {
	mu   sync.Mutex
	path string
}

// NewFileRepository creates a repository rooted at path. The file need not
// exist yet; a missing file loads as an empty registry.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Load reads and validates the registry document. A missing file yields an
// empty document. Malformed content yields an error wrapping ErrCorrupt.
func (f *FileRepository) Load(_ context.Context) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", f.path, err)
	}
	return decodeDocument(raw)
}

// Save writes the document atomically: marshal, write to a temp file in the
// same directory, fsync, then rename over the live file.
func (f *FileRepository) Save(_ context.Context, doc *Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp registry: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("swap registry: %w", err)
	}
	return nil
}

func decodeDocument(raw []byte) (*Document, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrCorrupt, err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrCorrupt, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCorrupt, err)
	}

	fileVersion, err := semver.NewVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrCorrupt, doc.Version, err)
	}
	ours := semver.MustParse(DocumentVersion)
	if fileVersion.Major() > ours.Major() {
		return nil, fmt.Errorf("%w: document version %s newer than supported %s",
			ErrCorrupt, doc.Version, DocumentVersion)
	}
	if doc.Skills == nil {
		doc.Skills = []*GrantRecord{}
	}
	return &doc, nil
}

// Memory is an in-process Repository used as a test double and for
// embedding without a filesystem. Error fields inject failures.
type Memory struct {
	mu      sync.Mutex
	doc     *Document
	LoadErr error
	SaveErr error
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{doc: NewDocument()}
}

func (m *Memory) Load(_ context.Context) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return cloneDocument(m.doc), nil
}

func (m *Memory) Save(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.doc = cloneDocument(doc)
	return nil
}

func cloneDocument(doc *Document) *Document {
	cp := &Document{Version: doc.Version, Skills: make([]*GrantRecord, 0, len(doc.Skills))}
	for _, r := range doc.Skills {
		cp.Skills = append(cp.Skills, r.Clone())
	}
	return cp
}
