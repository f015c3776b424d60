package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CePCCo-Asesores/backend-universal/pkg/moduleid"
)

// Document is a per-module contract file: rule lists keyed by phase.
type Document struct {
	Pre        []Rule `yaml:"pre" json:"pre"`
	Post       []Rule `yaml:"post" json:"post"`
	Invariants []Rule `yaml:"invariants" json:"invariants"`
}

// Loader resolves contract documents under Root. A module's document lives at
// modules/<KEY>/contract.{yaml,yml,json}, with contracts/<KEY>.{yaml,yml,json}
// as the legacy fallback; the first readable file wins. Missing or
// unparseable documents yield empty rule sets: a module without a contract
// runs unchecked. Documents are re-read on every call.
type Loader struct {
	Root string
}

func NewLoader(root string) *Loader { return &Loader{Root: root} }

// Rules returns the rule list for one section ("pre", "post", "invariants").
func (l *Loader) Rules(module, section string) []Rule {
	doc := l.load(module)
	switch section {
	case "pre":
		return doc.Pre
	case "post":
		return doc.Post
	case "invariants":
		return doc.Invariants
	}
	return nil
}

func (l *Loader) load(module string) Document {
	key := moduleid.Sanitize(module)
	path := l.resolve(key)
	if path == "" {
		return Document{}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}
	}
	var doc Document
	if strings.HasSuffix(path, ".json") {
		if json.Unmarshal(raw, &doc) != nil {
			return Document{}
		}
		return doc
	}
	if yaml.Unmarshal(raw, &doc) != nil {
		return Document{}
	}
	return doc
}

func (l *Loader) resolve(key string) string {
	candidates := []string{
		filepath.Join(l.Root, "modules", key, "contract.yaml"),
		filepath.Join(l.Root, "modules", key, "contract.yml"),
		filepath.Join(l.Root, "modules", key, "contract.json"),
		filepath.Join(l.Root, "contracts", fmt.Sprintf("%s.yaml", key)),
		filepath.Join(l.Root, "contracts", fmt.Sprintf("%s.yml", key)),
		filepath.Join(l.Root, "contracts", fmt.Sprintf("%s.json", key)),
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
