package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sat18-labs/sat18/internal/model"
)

// MaxDepth bounds the nesting of a loaded tree.
const MaxDepth = 32

// Document is the on-disk form of a policy. When Root is omitted the default
// tree is built from Thresholds, which lets operators tune the stock policy
// without restating it.
type Document struct {
	Version    int         `yaml:"version"`
	Thresholds *Thresholds `yaml:"thresholds,omitempty"`
	Root       *Node       `yaml:"root,omitempty"`
}

// Load decodes and validates a YAML policy document. Unknown fields are
// rejected so a misspelled key cannot silently disable a rule.
func Load(r io.Reader) (*Node, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	// Thresholds absent from the file keep their defaults.
	defaults := DefaultThresholds()
	doc := Document{Thresholds: &defaults}
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("policy: empty document")
		}
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	if doc.Version != 0 && doc.Version != 1 {
		return nil, fmt.Errorf("policy: unsupported document version %d", doc.Version)
	}

	root := doc.Root
	if root == nil {
		th := DefaultThresholds()
		if doc.Thresholds != nil {
			th = *doc.Thresholds
		}
		root = DefaultTree(th)
	}
	if err := Validate(root); err != nil {
		return nil, err
	}
	return root, nil
}

// LoadFile reads a policy document from path.
func LoadFile(path string) (*Node, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	root, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	return root, nil
}

// Marshal renders a tree as a YAML policy document.
func Marshal(root *Node) ([]byte, error) {
	out, err := yaml.Marshal(Document{Version: 1, Root: root})
	if err != nil {
		return nil, fmt.Errorf("policy: encode: %w", err)
	}
	return out, nil
}

// Validate checks structural rules: every node has an id, ids are unique
// within the tree, conditions name known kinds, and actions carry an id and a
// known level.
func Validate(root *Node) error {
	if root == nil {
		return fmt.Errorf("policy: tree has no root")
	}
	seen := make(map[string]bool)
	return validateNode(root, seen, 1)
}

func validateNode(n *Node, seen map[string]bool, depth int) error {
	if n == nil {
		return fmt.Errorf("policy: nil node")
	}
	if depth > MaxDepth {
		return fmt.Errorf("policy: tree deeper than %d levels at node %q", MaxDepth, n.ID)
	}
	if n.ID == "" {
		return fmt.Errorf("policy: node without id at depth %d", depth)
	}
	if seen[n.ID] {
		return fmt.Errorf("policy: duplicate node id %q", n.ID)
	}
	seen[n.ID] = true

	if n.Condition != nil {
		if err := n.Condition.validate(); err != nil {
			return fmt.Errorf("policy: node %q: %w", n.ID, err)
		}
	}
	if err := validateActions(n.ID, "actions", n.Actions); err != nil {
		return err
	}
	if err := validateActions(n.ID, "fallback", n.Fallback); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := validateNode(c, seen, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func validateActions(nodeID, field string, actions []model.Action) error {
	for i, a := range actions {
		if a.ID == "" {
			return fmt.Errorf("policy: node %q: %s[%d] has no id", nodeID, field, i)
		}
		if !a.Level.Valid() {
			return fmt.Errorf("policy: node %q: %s[%d] has unknown level %q", nodeID, field, i, a.Level)
		}
	}
	return nil
}
