// Package collect loads a suite tree from YAML and exposes it as the
// collection tree the item generator walks.
package collect

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/andrej220/rdist/pkg/item"
)

// Node is one entry of a suite: a group when it has children, a test when it
// has a script.
type Node struct {
	ID       string   `yaml:"-" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Script   string   `yaml:"script,omitempty" json:"script,omitempty"`
	Skip     string   `yaml:"skip,omitempty" json:"skip,omitempty"`
	Children []*Node  `yaml:"children,omitempty" json:"children,omitempty"`

	inherited []string
	invalid   error
}

type Suite struct {
	Version string  `yaml:"version" json:"version"`
	Roots   []*Node `yaml:"roots" json:"roots"`
}

// LoadSuite reads a suite file. Structural problems with individual nodes do
// not fail the load; they surface as collection errors during traversal.
func LoadSuite(filePath string) (*Suite, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	return ParseSuite(data)
}

func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suite: %w", err)
	}
	if len(s.Roots) == 0 {
		return nil, fmt.Errorf("suite has no roots")
	}
	for _, root := range s.Roots {
		resolve(root, "", nil)
	}
	return &s, nil
}

// resolve assigns path ids, carries keywords down the tree and records
// per-node validation failures.
func resolve(n *Node, parent string, keywords []string) {
	if n == nil {
		return
	}
	n.ID = path.Join(parent, n.Name)
	n.inherited = keywords
	n.invalid = ValidateNode(n)
	kws := append(append([]string(nil), keywords...), n.Keywords...)
	for _, child := range n.Children {
		resolve(child, n.ID, kws)
	}
}

// Nodes returns the suite roots as collection nodes.
func (s *Suite) Nodes() []item.Node {
	nodes := make([]item.Node, 0, len(s.Roots))
	for _, r := range s.Roots {
		nodes = append(nodes, entry{r})
	}
	return nodes
}

// entry adapts a suite Node to item.Node.
type entry struct{ n *Node }

func (e entry) Name() string { return e.n.ID }

func (e entry) Item() (item.Item, bool) {
	n := e.n
	if len(n.Children) > 0 || n.Script == "" || n.Skip != "" || n.invalid != nil {
		return item.Item{}, false
	}
	kws := append(append([]string(nil), n.inherited...), n.Keywords...)
	return item.Item{ID: n.ID, Keywords: kws, Script: n.Script}, true
}

func (e entry) Children() ([]item.Node, error) {
	n := e.n
	if n.Skip != "" {
		return nil, &item.SkipError{Reason: n.Skip}
	}
	if n.invalid != nil {
		return nil, n.invalid
	}
	children := make([]item.Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c != nil {
			children = append(children, entry{c})
		}
	}
	return children, nil
}
