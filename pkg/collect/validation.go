package collect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate  = validator.New()
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

func init() {
	_ = validate.RegisterValidation("validNodeName", validateNodeName)
}

func validateNodeName(fl validator.FieldLevel) bool {
	return nameRegex.MatchString(fl.Field().String())
}

// ValidateSuite checks the whole tree, failing on the first invalid node.
func ValidateSuite(s *Suite) error {
	if s == nil {
		return fmt.Errorf("suite cannot be nil")
	}
	if len(s.Roots) == 0 {
		return fmt.Errorf("suite has no roots")
	}
	seen := make(map[string]bool)
	for _, root := range s.Roots {
		if err := validateTree(root, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateTree(n *Node, seen map[string]bool) error {
	if err := ValidateNode(n); err != nil {
		return err
	}
	if seen[n.ID] {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	seen[n.ID] = true
	for _, child := range n.Children {
		if err := validateTree(child, seen); err != nil {
			return err
		}
	}
	return nil
}

// ValidateNode checks a single node; children are not descended into.
func ValidateNode(n *Node) error {
	if n == nil {
		return fmt.Errorf("node cannot be nil")
	}
	if err := validate.Var(n.Name, "required,validNodeName"); err != nil {
		return fmt.Errorf("node %q: invalid name: %w", n.Name, err)
	}
	if err := validate.Var(n.Keywords, "dive,required"); err != nil {
		return fmt.Errorf("node %q: empty keyword", n.ID)
	}
	hasScript := strings.TrimSpace(n.Script) != ""
	if hasScript && len(n.Children) > 0 {
		return fmt.Errorf("node %q: a node with children cannot carry a script", n.ID)
	}
	if !hasScript && len(n.Children) == 0 && n.Skip == "" {
		return fmt.Errorf("node %q: script is required for leaf nodes", n.ID)
	}
	return nil
}
