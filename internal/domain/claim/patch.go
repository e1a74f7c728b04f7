package claim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Patch operations supported on a claim document. Paths use JSON pointer
// syntax; "-" as the last array token appends.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

type PatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Fix is a proposed amendment for one validation issue.
type Fix struct {
	IssueID      string    `json:"issue_id"`
	Description  string    `json:"description"`
	Patches      []PatchOp `json:"patches"`
	RuleCitation string    `json:"rule_citation,omitempty"`
	Reasoning    string    `json:"reasoning,omitempty"`
}

// SkippedFix records a fix that could not be applied.
type SkippedFix struct {
	Fix    Fix    `json:"fix"`
	Reason string `json:"reason"`
}

// ApplyFixes applies each fix to a copy of c. A fix is applied as a unit:
// if any of its patches fails, or the patched document is no longer a
// well-formed claim, the fix is skipped and the claim is left as it was
// before that fix.
func ApplyFixes(c Claim, fixes []Fix) (Claim, []Fix, []SkippedFix) {
	current := c.Clone()
	applied := []Fix{}
	var skipped []SkippedFix

	for _, f := range fixes {
		next, err := applyFix(current, f)
		if err != nil {
			skipped = append(skipped, SkippedFix{Fix: f, Reason: err.Error()})
			continue
		}
		current = next
		applied = append(applied, f)
	}
	return current, applied, skipped
}

func applyFix(c Claim, f Fix) (Claim, error) {
	if len(f.Patches) == 0 {
		return c, fmt.Errorf("fix has no patches")
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return c, err
	}
	doc, err := decodeAny(raw)
	if err != nil {
		return c, err
	}

	for _, p := range f.Patches {
		doc, err = applyPatch(doc, p)
		if err != nil {
			return c, err
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return c, err
	}
	patched, err := Decode(out)
	if err != nil {
		return c, err
	}
	return patched, nil
}

func applyPatch(doc any, p PatchOp) (any, error) {
	switch p.Op {
	case OpAdd, OpReplace, OpRemove:
	default:
		return doc, fmt.Errorf("unsupported patch op %q", p.Op)
	}

	tokens, err := parsePointer(p.Path)
	if err != nil {
		return doc, err
	}

	var value any
	if p.Op != OpRemove {
		if len(p.Value) == 0 {
			return doc, fmt.Errorf("%s %s: value is required", p.Op, p.Path)
		}
		if value, err = decodeAny(p.Value); err != nil {
			return doc, fmt.Errorf("%s %s: %w", p.Op, p.Path, err)
		}
	}

	out, err := patchNode(doc, tokens, p.Op, value)
	if err != nil {
		return doc, fmt.Errorf("%s %s: %w", p.Op, p.Path, err)
	}
	return out, nil
}

func patchNode(node any, tokens []string, op string, value any) (any, error) {
	if len(tokens) == 0 {
		if op == OpRemove {
			return nil, fmt.Errorf("cannot remove the document root")
		}
		return value, nil
	}

	tok, rest := tokens[0], tokens[1:]

	switch n := node.(type) {
	case map[string]any:
		child, exists := n[tok]
		if len(rest) > 0 {
			if !exists {
				return nil, fmt.Errorf("path segment %q not found", tok)
			}
			updated, err := patchNode(child, rest, op, value)
			if err != nil {
				return nil, err
			}
			n[tok] = updated
			return n, nil
		}
		switch op {
		case OpAdd:
			n[tok] = value
		case OpReplace:
			if !exists {
				return nil, fmt.Errorf("path segment %q not found", tok)
			}
			n[tok] = value
		case OpRemove:
			if !exists {
				return nil, fmt.Errorf("path segment %q not found", tok)
			}
			delete(n, tok)
		}
		return n, nil

	case []any:
		if len(rest) == 0 && op == OpAdd {
			if tok == "-" {
				return append(n, value), nil
			}
			i, err := index(tok, len(n)+1)
			if err != nil {
				return nil, err
			}
			out := make([]any, 0, len(n)+1)
			out = append(out, n[:i]...)
			out = append(out, value)
			return append(out, n[i:]...), nil
		}

		i, err := index(tok, len(n))
		if err != nil {
			return nil, err
		}
		if len(rest) > 0 {
			updated, err := patchNode(n[i], rest, op, value)
			if err != nil {
				return nil, err
			}
			n[i] = updated
			return n, nil
		}
		if op == OpReplace {
			n[i] = value
			return n, nil
		}
		return append(n[:i:i], n[i+1:]...), nil
	}

	return nil, fmt.Errorf("cannot traverse into %q", tok)
}

func index(tok string, limit int) (int, error) {
	i, err := strconv.Atoi(tok)
	if err != nil || i < 0 || i >= limit {
		return 0, fmt.Errorf("array index %q out of range", tok)
	}
	return i, nil
}

func parsePointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path %q must start with /", path)
	}
	parts := strings.Split(path[1:], "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts, nil
}

func decodeAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
