package toolcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Keyer generates deterministic cache keys from tool execution parameters.
//
// Contract:
// - Determinism: same inputs must produce same key, regardless of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(toolID string, input any) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// Key returns <toolID>:<hash> where hash is the first 16 hex characters of
// SHA-256 over the canonical JSON of input. Inputs that encode to the same
// JSON value (a struct and the equivalent map, say) share a key.
func (DefaultKeyer) Key(toolID string, input any) (string, error) {
	if toolID == "" || strings.ContainsAny(toolID, ":*\r\n") {
		return "", fmt.Errorf("toolcache: invalid tool id %q", toolID)
	}
	canonical, err := canonicalize(input)
	if err != nil {
		return "", fmt.Errorf("toolcache: failed to canonicalize input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return toolID + ":" + hex.EncodeToString(sum[:8]), nil
}

// canonicalize round-trips v through a generic JSON value. encoding/json
// writes map keys sorted, and UseNumber keeps numbers as written.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Resource is the tool ID without its final dot-separated segment:
// "github.issues.create" -> "github.issues". IDs without a dot are their
// own resource.
func Resource(toolID string) string {
	if i := strings.LastIndexByte(toolID, '.'); i > 0 {
		return toolID[:i]
	}
	return toolID
}

var _ Keyer = DefaultKeyer{}
