// Package nodeio reads and writes node lists as JSON arrays.
package nodeio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ritzau/pugmark/pkg/model"
)

// ErrInvalidFormat is returned when an import is not an array of node objects
// each carrying an id, a longitude and a latitude.
var ErrInvalidFormat = errors.New("invalid node file format")

var required = []string{"id", "longitude", "latitude"}

// Export writes nodes as an indented JSON array. A nil list is written as [].
func Export(w io.Writer, nodes []model.Node) error {
	if nodes == nil {
		nodes = []model.Node{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(nodes); err != nil {
		return fmt.Errorf("encoding nodes: %w", err)
	}
	return nil
}

// WriteFile exports nodes to path.
func WriteFile(path string, nodes []model.Node) error {
	var buf bytes.Buffer
	if err := Export(&buf, nodes); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Import decodes a node list. Every element is validated before any is
// accepted: on error no nodes are returned.
func Import(r io.Reader) ([]model.Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading nodes: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON array: %v", ErrInvalidFormat, err)
	}
	if raw == nil {
		// The literal null
		return nil, fmt.Errorf("%w: expected a JSON array", ErrInvalidFormat)
	}

	nodes := make([]model.Node, 0, len(raw))
	for i, elem := range raw {
		n, err := decodeNode(elem)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidFormat, i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ReadFile imports the node list stored at path.
func ReadFile(path string) ([]model.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	nodes, err := Import(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return nodes, nil
}

func decodeNode(elem json.RawMessage) (model.Node, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return model.Node{}, errors.New("not an object")
	}
	for _, key := range required {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return model.Node{}, fmt.Errorf("missing %q", key)
		}
	}

	var n model.Node
	if err := json.Unmarshal(elem, &n); err != nil {
		return model.Node{}, err
	}
	if n.ID == "" {
		return model.Node{}, errors.New("empty id")
	}
	if n.Density != nil && !(*n.Density >= 0) {
		return model.Node{}, fmt.Errorf("negative density %g", *n.Density)
	}
	return n, nil
}
