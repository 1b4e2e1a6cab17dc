package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/orneryd/nornicstore/pkg/property"
)

// Neo4jExport is the combined Neo4j JSON export format.
type Neo4jExport struct {
	Nodes         []Neo4jNode         `json:"nodes"`
	Relationships []Neo4jRelationship `json:"relationships"`
}

// Neo4jNode is one node of an export.
type Neo4jNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// Neo4jNodeRef references a node in the APOC relationship format.
type Neo4jNodeRef struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels,omitempty"`
}

// Neo4jRelationship is one relationship of an export. Both the flat format
// (startNode/endNode) and the APOC format (start/end objects) are accepted.
type Neo4jRelationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`

	StartNode string `json:"startNode,omitempty"`
	EndNode   string `json:"endNode,omitempty"`

	Start Neo4jNodeRef `json:"start,omitempty"`
	End   Neo4jNodeRef `json:"end,omitempty"`
}

// GetStartID returns the start node id of either format.
func (r *Neo4jRelationship) GetStartID() string {
	if r.Start.ID != "" {
		return r.Start.ID
	}
	return r.StartNode
}

// GetEndID returns the end node id of either format.
func (r *Neo4jRelationship) GetEndID() string {
	if r.End.ID != "" {
		return r.End.ID
	}
	return r.EndNode
}

// ErrInvalidExport is returned for export entries that cannot be loaded.
var ErrInvalidExport = errors.New("invalid export")

// ImportResult maps export ids to the record ids assigned by the loader.
type ImportResult struct {
	Nodes         map[string]int64
	Relationships map[string]int64
	Skipped       int
}

// ImportExport buffers a combined export read from r. The caller flushes.
//
// Property values that have no record encoding (nested maps, mixed arrays)
// are skipped and counted in ImportResult.Skipped.
func (l *Loader) ImportExport(r io.Reader) (*ImportResult, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var export Neo4jExport
	if err := dec.Decode(&export); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	return l.importEntries(export.Nodes, export.Relationships)
}

// ImportExportFile is ImportExport over a file.
func (l *Loader) ImportExportFile(path string) (*ImportResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()
	return l.ImportExport(file)
}

// ImportAPOCDir buffers an APOC export directory holding nodes.json and
// relationships.json, one JSON object per line. Missing files are treated
// as empty.
func (l *Loader) ImportAPOCDir(dir string) (*ImportResult, error) {
	var nodes []Neo4jNode
	if err := readLines(filepath.Join(dir, "nodes.json"), func(line []byte) error {
		var n Neo4jNode
		if err := unmarshalNumbers(line, &n); err != nil {
			return fmt.Errorf("parsing node JSON: %w", err)
		}
		nodes = append(nodes, n)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}

	var rels []Neo4jRelationship
	if err := readLines(filepath.Join(dir, "relationships.json"), func(line []byte) error {
		var r Neo4jRelationship
		if err := unmarshalNumbers(line, &r); err != nil {
			return fmt.Errorf("parsing relationship JSON: %w", err)
		}
		rels = append(rels, r)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	return l.importEntries(nodes, rels)
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func readLines(path string, fn func([]byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (l *Loader) importEntries(nodes []Neo4jNode, rels []Neo4jRelationship) (*ImportResult, error) {
	res := &ImportResult{
		Nodes:         make(map[string]int64, len(nodes)),
		Relationships: make(map[string]int64, len(rels)),
	}
	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("node #%d without id: %w", i, ErrInvalidExport)
		}
		if _, dup := res.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q: %w", n.ID, ErrInvalidExport)
		}
		props, skipped := l.convertProperties(n.Properties, "node", n.ID)
		res.Skipped += skipped
		id, err := l.CreateNode(n.Labels, props)
		if err != nil {
			return nil, err
		}
		res.Nodes[n.ID] = id
	}
	for i := range rels {
		r := &rels[i]
		if r.ID == "" || r.Type == "" {
			return nil, fmt.Errorf("relationship #%d without id or type: %w", i, ErrInvalidExport)
		}
		start, ok := res.Nodes[r.GetStartID()]
		if !ok {
			return nil, fmt.Errorf("relationship %q start %q: %w", r.ID, r.GetStartID(), ErrUnknownNode)
		}
		end, ok := res.Nodes[r.GetEndID()]
		if !ok {
			return nil, fmt.Errorf("relationship %q end %q: %w", r.ID, r.GetEndID(), ErrUnknownNode)
		}
		props, skipped := l.convertProperties(r.Properties, "relationship", r.ID)
		res.Skipped += skipped
		id, err := l.CreateRelationship(start, end, r.Type, props)
		if err != nil {
			return nil, err
		}
		res.Relationships[r.ID] = id
	}
	return res, nil
}

func (l *Loader) convertProperties(in map[string]any, kind, id string) (map[string]any, int) {
	if len(in) == 0 {
		return nil, 0
	}
	out := make(map[string]any, len(in))
	skipped := 0
	for k, v := range in {
		cv, err := ConvertJSONValue(v)
		if err != nil {
			l.log.WithFields(logrus.Fields{kind: id, "key": k}).WithError(err).Warn("skipping property")
			skipped++
			continue
		}
		out[k] = cv
	}
	return out, skipped
}

// ConvertJSONValue maps a decoded JSON value (numbers as json.Number) onto
// the property value model: integers become int64, other numbers float64,
// and homogeneous arrays the matching slice type. Empty arrays become
// []string.
func ConvertJSONValue(v any) (any, error) {
	switch x := v.(type) {
	case bool, string:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", x, property.ErrUnsupportedValue)
		}
		return f, nil
	case float64:
		return x, nil
	case []any:
		return convertArray(x)
	default:
		return nil, fmt.Errorf("%T: %w", v, property.ErrUnsupportedValue)
	}
}

func convertArray(items []any) (any, error) {
	if len(items) == 0 {
		return []string{}, nil
	}
	elems := make([]any, len(items))
	for i, it := range items {
		cv, err := ConvertJSONValue(it)
		if err != nil {
			return nil, err
		}
		elems[i] = cv
	}
	switch elems[0].(type) {
	case bool:
		return collect[bool](elems)
	case string:
		return collect[string](elems)
	case int64:
		if out, err := collect[int64](elems); err == nil {
			return out, nil
		}
		return collectFloats(elems)
	case float64:
		return collectFloats(elems)
	}
	return nil, fmt.Errorf("nested array: %w", property.ErrUnsupportedValue)
}

func collect[T any](elems []any) ([]T, error) {
	out := make([]T, len(elems))
	for i, e := range elems {
		v, ok := e.(T)
		if !ok {
			return nil, fmt.Errorf("mixed array: %w", property.ErrUnsupportedValue)
		}
		out[i] = v
	}
	return out, nil
}

// collectFloats accepts arrays mixing integers and floats.
func collectFloats(elems []any) ([]float64, error) {
	out := make([]float64, len(elems))
	for i, e := range elems {
		switch v := e.(type) {
		case int64:
			out[i] = float64(v)
		case float64:
			out[i] = v
		default:
			return nil, fmt.Errorf("mixed array: %w", property.ErrUnsupportedValue)
		}
	}
	return out, nil
}
