package graph

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// dumpVersion is written into every dump so older readers can refuse newer
// layouts.
const dumpVersion = 1

// MarshalCanonical produces the canonical JSON dump of a graph.
// Equal graphs always produce byte-identical dumps.
func (g *Graph) MarshalCanonical() ([]byte, error) {
	if g == nil {
		return nil, ErrNilGraph
	}

	nodes := make([]any, len(g.Nodes))
	for i, n := range g.Nodes {
		inputs := make([]any, len(n.Inputs))
		for j, in := range n.Inputs {
			inputs[j] = int64(in)
		}
		attrs := make(map[string]any, len(n.Attrs))
		for k, v := range n.Attrs {
			attrs[k] = v
		}
		nodes[i] = map[string]any{
			"id":     int64(n.ID),
			"op":     n.Op,
			"inputs": inputs,
			"attrs":  attrs,
		}
	}

	attrs := make(map[string]any, len(g.Attrs))
	for k, v := range g.Attrs {
		attrs[k] = base64.StdEncoding.EncodeToString(v)
	}

	return marshalCanonical(map[string]any{
		"version": int64(dumpVersion),
		"name":    g.Name,
		"nodes":   nodes,
		"attrs":   attrs,
	})
}

type wireGraph struct {
	Version int               `json:"version"`
	Name    string            `json:"name"`
	Nodes   []Node            `json:"nodes"`
	Attrs   map[string]string `json:"attrs"`
}

// Unmarshal parses a dump produced by MarshalCanonical.
func Unmarshal(data []byte) (*Graph, error) {
	var w wireGraph
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	if w.Version != dumpVersion {
		return nil, fmt.Errorf("unmarshal graph: unsupported dump version %d", w.Version)
	}

	g := &Graph{
		Name:  w.Name,
		Nodes: w.Nodes,
		Attrs: make(map[string][]byte, len(w.Attrs)),
	}
	if len(g.Nodes) == 0 {
		g.Nodes = nil
	}
	for i := range g.Nodes {
		if len(g.Nodes[i].Inputs) == 0 {
			g.Nodes[i].Inputs = nil
		}
		if len(g.Nodes[i].Attrs) == 0 {
			g.Nodes[i].Attrs = nil
		}
	}
	for k, v := range w.Attrs {
		blob, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("unmarshal graph: attr %q: %w", k, err)
		}
		g.Attrs[k] = blob
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return g, nil
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(val)
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalCanonical(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range sortedKeysUTF16(val) {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalCanonicalString(k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, fmt.Errorf("value for key %q: %w", k, err)
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString encodes an NFC normalized string without HTML
// escaping. U+2028/U+2029 are emitted literally.
func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators rewrites \u2028 and \u2029 escapes to the literal
// characters unless the backslash is itself escaped.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			slashes := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				slashes++
			}
			if slashes%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

func sortedKeysUTF16(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a := utf16.Encode([]rune(keys[i]))
		b := utf16.Encode([]rune(keys[j]))
		for n := 0; n < len(a) && n < len(b); n++ {
			if a[n] != b[n] {
				return a[n] < b[n]
			}
		}
		return len(a) < len(b)
	})
	return keys
}
