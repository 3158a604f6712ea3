package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary key-value document node types. Purchase receipts embed one of these
// documents; the format is a recursive tree of named nodes.
const (
	kvTypeNested byte = 0x00
	kvTypeString byte = 0x01
	kvTypeInt32  byte = 0x02
	kvTypeEnd    byte = 0x08
)

// KeyValue is a node in a binary key-value document. Exactly one of Value,
// Int, or Children is meaningful, depending on how the node was encoded.
type KeyValue struct {
	Name     string
	Value    string
	Int      int32
	Children []*KeyValue
}

// Child returns the first child with the given name, or nil.
func (kv *KeyValue) Child(name string) *KeyValue {
	if kv == nil {
		return nil
	}
	for _, c := range kv.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// String returns the string value of the named child, or "".
func (kv *KeyValue) String(name string) string {
	if c := kv.Child(name); c != nil {
		return c.Value
	}
	return ""
}

// Int32 returns the int32 value of the named child; ok reports presence.
func (kv *KeyValue) Int32(name string) (int32, bool) {
	if c := kv.Child(name); c != nil {
		return c.Int, true
	}
	return 0, false
}

// ParseKeyValue decodes a binary key-value document from data.
// The document is a single nested root node.
func ParseKeyValue(data []byte) (*KeyValue, error) {
	r := bytes.NewReader(data)

	t, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read document type: %w", err)
	}
	if t != kvTypeNested {
		return nil, fmt.Errorf("unexpected root node type 0x%02X", t)
	}

	name, err := readCString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read root name: %w", err)
	}

	root := &KeyValue{Name: name}
	if err := parseChildren(r, root); err != nil {
		return nil, err
	}
	return root, nil
}

// parseChildren reads child nodes until the end marker.
func parseChildren(r *bytes.Reader, parent *KeyValue) error {
	for {
		t, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("truncated document under %q: %w", parent.Name, err)
		}
		if t == kvTypeEnd {
			return nil
		}

		name, err := readCString(r)
		if err != nil {
			return fmt.Errorf("failed to read node name under %q: %w", parent.Name, err)
		}

		node := &KeyValue{Name: name}
		switch t {
		case kvTypeNested:
			if err := parseChildren(r, node); err != nil {
				return err
			}
		case kvTypeString:
			v, err := readCString(r)
			if err != nil {
				return fmt.Errorf("failed to read string value of %q: %w", name, err)
			}
			node.Value = v
		case kvTypeInt32:
			if err := binary.Read(r, binary.LittleEndian, &node.Int); err != nil {
				return fmt.Errorf("failed to read int value of %q: %w", name, err)
			}
		default:
			return fmt.Errorf("unknown node type 0x%02X for %q", t, name)
		}

		parent.Children = append(parent.Children, node)
	}
}

// EncodeKeyValue serializes a document back to its binary form. Used by tests
// and by frame constructors that embed receipts.
func EncodeKeyValue(kv *KeyValue) []byte {
	var buf bytes.Buffer
	encodeNode(&buf, kv)
	return buf.Bytes()
}

func encodeNode(buf *bytes.Buffer, kv *KeyValue) {
	if len(kv.Children) > 0 || (kv.Value == "" && kv.Int == 0) {
		buf.WriteByte(kvTypeNested)
		buf.WriteString(kv.Name)
		buf.WriteByte(0)
		for _, c := range kv.Children {
			encodeNode(buf, c)
		}
		buf.WriteByte(kvTypeEnd)
		return
	}
	if kv.Value != "" {
		buf.WriteByte(kvTypeString)
		buf.WriteString(kv.Name)
		buf.WriteByte(0)
		buf.WriteString(kv.Value)
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(kvTypeInt32)
	buf.WriteString(kv.Name)
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, kv.Int)
}

// readCString reads a null-terminated string.
func readCString(r *bytes.Reader) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}
