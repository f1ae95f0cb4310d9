// Package dom defines the stored form of document nodes: node types,
// hierarchical node ids and the binary encoding kept in page records.
package dom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NodeType is kept in the top three bits of a record's signature byte.
type NodeType byte

const (
	TextNode                  NodeType = 0
	ElementNode               NodeType = 1
	CDATANode                 NodeType = 2
	ProcessingInstructionNode NodeType = 3
	AttributeNode             NodeType = 4
	CommentNode               NodeType = 5
)

func (t NodeType) String() string {
	switch t {
	case TextNode:
		return "text"
	case ElementNode:
		return "element"
	case CDATANode:
		return "cdata"
	case ProcessingInstructionNode:
		return "processing-instruction"
	case AttributeNode:
		return "attribute"
	case CommentNode:
		return "comment"
	default:
		return fmt.Sprintf("node-type(%d)", byte(t))
	}
}

const (
	typeShift        = 5
	flagHasNamespace = 0x10

	// LengthIDUnits is the size of the node id length field.
	LengthIDUnits = 2
	idUnitBytes   = 4
)

var ErrMalformedNode = errors.New("malformed stored node")

// NodeID is a dotted level id: the root element is 1, its second child 1.2 and so on.
type NodeID []uint32

// ParseNodeID reads the dotted form.
func ParseNodeID(s string) (NodeID, error) {
	parts := strings.Split(s, ".")
	id := make(NodeID, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("node id %q: bad level %q", s, p)
		}
		id = append(id, uint32(v))
	}
	return id, nil
}

func (id NodeID) String() string {
	parts := make([]string, len(id))
	for i, v := range id {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ".")
}

// Units is the number of levels, stored in the id length field.
func (id NodeID) Units() int { return len(id) }

// LengthInBytes is the encoded size of an id with the given number of units.
func LengthInBytes(units int) int { return units * idUnitBytes }

// Parent returns the id one level up, or nil for the root.
func (id NodeID) Parent() NodeID {
	if len(id) <= 1 {
		return nil
	}
	return id[:len(id)-1:len(id)-1]
}

// Child returns the id of the n-th child (1-based).
func (id NodeID) Child(n uint32) NodeID {
	out := make(NodeID, len(id)+1)
	copy(out, id)
	out[len(id)] = n
	return out
}

func (id NodeID) Equal(o NodeID) bool {
	if len(id) != len(o) {
		return false
	}
	for i := range id {
		if id[i] != o[i] {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether id lies strictly below ancestor.
func (id NodeID) IsDescendantOf(ancestor NodeID) bool {
	if len(id) <= len(ancestor) {
		return false
	}
	for i := range ancestor {
		if id[i] != ancestor[i] {
			return false
		}
	}
	return true
}

// Compare orders ids in document order.
func (id NodeID) Compare(o NodeID) int {
	for i := 0; i < len(id) && i < len(o); i++ {
		switch {
		case id[i] < o[i]:
			return -1
		case id[i] > o[i]:
			return 1
		}
	}
	switch {
	case len(id) < len(o):
		return -1
	case len(id) > len(o):
		return 1
	}
	return 0
}

// Bytes encodes the id without its length field.
func (id NodeID) Bytes() []byte {
	out := make([]byte, LengthInBytes(len(id)))
	for i, v := range id {
		binary.BigEndian.PutUint32(out[i*idUnitBytes:], v)
	}
	return out
}

func decodeNodeID(b []byte, units int) NodeID {
	id := make(NodeID, units)
	for i := range id {
		id[i] = binary.BigEndian.Uint32(b[i*idUnitBytes:])
	}
	return id
}

// Node is the decoded form of one stored node.
type Node struct {
	Type  NodeType
	ID    NodeID
	Name  string // element and attribute name
	Value []byte // text, attribute value, comment, cdata, pi data
	// NamespaceURI is set on attributes that carry one.
	NamespaceURI string
	// Target of a processing instruction.
	Target string
	// ChildCount counts attributes and children of an element.
	ChildCount int
	AttrCount  int
}

// Signature builds the first byte of an encoded node.
func Signature(t NodeType, flags byte) byte { return byte(t)<<typeShift | flags&0x1F }

// PeekType reads the node type from an encoded node.
func PeekType(b []byte) (NodeType, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty record", ErrMalformedNode)
	}
	t := NodeType(b[0] >> typeShift)
	if t > CommentNode {
		return 0, fmt.Errorf("%w: unknown node type %d", ErrMalformedNode, t)
	}
	return t, nil
}

// PeekID reads the node id from an encoded node without decoding the rest.
func PeekID(b []byte) (NodeID, error) {
	t, err := PeekType(b)
	if err != nil {
		return nil, err
	}
	off := 1
	if t == ElementNode {
		off += 4
	}
	if len(b) < off+LengthIDUnits {
		return nil, fmt.Errorf("%w: truncated id length", ErrMalformedNode)
	}
	units := int(binary.BigEndian.Uint16(b[off:]))
	off += LengthIDUnits
	if len(b) < off+LengthInBytes(units) {
		return nil, fmt.Errorf("%w: truncated node id", ErrMalformedNode)
	}
	return decodeNodeID(b[off:], units), nil
}

// Encode serializes n.
//
//	element:   sig | childCount u32 | units u16 | id | attrCount u16 | nameLen u16 | name
//	attribute: sig | units u16 | id | [nsLen u16 | ns] | nameLen u16 | name | value
//	text, cdata, comment: sig | units u16 | id | value
//	pi:        sig | units u16 | id | targetLen u32 | target | data
func Encode(n *Node) []byte {
	var flags byte
	if n.Type == AttributeNode && n.NamespaceURI != "" {
		flags |= flagHasNamespace
	}
	out := []byte{Signature(n.Type, flags)}
	if n.Type == ElementNode {
		out = binary.BigEndian.AppendUint32(out, uint32(n.ChildCount))
	}
	out = binary.BigEndian.AppendUint16(out, uint16(n.ID.Units()))
	out = append(out, n.ID.Bytes()...)

	switch n.Type {
	case ElementNode:
		out = binary.BigEndian.AppendUint16(out, uint16(n.AttrCount))
		out = binary.BigEndian.AppendUint16(out, uint16(len(n.Name)))
		out = append(out, n.Name...)
	case AttributeNode:
		if flags&flagHasNamespace != 0 {
			out = binary.BigEndian.AppendUint16(out, uint16(len(n.NamespaceURI)))
			out = append(out, n.NamespaceURI...)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(n.Name)))
		out = append(out, n.Name...)
		out = append(out, n.Value...)
	case ProcessingInstructionNode:
		out = binary.BigEndian.AppendUint32(out, uint32(len(n.Target)))
		out = append(out, n.Target...)
		out = append(out, n.Value...)
	default:
		out = append(out, n.Value...)
	}
	return out
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrMalformedNode, n, r.off, len(r.b))
		return nil
	}
	s := r.b[r.off : r.off+n]
	r.off += n
	return s
}

func (r *reader) u16() int {
	if s := r.take(2); s != nil {
		return int(binary.BigEndian.Uint16(s))
	}
	return 0
}

func (r *reader) u32() int {
	if s := r.take(4); s != nil {
		return int(binary.BigEndian.Uint32(s))
	}
	return 0
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	s := append([]byte(nil), r.b[r.off:]...)
	r.off = len(r.b)
	return s
}

// Decode parses an encoded node.
func Decode(b []byte) (*Node, error) {
	t, err := PeekType(b)
	if err != nil {
		return nil, err
	}
	flags := b[0] & 0x1F
	r := &reader{b: b, off: 1}
	n := &Node{Type: t}
	if t == ElementNode {
		n.ChildCount = r.u32()
	}
	units := r.u16()
	if idBytes := r.take(LengthInBytes(units)); idBytes != nil {
		n.ID = decodeNodeID(idBytes, units)
	}

	switch t {
	case ElementNode:
		n.AttrCount = r.u16()
		n.Name = string(r.take(r.u16()))
	case AttributeNode:
		if flags&flagHasNamespace != 0 {
			n.NamespaceURI = string(r.take(r.u16()))
		}
		n.Name = string(r.take(r.u16()))
		n.Value = r.rest()
	case ProcessingInstructionNode:
		n.Target = string(r.take(r.u32()))
		n.Value = r.rest()
	default:
		n.Value = r.rest()
	}
	if r.err != nil {
		return nil, r.err
	}
	return n, nil
}

// ElementCounts reads childCount and attrCount of an encoded element.
func ElementCounts(b []byte) (children, attributes int, err error) {
	r := &reader{b: b, off: 1}
	children = r.u32()
	units := r.u16()
	r.take(LengthInBytes(units))
	attributes = r.u16()
	return children, attributes, r.err
}

// StringValuePart returns the bytes an encoded node adds to a string value,
// without copying the record. Text, cdata and processing-instruction data always
// contribute; attributes and comments only when they are the node whose value
// is computed (top). Elements contribute nothing themselves.
func StringValuePart(b []byte, top bool) ([]byte, error) {
	t, err := PeekType(b)
	if err != nil {
		return nil, err
	}
	if t == ElementNode || (!top && (t == AttributeNode || t == CommentNode)) {
		return nil, nil
	}
	r := &reader{b: b, off: 1}
	units := r.u16()
	r.take(LengthInBytes(units))
	switch t {
	case AttributeNode:
		if b[0]&flagHasNamespace != 0 {
			r.take(r.u16())
		}
		r.take(r.u16())
	case ProcessingInstructionNode:
		r.take(r.u32())
	}
	if r.err != nil {
		return nil, r.err
	}
	return b[r.off:], nil
}
