package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T, s string) NodeID {
	t.Helper()
	id, err := ParseNodeID(s)
	require.NoError(t, err)
	return id
}

func TestNodeID_ParseAndRelations(t *testing.T) {
	id := mustID(t, "1.3.2")
	assert.Equal(t, "1.3.2", id.String())
	assert.Equal(t, 3, id.Units())
	assert.Equal(t, "1.3", id.Parent().String())
	assert.Nil(t, mustID(t, "1").Parent())
	assert.Equal(t, "1.3.2.7", id.Child(7).String())

	assert.True(t, id.IsDescendantOf(mustID(t, "1")))
	assert.True(t, id.IsDescendantOf(mustID(t, "1.3")))
	assert.False(t, id.IsDescendantOf(id))
	assert.False(t, id.IsDescendantOf(mustID(t, "1.2")))

	assert.Equal(t, -1, mustID(t, "1.2").Compare(mustID(t, "1.2.1")))
	assert.Equal(t, 1, mustID(t, "1.3").Compare(mustID(t, "1.2.9")))
	assert.Equal(t, 0, id.Compare(mustID(t, "1.3.2")))
	assert.True(t, id.Equal(mustID(t, "1.3.2")))

	for _, bad := range []string{"", "1..2", "0", "1.x"} {
		_, err := ParseNodeID(bad)
		assert.Error(t, err, bad)
	}
}

func TestNodeID_ParentDoesNotAlias(t *testing.T) {
	id := mustID(t, "1.2.3")
	parent := id.Parent()
	child := parent.Child(9)
	assert.Equal(t, "1.2.3", id.String())
	assert.Equal(t, "1.2.9", child.String())
}

func TestEncodeDecode(t *testing.T) {
	cases := []*Node{
		{Type: ElementNode, ID: mustID(t, "1"), Name: "book", ChildCount: 3, AttrCount: 1},
		{Type: AttributeNode, ID: mustID(t, "1.1"), Name: "lang", Value: []byte("en")},
		{Type: AttributeNode, ID: mustID(t, "1.2"), Name: "xml:id", NamespaceURI: "http://www.w3.org/XML/1998/namespace", Value: []byte("b1")},
		{Type: TextNode, ID: mustID(t, "1.3"), Value: []byte("hello")},
		{Type: CDATANode, ID: mustID(t, "1.4"), Value: []byte("<raw>")},
		{Type: CommentNode, ID: mustID(t, "1.5"), Value: []byte(" note ")},
		{Type: ProcessingInstructionNode, ID: mustID(t, "1.6"), Target: "xml-stylesheet", Value: []byte(`href="a.xsl"`)},
	}
	for _, n := range cases {
		b := Encode(n)
		typ, err := PeekType(b)
		require.NoError(t, err)
		assert.Equal(t, n.Type, typ)

		id, err := PeekID(b)
		require.NoError(t, err)
		assert.True(t, id.Equal(n.ID), "%s: id %s", n.Type, id)

		got, err := Decode(b)
		require.NoError(t, err, n.Type.String())
		assert.Equal(t, n.Type, got.Type)
		assert.Equal(t, n.Name, got.Name)
		assert.Equal(t, n.NamespaceURI, got.NamespaceURI)
		assert.Equal(t, n.Target, got.Target)
		assert.Equal(t, n.ChildCount, got.ChildCount)
		assert.Equal(t, n.AttrCount, got.AttrCount)
		assert.Equal(t, string(n.Value), string(got.Value))
	}
}

func TestDecode_Truncated(t *testing.T) {
	b := Encode(&Node{Type: ElementNode, ID: mustID(t, "1.2"), Name: "chapter", ChildCount: 2})
	_, err := Decode(b[:len(b)-3])
	require.ErrorIs(t, err, ErrMalformedNode)

	_, err = PeekID(b[:4])
	require.ErrorIs(t, err, ErrMalformedNode)

	_, err = PeekType([]byte{0xE0})
	require.ErrorIs(t, err, ErrMalformedNode)
}

func TestElementCounts(t *testing.T) {
	b := Encode(&Node{Type: ElementNode, ID: mustID(t, "1.4.2"), Name: "p", ChildCount: 5, AttrCount: 2})
	children, attrs, err := ElementCounts(b)
	require.NoError(t, err)
	assert.Equal(t, 5, children)
	assert.Equal(t, 2, attrs)
}

func TestStringValuePart(t *testing.T) {
	text := Encode(&Node{Type: TextNode, ID: mustID(t, "1.1"), Value: []byte("abc")})
	attr := Encode(&Node{Type: AttributeNode, ID: mustID(t, "1.2"), Name: "k", NamespaceURI: "urn:x", Value: []byte("v")})
	comment := Encode(&Node{Type: CommentNode, ID: mustID(t, "1.3"), Value: []byte("c")})
	pi := Encode(&Node{Type: ProcessingInstructionNode, ID: mustID(t, "1.4"), Target: "t", Value: []byte("data")})
	elem := Encode(&Node{Type: ElementNode, ID: mustID(t, "1"), Name: "e"})

	part := func(b []byte, top bool) string {
		v, err := StringValuePart(b, top)
		require.NoError(t, err)
		return string(v)
	}
	assert.Equal(t, "abc", part(text, false))
	assert.Equal(t, "", part(attr, false))
	assert.Equal(t, "v", part(attr, true))
	assert.Equal(t, "", part(comment, false))
	assert.Equal(t, "c", part(comment, true))
	assert.Equal(t, "data", part(pi, false))
	assert.Equal(t, "", part(elem, true))
}
