package xmlstream

// Node is one parsed XML element. Only element structure, attributes and
// character data survive parsing; namespaces, comments and processing
// instructions are dropped.
type Node struct {
	Tag      string
	Attr     map[string]string
	Text     string
	Children []*Node
}

// Find returns the first direct child with the given tag, or nil.
func (n *Node) Find(tag string) *Node {
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// FindAll returns every direct child with the given tag.
func (n *Node) FindAll(tag string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// FindText returns the text of the first direct child with the given tag.
// The second value reports whether such a child exists at all, which keeps
// a missing element distinct from an empty one.
func (n *Node) FindText(tag string) (string, bool) {
	c := n.Find(tag)
	if c == nil {
		return "", false
	}
	return c.Text, true
}
