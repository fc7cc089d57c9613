// Package markup handles the serialized rich-text documents stored in note
// content.
//
// The editing surface itself runs client-side; the server owns the document
// format. That means three jobs: canonicalizing incoming fragments so that
// an update identical to the stored document can be detected and skipped
// (instead of clobbering the record with a no-op write), stripping script
// vectors on write, and manipulating the two custom node types the editor
// produces — images with a persisted width attribute and code blocks with a
// language attribute.
package markup

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CodeBlock is an enhanced code block node: a pre>code pair with an optional
// language carried in a language-* class or data-language attribute.
type CodeBlock struct {
	Language string
	Code     string
}

func bodyContext() *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}
}

func parse(fragment string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), bodyContext())
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}
	return nodes, nil
}

func render(nodes []*html.Node) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return "", fmt.Errorf("failed to render markup: %w", err)
		}
	}
	return b.String(), nil
}

// Normalize returns the canonical serialization of a fragment. Two documents
// that differ only in serialization artifacts (attribute quoting, implied
// closing tags) normalize to the same string.
func Normalize(fragment string) (string, error) {
	nodes, err := parse(fragment)
	if err != nil {
		return "", err
	}
	return render(nodes)
}

// Equal reports whether two fragments describe the same document. It is used
// to drop incoming updates that match the stored content, so an echoed
// external update never clobbers in-progress server state with a spurious
// write. Unparseable input falls back to exact string comparison.
func Equal(a, b string) bool {
	if a == b {
		return true
	}
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return na == nb
}

func walk(nodes []*html.Node, fn func(*html.Node)) {
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		fn(n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	for _, n := range nodes {
		visit(n)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// Sanitize removes script and style elements, event-handler attributes and
// javascript: URLs from a fragment and returns the cleaned serialization.
func Sanitize(fragment string) (string, error) {
	nodes, err := parse(fragment)
	if err != nil {
		return "", err
	}

	var clean func(n *html.Node)
	clean = func(n *html.Node) {
		c := n.FirstChild
		for c != nil {
			next := c.NextSibling
			if c.Type == html.ElementNode && (c.DataAtom == atom.Script || c.DataAtom == atom.Style) {
				n.RemoveChild(c)
			} else {
				clean(c)
			}
			c = next
		}
		if n.Type != html.ElementNode {
			return
		}
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if strings.HasPrefix(strings.ToLower(a.Key), "on") {
				continue
			}
			if (a.Key == "href" || a.Key == "src") &&
				strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}
	for _, n := range nodes {
		clean(n)
	}
	return render(nodes)
}

// SetImageWidth persists a resize: every image node whose src matches gets
// the given pixel width written into its width attribute. Returns the
// updated serialization and whether any node matched.
func SetImageWidth(fragment, src string, width int) (string, bool, error) {
	nodes, err := parse(fragment)
	if err != nil {
		return "", false, err
	}
	matched := false
	walk(nodes, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Img {
			return
		}
		if s, ok := attr(n, "src"); ok && s == src {
			setAttr(n, "width", strconv.Itoa(width))
			matched = true
		}
	})
	out, err := render(nodes)
	return out, matched, err
}

// ImageSources enumerates the src of every image node, in document order.
// The full-screen preview uses it to resolve which image was activated.
func ImageSources(fragment string) ([]string, error) {
	nodes, err := parse(fragment)
	if err != nil {
		return nil, err
	}
	sources := []string{}
	walk(nodes, func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			if s, ok := attr(n, "src"); ok {
				sources = append(sources, s)
			}
		}
	})
	return sources, nil
}

// CodeBlocks extracts every pre>code block with its language, taken from a
// language-* class or a data-language attribute on either element. The code
// text is what a one-click copy would put on the clipboard.
func CodeBlocks(fragment string) ([]CodeBlock, error) {
	nodes, err := parse(fragment)
	if err != nil {
		return nil, err
	}
	blocks := []CodeBlock{}
	walk(nodes, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Pre {
			return
		}
		code := firstChildElement(n, atom.Code)
		if code == nil {
			return
		}
		lang := language(n)
		if lang == "" {
			lang = language(code)
		}
		blocks = append(blocks, CodeBlock{Language: lang, Code: textContent(code)})
	})
	return blocks, nil
}

func firstChildElement(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

func language(n *html.Node) string {
	if v, ok := attr(n, "data-language"); ok {
		return v
	}
	if classes, ok := attr(n, "class"); ok {
		for _, c := range strings.Fields(classes) {
			if strings.HasPrefix(c, "language-") {
				return strings.TrimPrefix(c, "language-")
			}
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}
