package htmldiff

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// voidElements never wrap content; they are not pushed onto the path stack.
var voidElements = map[string]struct{}{
	"area": {}, "base": {}, "br": {}, "col": {}, "embed": {}, "hr": {},
	"img": {}, "input": {}, "link": {}, "meta": {}, "param": {},
	"source": {}, "track": {}, "wbr": {},
}

// pathIndex maps byte offsets in a document to approximate DOM paths like
// "html>body>div.pricing>p". It is built with a single tokenizer pass; on
// malformed input the walk stops and uncovered offsets resolve to "".
type pathIndex struct {
	segments []pathSegment
}

type pathSegment struct {
	start int
	path  string
}

func newPathIndex(doc string) *pathIndex {
	ix := &pathIndex{}
	if doc == "" {
		return ix
	}

	z := html.NewTokenizer(strings.NewReader(doc))
	var stack []string
	offset := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// EOF or unparseable input; whatever was indexed stands.
			return ix
		}
		rawLen := len(z.Raw())

		switch tt {
		case html.StartTagToken:
			tok := z.Token()
			label := elementLabel(tok)
			if _, void := voidElements[tok.Data]; void {
				ix.add(offset, renderPath(append(stack, label)))
				ix.add(offset+rawLen, renderPath(stack))
				break
			}
			stack = append(stack, label)
			ix.add(offset, renderPath(stack))

		case html.EndTagToken:
			tok := z.Token()
			ix.add(offset, renderPath(stack))
			if i := lastIndexOfTag(stack, tok.Data); i >= 0 {
				stack = stack[:i]
			}
			ix.add(offset+rawLen, renderPath(stack))

		case html.SelfClosingTagToken:
			tok := z.Token()
			ix.add(offset, renderPath(append(stack, elementLabel(tok))))
			ix.add(offset+rawLen, renderPath(stack))
		}

		offset += rawLen
	}
}

// add records a path boundary, collapsing duplicates at the same offset.
func (ix *pathIndex) add(start int, path string) {
	if n := len(ix.segments); n > 0 && ix.segments[n-1].start == start {
		ix.segments[n-1].path = path
		return
	}
	ix.segments = append(ix.segments, pathSegment{start: start, path: path})
}

// pathAt returns the DOM path covering the given byte offset, or "" when the
// offset precedes any indexed tag (or the document was not walkable).
func (ix *pathIndex) pathAt(offset int) string {
	i := sort.Search(len(ix.segments), func(i int) bool {
		return ix.segments[i].start > offset
	})
	if i == 0 {
		return ""
	}
	return ix.segments[i-1].path
}

// elementLabel renders one path component: tag plus "#id" when an id is set,
// otherwise tag plus "." and the first class token, otherwise the bare tag.
func elementLabel(tok html.Token) string {
	var id, class string
	for _, attr := range tok.Attr {
		switch attr.Key {
		case "id":
			id = strings.TrimSpace(attr.Val)
		case "class":
			fields := strings.Fields(attr.Val)
			if len(fields) > 0 {
				class = fields[0]
			}
		}
	}
	if id != "" {
		return tok.Data + "#" + id
	}
	if class != "" {
		return tok.Data + "." + class
	}
	return tok.Data
}

func renderPath(stack []string) string {
	return strings.Join(stack, ">")
}

func lastIndexOfTag(stack []string, tag string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		name := stack[i]
		if j := strings.IndexAny(name, "#."); j >= 0 {
			name = name[:j]
		}
		if name == tag {
			return i
		}
	}
	return -1
}
