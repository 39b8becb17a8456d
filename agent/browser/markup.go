package browser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	// noiseSelector 不参与决策的节点
	noiseSelector = "script, style, svg, path, noscript"

	// InteractiveSelector lists the elements that receive ids.
	InteractiveSelector = "a, button, input, textarea, select, [role=button], [role=link]"
)

// stampScript assigns ids in the live DOM with the same rules Normalize
// applies to a snapshot, so the locator resolves against the page.
const stampScript = `(attr, selector) => {
	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
	if (!document.body) return 0;
	let id = 0;
	document.body.querySelectorAll(selector).forEach(el => {
		if (el.closest('svg, script, style, noscript')) return;
		const style = (el.getAttribute('style') || '').replace(/\s+/g, '').toLowerCase();
		if (style.includes('display:none')) return;
		id++;
		el.setAttribute(attr, String(id));
	});
	return id;
}`

// Normalizer turns raw page HTML into the markup handed to the decision
// capability.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer { return &Normalizer{} }

// Normalize strips noise nodes and returns the body's inner HTML. When the
// snapshot carries no ids yet, interactive elements are numbered from 1.
func (n *Normalizer) Normalize(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse markup: %w", err)
	}

	doc.Find(noiseSelector).Remove()
	for _, root := range doc.Nodes {
		stripComments(root)
	}

	body := doc.Find("body")
	if body.Find("["+IDAttribute+"]").Length() == 0 {
		markInteractive(body)
	}

	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("render markup: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func markInteractive(root *goquery.Selection) int {
	id := 0
	root.Find(InteractiveSelector).Each(func(_ int, s *goquery.Selection) {
		if hiddenInline(s) {
			return
		}
		id++
		s.SetAttr(IDAttribute, strconv.Itoa(id))
	})
	return id
}

// stripComments 删除注释节点；选择器匹配不到它们
func stripComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			stripComments(c)
		}
		c = next
	}
}

func hiddenInline(s *goquery.Selection) bool {
	style, ok := s.Attr("style")
	if !ok {
		return false
	}
	compact := strings.ToLower(strings.Join(strings.Fields(style), ""))
	return strings.Contains(compact, "display:none")
}
