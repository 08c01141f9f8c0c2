package browser

import (
	"github.com/anaskhan96/soup"
	"github.com/pkg/errors"
	"strings"
)

// LinkSelectorPart matches elements with the Tag that also have Class within their class attribute. Class can be empty.
type LinkSelectorPart struct {
	Tag   string
	Class string
}

// LinkSelector is a chain of LinkSelectorPart where each part is searched for within the elements matched by the
// previous part, like a CSS descendant selector.
type LinkSelector []LinkSelectorPart

// ParseLinkSelector parses a space separated list of "tag" or "tag.class" parts. An empty string is the same as "a".
func ParseLinkSelector(selector string) (LinkSelector, error) {
	fields := strings.Fields(selector)
	if len(fields) == 0 {
		return LinkSelector{{Tag: "a"}}, nil
	}

	parts := make(LinkSelector, len(fields))
	for i, field := range fields {
		tag, class, _ := strings.Cut(field, ".")
		if tag == "" {
			return nil, errors.Errorf("part %d of link selector \"%s\" has no tag", i, selector)
		}
		if strings.Contains(class, ".") {
			return nil, errors.Errorf("part %d of link selector \"%s\" can only have one class", i, selector)
		}
		parts[i] = LinkSelectorPart{Tag: tag, Class: class}
	}
	return parts, nil
}

// Extract returns the full text of every element in the given HTML that matches the LinkSelector, in document order.
func (ls LinkSelector) Extract(html string) []string {
	roots := []soup.Root{soup.HTMLParse(html)}
	for _, part := range ls {
		next := make([]soup.Root, 0)
		for _, root := range roots {
			if root.Error != nil {
				continue
			}
			if part.Class != "" {
				next = append(next, root.FindAll(part.Tag, "class", part.Class)...)
			} else {
				next = append(next, root.FindAll(part.Tag)...)
			}
		}
		roots = next
	}

	texts := make([]string, 0, len(roots))
	for _, root := range roots {
		if text := strings.TrimSpace(root.FullText()); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}
