package citation

import (
	"regexp"
	"strings"

	"github.com/deepgram/kbquery/internal/domain/query/models"
)

// DefaultImageAlt labels images whose citation carries no caption
const DefaultImageAlt = "image"

var (
	altEscaper    = strings.NewReplacer(`\`, `\\`, "[", `\[`, "]", `\]`, "\r", " ", "\n", " ")
	altUnescaper  = strings.NewReplacer(`\\`, `\`, `\[`, "[", `\]`, "]")
	targetEscaper = strings.NewReplacer(" ", "%20", "[", "%5B", "]", "%5D", "(", "%28", ")", "%29", "\n", "", "\r", "")

	// ![alt](target) with alt escaped the way Resolve writes it
	imagePattern = regexp.MustCompile(`!\[((?:\\.|[^\]\\])*)\]\(([^)\s]+)\)`)
)

// Resolve substitutes every "[<id>]" placeholder of an image citation with a
// markdown image pointing at the citation's resource. It never mutates its
// inputs, and its output holds no placeholder it would substitute again, so
// Resolve(Resolve(t, c), c) == Resolve(t, c).
func Resolve(text string, citations []models.Citation) string {
	if text == "" || len(citations) == 0 {
		return text
	}

	ids := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		if c.IsImage() && validID(c.ID) {
			ids[c.ID] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return text
	}

	pairs := make([]string, 0, 2*len(ids))
	for _, c := range citations {
		if _, ok := ids[c.ID]; !ok || !c.IsImage() {
			continue
		}
		pairs = append(pairs, Placeholder(c.ID), render(c, ids))
	}

	return strings.NewReplacer(pairs...).Replace(text)
}

// Placeholder returns the inline token that stands for a citation in answer text
func Placeholder(id string) string {
	return "[" + id + "]"
}

// Markdown renders an image citation as a markdown image reference
func Markdown(c models.Citation) string {
	return render(c, map[string]struct{}{c.ID: {}})
}

func render(c models.Citation, ids map[string]struct{}) string {
	alt := strings.TrimSpace(c.Content)
	if alt == "" {
		alt = DefaultImageAlt
	}
	alt = altEscaper.Replace(alt)
	// ids may end in spaces, so one pad is not always enough
	for formsPlaceholder(alt, ids) {
		alt += " "
	}
	return "![" + alt + "](" + targetEscaper.Replace(c.ResourceRef) + ")"
}

// formsPlaceholder reports whether "[" + alt + "]" would contain a placeholder.
// Ids never hold brackets, so one could only end at the closing bracket and
// start at the opening bracket or an escaped one inside alt.
func formsPlaceholder(alt string, ids map[string]struct{}) bool {
	if _, ok := ids[alt]; ok {
		return true
	}
	for i := 0; i < len(alt); i++ {
		if alt[i] != '[' {
			continue
		}
		if _, ok := ids[alt[i+1:]]; ok {
			return true
		}
	}
	return false
}

// validID rejects ids that could not round-trip through a placeholder. A
// backslash is refused too: escaped captions contain "\]", which could close
// such a placeholder inside the rendered alt text.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "[]\\")
}

// ImageRef is one markdown image found in display text
type ImageRef struct {
	Alt    string `json:"alt"`
	Target string `json:"target"`
}

// ImageRefs lists the markdown images in text, in textual order
func ImageRefs(text string) []ImageRef {
	matches := imagePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	refs := make([]ImageRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, ImageRef{
			Alt:    strings.TrimRight(altUnescaper.Replace(m[1]), " "),
			Target: m[2],
		})
	}
	return refs
}
