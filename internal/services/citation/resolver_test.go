package citation

import (
	"strings"
	"testing"

	"github.com/deepgram/kbquery/internal/domain/query/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func imageCitation(id, content, ref string) models.Citation {
	return models.Citation{ID: id, Kind: models.CitationImage, Content: content, ResourceRef: ref}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		citations []models.Citation
		want      string
	}{
		{
			name:      "no citations leaves text alone",
			text:      "see [img-1]",
			citations: nil,
			want:      "see [img-1]",
		},
		{
			name: "two image references in textual order",
			text: "Login flow [img-2] then register [img-1].",
			citations: []models.Citation{
				imageCitation("img-1", "register form", "/api/v1/documents/d/images/a.png"),
				imageCitation("img-2", "login form", "/api/v1/documents/d/images/b.png"),
			},
			want: "Login flow ![login form](/api/v1/documents/d/images/b.png) then register ![register form](/api/v1/documents/d/images/a.png).",
		},
		{
			name:      "every occurrence is replaced",
			text:      "[c9] and again [c9]",
			citations: []models.Citation{imageCitation("c9", "", "/i.png")},
			want:      "![image](/i.png) and again ![image](/i.png)",
		},
		{
			name: "text citations and images without a resource are ignored",
			text: "[t1] [img-3]",
			citations: []models.Citation{
				{ID: "t1", Kind: models.CitationText, Content: "excerpt"},
				{ID: "img-3", Kind: models.CitationImage},
			},
			want: "[t1] [img-3]",
		},
		{
			name:      "id is matched literally, not as a pattern",
			text:      "[DOC-a.b-IMAGE-1] [DOC-aXb-IMAGE-1]",
			citations: []models.Citation{imageCitation("DOC-a.b-IMAGE-1", "chart", "/c.png")},
			want:      "![chart](/c.png) [DOC-aXb-IMAGE-1]",
		},
		{
			name:      "caption brackets and newlines are escaped",
			text:      "[x]",
			citations: []models.Citation{imageCitation("x", "a [b]\nc", "/path with space.png")},
			want:      `![a \[b\] c](/path%20with%20space.png)`,
		},
		{
			name: "caption that spells another placeholder is padded",
			text: "[img-1]",
			citations: []models.Citation{
				imageCitation("img-1", "img-2", "/1.png"),
				imageCitation("img-2", "", "/2.png"),
			},
			want: "![img-2 ](/1.png)",
		},
		{
			name:      "ids with spaces and tabs are replaced",
			text:      "see [DOC 1-IMAGE-1] and [fig\t2]",
			citations: []models.Citation{imageCitation("DOC 1-IMAGE-1", "", "/a.png"), imageCitation("fig\t2", "chart", "/b.png")},
			want:      "see ![image](/a.png) and ![chart](/b.png)",
		},
		{
			name: "padding skips ids that end in a space",
			text: "[a]",
			citations: []models.Citation{
				imageCitation("a", "a", "/1.png"),
				imageCitation("a ", "", "/2.png"),
			},
			want: "![a  ](/1.png)",
		},
		{
			name:      "ids holding brackets or backslashes are left alone",
			text:      "[a]b] [c\\d]",
			citations: []models.Citation{imageCitation("a]b", "", "/1.png"), imageCitation("c\\d", "", "/2.png")},
			want:      "[a]b] [c\\d]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.text, tt.citations))
		})
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	citations := []models.Citation{imageCitation("img-1", "cap", "/1.png")}
	snapshot := append([]models.Citation(nil), citations...)
	text := "a [img-1] b"

	_ = Resolve(text, citations)

	assert.Equal(t, snapshot, citations)
	assert.Equal(t, "a [img-1] b", text)
}

func TestResolveIdempotent(t *testing.T) {
	fragments := []string{"[img-1]", "[img-2]", "[c1]", "[image]", "[img 3]", "[img 3 ]", "[", "]", "\\", "第一段", " ", "img-1", "img 3", "![", "](x)"}
	citations := []models.Citation{
		imageCitation("img-1", "img-2", "/1.png"),
		imageCitation("img-2", "[img-1", "/2 (copy).png"),
		imageCitation("image", "", "https://cdn.example.com/3.png"),
		imageCitation("img 3", "img 3", "/4.png"),
		imageCitation("img 3 ", "x [img 3", "/5.png"),
		{ID: "c1", Kind: models.CitationText, Content: "[img-1]"},
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("resolve(resolve(t)) == resolve(t)", prop.ForAll(
		func(picks []int) bool {
			var b strings.Builder
			for _, p := range picks {
				b.WriteString(fragments[p])
			}
			once := Resolve(b.String(), citations)
			return Resolve(once, citations) == once
		},
		gen.SliceOf(gen.IntRange(0, len(fragments)-1)),
	))

	properties.TestingRun(t)
}

func TestImageRefs(t *testing.T) {
	citations := []models.Citation{
		imageCitation("img-1", "first [one]", "/1.png"),
		imageCitation("img-2", "", "https://cdn.example.com/2.png"),
	}
	display := Resolve("A [img-2] B [img-1] C ![inline](/3.png)", citations)

	assert.Equal(t, []ImageRef{
		{Alt: "image", Target: "https://cdn.example.com/2.png"},
		{Alt: "first [one]", Target: "/1.png"},
		{Alt: "inline", Target: "/3.png"},
	}, ImageRefs(display))

	assert.Nil(t, ImageRefs("no images here [img-1]"))
}
