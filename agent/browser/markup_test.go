package browser

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

func TestNormalizer_StripsNoise(t *testing.T) {
	raw := `<html><head><style>.x{}</style></head><body>
<script>alert(1)</script>
<noscript>enable js</noscript>
<svg><path d="M0"/></svg>
<p>Welcome</p>
</body></html>`

	out, err := NewNormalizer().Normalize(raw)
	require.NoError(t, err)

	assert.Contains(t, out, "<p>Welcome</p>")
	for _, noise := range []string{"<script", "alert(1)", "<noscript", "<svg", "<path", "<style"} {
		assert.NotContains(t, out, noise)
	}
}

func TestNormalizer_StripsComments(t *testing.T) {
	raw := `<body><!-- tracking pixel --><div><!--[if IE]>old<![endif]--><p>Cart</p></div></body>`

	out, err := NewNormalizer().Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "<div><p>Cart</p></div>", out)
}

func TestNormalizer_MarksInteractiveInOrder(t *testing.T) {
	raw := `<body>
<a href="/home">Home</a>
<button style="display: none">Hidden</button>
<input name="login" type="text">
<div role="button">Fake button</div>
<textarea name="note"></textarea>
<select name="lang"><option>en</option></select>
<span role="link">More</span>
<p>plain</p>
</body>`

	out, err := NewNormalizer().Normalize(raw)
	require.NoError(t, err)
	doc := parse(t, out)

	ids := func(sel string) string {
		v, _ := doc.Find(sel).Attr(IDAttribute)
		return v
	}
	assert.Equal(t, "1", ids("a"))
	assert.Equal(t, "", ids("button"))
	assert.Equal(t, "2", ids("input"))
	assert.Equal(t, "3", ids("div[role=button]"))
	assert.Equal(t, "4", ids("textarea"))
	assert.Equal(t, "5", ids("select"))
	assert.Equal(t, "6", ids("span[role=link]"))
	assert.Equal(t, "", ids("p"))
}

func TestNormalizer_HiddenStyleVariants(t *testing.T) {
	tests := []struct {
		name   string
		style  string
		marked bool
	}{
		{"no style", "", true},
		{"compact", "display:none", false},
		{"spaced upper", "color: red; DISPLAY : NONE", false},
		{"visible", "display: block", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `<body><button style="` + tt.style + `">x</button></body>`
			out, err := NewNormalizer().Normalize(raw)
			require.NoError(t, err)
			_, ok := parse(t, out).Find("button").Attr(IDAttribute)
			assert.Equal(t, tt.marked, ok)
		})
	}
}

func TestNormalizer_KeepsLiveIDs(t *testing.T) {
	raw := `<body><a data-webpilot-id="7">x</a><button>y</button></body>`

	out, err := NewNormalizer().Normalize(raw)
	require.NoError(t, err)
	doc := parse(t, out)

	v, _ := doc.Find("a").Attr(IDAttribute)
	assert.Equal(t, "7", v)
	_, ok := doc.Find("button").Attr(IDAttribute)
	assert.False(t, ok, "stamped snapshots are not renumbered")
}

func TestNormalizer_Fragment(t *testing.T) {
	out, err := NewNormalizer().Normalize(`<form><input type="password"></form>`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<form>"))
	assert.Contains(t, out, `data-webpilot-id="1"`)
}

func TestLocator(t *testing.T) {
	assert.Equal(t, "[data-webpilot-id='12']", Locator("12"))
}
