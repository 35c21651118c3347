package parser

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Selection
}

func TestChainExtract(t *testing.T) {
	chain := Chain[string]{
		By("#primary", Text),
		By(".secondary", Text),
	}

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "first strategy wins",
			html:     `<div id="primary">one</div><div class="secondary">two</div>`,
			expected: "one",
		},
		{
			name:     "falls back when first selector misses",
			html:     `<div class="secondary">two</div>`,
			expected: "two",
		},
		{
			name:     "empty match still stops the chain",
			html:     `<div id="primary">   </div><div class="secondary">two</div>`,
			expected: "",
		},
		{
			name:     "nothing matches yields default",
			html:     `<div>nothing here</div>`,
			expected: "n/a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chain.Extract(mustDoc(t, tt.html), "n/a")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestChainDoesNotConsultLaterStrategies(t *testing.T) {
	calls := 0
	chain := Chain[string]{
		By("#a", Text),
		Func[string](func(*goquery.Selection) (string, bool) {
			calls++
			return "computed", true
		}),
	}

	got, ok := chain.TryExtract(mustDoc(t, `<p id="a">hit</p>`))
	assert.True(t, ok)
	assert.Equal(t, "hit", got)
	assert.Zero(t, calls)
}

func TestSelectEmptySelectorUsesRoot(t *testing.T) {
	root := mustDoc(t, `<ul><li>x</li></ul>`).Find("li")
	got, ok := By("", Text).TryExtract(root)
	assert.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestPriceFallbackComposite(t *testing.T) {
	price := Chain[string]{
		By(".priceToPay .a-offscreen", Text),
		By(".apexPriceToPay .a-offscreen", JoinText("-")),
	}

	html := `
		<span class="a-price apexPriceToPay"><span class="a-offscreen">$10.00</span></span>
		<span class="a-price apexPriceToPay"><span class="a-offscreen">$8.50</span></span>`
	assert.Equal(t, "$10.00-$8.50", price.Extract(mustDoc(t, html), ""))

	primary := `<span class="priceToPay"><span class="a-offscreen">$7.99</span></span>` + html
	assert.Equal(t, "$7.99", price.Extract(mustDoc(t, primary), ""))
}

func TestAccessors(t *testing.T) {
	root := mustDoc(t, `
		<div id="imgs"><img src="a.jpg"><img><img src="b.jpg"><img src="a.jpg"></div>
		<select id="size"><option>Select</option><option>S</option><option>M</option></select>
		<table class="spec">
			<tr><th>Brand</th><td>Acme</td></tr>
			<tr><th>Colour:</th><td>Red</td></tr>
			<tr><th></th><td>orphan</td></tr>
		</table>
		<div class="row"><span>Weight :</span><span>1 kg</span></div>`)

	images, ok := By("#imgs img", Map(AllAttr("src"), Each(strings.TrimSpace))).TryExtract(root)
	require.True(t, ok)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, images)

	sizes, ok := By("#size option", Map(AllText, Skip(1))).TryExtract(root)
	require.True(t, ok)
	assert.Equal(t, []string{"S", "M"}, sizes)

	spec, ok := By(".spec tr", Pairs("th", "td")).TryExtract(root)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"Brand": "Acme", "Colour": "Red"}, spec)

	rows, ok := By(".row", IndexedPairs("span", 0, 1)).TryExtract(root)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"Weight": "1 kg"}, rows)

	assert.Equal(t, []string{"b"}, Without("Select", "a")([]string{"Select", "a", "b"}))
	assert.Equal(t, []string{}, Skip(3)([]string{"x"}))
}
