package parser

import (
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldDefaults(t *testing.T) {
	root := mustDoc(t, `<div></div>`)

	tests := []struct {
		name     string
		field    Field
		expected any
	}{
		{"text", TextField("title", By("#title", Text)), ""},
		{"list", ListField("images", By("#imgs img", AllAttr("src"))), []string{}},
		{"map", MapField("spec", By(".spec tr", Pairs("th", "td"))), map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, matched, err := tt.field.Apply(root)
			require.NoError(t, err)
			assert.False(t, matched)
			assert.Equal(t, tt.expected, value)
			assert.Equal(t, tt.expected, tt.field.Default())
		})
	}
}

func TestFieldNilListBecomesEmpty(t *testing.T) {
	f := ListField("x", Func[[]string](func(*goquery.Selection) ([]string, bool) {
		return nil, true
	}))

	value, matched, err := f.Apply(mustDoc(t, `<p></p>`))
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, []string{}, value)
}

func TestFieldRecoversPanic(t *testing.T) {
	f := TextField("boom", By("p", func(*goquery.Selection) string {
		panic("accessor exploded")
	}))

	value, matched, err := f.Apply(mustDoc(t, `<p>x</p>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, matched)
	assert.Equal(t, "", value)
}

func TestRequire(t *testing.T) {
	f := TextField("category", By(".crumb", Text))
	assert.False(t, f.Required())

	required := Require(f)
	assert.True(t, required.Required())
	assert.Equal(t, "category", required.Name())

	value, matched, err := required.Apply(mustDoc(t, `<a class="crumb">Electronics</a>`))
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, "Electronics", value)
}
