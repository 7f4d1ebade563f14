package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBuiltins(t *testing.T) {
	cases := []struct {
		path string
		want Kind
	}{
		{"/img/tile.webp", KindImage},
		{"/img/TILE.PNG", KindImage},
		{"/favicon.ico", KindImage},
		{"/logo.svg", KindImage},
		{"/photo.jpeg", KindImage},
		{"/assets/app.js", KindStatic},
		{"/assets/app.CSS", KindStatic},
		{"/fonts/a.woff2", KindStatic},
		{"/fonts/a.woff", KindStatic},
		{"/", KindNavigation},
		{"/game/42", KindNavigation},
		{"/data.json", KindNavigation},
		{"/app.js.map", KindNavigation},
		{"/png", KindNavigation},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.path))
		})
	}
}

func TestListSortedByPriority(t *testing.T) {
	list := List()
	require.Len(t, list, 3)
	assert.Equal(t, KindImage, list[0].Kind)
	assert.Equal(t, KindStatic, list[1].Kind)
	assert.Equal(t, KindNavigation, list[2].Kind)
	assert.True(t, list[2].Default())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.register(Metadata{Kind: "a", Extensions: []string{"txt"}}))
	assert.Error(t, r.register(Metadata{Kind: "A"}))
	require.NoError(t, r.register(Metadata{Kind: "fallback"}))
	assert.Error(t, r.register(Metadata{Kind: "other-fallback"}))
	assert.Error(t, r.register(Metadata{Kind: " "}))
}

func TestRegistryNormalizesExtensions(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.register(Metadata{Kind: "doc", Extensions: []string{"PDF", " .Txt "}, Priority: 1}))
	require.NoError(t, r.register(Metadata{Kind: "rest", Priority: 2}))

	assert.Equal(t, Kind("doc"), r.classify("/a/b.pdf"))
	assert.Equal(t, Kind("doc"), r.classify("/a/b.TXT"))
	assert.Equal(t, Kind("rest"), r.classify("/a/b.md"))
}
