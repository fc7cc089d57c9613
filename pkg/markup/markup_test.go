package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualIgnoresSerializationArtifacts(t *testing.T) {
	assert.True(t, Equal("<p>hi</p>", "<p>hi</p>"))
	assert.True(t, Equal(`<p class="x">hi</p>`, `<p class='x'>hi</p>`))
	assert.True(t, Equal("<p>hi", "<p>hi</p>"))
	assert.True(t, Equal("<ul><li>a<li>b</ul>", "<ul><li>a</li><li>b</li></ul>"))

	assert.False(t, Equal("<p>hi</p>", "<p>bye</p>"))
	assert.False(t, Equal("<p>hi</p>", "<p><b>hi</b></p>"))
}

func TestNormalizeIsStable(t *testing.T) {
	first, err := Normalize("<p class='a'>text<br>more")
	require.NoError(t, err)
	second, err := Normalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSanitizeStripsScriptVectors(t *testing.T) {
	out, err := Sanitize(`<p onclick="alert(1)">hi</p><script>steal()</script>`)
	require.NoError(t, err)
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "onclick")
	assert.Contains(t, out, "hi")

	out, err = Sanitize(`<a href="javascript:alert(1)">x</a><a href="https://example.com">y</a>`)
	require.NoError(t, err)
	assert.NotContains(t, out, "javascript:")
	assert.Contains(t, out, "https://example.com")

	out, err = Sanitize(`<img src="JavaScript:alert(1)"><style>p{}</style>`)
	require.NoError(t, err)
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "style")
}

func TestSanitizeKeepsBenignMarkup(t *testing.T) {
	in := `<p><b>bold</b> and <img src="/files/a/b/c.png" width="320"/></p>`
	out, err := Sanitize(in)
	require.NoError(t, err)
	assert.Contains(t, out, "<b>bold</b>")
	assert.Contains(t, out, `src="/files/a/b/c.png"`)
	assert.Contains(t, out, `width="320"`)
}

func TestSetImageWidth(t *testing.T) {
	in := `<p><img src="a.png"><img src="b.png" width="100"></p>`

	out, matched, err := SetImageWidth(in, "b.png", 480)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Contains(t, out, `<img src="b.png" width="480"`)
	assert.Contains(t, out, `<img src="a.png"`)

	_, matched, err = SetImageWidth(in, "missing.png", 480)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestImageSources(t *testing.T) {
	sources, err := ImageSources(`<p><img src="one.png">text</p><div><img src="two.png"></div>`)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.png", "two.png"}, sources)

	sources, err = ImageSources("<p>no images</p>")
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestCodeBlocks(t *testing.T) {
	in := `<pre><code class="language-go">fmt.Println("hi")</code></pre>` +
		`<pre data-language="sql"><code>SELECT 1;</code></pre>` +
		`<pre><code>plain</code></pre>` +
		`<pre>no code child</pre>`

	blocks, err := CodeBlocks(in)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, CodeBlock{Language: "go", Code: `fmt.Println("hi")`}, blocks[0])
	assert.Equal(t, CodeBlock{Language: "sql", Code: "SELECT 1;"}, blocks[1])
	assert.Equal(t, CodeBlock{Language: "", Code: "plain"}, blocks[2])
}
