package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText_StripsScriptStyleNavFooter(t *testing.T) {
	html := `
	<html><body>
		<nav>Home | About</nav>
		<script>alert('x')</script>
		<style>.a{color:red}</style>
		<main><h1>Welcome</h1><p>Our company builds widgets.</p></main>
		<footer>Copyright 2026</footer>
	</body></html>`

	text := cleanText(html)
	assert.Contains(t, text, "Welcome")
	assert.Contains(t, text, "widgets")
	assert.NotContains(t, text, "alert(")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "Copyright 2026")
	assert.NotContains(t, text, "Home | About")
}

func TestCleanText_EmptyInputReturnsEmpty(t *testing.T) {
	text := cleanText("")
	assert.Equal(t, "", text)
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.True(t, o.Headless)
	assert.Equal(t, 3, o.RestartAfterTimeouts)
	assert.Equal(t, 10, o.Concurrency)
}
