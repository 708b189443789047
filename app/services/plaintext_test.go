package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripTags(t *testing.T) {
	assert.Equal(t, "Hi & bye\n\n", StripTags(`<style>p{}</style><p>Hi &amp; <b>bye</b></p>`))
	assert.Equal(t, "a\nb", StripTags("a<br/>b"))
	assert.Equal(t, "x\ny\n", StripTags(`<head><title>t</title></head><div>x<BR>y</div><script>if (a < b) {}</script>`))
	assert.Equal(t, "1 < 2", StripTags("1 < 2"))
}

func TestPlainTextRenderer_Render(t *testing.T) {
	r := NewPlainTextRenderer()
	assert.Equal(t, "", r.Render("   "))

	out := r.Render(`<p>Hello <strong>Sam</strong></p><img src="https://trk.example.com/t/x.gif"><p>See <a href="https://acme.io">the docs</a></p>`)
	assert.Contains(t, out, "Hello **Sam**")
	assert.Contains(t, out, "[the docs](https://acme.io)")
	assert.NotContains(t, out, "x.gif")
	assert.NotContains(t, out, "\n\n\n")
}
