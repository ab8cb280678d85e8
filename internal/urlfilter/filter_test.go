package urlfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw, base, want string
		ok              bool
	}{
		{"/about", "https://Example.com/", "https://example.com/about", true},
		{"https://example.com/about/", "https://example.com/", "https://example.com/about", true},
		{"https://example.com:443/x", "https://example.com/", "https://example.com/x", true},
		{"https://example.com/x?a=1#frag", "https://example.com/", "https://example.com/x", true},
		{"internal", "https://example.com/", "", false},
		{"external", "https://example.com/", "", false},
		{"", "https://example.com/", "", false},
		{"#", "https://example.com/", "", false},
		{"/", "https://example.com/", "", false},
	}
	for _, c := range cases {
		got, ok := Normalize(c.raw, c.base)
		assert.Equal(t, c.ok, ok, c.raw)
		if c.ok {
			assert.Equal(t, c.want, got, c.raw)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	u, ok := Normalize("https://Example.com/About/", "https://example.com/")
	assert.True(t, ok)
	u2, ok := Normalize(u, "https://example.com/")
	assert.True(t, ok)
	assert.Equal(t, u, u2)
}

func TestFilter_Accept(t *testing.T) {
	f := NewFilter("example.com", nil)

	assert.True(t, f.Accept("https://example.com/about"))
	assert.True(t, f.Accept("https://www.example.com/contact"))
	assert.False(t, f.Accept("https://other.com/about"))
	assert.False(t, f.Accept("https://example.com/photo.jpg"))
	assert.False(t, f.Accept("https://example.com/wp-admin/edit"))
	assert.False(t, f.Accept("https://example.com/login"))
	assert.False(t, f.Accept("ftp://example.com/file"))
	assert.False(t, f.Accept("https://example.com/blog/deep/nested/post"))
}

func TestFilter_LengthCap(t *testing.T) {
	f := NewFilter("example.com", nil)
	long := "https://example.com/" + stringsRepeat("a", 250)
	assert.False(t, f.Accept(long))
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
