package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain", input: "  Quarterly report  ", want: "Quarterly report"},
		{name: "script block", input: "Hello<script>alert(1)</script> world", want: "Hello world"},
		{name: "multiline script", input: "a<SCRIPT type=\"x\">\nsteal()\n</script>b", want: "ab"},
		{name: "double quoted handler", input: `<img src="x" onerror="alert(1)">`, want: `<img src="x">`},
		{name: "single quoted handler", input: `<b onclick='x()'>hi</b>`, want: `<b>hi</b>`},
		{name: "bare handler", input: `<b onmouseover=x>hi</b>`, want: `<b>hi</b>`},
		{name: "javascript scheme", input: "JavaScript:alert(1)", want: "alert(1)"},
		{name: "data html", input: "data:text/html,<b>", want: ",<b>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.input))
		})
	}
}

func TestHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{
			name:  "allowed formatting kept",
			input: "<h2>Title</h2><p>Hello <strong>bold</strong> <em>it</em><br>next</p>",
			want:  "<h2>Title</h2><p>Hello <strong>bold</strong> <em>it</em><br>next</p>",
		},
		{
			name:  "script and style dropped with content",
			input: "<p>ok</p><script>alert(1)</script><style>p{}</style>",
			want:  "<p>ok</p>",
		},
		{
			name:  "unknown tags unwrapped",
			input: "<div><span>text</span></div>",
			want:  "text",
		},
		{
			name:  "attributes stripped",
			input: `<p class="x" onclick="y()">para</p>`,
			want:  "<p>para</p>",
		},
		{
			name:  "safe link kept",
			input: `<a href="https://mustardtree.com/about" title="About" target="_blank">About</a>`,
			want:  `<a href="https://mustardtree.com/about" title="About">About</a>`,
		},
		{
			name:  "javascript link loses href",
			input: `<a href="javascript:alert(1)">x</a>`,
			want:  `<a>x</a>`,
		},
		{
			name:  "text is escaped",
			input: "1 < 2 & 3",
			want:  "1 &lt; 2 &amp; 3",
		},
		{
			name:  "code keeps text escaped once",
			input: "<pre><code>a &amp;&amp; b &lt; c</code></pre><hr>",
			want:  "<pre><code>a &amp;&amp; b &lt; c</code></pre><hr>",
		},
		{
			name:  "image keeps safe src and alt",
			input: `<img src="/media/board.png" alt="Board" width="10" onerror="x()">`,
			want:  `<img src="/media/board.png" alt="Board">`,
		},
		{
			name:  "javascript image loses src",
			input: `<img src=" JavaScript:alert(1)" alt="x">`,
			want:  `<img alt="x">`,
		},
		{
			name:  "lists and quotes",
			input: "<ul><li>a</li></ul><blockquote>q</blockquote>",
			want:  "<ul><li>a</li></ul><blockquote>q</blockquote>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTML(tt.input))
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Q3_report__final_.pdf", FileName("Q3 report (final).pdf"))
	assert.Equal(t, ".._.._etc_passwd", FileName("../../etc/passwd"))
	assert.Equal(t, "plain-name.txt", FileName("plain-name.txt"))
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidEmail("ops@mustardtree.com"))
	assert.False(t, ValidEmail("ops@localhost"))
	assert.False(t, ValidEmail("not an email"))

	assert.True(t, ValidSlug("corporate-governance-2024"))
	assert.False(t, ValidSlug("Upper-Case"))
}
