package htmltext

import "testing"

func TestReduce(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "blackberry response div",
			html: `<div id="BB10_response_div">Reply text</div><div>Signature boilerplate</div>`,
			want: "Reply text",
		},
		{
			name: "response div nested in full document",
			html: `<html><head><title>x</title></head><body><p>Sent from BlackBerry</p><div id="BB10_response_div"><b>Hi</b> there</div></body></html>`,
			want: "Hi there",
		},
		{
			name: "plain document keeps text nodes in order",
			html: `<p>Hello <b>World</b></p><p>Again</p>`,
			want: "Hello WorldAgain",
		},
		{
			name: "scripts and styles are dropped",
			html: `<html><head><style>p{color:red}</style><script>alert(1)</script></head><body><p>Visible</p><noscript>enable js</noscript></body></html>`,
			want: "Visible",
		},
		{
			name: "entities are decoded",
			html: `<p>Fish &amp; Chips &lt;3</p>`,
			want: "Fish & Chips <3",
		},
		{
			name: "empty document",
			html: ``,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reduce(tt.html); got != tt.want {
				t.Errorf("Reduce() = %q, want %q", got, tt.want)
			}
		})
	}
}

func BenchmarkReduce(b *testing.B) {
	doc := `<html><body>` +
		`<table><tr><td>Reply</td><td>with a table</td></tr></table>` +
		`<blockquote><p>quoted history</p></blockquote>` +
		`</body></html>`
	for i := 0; i < b.N; i++ {
		Reduce(doc)
	}
}
