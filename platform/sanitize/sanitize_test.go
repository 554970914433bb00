package sanitize

import "testing"

func TestPlainTextKeepsLineStructure(t *testing.T) {
	got := PlainText("<p>Hi   Anna,</p><p>Your quote is <b>ready</b>.</p><br><br><br>&lt;script&gt;x&lt;/script&gt;Bye")
	want := "Hi Anna,\nYour quote is ready.\n\nxBye"
	if got != want {
		t.Fatalf("PlainText() = %q, want %q", got, want)
	}
}

func TestStripHTMLRemovesEncodedTags(t *testing.T) {
	if got := StripHTML("a &lt;img src=x&gt; b"); got != "a  b" {
		t.Fatalf("StripHTML() = %q", got)
	}
}
