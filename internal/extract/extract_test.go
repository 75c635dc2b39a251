package extract

import "testing"

func TestCleanText(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"empty", "", ""},
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"space runs", "a  \t b", "a b"},
		{"newline runs", "a\n\n\n\nb", "a\n\nb"},
		{"curly quotes", "“hi” and ’s", `"hi" and 's`},
		{"dashes", "a – b — c", "a - b - c"},
		{"trim", "  padded  ", "padded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanText(tc.in); got != tc.want {
				t.Errorf("CleanText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFromText(t *testing.T) {
	res := FromText("Hello   world.\r\n", "doc42", 7)
	if res.Text != "Hello world." {
		t.Errorf("text = %q", res.Text)
	}
	if res.Meta["doc_id"] != "doc42" {
		t.Errorf("doc_id = %v", res.Meta["doc_id"])
	}
	if res.Meta["n_pages"] != 7 {
		t.Errorf("n_pages = %v", res.Meta["n_pages"])
	}
	if res.Meta["length_chars"] != len("Hello world.") {
		t.Errorf("length_chars = %v", res.Meta["length_chars"])
	}
}

func TestFromPDF_RejectsGarbage(t *testing.T) {
	if _, err := FromPDF([]byte("not a pdf"), "doc"); err == nil {
		t.Fatal("expected error for non-PDF bytes")
	}
}
