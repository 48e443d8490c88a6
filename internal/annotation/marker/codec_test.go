package marker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

const testID = "time_awareness"

// sequenceTokens returns a token source yielding tok-1, tok-2, ...
func sequenceTokens() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("tok-%d", n)
	}
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(WithTokenSource(sequenceTokens()))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c
}

func TestEncode_Shape(t *testing.T) {
	c := newTestCodec(t)

	got := c.Encode("<time>now</time>", testID)
	want := `<details type="filters_context">` + "\n" +
		`<summary>Filters context</summary>` + "\n" +
		`<!--` + Instruction + `-->` + "\n" +
		`<context id="time_awareness"><time>now</time></context>` + "\n" +
		`<context_end uuid="tok-1"/></details>`

	if got != want {
		t.Errorf("Encode() =\n%s\nwant\n%s", got, want)
	}
}

func TestEncode_FreshTokenEachCall(t *testing.T) {
	c, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	a := c.Encode("v", testID)
	b := c.Encode("v", testID)
	if a == b {
		t.Error("expected distinct end marker tokens across Encode calls")
	}
}

func TestUpsert_InsertsContainerBeforeText(t *testing.T) {
	c := newTestCodec(t)

	got, err := c.Upsert("What time is it?", "T1", testID)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	wantPrefix := c.open + `<context id="time_awareness">T1</context>` + "\n" + `<context_end uuid="tok-1"/></details>` + "\n"
	if !strings.HasPrefix(got, wantPrefix) {
		t.Fatalf("Upsert() = %q, want prefix %q", got, wantPrefix)
	}
	if rest := strings.TrimPrefix(got, wantPrefix); rest != "What time is it?" {
		t.Errorf("user text = %q, want %q", rest, "What time is it?")
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	c := newTestCodec(t)
	original := "line one\n\n  line two  \n"

	first, err := c.Upsert(original, "T1", testID)
	if err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	second, err := c.Upsert(first, "T2", testID)
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	entries, err := c.Entries(second)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || entries[testID] != "T2" {
		t.Errorf("entries = %v, want only %s=T2", entries, testID)
	}
	if n := strings.Count(second, `<context id="time_awareness">`); n != 1 {
		t.Errorf("found %d entries for id, want 1", n)
	}

	stripped, err := c.Strip(second)
	if err != nil {
		t.Fatalf("Strip() error = %v", err)
	}
	if stripped != original {
		t.Errorf("Strip() = %q, want %q", stripped, original)
	}

	// The update keeps the original end marker and reproduces a fresh encode.
	if want := c.open + `<context id="time_awareness">T2</context>` + "\n" + `<context_end uuid="tok-1"/></details>` + "\n" + original; second != want {
		t.Errorf("second Upsert() =\n%q\nwant\n%q", second, want)
	}
}

func TestUpsert_NoSeparatorGrowth(t *testing.T) {
	c := newTestCodec(t)
	original := "hello"

	msg := original
	for i := 0; i < 5; i++ {
		var err error
		msg, err = c.Upsert(msg, fmt.Sprintf("T%d", i), testID)
		if err != nil {
			t.Fatalf("pass %d: Upsert() error = %v", i, err)
		}
	}

	if !strings.HasSuffix(msg, "</details>\nhello") {
		t.Errorf("separator grew across passes: %q", msg)
	}
}

func TestStrip_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"plain", "What is the date?"},
		{"leading newlines", "\n\nhello"},
		{"crlf", "a\r\nb\r\n"},
		{"unicode", "Quelle heure est-il ? 今何時ですか 🕰️"},
		{"markup", `<b>bold</b> and <i class='x'>italic</i> &amp; entities`},
		{"closing tag in text", "see </details> here </details>"},
		{"other details", `<details><summary>mine</summary>body</details>`},
		{"comment", "<!-- <details type=\"filters_context\"> -->trailing"},
		{"unterminated tag", "a < b and <broken"},
		{"whitespace only", "   \t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			annotated, err := c.Upsert(tt.text, "<time>x</time>", testID)
			if err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
			got, err := c.Strip(annotated)
			if err != nil {
				t.Fatalf("Strip() error = %v", err)
			}
			if got != tt.text {
				t.Errorf("Strip(Upsert(T)) = %q, want %q", got, tt.text)
			}

			again, err := c.Upsert(annotated, "<time>y</time>", testID)
			if err != nil {
				t.Fatalf("second Upsert() error = %v", err)
			}
			got, err = c.Strip(again)
			if err != nil {
				t.Fatalf("second Strip() error = %v", err)
			}
			if got != tt.text {
				t.Errorf("after second pass Strip() = %q, want %q", got, tt.text)
			}
		})
	}
}

func TestStrip_NoContainer(t *testing.T) {
	c := newTestCodec(t)

	got, err := c.Strip("nothing here")
	if err != nil {
		t.Fatalf("Strip() error = %v", err)
	}
	if got != "nothing here" {
		t.Errorf("Strip() = %q", got)
	}
}

func TestUpsert_ReformattedContainer(t *testing.T) {
	c := newTestCodec(t)

	// Same container after a round trip through some other markup writer:
	// upper-case tag, single quotes, extra attributes and whitespace.
	msg := "<DETAILS open  type='filters_context' >\n" +
		"  <summary>Filters context</summary>\n" +
		"  <context id='time_awareness'>OLD</context>\n" +
		"  <context_end uuid='abc-123' /></details>\n" +
		"  user text, exactly  "

	got, err := c.Upsert(msg, "NEW", testID)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	entries, err := c.Entries(got)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if entries[testID] != "NEW" {
		t.Errorf("entry = %q, want NEW", entries[testID])
	}

	suffix, err := c.Strip(got)
	if err != nil {
		t.Fatalf("Strip() error = %v", err)
	}
	if suffix != "  user text, exactly  " {
		t.Errorf("Strip() = %q", suffix)
	}
}

func TestUpsert_NewIdentityGoesBeforeEndMarker(t *testing.T) {
	c := newTestCodec(t)

	msg, err := c.Upsert("hi", "T", testID)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	msg, err = c.Upsert(msg, "sunny", "weather")
	if err != nil {
		t.Fatalf("Upsert(weather) error = %v", err)
	}

	wantTail := `<context id="time_awareness">T</context>` + "\n" +
		`<context id="weather">sunny</context>` + "\n" +
		`<context_end uuid="tok-1"/></details>` + "\nhi"
	if !strings.HasSuffix(msg, wantTail) {
		t.Errorf("Upsert() = %q, want suffix %q", msg, wantTail)
	}

	entries, err := c.Entries(msg)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %v, want 2", entries)
	}
}

func TestUpsert_PreservesTextBeforeContainer(t *testing.T) {
	c := newTestCodec(t)

	annotated, err := c.Upsert("body", "T1", testID)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, err := c.Upsert("lead-in "+annotated, "T2", testID)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !strings.HasPrefix(got, "lead-in <details") {
		t.Errorf("prefix lost: %q", got)
	}
}

func TestLocate(t *testing.T) {
	c := newTestCodec(t)

	annotated, err := c.Upsert("x", "T", testID)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	frag, err := c.Locate(annotated)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if frag == nil {
		t.Fatal("Locate() = nil, want fragment")
	}
	if frag.Start != 0 || !frag.Closed() {
		t.Errorf("fragment start=%d closed=%v", frag.Start, frag.Closed())
	}
	if got := annotated[frag.Start:frag.End]; !strings.HasSuffix(got, "</details>") {
		t.Errorf("fragment span = %q", got)
	}
	if frag.Token != "tok-1" {
		t.Errorf("token = %q, want tok-1", frag.Token)
	}

	frag, err = c.Locate("no container")
	if err != nil || frag != nil {
		t.Errorf("Locate(plain) = %v, %v; want nil, nil", frag, err)
	}
}

func TestLocate_IgnoresOtherDetails(t *testing.T) {
	c := newTestCodec(t)

	frag, err := c.Locate(`<details type="other"><summary>s</summary></details>`)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if frag != nil {
		t.Errorf("Locate() = %+v, want nil", frag)
	}
}

func TestUpsert_TwoContainers(t *testing.T) {
	c := newTestCodec(t)

	one := c.Encode("A", testID)
	two := c.Encode("B", testID)

	_, err := c.Upsert(one+"\n"+two+"\ntext", "C", testID)
	if !errors.Is(err, ErrMalformedFragment) {
		t.Fatalf("Upsert() error = %v, want ErrMalformedFragment", err)
	}

	_, err = c.Strip(one + "\n" + two)
	if !errors.Is(err, ErrMalformedFragment) {
		t.Errorf("Strip() error = %v, want ErrMalformedFragment", err)
	}
}

func TestUpsert_DuplicateIdentity(t *testing.T) {
	c := newTestCodec(t)

	msg := `<details type="filters_context">` +
		`<context id="time_awareness">A</context>` +
		`<context id="time_awareness">B</context>` +
		`<context_end uuid="u1"/></details>` + "\nhi"

	_, err := c.Upsert(msg, "C", testID)
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("Upsert() error = %v, want ErrDuplicateIdentity", err)
	}

	// A different identity is still writable.
	if _, err := c.Upsert(msg, "x", "other"); err != nil {
		t.Errorf("Upsert(other) error = %v", err)
	}
}

func TestUpsert_CorruptEndMarker(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name string
		msg  string
	}{
		{
			name: "missing end marker",
			msg:  `<details type="filters_context"><context id="time_awareness">A</context></details>` + "\nhi",
		},
		{
			name: "end marker without uuid",
			msg:  `<details type="filters_context"><context_end/></details>` + "\nhi",
		},
		{
			name: "uuid written with an entity",
			msg:  `<details type="filters_context"><context_end uuid="&#97;bc"/></details>` + "\nhi",
		},
		{
			name: "container never closed",
			msg:  `<details type="filters_context"><context_end uuid="abc"/>` + "\nhi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Upsert(tt.msg, "C", testID)
			if !errors.Is(err, ErrCorruptEndMarker) {
				t.Errorf("Upsert() error = %v, want ErrCorruptEndMarker", err)
			}
		})
	}
}

func TestNewCodec_TemplateValidation(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  error
	}{
		{
			name:     "no closing tag",
			template: `<details type="filters_context">{content}`,
			wantErr:  ErrMissingClosingTag,
		},
		{
			name:     "trailing text after closing tag",
			template: `<details type="filters_context">{content}</details> tail`,
			wantErr:  ErrMissingClosingTag,
		},
		{
			name:     "custom valid",
			template: `<aside class="ctx">{content}</aside>` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(WithTemplate(tt.template, Selector{Tag: "aside", Attr: "class", Value: "ctx"}))
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("NewCodec() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewCodec() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewCodec_PlaceholderRequired(t *testing.T) {
	_, err := NewCodec(WithTemplate(`<aside class="ctx"></aside>`, Selector{Tag: "aside", Attr: "class", Value: "ctx"}))
	if err == nil {
		t.Fatal("expected error for template without placeholder")
	}
	if errors.Is(err, ErrMissingClosingTag) {
		t.Errorf("unexpected ErrMissingClosingTag: %v", err)
	}
}

func TestCustomTemplate_RoundTrip(t *testing.T) {
	c, err := NewCodec(
		WithTemplate(`<aside class="ctx">{content}</aside>`, Selector{Tag: "aside", Attr: "class", Value: "ctx"}),
		WithTokenSource(sequenceTokens()),
	)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	msg, err := c.Upsert("text", "A", testID)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	want := `<aside class="ctx"><context id="time_awareness">A</context>` + "\n" + `<context_end uuid="tok-1"/></aside>` + "\ntext"
	if msg != want {
		t.Errorf("Upsert() = %q, want %q", msg, want)
	}
	if c.ClosingTag() != "</aside>" {
		t.Errorf("ClosingTag() = %q", c.ClosingTag())
	}
}
