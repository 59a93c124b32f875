package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateItem_Valid(t *testing.T) {
	cases := []Item{
		{ID: 0, Prompt: "sql injection in python"},
		{ID: 7, Prompt: "xss", VulnerableCode: "document.write(x)"},
	}
	for _, it := range cases {
		if err := ValidateItem(it); err != nil {
			t.Errorf("expected valid for %+v, got %v", it, err)
		}
	}
}

func TestValidateItem_EmptyPrompt(t *testing.T) {
	err := ValidateItem(Item{ID: 1, Prompt: "   "})
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "prompt" {
		t.Fatalf("expected ValidationError on prompt, got %v", err)
	}
}

func TestValidateItem_NegativeID(t *testing.T) {
	if err := ValidateItem(Item{ID: -1, Prompt: "p"}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
}

func TestValidateItem_InvalidUTF8(t *testing.T) {
	if err := ValidateItem(Item{ID: 1, Prompt: "ok\xff"}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
}

func TestValidateCorpus_Duplicate(t *testing.T) {
	err := ValidateCorpus([]Item{{ID: 0, Prompt: "a"}, {ID: 0, Prompt: "b"}})
	if !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestValidationErrorTruncatesValue(t *testing.T) {
	err := NewValidationError("prompt", strings.Repeat("x", 100), ErrInvalidItem)
	if strings.Count(err.Error(), "x") != 40 {
		t.Fatalf("expected value truncated to 40 runes: %s", err.Error())
	}
}

func TestDimensionMismatchError(t *testing.T) {
	err := error(&DimensionMismatchError{Row: 2, Want: 3, Got: 4})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatal("expected ErrDimensionMismatch")
	}
	if !strings.Contains(err.Error(), "vector 2") {
		t.Fatalf("unexpected message: %s", err)
	}
	q := &DimensionMismatchError{Row: -1, Want: 3, Got: 1}
	if !strings.Contains(q.Error(), "query") {
		t.Fatalf("unexpected message: %s", q)
	}
}

func TestIndexMappingMismatchError(t *testing.T) {
	err := error(&IndexMappingMismatchError{IndexRows: 3, MappingRows: 2})
	if !errors.Is(err, ErrIndexMapping) {
		t.Fatal("expected ErrIndexMapping")
	}
	if !strings.Contains(err.Error(), "2 entries") {
		t.Fatalf("unexpected message: %s", err)
	}
	b := &IndexMappingMismatchError{IndexRows: 3, MappingRows: 3, IndexBuild: "a", MappingBuild: "b"}
	if !strings.Contains(b.Error(), `"b"`) {
		t.Fatalf("unexpected message: %s", b)
	}
}

func TestSkipErrorReason(t *testing.T) {
	cause := errors.New("boom")
	err := error(NewSkipError(4, SkipStore, cause))
	var se *SkipError
	if !errors.As(err, &se) || se.Reason != SkipStore || se.Index != 4 {
		t.Fatalf("expected store skip for item 4, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to unwrap")
	}
	if SkipAbsent.IsFailure() || !SkipGenerate.IsFailure() {
		t.Fatal("only absent is a non-failure skip")
	}
}

func TestSetupError(t *testing.T) {
	err := SetupError("load bundle", ErrIndexMapping)
	if !errors.Is(err, ErrSetup) || !errors.Is(err, ErrIndexMapping) {
		t.Fatalf("expected both sentinels, got %v", err)
	}
}

func TestParseLanguageAcceptsEveryKnownTag(t *testing.T) {
	for _, l := range KnownLanguages {
		if ParseLanguage(string(l)) != l {
			t.Errorf("ParseLanguage(%q) lost the tag", l)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	tests := map[string]Language{
		"python": LangPython, "c++": LangCPP, "js": LangJavaScript,
		"css": LangHTML, "cobol": LangUnknown, "": LangUnknown,
	}
	for in, want := range tests {
		if got := ParseLanguage(in); got != want {
			t.Errorf("ParseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
