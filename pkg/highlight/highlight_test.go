package highlight

import "testing"

func TestAddKeywordAtomicOnFailure(t *testing.T) {
	m, err := New([]string{"/php/i"})
	if err != nil {
		t.Fatalf("unexpected error building matcher: %v", err)
	}

	before := m.GetKeywords()

	if err := m.AddKeyword("not-a-spec"); err == nil {
		t.Fatal("expected error for malformed spec")
	}

	after := m.GetKeywords()
	if len(before) != len(after) {
		t.Fatalf("keyword list changed on failed add: before=%v after=%v", before, after)
	}
}

func TestAddKeywordRejectsBadRegexCompile(t *testing.T) {
	m, _ := New(nil)
	if err := m.AddKeyword("/(unclosed/i"); err == nil {
		t.Fatal("expected compile error")
	}
	if len(m.GetKeywords()) != 0 {
		t.Fatal("failed compile should not be appended")
	}
}

func TestMatchesAnyCaseInsensitive(t *testing.T) {
	m, err := New([]string{"/php/i"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.MatchesAny("Hello\nphp\nworld") {
		t.Fatal("expected match on original untransformed text")
	}
	if m.MatchesAny("no match here") {
		t.Fatal("expected no match")
	}
}

func TestMatchesAnyOnNilMatcherFailsSoft(t *testing.T) {
	var m *Matcher
	if m.MatchesAny("anything") {
		t.Fatal("nil matcher must never match")
	}
}

func TestRemoveKeyword(t *testing.T) {
	m, _ := New([]string{"/a/", "/b/"})
	if !m.RemoveKeyword("/a/") {
		t.Fatal("expected removal to report true")
	}
	if m.RemoveKeyword("/a/") {
		t.Fatal("second removal of same spec should report false")
	}
	got := m.GetKeywords()
	if len(got) != 1 || got[0] != "/b/" {
		t.Fatalf("unexpected remaining keywords: %v", got)
	}
}

func TestGetKeywordsIsDefensiveCopy(t *testing.T) {
	m, _ := New([]string{"/a/"})
	got := m.GetKeywords()
	got[0] = "mutated"
	if m.GetKeywords()[0] != "/a/" {
		t.Fatal("mutating the returned slice should not affect the matcher")
	}
}

func TestConstructorRejectsWholeInstanceOnFirstBadSpec(t *testing.T) {
	_, err := New([]string{"/ok/", "bad-spec"})
	if err == nil {
		t.Fatal("expected constructor to fail")
	}
}
