package i18n

import "testing"

func TestLoadBundlesAllLanguages(t *testing.T) {
	tr, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	for _, lang := range []string{"en", "ja", "zh", "ms"} {
		msg := tr.T(lang, "error.empty_code")
		if msg == "" || msg == "error.empty_code" {
			t.Errorf("missing error.empty_code for %s", lang)
		}
	}
}

func TestFallbackToEnglish(t *testing.T) {
	tr, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	en := tr.T("en", "error.empty_code")
	if got := tr.T("fr", "error.empty_code"); got != en {
		t.Errorf("unknown language returned %q, want English fallback %q", got, en)
	}
}

func TestUnknownKeyReturnsKey(t *testing.T) {
	tr, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if got := tr.T("en", "no.such.key"); got != "no.such.key" {
		t.Errorf("unknown key returned %q", got)
	}
}
