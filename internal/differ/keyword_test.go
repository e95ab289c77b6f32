package differ

import (
	"errors"
	"testing"

	"pagewatch/internal/capture"
)

func TestKeywordDiffNoPhrasesNeverChanges(t *testing.T) {
	d := &KeywordDiff{}
	res, err := d.Compare(Reference{}, &capture.Sample{Text: "anything at all"})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.Changed || res.ChangeMagnitude != 0 {
		t.Fatalf("empty phrase list must be a zero result, got %+v", res)
	}
}

func TestKeywordDiffAllPresent(t *testing.T) {
	d := &KeywordDiff{}
	ref := Reference{KeyPhrases: []string{"No Slots", "try again later"}}
	cur := &capture.Sample{Text: "Sorry, no slots available. Please try again later."}
	res, err := d.Compare(ref, cur)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.Changed || res.ChangeMagnitude != 0 {
		t.Fatalf("all phrases present, got %+v", res)
	}
}

func TestKeywordDiffMissingPhrases(t *testing.T) {
	d := &KeywordDiff{}
	ref := Reference{KeyPhrases: []string{"no slots", "waitlist", "sold out", "closed"}}
	cur := &capture.Sample{Text: "book now! slots are open. waitlist cleared is not mentioned"}
	res, err := d.Compare(ref, cur)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	// "no slots", "sold out" and "closed" are gone; "waitlist" survives.
	if res.ChangeMagnitude != 75 {
		t.Fatalf("magnitude = %v, want 75", res.ChangeMagnitude)
	}
	if !res.Changed {
		t.Fatalf("75%% missing must report a change")
	}
	if len(res.MissingSignals) != 3 {
		t.Fatalf("signals = %v, want 3 entries", res.MissingSignals)
	}
	if res.MissingSignals[0] != "keyword missing: no slots" {
		t.Fatalf("first signal = %q", res.MissingSignals[0])
	}
}

func TestKeywordDiffCaseInsensitive(t *testing.T) {
	d := &KeywordDiff{}
	ref := Reference{KeyPhrases: []string{"SOLD OUT"}}
	cur := &capture.Sample{Text: "currently sold out, check back soon"}
	res, err := d.Compare(ref, cur)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.Changed || res.ChangeMagnitude != 0 {
		t.Fatalf("matching should ignore case, got %+v", res)
	}
}

func TestKeywordDiffEmptyTextErrors(t *testing.T) {
	d := &KeywordDiff{}
	ref := Reference{KeyPhrases: []string{"anything"}}
	_, err := d.Compare(ref, &capture.Sample{Text: "   "})
	if err == nil {
		t.Fatalf("empty page text must error")
	}
	if !errors.Is(err, ErrBadSample) {
		t.Fatalf("err = %v, want ErrBadSample", err)
	}
}
