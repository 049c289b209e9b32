package i18n

import (
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	if got := Detect("request exit"); got != LangEnglish {
		t.Errorf("Detect(english) = %q", got)
	}
	if got := Detect("طلب خروج"); got != LangArabic {
		t.Errorf("Detect(arabic) = %q", got)
	}
	if got := Detect("hello طلب"); got != LangArabic {
		t.Errorf("Detect(mixed) = %q, want arabic", got)
	}
	if got := Detect(""); got != LangEnglish {
		t.Errorf("Detect(empty) = %q", got)
	}
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	c := NewCatalog()

	msg := c.Render(MsgRequestSentRelative, LangEnglish, map[string]string{"name": "Aunt Fatima"})
	if !strings.Contains(msg, "Aunt Fatima") {
		t.Errorf("rendered message missing name: %q", msg)
	}
	if strings.Contains(msg, "{name}") {
		t.Errorf("placeholder left unsubstituted: %q", msg)
	}
}

func TestRenderFallsBackToEnglish(t *testing.T) {
	c := NewCatalog()

	got := c.Render(MsgCancelSuccess, "fr", nil)
	want := c.Render(MsgCancelSuccess, LangEnglish, nil)
	if got != want {
		t.Errorf("unknown locale = %q, want english fallback %q", got, want)
	}
}

func TestRenderUnknownIDReturnsID(t *testing.T) {
	c := NewCatalog()
	if got := c.Render(MessageID("no_such_message"), LangEnglish, nil); got != "no_such_message" {
		t.Errorf("unknown id = %q", got)
	}
}

func TestCatalogCoversBothLocales(t *testing.T) {
	c := NewCatalog()
	ids := []MessageID{
		MsgCancelSuccess, MsgStartRequest, MsgChooseExitMethod, MsgInvalidExitMethod,
		MsgNoBuses, MsgSelectBus, MsgInvalidBus, MsgBusFull, MsgAskRelativeName,
		MsgBusConfirmed, MsgSelfApproved, MsgRequestSentRelative, MsgNoGuardian,
		MsgGuardianApproved, MsgStudentNotified, MsgCodeNoRequests, MsgNotLinked,
		MsgIntroList, MsgGuardianCodeSMS,
	}
	for _, lang := range []string{LangEnglish, LangArabic} {
		for _, id := range ids {
			if _, ok := c.messages[lang][id]; !ok {
				t.Errorf("catalog missing %s/%s", lang, id)
			}
		}
	}
}
