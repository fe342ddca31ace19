package narration

import "strings"

// SelectVoice picks the voice for params: the named voice if present,
// otherwise the first voice in the requested language, then the first
// sharing its base language, then the backend default.
func SelectVoice(voices []Voice, params VoiceParams) (Voice, bool) {
	if params.Voice != "" {
		for _, v := range voices {
			if strings.EqualFold(v.Name, params.Voice) {
				return v, true
			}
		}
	}

	want := normalizeLang(params.Lang)
	if want != "" {
		for _, v := range voices {
			if normalizeLang(v.Lang) == want {
				return v, true
			}
		}
		base, _, _ := strings.Cut(want, "-")
		for _, v := range voices {
			vb, _, _ := strings.Cut(normalizeLang(v.Lang), "-")
			if vb == base {
				return v, true
			}
		}
	}

	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}
	return Voice{}, false
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
}
