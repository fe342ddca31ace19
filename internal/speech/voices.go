package speech

import (
	"regexp"
	"strings"

	"github.com/normanking/talkingavatar/internal/narration"
)

// say -v '?' prints "Name    xx_YY    # sample sentence"; names may contain spaces.
var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

func parseSayVoices(output string) []narration.Voice {
	var voices []narration.Voice
	for _, line := range strings.Split(output, "\n") {
		m := sayVoiceLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		voices = append(voices, narration.Voice{
			Name: strings.TrimSpace(m[1]),
			Lang: m[2],
		})
	}
	return voices
}

// espeak --voices prints a header row, then
// "Pty Language Age/Gender VoiceName File Other Languages".
func parseESpeakVoices(output string) []narration.Voice {
	var voices []narration.Voice
	for i, line := range strings.Split(output, "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, narration.Voice{
			Name: fields[3],
			Lang: fields[1],
		})
	}
	return voices
}
