package reply

import "strings"

// greetingWords are the tokens that make a short transcript a greeting
// rather than a question needing a filler — a bare "hi" or "thanks" gets
// straight to the reply instead of an extra "let me think" round trip.
var greetingWords = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank": {},
	"bye": {}, "goodbye": {}, "yo": {}, "hiya": {}, "sup": {},
}

// isShortGreeting reports whether transcript is a short greeting: at most
// four words, at least one of which (after stripping punctuation) is a
// known greeting token.
func isShortGreeting(transcript string) bool {
	words := strings.Fields(transcript)
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,!?"))
		if _, ok := greetingWords[w]; ok {
			return true
		}
	}
	return false
}

// documentFiller is the fixed filler used in document mode regardless of
// the transcript's wording — retrieval is the slow step the user is being
// reassured about, not the question itself.
const documentFiller = "Let me check the document for you."

// fillerRule picks a filler phrase keyed on the first word of a question.
type fillerRule struct {
	words []string
	text  string
}

var fillerRules = []fillerRule{
	{[]string{"what", "why", "how", "who", "which", "where", "when"}, "Let me think about that…"},
	{[]string{"can", "could", "would", "please"}, "Sure thing, one moment."},
	{[]string{"explain", "describe", "summarize", "list", "give"}, "Sure, let me explain."},
}

const neutralFiller = "One moment, please."

// pickFiller selects the filler TTS text for a general/agent mode reply,
// keyed on the first word of transcript. Document mode never calls this —
// it always uses [documentFiller].
func pickFiller(transcript string) string {
	words := strings.Fields(transcript)
	if len(words) == 0 {
		return neutralFiller
	}
	first := strings.ToLower(strings.Trim(words[0], ".,!?"))
	for _, rule := range fillerRules {
		for _, w := range rule.words {
			if first == w {
				return rule.text
			}
		}
	}
	return neutralFiller
}

// skipHistory lists boilerplate reply strings that are not worth recording
// in session history — writing them back would only pollute future prompts
// with "Done." and friends instead of substantive exchanges.
var skipHistory = map[string]struct{}{
	"Done.": {},
	"I wasn't able to complete that request. Please try again.":    {},
	"Sorry, I didn't quite catch that. Could you say that again?": {},
}
