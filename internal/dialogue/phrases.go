package dialogue

import "strings"

// Affirmative and negative answer sets for confirmation prompts. Matching is
// deliberately conservative: only clear answers count, everything else
// re-prompts.
var (
	// "어" is omitted: it doubles as a hesitation filler and must not
	// confirm anything.
	affirmativePhrases = makeSet(
		"네", "예", "넵", "응",
		"그래", "그래요", "맞아", "맞아요", "맞습니다",
		"좋아", "좋아요", "확인",
		"결제해줘", "결제해주세요", "해주세요",
		"yes", "ok", "okay",
	)

	negativePhrases = makeSet(
		"아니", "아니요", "아니오", "아뇨",
		"취소", "취소요", "취소해주세요",
		"싫어", "싫어요", "안해요",
		"no",
	)
)

func makeSet(phrases ...string) map[string]bool {
	set := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		set[p] = true
	}
	return set
}

// isAffirmative reports whether the utterance is a clear yes.
func isAffirmative(utterance string) bool {
	return matchesPhraseSet(utterance, affirmativePhrases)
}

// isNegative reports whether the utterance is a clear no.
func isNegative(utterance string) bool {
	return matchesPhraseSet(utterance, negativePhrases)
}

// matchesPhraseSet checks the normalized utterance, its first token and its
// last token against the set. Mixed answers like "네 결제해주세요" match on a
// token; rambling answers match nothing and trigger a re-prompt.
func matchesPhraseSet(utterance string, set map[string]bool) bool {
	norm := normalizeAnswer(utterance)
	if norm == "" {
		return false
	}
	if set[norm] {
		return true
	}
	tokens := strings.Fields(norm)
	return set[tokens[0]] || set[tokens[len(tokens)-1]]
}

// normalizeAnswer lowercases and strips punctuation so "네!" and "네" read
// the same.
func normalizeAnswer(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case '.', ',', '!', '?', '~', '…':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
