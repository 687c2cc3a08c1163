package transcript

// Reason explains the result of a highlight attempt.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMatched
	ReasonEmpty
	ReasonNoWord
	ReasonMiss
)

func (r Reason) String() string {
	switch r {
	case ReasonMatched:
		return "matched"
	case ReasonEmpty:
		return "empty"
	case ReasonNoWord:
		return "no_word"
	case ReasonMiss:
		return "miss"
	default:
		return "none"
	}
}

// Match is the result of aligning one spoken word.
type Match struct {
	Word       string
	Normalized string
	From       int
	Index      int
	LastSpoken int
	Reason     Reason
}

// Matched reports whether the cursor moved.
func (m Match) Matched() bool { return m.Reason == ReasonMatched }

// Highlight aligns a spoken word against the tokens after the last spoken
// one. On a match, CurrentlySpeaking becomes the matched index and LastSpoken
// extends over any directly following tokens without word characters. A miss
// leaves the cursor untouched and is not retried.
func (s *Session) Highlight(word string) Match {
	m := Match{Word: word, From: s.Cursor.LastSpoken + 1, Index: -1, LastSpoken: s.Cursor.LastSpoken}
	if word == "" {
		m.Reason = ReasonEmpty
		return m
	}
	m.Normalized = Normalize(word)
	if m.Normalized == "" {
		m.Reason = ReasonNoWord
		return m
	}

	found := FindForward(s.Tokens, m.From, m.Normalized)
	if found < 0 {
		m.Reason = ReasonMiss
		return m
	}

	last := found
	for last+1 < len(s.Tokens) && !HasWordChar(s.Tokens[last+1].Text) {
		last++
	}
	s.Cursor = Cursor{LastSpoken: last, CurrentlySpeaking: found}
	m.Index = found
	m.LastSpoken = last
	m.Reason = ReasonMatched
	return m
}

// FindForward returns the index of the first token at or after from that
// has a word character and normalizes to normalized, or -1.
func FindForward(tokens []Token, from int, normalized string) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(tokens); i++ {
		text := tokens[i].Text
		if HasWordChar(text) && Normalize(text) == normalized {
			return i
		}
	}
	return -1
}
