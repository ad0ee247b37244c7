package speech

// Position orders fragments inside one assistant utterance. Every utterance
// carries exactly one First and one Last; Middle fragments are optional.
type Position int

const (
	First Position = iota
	Middle
	Last
)

func (p Position) String() string {
	switch p {
	case First:
		return "first"
	case Middle:
		return "middle"
	case Last:
		return "last"
	default:
		return "unknown"
	}
}

// Kind says what a fragment carries.
type Kind int

const (
	KindControl Kind = iota // boundary marker, no payload
	KindText                // sentence text, to be synthesized downstream
	KindAudio               // pre-synthesized audio bytes
)

// Fragment is one unit of assistant output flowing to the client. First and
// Last fragments are control markers; the text of the whole reply rides on
// the First fragment for display purposes.
type Fragment struct {
	UtteranceID string
	Position    Position
	Kind        Kind
	Text        string
	Audio       []byte
}
