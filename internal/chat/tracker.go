package chat

import (
	"context"
	"encoding/json"
)

// Completer produces the assistant reply for a transcript. ok is false when
// no reply could be obtained.
type Completer interface {
	Complete(ctx context.Context, transcript []Message) (reply string, ok bool)
}

// Pair is one display row: a prompt and the reply it received.
type Pair struct {
	Prompt string
	Reply  string
}

// MarshalJSON encodes a pair as a two-element array, the shape chat widgets
// usually consume.
func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Prompt, p.Reply})
}

// Advance runs one conversation round: the user input is appended, the
// completer is called with the whole transcript, and the reply is appended
// whether or not the completion succeeded (a failed completion leaves an
// empty assistant message). The caller's slice is never modified.
func Advance(ctx context.Context, transcript Transcript, userInput string, completer Completer) ([]Pair, Transcript) {
	updated := make(Transcript, len(transcript), len(transcript)+2)
	copy(updated, transcript)

	updated = append(updated, Message{Role: RoleUser, Content: userInput})
	reply, _ := completer.Complete(ctx, updated[:len(updated):len(updated)])
	updated = append(updated, Message{Role: RoleAssistant, Content: reply})

	return Pairs(updated), updated
}

// Pairs walks the transcript two entries at a time from the start, pairing
// entry i with entry i+1. A trailing unpaired entry is dropped.
func Pairs(transcript Transcript) []Pair {
	pairs := make([]Pair, 0, len(transcript)/2)
	for i := 0; i+1 < len(transcript); i += 2 {
		pairs = append(pairs, Pair{Prompt: transcript[i].Content, Reply: transcript[i+1].Content})
	}
	return pairs
}
