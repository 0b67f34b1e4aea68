package chat

import "testing"

func TestMessagePending(t *testing.T) {
	t.Parallel()

	confirmed := Message{ID: 7}
	if confirmed.Pending() {
		t.Fatalf("confirmed message reported pending")
	}

	placeholder := Message{ClientID: "01J8ZX2N9QW4R5T6Y7V8B9C0D1"}
	if !placeholder.Pending() {
		t.Fatalf("placeholder not reported pending")
	}
}
