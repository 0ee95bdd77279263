package peer

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestCandidateBuffer_DrainOnceInOrder(t *testing.T) {
	var b CandidateBuffer
	for _, c := range []string{"a", "b", "c"} {
		if !b.Push(webrtc.ICECandidateInit{Candidate: c}) {
			t.Fatalf("Push(%s) rejected before drain", c)
		}
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d", b.Len())
	}

	got := b.Drain()
	if len(got) != 3 || got[0].Candidate != "a" || got[2].Candidate != "c" {
		t.Fatalf("Drain = %+v", got)
	}
	if again := b.Drain(); again != nil {
		t.Errorf("second Drain = %+v, want nil", again)
	}
	if b.Push(webrtc.ICECandidateInit{Candidate: "late"}) {
		t.Error("Push accepted after drain")
	}
	if b.Len() != 0 {
		t.Errorf("Len after drain = %d", b.Len())
	}
}

func TestCandidateBuffer_Reset(t *testing.T) {
	var b CandidateBuffer
	b.Push(webrtc.ICECandidateInit{Candidate: "a"})
	b.Drain()
	b.Reset()

	if !b.Push(webrtc.ICECandidateInit{Candidate: "b"}) {
		t.Fatal("Push rejected after Reset")
	}
	if got := b.Drain(); len(got) != 1 || got[0].Candidate != "b" {
		t.Errorf("Drain = %+v", got)
	}
}
