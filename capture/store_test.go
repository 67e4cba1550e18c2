package capture

import (
	"context"
	"testing"

	"github.com/atsika/adbtransport"
)

// memMedium is an in-memory rawMedium test double: appendRaw appends to a
// slice of chunks, replayRaw streams them back over a channel exactly as a
// real blob/queue/table medium would, letting frameMedium's marshal/
// reassembly logic be exercised without any Azure SDK dependency.
type memMedium struct {
	chunks [][]byte
	closed bool
}

func (m *memMedium) appendRaw(ctx context.Context, chunk []byte) error {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	m.chunks = append(m.chunks, cp)
	return nil
}

func (m *memMedium) replayRaw(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, len(m.chunks))
	for _, c := range m.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (m *memMedium) closeRaw() error {
	m.closed = true
	return nil
}

func TestFrameMediumAppendReplayRoundTrip(t *testing.T) {
	medium := &memMedium{}
	store := &frameMedium{medium: medium}
	ctx := context.Background()

	want := []adb.Frame{
		{Tag: adb.TagCNXN, Arg0: adb.Version, Arg1: 4096, Payload: []byte("device::test\x00")},
		{Tag: adb.TagOPEN, Arg0: 1, Payload: []byte("shell:ls\x00")},
		{Tag: adb.TagWRTE, Arg0: 1, Arg1: 2, Payload: []byte("hello")},
		{Tag: adb.TagCLSE, Arg0: 1, Arg1: 2},
	}
	for _, f := range want {
		if err := store.Append(ctx, f); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	ch, err := store.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	var got []adb.Frame
	for f := range ch {
		got = append(got, f)
	}
	if len(got) != len(want) {
		t.Fatalf("replayed %d frames, want %d", len(got), len(want))
	}
	for i, f := range got {
		if f.Tag != want[i].Tag || f.Arg0 != want[i].Arg0 || f.Arg1 != want[i].Arg1 || string(f.Payload) != string(want[i].Payload) {
			t.Errorf("frame %d = %+v, want %+v", i, f, want[i])
		}
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !medium.closed {
		t.Error("Close did not reach the underlying medium")
	}
}

// A frame recorded split across two appendRaw chunks (mid-header and
// mid-payload) must still reassemble correctly on replay.
func TestFrameMediumReplaySplitAcrossChunks(t *testing.T) {
	f := adb.Frame{Tag: adb.TagWRTE, Arg0: 1, Arg1: 2, Payload: []byte("split-me-across-chunks")}
	raw := adb.MarshalFrame(f)

	medium := &memMedium{}
	medium.chunks = [][]byte{raw[:10], raw[10:]}
	store := &frameMedium{medium: medium}

	ch, err := store.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got, ok := <-ch
	if !ok {
		t.Fatal("expected one frame, got none")
	}
	if got.Tag != f.Tag || string(got.Payload) != string(f.Payload) {
		t.Errorf("got %+v, want %+v", got, f)
	}
	if _, ok := <-ch; ok {
		t.Error("expected the channel to close after the single frame")
	}
}

func TestFrameMediumReplayMultipleFramesInOneChunk(t *testing.T) {
	f1 := adb.Frame{Tag: adb.TagOKAY, Arg0: 1, Arg1: 2}
	f2 := adb.Frame{Tag: adb.TagCLSE, Arg0: 1, Arg1: 2}
	raw := append(adb.MarshalFrame(f1), adb.MarshalFrame(f2)...)

	medium := &memMedium{chunks: [][]byte{raw}}
	store := &frameMedium{medium: medium}

	ch, err := store.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	var got []adb.Frame
	for f := range ch {
		got = append(got, f)
	}
	if len(got) != 2 || got[0].Tag != adb.TagOKAY || got[1].Tag != adb.TagCLSE {
		t.Fatalf("got %+v", got)
	}
}
