package events

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterAppendsJSONLinesAndFsyncs(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(Event{Kind: KindStoryStarted, StoryID: "a"}))
	require.NoError(t, w.Write(Event{Kind: KindStoryCompleted, StoryID: "a"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestBusEmitAndSubscribe(t *testing.T) {
	b := NewBus(1)
	b.Emit(Event{Kind: KindStoryStarted, StoryID: "a"})

	evt := <-b.Subscribe()
	require.Equal(t, KindStoryStarted, evt.Kind)
}

func TestBusEmitDropsWhenFullRatherThanBlocking(t *testing.T) {
	b := NewBus(1)
	b.Emit(Event{Kind: KindStoryStarted, StoryID: "a"})
	b.Emit(Event{Kind: KindStoryFailed, StoryID: "b"}) // channel full, dropped

	evt := <-b.Subscribe()
	require.Equal(t, KindStoryStarted, evt.Kind)

	select {
	case <-b.Subscribe():
		t.Fatal("expected no second event")
	default:
	}
}
