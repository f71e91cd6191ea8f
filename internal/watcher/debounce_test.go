package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case events := <-d.Output():
		return events
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced events")
		return nil
	}
}

func TestDebouncer_CoalescesModifyBurst(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "src/Foo.java", Operation: OpModify})
	}

	events := collect(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, OpModify, events[0].Operation)
}

func TestDebouncer_CreateThenModifyStaysCreate(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "src/Foo.java", Operation: OpCreate})
	d.Add(FileEvent{Path: "src/Foo.java", Operation: OpModify})

	events := collect(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, OpCreate, events[0].Operation)
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "src/Gone.java", Operation: OpCreate})
	d.Add(FileEvent{Path: "src/Gone.java", Operation: OpDelete})
	d.Add(FileEvent{Path: "src/Kept.java", Operation: OpModify})

	events := collect(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, "src/Kept.java", events[0].Path)
}

func TestDebouncer_DeleteThenCreateBecomesModify(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "src/Foo.java", Operation: OpDelete})
	d.Add(FileEvent{Path: "src/Foo.java", Operation: OpCreate})

	events := collect(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, OpModify, events[0].Operation)
}

func TestDebouncer_SeparatePathsKeptApart(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "src/A.java", Operation: OpModify})
	d.Add(FileEvent{Path: "src/B.java", Operation: OpDelete})

	events := collect(t, d)
	assert.Len(t, events, 2)
}

func TestDebouncer_StopIsIdempotent(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "src/A.java", Operation: OpModify})
}
