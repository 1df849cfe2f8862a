package activity

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestLog_Format(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 15, 4, 5, 0, time.Local))

	l := NewLog(0, mock)
	e := l.Add("Connected successfully")

	if got, want := e.String(), "[15:04:05] Connected successfully"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	mock.Add(2 * time.Second)
	l.Addf("Retrying in %dms", 2000)

	lines := l.Lines()
	want := []string{"[15:04:07] Retrying in 2000ms", "[15:04:05] Connected successfully"}
	if len(lines) != len(want) {
		t.Fatalf("Lines() = %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLog_CapsAtDefaultCapacity(t *testing.T) {
	l := NewLog(0, clock.NewMock())

	for i := 0; i < DefaultCapacity+25; i++ {
		l.Add(fmt.Sprintf("entry %d", i))
	}

	if l.Len() != DefaultCapacity {
		t.Fatalf("Len() = %d, want %d", l.Len(), DefaultCapacity)
	}
	entries := l.Entries()
	if entries[0].Message != fmt.Sprintf("entry %d", DefaultCapacity+24) {
		t.Errorf("newest = %q", entries[0].Message)
	}
	if entries[len(entries)-1].Message != "entry 25" {
		t.Errorf("oldest = %q, want entry 25", entries[len(entries)-1].Message)
	}

	l.Reset()
	if l.Len() != 0 {
		t.Errorf("Len() = %d after Reset", l.Len())
	}
}
