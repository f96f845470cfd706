package dispatch

import (
	"testing"

	"bookhub/pkg/booktypes"
)

func TestDirectoryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	d := New()
	d.Register("coinbase", Entry{Dialect: booktypes.FullEachTime, MaxCount: 50})

	got, err := d.Lookup("coinbase")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Dialect != booktypes.FullEachTime || got.MaxCount != 50 {
		t.Fatalf("Lookup() = %+v, want {FullEachTime 50}", got)
	}
}

func TestDirectoryLookupUnknownExchangeErrors(t *testing.T) {
	t.Parallel()

	d := New()
	_, err := d.Lookup("nope")
	if err == nil {
		t.Fatalf("expected error for unknown exchange")
	}
}

func TestDirectoryExchangesListsAllRegistered(t *testing.T) {
	t.Parallel()

	d := New()
	d.Register("a", Entry{Dialect: booktypes.DeltaOnly, MaxCount: 10})
	d.Register("b", Entry{Dialect: booktypes.SnapshotThenDelta, MaxCount: 20})

	got := d.Exchanges()
	if len(got) != 2 {
		t.Fatalf("Exchanges() = %v, want 2 entries", got)
	}
}
