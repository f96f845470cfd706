package booktypes

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, amount string) OrderPrice {
	return OrderPrice{Price: dec(price), Amount: dec(amount)}
}

func prices(levels []OrderPrice) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = l.Price.String()
	}
	return out
}

func TestBookSideReplaceAllSortsAscending(t *testing.T) {
	t.Parallel()

	s := NewBookSide()
	s.ReplaceAll([]OrderPrice{lvl("101", "2"), lvl("99", "1"), lvl("100", "3")})

	got := prices(s.Levels())
	want := []string{"99", "100", "101"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Levels() = %v, want %v", got, want)
		}
	}
}

func TestBookSideReplaceAllDropsDeletedLevels(t *testing.T) {
	t.Parallel()

	s := NewBookSide()
	s.ReplaceAll([]OrderPrice{lvl("5", "5"), lvl("6", "0"), lvl("0", "9")})

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if _, ok := s.Get(dec("5")); !ok {
		t.Fatalf("expected price 5 to survive ReplaceAll")
	}
}

func TestBookSideApplyDeltaOverwritesAndDeletes(t *testing.T) {
	t.Parallel()

	s := NewBookSide()
	s.ReplaceAll([]OrderPrice{lvl("5", "5"), lvl("6", "6")})

	s.ApplyDelta([]OrderPrice{lvl("5", "0"), lvl("7", "1")})

	got := prices(s.Levels())
	want := []string{"6", "7"}
	if len(got) != len(want) {
		t.Fatalf("Levels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Levels() = %v, want %v", got, want)
		}
	}
}

func TestBookSideApplyDeltaDeleteMissingIsNoop(t *testing.T) {
	t.Parallel()

	s := NewBookSide()
	s.ReplaceAll([]OrderPrice{lvl("5", "5")})

	s.ApplyDelta([]OrderPrice{lvl("9", "0")})

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (delete of missing price must be a no-op)", s.Len())
	}
}

func TestOrderPriceIsDelete(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		p    OrderPrice
		want bool
	}{
		{"zero amount", lvl("5", "0"), true},
		{"negative amount", lvl("5", "-1"), true},
		{"zero price", lvl("0", "5"), true},
		{"live level", lvl("5", "1"), false},
	}
	for _, tt := range cases {
		if got := tt.p.IsDelete(); got != tt.want {
			t.Errorf("%s: IsDelete() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
