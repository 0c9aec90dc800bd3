package rooms

import (
	"testing"

	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/token"
)

func TestVerdict(t *testing.T) {
	type step struct {
		s       state
		inRange bool
	}
	for _, tc := range []struct {
		name  string
		steps []step
		want  verdict
	}{
		{"never seen", nil, exclude},
		{"joined before", []step{{joined, false}}, include},
		{"invited before", []step{{invited, false}}, include},
		{"banned before", []step{{banned, false}}, include},
		{"knocked before", []step{{knocked, false}}, include},
		{"kicked before", []step{{joined, false}, {kicked, false}}, includeUnlessForgotten},
		{"left before", []step{{joined, false}, {left, false}}, exclude},
		{"joined in range", []step{{joined, true}}, include},
		{"rejoined in range", []step{{left, false}, {joined, true}}, include},
		{"left in range", []step{{joined, false}, {left, true}}, includeUnlessForgotten},
		{"joined and left in range", []step{{joined, true}, {left, true}}, includeUnlessForgotten},
		{"left twice", []step{{left, false}, {left, true}}, exclude},
		{"kicked in range", []step{{joined, false}, {kicked, true}}, includeUnlessForgotten},
		{"kicked then left", []step{{kicked, false}, {left, true}}, includeUnlessForgotten},
		{"banned in range after leaving", []step{{left, false}, {banned, true}}, include},
		{"toggled in range ending joined", []step{{joined, true}, {left, true}, {joined, true}}, include},
	} {
		var h history
		for _, s := range tc.steps {
			h = h.step(s.s, s.inRange)
		}
		if got := h.verdict(); got != tc.want {
			t.Errorf("%s: expected verdict %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestSummarizeKeepsRoomsApart(t *testing.T) {
	from := token.Scalar(2)
	records := []membership.Record{
		{RoomID: "!a", UserID: user1, Membership: membership.Join, Writer: "w1", Position: 1},
		{RoomID: "!b", UserID: user1, Membership: membership.Invite, Writer: "w1", Position: 2},
		{RoomID: "!a", UserID: user1, Membership: membership.Leave, Writer: "w1", Position: 3},
		{RoomID: "!c", UserID: user1, Membership: membership.Leave, Sender: user2, Writer: "w1", Position: 4},
	}
	got := summarize(records, from)
	if len(got) != 3 {
		t.Fatalf("expected three rooms, got %v", got)
	}
	if a := got["!a"]; a.before != joined || a.final != left || !a.leftInRange || a.enteredInRange {
		t.Fatalf("unexpected history for !a: %+v", a)
	}
	if b := got["!b"]; b.before != invited || b.final != invited || b.leftInRange {
		t.Fatalf("state of !a leaked into !b: %+v", b)
	}
	if c := got["!c"]; c.before != neverSeen || c.final != kicked || !c.leftInRange {
		t.Fatalf("unexpected history for !c: %+v", c)
	}
}

func TestSummarizeComparesPerWriter(t *testing.T) {
	from := token.New(2, map[token.WriterID]token.StreamPosition{"w1": 10})
	records := []membership.Record{
		{RoomID: "!a", UserID: user1, Membership: membership.Join, Writer: "w1", Position: 8},
		{RoomID: "!b", UserID: user1, Membership: membership.Join, Writer: "w2", Position: 8},
	}
	got := summarize(records, from)
	if got["!a"].before != joined {
		t.Fatal("w1.8 is before the from token")
	}
	if got["!b"].before != neverSeen || !got["!b"].enteredInRange {
		t.Fatal("w2.8 is past the from token's w2 position")
	}
}

func TestSummarizeUsesPositionOrderWithinWriter(t *testing.T) {
	records := []membership.Record{
		{RoomID: "!a", UserID: user1, Membership: membership.Join, Writer: "w1", Position: 1},
		{RoomID: "!a", UserID: user1, Membership: membership.Join, Writer: "w1", Position: 3},
		{RoomID: "!a", UserID: user1, Membership: membership.Leave, Writer: "w1", Position: 2},
	}
	got := summarize(records, token.Scalar(3))
	if got["!a"].final != joined {
		t.Fatalf("w1.3 is the latest record of !a, got %+v", got["!a"])
	}
	got = summarize(records, token.Scalar(1))
	if a := got["!a"]; a.final != joined || !a.leftInRange || !a.enteredInRange {
		t.Fatalf("unexpected history for !a: %+v", a)
	}
}
