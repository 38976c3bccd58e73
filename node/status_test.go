package node

import "testing"

func TestStatusTransitionsNotifyListeners(t *testing.T) {
	n := &Node{status: Created}
	var got []Status
	n.OnStatusChange(func(prev, next Status) {
		got = append(got, next)
	})
	n.setStatus(Initializing)
	n.setStatus(Running)
	if len(got) != 2 || got[0] != Initializing || got[1] != Running {
		t.Fatalf("unexpected listener sequence: %v", got)
	}
	if n.Status() != Running {
		t.Fatalf("expected current status Running, got %s", n.Status())
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		Created:      "CREATED",
		Initializing: "INITIALIZING",
		Running:      "RUNNING",
		Stopping:     "STOPPING",
		Stopped:      "STOPPED",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}
