package autohands

import "testing"

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("task.a", PriorityHigh, []byte(`{"k":"v"}`), "corr-1", nil)
	if task.ID == "" {
		t.Error("expected a generated ID")
	}
	if task.Status != StatusPending {
		t.Errorf("expected pending status, got %s", task.Status)
	}
	if task.SubmittedAt == 0 {
		t.Error("expected SubmittedAt to be stamped")
	}
	if task.VisibleAt != task.SubmittedAt {
		t.Errorf("expected VisibleAt to default to SubmittedAt, got %d vs %d", task.VisibleAt, task.SubmittedAt)
	}
}

func TestTaskReady(t *testing.T) {
	task := NewTask("task.a", PriorityNormal, nil, "", nil)
	task.VisibleAt = 100
	if task.Ready(99) {
		t.Error("task should not be ready before VisibleAt")
	}
	if !task.Ready(100) {
		t.Error("task should be ready exactly at VisibleAt")
	}
	if !task.Ready(101) {
		t.Error("task should be ready after VisibleAt")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusPending:      false,
		StatusRunning:      false,
		StatusFailed:       false,
		StatusCompleted:    true,
		StatusDeadLettered: true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	valid := []struct{ from, to Status }{
		{StatusPending, StatusRunning},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusPending},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusDeadLettered},
	}
	for _, c := range valid {
		if !CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be valid", c.from, c.to)
		}
	}

	invalid := []struct{ from, to Status }{
		{StatusPending, StatusCompleted},
		{StatusCompleted, StatusPending},
		{StatusDeadLettered, StatusPending},
	}
	for _, c := range invalid {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be invalid", c.from, c.to)
		}
	}
}

func TestPriorityString(t *testing.T) {
	cases := map[Priority]string{
		PriorityLow:    "low",
		PriorityNormal: "normal",
		PriorityHigh:   "high",
		PrioritySystem: "system",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Priority(%d).String() = %q, want %q", p, got, want)
		}
	}
}
