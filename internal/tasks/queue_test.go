// internal/tasks/queue_test.go
package tasks

import (
	"testing"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue()

	q.Add(New("t-low", "build", PriorityLow, nil))
	q.Add(New("t-critical", "build", PriorityCritical, nil))
	q.Add(New("t-medium", "build", PriorityMedium, nil))

	task := q.Peek()
	if task.Priority != PriorityCritical {
		t.Errorf("expected critical priority first, got %s", task.Priority)
	}
}

func TestQueuePopRemovesTask(t *testing.T) {
	q := NewQueue()
	q.Add(New("t1", "build", PriorityMedium, nil))
	q.Add(New("t2", "build", PriorityMedium, nil))

	if q.Len() != 2 {
		t.Errorf("expected 2 tasks, got %d", q.Len())
	}

	q.Pop()

	if q.Len() != 1 {
		t.Errorf("expected 1 task after pop, got %d", q.Len())
	}
}

func TestQueueGetByID(t *testing.T) {
	q := NewQueue()
	task := New("find-me", "build", PriorityMedium, nil)
	q.Add(task)

	found := q.GetByID(task.ID)
	if found == nil {
		t.Fatal("expected to find task by ID")
	}
	if found.ID != "find-me" {
		t.Errorf("wrong task returned")
	}
}

func TestQueueGetByStatus(t *testing.T) {
	q := NewQueue()
	t1 := New("t1", "build", PriorityMedium, nil)
	t2 := New("t2", "build", PriorityMedium, nil)
	t3 := New("t3", "build", PriorityMedium, nil)
	t3.Status = StatusAssigned

	q.Add(t1)
	q.Add(t2)
	q.Add(t3)

	pending := q.GetByStatus(StatusPending)
	if len(pending) != 2 {
		t.Errorf("expected 2 pending tasks, got %d", len(pending))
	}
}

func TestQueueGetByAgent(t *testing.T) {
	q := NewQueue()
	t1 := New("t1", "build", PriorityMedium, nil)
	t1.AssignedTo = "agent-green"
	t2 := New("t2", "build", PriorityMedium, nil)
	t2.AssignedTo = "agent-purple"

	q.Add(t1)
	q.Add(t2)

	agentTasks := q.GetByAgent("agent-green")
	if len(agentTasks) != 1 {
		t.Errorf("expected 1 task for agent, got %d", len(agentTasks))
	}
}

func TestPopNMovesExactCount(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 10; i++ {
		q.Add(New(string(rune('a'+i)), "build", PriorityMedium, nil))
	}

	moved := q.PopN(5)
	if len(moved) != 5 {
		t.Fatalf("expected 5 moved, got %d", len(moved))
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 remaining, got %d", q.Len())
	}
}

func TestWorkStealingPreservesTotalCount(t *testing.T) {
	src := NewQueue()
	dst := NewQueue()
	for i := 0; i < 10; i++ {
		src.Add(New(string(rune('a'+i)), "build", PriorityMedium, nil))
	}

	moved := src.PopN(5)
	for _, task := range moved {
		dst.Add(task)
	}

	if src.Len()+dst.Len() != 10 {
		t.Fatalf("work stealing must be a permutation: total changed to %d", src.Len()+dst.Len())
	}
}
