package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters and gauges for the engine.
type Metrics struct {
	mu                sync.Mutex
	requestCount      map[string]int64
	errorCount        map[string]int64
	assignmentsDone   int64
	assignmentRetries int64
	deadLetters       int64
	queueDepth        int64
	unassignedByDept  map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:     make(map[string]int64),
		errorCount:       make(map[string]int64),
		unassignedByDept: make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + strconv.Itoa(status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordAssignment counts one successful assignment.
func (m *Metrics) RecordAssignment() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignmentsDone++
}

// RecordAssignmentRetry counts one re-enqueued assignment job.
func (m *Metrics) RecordAssignmentRetry() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignmentRetries++
}

// RecordDeadLetter counts one dead-lettered job.
func (m *Metrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters++
}

// SetQueueDepth records the current assignment queue depth.
func (m *Metrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = depth
}

// SetUnassignedBacklog records the unassigned ticket count for a department.
// Sustained growth here is the dashboard's backpressure signal.
func (m *Metrics) SetUnassignedBacklog(department string, count int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unassignedByDept[department] = count
}

// Snapshot returns a copy of all counters for the debug endpoint.
func (m *Metrics) Snapshot() map[string]any {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	backlog := make(map[string]int64, len(m.unassignedByDept))
	for dept, count := range m.unassignedByDept {
		backlog[dept] = count
	}
	requests := make(map[string]int64, len(m.requestCount))
	for key, count := range m.requestCount {
		requests[key] = count
	}
	errors := make(map[string]int64, len(m.errorCount))
	for key, count := range m.errorCount {
		errors[key] = count
	}
	return map[string]any{
		"assignments_done":   m.assignmentsDone,
		"assignment_retries": m.assignmentRetries,
		"dead_letters":       m.deadLetters,
		"queue_depth":        m.queueDepth,
		"unassigned_backlog": backlog,
		"requests":           requests,
		"errors":             errors,
	}
}
