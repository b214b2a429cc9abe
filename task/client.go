package task

import "sync"

// AcceptVerdict is the admission decision for a worker asking for a subtask.
type AcceptVerdict uint8

const (
	VerdictAccepted AcceptVerdict = iota
	VerdictRejected
	VerdictShouldWait
)

func (v AcceptVerdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictRejected:
		return "rejected"
	case VerdictShouldWait:
		return "should_wait"
	default:
		return "unknown"
	}
}

// Client tracks the in-flight work of one worker node for one task. Records
// are created lazily on first contact and live for the whole task.
type Client struct {
	mu        sync.Mutex
	started   int
	accepted  int
	rejected  int
	finishing int
}

// AssertClientExists returns the record for nodeID, creating it if needed.
// The caller owns locking of the map itself.
func AssertClientExists(nodeID string, clients map[string]*Client) *Client {
	client, ok := clients[nodeID]
	if !ok {
		client = &Client{}
		clients[nodeID] = client
	}
	return client
}

// Start records a new attempt handed to this worker.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
}

// Finish records that a result transfer has begun for one attempt.
func (c *Client) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishing++
}

// Accept closes out a finishing attempt whose results were verified.
func (c *Client) Accept() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted++
	c.finishing--
	c.started--
}

// Reject penalizes the worker for a failed attempt. A rejected worker never
// receives work from this task again.
func (c *Client) Reject() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
	c.finishing--
	c.started--
}

func (c *Client) Started() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Client) Finishing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishing
}

func (c *Client) Accepted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Rejected is sticky: once a worker has been penalized it stays rejected for
// the life of the task.
func (c *Client) Rejected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected > 0
}
