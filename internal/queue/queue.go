// Package queue holds user messages that arrive while the agent is busy.
// Steering messages are injected into the current run between tool batches;
// follow-ups become whole new turns after the current one completes.
package queue

import (
	"sync"
	"time"
)

// DrainMode controls how many steering messages DrainSteering pops.
type DrainMode int

const (
	DrainOne DrainMode = iota
	DrainAll
)

// Message is one queued user message.
type Message struct {
	Seq       uint64    `json:"seq"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is a point-in-time snapshot of queue depths.
type Status struct {
	Steering  int `json:"steering"`
	FollowUps int `json:"follow_ups"`
}

// Queue is a two-class FIFO message queue safe for concurrent producers.
type Queue struct {
	mu        sync.Mutex
	seq       uint64
	steering  []Message
	followUps []Message
}

func New() *Queue {
	return &Queue{}
}

// Enqueue adds a steering message.
func (q *Queue) Enqueue(text string) Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.newMessage(text)
	q.steering = append(q.steering, m)
	return m
}

// EnqueueFollowUp adds a follow-up message.
func (q *Queue) EnqueueFollowUp(text string) Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.newMessage(text)
	q.followUps = append(q.followUps, m)
	return m
}

func (q *Queue) newMessage(text string) Message {
	q.seq++
	return Message{Seq: q.seq, Text: text, Timestamp: time.Now()}
}

// DrainSteering removes and returns steering messages in FIFO order.
// DrainOne pops the oldest message; DrainAll pops everything. An empty
// queue returns nil.
func (q *Queue) DrainSteering(mode DrainMode) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.steering) == 0 {
		return nil
	}

	if mode == DrainOne {
		m := q.steering[0]
		q.steering = q.steering[1:]
		return []Message{m}
	}

	drained := q.steering
	q.steering = nil
	return drained
}

// PopFollowUp removes and returns the oldest follow-up, if any.
func (q *Queue) PopFollowUp() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.followUps) == 0 {
		return Message{}, false
	}
	m := q.followUps[0]
	q.followUps = q.followUps[1:]
	return m, true
}

// Status returns current queue depths.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Steering: len(q.steering), FollowUps: len(q.followUps)}
}

// Clear removes all queued messages and returns what was dropped, each
// class in FIFO order.
func (q *Queue) Clear() (steering, followUps []Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	steering, q.steering = q.steering, nil
	followUps, q.followUps = q.followUps, nil
	return steering, followUps
}
