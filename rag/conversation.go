package rag

import (
	"sync"
	"time"
)

// MaxExchanges is how many recent exchanges a Conversation keeps.
const MaxExchanges = 3

// Exchange is one answered question.
type Exchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// Conversation is the question/answer history of one session. It is safe
// for concurrent use; callers own one Conversation per session.
type Conversation struct {
	mu        sync.Mutex
	exchanges []Exchange
}

// NewConversation returns a conversation seeded with history, of which only
// the most recent MaxExchanges are kept.
func NewConversation(history ...Exchange) *Conversation {
	c := &Conversation{}
	for _, ex := range history {
		c.add(ex)
	}
	return c
}

// Append records an answered question.
func (c *Conversation) Append(question, answer string) {
	c.add(Exchange{Question: question, Answer: answer, At: time.Now().UTC()})
}

func (c *Conversation) add(ex Exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, ex)
	if n := len(c.exchanges); n > MaxExchanges {
		c.exchanges = append([]Exchange(nil), c.exchanges[n-MaxExchanges:]...)
	}
}

// Exchanges returns a copy of the history, oldest first.
func (c *Conversation) Exchanges() []Exchange {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Exchange(nil), c.exchanges...)
}

// Len reports the number of exchanges kept.
func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exchanges)
}
