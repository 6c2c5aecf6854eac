package meeting

import (
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

func newTestController(humans int) (*Controller, *stateLog) {
	log := &stateLog{}
	c := New(log.record, func() int { return humans })
	return c, log
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) last() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return StateIdle
	}
	return l.states[len(l.states)-1]
}

func TestSoloRoomAlwaysAnswersFinal(t *testing.T) {
	is := is.New(t)
	c, _ := newTestController(1)

	is.True(!c.Evaluate("p1", "tell me a joke", false))
	is.True(c.Evaluate("p1", "tell me a joke", true))
}

func TestMultiPartyRequiresWakePhrase(t *testing.T) {
	is := is.New(t)
	c, log := newTestController(3)

	is.True(!c.Evaluate("p1", "tell me a joke", true))
	is.Equal(log.last(), StateIdle)
}

func TestMultiPartyWakePhraseConsumedWithoutAnswer(t *testing.T) {
	is := is.New(t)
	c, log := newTestController(3)

	answered := c.Evaluate("p1", "hey kitt", true)
	is.True(!answered)
	is.Equal(log.last(), StateActive)
	is.Equal(c.ActiveParticipant(), "p1")

	// Activation was consumed; the next final from the same speaker answers.
	is.True(c.Evaluate("p1", "what time is it", true))
}

func TestWatchdogClearsActivationAfterIdle(t *testing.T) {
	is := is.New(t)
	c, log := newTestController(3)

	c.Evaluate("p1", "hey kitt", true)
	is.Equal(log.last(), StateActive)

	time.Sleep(IdleTimeout + 1200*time.Millisecond)
	is.Equal(log.last(), StateIdle)

	// A later final from the same speaker, with no re-activation, must
	// not trigger an answer.
	is.True(!c.Evaluate("p1", "still there", true))
}

func TestTurnGuardIsExclusive(t *testing.T) {
	is := is.New(t)
	c, _ := newTestController(1)

	is.True(c.TryBeginTurn())
	is.True(!c.TryBeginTurn())
	c.EndTurn()
	is.True(c.TryBeginTurn())
}
