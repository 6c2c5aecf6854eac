package meeting

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
)

// Naive trigger/activation word lists. Kept deliberately trivial; this
// is a placeholder a smarter matcher can later replace behind the same
// Evaluate contract.
var (
	GreetingWords = []string{"hi", "hello", "hey", "hallo", "salut", "bonjour", "hola", "eh", "ey"}
	NameWords     = []string{"kit", "gpt", "kitt", "livekit", "live-kit", "kid"}
)

const (
	// ActivationWordsLen is the size of the leading word window checked
	// for a wake phrase.
	ActivationWordsLen = 2
	// IdleTimeout is how long an activated speaker may stay silent
	// before the watchdog clears activation.
	IdleTimeout = 4 * time.Second
)

// Controller is the per-agent activation state machine (§4.6). It
// decides, for each RecognizeResult from a participant, whether the
// agent should answer — handling the solo/multi-party split, wake-phrase
// detection, and the idle watchdog. One Controller per Agent.
type Controller struct {
	onStateChange func(State)
	numHumans     func() int

	mu            sync.Mutex
	active        *ActiveSpeaker
	activeInterim bool
	epoch         uint64

	isBusy atomic.Bool
}

// New creates a Controller. onStateChange is invoked with StateActive on
// the calling goroutine whenever a participant becomes active (a wake
// phrase, the speaker of a solo room, or Reactivate), and with StateIdle
// from the watchdog goroutine when activation times out — never from
// inside a held lock. numHumans reports the current human population of
// the room and is consulted on every Evaluate call.
func New(onStateChange func(State), numHumans func() int) *Controller {
	return &Controller{onStateChange: onStateChange, numHumans: numHumans}
}

// TryBeginTurn marks the controller busy and reports whether the caller
// won the race to start an answer turn. Only one turn may run at a time.
func (c *Controller) TryBeginTurn() bool {
	return c.isBusy.CompareAndSwap(false, true)
}

// EndTurn releases the busy flag. Must be called exactly once per
// successful TryBeginTurn.
func (c *Controller) EndTurn() {
	c.isBusy.Store(false)
}

// ActiveParticipant returns the currently activated participant ID, or
// "" if none.
func (c *Controller) ActiveParticipant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.ParticipantID
}

// ClearActive deactivates the current speaker unconditionally, used at
// the start of an answer turn (§4.7 step 1).
func (c *Controller) ClearActive() {
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}

// Reactivate re-activates participantID, used when a completed bot
// answer ends in '?' (§4.6 rule 6).
func (c *Controller) Reactivate(participantID string) {
	c.activate(participantID)
}

// Evaluate applies the activation policy to one RecognizeResult from
// participantID and reports whether the agent should now run an answer
// turn. It does not publish anything; the caller is always responsible
// for forwarding the transcript packet regardless of the return value
// (§4.6 rule 1).
func (c *Controller) Evaluate(participantID, text string, isFinal bool) bool {
	c.mu.Lock()
	active := c.active
	if active != nil && active.ParticipantID == participantID {
		active.LastActivityAt = time.Now()
	}
	c.mu.Unlock()

	var shouldAnswer bool
	if c.numHumans() <= 1 {
		// Solo room: answer every final result, and track the speaker purely so the
		// UI can animate — there is no real contention to arbitrate.
		if active == nil {
			c.activate(participantID)
			active = &ActiveSpeaker{ParticipantID: participantID}
		}
		shouldAnswer = isFinal
	} else {
		justActivated := false
		words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
		if len(words) >= 2 {
			limit := len(words)
			if limit > ActivationWordsLen {
				limit = ActivationWordsLen
			}
			window := words[:limit]

			greetIndex := indexOfAny(window, GreetingWords)
			nameIndex := indexOfAny(window, NameWords)

			if greetIndex != -1 && greetIndex < nameIndex {
				justActivated = true
				c.mu.Lock()
				c.activeInterim = !isFinal
				alreadyThisSpeaker := c.active != nil && c.active.ParticipantID == participantID
				c.mu.Unlock()
				if !alreadyThisSpeaker {
					c.activate(participantID)
				}
				active = c.snapshotActive()
			}
		}

		if isFinal {
			shouldAnswer = active != nil && active.ParticipantID == participantID

			c.mu.Lock()
			activeInterim := c.activeInterim
			c.mu.Unlock()

			if (justActivated || activeInterim) && len(words) <= ActivationWordsLen+1 {
				// The final transcript was itself the activation phrase:
				// consume it without answering, wait for the next final.
				shouldAnswer = false
			}
		}
	}

	if shouldAnswer {
		c.ClearActive()
	}
	return shouldAnswer
}

func (c *Controller) snapshotActive() *ActiveSpeaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) activate(participantID string) {
	c.mu.Lock()
	if c.active != nil && c.active.ParticipantID == participantID {
		c.mu.Unlock()
		return
	}
	c.epoch++
	epoch := c.epoch
	c.active = &ActiveSpeaker{ParticipantID: participantID, Epoch: epoch, LastActivityAt: time.Now()}
	c.mu.Unlock()

	c.onStateChange(StateActive)
	go c.watchdog(epoch)
}

// watchdog clears activation after IdleTimeout of inactivity, unless
// the epoch it was scheduled for has since been superseded.
func (c *Controller) watchdog(epoch uint64) {
	time.Sleep(IdleTimeout)
	for {
		c.mu.Lock()
		if c.active == nil || c.active.Epoch != epoch {
			c.mu.Unlock()
			return
		}
		if time.Since(c.active.LastActivityAt) >= IdleTimeout {
			c.active = nil
			c.mu.Unlock()
			c.onStateChange(StateIdle)
			return
		}
		c.mu.Unlock()
		time.Sleep(time.Second)
	}
}

func indexOfAny(haystack, needles []string) int {
	for _, n := range needles {
		if i := slices.Index(haystack, n); i != -1 {
			return i
		}
	}
	return -1
}
