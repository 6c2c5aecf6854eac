// Package agent runs one bot's occupancy of a single room: connecting,
// transcribing every remote speaker, deciding when to answer, and
// synthesizing and queueing the spoken reply.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v3"

	"github.com/livekit-examples/kitt/pkg/ai/llm"
	"github.com/livekit-examples/kitt/pkg/ai/stt"
	"github.com/livekit-examples/kitt/pkg/ai/tts"
	"github.com/livekit-examples/kitt/pkg/meeting"
	"github.com/livekit-examples/kitt/pkg/metrics"
	"github.com/livekit-examples/kitt/pkg/rtc"
	"github.com/livekit-examples/kitt/pkg/transcribe"
)

// emptyRoomGrace is how long the agent waits after connecting before
// checking whether it was left alone (the human who created the room
// may have already left by the time the bot joins).
const emptyRoomGrace = 5 * time.Second

// Backends bundles the three swappable AI providers an Agent is built
// with; each is resolved from the plugin registry by the caller.
type Backends struct {
	STT stt.STT
	TTS tts.TTS
	LLM llm.LLM
}

// Agent is one room's bot occupant: a room connection, an outbound
// speech track, a transcriber per subscribed remote track, and the
// activation/memory state deciding when and what it answers.
type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc

	room     *lksdk.Room
	track    *rtc.OutboundTrack
	backends Backends

	mu           sync.Mutex
	transcribers map[string]*transcribe.Transcriber
	onDisconnect func()

	memory     *meeting.ConversationMemory
	controller *meeting.Controller
}

// Connect joins the room at url with token, publishes the agent's
// outbound track, and wires transcription/activation for every
// subsequently subscribed remote microphone track.
func Connect(url, token string, backends Backends) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:          ctx,
		cancel:       cancel,
		backends:     backends,
		transcribers: make(map[string]*transcribe.Transcriber),
		memory:       meeting.NewConversationMemory(),
	}
	a.controller = meeting.New(a.onActivationStateChange, a.numHumans)

	roomCallback := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished:    a.trackPublished,
			OnTrackSubscribed:   a.trackSubscribed,
			OnTrackUnsubscribed: a.trackUnsubscribed,
		},
		OnParticipantConnected:    a.participantConnected,
		OnParticipantDisconnected: a.participantDisconnected,
		OnDisconnected:            a.disconnected,
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, roomCallback, lksdk.WithAutoSubscribe(false))
	if err != nil {
		cancel()
		return nil, err
	}
	a.room = room

	track, err := rtc.NewOutboundTrack()
	if err != nil {
		room.Disconnect()
		cancel()
		return nil, err
	}
	if _, err := track.Publish(room.LocalParticipant); err != nil {
		room.Disconnect()
		cancel()
		return nil, err
	}
	a.track = track

	go func() {
		time.Sleep(emptyRoomGrace)
		if len(room.GetParticipants()) == 0 {
			a.Disconnect()
		}
	}()

	return a, nil
}

// OnDisconnect registers f to run once the agent leaves the room, by
// whatever cause (explicit Disconnect, the room emptying out, or a
// server-initiated disconnect).
func (a *Agent) OnDisconnect(f func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDisconnect = f
}

// Disconnect leaves the room, tears down every transcriber, and cancels
// the agent's context. Safe to call more than once.
func (a *Agent) Disconnect() {
	logger.Infow("disconnecting agent", "room", a.room.Name())
	a.room.Disconnect()

	a.mu.Lock()
	for _, t := range a.transcribers {
		t.Close()
	}
	onDisconnect := a.onDisconnect
	a.mu.Unlock()

	a.cancel()

	if onDisconnect != nil {
		onDisconnect()
	}
}

func (a *Agent) numHumans() int {
	return len(a.room.GetParticipants())
}

func (a *Agent) onActivationStateChange(state meeting.State) {
	a.sendState(state)
}

func (a *Agent) trackPublished(publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if publication.Source() != livekit.TrackSource_MICROPHONE {
		return
	}
	if err := publication.SetSubscribed(true); err != nil {
		logger.Errorw("failed to subscribe to track", err, "track", publication.SID(), "participant", rp.SID())
	}
}

func (a *Agent) trackSubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	a.mu.Lock()
	if _, ok := a.transcribers[rp.SID()]; ok {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	language := participantLanguage(rp)

	logger.Infow("starting to transcribe", "participant", rp.Identity(), "language", language.Code)
	adaptationPhrases := append(append([]string{}, meeting.GreetingWords...), meeting.NameWords...)
	transcriber, err := transcribe.New(track, a.backends.STT, stt.StreamConfig{
		Language:          language,
		AdaptationPhrases: adaptationPhrases,
	})
	if err != nil {
		logger.Errorw("failed to create transcriber", err, "participant", rp.SID())
		return
	}

	a.mu.Lock()
	a.transcribers[rp.SID()] = transcriber
	a.mu.Unlock()

	go transcriber.Start(a.ctx)
	go func() {
		for result := range transcriber.Results() {
			a.onTranscriptionReceived(result, rp, language)
		}
	}()
}

func (a *Agent) trackUnsubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	a.mu.Lock()
	transcriber, ok := a.transcribers[rp.SID()]
	if ok {
		delete(a.transcribers, rp.SID())
	}
	a.mu.Unlock()

	if ok {
		transcriber.Close()
	}
}

func (a *Agent) participantConnected(rp *lksdk.RemoteParticipant) {
	a.memory.AppendPresence(&meeting.PresenceEvent{
		ParticipantName: rp.Identity(),
		Joined:          true,
		At:              time.Now(),
	})
}

func (a *Agent) participantDisconnected(rp *lksdk.RemoteParticipant) {
	a.memory.AppendPresence(&meeting.PresenceEvent{
		ParticipantName: rp.Identity(),
		Joined:          false,
		At:              time.Now(),
	})

	if len(a.room.GetParticipants()) == 0 {
		a.Disconnect()
	}
}

func (a *Agent) disconnected() {
	a.Disconnect()
}

func participantLanguage(rp *lksdk.RemoteParticipant) *meeting.Language {
	metadata := meeting.ParticipantMetadata{}
	if rp.Metadata() != "" {
		if err := json.Unmarshal([]byte(rp.Metadata()), &metadata); err != nil {
			logger.Warnw("error unmarshalling participant metadata", err)
		}
	}
	return meeting.LookupLanguage(metadata.LanguageCode)
}

// onTranscriptionReceived is called for every interim and final result a
// participant's transcriber produces. Every result is broadcast as a
// transcript packet regardless of activation state; only final results
// that pass the activation policy trigger an answer turn.
func (a *Agent) onTranscriptionReceived(result meeting.RecognizeResult, rp *lksdk.RemoteParticipant, language *meeting.Language) {
	if result.Error != nil {
		a.sendError(fmt.Sprintf("Sorry, an error occurred while transcribing %s's speech", rp.Identity()))
		return
	}

	a.sendPacket(meeting.PacketTranscript, meeting.TranscriptPayload{
		SID:     rp.SID(),
		Name:    rp.Name(),
		Text:    result.Text,
		IsFinal: result.IsFinal,
	})

	shouldAnswer := a.controller.Evaluate(rp.SID(), result.Text, result.IsFinal)
	if !shouldAnswer {
		return
	}

	prompt := &meeting.SpeechEvent{ParticipantName: rp.Identity(), Text: result.Text}
	history := a.memory.Snapshot()
	a.memory.AppendSpeech(rp.Identity(), false, result.Text)

	if !a.controller.TryBeginTurn() {
		return
	}

	go func() {
		defer a.controller.EndTurn()
		a.sendState(meeting.StateLoading)
		metrics.TurnsStarted.Add(1)

		logger.Debugw("answering", "participant", rp.SID(), "text", result.Text)
		answer, err := a.answer(history, prompt, language)
		if err != nil {
			logger.Errorw("failed to answer", err, "participant", rp.SID())
			a.sendState(meeting.StateIdle)
			return
		}
		metrics.TurnsCompleted.Add(1)

		if strings.HasSuffix(answer, "?") {
			a.controller.Reactivate(rp.SID())
		} else {
			a.sendState(meeting.StateIdle)
		}

		a.memory.AppendSpeech(meeting.BotIdentity, true, answer)
	}()
}

// answer streams a chat completion for prompt given history, synthesizing
// and queueing each sentence-sized chunk onto the outbound track in
// order as soon as it's ready — ordering is enforced by a chain of
// per-chunk predecessor channels, not by synthesis order.
func (a *Agent) answer(history []*meeting.MeetingEvent, prompt *meeting.SpeechEvent, language *meeting.Language) (string, error) {
	messages := a.buildMessages(history, prompt, language)

	deltaStream, err := a.backends.LLM.ChatStream(a.ctx, messages)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", nil
		}
		a.sendError("Sorry, an error occurred while talking to the language model.")
		return "", err
	}
	sentences := llm.NewSentenceStream(deltaStream)
	defer sentences.Close()

	var previous chan struct{}
	var wg sync.WaitGroup

	a.track.OnComplete(func(err error) {
		wg.Done()
	})

	turnStart := time.Now()
	var firstSentenceOnce sync.Once

	var full strings.Builder
	for {
		sentence, err := sentences.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				break
			}
			a.sendError("Sorry, an error occurred while talking to the language model.")
			return "", err
		}

		trimmed, sentenceLanguage := llm.ParseLanguagePrefix(sentence, language)
		full.WriteString(trimmed)
		full.WriteString(" ")

		prior := previous
		current := make(chan struct{})

		wg.Add(1)
		go func(text string, lang *meeting.Language) {
			defer close(current)
			defer wg.Done()

			logger.Debugw("synthesizing", "sentence", text)
			audio, err := a.backends.TTS.Synthesize(a.ctx, text, lang)
			if err != nil {
				logger.Errorw("failed to synthesize", err, "sentence", text)
				a.sendError("Sorry, an error occurred while synthesizing speech.")
				return
			}

			if prior != nil {
				<-prior
			}

			if err := a.track.QueueReader(bytes.NewReader(audio)); err != nil {
				logger.Errorw("failed to queue synthesized audio", err, "sentence", text)
				return
			}
			firstSentenceOnce.Do(func() {
				metrics.ObserveFirstSentenceLatency(time.Since(turnStart))
			})

			a.sendState(meeting.StateSpeaking)
			wg.Add(1)
		}(trimmed, sentenceLanguage)

		previous = current
	}

	wg.Wait()
	return strings.TrimSpace(full.String()), nil
}

// buildMessages renders the system preamble (identity, roster, language,
// date), the conversation history (speech turns tagged with who said
// them, presence events as system notes), and the triggering prompt.
func (a *Agent) buildMessages(history []*meeting.MeetingEvent, prompt *meeting.SpeechEvent, language *meeting.Language) []llm.Message {
	messages := []llm.Message{{
		Role:    llm.RoleSystem,
		Content: a.systemPreamble(language),
	}}

	for _, event := range history {
		switch {
		case event.Speech != nil:
			messages = append(messages, speechMessage(event.Speech))
		case event.Presence != nil:
			messages = append(messages, presenceMessage(event.Presence))
		}
	}

	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: prompt.ParticipantName + ": " + prompt.Text,
	})
	return messages
}

// systemPreamble names the bot, the room's current participants and
// language, and today's date, and instructs the model to end interrogative
// answers with a question mark so the activation auto-follow rule
// (Controller.Reactivate) has something to trigger on.
func (a *Agent) systemPreamble(language *meeting.Language) string {
	roster := strings.Join(a.participantRoster(), ", ")
	if roster == "" {
		roster = "(no other participants)"
	}
	return fmt.Sprintf(
		"You are %s, a helpful voice assistant participating in a live meeting. "+
			"Answer with multiple small or medium sentences, each ending in proper "+
			"punctuation; end any interrogative answer with a question mark. "+
			"Current participants: %s. Current language: %s. Today's date is %s.",
		meeting.BotIdentity, roster, language.Label, time.Now().Format("January 2, 2006"),
	)
}

func (a *Agent) participantRoster() []string {
	participants := a.room.GetParticipants()
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		names = append(names, p.Identity())
	}
	return names
}

func speechMessage(speech *meeting.SpeechEvent) llm.Message {
	if speech.IsBot {
		return llm.Message{Role: llm.RoleAssistant, Content: speech.Text}
	}
	return llm.Message{Role: llm.RoleUser, Content: speech.ParticipantName + ": " + speech.Text}
}

func presenceMessage(presence *meeting.PresenceEvent) llm.Message {
	verb := "left"
	if presence.Joined {
		verb = "joined"
	}
	return llm.Message{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf("%s %s the meeting.", presence.ParticipantName, verb),
	}
}

func (a *Agent) sendPacket(t meeting.PacketType, data interface{}) {
	payload, err := json.Marshal(meeting.Packet{Type: t, Data: data})
	if err != nil {
		logger.Errorw("failed to marshal packet", err)
		return
	}
	if err := a.room.LocalParticipant.PublishData(payload, livekit.DataPacket_RELIABLE, []string{}); err != nil {
		logger.Errorw("failed to publish packet", err)
	}
}

func (a *Agent) sendState(state meeting.State) {
	a.sendPacket(meeting.PacketState, meeting.StatePayload{State: state})
}

func (a *Agent) sendError(message string) {
	a.sendPacket(meeting.PacketError, meeting.ErrorPayload{Message: message})
}
