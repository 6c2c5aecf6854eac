// Package meeting holds the data shared by every component of a room
// agent: the language table, the append-only event log, recognizer
// results, and the activation state machine that decides when the agent
// should speak.
package meeting

import "time"

// Language describes one supported locale: its BCP-47 code, the label
// shown to users, the STT code to request from the transcription
// provider, and the synthesizer voice to speak with.
type Language struct {
	Code             string
	Label            string
	STTCode          string
	SynthesizerVoice string
}

// Languages is the initial supported set. cmn-CN intentionally maps to
// the STT code "zh" rather than reusing its own BCP-47 code.
var Languages = map[string]*Language{
	"en-US": {Code: "en-US", Label: "English", STTCode: "en-US", SynthesizerVoice: "en-US-Wavenet-D"},
	"fr-FR": {Code: "fr-FR", Label: "Français", STTCode: "fr-FR", SynthesizerVoice: "fr-FR-Wavenet-B"},
	"de-DE": {Code: "de-DE", Label: "Deutsch", STTCode: "de-DE", SynthesizerVoice: "de-DE-Wavenet-B"},
	"ja-JP": {Code: "ja-JP", Label: "日本語", STTCode: "ja-JP", SynthesizerVoice: "ja-JP-Wavenet-C"},
	"cmn-CN": {Code: "cmn-CN", Label: "中文", STTCode: "zh", SynthesizerVoice: "cmn-CN-Wavenet-C"},
	"es-ES": {Code: "es-ES", Label: "Español", STTCode: "es-ES", SynthesizerVoice: "es-ES-Wavenet-B"},
}

// DefaultLanguage is used when a participant's metadata names no
// recognized language code.
var DefaultLanguage = Languages["en-US"]

// LookupLanguage returns the language for code, or DefaultLanguage if
// code is unrecognized or empty.
func LookupLanguage(code string) *Language {
	if lang, ok := Languages[code]; ok {
		return lang
	}
	return DefaultLanguage
}

// SpeechEvent is one turn of speech, by a human participant or the bot.
type SpeechEvent struct {
	ParticipantName string
	IsBot           bool
	Text            string
}

// PresenceEvent marks a participant joining or leaving the room.
type PresenceEvent struct {
	ParticipantName string
	Joined          bool
	At              time.Time
}

// MeetingEvent is one entry of the conversation log. Exactly one of
// Speech or Presence is set.
type MeetingEvent struct {
	Speech   *SpeechEvent
	Presence *PresenceEvent
}

// RecognizeResult is one update from a Transcriber: either a transcript
// fragment (interim or final) or a terminal error.
type RecognizeResult struct {
	Text    string
	IsFinal bool
	Error   error
}

// ActiveSpeaker names the participant the agent is currently listening
// to exclusively, guarded by a monotonically increasing epoch so a
// scheduled watchdog can detect it has been superseded.
type ActiveSpeaker struct {
	ParticipantID  string
	Epoch          uint64
	LastActivityAt time.Time
}

// PacketType is the discriminant of the data-channel envelope (§6).
type PacketType int32

const (
	PacketTranscript PacketType = 0
	PacketState      PacketType = 1
	PacketError      PacketType = 2
)

// State is the lifecycle state broadcast in a PacketState payload.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateSpeaking
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StateSpeaking:
		return "Speaking"
	case StateActive:
		return "Active"
	default:
		return "Unknown"
	}
}

// Packet is the JSON envelope published on the room's reliable data
// channel: { "type": <0|1|2>, "data": <object> }.
type Packet struct {
	Type PacketType  `json:"type"`
	Data interface{} `json:"data"`
}

// TranscriptPayload is the Data field of a PacketTranscript.
type TranscriptPayload struct {
	SID     string `json:"sid"`
	Name    string `json:"name"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// StatePayload is the Data field of a PacketState.
type StatePayload struct {
	State State `json:"state"`
}

// ErrorPayload is the Data field of a PacketError.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ParticipantMetadata is the JSON shape of a remote participant's
// metadata field, used to pick their preferred language.
type ParticipantMetadata struct {
	LanguageCode string `json:"languageCode,omitempty"`
}

// BotIdentity is the participant identity and display name the agent
// joins rooms as. Subscription logic must ignore tracks published by it.
const BotIdentity = "KITT"
