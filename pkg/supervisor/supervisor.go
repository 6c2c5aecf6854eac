// Package supervisor runs the HTTP surface that brings agents into
// rooms: a LiveKit webhook listener, a direct-join endpoint, and a
// health check, and tracks one Agent per occupied room.
package supervisor

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/webhook"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/urfave/negroni"

	"github.com/livekit-examples/kitt/pkg/agent"
	"github.com/livekit-examples/kitt/pkg/config"
	"github.com/livekit-examples/kitt/pkg/meeting"
	"github.com/livekit-examples/kitt/pkg/metrics"
)

// shutdownTimeout bounds how long Start waits for the HTTP server to
// drain in-flight requests before returning (§4.8).
const shutdownTimeout = 5 * time.Second

// Supervisor owns the webhook/direct-join HTTP surface and the table of
// agents currently occupying rooms, one per room.
type Supervisor struct {
	conf        *config.Config
	roomService *lksdk.RoomServiceClient
	keyProvider *auth.SimpleKeyProvider
	backends    agent.Backends

	httpServer *http.Server
	doneChan   chan struct{}
	closedChan chan struct{}

	mu     sync.Mutex
	agents map[string]*agent.Agent // keyed by room SID
}

// New builds a Supervisor bound to conf's LiveKit project, dispatching
// newly joined agents with backends.
func New(conf *config.Config, backends agent.Backends) *Supervisor {
	return &Supervisor{
		conf:        conf,
		roomService: lksdk.NewRoomServiceClient(conf.LiveKit.URL, conf.LiveKit.APIKey, conf.LiveKit.SecretKey),
		keyProvider: auth.NewSimpleKeyProvider(conf.LiveKit.APIKey, conf.LiveKit.SecretKey),
		backends:    backends,
		doneChan:    make(chan struct{}),
		closedChan:  make(chan struct{}),
		agents:      make(map[string]*agent.Agent),
	}
}

// Start blocks serving HTTP until Stop is called, then drains and
// returns.
func (s *Supervisor) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/join/", s.directJoinHandler)
	mux.HandleFunc("/", s.healthCheckHandler)
	mux.Handle("/metrics", expvar.Handler())

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(mux)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.conf.Port),
		Handler: n,
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	go func() {
		logger.Infow("starting server", "port", s.conf.Port)
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			logger.Errorw("error starting server", err)
			s.Stop()
		}
	}()

	<-s.doneChan

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)

	close(s.closedChan)
	return nil
}

// Stop signals Start to shut down and blocks until it has drained.
func (s *Supervisor) Stop() {
	close(s.doneChan)
	<-s.closedChan
}

// webhookHandler reacts to LiveKit room webhooks: it connects an agent
// on the first human's participant_joined, and disconnects it once the
// room empties out on participant_left.
func (s *Supervisor) webhookHandler(w http.ResponseWriter, req *http.Request) {
	event, err := webhook.ReceiveWebhookEvent(req, s.keyProvider)
	if err != nil {
		logger.Errorw("error receiving webhook event", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Event {
	case webhook.EventParticipantJoined:
		if event.Participant.Identity == meeting.BotIdentity {
			return
		}

		s.mu.Lock()
		if _, ok := s.agents[event.Room.Sid]; ok {
			s.mu.Unlock()
			logger.Infow("agent already connected", "room", event.Room.Name)
			return
		}
		s.agents[event.Room.Sid] = nil // claim the slot before releasing the lock
		s.mu.Unlock()

		metadata := meeting.ParticipantMetadata{}
		if event.Participant.Metadata != "" {
			if err := json.Unmarshal([]byte(event.Participant.Metadata), &metadata); err != nil {
				logger.Errorw("error unmarshalling participant metadata", err)
			}
		}

		jwt, err := s.mintBotToken(event.Room.Name)
		if err != nil {
			logger.Errorw("error creating bot token", err)
			s.removeAgentSlot(event.Room.Sid)
			return
		}

		logger.Infow("connecting agent", "room", event.Room.Name)
		a, err := agent.Connect(s.conf.LiveKit.URL, jwt, s.backends)
		if err != nil {
			logger.Errorw("error connecting agent", err, "room", event.Room.Name)
			s.removeAgentSlot(event.Room.Sid)
			return
		}

		roomSid := event.Room.Sid
		a.OnDisconnect(func() { s.removeAgentSlot(roomSid) })
		metrics.ActiveRooms.Add(1)

		s.mu.Lock()
		s.agents[roomSid] = a
		s.mu.Unlock()

	case webhook.EventParticipantLeft:
		if event.Room.NumParticipants > 1 {
			return
		}

		s.mu.Lock()
		a, ok := s.agents[event.Room.Sid]
		s.mu.Unlock()
		if ok && a != nil {
			logger.Infow("disconnecting agent", "room", event.Room.Name)
			a.Disconnect()
		}
	}
}

// directJoinHandler lets an operator dispatch an agent into a named
// room without waiting for a webhook, e.g. POST /join/my-room. The room
// must already exist on the SFU: 404 if it doesn't, 500 on a lookup
// failure, 405 for anything but POST.
func (s *Supervisor) directJoinHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	roomName := req.URL.Path[len("/join/"):]
	if roomName == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	rooms, err := s.roomService.ListRooms(req.Context(), &livekit.ListRoomsRequest{Names: []string{roomName}})
	if err != nil {
		logger.Errorw("error looking up room", err, "room", roomName)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if len(rooms.Rooms) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	roomSid := rooms.Rooms[0].Sid
	s.mu.Lock()
	if _, ok := s.agents[roomSid]; ok {
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Success"))
		return
	}
	s.agents[roomSid] = nil // claim the slot before releasing the lock
	s.mu.Unlock()

	jwt, err := s.mintBotToken(roomName)
	if err != nil {
		logger.Errorw("error creating bot token", err, "room", roomName)
		s.removeAgentSlot(roomSid)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	a, err := agent.Connect(s.conf.LiveKit.URL, jwt, s.backends)
	if err != nil {
		logger.Errorw("error connecting agent", err, "room", roomName)
		s.removeAgentSlot(roomSid)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	a.OnDisconnect(func() { s.removeAgentSlot(roomSid) })
	metrics.ActiveRooms.Add(1)

	s.mu.Lock()
	s.agents[roomSid] = a
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Success"))
}

func (s *Supervisor) healthCheckHandler(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Supervisor) mintBotToken(roomName string) (string, error) {
	token := s.roomService.CreateToken().
		SetIdentity(meeting.BotIdentity).
		AddGrant(&auth.VideoGrant{
			Room:     roomName,
			RoomJoin: true,
		})
	return token.ToJWT()
}

func (s *Supervisor) removeAgentSlot(key string) {
	s.mu.Lock()
	a, ok := s.agents[key]
	delete(s.agents, key)
	s.mu.Unlock()

	if ok && a != nil {
		metrics.ActiveRooms.Add(-1)
	}
}
