/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Multiplayer lobbies
//
// A signed-in user creates a lobby and receives an 8-digit code to share,
// plus a creator token. Players connect to /lobby/:code/ws with their bearer
// token, pick a display name, and wait while the creator chooses the atlas
// and game parameters. The creator then launches the game for everyone.
//
// - One hub goroutine per lobby; all lobby state is guarded by the hub mutex
// - Only the creator may change parameters; atlases are checked against the registry
// - launch-game requires the creator token returned at creation time
// - Disconnected players are dropped after --player-timeout unless they reconnect
// - Idle lobbies are reaped after --lobby-timeout
// - /lobby/:code/qr renders a QR code of the lobby URL with go-qrcode

package main

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/neuroguessr/game"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	defaultRegionsNumber     = 15
	defaultDurationPerRegion = 15
	defaultGameoverOnError   = false

	maxRegionsNumber     = 100
	maxDurationPerRegion = 600
)

// LobbyParameters are the settings the creator picks for a multiplayer game.
type LobbyParameters struct {
	Atlas             string `json:"atlas,omitempty"`
	RegionsNumber     int    `json:"regionsNumber"`
	DurationPerRegion int    `json:"durationPerRegion"`
	GameoverOnError   bool   `json:"gameoverOnError"`
}

// ParameterUpdate carries the fields to change; nil fields are kept.
type ParameterUpdate struct {
	Atlas             *string `json:"atlas,omitempty"`
	RegionsNumber     *int    `json:"regionsNumber,omitempty"`
	DurationPerRegion *int    `json:"durationPerRegion,omitempty"`
	GameoverOnError   *bool   `json:"gameoverOnError,omitempty"`
}

// Messages coming from clients
type LobbyClientMessage struct {
	Type         string           `json:"type"`                   // "join", "update-parameters", "launch-game"
	Username     string           `json:"username,omitempty"`     // join
	Parameters   *ParameterUpdate `json:"parameters,omitempty"`   // update-parameters
	SessionToken string           `json:"sessionToken,omitempty"` // launch-game
}

// Messages sent to clients
type LobbyUsersMessage struct {
	Type  string   `json:"type"` // "lobby-users"
	Users []string `json:"users"`
}

type ParametersMessage struct {
	Type       string          `json:"type"` // "parameters-updated", "game-start"
	Parameters LobbyParameters `json:"parameters"`
}

type PlayerMessage struct {
	Type     string `json:"type"` // "player-joined", "player-left"
	UserName string `json:"userName"`
}

type LobbyErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type lobbyPlayer struct {
	userID   string
	username string
}

type lobbyClient struct {
	conn   *websocket.Conn
	send   chan any
	userID string
}

type lobbyCommand struct {
	client *lobbyClient
	msg    LobbyClientMessage
}

type Lobby struct {
	code         string
	creatorID    string
	creatorToken string
	atlases      game.Atlases

	clients map[*lobbyClient]bool
	players []lobbyPlayer
	params  LobbyParameters
	started bool

	register chan *lobbyClient
	unreg    chan *lobbyClient
	commands chan lobbyCommand
	done     chan struct{}

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
}

func newLobby(code, creatorID, creatorToken string, atlases game.Atlases) *Lobby {
	now := time.Now()
	return &Lobby{
		code:         code,
		creatorID:    creatorID,
		creatorToken: creatorToken,
		atlases:      atlases,
		clients:      make(map[*lobbyClient]bool),
		params: LobbyParameters{
			RegionsNumber:     defaultRegionsNumber,
			DurationPerRegion: defaultDurationPerRegion,
			GameoverOnError:   defaultGameoverOnError,
		},
		register:   make(chan *lobbyClient),
		unreg:      make(chan *lobbyClient),
		commands:   make(chan lobbyCommand),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

func (l *Lobby) run(cfg *Config) {
	for {
		select {
		case c := <-l.register:
			l.mu.Lock()
			l.lastActive = time.Now()
			l.clients[c] = true
			l.mu.Unlock()

		case c := <-l.unreg:
			l.mu.Lock()
			l.lastActive = time.Now()

			if _, ok := l.clients[c]; ok {
				delete(l.clients, c)
				close(c.send)
			}
			l.mu.Unlock()

			go l.scheduleRemoval(cfg, c.userID, cfg.playerTimeout)

		case cmd := <-l.commands:
			switch cmd.msg.Type {
			case "join":
				l.handleJoin(cfg, cmd)
			case "update-parameters":
				l.handleParameters(cfg, cmd)
			case "launch-game":
				l.handleLaunch(cfg, cmd)
			}

		case <-l.done:
			return
		}
	}
}

func (l *Lobby) sendLocked(c *lobbyClient, msg any) {
	if _, ok := l.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(l.clients, c)
		close(c.send)
	}
}

func (l *Lobby) broadcastLocked(msg any, except *lobbyClient) {
	for c := range l.clients {
		if c == except {
			continue
		}
		l.sendLocked(c, msg)
	}
}

func (l *Lobby) errorLocked(c *lobbyClient, text string) {
	l.sendLocked(c, LobbyErrorMessage{Type: "error", Message: text})
}

func (l *Lobby) usersLocked() []string {
	users := make([]string, 0, len(l.players))
	for _, p := range l.players {
		users = append(users, p.username)
	}
	return users
}

func (l *Lobby) playerIndexLocked(userID string) int {
	for i, p := range l.players {
		if p.userID == userID {
			return i
		}
	}
	return -1
}

func (l *Lobby) handleJoin(cfg *Config, cmd lobbyCommand) {
	c := cmd.client
	name := strings.TrimSpace(cmd.msg.Username)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastActive = time.Now()

	if name == "" {
		l.errorLocked(c, "A username is required.")
		return
	}

	existing := l.playerIndexLocked(c.userID)

	if l.started && existing == -1 {
		l.errorLocked(c, "The game has already started.")
		return
	}

	for _, p := range l.players {
		if p.userID != c.userID && p.username == name {
			l.errorLocked(c, "That username is already taken. Please choose a different username.")
			return
		}
	}

	if existing >= 0 {
		l.players[existing].username = name
	} else {
		l.players = append(l.players, lobbyPlayer{userID: c.userID, username: name})
		logf(cfg, "LOBBY: Player %q joined %s", name, l.code)
	}

	l.sendLocked(c, LobbyUsersMessage{Type: "lobby-users", Users: l.usersLocked()})
	l.sendLocked(c, ParametersMessage{Type: "parameters-updated", Parameters: l.params})

	if existing == -1 {
		l.broadcastLocked(PlayerMessage{Type: "player-joined", UserName: name}, c)
	}
}

// apply merges u into p, rejecting values the game cannot be played with.
func (u *ParameterUpdate) apply(p LobbyParameters, atlases game.Atlases) (LobbyParameters, error) {
	if u.Atlas != nil {
		if _, ok := atlases.Lookup(*u.Atlas); !ok {
			return p, fmt.Errorf("unknown atlas %q", *u.Atlas)
		}
		p.Atlas = *u.Atlas
	}
	if u.RegionsNumber != nil {
		if *u.RegionsNumber < 1 || *u.RegionsNumber > maxRegionsNumber {
			return p, fmt.Errorf("regionsNumber must be between 1 and %d", maxRegionsNumber)
		}
		p.RegionsNumber = *u.RegionsNumber
	}
	if u.DurationPerRegion != nil {
		if *u.DurationPerRegion < 1 || *u.DurationPerRegion > maxDurationPerRegion {
			return p, fmt.Errorf("durationPerRegion must be between 1 and %d", maxDurationPerRegion)
		}
		p.DurationPerRegion = *u.DurationPerRegion
	}
	if u.GameoverOnError != nil {
		p.GameoverOnError = *u.GameoverOnError
	}

	return p, nil
}

func (l *Lobby) handleParameters(cfg *Config, cmd lobbyCommand) {
	c := cmd.client

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastActive = time.Now()

	switch {
	case l.playerIndexLocked(c.userID) == -1:
		l.errorLocked(c, "You are not in the lobby.")
		return
	case c.userID != l.creatorID:
		l.errorLocked(c, "Only the lobby creator can change the parameters.")
		return
	case l.started:
		l.errorLocked(c, "The game has already started.")
		return
	case cmd.msg.Parameters == nil:
		l.errorLocked(c, "No parameters given.")
		return
	}

	params, err := cmd.msg.Parameters.apply(l.params, l.atlases)
	if err != nil {
		l.errorLocked(c, err.Error())
		return
	}
	l.params = params

	logf(cfg, "LOBBY: Parameters of %s set to %+v", l.code, params)

	l.broadcastLocked(ParametersMessage{Type: "parameters-updated", Parameters: l.params}, nil)
}

func (l *Lobby) handleLaunch(cfg *Config, cmd lobbyCommand) {
	c := cmd.client

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastActive = time.Now()

	switch {
	case l.playerIndexLocked(c.userID) == -1:
		l.errorLocked(c, "You are not in the lobby.")
		return
	case !tokensMatch(l.creatorToken, cmd.msg.SessionToken):
		l.errorLocked(c, "Invalid session token for this lobby.")
		return
	case l.params.Atlas == "":
		l.errorLocked(c, "Choose an atlas before launching the game.")
		return
	case l.started:
		l.errorLocked(c, "The game has already started.")
		return
	}

	l.started = true

	logf(cfg, "LOBBY: Launched %s with %d players", l.code, len(l.players))

	l.broadcastLocked(ParametersMessage{Type: "game-start", Parameters: l.params}, nil)
}

func (l *Lobby) scheduleRemoval(cfg *Config, userID string, d time.Duration) {
	time.Sleep(d)

	l.mu.Lock()
	defer l.mu.Unlock()

	for c := range l.clients {
		if c.userID == userID {
			return
		}
	}

	i := l.playerIndexLocked(userID)
	if i == -1 {
		return
	}

	name := l.players[i].username
	l.players = append(l.players[:i], l.players[i+1:]...)
	l.lastActive = time.Now()

	logf(cfg, "LOBBY: Player %q left %s", name, l.code)

	l.broadcastLocked(PlayerMessage{Type: "player-left", UserName: name}, nil)
	l.broadcastLocked(LobbyUsersMessage{Type: "lobby-users", Users: l.usersLocked()}, nil)
}

// closeAll disconnects every client and stops the hub.
func (l *Lobby) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return
	default:
		close(l.done)
	}

	for c := range l.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(l.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// lobbyManager holds the open lobbies keyed by code.
type lobbyManager struct {
	mu          sync.Mutex
	lobbies     map[string]*Lobby
	idleTimeout time.Duration
	atlases     game.Atlases
}

func newLobbyManager(idleTimeout time.Duration, atlases game.Atlases) *lobbyManager {
	lm := &lobbyManager{
		lobbies:     make(map[string]*Lobby),
		idleTimeout: idleTimeout,
		atlases:     atlases,
	}
	if idleTimeout > 0 {
		go lm.reaperLoop()
	}
	return lm
}

// newCodeLocked returns a random 8-digit code not used by an open lobby. The
// caller must hold lm.mu.
func (lm *lobbyManager) newCodeLocked() (string, error) {
	span := big.NewInt(90000000)
	for {
		n, err := rand.Int(rand.Reader, span)
		if err != nil {
			return "", err
		}

		code := fmt.Sprintf("%d", 10000000+n.Int64())
		if _, exists := lm.lobbies[code]; !exists {
			return code, nil
		}
	}
}

func (lm *lobbyManager) create(cfg *Config, tokens *auth, creatorID string) (*Lobby, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	code, err := lm.newCodeLocked()
	if err != nil {
		return nil, fmt.Errorf("generate lobby code: %w", err)
	}

	token, err := tokens.issueLobby(creatorID, code, time.Now())
	if err != nil {
		return nil, err
	}

	l := newLobby(code, creatorID, token, lm.atlases)
	lm.lobbies[code] = l
	go l.run(cfg)

	return l, nil
}

func (lm *lobbyManager) get(code string) (*Lobby, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.lobbies[code]
	return l, ok
}

// reap closes lobbies idle since before cutoff and returns their codes.
func (lm *lobbyManager) reap(cutoff time.Time) []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var reaped []string
	for code, l := range lm.lobbies {
		l.mu.RLock()
		last := l.lastActive
		l.mu.RUnlock()

		if last.Before(cutoff) {
			delete(lm.lobbies, code)
			reaped = append(reaped, code)
			go l.closeAll()
		}
	}

	return reaped
}

func (lm *lobbyManager) reaperLoop() {
	ticker := time.NewTicker(lm.idleTimeout / 2)
	for range ticker.C {
		lm.reap(time.Now().Add(-lm.idleTimeout))
	}
}

type createLobbyResponse struct {
	SessionCode  string `json:"sessionCode"`
	SessionToken string `json:"sessionToken"`
}

func serveCreateLobby(cfg *Config, lm *lobbyManager, tokens *auth, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		userID := userFrom(r.Context())

		l, err := lm.create(cfg, tokens, userID)
		if err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		logf(cfg, "LOBBY: Created %s for %q", l.code, userID)

		reply(cfg, w, r, errs, createLobbyResponse{
			SessionCode:  l.code,
			SessionToken: l.creatorToken,
		}, "Lobby creation", startTime)
	}
}

func serveLobbyPage(cfg *Config, lm *lobbyManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		l, ok := lm.get(code)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage("Lobby not found", "This lobby does not exist or has expired.")))
			return
		}

		l.mu.RLock()
		players := len(l.players)
		l.mu.RUnlock()

		_, err := w.Write([]byte(newPage("neuroguessr lobby "+code,
			fmt.Sprintf("Lobby %s: %d players waiting. Open neuroguessr and join with this code.", code, players))))
		if err != nil {
			errs <- err
		}
	}
}

// serveLobbyWS authenticates with ?token= since browsers cannot set headers
// on websocket requests.
func serveLobbyWS(cfg *Config, lm *lobbyManager, tokens *auth) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			raw = bearerToken(r)
		}

		userID, err := tokens.verify(raw)
		if err != nil {
			http.Error(w, errInvalidToken.Error(), http.StatusUnauthorized)
			return
		}

		l, ok := lm.get(ps.ByName("code"))
		if !ok {
			http.Error(w, "lobby does not exist", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Websocket upgrade for %s: %v", realIP(r), err)
			return
		}
		conn.SetReadLimit(maxBodySize)

		client := &lobbyClient{
			conn:   conn,
			send:   make(chan any, 16),
			userID: userID,
		}

		select {
		case l.register <- client:
		case <-l.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(l)
	}
}

func (c *lobbyClient) readPump(l *Lobby) {
	defer func() {
		select {
		case l.unreg <- c:
		case <-l.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg LobbyClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join", "update-parameters", "launch-game":
			select {
			case l.commands <- lobbyCommand{client: c, msg: msg}:
			case <-l.done:
				return
			}
		}
	}
}

func (c *lobbyClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveLobbyQR renders a PNG QR code pointing at the lobby page.
func serveLobbyQR(cfg *Config, lm *lobbyManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if _, ok := lm.get(ps.ByName("code")); !ok {
			http.Error(w, "lobby does not exist", http.StatusNotFound)
			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		if _, err := w.Write(png); err != nil {
			errs <- err
		}
	}
}

// registerLobbies sets up routes so that:
//   - POST /api/multiplayer/create → new lobby code and creator token
//   - /lobby/:code                 → lobby page
//   - /lobby/:code/ws              → websocket for that lobby
//   - /lobby/:code/qr              → PNG QR code of the lobby page
func registerLobbies(cfg *Config, mux *httprouter.Router, lm *lobbyManager, tokens *auth, errs chan<- error) {
	mux.POST(cfg.prefix+"/api/multiplayer/create", requireUser(cfg, tokens, serveCreateLobby(cfg, lm, tokens, errs)))

	mux.GET(cfg.prefix+"/lobby/:code", serveLobbyPage(cfg, lm, errs))
	mux.GET(cfg.prefix+"/lobby/:code/ws", serveLobbyWS(cfg, lm, tokens))
	mux.GET(cfg.prefix+"/lobby/:code/qr", serveLobbyQR(cfg, lm, errs))
}
