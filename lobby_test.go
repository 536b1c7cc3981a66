/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type       string          `json:"type"`
	Users      []string        `json:"users"`
	UserName   string          `json:"userName"`
	Message    string          `json:"message"`
	Parameters LobbyParameters `json:"parameters"`
}

func dialLobby(t *testing.T, srv *httptest.Server, code, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/lobby/" + code + "/ws?token=" + token

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", code, err, status)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()

	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expect(t *testing.T, conn *websocket.Conn, typ string) wsMessage {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("waiting for %s: %v", typ, err)
	}
	if msg.Type != typ {
		t.Fatalf("got %+v, want type %s", msg, typ)
	}

	return msg
}

func createLobby(t *testing.T, e *testEnv, token string) createLobbyResponse {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/multiplayer/create", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create lobby: status %d: %s", rec.Code, rec.Body)
	}

	return decode[createLobbyResponse](t, rec)
}

func TestCreateLobby(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(t, "ann")

	a := createLobby(t, e, tok)
	b := createLobby(t, e, tok)

	code := regexp.MustCompile(`^[1-9][0-9]{7}$`)
	for _, l := range []createLobbyResponse{a, b} {
		if !code.MatchString(l.SessionCode) {
			t.Fatalf("code %q is not 8 digits", l.SessionCode)
		}
		if l.SessionToken == "" {
			t.Fatalf("no creator token for %s", l.SessionCode)
		}
	}
	if a.SessionCode == b.SessionCode {
		t.Fatalf("both lobbies got code %s", a.SessionCode)
	}
}

func TestLobbyFlow(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	annTok, bobTok := e.token(t, "ann"), e.token(t, "bob")
	lobby := createLobby(t, e, annTok)

	ann := dialLobby(t, srv, lobby.SessionCode, annTok)
	send(t, ann, LobbyClientMessage{Type: "join", Username: "Ann"})

	users := expect(t, ann, "lobby-users")
	if len(users.Users) != 1 || users.Users[0] != "Ann" {
		t.Fatalf("users = %v", users.Users)
	}
	params := expect(t, ann, "parameters-updated").Parameters
	want := LobbyParameters{RegionsNumber: 15, DurationPerRegion: 15}
	if params != want {
		t.Fatalf("default parameters = %+v, want %+v", params, want)
	}

	bob := dialLobby(t, srv, lobby.SessionCode, bobTok)

	send(t, bob, LobbyClientMessage{Type: "join", Username: "Ann"})
	expect(t, bob, "error")

	send(t, bob, LobbyClientMessage{Type: "join", Username: "Bob"})
	if users := expect(t, bob, "lobby-users"); len(users.Users) != 2 {
		t.Fatalf("users = %v", users.Users)
	}
	expect(t, bob, "parameters-updated")
	if joined := expect(t, ann, "player-joined"); joined.UserName != "Bob" {
		t.Fatalf("joined = %+v", joined)
	}

	small, regions := "small", 5

	send(t, bob, LobbyClientMessage{Type: "update-parameters", Parameters: &ParameterUpdate{Atlas: &small}})
	expect(t, bob, "error")

	unknown := "nope"
	send(t, ann, LobbyClientMessage{Type: "update-parameters", Parameters: &ParameterUpdate{Atlas: &unknown}})
	expect(t, ann, "error")

	send(t, ann, LobbyClientMessage{Type: "update-parameters", Parameters: &ParameterUpdate{Atlas: &small, RegionsNumber: &regions}})
	want = LobbyParameters{Atlas: "small", RegionsNumber: 5, DurationPerRegion: 15}
	for _, conn := range []*websocket.Conn{ann, bob} {
		if got := expect(t, conn, "parameters-updated").Parameters; got != want {
			t.Fatalf("parameters = %+v, want %+v", got, want)
		}
	}

	send(t, bob, LobbyClientMessage{Type: "launch-game", SessionToken: "forged"})
	expect(t, bob, "error")

	send(t, ann, LobbyClientMessage{Type: "launch-game", SessionToken: lobby.SessionToken})
	for _, conn := range []*websocket.Conn{ann, bob} {
		if got := expect(t, conn, "game-start").Parameters; got != want {
			t.Fatalf("game-start parameters = %+v", got)
		}
	}

	bob.Close()
	if left := expect(t, ann, "player-left"); left.UserName != "Bob" {
		t.Fatalf("left = %+v", left)
	}
	if users := expect(t, ann, "lobby-users"); len(users.Users) != 1 {
		t.Fatalf("users after leave = %v", users.Users)
	}
}

func TestLobbyRejectsBadConnections(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	tok := e.token(t, "ann")
	lobby := createLobby(t, e, tok)

	tests := []struct {
		name   string
		code   string
		token  string
		status int
	}{
		{"missing token", lobby.SessionCode, "", http.StatusUnauthorized},
		{"bad token", lobby.SessionCode, "garbage", http.StatusUnauthorized},
		{"unknown lobby", "00000000", tok, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/lobby/" + tt.code + "/ws?token=" + tt.token

			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Fatal("dial succeeded")
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Fatalf("response = %v, want status %d", resp, tt.status)
			}
		})
	}
}

func TestLobbyQR(t *testing.T) {
	e := newTestEnv(t)
	lobby := createLobby(t, e, e.token(t, "ann"))

	rec := e.do(t, http.MethodGet, "/lobby/"+lobby.SessionCode+"/qr", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("qr: status %d, type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Fatal("qr body is not a PNG")
	}

	if rec := e.do(t, http.MethodGet, "/lobby/00000000/qr", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown lobby qr: status %d", rec.Code)
	}

	if rec := e.do(t, http.MethodGet, "/lobby/"+lobby.SessionCode, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("lobby page: status %d", rec.Code)
	}
}

func TestLobbyReaper(t *testing.T) {
	e := newTestEnv(t)
	lm := newLobbyManager(0, e.reg)

	stale, err := lm.create(e.cfg, e.tokens, "ann")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := lm.create(e.cfg, e.tokens, "bob")
	if err != nil {
		t.Fatal(err)
	}

	stale.mu.Lock()
	stale.lastActive = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	reaped := lm.reap(time.Now().Add(-time.Hour))
	if len(reaped) != 1 || reaped[0] != stale.code {
		t.Fatalf("reaped = %v, want [%s]", reaped, stale.code)
	}
	if _, ok := lm.get(stale.code); ok {
		t.Fatal("stale lobby still open")
	}
	if _, ok := lm.get(fresh.code); !ok {
		t.Fatal("fresh lobby was reaped")
	}
}

func TestParameterUpdateApply(t *testing.T) {
	e := newTestEnv(t)
	base := LobbyParameters{RegionsNumber: 15, DurationPerRegion: 15}

	zero, big, on := 0, maxRegionsNumber+1, true

	tests := []struct {
		name    string
		update  ParameterUpdate
		want    LobbyParameters
		wantErr bool
	}{
		{name: "empty", want: base},
		{name: "gameover", update: ParameterUpdate{GameoverOnError: &on}, want: LobbyParameters{RegionsNumber: 15, DurationPerRegion: 15, GameoverOnError: true}},
		{name: "zero regions", update: ParameterUpdate{RegionsNumber: &zero}, wantErr: true},
		{name: "too many regions", update: ParameterUpdate{RegionsNumber: &big}, wantErr: true},
		{name: "zero duration", update: ParameterUpdate{DurationPerRegion: &zero}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.update.apply(base, e.reg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
