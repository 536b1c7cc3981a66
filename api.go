/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/Seednode/neuroguessr/atlas"
	"github.com/Seednode/neuroguessr/game"
	"github.com/julienschmidt/httprouter"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type startRequest struct {
	Mode  string `json:"mode"`
	Atlas string `json:"atlas"`
}

type startResponse struct {
	SessionID    int64  `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
}

type sessionRequest struct {
	SessionID    int64     `json:"sessionId"`
	SessionToken string    `json:"sessionToken"`
	Coordinates  []float64 `json:"coordinates"`
}

type nextResponse struct {
	RegionID   int    `json:"regionId"`
	RegionName string `json:"regionName,omitempty"`
	Message    string `json:"message,omitempty"`
}

type validateResponse struct {
	IsCorrect  bool    `json:"isCorrect"`
	RegionID   int     `json:"regionId"`
	VoxelValue int     `json:"voxelValue"`
	Endgame    bool    `json:"endgame"`
	Accuracy   float64 `json:"accuracy"`
	FinalScore int     `json:"finalScore"`
}

type leaderboardRequest struct {
	Mode        string `json:"mode"`
	Atlas       string `json:"atlas"`
	AppendTotal *bool  `json:"appendTotal"`
	NumberLimit int    `json:"numberLimit"`
	TimeLimit   *int   `json:"timeLimit"`
}

type leaderboardResponse struct {
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

type atlasInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Regions int    `json:"regions"`
	Dims    [3]int `json:"dims"`
}

func writeJSON(w http.ResponseWriter, status int, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	return w.Write(append(data, '\n'))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &game.ValidationError{Field: "body", Message: "request body must be a JSON object"}
	}

	return nil
}

// coordinates converts JSON numbers to voxel indices; fractional values are
// rejected rather than rounded.
func coordinates(values []float64) ([]int, error) {
	out := make([]int, len(values))
	for i, v := range values {
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return nil, &game.ValidationError{Field: "coordinates", Message: fmt.Sprintf("%v is not a voxel index", v)}
		}
		out[i] = int(v)
	}

	return out, nil
}

// apiError maps engine errors onto status codes. Unexpected errors are
// logged and hidden from the client.
func apiError(cfg *Config, w http.ResponseWriter, r *http.Request, errs chan<- error, err error) {
	var (
		status int
		body   errorResponse
		ve     *game.ValidationError
	)

	switch {
	case errors.As(err, &ve):
		status, body = http.StatusBadRequest, errorResponse{Error: ve.Message}
	case errors.Is(err, game.ErrUnauthorized):
		status, body = http.StatusForbidden, errorResponse{Error: game.ErrUnauthorized.Error()}
	case errors.Is(err, game.ErrNoActiveRegion):
		status, body = http.StatusBadRequest, errorResponse{Error: game.ErrNoActiveRegion.Error(), Code: "no-active-region"}
	default:
		errs <- fmt.Errorf("%s %s: %w", r.Method, r.URL.Path, err)
		status, body = http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}

	securityHeaders(cfg, w)

	if _, err := writeJSON(w, status, body); err != nil {
		errs <- err
	}
}

func reply(cfg *Config, w http.ResponseWriter, r *http.Request, errs chan<- error, v any, what string, startTime time.Time) {
	securityHeaders(cfg, w)

	written, err := writeJSON(w, http.StatusOK, v)
	if err != nil {
		errs <- err

		return
	}

	logf(cfg, "SERVE: %s (%s) to %s in %s",
		what,
		humanReadableSize(int64(written)),
		realIP(r),
		time.Since(startTime).Round(time.Microsecond),
	)
}

func serveStartSession(cfg *Config, engine *game.Engine, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req startRequest
		if err := decodeJSON(w, r, &req); err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		userID := userFrom(r.Context())

		start, err := engine.StartSession(r.Context(), userID, req.Mode, req.Atlas)
		if err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		logf(cfg, "GAMES: Started %s session %d on %s for %q", req.Mode, start.SessionID, req.Atlas, userID)

		reply(cfg, w, r, errs, startResponse{
			SessionID:    start.SessionID,
			SessionToken: start.Secret,
		}, "Session start", startTime)
	}
}

func serveNextRegion(cfg *Config, engine *game.Engine, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req sessionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		next, err := engine.NextRegion(r.Context(), req.SessionID, req.SessionToken)
		if err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		resp := nextResponse{RegionID: next.RegionID, RegionName: next.Name}
		if next.Exhausted {
			resp.Message = "All regions have been found"
			logf(cfg, "GAMES: Session %d has no regions left", req.SessionID)
		}

		reply(cfg, w, r, errs, resp, "Next region", startTime)
	}
}

func serveValidateRegion(cfg *Config, engine *game.Engine, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req sessionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		coords, err := coordinates(req.Coordinates)
		if err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		res, err := engine.ValidateGuess(r.Context(), req.SessionID, req.SessionToken, coords)
		if err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		if res.Endgame {
			logf(cfg, "GAMES: Session %d finished with score %d (%s)", req.SessionID, res.FinalScore, res.QuitReason)
		}

		reply(cfg, w, r, errs, validateResponse{
			IsCorrect:  res.IsCorrect,
			RegionID:   res.RegionID,
			VoxelValue: res.VoxelValue,
			Endgame:    res.Endgame,
			Accuracy:   res.Accuracy,
			FinalScore: res.FinalScore,
		}, "Guess result", startTime)
	}
}

func serveBestScores(cfg *Config, engine *game.Engine, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		rows, err := engine.BestScores(r.Context(), userFrom(r.Context()))
		if err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		reply(cfg, w, r, errs, rows, "Best scores", startTime)
	}
}

func serveStats(cfg *Config, engine *game.Engine, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		st, err := engine.Stats(r.Context(), userFrom(r.Context()))
		if err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		reply(cfg, w, r, errs, st, "Stats", startTime)
	}
}

func serveLeaderboard(cfg *Config, engine *game.Engine, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req leaderboardRequest
		if err := decodeJSON(w, r, &req); err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		q := game.LeaderboardQuery{
			Mode:        req.Mode,
			Atlas:       req.Atlas,
			AppendTotal: true,
			Limit:       req.NumberLimit,
			Days:        game.DefaultLeaderboardDays,
		}
		if req.AppendTotal != nil {
			q.AppendTotal = *req.AppendTotal
		}
		if req.TimeLimit != nil {
			q.Days = *req.TimeLimit
		}

		rows, err := engine.Leaderboard(r.Context(), q)
		if err != nil {
			apiError(cfg, w, r, errs, err)
			return
		}

		reply(cfg, w, r, errs, leaderboardResponse{Leaderboard: rows}, "Leaderboard", startTime)
	}
}

func serveAtlases(cfg *Config, reg *atlas.Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		out := make([]atlasInfo, 0, reg.Len())
		for _, id := range reg.IDs() {
			a, _ := reg.Lookup(id)

			nx, ny, nz := a.Volume.Dims()
			out = append(out, atlasInfo{
				ID:      a.ID,
				Name:    a.Name,
				Regions: len(a.Regions),
				Dims:    [3]int{nx, ny, nz},
			})
		}

		reply(cfg, w, r, errs, out, "Atlas list", startTime)
	}
}

func registerAPI(cfg *Config, mux *httprouter.Router, reg *atlas.Registry, engine *game.Engine, tokens *auth, errs chan<- error) {
	path := cfg.prefix + "/api"

	mux.POST(path+"/start-game-session", requireUser(cfg, tokens, serveStartSession(cfg, engine, errs)))
	mux.POST(path+"/get-next-region", requireUser(cfg, tokens, serveNextRegion(cfg, engine, errs)))
	mux.POST(path+"/validate-region", requireUser(cfg, tokens, serveValidateRegion(cfg, engine, errs)))
	mux.GET(path+"/best-scores", requireUser(cfg, tokens, serveBestScores(cfg, engine, errs)))
	mux.GET(path+"/stats", requireUser(cfg, tokens, serveStats(cfg, engine, errs)))

	mux.POST(path+"/leaderboard", serveLeaderboard(cfg, engine, errs))
	mux.GET(path+"/atlases", serveAtlases(cfg, reg, errs))
}
