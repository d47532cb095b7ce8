package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"landlord/internal/game"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := bearerToken(tc.header); got != tc.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestQueryLimit(t *testing.T) {
	cases := []struct {
		url  string
		want int
	}{
		{"/v1/rents?limit=25", 25},
		{"/v1/rents?limit=abc", 0},
		{"/v1/rents?limit=-5", 0},
		{"/v1/rents", 0},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, tc.url, nil)
		if got := queryLimit(r); got != tc.want {
			t.Errorf("queryLimit(%q) = %d, want %d", tc.url, got, tc.want)
		}
	}
}

func TestWriteDomainErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{game.ErrInsufficientFunds, http.StatusBadRequest},
		{fmt.Errorf("invest: %w", game.ErrUnitsUnavailable), http.StatusBadRequest},
		{game.ErrDuplicateIdempotency, http.StatusConflict},
		{game.ErrTxConflict, http.StatusConflict},
		{game.ErrPropertyNotFound, http.StatusNotFound},
		{game.ErrUnauthorized, http.StatusForbidden},
		{game.ErrEscrowFinished, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		if rec.Code != tc.want {
			t.Errorf("writeDomainError(%v) = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

// Commands that fail validation must be rejected before any state is touched,
// so a nil game service is safe here.
func TestApplyReplayRejectsMalformedCommands(t *testing.T) {
	s := &Server{}
	user := UserContext{UserID: "u1"}
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  replayCommand
	}{
		{"get method", replayCommand{Method: "GET", Path: "/v1/properties/1/invest", IdempotencyKey: "k"}},
		{"missing key", replayCommand{Method: "POST", Path: "/v1/properties/1/invest"}},
		{"unknown path", replayCommand{Method: "POST", Path: "/v1/widgets/1/zap", IdempotencyKey: "k"}},
		{"wrong version", replayCommand{Method: "POST", Path: "/v2/properties/1/invest", IdempotencyKey: "k"}},
		{"bad id", replayCommand{Method: "POST", Path: "/v1/properties/abc/invest", IdempotencyKey: "k"}},
		{"too few segments", replayCommand{Method: "POST", Path: "/v1/properties/1", IdempotencyKey: "k"}},
	}
	for _, tc := range cases {
		status, detail := s.applyReplay(ctx, user, 1, tc.cmd)
		if status != replayRejected {
			t.Errorf("%s: status = %q (%s), want rejected", tc.name, status, detail)
		}
		if detail == "" {
			t.Errorf("%s: expected a rejection detail", tc.name)
		}
	}
}
