package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/randomchat/internal/auth"
	"github.com/whisper/randomchat/internal/models"
	"github.com/whisper/randomchat/internal/store"
)

const (
	reqA = "0b6f4a52-5c1e-4f7e-9a59-3c1d7d1c0001"
	reqB = "0b6f4a52-5c1e-4f7e-9a59-3c1d7d1c0002"
)

type fakeRequests struct {
	pending []models.FriendRequest
	byID    map[string]models.FriendRequest
	err     error
}

func (f *fakeRequests) ListPendingFor(_ context.Context, userID string) ([]models.FriendRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.FriendRequest
	for _, r := range f.pending {
		if r.Involves(userID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRequests) Get(_ context.Context, id string) (*models.FriendRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func setup(t *testing.T, fr *fakeRequests) (*gin.Engine, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v := auth.NewVerifier("test-secret", "")
	return NewRouter(v, fr, nil), v
}

func do(t *testing.T, r *gin.Engine, v *auth.Verifier, user, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		tok, err := v.Issue(user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sample() *fakeRequests {
	now := time.Now()
	in := models.FriendRequest{ID: reqA, From: "bob", To: "alice", Status: models.FriendRequestPending, CreatedAt: now}
	out := models.FriendRequest{ID: reqB, From: "alice", To: "carol", Status: models.FriendRequestPending, CreatedAt: now.Add(-time.Minute)}
	return &fakeRequests{
		pending: []models.FriendRequest{in, out},
		byID:    map[string]models.FriendRequest{reqA: in, reqB: out},
	}
}

func TestAuthRequired(t *testing.T) {
	r, v := setup(t, sample())

	w := do(t, r, v, "", "/api/friend-requests/pending")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/friend-requests/pending", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListPending(t *testing.T) {
	r, v := setup(t, sample())

	w := do(t, r, v, "alice", "/api/friend-requests/pending")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Incoming []models.FriendRequest `json:"incoming"`
		Outgoing []models.FriendRequest `json:"outgoing"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Incoming, 1)
	require.Len(t, body.Outgoing, 1)
	assert.Equal(t, reqA, body.Incoming[0].ID)
	assert.Equal(t, reqB, body.Outgoing[0].ID)

	w = do(t, r, v, "dave", "/api/friend-requests/pending")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"incoming":[],"outgoing":[]}`, w.Body.String())
}

func TestListPending_StoreError(t *testing.T) {
	r, v := setup(t, &fakeRequests{err: errors.New("db down")})

	w := do(t, r, v, "alice", "/api/friend-requests/pending")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Something went wrong")
}

func TestGet(t *testing.T) {
	r, v := setup(t, sample())

	tests := []struct {
		name string
		user string
		id   string
		want int
	}{
		{"recipient", "alice", reqA, http.StatusOK},
		{"sender", "bob", reqA, http.StatusOK},
		{"stranger", "carol", reqA, http.StatusNotFound},
		{"missing", "alice", "0b6f4a52-5c1e-4f7e-9a59-3c1d7d1c0099", http.StatusNotFound},
		{"malformed id", "alice", "nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, v, tt.user, "/api/friend-requests/"+tt.id)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				var got models.FriendRequest
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, tt.id, got.ID)
			}
		})
	}
}
