package instagram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramgate/gramgate/internal/models"
)

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"simple", "alice", "alice", true},
		{"dots and underscores", "alice.doe_99", "alice.doe_99", true},
		{"leading at stripped", "@alice", "alice", true},
		{"surrounding whitespace", "  alice  ", "alice", true},
		{"minimum length", "abc", "abc", true},
		{"maximum length", "a23456789012345678901234567890", "a23456789012345678901234567890", true},
		{"too short", "ab", "", false},
		{"too long", "a234567890123456789012345678901", "", false},
		{"space inside", "alice doe", "", false},
		{"hyphen", "alice-doe", "", false},
		{"unicode", "алиса", "", false},
		{"empty", "", "", false},
		{"only at", "@", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ValidateUsername(c.input)
			if c.ok {
				require.NoError(t, err)
				assert.Equal(t, c.want, got)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrValidation)
			}
		})
	}
}

func TestProfileExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/alice/":
			w.WriteHeader(http.StatusOK)
		case "/ghost/":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(WithBaseURL(srv.URL))
	ctx := context.Background()

	exists, err := c.ProfileExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.ProfileExists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = c.ProfileExists(ctx, "flaky")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransient)
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		switch {
		case r.Form.Get("username") == "alice" && r.Form.Get("password") == "hunter22":
			w.Write([]byte(`{"authenticated": true}`))
		case r.Form.Get("username") == "flaky":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte(`{"authenticated": false}`))
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(WithBaseURL(srv.URL))
	ctx := context.Background()

	ok, err := c.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Login(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Login(ctx, "flaky", "whatever")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransient)
}

func TestLoginNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(WithBaseURL(srv.URL))
	_, err := c.Login(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransient)
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	m.SetPassword("alice", "hunter22")

	exists, err := m.ProfileExists(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err := m.Login(context.Background(), "alice", "hunter22")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Login(context.Background(), "alice", "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, m.ProfileCalls)
	assert.Equal(t, 2, m.LoginCalls)

	m.Err = errors.New("provider down")
	_, err = m.ProfileExists(context.Background(), "alice")
	require.Error(t, err)
}
