package apiclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-portal/internal/apiclient"
	"github.com/openkcm/session-portal/internal/config"
	"github.com/openkcm/session-portal/internal/tokenstore"
	"github.com/openkcm/session-portal/internal/tokenstore/tokenstoremock"
)

func newClient(t *testing.T, baseURL string, tokens apiclient.TokenSource) *apiclient.Client {
	t.Helper()

	c, err := apiclient.New(config.Backend{
		BaseURL:         baseURL,
		Provider:        "workos",
		ValidatePath:    "/hello",
		HelloPath:       "/hello",
		ExchangeTimeout: time.Second,
		LogoutTimeout:   time.Second,
		ValidateTimeout: time.Second,
	}, tokens)
	require.NoError(t, err)

	return c
}

func TestClient_Exchange(t *testing.T) {
	tests := []struct {
		name      string
		req       apiclient.ExchangeRequest
		wantBody  map[string]string
		status    int
		respBody  string
		want      apiclient.ExchangeResponse
		errAssert assert.ErrorAssertionFunc
	}{
		{
			name:     "code exchange",
			req:      apiclient.ExchangeRequest{Code: "c1"},
			wantBody: map[string]string{"code": "c1"},
			status:   http.StatusOK,
			respBody: `{"access":"A","refresh":"R","user":{"email":"u@example.com"}}`,
			want: apiclient.ExchangeResponse{
				Access:  "A",
				Refresh: "R",
				User:    map[string]any{"email": "u@example.com"},
			},
			errAssert: assert.NoError,
		},
		{
			name:      "id token exchange",
			req:       apiclient.ExchangeRequest{IDToken: "t1"},
			wantBody:  map[string]string{"id_token": "t1"},
			status:    http.StatusOK,
			respBody:  `{"access":"A","refresh":"R"}`,
			want:      apiclient.ExchangeResponse{Access: "A", Refresh: "R"},
			errAssert: assert.NoError,
		},
		{
			name:     "backend rejects the code",
			req:      apiclient.ExchangeRequest{Code: "bad"},
			wantBody: map[string]string{"code": "bad"},
			status:   http.StatusBadRequest,
			respBody: `{"error":"WorkOS authentication failed"}`,
			errAssert: func(t assert.TestingT, err error, _ ...any) bool {
				var statusErr *apiclient.StatusError
				return assert.ErrorAs(t, err, &statusErr) && assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
			},
		},
		{
			name:     "response without refresh token",
			req:      apiclient.ExchangeRequest{Code: "c2"},
			wantBody: map[string]string{"code": "c2"},
			status:   http.StatusOK,
			respBody: `{"access":"A"}`,
			errAssert: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, apiclient.ErrMalformedResponse)
			},
		},
		{
			name:     "malformed body",
			req:      apiclient.ExchangeRequest{Code: "c3"},
			wantBody: map[string]string{"code": "c3"},
			status:   http.StatusOK,
			respBody: `not json`,
			errAssert: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, apiclient.ErrMalformedResponse)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/auth/workos/callback", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var body map[string]string
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, tt.wantBody, body)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.respBody))
			}))
			defer srv.Close()

			c := newClient(t, srv.URL+"/api", tokenstoremock.NewStore())

			got, err := c.Exchange(t.Context(), tt.req)
			assert.Equal(t, int32(1), calls.Load())
			if !tt.errAssert(t, err) || err != nil {
				return
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_Exchange_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, err := apiclient.New(config.Backend{
		BaseURL:         srv.URL,
		Provider:        "workos",
		ExchangeTimeout: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	_, err = c.Exchange(t.Context(), apiclient.ExchangeRequest{Code: "c"})
	assert.Error(t, err)
}

func TestClient_Logout(t *testing.T) {
	t.Run("sends the backend session cookie and decodes the logout url", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/workos/callback", func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "wos_session", Value: "sealed", Path: "/"})
			_, _ = w.Write([]byte(`{"access":"A","refresh":"R"}`))
		})
		mux.HandleFunc("/logout/", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)

			cookie, err := r.Cookie("wos_session")
			if assert.NoError(t, err) {
				assert.Equal(t, "sealed", cookie.Value)
			}

			_, _ = w.Write([]byte(`{"logout_url":"https://idp.example.com/logout","message":"Logout successful"}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		c := newClient(t, srv.URL, nil)

		_, err := c.Exchange(t.Context(), apiclient.ExchangeRequest{Code: "c"})
		require.NoError(t, err)

		got, err := c.Logout(t.Context())
		require.NoError(t, err)
		assert.Equal(t, apiclient.LogoutResponse{LogoutURL: "https://idp.example.com/logout", Message: "Logout successful"}, got)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newClient(t, srv.URL, nil).Logout(t.Context())

		var statusErr *apiclient.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.False(t, statusErr.Unauthorized())
	})
}

func TestClient_BearerToken(t *testing.T) {
	tests := []struct {
		name       string
		store      *tokenstoremock.Store
		wantHeader string
	}{
		{
			name:       "stored access token is attached",
			store:      tokenstoremock.NewStore(tokenstoremock.WithPair(tokenstore.TokenPair{AccessToken: "A", RefreshToken: "R"})),
			wantHeader: "Bearer A",
		},
		{
			name:       "no header without stored tokens",
			store:      tokenstoremock.NewStore(),
			wantHeader: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/hello", r.URL.Path)
				assert.Equal(t, tt.wantHeader, r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(`{"message":"Hello u@example.com!"}`))
			}))
			defer srv.Close()

			msg, err := newClient(t, srv.URL, tt.store).Hello(t.Context())
			require.NoError(t, err)
			assert.Equal(t, "Hello u@example.com!", msg)
		})
	}
}

func TestClient_ExchangeAndLogoutCarryNoBearer(t *testing.T) {
	var headers []string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/workos/callback", func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"access":"NEW","refresh":"NEWR"}`))
	})
	mux.HandleFunc("/logout/", func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"logout_url":"/login"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := tokenstoremock.NewStore(tokenstoremock.WithPair(tokenstore.TokenPair{AccessToken: "OLD", RefreshToken: "OLDR"}))
	c := newClient(t, srv.URL, store)

	_, err := c.Exchange(t.Context(), apiclient.ExchangeRequest{Code: "abc"})
	require.NoError(t, err)
	_, err = c.Logout(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []string{"", ""}, headers)
}

func TestClient_Validate(t *testing.T) {
	tests := []struct {
		name             string
		status           int
		wantErr          bool
		wantUnauthorized bool
	}{
		{name: "accepted", status: http.StatusOK},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true, wantUnauthorized: true},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true, wantUnauthorized: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newClient(t, srv.URL, nil).Validate(t.Context())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			var statusErr *apiclient.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.wantUnauthorized, statusErr.Unauthorized())
		})
	}
}
