package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	httpmiddleware "github.com/wolfeidau/newsletter/internal/http"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		line := map[string]any{}
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func TestSetup_levels(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}

func TestHTTPRequests(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		wantStatus    float64
		wantLevel     string
		wantBytes     float64
		handlerLogged bool
	}{
		{
			name: "implicit ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			},
			wantStatus: 200,
			wantLevel:  "info",
			wantBytes:  2,
		},
		{
			name: "redirect",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusSeeOther)
			},
			wantStatus: 303,
			wantLevel:  "info",
		},
		{
			name: "server error logged at error level",
			handler: func(w http.ResponseWriter, r *http.Request) {
				zerolog.Ctx(r.Context()).Info().Msg("inside handler")
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantStatus:    500,
			wantLevel:     "error",
			wantBytes:     5,
			handlerLogged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			handler := httpmiddleware.ClientIPMiddleware(false)(HTTPRequests(logger)(tt.handler))

			r := httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil)
			r.RemoteAddr = "203.0.113.7:51234"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			lines := decodeLines(t, &buf)
			if tt.handlerLogged {
				require.Len(t, lines, 2)
				require.Equal(t, "inside handler", lines[0]["message"])
				require.Equal(t, "/admin/newsletters", lines[0]["path"])
			} else {
				require.Len(t, lines, 1)
			}

			last := lines[len(lines)-1]
			require.Equal(t, "http request", last["message"])
			require.Equal(t, tt.wantLevel, last["level"])
			require.Equal(t, tt.wantStatus, last["status"])
			require.Equal(t, tt.wantBytes, last["bytes"])
			require.Equal(t, "POST", last["method"])
			require.Equal(t, "203.0.113.7", last["client_ip"])
		})
	}
}
