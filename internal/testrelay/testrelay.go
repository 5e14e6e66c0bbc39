// Package testrelay is a minimal in-process relay implementing the bridge
// wire protocol (SSE /events, POST /message, POST /verify) well enough to
// exercise a Gateway or Provider against it over httptest.Server. It is
// consumed only by this module's own tests, not shipped as a binary.
package testrelay

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/tonkeeper/bridge-sdk/internal/session"
	"github.com/tonkeeper/bridge-sdk/internal/wire"
)

var heartbeatFrames = map[string]string{
	"legacy":  "event: heartbeat\n\n",
	"message": "event: message\r\ndata: heartbeat\r\n\r\n",
}

const defaultTTLSeconds = 300

// Server is an http.Handler (via the embedded *echo.Echo) implementing
// enough of the relay protocol for tests: SSE subscribe with
// Last-Event-ID resume, POST message with TTL and request_source sealing,
// POST verify.
type Server struct {
	*echo.Echo

	store             *store
	heartbeatInterval time.Duration
}

// New constructs a Server. Wrap it in httptest.NewServer to get a usable
// bridgeUrl for Gateway/Provider tests.
func New() *Server {
	s := &Server{
		Echo:              echo.New(),
		store:             newStore(),
		heartbeatInterval: 5 * time.Second,
	}
	s.HideBanner = true
	s.HidePort = true
	s.GET("/events", s.handleEvents)
	s.POST("/message", s.handleMessage)
	s.POST("/verify", s.handleVerify)
	return s
}

// WithHeartbeatInterval overrides the default 5s heartbeat cadence, for
// tests exercising the heartbeat watchdog on a realistic timescale.
func (s *Server) WithHeartbeatInterval(d time.Duration) *Server {
	s.heartbeatInterval = d
	return s
}

func (s *Server) handleEvents(c echo.Context) error {
	log := logrus.WithField("prefix", "testrelay.handleEvents")

	clientIDParam := c.QueryParam("client_id")
	if clientIDParam == "" {
		return c.JSON(http.StatusBadRequest, errorBody("client_id not present"))
	}
	clientIDs := strings.Split(clientIDParam, ",")

	heartbeatType := c.QueryParam("heartbeat")
	if heartbeatType == "" {
		heartbeatType = "legacy"
	}
	heartbeatFrame, ok := heartbeatFrames[heartbeatType]
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody("invalid heartbeat type"))
	}

	var lastEventID int64
	if v := c.Request().Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.ParseInt(v, 10, 64)
	} else if v := c.QueryParam("last_event_id"); v != "" {
		lastEventID, _ = strconv.ParseInt(v, 10, 64)
	}

	if _, ok := c.Response().Writer.(http.Flusher); !ok {
		return c.JSON(http.StatusInternalServerError, errorBody("streaming unsupported"))
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "private, no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ch := make(chan storedMessage, 64)
	s.store.subscribe(clientIDs, ch)
	defer s.store.unsubscribe(clientIDs, ch)

	for _, m := range s.store.replay(clientIDs, lastEventID) {
		if !writeFrame(w, m) {
			return nil
		}
	}

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("subscription context done")
			return nil
		case m := <-ch:
			if !writeFrame(w, m) {
				return nil
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, heartbeatFrame); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeFrame(w *echo.Response, m storedMessage) bool {
	_, err := fmt.Fprintf(w, "event: message\r\nid: %d\r\ndata: %s\r\n\r\n", m.id, string(m.body))
	if err != nil {
		return false
	}
	w.Flush()
	return true
}

func (s *Server) handleMessage(c echo.Context) error {
	from := c.QueryParam("client_id")
	to := c.QueryParam("to")
	if from == "" || to == "" {
		return c.JSON(http.StatusBadRequest, errorBody("client_id and to required"))
	}

	ttl := int64(defaultTTLSeconds)
	if v := c.QueryParam("ttl"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			ttl = parsed
		}
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	traceID := c.QueryParam("trace_id")
	if traceID == "" {
		traceID = uuid.NewString()
	}

	var requestSource string
	if !strings.EqualFold(c.QueryParam("no_request_source"), "true") {
		if sealed, err := sealRequestSource(c, to); err == nil {
			requestSource = sealed
		} else {
			logrus.WithField("prefix", "testrelay.handleMessage").Debugf("seal request_source: %v", err)
		}
	}

	encoded, err := wire.Marshal(wire.BridgeMessage{
		From:          from,
		Message:       string(body),
		TraceID:       traceID,
		RequestSource: requestSource,
		ConnectSource: wire.ConnectSource{IP: c.RealIP()},
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	s.store.add(to, encoded, time.Duration(ttl)*time.Second)
	return c.JSON(http.StatusOK, map[string]string{"message": "ok"})
}

// sealRequestSource anonymously seals a synthetic request_source addressed
// to the recipient's own clientId (its hex public key), exactly as the
// teacher's EncryptRequestSourceWithWalletID does for the real relay.
func sealRequestSource(c echo.Context, recipientClientID string) (string, error) {
	plaintext, err := wire.Marshal(wire.RequestSource{
		Origin:    c.Request().Header.Get("Origin"),
		IP:        c.RealIP(),
		Time:      strconv.FormatInt(time.Now().Unix(), 10),
		UserAgent: c.Request().Header.Get("User-Agent"),
	})
	if err != nil {
		return "", err
	}
	sealed, err := session.SealAnonymous(plaintext, recipientClientID)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Server) handleVerify(c echo.Context) error {
	var req wire.VerifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, wire.VerifyResponse{Status: "ok"})
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
