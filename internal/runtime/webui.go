package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/olahol/melody"

	jsoncodec "github.com/drblury/synapse/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

// webUI serves the introspection API and mirrors delivered envelopes of the
// configured channels to websocket clients.
type webUI struct {
	bus    *Bus
	router chi.Router
	stream *melody.Melody
	tokens []SubscriptionToken
}

// apiError is rendered for failed API requests.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *apiError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Code)
	return nil
}

type pressureBody struct {
	Pressure int `json:"pressure"`
}

func (p *pressureBody) Bind(r *http.Request) error {
	if p.Pressure < 0 {
		return errors.New("pressure must not be negative")
	}
	return nil
}

// StartWebUIServer mounts the introspection API on Conf.WebUIPort when enabled.
func (b *Bus) StartWebUIServer() {
	if !b.Conf.WebUIEnabled {
		return
	}
	b.RegisterHTTPHandler(b.Conf.WebUIPort, "/", b.WebUIHandler())
}

// WebUIHandler returns the introspection router, building it on first use.
//
//	GET /api/bus       stats snapshot
//	GET /api/pressure  current gauge value
//	PUT /api/pressure  {"pressure": n} sets the gauge
//	GET /ws/events     websocket stream of delivered envelopes
func (b *Bus) WebUIHandler() http.Handler {
	b.webUIOnce.Do(func() {
		b.webUI = newWebUI(b)
	})
	return b.webUI.router
}

func newWebUI(b *Bus) *webUI {
	ui := &webUI{bus: b, stream: melody.New()}
	ui.stream.Config.MaxMessageSize = 0

	ui.stream.HandleConnect(func(s *melody.Session) {
		b.Logger.Debug("Event stream client connected", loggingpkg.LogFields{"remote": s.Request.RemoteAddr})
	})
	ui.stream.HandleDisconnect(func(s *melody.Session) {
		b.Logger.Debug("Event stream client disconnected", loggingpkg.LogFields{"remote": s.Request.RemoteAddr})
	})

	for _, channel := range b.Conf.EventStreamChannels {
		token, err := b.Subscribe(channel, &streamTap{ui: ui})
		if err != nil {
			b.Logger.Error("Failed to mirror channel", err, loggingpkg.LogFields{"channel": channel})
			continue
		}
		ui.tokens = append(ui.tokens, token)
	}

	r := chi.NewRouter()
	r.Use(ui.cors)
	r.Get("/api/bus", ui.handleGetBus)
	r.Get("/api/pressure", ui.handleGetPressure)
	r.Put("/api/pressure", ui.handlePutPressure)
	r.Get("/ws/events", ui.handleEventStream)
	ui.router = r
	return ui
}

func (ui *webUI) handleGetBus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ui.bus.Stats())
}

func (ui *webUI) handleGetPressure(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, pressureBody{Pressure: ui.bus.Pressure()})
}

func (ui *webUI) handlePutPressure(w http.ResponseWriter, r *http.Request) {
	var body pressureBody
	if err := render.Bind(r, &body); err != nil {
		_ = render.Render(w, r, &apiError{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}
	applied := ui.bus.SetPressure(body.Pressure)
	ui.bus.Logger.Info("Pressure set via API", loggingpkg.LogFields{"requested": body.Pressure, "pressure": applied})
	render.JSON(w, r, pressureBody{Pressure: applied})
}

func (ui *webUI) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if err := ui.stream.HandleRequest(w, r); err != nil {
		ui.bus.Logger.Error("Event stream upgrade failed", err, nil)
	}
}

// cors sets CORS headers for the configured origins and answers preflights.
func (ui *webUI) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := ui.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (ui *webUI) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range ui.bus.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

func (ui *webUI) close() error {
	for _, token := range ui.tokens {
		ui.bus.Unsubscribe(token)
	}
	return ui.stream.Close()
}

// streamTap is the handler mirroring a channel to websocket clients.
type streamTap struct {
	ui *webUI
}

func (t *streamTap) Handle(_ context.Context, env *Envelope) error {
	if t.ui.stream.Len() == 0 {
		return nil
	}
	data, err := jsoncodec.Marshal(env)
	if err != nil {
		return err
	}
	return t.ui.stream.Broadcast(data)
}
