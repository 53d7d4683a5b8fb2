package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytplay/internal/models"
	"github.com/desertthunder/ytplay/internal/playback"
	"github.com/desertthunder/ytplay/internal/queue"
	"github.com/desertthunder/ytplay/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	maxBodyBytes = 1 << 20
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Controller is the playback surface the API drives. [playback.Supervisor] implements it.
type Controller interface {
	Status() playback.Status
	Queue() []models.Track
	Subscribe() (<-chan playback.Status, func())

	Play() error
	Pause() error
	TogglePlay() error
	SkipNext() error
	SkipPrevious() error
	Seek(pos time.Duration) error
	Jump(index int) error
	SetShuffle(on bool) error
	SetRepeat(mode queue.RepeatMode) error
	SetVolume(v float64) error
	Add(tracks ...models.Track) error
	EnqueueNext(tracks ...models.Track) error
	StartRadio(ctx context.Context) error
	PlayQueue(ctx context.Context, src queue.Source, preload *models.Track) error
}

type errorBody struct {
	Error string `json:"error"`
}

type queueBody struct {
	Title string         `json:"title,omitempty"`
	Items []models.Track `json:"items"`
	Index int            `json:"index"`
}

type eventMessage struct {
	Type   string          `json:"type"`
	Status playback.Status `json:"status"`
}

// ControlHandler serves the control API under /api/.
type ControlHandler struct {
	ctl      Controller
	logger   *log.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

func NewControlHandler(ctl Controller, logger *log.Logger) *ControlHandler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	h := &ControlHandler{
		ctl:    ctl,
		logger: shared.WithLogger(logger, "component", "api"),
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	h.mux.HandleFunc("GET /api/status", h.status)
	h.mux.HandleFunc("GET /api/queue", h.queue)
	h.mux.HandleFunc("GET /api/events", h.events)

	h.mux.HandleFunc("POST /api/play", h.command(h.ctl.Play))
	h.mux.HandleFunc("POST /api/pause", h.command(h.ctl.Pause))
	h.mux.HandleFunc("POST /api/toggle", h.command(h.ctl.TogglePlay))
	h.mux.HandleFunc("POST /api/next", h.command(h.ctl.SkipNext))
	h.mux.HandleFunc("POST /api/previous", h.command(h.ctl.SkipPrevious))
	h.mux.HandleFunc("POST /api/seek", h.seek)
	h.mux.HandleFunc("POST /api/jump", h.jump)
	h.mux.HandleFunc("POST /api/shuffle", h.shuffle)
	h.mux.HandleFunc("POST /api/repeat", h.repeat)
	h.mux.HandleFunc("POST /api/volume", h.volume)
	h.mux.HandleFunc("POST /api/queue", h.enqueue)
	h.mux.HandleFunc("POST /api/load", h.load)
	h.mux.HandleFunc("POST /api/radio", h.radio)
	return h
}

func (h *ControlHandler) Routes() []string {
	return []string{"/api/"}
}

func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *ControlHandler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *ControlHandler) queue(w http.ResponseWriter, _ *http.Request) {
	st := h.ctl.Status()
	writeJSON(w, http.StatusOK, queueBody{Title: st.Title, Items: h.ctl.Queue(), Index: st.Index})
}

func (h *ControlHandler) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, r, fn())
	}
}

func (h *ControlHandler) seek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PositionMillis *int64 `json:"position_millis"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.PositionMillis == nil {
		h.fail(w, r, fmt.Errorf("%w: position_millis is required", shared.ErrInvalidArgument))
		return
	}
	h.respond(w, r, h.ctl.Seek(time.Duration(*body.PositionMillis)*time.Millisecond))
}

func (h *ControlHandler) jump(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index *int `json:"index"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Index == nil {
		h.fail(w, r, fmt.Errorf("%w: index is required", shared.ErrInvalidArgument))
		return
	}
	h.respond(w, r, h.ctl.Jump(*body.Index))
}

func (h *ControlHandler) shuffle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		On bool `json:"on"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.respond(w, r, h.ctl.SetShuffle(body.On))
}

func (h *ControlHandler) repeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	mode, err := queue.ParseRepeat(body.Mode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, h.ctl.SetRepeat(mode))
}

func (h *ControlHandler) volume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Volume == nil {
		h.fail(w, r, fmt.Errorf("%w: volume is required", shared.ErrInvalidArgument))
		return
	}
	h.respond(w, r, h.ctl.SetVolume(*body.Volume))
}

func (h *ControlHandler) enqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tracks []models.Track `json:"tracks"`
		Next   bool           `json:"next"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if len(body.Tracks) == 0 {
		h.fail(w, r, fmt.Errorf("%w: tracks are required", shared.ErrInvalidArgument))
		return
	}
	for _, t := range body.Tracks {
		if err := t.Validate(); err != nil {
			h.fail(w, r, fmt.Errorf("%w: %w", shared.ErrInvalidArgument, err))
			return
		}
	}
	if body.Next {
		h.respond(w, r, h.ctl.EnqueueNext(body.Tracks...))
		return
	}
	h.respond(w, r, h.ctl.Add(body.Tracks...))
}

// load replaces the queue. Exactly one of playlist, radio or tracks must be given.
func (h *ControlHandler) load(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Playlist string         `json:"playlist"`
		Radio    string         `json:"radio"`
		Title    string         `json:"title"`
		Tracks   []models.Track `json:"tracks"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	var (
		src     queue.Source
		preload *models.Track
	)
	switch {
	case body.Playlist != "" && body.Radio == "" && len(body.Tracks) == 0:
		src = queue.PlaylistSource{ID: body.Playlist, Name: body.Title}
	case body.Radio != "" && body.Playlist == "" && len(body.Tracks) == 0:
		seed := models.Track{ID: body.Radio, Title: body.Title, Duration: models.UnknownDuration}
		src, preload = queue.RadioSource{Seed: seed}, &seed
	case len(body.Tracks) > 0 && body.Playlist == "" && body.Radio == "":
		src = queue.ListSource{Name: body.Title, Items: body.Tracks}
	default:
		h.fail(w, r, fmt.Errorf("%w: give one of playlist, radio or tracks", shared.ErrInvalidArgument))
		return
	}
	h.respond(w, r, h.ctl.PlayQueue(r.Context(), src, preload))
}

func (h *ControlHandler) radio(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.ctl.StartRadio(r.Context()))
}

// events streams status updates over a websocket until either side goes away.
func (h *ControlHandler) events(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.ctl.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case st, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "playback stopped"))
				return
			}
			if err := conn.WriteJSON(eventMessage{Type: "status", Status: st}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *ControlHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, fmt.Errorf("%w: request body: %w", shared.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *ControlHandler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *ControlHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

// StatusCode maps an engine error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidArgument), errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrTrackNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrQueueEmpty), errors.Is(err, shared.ErrUnplayable):
		return http.StatusConflict
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, shared.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, shared.ErrRemote), errors.Is(err, shared.ErrNetworkUnavailable), errors.Is(err, shared.ErrPagination):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
