package comm

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// View is the front-end's record of one viewer's panel.
type View struct {
	UID       string    `json:"uid"`
	URL       string    `json:"url"`
	Port      int       `json:"port"`
	Shows     int       `json:"shows"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Hub is a reference front-end. It answers url_request messages with its base URL and keeps one View per uid,
// creating it on the first show message and updating it on later ones.
type Hub struct {
	log     *zap.SugaredLogger
	baseURL string
	onShow  func(View)
	router  *httprouter.Router

	mut   sync.Mutex
	views map[string]*View
}

type HubOption func(h *Hub)

func WithHubLogger(l *zap.SugaredLogger) HubOption {
	return func(h *Hub) {
		h.log = l.Named("comm_hub")
	}
}

// WithShowHandler registers f to be called with the updated view after every show message.
func WithShowHandler(f func(View)) HubOption {
	return func(h *Hub) {
		h.onShow = f
	}
}

// NewHub builds a hub that reports baseURL to viewers. An empty baseURL means url_request messages go unanswered.
func NewHub(baseURL string, opts ...HubOption) *Hub {
	h := &Hub{
		log:     defaultLogger.Named("comm_hub"),
		baseURL: baseURL,
		views:   map[string]*View{},
	}
	for _, o := range opts {
		o(h)
	}

	router := httprouter.New()
	router.GET("/comm", h.comm)
	router.GET("/views", h.listViews)
	router.GET("/healthz", h.healthz)
	h.router = router

	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Views returns a snapshot of all views, ordered by uid.
func (h *Hub) Views() []View {
	h.mut.Lock()
	defer h.mut.Unlock()
	views := make([]View, 0, len(h.views))
	for _, v := range h.views {
		views = append(views, *v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].UID < views[j].UID })
	return views
}

func (h *Hub) View(uid string) (View, bool) {
	h.mut.Lock()
	defer h.mut.Unlock()
	v, ok := h.views[uid]
	if !ok {
		return View{}, false
	}
	return *v, true
}

func (h *Hub) comm(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		h.log.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	wsConn.SetReadLimit(readLimit)
	h.log.Debug("accepted WebSocket conn")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var msg Message
		err := wsjson.Read(ctx, wsConn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			h.log.Debug("got normal closure from viewer")
			return
		}
		if err != nil {
			h.log.Debugf("message reader got error: %s", err)
			wsConn.Close(websocket.StatusInternalError, "read error")
			return
		}
		err = h.handle(ctx, wsConn, msg)
		if err != nil {
			h.log.Debugf("error handling %s message: %s", msg.Type, err)
			wsConn.Close(websocket.StatusInternalError, "write error")
			return
		}
	}
}

func (h *Hub) handle(ctx context.Context, conn *websocket.Conn, msg Message) error {
	switch msg.Type {
	case MessageTypeURLRequest:
		if h.baseURL == "" {
			h.log.Debug("no base URL configured, not answering url_request")
			return nil
		}
		return wsjson.Write(ctx, conn, URLResponse(h.baseURL))
	case MessageTypeShow:
		if msg.UID == "" {
			h.log.Debug("dropping show message without uid")
			return nil
		}
		view := h.recordShow(msg)
		h.log.Infow("showing view", "UID", view.UID, "URL", view.URL, "Shows", view.Shows)
		if h.onShow != nil {
			h.onShow(view)
		}
		return nil
	default:
		h.log.Debugf("ignoring message of unknown type %q", msg.Type)
		return nil
	}
}

func (h *Hub) recordShow(msg Message) View {
	h.mut.Lock()
	defer h.mut.Unlock()
	v, ok := h.views[msg.UID]
	if !ok {
		v = &View{UID: msg.UID}
		h.views[msg.UID] = v
	}
	v.URL = msg.URL
	v.Port = msg.Port
	v.Shows++
	v.UpdatedAt = time.Now()
	return *v
}

func (h *Hub) listViews(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	b, err := json.Marshal(h.Views())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (h *Hub) healthz(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}
