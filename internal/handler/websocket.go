package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"busmap/internal/hub"
	"busmap/internal/store"
	"busmap/internal/view"
)

const clientBufferSize = 64

type WSHandler struct {
	hub      *hub.Hub
	store    *store.DatasetStore
	renderer *view.Renderer
	origins  []string
	logger   *slog.Logger
}

func NewWSHandler(h *hub.Hub, s *store.DatasetStore, renderer *view.Renderer, origins []string, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:      h,
		store:    s,
		renderer: renderer,
		origins:  originPatterns(origins),
		logger:   logger.With("handler", "ws"),
	}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type FilterPayload struct {
	RouteID *int `json:"routeId"`
}

type ToggleStopPayload struct {
	Index int `json:"index"`
}

type OpenVehiclePayload struct {
	RouteID int `json:"routeId"`
}

type MarkersPayload struct {
	Patches      []view.MarkerPatch `json:"patches"`
	SelectedStop *int               `json:"selected_stop"`
}

// ServeWS mounts one map view for the lifetime of the connection. The view
// gets its first frame right away and a new one after every refresh.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, view.New(clientID, h.renderer), clientBufferSize)

	h.hub.Register(client)
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client.Do(func(v *view.View) hub.Message {
		return hub.FrameMessage(v.Render(h.store.Current()))
	})

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}
		ServerStats.IncWSMessagesIn()

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			h.sendError(client, "invalid message format")
			continue
		}

		h.handle(client, msg)
	}
}

func (h *WSHandler) handle(client *hub.Client, msg WSMessage) {
	switch msg.Type {
	case "filter":
		// no payload clears the filter
		var payload FilterPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				h.sendError(client, "invalid filter payload")
				return
			}
		}
		client.Do(func(v *view.View) hub.Message {
			return hub.FrameMessage(v.SetFilter(h.store.Current(), payload.RouteID))
		})

	case "toggle_stop":
		var payload ToggleStopPayload
		if err := decodePayload(msg.Payload, &payload); err != nil {
			h.sendError(client, "invalid toggle_stop payload")
			return
		}
		client.Do(func(v *view.View) hub.Message {
			patches, err := v.ToggleStop(payload.Index)
			if err != nil {
				return hub.ErrorMessage(err.Error())
			}
			selected, ok := v.Selection().Index()
			markers := MarkersPayload{Patches: patches}
			if ok {
				markers.SelectedStop = &selected
			}
			return hub.Message{Type: hub.MessageMarkers, Payload: markers}
		})

	case "open_vehicle":
		var payload OpenVehiclePayload
		if err := decodePayload(msg.Payload, &payload); err != nil {
			h.sendError(client, "invalid open_vehicle payload")
			return
		}
		route, ok := h.store.Current().Route(payload.RouteID)
		if !ok {
			h.sendError(client, "route not found")
			return
		}
		client.Do(func(v *view.View) hub.Message {
			return hub.Message{Type: hub.MessagePopup, Payload: h.renderer.VehiclePopup(route)}
		})

	case "ping":
		client.Do(func(v *view.View) hub.Message {
			return hub.Message{Type: hub.MessagePong}
		})

	default:
		h.sendError(client, "unknown message type: "+msg.Type)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendError(client *hub.Client, message string) {
	client.Do(func(v *view.View) hub.Message {
		return hub.ErrorMessage(message)
	})
}

// originPatterns turns CORS origins into the host patterns the websocket
// accept check matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}

var errMissingPayload = errors.New("missing payload")

func decodePayload(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return errMissingPayload
	}
	return json.Unmarshal(raw, dest)
}
