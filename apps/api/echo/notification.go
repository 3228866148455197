package echoapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/user"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type notificationApi struct {
	svc     notification.Service
	usrSvc  user.Service
	metrics *metricsCollector
}

func registerNotificationAPI(
	g *echo.Group,
	authed echo.MiddlewareFunc,
	queryAuthed echo.MiddlewareFunc,
	metrics *metricsCollector,
	deps ServerDeps,
) {
	api := notificationApi{
		svc:     deps.NotificationSvc,
		usrSvc:  deps.UserSvc,
		metrics: metrics,
	}

	ng := g.Group("/notifications")
	ng.GET("", api.query, authed)
	ng.GET("/unread-count", api.unreadCount, authed)
	ng.POST("/read", api.markRead, authed)
	ng.GET("/stream", api.stream, queryAuthed)
}

func (api *notificationApi) query(ctx echo.Context) error {
	filter := new(notification.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []notification.Notification{})
	}
	filter.Clean()

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	notes, err := api.svc.Query(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	if notes == nil {
		notes = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, notes)
}

func (api *notificationApi) unreadCount(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	n, err := api.svc.UnreadCount(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "counting unread notifications")
	}
	return ctx.JSON(http.StatusOK, UnreadCountResponse{Unread: n})
}

// markRead marks the given notifications read; all of them when no ids are given.
func (api *notificationApi) markRead(ctx echo.Context) error {
	var data MarkReadRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkReadRequest")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	n, err := api.svc.MarkRead(ctx.Request().Context(), actor, data.IDs...)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, MarkReadResponse{Marked: n})
}

// stream pushes the user's new notifications over a websocket as JSON messages.
func (api *notificationApi) stream(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	conn, err := streamUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		ctx.Logger().Warnf("upgrading notification stream: %v", err)
		return nil
	}
	defer conn.Close()

	sub := api.svc.Subscribe(actor)
	defer sub.Close()

	api.metrics.streamsOpen.Inc()
	defer api.metrics.streamsOpen.Dec()

	// the reader only handles control frames; it stops when the client goes away
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return nil
			}
			if err := conn.WriteJSON(n); err != nil {
				return nil
			}
			api.metrics.notesStreamed.Inc()
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-done:
			return nil
		case <-ctx.Request().Context().Done():
			return nil
		}
	}
}

type (
	UnreadCountResponse struct {
		Unread int `json:"unread"`
	}

	MarkReadRequest struct {
		IDs []string `json:"ids"`
	}

	MarkReadResponse struct {
		Marked int64 `json:"marked"`
	}
)
