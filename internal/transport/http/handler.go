package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"github.com/richardliu001/notification-outbox/internal/service"
)

func RegisterHandlers(r gin.IRouter, events *service.EventStore, notes *service.NotificationService) {
	v1 := r.Group("/v1")
	{
		v1.POST("/events", publishHandler(events))
		v1.GET("/recipients/:type/:id/notifications", inboxHandler(notes))
		v1.POST("/recipients/:type/:id/read-all", readAllHandler(notes))
		v1.PUT("/recipients/:type/:id/preferences/:channel", preferenceHandler(notes))
		v1.POST("/notifications/:id/read", readHandler(notes))
		v1.POST("/notifications/:id/actions", actionHandler(notes))
		v1.GET("/stats", statsHandler(notes))
	}
	admin := r.Group("/v1/admin")
	{
		admin.POST("/events/:eventId/requeue", requeueEventHandler(events))
		admin.POST("/channel-sends/:id/requeue", requeueSendHandler(notes))
	}
}

// writeError maps domain errors to status codes.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	var lost *service.AlreadyActionedError
	switch {
	case errors.As(err, &lost):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "winner": lost.Winner})
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotRecipient):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// pathActor reads the recipient from /recipients/:type/:id.
func pathActor(c *gin.Context) (service.Actor, bool) {
	rt, err := model.ParseRecipientType(c.Param("type"))
	if err != nil {
		badRequest(c, err.Error())
		return service.Actor{}, false
	}
	id, ok := parseID(c, "id")
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{ID: id, Type: rt}, true
}

type actorReq struct {
	ActorID   uint64 `json:"actor_id" binding:"required"`
	ActorType string `json:"actor_type" binding:"required"`
}

func (a actorReq) actor() (service.Actor, error) {
	rt, err := model.ParseRecipientType(a.ActorType)
	if err != nil {
		return service.Actor{}, err
	}
	return service.Actor{ID: a.ActorID, Type: rt}, nil
}

func publishHandler(events *service.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.NewEvent
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		evt, created, err := events.Publish(c, req)
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, evt)
	}
}

func inboxHandler(notes *service.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := pathActor(c)
		if !ok {
			return
		}
		unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
		out, err := notes.ListNotifications(c, who, unread, page, size)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func readAllHandler(notes *service.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := pathActor(c)
		if !ok {
			return
		}
		n, err := notes.MarkAllRead(c, who)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": n})
	}
}

type preferenceReq struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func preferenceHandler(notes *service.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := pathActor(c)
		if !ok {
			return
		}
		ch, err := model.ParseChannel(c.Param("channel"))
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		var req preferenceReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := notes.SetPreference(c, who, ch, *req.Enabled); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"channel": ch, "enabled": *req.Enabled})
	}
}

func readHandler(notes *service.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		var req actorReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		actor, err := req.actor()
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := notes.MarkRead(c, id, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type actionReq struct {
	actorReq
	ActionType string `json:"action_type" binding:"required"`
	Notes      string `json:"notes"`
}

func actionHandler(notes *service.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		var req actionReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		actor, err := req.actor()
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		at, err := model.ParseAction(req.ActionType)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		action, err := notes.RecordAction(c, service.ActionInput{
			NotificationID: id,
			Actor:          actor,
			ActionType:     at,
			Notes:          req.Notes,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, action)
	}
}

func statsHandler(notes *service.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := notes.Stats(c)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func requeueEventHandler(events *service.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := c.Param("eventId")
		if err := events.Requeue(c, eventID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"event_id": eventID, "status": model.EventPending})
	}
}

func requeueSendHandler(notes *service.NotificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		if err := notes.RequeueChannelSend(c, id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "requeued": true})
	}
}
