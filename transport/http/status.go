package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/ports"
)

// MonitorStatus is the read side of a session monitor
type MonitorStatus interface {
	State() core.MonitorState
	Deadline() (time.Time, bool)
}

// StatusResponse describes the session a client is keeping alive
type StatusResponse struct {
	State     string     `json:"state"`
	RenewsAt  *time.Time `json:"renews_at,omitempty"`
	Address   string     `json:"address,omitempty"`
	Connected bool       `json:"connected"`
}

// SetupStatusRouter exposes the monitor state of a running client
func SetupStatusRouter(monitor MonitorStatus, wallet ports.Wallet) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/status", func(c *gin.Context) {
		resp := StatusResponse{State: monitor.State().String()}
		if deadline, ok := monitor.Deadline(); ok {
			d := deadline.UTC()
			resp.RenewsAt = &d
		}
		if addr, ok := wallet.Account(); ok {
			resp.Address = addr.Hex()
			resp.Connected = true
		}
		c.JSON(http.StatusOK, resp)
	})

	return router
}
