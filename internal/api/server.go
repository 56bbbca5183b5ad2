// Package api exposes the Store as a REST control plane: add/list/remove
// proxies and checks, manage their associations, and query the derived
// banned-at map. Every handler speaks the same envelope so callers can treat
// the whole surface uniformly.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"proxycheck/internal/config"
	"proxycheck/internal/logger"
	"proxycheck/internal/store"
	"proxycheck/pkg/types"
)

// Server wraps a gin engine over a Store.
type Server struct {
	store  store.Store
	log    *logrus.Entry
	logs   *logger.Logger // optional: backs /recent_logs, nil if not supplied
	engine *gin.Engine
}

// New builds a Server with routes registered and ready to serve. logs may be
// nil, in which case /recent_logs always reports an empty list.
func New(st store.Store, log *logrus.Entry, logs *logger.Logger) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{store: st, log: log.WithField("component", "api"), logs: logs, engine: engine}
	s.routes()
	return s
}

// Handler returns the underlying http.Handler for use with an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/list", s.handleList)
	s.engine.GET("/add", s.handleAddProxy)
	s.engine.GET("/remove", s.handleRemoveProxy)
	s.engine.POST("/add_check", s.handleAddCheck)
	s.engine.GET("/list_check", s.handleGetCheck)
	s.engine.GET("/remove_check", s.handleRemoveCheck)
	s.engine.GET("/add_proxy_check", s.handleAssociate)
	s.engine.GET("/remove_proxy_check", s.handleDisassociate)
	s.engine.GET("/banned", s.handleBanned)
	s.engine.GET("/recent_logs", s.handleRecentLogs)
}

// envelope is the uniform response shape every endpoint returns:
// {"result": <payload or error string>, "error": <bool>}.
func ok(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, gin.H{"result": result, "error": false})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"result": err.Error(), "error": true})
}

func statusFor(err error) int {
	switch {
	case err == store.ErrNotExist:
		return http.StatusNotFound
	case err == store.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleList(c *gin.Context) {
	filter := types.ListAll
	if c.Query("alive") == "true" {
		filter = types.ListAliveOnly
	}
	rows, err := s.store.ListProxies(c.Request.Context(), filter)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, rows)
}

func (s *Server) handleAddProxy(c *gin.Context) {
	raw := c.Query("proxy")
	p, err := config.ParseProxyString(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if re := c.Query("recheck_every"); re != "" {
		seconds, err := strconv.Atoi(re)
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		p.RecheckEvery = &seconds
	}

	created, err := s.store.AddProxy(c.Request.Context(), p)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, created)
}

func (s *Server) handleRemoveProxy(c *gin.Context) {
	id, err := strconv.ParseUint(c.Query("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.store.RemoveProxy(c.Request.Context(), uint(id)); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, "removed")
}

func (s *Server) handleAddCheck(c *gin.Context) {
	var def types.CheckDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if name := c.Query("name"); name != "" {
		def.Name = name
	}

	created, err := s.store.AddCheck(c.Request.Context(), def)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, created)
}

func (s *Server) parseCheckRef(c *gin.Context, idParam, nameParam string) (uint, string) {
	if idStr := c.Query(idParam); idStr != "" {
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err == nil {
			return uint(id), ""
		}
	}
	return 0, c.Query(nameParam)
}

func (s *Server) handleGetCheck(c *gin.Context) {
	id, name := s.parseCheckRef(c, "id", "name")
	def, err := s.store.GetCheck(c.Request.Context(), id, name)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, def)
}

func (s *Server) handleRemoveCheck(c *gin.Context) {
	id, name := s.parseCheckRef(c, "id", "name")
	if id == 0 && name != "" {
		def, err := s.store.GetCheck(c.Request.Context(), 0, name)
		if err != nil {
			fail(c, statusFor(err), err)
			return
		}
		id = def.ID
	}
	if err := s.store.RemoveCheck(c.Request.Context(), id); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, "removed")
}

func (s *Server) resolveCheckID(c *gin.Context) (uint, error) {
	id, name := s.parseCheckRef(c, "check_id", "check_name")
	if id != 0 {
		return id, nil
	}
	def, err := s.store.GetCheck(c.Request.Context(), 0, name)
	if err != nil {
		return 0, err
	}
	return def.ID, nil
}

func (s *Server) handleAssociate(c *gin.Context) {
	proxyID, err := strconv.ParseUint(c.Query("proxy_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	checkID, err := s.resolveCheckID(c)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if err := s.store.Associate(c.Request.Context(), uint(proxyID), checkID); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, "associated")
}

func (s *Server) handleDisassociate(c *gin.Context) {
	proxyID, err := strconv.ParseUint(c.Query("proxy_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	checkID, err := s.resolveCheckID(c)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if err := s.store.Disassociate(c.Request.Context(), uint(proxyID), checkID); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, "disassociated")
}

func (s *Server) handleBanned(c *gin.Context) {
	entries, err := s.store.BannedAt(c.Request.Context())
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	ok(c, entries)
}

// handleRecentLogs serves the daemon's in-memory ring buffer of recently
// emitted log lines, for an operator without direct access to the daemon's
// stdout/log file. Returns an empty list if no Logger was supplied to New.
func (s *Server) handleRecentLogs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if s.logs == nil {
		ok(c, []string{})
		return
	}
	ok(c, s.logs.Recent(limit))
}
