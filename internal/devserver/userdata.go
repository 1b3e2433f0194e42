package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/treesync/internal/store"
)

const maxDocumentBytes = 1 << 20

func (s *Server) getUserData(c *gin.Context) {
	id := c.Param("id")
	if !s.authorized(c, id) {
		c.Status(http.StatusUnauthorized)
		return
	}

	raw, ok, err := s.store.Get(c.Request.Context(), store.ProgressKey(id))
	if err != nil {
		slog.Error("read progress", "owner", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(raw))
}

func (s *Server) putUserData(c *gin.Context) {
	id := c.Param("id")
	if !s.authorized(c, id) {
		c.Status(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes+1))
	if err != nil || len(body) > maxDocumentBytes || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT"})
		return
	}

	// Stamp 0 on every write: the server keeps whatever arrived last.
	if _, err := s.store.Put(c.Request.Context(), store.ProgressKey(id), string(body), 0); err != nil {
		slog.Error("write progress", "owner", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}

// authorized reports whether the request may touch id's document. Ids of
// existing accounts need a token for that account; guest ids are open.
func (s *Server) authorized(c *gin.Context, id string) bool {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return true
	}
	if _, err := s.store.AccountByID(c.Request.Context(), n); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("account lookup", "id", id, "error", err)
		}
		return errors.Is(err, store.ErrNotFound)
	}
	sub, err := s.subject(c.GetHeader("Authorization"))
	if err != nil {
		slog.Debug("rejected token", "owner", id, "error", err)
		return false
	}
	return sub == id
}
