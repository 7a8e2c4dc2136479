package relay

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"duet/internal/domain"
	"duet/internal/logging"
	"duet/internal/mailbox"
	"duet/internal/wire"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

type countResponse struct {
	Count int `json:"count"`
}

type ackRequest struct {
	MessageIDs []domain.MessageID `json:"message_ids"`
}

type ackResponse struct {
	Acked int `json:"acked"`
}

type sendResponse struct {
	MessageID domain.MessageID `json:"message_id"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// Server serves the relay API over a directory and a mailbox.
type Server struct {
	directory domain.PreKeyDirectory
	mailbox   *mailbox.Mailbox
	log       *zap.Logger
	engine    *gin.Engine
}

// NewServer builds the router.
func NewServer(dir domain.PreKeyDirectory, mb *mailbox.Mailbox, log *zap.Logger) *Server {
	s := &Server{directory: dir, mailbox: mb, log: logging.OrNop(log)}

	r := gin.New()
	r.Use(s.recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/keys", s.publishKeys)
		v1.GET("/keys/:party", s.fetchBundle)
		v1.GET("/keys/:party/count", s.countPreKeys)
		v1.POST("/messages", s.sendMessage)
		v1.GET("/messages/:party", s.fetchMessages)
		v1.POST("/messages/:party/ack", s.ackMessages)
	}
	s.engine = r
	return s
}

// Handler returns the http.Handler for the API.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) publishKeys(c *gin.Context) {
	var keys domain.PublishedKeys
	if !s.bindJSON(c, &keys) {
		return
	}
	if err := s.directory.PublishIdentity(c.Request.Context(), keys); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("keys published",
		zap.String("party", keys.PartyID.String()),
		zap.Int("one_time_pre_keys", len(keys.OneTimePreKeys)))
	c.Status(http.StatusNoContent)
}

func (s *Server) fetchBundle(c *gin.Context) {
	b, err := s.directory.FetchBundle(c.Request.Context(), domain.PartyID(c.Param("party")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) countPreKeys(c *gin.Context) {
	n, err := s.directory.CountOneTimePreKeys(c.Request.Context(), domain.PartyID(c.Param("party")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, countResponse{Count: n})
}

func (s *Server) sendMessage(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		s.fail(c, domain.WrapError(domain.CodeInvalidInput, "unreadable body", err))
		return
	}
	msg, err := wire.Decode(body)
	if err != nil {
		s.fail(c, err)
		return
	}
	if _, err := s.mailbox.Deliver(c.Request.Context(), msg); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sendResponse{MessageID: msg.MessageID})
}

func (s *Server) fetchMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(c, domain.NewError(domain.CodeInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	msgs, err := s.mailbox.Fetch(c.Request.Context(), domain.PartyID(c.Param("party")), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) ackMessages(c *gin.Context) {
	var req ackRequest
	if !s.bindJSON(c, &req) {
		return
	}
	n, err := s.mailbox.Ack(c.Request.Context(), domain.PartyID(c.Param("party")), req.MessageIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ackResponse{Acked: n})
}

func (s *Server) bindJSON(c *gin.Context, out any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	if err := c.ShouldBindJSON(out); err != nil {
		s.fail(c, domain.WrapError(domain.CodeInvalidInput, "malformed request body", err))
		return false
	}
	return true
}

// fail writes err as a JSON error. Errors without a protocol code are
// logged and reported as internal.
func (s *Server) fail(c *gin.Context, err error) {
	var pe *domain.ProtocolError
	if errors.As(err, &pe) {
		c.AbortWithStatusJSON(pe.StatusCode(), errorResponse{Error: errorDetail{Code: string(pe.Code), Message: pe.Message}})
		return
	}
	s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorDetail{Code: "INTERNAL", Message: "internal error"}})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote", c.ClientIP()),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case status >= 500:
			s.log.Error("request", fields...)
		case status >= 400:
			s.log.Warn("request", fields...)
		default:
			s.log.Debug("request", fields...)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in handler", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorDetail{Code: "INTERNAL", Message: "internal error"}})
			}
		}()
		c.Next()
	}
}
