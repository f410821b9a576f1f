package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleShutdown acknowledges the request, then asynchronously invokes the
// callback the server was constructed with. The callback is expected to
// stop accepting new connections, let in-flight responses (including this
// one) finish, cancel run executors, and exit the process — so the HTTP
// response must be written before it runs. shutdownOnce guards against a
// retried or racing client POSTing /v1/shutdown more than once.
func (s *Server) handleShutdown(c *gin.Context) {
	c.Status(http.StatusOK)
	c.Writer.Flush()
	if s.onShutdown != nil {
		s.shutdownOnce.Do(func() {
			go s.onShutdown()
		})
	}
}
