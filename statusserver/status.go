// status.go - optionaler lokaler HTTP-Statusendpunkt (GET /status), der
// memtrack.Accountant.Report als JSON exponiert. Im Stil der Teacher-
// Gin-Handler (server/routes_misc.go): gin.H fuer JSON-Antworten, ein
// Methodenempfaenger mit dem gebuchten Server-Zustand.
package statusserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hybridtrain/core/memtrack"
)

// Server exposes a read-only view of a memtrack.Accountant over HTTP.
type Server struct {
	accountant *memtrack.Accountant
	started    time.Time
	engine     *gin.Engine
}

// New builds a Server wrapping accountant. Call Run to start serving.
func New(accountant *memtrack.Accountant) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{accountant: accountant, started: time.Now(), engine: gin.New()}
	s.engine.GET("/status", s.handleStatus)
	return s
}

// Run blocks serving on addr (e.g. "127.0.0.1:11435").
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// ServeHTTPForTest exposes the underlying gin engine's ServeHTTP for
// in-process handler tests (httptest), without binding a real socket.
func (s *Server) ServeHTTPForTest(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.accountant.Report(time.Since(s.started))
	byCategory := make(map[string]gin.H, len(snap.ByCategory))
	for cat, stats := range snap.ByCategory {
		byCategory[cat.String()] = gin.H{"current": stats.Current, "peak": stats.Peak}
	}
	c.JSON(http.StatusOK, gin.H{
		"peak_bytes":    snap.Peak,
		"current_bytes": snap.Current,
		"by_category":   byCategory,
		"elapsed_secs":  snap.ElapsedSecs,
	})
}
