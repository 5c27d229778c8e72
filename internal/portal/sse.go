package portal

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/csmportal/internal/jobmon"
)

// heartbeatInterval keeps idle proxies from closing the stream.
const heartbeatInterval = 15 * time.Second

// refreshEvents streams the session's job updates. Every observation is sent
// as an "update" event; a final "done" event carries the terminal update
// before the stream closes. Without a job a single "idle" event is sent.
func (h *handlers) refreshEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	j := currentSession(c).Job()
	if j == nil {
		writeSSE(c.Writer, "idle", jobmon.Update{State: jobmon.NotStarted})
		c.Writer.Flush()
		return
	}

	updates, unsubscribe := j.Subscribe()
	defer unsubscribe()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case u, ok := <-updates:
			if !ok {
				writeSSE(c.Writer, "done", j.Last())
				c.Writer.Flush()
				return
			}
			writeSSE(c.Writer, "update", u)
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
