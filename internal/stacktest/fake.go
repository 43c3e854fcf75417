// Package stacktest serves fake LocalStack, Prometheus and Grafana HTTP APIs for
// tests that exercise readiness polling and post-start validation.
package stacktest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

// Never makes a fake's health endpoint fail forever.
const Never = -1

// Fake is a running fake service.
type Fake struct {
	srv *httptest.Server

	mu         sync.Mutex
	readyAfter int
	hits       map[string]int
}

func newFake(t testing.TB, readyAfter int, register func(f *Fake, r *gin.Engine)) *Fake {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	f := &Fake{readyAfter: readyAfter, hits: map[string]int{}}
	r.Use(func(c *gin.Context) {
		f.mu.Lock()
		f.hits[c.Request.URL.Path]++
		f.mu.Unlock()
		c.Next()
	})
	register(f, r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

// Host is the address the fake listens on.
func (f *Fake) Host() string {
	host, _, _ := net.SplitHostPort(f.srv.Listener.Addr().String())
	return host
}

// Port is the fake's TCP port.
func (f *Fake) Port() int {
	_, port, _ := net.SplitHostPort(f.srv.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// Hits reports how many requests reached path.
func (f *Fake) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// Close stops the server, so further probes are refused.
func (f *Fake) Close() {
	f.srv.Close()
}

// healthy reports whether the health endpoint may answer positively, counting
// the current request.
func (f *Fake) healthy(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readyAfter == Never {
		return false
	}
	return f.hits[path] > f.readyAfter
}

// NewPrometheus fakes /-/ready plus the targets and config APIs. The health
// endpoint fails for the first readyAfter requests.
func NewPrometheus(t testing.TB, readyAfter int, jobs ...string) *Fake {
	return newFake(t, readyAfter, func(f *Fake, r *gin.Engine) {
		r.GET("/-/ready", func(c *gin.Context) {
			if !f.healthy("/-/ready") {
				c.String(http.StatusServiceUnavailable, "Service Unavailable")
				return
			}
			c.String(http.StatusOK, "Prometheus Server is Ready.\n")
		})
		r.GET("/api/v1/targets", func(c *gin.Context) {
			active := make([]gin.H, 0, len(jobs))
			for _, job := range jobs {
				active = append(active, gin.H{
					"labels": gin.H{"job": job, "instance": "host.docker.internal:8000"},
					"health": "down",
				})
			}
			c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"activeTargets": active}})
		})
		r.GET("/api/v1/status/config", func(c *gin.Context) {
			yaml := "global:\n  scrape_interval: 15s\nscrape_configs:\n"
			for _, job := range jobs {
				yaml += "- job_name: " + job + "\n"
			}
			c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"yaml": yaml}})
		})
	})
}

// NewGrafana fakes /api/health plus the datasource and search APIs, which
// require basic auth with user and password.
func NewGrafana(t testing.TB, readyAfter int, user, password, datasource, dashboardUID, dashboardTitle string) *Fake {
	return newFake(t, readyAfter, func(f *Fake, r *gin.Engine) {
		r.GET("/api/health", func(c *gin.Context) {
			if !f.healthy("/api/health") {
				c.JSON(http.StatusOK, gin.H{"database": "failing", "version": "11.1.0"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"database": "ok", "version": "11.1.0"})
		})
		authed := r.Group("/api", gin.BasicAuth(gin.Accounts{user: password}))
		authed.GET("/datasources/name/:name", func(c *gin.Context) {
			if c.Param("name") != datasource {
				c.JSON(http.StatusNotFound, gin.H{"message": "Data source not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"name": datasource, "type": "prometheus", "uid": "prometheus", "url": "http://prometheus:9090"})
		})
		authed.GET("/search", func(c *gin.Context) {
			results := []gin.H{}
			if dashboardTitle != "" && c.Query("query") == dashboardTitle {
				results = append(results, gin.H{"uid": dashboardUID, "title": dashboardTitle, "type": "dash-db"})
			}
			c.JSON(http.StatusOK, results)
		})
	})
}

// NewLocalStack fakes /_localstack/health reporting the given service states.
func NewLocalStack(t testing.TB, readyAfter int, services map[string]string) *Fake {
	return newFake(t, readyAfter, func(f *Fake, r *gin.Engine) {
		r.GET("/_localstack/health", func(c *gin.Context) {
			states := map[string]string{}
			for name, state := range services {
				if f.healthy("/_localstack/health") {
					states[name] = state
				} else {
					states[name] = "initializing"
				}
			}
			c.JSON(http.StatusOK, gin.H{"services": states, "edition": "community", "version": "3.5.0"})
		})
	})
}
