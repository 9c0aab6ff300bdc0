package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
)

func spawnHealthActor(t *testing.T, healthy bool, state string) (*actor.RootContext, *actor.PID) {
	system := actor.NewActorSystem()
	t.Cleanup(system.Shutdown)
	pid := system.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if _, ok := ctx.Message().(domain.ActorHealthRequest); ok {
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy, State: state})
		}
	}))
	return system.Root, pid
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	root, pid := spawnHealthActor(t, true, "ok")
	srv := NewServer(cfg, root, pid, nil)

	rec := get(srv.Handler, "/healthcheck")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("health_check: OK", rec.Body.String())
	assert.Equal(":8080", srv.Addr)

	assert.Equal(http.StatusNotFound, get(srv.Handler, "/metrics").Code)
}

func TestHealthCheckUnhealthy(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	root, pid := spawnHealthActor(t, false, "unhealthy: poller-AC-1001")
	srv := NewServer(cfg, root, pid, nil)

	rec := get(srv.Handler, "/healthcheck")
	assert.Equal(http.StatusServiceUnavailable, rec.Code)
	assert.Contains(rec.Body.String(), "poller-AC-1001")
}

func TestMetricsRoute(t *testing.T) {

	cfg := util.LoadTestConfig()
	root, pid := spawnHealthActor(t, true, "ok")
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wastemon_poll_ticks_total 1\n"))
	})
	srv := NewServer(cfg, root, pid, metrics)

	rec := get(srv.Handler, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wastemon_poll_ticks_total")
}
