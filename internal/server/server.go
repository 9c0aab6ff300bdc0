package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/wastemon/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	metrics     http.Handler
}

// NewServer builds the operational HTTP server. metrics may be nil.
func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, metrics http.Handler) *http.Server {
	s := &Server{
		port:        cfg.Port,
		httpLog:     cfg.HttpLog,
		rootContext: rootContext,
		masterActor: masterActor,
		metrics:     metrics,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
