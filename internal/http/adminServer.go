package http

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"

	"chatclient/internal/api"
	"chatclient/internal/observability"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(adminHandler *api.AdminHandler, addr string) *AdminServer {
	if addr == "" {
		addr = "localhost:8091"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: NewAdminMux(adminHandler),
		},
	}
}

// NewAdminMux routes the admin API and the metrics endpoint.
func NewAdminMux(adminHandler *api.AdminHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/state", adminHandler.StateHandler)
	mux.HandleFunc("POST /admin/signals", adminHandler.SignalsHandler)
	mux.HandleFunc("POST /admin/session", adminHandler.SignInHandler)
	mux.HandleFunc("DELETE /admin/session", adminHandler.SignOutHandler)
	mux.HandleFunc("GET /admin/chats", adminHandler.ListChatsHandler)
	mux.HandleFunc("POST /admin/chats/refresh", adminHandler.RefreshChatsHandler)
	mux.HandleFunc("GET /admin/chats/{id}/messages", adminHandler.ListMessagesHandler)
	mux.HandleFunc("POST /admin/chats/{id}/history", adminHandler.FetchHistoryHandler)
	mux.HandleFunc("POST /admin/messages", adminHandler.SendMessageHandler)
	mux.HandleFunc("POST /admin/messages/{id}/retry", adminHandler.RetryMessageHandler)
	mux.HandleFunc("DELETE /admin/messages/{id}", adminHandler.DeleteMessageHandler)
	mux.HandleFunc("POST /admin/push", adminHandler.PushHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observability.HTTPMetricsMiddleware(mux)
}

func (s *AdminServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the server on an existing listener.
func (s *AdminServer) Serve(ln net.Listener) error {
	log.Printf("Admin API started on %s", ln.Addr())
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
