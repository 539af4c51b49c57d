package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/relaymesh/grelay/internal/app/manager"
)

// relayService adapts the instance manager to the services.ManagedService
// contract: starting it restores and auto-starts persisted instances,
// stopping it tears down every running pipeline.
type relayService struct {
	mgr *manager.Manager
}

func newRelayService(mgr *manager.Manager) *relayService {
	return &relayService{mgr: mgr}
}

func (s *relayService) Name() string           { return "relay-manager" }
func (s *relayService) Dependencies() []string { return nil }

func (s *relayService) Start(ctx context.Context) error {
	return s.mgr.LoadPersisted(ctx)
}

func (s *relayService) Stop(ctx context.Context) error {
	s.mgr.Shutdown(ctx)
	return nil
}

// httpService adapts the HTTP control plane to services.ManagedService. It
// depends on relay-manager so the manager's persisted instances are loaded
// before the API starts accepting requests for them.
type httpService struct {
	handler http.Handler
	addr    string
	srv     *http.Server
}

func newHTTPService(apiServer interface {
	Handler(apiKey string) http.Handler
}, addr, apiKey string) *httpService {
	return &httpService{handler: apiServer.Handler(apiKey), addr: addr}
}

func (s *httpService) Name() string           { return "http-api" }
func (s *httpService) Dependencies() []string { return []string{"relay-manager"} }

func (s *httpService) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: s.handler}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = err
		}
	}()
	return nil
}

func (s *httpService) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
