package router

import (
	"net/http/httptest"
	"testing"

	"github.com/saidutt46/switchboard-gateway/internal/coreactor/servicecoord"
	"github.com/saidutt46/switchboard-gateway/internal/database"
)

func TestRouter_MatchRequest(t *testing.T) {
	// Setup test data
	service := &database.Service{
		ID:       "test-service-id",
		Name:     "test-service",
		Protocol: "http",
		Host:     "localhost",
		Port:     8081,
		Enabled:  true,
	}

	route := &database.Route{
		ID:        "test-route-id",
		ServiceID: service.ID,
		Paths:     []string{"/api/users", "/api/users/:id"},
		Methods:   []string{"GET", "POST"},
		Enabled:   true,
	}

	// Create router
	r := NewRouter([]*database.Route{route}, []*database.Service{service})

	tests := []struct {
		name       string
		method     string
		path       string
		wantMatch  bool
		wantParams map[string]string
	}{
		{
			name:      "exact match",
			method:    "GET",
			path:      "/api/users",
			wantMatch: true,
		},
		{
			name:      "parameter match",
			method:    "GET",
			path:      "/api/users/123",
			wantMatch: true,
			wantParams: map[string]string{
				"id": "123",
			},
		},
		{
			name:      "method not allowed",
			method:    "DELETE",
			path:      "/api/users",
			wantMatch: false,
		},
		{
			name:      "path not found",
			method:    "GET",
			path:      "/api/products",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			result, err := r.Match(req)

			gotMatch := err == nil
			if gotMatch != tt.wantMatch {
				t.Errorf("Match() match = %v, want %v (error: %v)", gotMatch, tt.wantMatch, err)
				return
			}

			if tt.wantMatch && tt.wantParams != nil {
				for key, want := range tt.wantParams {
					if got := result.PathParams[key]; got != want {
						t.Errorf("PathParams[%s] = %v, want %v", key, got, want)
					}
				}
			}
		})
	}
}

// TestRouter_ServiceKind verifies that a route backed by one of the
// coordinator's six services surfaces its kind through the match result,
// while a custom service does not.
func TestRouter_ServiceKind(t *testing.T) {
	authService := &database.Service{
		ID:       "auth-svc",
		Name:     "auth-service",
		Kind:     database.ServiceKind{ID: servicecoord.Auth, Valid: true},
		Protocol: "grpc",
		Host:     "auth.internal",
		Port:     servicecoord.Auth.DefaultPort(),
		Enabled:  true,
	}
	customService := &database.Service{
		ID:       "custom-svc",
		Name:     "legacy-billing",
		Protocol: "http",
		Host:     "billing.internal",
		Port:     8080,
		Enabled:  true,
	}

	routes := []*database.Route{
		{ID: "auth-route", ServiceID: authService.ID, Paths: []string{"/auth/login"}, Methods: []string{"POST"}, Enabled: true},
		{ID: "billing-route", ServiceID: customService.ID, Paths: []string{"/billing/invoices"}, Methods: []string{"GET"}, Enabled: true},
	}

	r := NewRouter(routes, []*database.Service{authService, customService})

	req := httptest.NewRequest("POST", "/auth/login", nil)
	result, err := r.Match(req)
	if err != nil {
		t.Fatalf("expected auth route to match, got error: %v", err)
	}
	kind, ok := result.ServiceKind()
	if !ok || kind != servicecoord.Auth {
		t.Errorf("expected ServiceKind() = (Auth, true), got (%v, %v)", kind, ok)
	}

	if svc, ok := r.ServiceForKind(servicecoord.Auth); !ok || svc.ID != authService.ID {
		t.Errorf("expected ServiceForKind(Auth) to resolve to %s, got %+v (ok=%v)", authService.ID, svc, ok)
	}
	if _, ok := r.ServiceForKind(servicecoord.Cache); ok {
		t.Error("expected ServiceForKind(Cache) to be absent, no cache service configured")
	}

	req = httptest.NewRequest("GET", "/billing/invoices", nil)
	result, err = r.Match(req)
	if err != nil {
		t.Fatalf("expected billing route to match, got error: %v", err)
	}
	if _, ok := result.ServiceKind(); ok {
		t.Error("expected a custom, uncoordinated service to report ServiceKind() ok=false")
	}
}
