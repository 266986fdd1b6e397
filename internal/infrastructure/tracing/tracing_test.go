package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/astarte-device-core/internal/infrastructure/config"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if p.Enabled() {
		t.Error("Enabled() = true for disabled tracing")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestSetup_RequiresEndpoint(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracingConfig{Enabled: true}, "test"); err == nil {
		t.Error("Setup() should fail without an endpoint")
	}
}

func TestSetup_Protocols(t *testing.T) {
	for _, protocol := range []string{"grpc", "http"} {
		t.Run(protocol, func(t *testing.T) {
			// Exporters connect lazily, so no collector is needed here.
			p, err := Setup(context.Background(), config.TracingConfig{
				Enabled:  true,
				Endpoint: "localhost:4317",
				Protocol: protocol,
				Insecure: true,
			}, "test")
			if err != nil {
				t.Fatalf("Setup() error = %v", err)
			}
			if !p.Enabled() {
				t.Error("Enabled() = false")
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = p.Shutdown(ctx) //nolint:errcheck // No collector is listening
		})
	}
}

func TestProvider_NilSafe(t *testing.T) {
	var p *Provider
	if p.Enabled() {
		t.Error("nil Provider reports enabled")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
