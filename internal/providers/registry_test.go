package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrelay/claude-relay/internal/schema"
)

type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) ConvertRequest(*schema.ClientRequest) ([]byte, error) {
	return nil, nil
}
func (s *stubStrategy) ConvertResponse([]byte) (*schema.ClientResponse, error) {
	return nil, nil
}
func (s *stubStrategy) SendRequest(context.Context, []byte) ([]byte, error) {
	return nil, nil
}
func (s *stubStrategy) StreamRequest(context.Context, []byte) (*EventStream, error) {
	return nil, nil
}
func (s *stubStrategy) MapStopReason(string) schema.StopReason {
	return schema.StopEndTurn
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry()
	registry.Register("openai", &stubStrategy{name: "openai"})
	registry.Register("grok", &stubStrategy{name: "grok"})

	got, err := registry.Resolve("grok")
	require.NoError(t, err)
	assert.Equal(t, "grok", got.Name())
}

func TestRegistryResolveUnknown(t *testing.T) {
	registry := NewRegistry()
	registry.Register("openai", &stubStrategy{name: "openai"})

	_, err := registry.Resolve("missing")
	require.ErrorIs(t, err, ErrUnknownProvider)
	assert.Contains(t, err.Error(), "openai")
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	registry := NewRegistry()
	first := &stubStrategy{name: "first"}
	second := &stubStrategy{name: "second"}

	registry.Register("openai", first)
	registry.Register("openai", second)

	got, err := registry.Resolve("openai")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestRegistryListSorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register("zeta", &stubStrategy{name: "zeta"})
	registry.Register("alpha", &stubStrategy{name: "alpha"})

	assert.Equal(t, []string{"alpha", "zeta"}, registry.List())
}
