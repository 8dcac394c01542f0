package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/beacon/internal/db"
)

type stubAdapter struct{ calls int }

func (s *stubAdapter) Send(ctx context.Context, target, title, content string, opts Options) (Response, error) {
	s.calls++
	return Response{"target": target}, nil
}

func TestRegistry_ResolveUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(db.KindBark)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestRegistry_RegisterNewKind(t *testing.T) {
	r := NewDefaultRegistry(Deps{})
	stub := &stubAdapter{}
	r.Register("pager", func(map[string]any) (Adapter, error) { return stub, nil })

	f, err := r.Resolve("pager")
	require.NoError(t, err)
	a, err := f(nil)
	require.NoError(t, err)

	resp, err := a.Send(context.Background(), "oncall", "t", "c", Options{})
	require.NoError(t, err)
	assert.Equal(t, "oncall", resp["target"])
	assert.Equal(t, 1, stub.calls)
}

func TestDefaultRegistry_Kinds(t *testing.T) {
	r := NewDefaultRegistry(Deps{})
	assert.Equal(t, []db.ChannelKind{db.KindBark, db.KindEmail, db.KindFeishu, db.KindNtfy}, r.Kinds())
}

func TestDefaultRegistry_FactoryRejectsBadConfig(t *testing.T) {
	r := NewDefaultRegistry(Deps{})
	for _, kind := range r.Kinds() {
		f, err := r.Resolve(kind)
		require.NoError(t, err)

		a, err := f(map[string]any{})
		assert.Nil(t, a, kind)

		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr), "%s: want *ConfigError, got %v", kind, err)
	}
}
