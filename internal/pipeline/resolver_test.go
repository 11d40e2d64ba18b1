package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/common"
	"github.com/joseph-ayodele/planetafiscal/internal/loader"
)

const (
	validVenta = `{"nombre_cliente":"Roberto Medina","monto":45000,"fecha":"2026-03-15","tipo_solicitud":"Venta"}`
	wrongEnum  = `{"nombre_cliente":"Roberto Medina","monto":45000,"fecha":"2026-03-15","tipo_solicitud":"Sale"}`
	notJSON    = `Claro, aquí tienes los datos: nombre Roberto Medina`
)

func doc(path string) loader.SourceDocument {
	return loader.SourceDocument{Path: path, Text: "texto de " + path}
}

func TestResolve_SuccessFirstAttempt(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"a.txt": {{raw: validVenta}}})
	r := NewResolver(ex, ResolverConfig{}, nil)

	res := r.Resolve(context.Background(), doc("a.txt"), 3)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, ex.Calls("a.txt"))

	assert.Equal(t, "Roberto Medina", res.Record.NombreCliente())
	monto, ok := res.Record.Monto()
	assert.True(t, ok)
	assert.Equal(t, 45000.0, monto)
	assert.Equal(t, "2026-03-15", res.Record.Fecha())
	assert.Equal(t, constants.Venta, res.Record.TipoSolicitud())
}

func TestResolve_TwoParseFailuresThenWrongEnumExhausts(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"b.pdf": {{raw: notJSON}, {raw: `{"nombre_cliente":`}, {raw: wrongEnum}}})
	r := NewResolver(ex, ResolverConfig{}, nil)

	res := r.Resolve(context.Background(), doc("b.pdf"), 3)
	assert.False(t, res.OK)
	assert.Equal(t, constants.FailureSchemaInvalid, res.Kind)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, ex.Calls("b.pdf"))
	assert.Contains(t, res.Reason, "tipo_solicitud")
	assert.True(t, errors.Is(res.Err, common.ErrAttemptsExhausted))
	assert.True(t, errors.Is(res.Err, common.ErrSchemaInvalid))
}

func TestResolve_NullMontoAccepted(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"c.docx": {{raw: `{"nombre_cliente":"Ana Ruiz","monto":null,"fecha":"2025-11-02","tipo_solicitud":"Queja"}`}}})
	res := NewResolver(ex, ResolverConfig{}, nil).Resolve(context.Background(), doc("c.docx"), 3)

	require.True(t, res.OK, res.Reason)
	_, ok := res.Record.Monto()
	assert.False(t, ok)
}

func TestResolve_SucceedsOnLaterAttempt(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"d.txt": {
		{err: common.BackendUnavailable(errors.New("connection reset"))},
		{raw: validVenta},
	}})
	res := NewResolver(ex, ResolverConfig{}, nil).Resolve(context.Background(), doc("d.txt"), 3)

	require.True(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, ex.Calls("d.txt"))
}

func TestResolve_NeverExceedsMaxAttempts(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		ex := newScriptedExtractor(map[string][]reply{"e.txt": {{err: errors.New("401 unauthorized")}}})
		res := NewResolver(ex, ResolverConfig{}, nil).Resolve(context.Background(), doc("e.txt"), max)

		assert.False(t, res.OK)
		assert.Equal(t, max, ex.Calls("e.txt"), "max=%d", max)
		assert.Equal(t, max, res.Attempts)
		assert.Equal(t, constants.FailureBackendUnavailable, res.Kind)
		assert.True(t, errors.Is(res.Err, common.ErrBackendUnavailable))
	}
}

func TestResolve_DefaultMaxAttempts(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"f.txt": {{raw: notJSON}}})
	r := NewResolver(ex, ResolverConfig{}, nil)
	assert.Equal(t, DefaultMaxAttempts, r.MaxAttempts())

	res := r.Resolve(context.Background(), doc("f.txt"), 0)
	assert.Equal(t, constants.FailureParseFailed, res.Kind)
	assert.Equal(t, 3, ex.Calls("f.txt"))
}

func TestResolve_LastReasonWins(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"g.txt": {{raw: wrongEnum}, {raw: notJSON}}})
	res := NewResolver(ex, ResolverConfig{MaxAttempts: 2}, nil).Resolve(context.Background(), doc("g.txt"), 0)
	assert.Equal(t, constants.FailureParseFailed, res.Kind)
}

func TestResolve_CanceledContext(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"h.txt": {{raw: validVenta}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewResolver(ex, ResolverConfig{}, nil).Resolve(ctx, doc("h.txt"), 3)
	assert.False(t, res.OK)
	assert.Equal(t, constants.FailureCanceled, res.Kind)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, ex.Calls("h.txt"))
}

func TestResolve_BackoffOnlyAfterBackendFailure(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{
		"net.txt":    {{err: common.BackendUnavailable(errors.New("timeout"))}, {raw: validVenta}},
		"schema.txt": {{raw: wrongEnum}, {raw: validVenta}},
	})
	r := NewResolver(ex, ResolverConfig{RetryBackoff: 50 * time.Millisecond}, nil)

	start := time.Now()
	require.True(t, r.Resolve(context.Background(), doc("net.txt"), 3).OK)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.True(t, r.Resolve(context.Background(), doc("schema.txt"), 3).OK)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestResolve_RateLimited(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"r.txt": {{raw: notJSON}}})
	r := NewResolver(ex, ResolverConfig{}, nil, WithRateLimit(20))

	start := time.Now()
	res := r.Resolve(context.Background(), doc("r.txt"), 3)
	assert.Equal(t, 3, res.Attempts)
	// burst of 20 lets all three through at once
	assert.Less(t, time.Since(start), time.Second)
}

func TestNext_TransitionTable(t *testing.T) {
	cases := []struct {
		event Event
		n     int
		want  State
	}{
		{EventValidatorOK, 1, StateSucceeded},
		{EventValidatorOK, 3, StateSucceeded},
		{EventParseFailed, 1, StateAttempting},
		{EventParseFailed, 3, StateExhausted},
		{EventSchemaInvalid, 2, StateAttempting},
		{EventSchemaInvalid, 3, StateExhausted},
		{EventBackendUnavailable, 2, StateAttempting},
		{EventBackendUnavailable, 3, StateExhausted},
		{EventCanceled, 1, StateExhausted},
	}
	for _, tc := range cases {
		got, err := Next(StateAttempting, tc.event, tc.n, 3)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s at attempt %d", tc.event, tc.n)
	}

	_, err := Next(StateSucceeded, EventParseFailed, 1, 3)
	assert.Error(t, err)
	_, err = Next(StateExhausted, EventValidatorOK, 1, 3)
	assert.Error(t, err)
}

func TestTruncateRaw_KeepsRunesWhole(t *testing.T) {
	short := "ñandú"
	assert.Equal(t, short, truncateRaw(short))

	// 1 ASCII byte shifts every two-byte rune across the 500 byte cut.
	long := "x" + strings.Repeat("ñ", 400)
	got := truncateRaw(long)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "...(truncated)"))
	assert.LessOrEqual(t, len(strings.TrimSuffix(got, "...(truncated)")), 500)
}
