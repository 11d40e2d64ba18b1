package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/artifacts"
	"github.com/joseph-ayodele/planetafiscal/internal/async"
	"github.com/joseph-ayodele/planetafiscal/internal/common"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 20, 10, 30, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func newTestRunner(ex *scriptedExtractor, l mapLoader, store *memStore, opts ...RunnerOption) *Runner {
	res := NewResolver(ex, ResolverConfig{MaxAttempts: 3}, nil)
	opts = append([]RunnerOption{WithClock(fixedClock())}, opts...)
	return NewRunner(l, res, store, nil, opts...)
}

func TestRun_PartitionsSuccessesAndFailures(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{
		"a.txt":  {{raw: validVenta}},
		"b.pdf":  {{raw: notJSON}, {raw: notJSON}, {raw: wrongEnum}},
		"c.docx": {{raw: `{"nombre_cliente":"Ana Ruiz","monto":null,"fecha":"2025-11-02","tipo_solicitud":"Queja"}`}},
	})
	l := mapLoader{
		texts: map[string]string{"in/a.txt": "venta", "in/b.pdf": "???", "in/c.docx": "queja"},
		fail:  map[string]error{"in/d.xlsx": errors.New("zip: not a valid zip file")},
	}
	store := newMemStore()
	sink := &captureSink{}
	rep := &captureReporter{}
	r := newTestRunner(ex, l, store, WithRecordSink(sink), WithReporter(rep))

	paths := []string{"in/a.txt", "in/b.pdf", "in/c.docx", "in/d.xlsx"}
	s := r.Run(context.Background(), paths)

	require.Len(t, s.Results, 4)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.NotEmpty(t, s.RunID)
	for i, p := range paths {
		assert.Equal(t, p, s.Results[i].SourcePath)
	}

	assert.True(t, s.Results[0].OK)
	assert.Equal(t, constants.FailureSchemaInvalid, s.Results[1].Kind)
	assert.Equal(t, 3, s.Results[1].Attempts)
	assert.Equal(t, 3, ex.Calls("b.pdf"))
	assert.True(t, s.Results[2].OK)
	assert.Equal(t, constants.FailureUnreadableDocument, s.Results[3].Kind)
	assert.Equal(t, 0, s.Results[3].Attempts)
	assert.Equal(t, 0, ex.Calls("d.xlsx"))

	assert.Equal(t, []string{
		"a_resultado.json",
		"b_resultado.json",
		"c_resultado.json",
		"d_resultado.json",
		constants.SummaryFileName,
	}, store.Names())

	got, err := store.Get(context.Background(), "a_resultado.json")
	require.NoError(t, err)
	assert.JSONEq(t, validVenta, string(got))

	got, err = store.Get(context.Background(), "b_resultado.json")
	require.NoError(t, err)
	var fail map[string]any
	require.NoError(t, json.Unmarshal(got, &fail))
	assert.Equal(t, true, fail["error"])
	assert.Equal(t, "b.pdf", fail["archivo"])
	assert.Equal(t, string(constants.FailureSchemaInvalid), fail["tipo_error"])
	assert.EqualValues(t, 3, fail["intentos"])

	require.Len(t, sink.recs, 2)
	assert.Equal(t, "Roberto Medina", sink.recs[0].NombreCliente())
	assert.Equal(t, "Ana Ruiz", sink.recs[1].NombreCliente())
	require.Len(t, rep.summaries, 1)
	assert.Equal(t, s.RunID, rep.summaries[0].RunID)
}

func TestRun_SummaryArtifact(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{
		"a.txt": {{raw: validVenta}},
		"b.txt": {{raw: notJSON}},
	})
	l := mapLoader{texts: map[string]string{"a.txt": "x", "b.txt": "y"}}
	store := newMemStore()
	s := newTestRunner(ex, l, store).Run(context.Background(), []string{"a.txt", "b.txt"})

	data, err := store.Get(context.Background(), constants.SummaryFileName)
	require.NoError(t, err)

	var sum struct {
		RunID              string `json:"run_id"`
		Total              int    `json:"total"`
		TotalProcesados    int    `json:"total_procesados"`
		TotalErrores       int    `json:"total_errores"`
		FechaProcesamiento string `json:"fecha_procesamiento"`
		Resultados         []struct {
			Archivo        string          `json:"archivo"`
			Estado         string          `json:"estado"`
			DatosExtraidos json.RawMessage `json:"datos_extraidos"`
			TipoError      string          `json:"tipo_error"`
			Intentos       int             `json:"intentos"`
		} `json:"resultados"`
	}
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, s.RunID, sum.RunID)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.TotalProcesados)
	assert.Equal(t, 1, sum.TotalErrores)
	assert.Equal(t, "2026-03-20T10:30:00Z", sum.FechaProcesamiento)
	require.Len(t, sum.Resultados, 2)
	assert.Equal(t, "a.txt", sum.Resultados[0].Archivo)
	assert.Equal(t, "ok", sum.Resultados[0].Estado)
	assert.JSONEq(t, validVenta, string(sum.Resultados[0].DatosExtraidos))
	assert.Equal(t, "error", sum.Resultados[1].Estado)
	assert.Empty(t, sum.Resultados[1].DatosExtraidos)
	assert.Equal(t, string(constants.FailureParseFailed), sum.Resultados[1].TipoError)

	recs, invalid, err := SummaryRecords(data)
	require.NoError(t, err)
	assert.Empty(t, invalid)
	require.Len(t, recs, 1)
	assert.Equal(t, "2026-03-15", recs[0].Fecha())
}

func TestSummaryRecords_ReportsTamperedEntries(t *testing.T) {
	data := []byte(`{"resultados":[
		{"archivo":"a.txt","estado":"ok","datos_extraidos":` + validVenta + `},
		{"archivo":"x.txt","estado":"ok","datos_extraidos":` + wrongEnum + `},
		{"archivo":"y.txt","estado":"error","motivo":"boom"}
	]}`)
	recs, invalid, err := SummaryRecords(data)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	require.Contains(t, invalid, "x.txt")
	assert.True(t, errors.Is(invalid["x.txt"], common.ErrSchemaInvalid))

	_, _, err = SummaryRecords([]byte("not json"))
	assert.Error(t, err)
}

func TestRun_ConcurrentKeepsOrderAndSequentialAttempts(t *testing.T) {
	scripts := map[string][]reply{}
	texts := map[string]string{}
	var paths []string
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("doc%02d.txt", i)
		paths = append(paths, name)
		texts[name] = "texto"
		if i%3 == 0 {
			scripts[name] = []reply{{raw: notJSON}, {raw: validVenta}}
		} else {
			scripts[name] = []reply{{raw: validVenta}}
		}
	}
	ex := newScriptedExtractor(scripts)
	var active, peak int32
	ex.hook = func(string) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}

	store := newMemStore()
	pool := async.NewPool(nil, async.WithWorkers(4))
	s := newTestRunner(ex, mapLoader{texts: texts}, store, WithPool(pool)).Run(context.Background(), paths)

	require.Len(t, s.Results, len(paths))
	for i, p := range paths {
		assert.Equal(t, p, s.Results[i].SourcePath)
		assert.True(t, s.Results[i].OK)
	}
	assert.Equal(t, 2, s.Results[0].Attempts)
	assert.Equal(t, 1, s.Results[1].Attempts)
	assert.False(t, ex.overlap, "attempts for one document must not overlap")
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	assert.Len(t, store.Names(), len(paths)+1)
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"a.txt": {{raw: validVenta}}})
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestRunner(ex, mapLoader{texts: map[string]string{"a.txt": "x", "b.txt": "y"}}, store).
		Run(ctx, []string{"a.txt", "b.txt"})

	require.Len(t, s.Results, 2)
	for _, r := range s.Results {
		assert.False(t, r.OK)
		assert.Equal(t, constants.FailureCanceled, r.Kind)
	}
	assert.Equal(t, 0, ex.Calls("a.txt"))
	assert.Contains(t, store.Names(), constants.SummaryFileName)
}

func TestRun_ArtifactWriteFailureIsNotFatal(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{
		"a.txt": {{raw: validVenta}},
		"b.txt": {{raw: validVenta}},
	})
	store := newMemStore()
	store.fail["a_resultado.json"] = true
	sink := &captureSink{err: errors.New("db down")}

	s := newTestRunner(ex, mapLoader{texts: map[string]string{"a.txt": "x", "b.txt": "y"}}, store, WithRecordSink(sink)).
		Run(context.Background(), []string{"a.txt", "b.txt"})

	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, []string{"b_resultado.json", constants.SummaryFileName}, store.Names())
	assert.Len(t, sink.recs, 2)
}

func TestRun_StemCollisionsGetDistinctArtifacts(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{
		"informe.txt": {{raw: validVenta}},
		"informe.pdf": {{raw: validVenta}},
	})
	l := mapLoader{texts: map[string]string{"x/informe.txt": "a", "x/informe.pdf": "b", "y/informe.txt": "c"}}
	store := newMemStore()
	newTestRunner(ex, l, store).Run(context.Background(), []string{"x/informe.txt", "x/informe.pdf", "y/informe.txt"})

	assert.Equal(t, []string{
		"informe_pdf_resultado.json",
		"informe_resultado.json",
		"informe_txt_resultado.json",
		constants.SummaryFileName,
	}, store.Names())
}

func TestRun_DotsInStemStillGetArtifact(t *testing.T) {
	dir := t.TempDir()
	store, err := artifacts.NewLocalStore(dir, nil)
	require.NoError(t, err)
	ex := newScriptedExtractor(map[string][]reply{"factura..final.txt": {{raw: validVenta}}})
	l := mapLoader{texts: map[string]string{"in/factura..final.txt": "venta"}}
	r := NewRunner(l, NewResolver(ex, ResolverConfig{}, nil), store, nil, WithClock(fixedClock()))

	s := r.Run(context.Background(), []string{"in/factura..final.txt"})
	require.Equal(t, 1, s.Succeeded)

	data, err := os.ReadFile(filepath.Join(dir, "factura..final_resultado.json"))
	require.NoError(t, err, "per-document artifact")
	assert.JSONEq(t, validVenta, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRun_PanicFailsOnlyThatDocument(t *testing.T) {
	for _, pooled := range []bool{false, true} {
		t.Run(fmt.Sprintf("pooled=%v", pooled), func(t *testing.T) {
			ex := newScriptedExtractor(map[string][]reply{
				"ok.txt":    {{raw: validVenta}},
				"crash.txt": {{raw: validVenta}},
			})
			ex.hook = func(name string) {
				if name == "crash.txt" {
					panic("assignment to entry in nil map")
				}
			}
			l := mapLoader{
				texts:  map[string]string{"ok.txt": "a", "crash.txt": "b"},
				panics: map[string]string{"boom.pdf": "index out of range [3] with length 2"},
			}
			var opts []RunnerOption
			if pooled {
				opts = append(opts, WithPool(async.NewPool(nil, async.WithWorkers(2))))
			}
			store := newMemStore()
			s := newTestRunner(ex, l, store, opts...).Run(context.Background(), []string{"boom.pdf", "crash.txt", "ok.txt"})

			require.Len(t, s.Results, 3)
			boom := s.Results[0]
			assert.False(t, boom.OK)
			assert.Equal(t, constants.FailureUnreadableDocument, boom.Kind)
			assert.Contains(t, boom.Reason, "index out of range")
			assert.True(t, errors.Is(boom.Err, common.ErrUnreadableDocument))
			assert.Equal(t, 0, ex.Calls("boom.pdf"))

			crash := s.Results[1]
			assert.False(t, crash.OK)
			assert.Equal(t, constants.FailureBackendUnavailable, crash.Kind)
			assert.Equal(t, 3, crash.Attempts)
			assert.True(t, strings.Contains(crash.Reason, "nil map"), crash.Reason)

			assert.True(t, s.Results[2].OK)
			assert.Equal(t, 1, s.Succeeded)
			assert.Len(t, store.Names(), 4)
		})
	}
}

func TestProcessDocument_PanicAfterLoad(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"a.txt": {{raw: validVenta}}})
	r := newTestRunner(ex, mapLoader{texts: map[string]string{"a.txt": "x"}}, newMemStore())
	r.resolver = nil

	res := r.ProcessDocument(context.Background(), "a.txt")
	assert.False(t, res.OK)
	assert.Equal(t, constants.FailureBackendUnavailable, res.Kind)
	assert.Contains(t, res.Reason, "panic while extracting")
}

func TestClaimName_StableForSamePath(t *testing.T) {
	owners := map[string]string{}
	assert.Equal(t, "a_resultado.json", claimName(owners, "in/a.txt"))
	assert.Equal(t, "a_resultado.json", claimName(owners, "in/a.txt"))
	assert.Equal(t, "a_txt_resultado.json", claimName(owners, "other/a.txt"))
	assert.Equal(t, "a_txt_2_resultado.json", claimName(owners, "third/a.txt"))
	assert.Equal(t, "a_txt_resultado.json", claimName(owners, "other/a.txt"))
}

func TestProcessAndFinish(t *testing.T) {
	ex := newScriptedExtractor(map[string][]reply{"a.txt": {{raw: validVenta}}})
	store := newMemStore()
	sink := &captureSink{}
	r := newTestRunner(ex, mapLoader{texts: map[string]string{"in/a.txt": "x"}}, store, WithRecordSink(sink))

	ctx := context.Background()
	require.NoError(t, r.Process(ctx, async.Job{Path: "in/a.txt", RunID: "watch-1"}))
	require.NoError(t, r.Process(ctx, async.Job{Path: "in/missing.txt", RunID: "watch-1"}))
	assert.Equal(t, []string{"a_resultado.json", "missing_resultado.json"}, store.Names())

	s := r.Finish(ctx, "watch-1", time.Time{})
	assert.Equal(t, "watch-1", s.RunID)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Succeeded)
	assert.Contains(t, store.Names(), constants.SummaryFileName)
	assert.Len(t, sink.recs, 1)

	empty := r.Finish(ctx, "watch-2", time.Time{})
	assert.Equal(t, 0, empty.Total)
}

func TestResultName(t *testing.T) {
	assert.Equal(t, "factura_marzo_resultado.json", ResultName("/datos/factura_marzo.pdf"))
	assert.Equal(t, "sin_ext_resultado.json", ResultName("sin_ext"))
}
