package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatcheck/internal/cache"
	"github.com/heatcheck/internal/export"
	"github.com/heatcheck/internal/ingest"
	"github.com/heatcheck/internal/logging"
	"github.com/heatcheck/internal/pipeline"
	"github.com/heatcheck/internal/web/handlers"
	"github.com/heatcheck/internal/web/metrics"
)

const (
	readingsCSV = "№ ОДПУ,Адрес объекта,Тип объекта,Дата текущего показания,\"Текущее потребление, Гкал\",Месяц,Район\n" +
		"M1,ул. Ленина 5,МКД,15.11.2023,0,11,Центральный\n" +
		"M1,ул. Ленина 5,МКД,10.12.2023,0,12,Центральный\n" +
		"M2,ул. Мира 1,Школа,15.12.2023,100,12,Северный\n" +
		"M3,пр. Победы 2,МКД,15.12.2023,200,12,Центральный\n"
	registryCSV    = "Адрес объекта,Категория здания\nУЛ. ЛЕНИНА 5,Жилое\n"
	temperatureCSV = "Месяц;Температура\n10-2023;4,5\n11-2023;-3\n"
)

type file struct {
	name    string
	content string
}

func defaultFiles() map[string]file {
	return map[string]file{
		handlers.FieldReadings:    {"readings.csv", readingsCSV},
		handlers.FieldRegistry:    {"registry.csv", registryCSV},
		handlers.FieldTemperature: {"temperature.csv", temperatureCSV},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	p, err := pipeline.New(pipeline.DefaultOptions(), nil)
	require.NoError(t, err)

	h := &handlers.AnalysisHandler{
		Pipeline:       p,
		Cache:          cache.NewMemory(time.Minute, 8),
		CacheBackend:   cache.BackendMemory,
		Metrics:        metrics.New(),
		Logger:         logging.Discard(),
		MaxUpload:      1 << 20,
		InputEncoding:  ingest.EncodingAuto,
		ExportEncoding: ingest.EncodingCP1251,
	}
	return newRoutedServer(h, logging.Discard())
}

func post(t *testing.T, s *Server, path string, files map[string]file, values map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/analyze", defaultFiles(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Run-ID"))

	var resp handlers.AnalyzeResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Cached)
	assert.Equal(t, 4, resp.Summary.Records)
	assert.Equal(t, 3, resp.Summary.Meters)
	assert.Equal(t, 2, resp.Summary.FlaggedRecords)
	assert.Equal(t, 4, resp.Reports.Join.TemperatureMatched)
	require.Len(t, resp.Anomalies, 2)
	assert.Equal(t, "M1", resp.Anomalies[0].MeterID)
	assert.Equal(t, "15.11.2023", resp.Anomalies[0].ReadingDate)
	assert.Equal(t, []string{"zero-in-heating-season", "temporal-type-1"}, resp.Anomalies[0].Flags)

	rec = post(t, s, "/api/analyze", defaultFiles(), map[string]string{"district": "северный"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.True(t, resp.Cached, "same inputs and options are served from the cache")
	assert.Empty(t, resp.Anomalies)
}

func TestAnalyzeBadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		files  map[string]file
		values map[string]string
		want   string
	}{
		{
			name:  "missing readings",
			files: map[string]file{handlers.FieldRegistry: {"registry.csv", registryCSV}},
			want:  "missing input: readings",
		},
		{
			name:  "missing column",
			files: map[string]file{handlers.FieldReadings: {"readings.csv", "№ ОДПУ,Адрес объекта\nM1,a\n"}},
			want:  "missing column",
		},
		{
			name:  "unsupported file type",
			files: map[string]file{handlers.FieldReadings: {"readings.pdf", "x"}},
			want:  "unsupported file type",
		},
		{
			name:   "month out of range",
			files:  defaultFiles(),
			values: map[string]string{"month": "13"},
			want:   "month must be between 1 and 12",
		},
		{
			name:   "bad range bound",
			files:  defaultFiles(),
			values: map[string]string{"area_min": "много"},
			want:   "area_min must be a number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s, "/api/analyze", tt.files, tt.values)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestDeviation(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/deviation", defaultFiles(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handlers.DeviationResponse
	decode(t, rec, &resp)
	assert.False(t, resp.NoData)
	assert.Equal(t, 75.0, resp.Mean)
	assert.Equal(t, 2, resp.High)
	assert.Equal(t, 2, resp.Low)
	assert.Len(t, resp.Anomalies, 4)
	assert.NotEmpty(t, resp.Interpretation)

	rec = post(t, s, "/api/deviation", defaultFiles(), map[string]string{"district": "Северный"})
	decode(t, rec, &resp)
	assert.Equal(t, 100.0, resp.Mean, "the mean is taken over the filtered slice")
	assert.Equal(t, 0, resp.High)
	assert.Equal(t, "Аномалий высокого потребления не обнаружено", resp.HighGroups)

	rec = post(t, s, "/api/deviation", defaultFiles(), map[string]string{"year": "1999"})
	decode(t, rec, &resp)
	assert.True(t, resp.NoData)
}

func TestSeries(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/series", defaultFiles(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, s, "/api/series", defaultFiles(), map[string]string{"meter_id": "M1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handlers.SeriesResponse
	decode(t, rec, &resp)
	assert.Equal(t, "M1", resp.MeterID)
	require.Len(t, resp.Points, 2)
	assert.True(t, resp.Points[0].HasData)
	require.Len(t, resp.Detail, 2)
	assert.Equal(t, "10.12.2023", resp.Detail[1][4])
}

func TestRepeats(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/repeats", defaultFiles(), map[string]string{"meter_id": "M1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handlers.RepeatsResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Types, 3)
	assert.Equal(t, 1, resp.Types[0].Pairs)
	assert.NotEmpty(t, resp.Types[0].Recommendation)
	require.Len(t, resp.Report.Meters, 1)
	assert.Equal(t, "M1", resp.Report.Meters[0].MeterID)
}

func TestExport(t *testing.T) {
	s := newTestServer(t)

	for _, enc := range []ingest.Encoding{ingest.EncodingCP1251, ingest.EncodingUTF8} {
		t.Run(string(enc), func(t *testing.T) {
			rec := post(t, s, "/api/export", defaultFiles(), map[string]string{"export_encoding": string(enc)})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

			table, flags, err := export.ReadAnnotated("export.csv", rec.Body, enc)
			require.NoError(t, err)
			assert.Equal(t, 4, table.Len())
			require.Len(t, flags, 4)
			assert.True(t, flags[0].ZeroInHeatingSeason)
			assert.True(t, flags[1].Temporal1)
			assert.False(t, flags[2].Temporal1)
		})
	}

	rec := post(t, s, "/api/export", defaultFiles(), map[string]string{"deviation": "true", "export_encoding": "utf-8"})
	require.Equal(t, http.StatusOK, rec.Code)
	table, _, err := export.ReadAnnotated("export.csv", rec.Body, ingest.EncodingUTF8)
	require.NoError(t, err)
	assert.Equal(t, 5, table.Len(), "deviation export carries the summary row")
}

func TestPublishWithoutQueue(t *testing.T) {
	s := newTestServer(t)

	rec := post(t, s, "/api/publish", defaultFiles(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health handlers.HealthResponse
	decode(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "memory", health.Cache)
	assert.False(t, health.ReviewQueue)

	post(t, s, "/api/analyze", defaultFiles(), nil)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `heatcheck_pipeline_runs_total{outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `heatcheck_http_requests_total{code="200",method="POST",route="/api/analyze"} 1`)
}
