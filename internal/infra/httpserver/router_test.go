package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-risk/internal/application"
	appanalysis "github.com/bryanwahyu/contract-risk/internal/application/analysis"
	appbatches "github.com/bryanwahyu/contract-risk/internal/application/batches"
	"github.com/bryanwahyu/contract-risk/internal/application/chunking"
	appshares "github.com/bryanwahyu/contract-risk/internal/application/shares"
	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/batch"
	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
	"github.com/bryanwahyu/contract-risk/internal/infra/db/sqlite"
	"github.com/bryanwahyu/contract-risk/internal/infra/storage"
	"github.com/bryanwahyu/contract-risk/internal/middleware"
)

var jwtSecret = []byte("router-test")

type cannedOracle struct {
	err error
}

func (o *cannedOracle) Analyze(context.Context, ai.Input) (analysis.Result, error) {
	if o.err != nil {
		return analysis.Result{}, o.err
	}
	return analysis.Result{
		Score:       72,
		RiskSummary: "违约金条款需要关注",
		Clauses: []analysis.Clause{{
			Section: "第五条", Title: "违约金", Level: analysis.LevelMedium,
		}},
	}, nil
}

func (o *cannedOracle) Merge(context.Context, ai.MergeInput) (analysis.Result, error) {
	return analysis.Result{Score: 50}, nil
}

type echoExtractor struct{}

func (echoExtractor) Detect(mediaType, filename string) (extraction.Media, error) {
	switch filepath.Ext(filename) {
	case ".pdf":
		return extraction.Media{Kind: extraction.KindPDF, MediaType: "application/pdf"}, nil
	case ".png":
		return extraction.Media{Kind: extraction.KindImage, MediaType: "image/png"}, nil
	}
	return extraction.Media{}, extraction.ErrUnsupportedMediaType
}

func (echoExtractor) Extract(_ context.Context, data []byte, _ extraction.Media) (string, error) {
	return "文件正文 " + string(data), nil
}

func (echoExtractor) ExtractImages(_ context.Context, images []extraction.Image) (string, error) {
	var parts []string
	for _, img := range images {
		parts = append(parts, string(img.Data))
	}
	return strings.Join(parts, "\n"), nil
}

type env struct {
	srv    *httptest.Server
	oracle *cannedOracle
	ledger *sqlite.CreditLedger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db))

	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	o := &cannedOracle{}
	engine := chunking.New(o, nil)
	ledger := sqlite.NewCreditLedger(db)
	repo := sqlite.NewAnalysisRepository(db)
	analyses := &appanalysis.Service{
		Repo: repo, Files: files, Ledger: ledger, Extractor: echoExtractor{}, Engine: engine,
		Clock: application.FixedClock{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	h := NewRouter(Services{
		Analyses: analyses,
		Batches: &appbatches.Service{
			Repo: sqlite.NewBatchRepository(db), Ledger: ledger, Extractor: echoExtractor{},
			Engine: engine, Analyses: analyses,
		},
		Shares: &appshares.Service{Repo: sqlite.NewShareRepository(db), Analyses: repo},
		Ledger: ledger,
	}, Options{
		JWTSecret:      jwtSecret,
		AdminKeys:      map[string]string{"ops": "admin-key"},
		MaxUploadBytes: 1 << 10,
		Health: map[string]middleware.HealthChecker{
			"database": &middleware.DatabaseHealthChecker{DB: db},
			"storage":  middleware.CheckFunc(files.Ping),
		},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{srv: srv, oracle: o, ledger: ledger}
}

func (e *env) token(t *testing.T, owner int64) string {
	tok, err := middleware.SignToken(jwtSecret, owner, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, owner int64, method, path, contentType string, body io.Reader) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner > 0 {
		req.Header.Set("Authorization", "Bearer "+e.token(t, owner))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out = map[string]any{"raw": string(raw)}
	}
	return resp, out
}

func (e *env) postJSON(t *testing.T, owner int64, path string, v any) (*http.Response, map[string]any) {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return e.do(t, owner, http.MethodPost, path, "application/json", bytes.NewReader(b))
}

func (e *env) postForm(t *testing.T, owner int64, path string, fields map[string]string, fileName string, data []byte) (*http.Response, map[string]any) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return e.do(t, owner, http.MethodPost, path, mw.FormDataContentType(), &buf)
}

func (e *env) grant(t *testing.T, owner int64, n int) {
	_, err := e.ledger.Grant(context.Background(), owner, n)
	require.NoError(t, err)
}

func TestAnalyzeText_CacheHitHasSameShape(t *testing.T) {
	e := newEnv(t)
	e.grant(t, 1, 1)
	body := map[string]string{"type": "lease", "identity": "A", "content": "租赁合同正文"}

	resp, first := e.postJSON(t, 1, "/v1/contracts/analyze/text", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, first)
	assert.Equal(t, "租赁相关-01", first["name"])
	assert.Equal(t, 72.0, first["score"])
	assert.Equal(t, "completed", first["status"])
	assert.Equal(t, "p_v3", first["schemaVersion"])
	assert.Equal(t, "租赁合同正文", first["originalContent"])
	assert.Nil(t, first["fileUrl"])

	resp, second := e.postJSON(t, 1, "/v1/contracts/analyze/text", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, "second call is free")
	assert.Equal(t, first, second)
}

func TestAnalyzeText_Errors(t *testing.T) {
	e := newEnv(t)

	resp, out := e.postJSON(t, 0, "/v1/contracts/analyze/text", map[string]string{"identity": "A", "content": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", out["code"])

	resp, out = e.postJSON(t, 1, "/v1/contracts/analyze/text", map[string]string{"identity": "A", "content": "x"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_CREDITS", out["code"])
	assert.Equal(t, 0.0, out["credits"])

	resp, out = e.postJSON(t, 1, "/v1/contracts/analyze/text", map[string]string{"type": "loan", "identity": "A", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", out["code"])

	resp, _ = e.postJSON(t, 1, "/v1/contracts/analyze/text", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "identity is required")

	e.grant(t, 1, 1)
	resp, out = e.postJSON(t, 1, "/v1/contracts/analyze/text", map[string]string{"identity": "B", "content": strings.Repeat("条", 1000)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode, "json body is capped at the upload limit")
	assert.Equal(t, "FILE_TOO_LARGE", out["code"])

	// the rejected body cost nothing, so this call still gets past the ledger
	e.oracle.err = ai.ErrOracleUnavailable
	resp, out = e.postJSON(t, 1, "/v1/contracts/analyze/text", map[string]string{"identity": "B", "content": "y"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "ORACLE_UNAVAILABLE", out["code"])
}

func TestUpload_DownloadAndHistory(t *testing.T) {
	e := newEnv(t)
	e.grant(t, 1, 2)

	resp, out := e.postForm(t, 1, "/v1/contracts/analyze/upload",
		map[string]string{"type": "nda", "identity": "B"}, "保密协议.pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	id := int64(out["id"].(float64))
	assert.Equal(t, fileURL(id), out["fileUrl"])
	assert.Equal(t, "保密协议.pdf", out["fileName"])

	resp, out = e.do(t, 1, http.MethodGet, fileURL(id), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "%PDF-1.4", out["raw"])
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	resp, _ = e.do(t, 2, http.MethodGet, fileURL(id), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other owners cannot read the file")

	_, _ = e.postJSON(t, 1, "/v1/contracts/analyze/text", map[string]string{"identity": "A", "content": "文本"})

	resp, out = e.do(t, 1, http.MethodGet, "/v1/contracts/history?limit=500", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := out["items"].([]any)
	require.Len(t, items, 2)
	newest, oldest := items[0].(map[string]any), items[1].(map[string]any)
	_, hasURL := newest["fileUrl"]
	assert.False(t, hasURL, "text records expose no file")
	assert.Equal(t, fileURL(id), oldest["fileUrl"])
	assert.Equal(t, "文件正文 %PDF-1.4", oldest["result"].(map[string]any)["originalContent"])
}

func TestUpload_Rejections(t *testing.T) {
	e := newEnv(t)
	e.grant(t, 1, 1)

	resp, out := e.postForm(t, 1, "/v1/contracts/analyze/upload", map[string]string{"identity": "A"}, "big.pdf", bytes.Repeat([]byte("x"), 2<<10))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "FILE_TOO_LARGE", out["code"])

	resp, out = e.postForm(t, 1, "/v1/contracts/analyze/upload", map[string]string{"identity": "A"}, "a.exe", []byte("MZ"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", out["code"])

	resp, _ = e.postForm(t, 1, "/v1/contracts/analyze/upload", map[string]string{"identity": "A"}, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = e.do(t, 1, http.MethodGet, "/v1/credits", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, out["credits"], "rejected uploads cost nothing")
}

func TestBatchFlow(t *testing.T) {
	e := newEnv(t)
	e.grant(t, 1, 1)
	fields := func(idx string) map[string]string {
		return map[string]string{"batch_id": "b-9", "idx": idx, "total": "2", "type": "employment", "identity": "B"}
	}

	resp, out := e.postForm(t, 1, "/v1/contracts/analyze/upload/batch", fields("2"), "p2.png", []byte("第二页"))
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	meta := out["meta"].(map[string]any)
	assert.Equal(t, 1.0, meta["processedImages"])
	assert.Equal(t, 2.0, meta["totalImages"])
	assert.Equal(t, false, meta["readyToFinalize"])
	assert.Equal(t, true, meta["pending"])

	resp, out = e.postJSON(t, 1, "/v1/contracts/analyze/upload/batch/finalize", map[string]string{"batch_id": "b-9"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "BATCH_INCOMPLETE", out["code"])
	assert.Equal(t, 1.0, out["received"])
	assert.Equal(t, 2.0, out["total"])

	bad := fields("1")
	bad["total"] = "3"
	resp, out = e.postForm(t, 1, "/v1/contracts/analyze/upload/batch", bad, "p1.png", []byte("第一页"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "BATCH_PARAMS_MISMATCH", out["code"])

	resp, out = e.postForm(t, 1, "/v1/contracts/analyze/upload/batch", fields("1"), "p1.png", []byte("第一页"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["meta"].(map[string]any)["readyToFinalize"])

	resp, out = e.postJSON(t, 1, "/v1/contracts/analyze/upload/batch/finalize", map[string]string{"batch_id": "b-9"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, "第一页\n第二页", out["originalContent"])
	assert.Equal(t, "劳动合同-01", out["name"])
	assert.Nil(t, out["fileUrl"])

	resp, _ = e.postJSON(t, 1, "/v1/contracts/analyze/upload/batch/finalize", map[string]string{"batch_id": "b-9"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, out = e.postForm(t, 1, "/v1/contracts/analyze/upload/batch", map[string]string{"batch_id": "b", "idx": "x", "total": "2", "identity": "A"}, "p.png", []byte("p"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", out["code"])
}

func TestShares(t *testing.T) {
	e := newEnv(t)
	e.grant(t, 1, 1)
	_, rec := e.postJSON(t, 1, "/v1/contracts/analyze/text", map[string]string{"identity": "A", "content": "合同"})
	id := rec["id"].(float64)

	resp, _ := e.postJSON(t, 2, "/v1/shares", map[string]any{"analysis_id": id})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, out := e.postJSON(t, 1, "/v1/shares", map[string]any{"analysis_id": id})
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	shareID := out["shareId"].(string)
	assert.True(t, strings.HasPrefix(shareID, "s_"))

	resp, out = e.do(t, 0, http.MethodGet, "/v1/shares/"+shareID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "public route needs no token")
	assert.Equal(t, "通用合同-01", out["contractName"])
	assert.Equal(t, 72.0, out["score"])
	assert.Equal(t, "整体安全", out["scoreTitle"])

	resp, out = e.do(t, 0, http.MethodGet, "/v1/shares/s_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", out["code"])
}

func TestDeleteEndpoints(t *testing.T) {
	e := newEnv(t)
	e.grant(t, 1, 3)
	var ids []float64
	for _, c := range []string{"一", "二", "三"} {
		_, out := e.postJSON(t, 1, "/v1/contracts/analyze/text", map[string]string{"identity": "A", "content": c})
		ids = append(ids, out["id"].(float64))
	}

	resp, out := e.do(t, 1, http.MethodDelete, "/v1/analyses/"+jsonInt(ids[0]), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, 1.0, out["deleted"])

	resp, _ = e.do(t, 1, http.MethodDelete, "/v1/analyses/"+jsonInt(ids[0]), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, 1, http.MethodDelete, "/v1/analyses/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = e.do(t, 1, http.MethodDelete, "/v1/analyses", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, out["deleted"])
}

func jsonInt(f float64) string {
	b, _ := json.Marshal(int64(f))
	return string(b)
}

func TestCreditsAndAdminGrant(t *testing.T) {
	e := newEnv(t)

	resp, out := e.do(t, 7, http.MethodGet, "/v1/credits", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.0, out["credits"])

	grant := func(key string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/admin/credits/grant", strings.NewReader(`{"user_id":7,"amount":5}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}
	assert.Equal(t, http.StatusUnauthorized, grant(e.token(t, 7)).StatusCode, "user tokens are not admin keys")
	assert.Equal(t, http.StatusOK, grant("admin-key").StatusCode)

	_, out = e.do(t, 7, http.MethodGet, "/v1/credits", "", nil)
	assert.Equal(t, 5.0, out["credits"])
}

func TestOpsEndpoints(t *testing.T) {
	e := newEnv(t)

	resp, out := e.do(t, 0, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", out["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = e.do(t, 0, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out = e.do(t, 0, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out, "requests_total")
}

func TestErrorBody_StatusCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: b-1", batch.ErrInProgress), http.StatusConflict, "IN_PROGRESS"},
		{fmt.Errorf("%w: k", analysis.ErrGuardBusy), http.StatusConflict, "IN_PROGRESS"},
		{fmt.Errorf("%w: max 1 bytes", middleware.ErrBodyTooLarge), http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
		{fmt.Errorf("analyze: %w", ai.ErrOracleTruncated), http.StatusBadGateway, "ORACLE_OUTPUT_INVALID"},
	}
	for _, c := range cases {
		status, body := errorBody(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.code, body["code"], c.err.Error())
	}
}
