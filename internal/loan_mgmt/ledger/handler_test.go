package ledger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendledger/internal/platform/auth"
	"lendledger/internal/platform/kv"
)

var testSecret = []byte("handler-secret")

type api struct {
	t      *testing.T
	f      *fixture
	r      *gin.Engine
	tokens *auth.Service
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	g := r.Group("/api/v1", auth.RequireAuth(testSecret))
	RegisterRoutes(g, f.ledger)
	return &api{t: t, f: f, r: r, tokens: auth.NewService(auth.NewStore(kv.NewMemory()), testSecret, time.Hour)}
}

func (a *api) do(as, role, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	token, err := a.tokens.IssueToken(as, role)
	require.NoError(a.t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandlerLoanLifecycle(t *testing.T) {
	a := newAPI(t)

	w := a.do("Alice", auth.RoleUser, http.MethodPost, "/groups/g1/loans", map[string]any{
		"borrower_id": "Bob", "item_id": 4587, "item_name": "Rune scimitar", "quantity": 1,
		"collateral_value": 15000, "due_in_days": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[LoanResponse](t, w)
	assert.Equal(t, "Alice", created.LenderID)
	assert.Equal(t, "active", created.State)
	assert.Equal(t, t0.UnixMilli()+86_400_000, created.DueTimestamp)
	assert.Equal(t, "/loans/"+created.ID, w.Header().Get("Location"))

	w = a.do("Bob", auth.RoleUser, http.MethodGet, "/groups/g1/borrowers/Bob/loans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[ListResponse](t, w).Total)

	key := map[string]any{"lender_id": "Alice", "borrower_id": "Bob", "item_name": "rune scimitar"}

	// 第三者は確認できない
	w = a.do("Mallory", auth.RoleUser, http.MethodPost, "/groups/g1/loans/confirm-return", key)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do("Bob", auth.RoleUser, http.MethodPost, "/groups/g1/loans/confirm-return", key)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[ConfirmReturnResponse](t, w)
	assert.False(t, res.Completed)
	require.NotNil(t, res.Loan)
	assert.Equal(t, "partially_confirmed", res.Loan.State)
	assert.Equal(t, created.ID, res.Loan.ID)

	w = a.do("Alice", auth.RoleUser, http.MethodPost, "/groups/g1/loans/confirm-return", key)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[ConfirmReturnResponse](t, w)
	assert.True(t, res.Completed)
	require.NotNil(t, res.Loan)
	assert.Equal(t, "returned", res.Loan.State)

	w = a.do("Alice", auth.RoleUser, http.MethodGet, "/loans/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[ListResponse](t, w)
	require.Equal(t, 1, hist.Total)
	assert.Equal(t, created.ID, hist.Items[0].ID)

	w = a.do("Alice", auth.RoleUser, http.MethodGet, "/loans/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do("Alice", auth.RoleUser, http.MethodPost, "/groups/g1/loans/confirm-return", key)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decode[errorDTO](t, w).Error.Code)
}

func TestHandlerCreateForbiddenForThirdParty(t *testing.T) {
	a := newAPI(t)
	w := a.do("Mallory", auth.RoleUser, http.MethodPost, "/groups/g1/loans", map[string]any{
		"lender_id": "Alice", "borrower_id": "Bob", "item_name": "Coins", "quantity": 1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do("Alice", auth.RoleUser, http.MethodPost, "/groups/g1/loans", map[string]any{
		"borrower_id": "Alice", "item_name": "Coins", "quantity": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerExtendAndClose(t *testing.T) {
	a := newAPI(t)
	rec, err := a.f.ledger.CreateLoan(t.Context(), "g1", "Alice", "Bob", scimitar(), dueIn(time.Hour))
	require.NoError(t, err)

	ext := map[string]any{"lender_id": "Alice", "borrower_id": "Bob", "item_name": "Rune scimitar", "additional_days": 2}
	w := a.do("Bob", auth.RoleUser, http.MethodPost, "/groups/g1/loans/extend", ext)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do("Alice", auth.RoleUser, http.MethodPost, "/groups/g1/loans/extend", ext)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, rec.DueTimestamp+2*86_400_000, decode[LoanResponse](t, w).DueTimestamp)

	w = a.do("Bob", auth.RoleUser, http.MethodPost, "/loans/"+rec.ID+"/default", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do("Alice", auth.RoleUser, http.MethodPost, "/loans/"+rec.ID+"/default", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "defaulted", decode[LoanResponse](t, w).State)

	w = a.do("Alice", auth.RoleUser, http.MethodPost, "/loans/"+rec.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeInvalidState, decode[errorDTO](t, w).Error.Code)
}

func TestHandlerAdminOnlyRoutes(t *testing.T) {
	a := newAPI(t)
	_, err := a.f.ledger.CreateLoan(t.Context(), "g1", "Alice", "Bob", scimitar(), 0)
	require.NoError(t, err)

	w := a.do("Alice", auth.RoleUser, http.MethodDelete, "/loans/history?before=1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do("root", auth.RoleAdmin, http.MethodDelete, "/loans/history?before=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do("root", auth.RoleAdmin, http.MethodDelete, "/loans/history?before=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[DeleteResponse](t, w).Deleted)

	w = a.do("root", auth.RoleAdmin, http.MethodDelete, "/groups/g1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[DeleteResponse](t, w).Deleted)
}

func TestHandlerConfirmWithExplicitParty(t *testing.T) {
	a := newAPI(t)
	_, err := a.f.ledger.CreateLoan(t.Context(), "g1", "Alice", "Bob", scimitar(), 0)
	require.NoError(t, err)

	body := map[string]any{"lender_id": "Alice", "borrower_id": "Bob", "item_name": "Rune scimitar", "party": "borrower"}
	w := a.do("Alice", auth.RoleUser, http.MethodPost, "/groups/g1/loans/confirm-return", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do("root", auth.RoleAdmin, http.MethodPost, "/groups/g1/loans/confirm-return", body)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[ConfirmReturnResponse](t, w)
	require.NotNil(t, res.Loan)
	assert.True(t, res.Loan.BorrowerConfirmed)
	assert.False(t, res.Loan.LenderConfirmed)
}

func TestHandlerOverdueAndPaging(t *testing.T) {
	a := newAPI(t)
	for _, b := range []string{"B1", "B2", "B3"} {
		_, err := a.f.ledger.CreateLoan(t.Context(), "g1", "Alice", b, scimitar(), dueIn(time.Hour))
		require.NoError(t, err)
	}
	a.f.clock.Advance(2 * time.Hour)

	w := a.do("Alice", auth.RoleUser, http.MethodGet, "/loans/overdue?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListResponse](t, w)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "B2", list.Items[0].BorrowerID)

	// 上限いっぱいの limit でも溢れずに全件返す
	w = a.do("Alice", auth.RoleUser, http.MethodGet, "/loans?offset=1&limit=9223372036854775807", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list = decode[ListResponse](t, w)
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Items, 2)

	w = a.do("Alice", auth.RoleUser, http.MethodGet, "/loans?group_id=other", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[ListResponse](t, w).Total)
}

func TestHandlerExportHistory(t *testing.T) {
	a := newAPI(t)
	rec, err := a.f.ledger.CreateLoan(t.Context(), "g1", "Alice", "Bob", scimitar(), 0)
	require.NoError(t, err)
	_, err = a.f.ledger.CancelLoan(t.Context(), rec.ID)
	require.NoError(t, err)

	w := a.do("Alice", auth.RoleUser, http.MethodGet, "/loans/history/export?encoding=sjis", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=Shift_JIS", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "loan_history.csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], rec.ID)

	w = a.do("Alice", auth.RoleUser, http.MethodGet, "/loans/history/export?encoding=ebcdic", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerRequiresToken(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
