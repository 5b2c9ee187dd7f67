package ledger

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"lendledger/internal/loan_mgmt/export"
	"lendledger/internal/loan_mgmt/loan"
	"lendledger/internal/platform/auth"
)

type Handler struct{ svc *Ledger }

func RegisterRoutes(r gin.IRoutes, svc *Ledger) {
	h := &Handler{svc: svc}

	// 1. グループ起点
	r.POST("/groups/:group_id/loans", h.CreateLoan)
	r.GET("/groups/:group_id/lenders/:player_id/loans", h.ListByLender)
	r.GET("/groups/:group_id/borrowers/:player_id/loans", h.ListByBorrower)
	r.POST("/groups/:group_id/loans/confirm-return", h.ConfirmReturn)
	r.POST("/groups/:group_id/loans/extend", h.Extend)
	// グループ解散
	r.DELETE("/groups/:group_id", auth.RequireRole(auth.RoleAdmin), h.DeleteGroup)

	// 2. 貸出リソース
	r.GET("/loans", h.ListActive)
	r.GET("/loans/overdue", h.ListOverdue)
	r.GET("/loans/history", h.ListHistory)
	r.GET("/loans/history/export", h.ExportHistory)
	r.DELETE("/loans/history", auth.RequireRole(auth.RoleAdmin), h.DeleteHistory)
	r.GET("/loans/:loan_id", h.GetLoan)
	r.POST("/loans/:loan_id/default", h.MarkDefaulted)
	r.POST("/loans/:loan_id/cancel", h.Cancel)
}

// ---------- handlers ----------

// CreateLoan godoc
// @Summary  貸出登録
// @Tags     loans
// @Param    group_id path string true "group id"
// @Param    body body CreateLoanRequest true "loan"
// @Success  201 {object} LoanResponse
// @Router   /groups/{group_id}/loans [post]
func (h *Handler) CreateLoan(c *gin.Context) {
	var req CreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	me, _ := caller(c)
	lender := strings.TrimSpace(req.LenderID)
	if lender == "" {
		lender = me
	}
	if me != lender && me != strings.TrimSpace(req.BorrowerID) {
		c.JSON(http.StatusForbidden, errorBody(CodeForbidden, "caller must be the lender or the borrower"))
		return
	}

	var due int64
	switch {
	case req.DueTimestamp != nil:
		due = *req.DueTimestamp
	case req.DueInDays != nil:
		if *req.DueInDays <= 0 || *req.DueInDays > MaxExtendDays {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "due_in_days out of range"))
			return
		}
		due = h.svc.clock.Now().UnixMilli() + int64(*req.DueInDays)*loan.DayMillis
	}

	item := loan.Item{
		ID:         req.ItemID,
		Name:       req.ItemName,
		Quantity:   req.Quantity,
		Collateral: loan.Collateral{Value: req.CollateralValue, ItemName: strings.TrimSpace(req.CollateralItem)},
	}
	rec, err := h.svc.CreateLoan(c.Request.Context(), c.Param("group_id"), lender, req.BorrowerID, item, due)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}

	c.Header("Location", "/loans/"+rec.ID)
	c.JSON(http.StatusCreated, toResponse(rec))
}

// @Summary 貸し手の貸出中一覧
// @Tags    loans
// @Router  /groups/{group_id}/lenders/{player_id}/loans [get]
func (h *Handler) ListByLender(c *gin.Context) {
	recs := h.svc.GetActiveByLender(c.Param("group_id"), c.Param("player_id"))
	c.JSON(http.StatusOK, page(c, recs))
}

// @Summary 借り手の借用中一覧
// @Tags    loans
// @Router  /groups/{group_id}/borrowers/{player_id}/loans [get]
func (h *Handler) ListByBorrower(c *gin.Context) {
	recs := h.svc.GetActiveByBorrower(c.Param("group_id"), c.Param("player_id"))
	c.JSON(http.StatusOK, page(c, recs))
}

// ConfirmReturn godoc
// @Summary  返却確認（貸し手・借り手の双方がそろったら完了）
// @Tags     loans
// @Param    group_id path string true "group id"
// @Param    body body ConfirmReturnRequest true "loan key"
// @Success  200 {object} ConfirmReturnResponse
// @Router   /groups/{group_id}/loans/confirm-return [post]
func (h *Handler) ConfirmReturn(c *gin.Context) {
	var req ConfirmReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	party, err := partyOf(c, req.LoanKeyRequest, req.Party)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}

	rec, completed, err := h.svc.ConfirmReturn(c.Request.Context(), c.Param("group_id"), req.LenderID, req.BorrowerID, req.ItemName, party)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}

	lr := toResponse(rec)
	c.JSON(http.StatusOK, ConfirmReturnResponse{Completed: completed, Loan: &lr})
}

// @Summary 返却期限の延長（貸し手のみ）
// @Tags    loans
// @Router  /groups/{group_id}/loans/extend [post]
func (h *Handler) Extend(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	if me, role := caller(c); me != strings.TrimSpace(req.LenderID) && role != auth.RoleAdmin {
		c.JSON(http.StatusForbidden, errorBody(CodeForbidden, "only the lender can extend a loan"))
		return
	}

	rec, err := h.svc.ExtendDueDate(c.Request.Context(), c.Param("group_id"), req.LenderID, req.BorrowerID, req.ItemName, req.AdditionalDays)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, toResponse(rec))
}

func (h *Handler) DeleteGroup(c *gin.Context) {
	n, err := h.svc.DeleteGroup(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{Deleted: n})
}

// @Summary 貸出中の全件（group_id で絞り込み可）
// @Tags    loans
// @Router  /loans [get]
func (h *Handler) ListActive(c *gin.Context) {
	c.JSON(http.StatusOK, page(c, filterGroup(h.svc.GetActiveAll(), c.Query("group_id"))))
}

// @Summary 期限切れの貸出
// @Tags    loans
// @Router  /loans/overdue [get]
func (h *Handler) ListOverdue(c *gin.Context) {
	c.JSON(http.StatusOK, page(c, filterGroup(h.svc.GetOverdue(), c.Query("group_id"))))
}

// @Summary 履歴（クローズ済み）
// @Tags    loans
// @Router  /loans/history [get]
func (h *Handler) ListHistory(c *gin.Context) {
	c.JSON(http.StatusOK, page(c, filterGroup(h.svc.GetHistory(), c.Query("group_id"))))
}

// ExportHistory: 履歴を CSV で返す。encoding=sjis なら Shift_JIS
func (h *Handler) ExportHistory(c *gin.Context) {
	enc, err := export.ParseEncoding(c.Query("encoding"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, err.Error()))
		return
	}
	var buf bytes.Buffer
	if err := export.WriteHistory(&buf, filterGroup(h.svc.GetHistory(), c.Query("group_id")), enc); err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(CodeInternal, err.Error()))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="loan_history.csv"`)
	c.Data(http.StatusOK, enc.ContentType(), buf.Bytes())
}

// DELETE /loans/history?before=<epoch ms>
func (h *Handler) DeleteHistory(c *gin.Context) {
	before, err := strconv.ParseInt(c.Query("before"), 10, 64)
	if err != nil || before <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "before must be epoch milliseconds"))
		return
	}
	n, err := h.svc.DeleteHistoryOlderThan(c.Request.Context(), before)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{Deleted: n})
}

func (h *Handler) GetLoan(c *gin.Context) {
	rec, err := h.svc.Get(c.Param("loan_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, toResponse(rec))
}

// @Summary 貸し倒れとしてクローズ（貸し手のみ）
// @Tags    loans
// @Router  /loans/{loan_id}/default [post]
func (h *Handler) MarkDefaulted(c *gin.Context) {
	h.closeLoan(c, h.svc.MarkDefaulted)
}

// @Summary 貸出の取り消し（貸し手のみ）
// @Tags    loans
// @Router  /loans/{loan_id}/cancel [post]
func (h *Handler) Cancel(c *gin.Context) {
	h.closeLoan(c, h.svc.CancelLoan)
}

func (h *Handler) closeLoan(c *gin.Context, op func(ctx context.Context, id string) (loan.Record, error)) {
	id := c.Param("loan_id")
	rec, err := h.svc.Get(id)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	if me, role := caller(c); me != rec.LenderID && role != auth.RoleAdmin {
		c.JSON(http.StatusForbidden, errorBody(CodeForbidden, "only the lender can close a loan"))
		return
	}
	rec, err = op(c.Request.Context(), id)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, toResponse(rec))
}

// ---------- helpers ----------

func caller(c *gin.Context) (id, role string) {
	id = c.GetString(auth.CtxUserIDKey)
	role = c.GetString(auth.CtxRoleKey)
	return id, role
}

// partyOf は呼び出し元が貸し手・借り手のどちらかを判定する
func partyOf(c *gin.Context, key LoanKeyRequest, explicit *string) (loan.Party, error) {
	me, role := caller(c)
	if explicit != nil {
		if role != auth.RoleAdmin {
			return "", ErrForbidden("party can only be specified by an admin")
		}
		p := loan.Party(strings.ToLower(strings.TrimSpace(*explicit)))
		if !p.Valid() {
			return "", ErrInvalid("party must be lender or borrower")
		}
		return p, nil
	}
	switch me {
	case strings.TrimSpace(key.LenderID):
		return loan.PartyLender, nil
	case strings.TrimSpace(key.BorrowerID):
		return loan.PartyBorrower, nil
	}
	return "", ErrForbidden("caller is not a party to this loan")
}

func filterGroup(recs []loan.Record, group string) []loan.Record {
	if group == "" {
		return recs
	}
	out := make([]loan.Record, 0, len(recs))
	for _, r := range recs {
		if r.GroupID == group {
			out = append(out, r)
		}
	}
	return out
}

func page(c *gin.Context, recs []loan.Record) ListResponse {
	limit := parseIntDefault(c.Query("limit"), 0)
	offset := parseIntDefault(c.Query("offset"), 0)
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return toList(recs, limit, offset)
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var msg string
	var code Code = CodeInternal
	if api, ok := err.(*APIError); ok {
		code, msg = api.Code, api.Message
	} else {
		msg = err.Error()
	}
	return errorBody(code, msg)
}
