package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dairyworks/milkbook/internal/session"
	"github.com/dairyworks/milkbook/pkg/billing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type loginRequest struct {
	IDToken  string `json:"id_token"`
	DeviceID string `json:"device_id"`
}

type upsertCustomerRequest struct {
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata"`
}

type upsertEntryRequest struct {
	Kg   float64 `json:"kg"`
	Rate float64 `json:"rate"`
}

type upsertBillRequest struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Total float64 `json:"total"`
}

type paymentRequest struct {
	Amount float64 `json:"amount"`
}

type setPaidRequest struct {
	Paid float64 `json:"paid"`
}

func (server *Server) handleLogin(ctx *gin.Context) {
	if server.verifier == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("login_unavailable", "identity verification is not configured"))
		return
	}
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	identity, err := server.verifier.Verify(requestCtx, request.IDToken)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_id_token", "id token verification failed"))
		return
	}
	deviceID := request.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	token, err := server.issuer.Mint(identity.AccountID, deviceID)
	if err != nil {
		server.logger.Error("session token mint failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("session_error", "could not establish session"))
		return
	}
	if server.writer != nil {
		record := session.Record{
			AccountID: identity.AccountID,
			DeviceID:  deviceID,
			Token:     token,
			UpdatedAt: time.Now().UTC(),
		}
		if writeErr := server.writer.Write(requestCtx, record); writeErr != nil {
			server.logger.Warn("session record write failed", zap.Error(writeErr))
		}
	}
	ctx.SetCookie(server.cfg.SessionCookieName, token, int(server.cfg.SessionTokenTTL.Seconds()), "/", "", false, true)
	ctx.JSON(http.StatusOK, gin.H{
		"account_id": identity.AccountID,
		"device_id":  deviceID,
		"token":      token,
	})
}

func (server *Server) handleLogout(ctx *gin.Context) {
	claims, ok := getClaims(ctx)
	if ok && server.sessions != nil {
		// Best effort: logout still completes when remote cleanup fails.
		if err := server.sessions.DeleteRecord(ctx.Request.Context(), claims.Subject); err != nil {
			server.logger.Warn("session record cleanup failed",
				zap.String("account_id", claims.Subject), zap.Error(err))
		}
	}
	ctx.SetCookie(server.cfg.SessionCookieName, "", -1, "/", "", false, true)
	ctx.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

func (server *Server) handleListCustomers(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customers, err := server.billing.Customers(ctx.Request.Context(), accountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]gin.H, 0, len(customers))
	for _, customer := range customers {
		payload = append(payload, customerJSON(customer))
	}
	ctx.JSON(http.StatusOK, gin.H{"customers": payload})
}

func (server *Server) handleUpsertCustomer(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request upsertCustomerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	metadata, err := billing.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	customer, err := server.billing.UpsertCustomer(ctx.Request.Context(), accountID, billing.Customer{
		CustomerID: customerID,
		Name:       request.Name,
		Metadata:   metadata,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, customerJSON(customer))
}

func (server *Server) handleGetCustomer(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	customer, err := server.billing.Customer(ctx.Request.Context(), accountID, customerID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, customerJSON(customer))
}

func (server *Server) handleRemoveCustomer(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if err := server.billing.RemoveCustomer(ctx.Request.Context(), accountID, customerID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (server *Server) handleUpsertEntry(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, date, err := server.entryKey(ctx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request upsertEntryRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	kg, err := billing.NewKilograms(request.Kg)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	rate, err := billing.NewRate(request.Rate)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	entry, err := server.billing.UpsertEntry(ctx.Request.Context(), accountID, customerID, date, kg, rate)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, entryJSON(entry))
}

func (server *Server) handleGetEntry(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, date, err := server.entryKey(ctx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	entry, err := server.billing.Entry(ctx.Request.Context(), accountID, customerID, date)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, entryJSON(entry))
}

func (server *Server) handleDeleteEntry(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, date, err := server.entryKey(ctx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if err := server.billing.DeleteEntry(ctx.Request.Context(), accountID, customerID, date); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handleListEntries serves both the latest-N listing and the inclusive range
// query (as a list, or as a date-keyed map with format=map).
func (server *Server) handleListEntries(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	fromRaw := ctx.Query("from")
	toRaw := ctx.Query("to")
	if fromRaw == "" && toRaw == "" {
		take, _ := strconv.Atoi(ctx.Query("take"))
		entries, listErr := server.billing.LatestEntries(ctx.Request.Context(), accountID, customerID, take)
		if listErr != nil {
			server.respondError(ctx, listErr)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"entries": entriesJSON(entries)})
		return
	}
	dateRange, err := parseDateRange(fromRaw, toRaw)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if ctx.Query("format") == "map" {
		byDate, mapErr := server.billing.EntriesInRangeMap(ctx.Request.Context(), accountID, customerID, dateRange)
		if mapErr != nil {
			server.respondError(ctx, mapErr)
			return
		}
		payload := make(map[string]gin.H, len(byDate))
		for date, entry := range byDate {
			payload[date] = entryJSON(entry)
		}
		ctx.JSON(http.StatusOK, gin.H{"entries": payload})
		return
	}
	entries, err := server.billing.EntriesInRange(ctx.Request.Context(), accountID, customerID, dateRange)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": entriesJSON(entries)})
}

func (server *Server) handleUpsertBillForRange(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request upsertBillRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	dateRange, err := parseDateRange(request.From, request.To)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	total, err := billing.NewAmount(request.Total)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	bill, err := server.billing.UpsertBillForRange(ctx.Request.Context(), accountID, customerID, dateRange, total)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, billJSON(bill))
}

func (server *Server) handleListBills(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	take, _ := strconv.Atoi(ctx.Query("take"))
	bills, err := server.billing.Bills(ctx.Request.Context(), accountID, customerID, take)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]gin.H, 0, len(bills))
	for _, bill := range bills {
		payload = append(payload, billJSON(bill))
	}
	ctx.JSON(http.StatusOK, gin.H{"bills": payload})
}

func (server *Server) handleClearBills(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if err := server.billing.ClearBills(ctx.Request.Context(), accountID, customerID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (server *Server) handleAddPayment(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, billID, err := server.billKey(ctx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request paymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := billing.NewPaymentAmount(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	bill, err := server.billing.AddPayment(ctx.Request.Context(), accountID, customerID, billID, amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, billJSON(bill))
}

func (server *Server) handleSetPaidAmount(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, billID, err := server.billKey(ctx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	var request setPaidRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	paid, err := billing.NewAmount(request.Paid)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	bill, err := server.billing.SetPaidAmount(ctx.Request.Context(), accountID, customerID, billID, paid)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, billJSON(bill))
}

func (server *Server) handleDeleteBill(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, billID, err := server.billKey(ctx)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if err := server.billing.DeleteBill(ctx.Request.Context(), accountID, customerID, billID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (server *Server) handleLockedDates(ctx *gin.Context) {
	accountID, ok := server.accountID(ctx)
	if !ok {
		return
	}
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	dateRange, err := parseDateRange(ctx.Query("from"), ctx.Query("to"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	bills, err := server.billing.Bills(ctx.Request.Context(), accountID, customerID, 0)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	locked := billing.LockedDates(bills, dateRange)
	payload := make([]string, 0, len(locked))
	for _, date := range locked {
		payload = append(payload, date.String())
	}
	ctx.JSON(http.StatusOK, gin.H{"locked_dates": payload})
}

func (server *Server) accountID(ctx *gin.Context) (billing.AccountID, bool) {
	claims, ok := getClaims(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return billing.AccountID{}, false
	}
	accountID, err := billing.NewAccountID(claims.Subject)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return billing.AccountID{}, false
	}
	return accountID, true
}

func (server *Server) entryKey(ctx *gin.Context) (billing.CustomerID, billing.ISODate, error) {
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		return billing.CustomerID{}, billing.ISODate{}, err
	}
	date, err := billing.NewISODate(ctx.Param("date"))
	if err != nil {
		return billing.CustomerID{}, billing.ISODate{}, err
	}
	return customerID, date, nil
}

func (server *Server) billKey(ctx *gin.Context) (billing.CustomerID, billing.BillID, error) {
	customerID, err := billing.NewCustomerID(ctx.Param("customerID"))
	if err != nil {
		return billing.CustomerID{}, billing.BillID{}, err
	}
	billID, err := billing.NewBillID(ctx.Param("billID"))
	if err != nil {
		return billing.CustomerID{}, billing.BillID{}, err
	}
	return customerID, billID, nil
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, billing.ErrCustomerNotFound),
		errors.Is(err, billing.ErrEntryNotFound),
		errors.Is(err, billing.ErrBillNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, billing.ErrPaymentExceedsRemaining),
		errors.Is(err, billing.ErrPaidExceedsTotal):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, billing.ErrInvalidAccountID),
		errors.Is(err, billing.ErrInvalidCustomerID),
		errors.Is(err, billing.ErrInvalidBillID),
		errors.Is(err, billing.ErrInvalidDate),
		errors.Is(err, billing.ErrInvalidDateRange),
		errors.Is(err, billing.ErrInvalidKilograms),
		errors.Is(err, billing.ErrInvalidRate),
		errors.Is(err, billing.ErrInvalidAmount),
		errors.Is(err, billing.ErrInvalidPaymentAmount),
		errors.Is(err, billing.ErrInvalidMetadataJSON):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_argument", err.Error()))
	default:
		server.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "request failed"))
	}
}

func parseDateRange(fromRaw string, toRaw string) (billing.DateRange, error) {
	from, err := billing.NewISODate(fromRaw)
	if err != nil {
		return billing.DateRange{}, err
	}
	to, err := billing.NewISODate(toRaw)
	if err != nil {
		return billing.DateRange{}, err
	}
	return billing.NewDateRange(from, to)
}

func customerJSON(customer billing.Customer) gin.H {
	return gin.H{
		"customer_id":   customer.CustomerID.String(),
		"name":          customer.Name,
		"metadata":      json.RawMessage(customer.Metadata.String()),
		"created_at_ms": customer.CreatedAtMs,
		"updated_at_ms": customer.UpdatedAtMs,
	}
}

func entryJSON(entry billing.Entry) gin.H {
	return gin.H{
		"date":       entry.Date.String(),
		"kg":         entry.Kg.Float64(),
		"rate":       entry.Rate.Float64(),
		"total":      entry.Total.Float64(),
		"updated_at": entry.UpdatedUnixUTC,
	}
}

func entriesJSON(entries []billing.Entry) []gin.H {
	payload := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryJSON(entry))
	}
	return payload
}

func billJSON(bill billing.Bill) gin.H {
	return gin.H{
		"bill_id":    bill.BillID.String(),
		"from":       bill.Range.From().String(),
		"to":         bill.Range.To().String(),
		"total":      bill.Total.Float64(),
		"paid":       bill.Paid.Float64(),
		"remaining":  bill.Remaining().Float64(),
		"status":     bill.Status.String(),
		"created_at": bill.CreatedUnixUTC,
		"updated_at": bill.UpdatedUnixUTC,
	}
}
