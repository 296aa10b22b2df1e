package bill

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mveit/billscan/internal/currency"
	"github.com/mveit/billscan/internal/ocr"
	"github.com/mveit/billscan/internal/parser"
	"github.com/mveit/billscan/internal/preprocess"
	"github.com/mveit/billscan/internal/split"
)

// maxUploadSize bounds receipt uploads; high-resolution phone photos run
// large.
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with CORS headers set.
func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body with an optional machine-readable code.
func writeError(w http.ResponseWriter, status int, message, code string) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

// personShare is one person's line in the split view, pre-formatted for
// display with the bill's currency.
type personShare struct {
	PersonID  string `json:"person_id"`
	Name      string `json:"name"`
	Amount    int64  `json:"amount"`
	Formatted string `json:"formatted"`
}

// splitView is the display form of a split result.
type splitView struct {
	Subtotal          int64         `json:"subtotal"`
	TaxAmount         int64         `json:"tax_amount"`
	TipAmount         int64         `json:"tip_amount"`
	Total             int64         `json:"total"`
	SubtotalFormatted string        `json:"subtotal_formatted"`
	TotalFormatted    string        `json:"total_formatted"`
	PerPerson         []personShare `json:"per_person"`
}

// billResponse is a bill plus its current split, when one is computable.
type billResponse struct {
	*Bill
	Split      *splitView `json:"split,omitempty"`
	SplitError string     `json:"split_error,omitempty"`
}

// toResponse derives the display form of a bill. A split that cannot be
// computed yet (no people, bad percents) is reported in-band, not as an
// HTTP error.
func (s *Server) toResponse(bill *Bill) billResponse {
	resp := billResponse{Bill: bill}

	result, err := s.service.ComputeSplit(bill)
	if err != nil {
		resp.SplitError = err.Error()
		return resp
	}

	view := &splitView{
		Subtotal:          result.Subtotal,
		TaxAmount:         result.TaxAmount,
		TipAmount:         result.TipAmount,
		Total:             result.Total,
		SubtotalFormatted: currency.Format(result.Subtotal, bill.Currency),
		TotalFormatted:    currency.Format(result.Total, bill.Currency),
		PerPerson:         make([]personShare, 0, len(bill.People)),
	}
	for _, p := range bill.People {
		amount := result.PerPerson[p.ID]
		view.PerPerson = append(view.PerPerson, personShare{
			PersonID:  p.ID,
			Name:      p.Name,
			Amount:    amount,
			Formatted: currency.Format(amount, bill.Currency),
		})
	}
	resp.Split = view
	return resp
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleCreateBill starts a new splitting session.
func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency string `json:"currency"`
	}
	if r.Body != nil {
		// An empty body is fine; the default currency applies.
		json.NewDecoder(r.Body).Decode(&req)
	}

	bill, err := s.service.CreateBill(req.Currency)
	if err != nil {
		slog.Error("Error creating bill", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}
	writeJSON(w, http.StatusCreated, s.toResponse(bill))
}

// handleListBills returns all bills.
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.service.ListBills()
	if err != nil {
		slog.Error("Error listing bills", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	responses := make([]billResponse, 0, len(bills))
	for _, bill := range bills {
		responses = append(responses, s.toResponse(bill))
	}
	writeJSON(w, http.StatusOK, responses)
}

// handleGetBill returns one bill with its current split.
func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := s.service.GetBill(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Bill not found", "")
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(bill))
}

// handleDeleteBill removes a bill.
func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBill(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "Bill not found", "")
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleScanReceipt accepts a multipart image upload and runs the
// extraction pipeline. The request context carries cancellation: a client
// that disconnects mid-scan stops the pipeline before any bill mutation.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		message := "Error parsing form"
		if err.Error() == "http: request body too large" {
			message = "File is too large. Maximum size is 50MB."
		}
		writeError(w, http.StatusBadRequest, message, "")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided", "")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading upload", "error", err)
		writeError(w, http.StatusBadRequest, "Error reading file", "")
		return
	}

	contentType := header.Header.Get("Content-Type")
	billID := r.PathValue("id")

	bill, err := s.service.ScanReceipt(r.Context(), billID, header.Filename, data, contentType, func(fraction float64) {
		slog.Debug("Recognition progress", "bill_id", billID, "progress", fraction)
	})
	if err != nil {
		s.writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.toResponse(bill))
}

// writeScanError maps pipeline failures onto the API's error taxonomy.
func (s *Server) writeScanError(w http.ResponseWriter, err error) {
	var decodeErr *preprocess.DecodeError
	var recognitionErr *ocr.RecognitionError

	switch {
	case errors.Is(err, parser.ErrNoItems):
		// Recoverable: the caller should fall back to manual entry.
		writeError(w, http.StatusUnprocessableEntity,
			"No items found. Please try again or add items manually.", "no_items")
	case errors.As(err, &decodeErr):
		writeError(w, http.StatusBadRequest,
			"Could not read the image. Please upload a clearer photo.", "decode_failure")
	case errors.As(err, &recognitionErr):
		writeError(w, http.StatusBadGateway,
			"Text recognition failed. Please try again.", "recognition_failure")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The client went away; nothing useful to write.
		writeError(w, http.StatusRequestTimeout, "Scan cancelled", "cancelled")
	default:
		slog.Error("Scan failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

// handleGetBillImage streams the stored receipt image.
func (s *Server) handleGetBillImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetBillImage(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Image not found", "")
		return
	}

	setCORSHeaders(w)
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Write(data)
}

// handleGetSummary renders the shareable plain-text result.
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	bill, err := s.service.GetBill(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Bill not found", "")
		return
	}

	summary, err := s.service.Summary(bill)
	if err != nil {
		var invalid *split.InvalidInputError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_split_input")
			return
		}
		slog.Error("Error rendering summary", "bill_id", bill.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(summary))
}

// handleAddItem appends a manually entered item.
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Price    int64  `json:"price"`
		Quantity int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	bill, err := s.service.AddItem(r.PathValue("id"), req.Name, req.Price, req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusCreated, s.toResponse(bill))
}

// handleUpdateItem edits an item.
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     *string `json:"name"`
		Price    *int64  `json:"price"`
		Quantity *int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	bill, err := s.service.UpdateItem(r.PathValue("id"), r.PathValue("itemID"), req.Name, req.Price, req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(bill))
}

// handleDeleteItem removes an item.
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	bill, err := s.service.DeleteItem(r.PathValue("id"), r.PathValue("itemID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(bill))
}

// handleAddPerson adds a participant.
func (s *Server) handleAddPerson(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	bill, err := s.service.AddPerson(r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusCreated, s.toResponse(bill))
}

// handleRemovePerson removes a participant.
func (s *Server) handleRemovePerson(w http.ResponseWriter, r *http.Request) {
	bill, err := s.service.RemovePerson(r.PathValue("id"), r.PathValue("personID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(bill))
}

// handleSetAssignment replaces an item's assignee set.
func (s *Server) handleSetAssignment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PersonIDs []string `json:"person_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	bill, err := s.service.SetAssignment(r.PathValue("id"), r.PathValue("itemID"), req.PersonIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(bill))
}

// handleUpdateBill applies tax/tip/mode/currency changes.
func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaxPercent *float64 `json:"tax_percent"`
		TipPercent *float64 `json:"tip_percent"`
		Mode       *string  `json:"mode"`
		Currency   *string  `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	update := BillUpdate{
		TaxPercent: req.TaxPercent,
		TipPercent: req.TipPercent,
		Currency:   req.Currency,
	}
	if req.Mode != nil {
		mode := split.Mode(*req.Mode)
		update.Mode = &mode
	}

	bill, err := s.service.UpdateBill(r.PathValue("id"), update)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(bill))
}
