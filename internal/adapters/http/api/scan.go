package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/okian/timebank/internal/auth"
	"github.com/okian/timebank/internal/domain/ingest"
	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/internal/domain/resolver"
	"github.com/okian/timebank/pkg/logger"
)

const maxScanBody = 16 << 10

// ScanSubmitter records scans.
type ScanSubmitter interface {
	Submit(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// ScanHandler handles scan submissions.
type ScanHandler struct {
	deps     ScanSubmitter
	resolver *resolver.Resolver
	logger   logger.Logger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(deps ScanSubmitter, r *resolver.Resolver, l logger.Logger) *ScanHandler {
	return &ScanHandler{deps: deps, resolver: r, logger: l}
}

// scanRequest accepts both long and short field names.
type scanRequest struct {
	B             string `json:"b"`
	BoothID       string `json:"booth_id"`
	Code          string `json:"code"`
	C             string `json:"c"`
	Raw           string `json:"raw"`
	ClientEventID string `json:"client_event_id"`
	E             string `json:"e"`
}

// target picks the explicit booth id first, then the code, then raw text.
// Codes that look like links and raw text go through the resolver.
func (r scanRequest) target(res *resolver.Resolver) (model.Target, error) {
	id := firstNonEmpty(r.B, r.BoothID)
	code := firstNonEmpty(r.Code, r.C)
	raw := strings.TrimSpace(r.Raw)
	switch {
	case id != "":
		return model.ByBoothID(id), nil
	case code != "" && strings.Contains(code, "://"):
		return res.Resolve(code)
	case code != "":
		return model.ByBoothCode(code), nil
	case raw != "":
		return res.Resolve(raw)
	default:
		return model.Target{}, nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type scanResponse struct {
	OK         bool   `json:"ok"`
	Duplicated bool   `json:"duplicated"`
	ActivityID string `json:"activityId,omitempty"`
}

// HandleScan handles POST /api/scan requests.
func (h *ScanHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	const op = "api.scan"
	if r.Method != http.MethodPost {
		writeError(w, NewKind(op, ErrMethodNotAllowed))
		return
	}
	userID := auth.UserID(r.Context())
	if userID == "" {
		writeError(w, NewKind(op, ErrUnauthorized))
		return
	}

	var req scanRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	target, err := req.target(h.resolver)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}

	res, err := h.deps.Submit(r.Context(), ingest.Request{
		UserID:        userID,
		Target:        target,
		ClientEventID: firstNonEmpty(req.ClientEventID, req.E),
	})
	if err != nil {
		if errors.Is(err, ingest.ErrInternal) {
			h.logger.Error(r.Context(), "scan submit failed", logger.String("user_id", userID), logger.Error(err))
		}
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{OK: true, Duplicated: res.Duplicated, ActivityID: res.ActivityID})
}
