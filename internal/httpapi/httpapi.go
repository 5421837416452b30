package httpapi

import (
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kalyn/backend/internal/docgen"
	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/service"
	"kalyn/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	generator     *docgen.Generator
	logger        *zap.Logger
	validate      *validator.Validate
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

// New wires the API. generator may be nil when document generation is not
// configured; order requests asking for documents then fail with 503.
func New(svc *service.Service, auth *AuthManager, generator *docgen.Generator, logger *zap.Logger, allowedOrigin string) *API {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &API{
		service:       svc,
		auth:          auth,
		generator:     generator,
		logger:        logger,
		validate:      validator.New(),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/categories", a.requireAuth(a.handleCategories, "staff", "admin"))
	mux.HandleFunc("/api/v1/colors", a.requireAuth(a.handleColors, "staff", "admin"))
	mux.HandleFunc("/api/v1/item-names", a.requireAuth(a.handleItemNames, "staff", "admin"))
	mux.HandleFunc("/api/v1/stores", a.requireAuth(a.handleStores, "staff", "admin"))

	mux.HandleFunc("/api/v1/items/reconcile", a.requireAuth(a.handleReconcile, "admin"))

	mux.HandleFunc("/api/v1/stock/movements", a.requireAuth(a.handleMovements, "staff", "admin"))
	mux.HandleFunc("/api/v1/stock/level", a.requireAuth(a.handleStockLevel, "staff", "admin"))
	mux.HandleFunc("/api/v1/stock/available", a.requireAuth(a.handleAvailableStock, "staff", "admin"))
	mux.HandleFunc("/api/v1/stock/transfer", a.requireAuth(a.handleTransfer, "staff", "admin"))

	mux.HandleFunc("/api/v1/delivery-orders", a.requireAuth(a.handleDeliveryOrders, "staff", "admin"))
	mux.HandleFunc("/api/v1/delivery-orders/export", a.requireAuth(a.handleDeliveryOrderExport, "staff", "admin"))

	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- master data ------------------------------------------------------------

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		categories, err := a.service.ListCategories(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, categories)
	case http.MethodPost:
		if !a.requireAdmin(w, r) {
			return
		}
		var req domain.CategoryCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		created, err := a.service.CreateCategory(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleColors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		colors, err := a.service.ListColors(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, colors)
	case http.MethodPost:
		if !a.requireAdmin(w, r) {
			return
		}
		var req domain.LabelCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		created, err := a.service.CreateColor(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleItemNames(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		names, err := a.service.ListItemNames(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, names)
	case http.MethodPost:
		if !a.requireAdmin(w, r) {
			return
		}
		var req domain.LabelCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		created, err := a.service.CreateItemName(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleStores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	stores, err := a.service.ListStores(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

// --- items and stock --------------------------------------------------------

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.ReconcileRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := a.service.Reconcile(r.Context(), req)
	if err != nil {
		if result.Item != nil {
			// Partial success: the item exists but the price write failed.
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  err.Error(),
				"result": result,
			})
			return
		}
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.MovementRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	movement, err := a.service.RecordMovement(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (a *API) handleStockLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	itemID, _ := strconv.ParseInt(query.Get("item_id"), 10, 64)
	storeID, _ := strconv.ParseInt(query.Get("store_id"), 10, 64)
	if itemID < 1 || storeID < 1 {
		writeError(w, http.StatusBadRequest, errors.New("item_id and store_id are required"))
		return
	}
	size := query.Get("size")

	qty, err := a.service.CurrentQuantity(r.Context(), domain.ItemRef{ItemID: itemID}, storeID, size)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"quantity": qty})
}

func (a *API) handleAvailableStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	var storeID *int64
	if raw := r.URL.Query().Get("store_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, errors.New("invalid store_id"))
			return
		}
		storeID = &parsed
	}

	rows, err := a.service.ListAvailableStock(r.Context(), storeID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.TransferRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	var err error
	if r.URL.Query().Get("atomic") == "true" {
		err = a.service.TransferAtomic(r.Context(), req)
	} else {
		err = a.service.Transfer(r.Context(), req)
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// --- delivery orders --------------------------------------------------------

type deliveryOrderPayload struct {
	domain.DeliveryOrderRequest
	Commit            bool `json:"commit"`
	GenerateDocuments bool `json:"generate_documents"`
}

func (a *API) handleDeliveryOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload deliveryOrderPayload
	if !a.decodeAndValidate(w, r, &payload) {
		return
	}
	if payload.GenerateDocuments && a.generator == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("document generation is not configured"))
		return
	}

	order, err := a.service.BuildDeliveryOrder(r.Context(), payload.DeliveryOrderRequest)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	resp := domain.DeliveryOrderResponse{Order: *order}
	if payload.Commit {
		resp.LineResults = a.service.CommitDeliveryOrder(r.Context(), order, payload.ToStoreID)
	}
	if payload.GenerateDocuments {
		outlet, outletErr := a.service.ListStores(r.Context())
		if outletErr != nil {
			a.writeServiceError(w, outletErr)
			return
		}
		var dest *domain.Store
		for i := range outlet {
			if outlet[i].ID == payload.ToStoreID {
				dest = &outlet[i]
				break
			}
		}
		if dest == nil {
			writeError(w, http.StatusNotFound, errors.New("destination store not found"))
			return
		}

		docs, docErr := a.generator.Generate(r.Context(), order, dest)
		if docErr != nil {
			// The stock already moved when commit was requested; report the
			// order outcome with the document failure attached.
			a.logger.Error("document generation failed",
				zap.String("reference", order.Reference),
				zap.Error(docErr))
			resp.Order = *order
			writeJSON(w, http.StatusOK, map[string]any{
				"order":          resp.Order,
				"line_results":   resp.LineResults,
				"document_error": docErr.Error(),
			})
			return
		}
		resp.Documents = docs
		resp.Order = *order
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeliveryOrderExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.DeliveryOrderRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	order, err := a.service.BuildDeliveryOrder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+order.Reference+".xlsx")
	if err := docgen.WriteOrderXLSX(w, order); err != nil {
		a.logger.Error("xlsx export failed", zap.String("reference", order.Reference), zap.Error(err))
	}
}

// --- users ------------------------------------------------------------------

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.auth.ListStaff(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		var req StaffCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		created, err := a.auth.CreateStaff(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeMethodNotAllowed(w)
	}
}

// --- plumbing ---------------------------------------------------------------

func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok || actor.Role != "admin" {
		writeError(w, http.StatusForbidden, errors.New("admin role required"))
		return false
	}
	return true
}

func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case service.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		a.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(startedAt)))
	})
}

type attemptLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	entries   map[string][]time.Time
	lastSweep time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now, cutoff)

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

// sweepLocked drops keys whose every attempt has aged out of the window, at
// most once per window, so the map does not grow with one entry per client
// address forever.
func (l *attemptLimiter) sweepLocked(now time.Time, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, history := range l.entries {
		live := false
		for _, ts := range history {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.entries, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}
