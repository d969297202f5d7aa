package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/httpx"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/requestctx"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/salesapi"
)

func (h *POSHandlers) catalogAvailable(ctx context.Context, w http.ResponseWriter) bool {
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *POSHandlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.catalogAvailable(ctx, w) {
		return
	}
	customers, err := h.catalog.ListCustomers(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]customerPayload, 0, len(customers))
	for i := range customers {
		items = append(items, *buildCustomerPayload(&customers[i]))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *POSHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.catalogAvailable(ctx, w) {
		return
	}
	op, ok := branchOperator(ctx, w)
	if !ok {
		return
	}
	products, err := h.catalog.ListProductsByBranch(ctx, op.BranchID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, p := range products {
		items = append(items, buildProductPayload(p))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"branchId": op.BranchID, "items": items})
}

func (h *POSHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.catalogAvailable(ctx, w) {
		return
	}
	categories, err := h.catalog.ListCategories(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]categoryPayload, 0, len(categories))
	for _, c := range categories {
		items = append(items, categoryPayload{ID: c.ID, Name: c.Name})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *POSHandlers) productInventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.catalogAvailable(ctx, w) {
		return
	}
	op, ok := branchOperator(ctx, w)
	if !ok {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	level, err := h.catalog.ProductInventory(ctx, op.BranchID, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, inventoryPayload{BranchID: level.BranchID, ProductID: level.ProductID, Quantity: level.Quantity})
}

func branchOperator(ctx context.Context, w http.ResponseWriter) (domain.Operator, bool) {
	op, ok := requestctx.Operator(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Operator{}, false
	}
	if !op.HasBranch() {
		httpx.WriteError(ctx, w, httpx.NewError("no_branch", "branch could not be determined; sign in again", http.StatusUnprocessableEntity))
		return domain.Operator{}, false
	}
	return op, true
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *salesapi.APIError
	switch {
	case errors.Is(err, salesapi.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "sales service unavailable", http.StatusServiceUnavailable))
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.Status == http.StatusNotFound {
			status = http.StatusNotFound
		}
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", apiErr.PublicMessage(), status))
	default:
		requestctx.Logger(ctx).Warn("catalog lookup failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to reach sales service", http.StatusBadGateway))
	}
}
