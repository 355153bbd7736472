package httpapi

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/dmereles/vitrine/internal/catalog"
)

type productResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	Promo       bool    `json:"promoBuy1Get2"`
}

func toProductResponse(p catalog.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.InexactFloat64(),
		Category:    p.Category,
		Promo:       p.PromoBuyOneGetTwo,
	}
}

// ListProducts returns the catalog, optionally filtered by the q query
// parameter (name or category match).
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []catalog.Product
		err      error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		products, err = h.products.Search(r.Context(), q)
	} else {
		products, err = h.products.List(r.Context())
	}
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = toProductResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetProduct returns a single product by ID.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(*p))
}
