package salesapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/services"
)

type productRefDTO struct {
	ID int64 `json:"id"`
}

type saleDetailDTO struct {
	Product   productRefDTO `json:"product"`
	Quantity  int           `json:"quantity"`
	UnitPrice float64       `json:"unitPrice"`
	Discount  float64       `json:"discount"`
}

type saleRequestDTO struct {
	BranchID      int64           `json:"branchId"`
	CustomerID    *int64          `json:"customerId"`
	Total         float64         `json:"total"`
	TotalPayment  float64         `json:"totalPayment"`
	Discount      float64         `json:"discount"`
	DiscountRatio float64         `json:"discountRatio"`
	Description   string          `json:"description"`
	PaymentMethod string          `json:"paymentMethod"`
	CreatedBy     int64           `json:"createdBy"`
	Details       []saleDetailDTO `json:"details"`
}

func newSaleRequestDTO(req domain.SaleRequest) saleRequestDTO {
	details := make([]saleDetailDTO, 0, len(req.Details))
	for _, line := range req.Details {
		details = append(details, saleDetailDTO{
			Product:   productRefDTO{ID: line.ProductID},
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Discount:  line.Discount,
		})
	}
	return saleRequestDTO{
		BranchID:      req.BranchID,
		CustomerID:    req.CustomerID,
		Total:         req.Total,
		TotalPayment:  req.TotalPayment,
		Discount:      req.Discount,
		DiscountRatio: req.DiscountRatio,
		Description:   req.Description,
		PaymentMethod: string(req.PaymentMethod),
		CreatedBy:     req.CreatedBy,
		Details:       details,
	}
}

type saleResultDTO struct {
	Message     string `json:"message"`
	InvoiceID   int64  `json:"invoiceId"`
	InvoiceCode string `json:"invoiceCode"`
	Status      string `json:"status"`
	PayURL      string `json:"payUrl,omitempty"`
}

func (d saleResultDTO) toDomain() domain.SaleResult {
	return domain.SaleResult{
		Message:     d.Message,
		InvoiceID:   d.InvoiceID,
		InvoiceCode: d.InvoiceCode,
		Status:      d.Status,
		PayURL:      strings.TrimSpace(d.PayURL),
	}
}

type customerDTO struct {
	ID            int64  `json:"id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	ContactNumber string `json:"contactNumber"`
}

func (d customerDTO) toDomain() domain.Customer {
	return domain.Customer{ID: d.ID, Name: d.Name, Phone: d.ContactNumber}
}

type categoryDTO struct {
	ID           int64  `json:"id"`
	CategoryName string `json:"categoryName"`
	Name         string `json:"name"`
}

func (d categoryDTO) toDomain() domain.CategoryRef {
	name := d.CategoryName
	if name == "" {
		name = d.Name
	}
	return domain.CategoryRef{ID: d.ID, Name: name}
}

type productDTO struct {
	ID          int64        `json:"id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	RetailPrice float64      `json:"retailPrice"`
	CategoryID  *int64       `json:"categoryId"`
	Category    *categoryDTO `json:"category"`
}

func (d productDTO) toDomain() domain.Product {
	product := domain.Product{ID: d.ID, Name: d.Name, Code: d.Code, RetailPrice: d.RetailPrice}
	switch {
	case d.Category != nil:
		ref := d.Category.toDomain()
		product.Category = &ref
	case d.CategoryID != nil:
		product.Category = &domain.CategoryRef{ID: *d.CategoryID}
	}
	return product
}

type inventoryDTO struct {
	BranchID  int64 `json:"branchId"`
	ProductID int64 `json:"productId"`
	OnHand    *int  `json:"onHand"`
	Available *int  `json:"available"`
	Quantity  *int  `json:"quantity"`
}

func (d inventoryDTO) toLevel(branchID, productID int64) services.InventoryLevel {
	level := services.InventoryLevel{BranchID: branchID, ProductID: productID}
	switch {
	case d.Available != nil:
		level.Quantity = *d.Available
	case d.Quantity != nil:
		level.Quantity = *d.Quantity
	case d.OnHand != nil:
		level.Quantity = *d.OnHand
	}
	return level
}

// decodeInventory accepts a single record or a list, taking the first entry of a list.
func decodeInventory(raw json.RawMessage) (inventoryDTO, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return inventoryDTO{}, nil
	}
	if raw[0] == '[' {
		var list []inventoryDTO
		if err := json.Unmarshal(raw, &list); err != nil {
			return inventoryDTO{}, fmt.Errorf("salesapi: decode inventory: %w", err)
		}
		if len(list) == 0 {
			return inventoryDTO{}, nil
		}
		return list[0], nil
	}
	var dto inventoryDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return inventoryDTO{}, fmt.Errorf("salesapi: decode inventory: %w", err)
	}
	return dto, nil
}
