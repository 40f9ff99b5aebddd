package subscription

import (
	"context"
	"strings"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/entity"

	"github.com/google/uuid"
)

// AccountAPI covers the billing resources that hang off a subscription.
type AccountAPI interface {
	ListInvoices(ctx context.Context, q dto.InvoiceListQuery) ([]entity.Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*entity.Invoice, error)
	ListPaymentMethods(ctx context.Context) ([]entity.PaymentMethod, error)
	AddPaymentMethod(ctx context.Context, req dto.AddPaymentMethodRequest) (*entity.PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, id string) error
	GetBillingAddress(ctx context.Context) (*entity.BillingAddress, error)
	UpdateBillingAddress(ctx context.Context, req dto.UpdateBillingAddressRequest) (*entity.BillingAddress, error)
	ValidateCoupon(ctx context.Context, req dto.ValidateCouponRequest) (*entity.CouponValidation, error)
}

// BillingService passes invoice, payment-method, address and coupon calls
// through after validating their input. It keeps no state.
type BillingService struct {
	api AccountAPI
}

func NewBillingService(api AccountAPI) *BillingService {
	return &BillingService{api: api}
}

func (b *BillingService) ListInvoices(ctx context.Context, q dto.InvoiceListQuery) ([]entity.Invoice, error) {
	if err := dto.Validate("list invoices", q); err != nil {
		return nil, err
	}
	return b.api.ListInvoices(ctx, q)
}

func (b *BillingService) GetInvoice(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	if id == uuid.Nil {
		return nil, apperr.Validation("get invoice", "invoice id is required")
	}
	return b.api.GetInvoice(ctx, id)
}

func (b *BillingService) ListPaymentMethods(ctx context.Context) ([]entity.PaymentMethod, error) {
	return b.api.ListPaymentMethods(ctx)
}

func (b *BillingService) AddPaymentMethod(ctx context.Context, req dto.AddPaymentMethodRequest) (*entity.PaymentMethod, error) {
	if err := dto.Validate("add payment method", req); err != nil {
		return nil, err
	}
	return b.api.AddPaymentMethod(ctx, req)
}

func (b *BillingService) DeletePaymentMethod(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("delete payment method", "payment method id is required")
	}
	return b.api.DeletePaymentMethod(ctx, id)
}

func (b *BillingService) GetBillingAddress(ctx context.Context) (*entity.BillingAddress, error) {
	return b.api.GetBillingAddress(ctx)
}

func (b *BillingService) UpdateBillingAddress(ctx context.Context, req dto.UpdateBillingAddressRequest) (*entity.BillingAddress, error) {
	if err := dto.Validate("update billing address", req); err != nil {
		return nil, err
	}
	return b.api.UpdateBillingAddress(ctx, req)
}

// ValidateCoupon normalises the code to upper case before asking the server.
func (b *BillingService) ValidateCoupon(ctx context.Context, req dto.ValidateCouponRequest) (*entity.CouponValidation, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if err := dto.Validate("validate coupon", req); err != nil {
		return nil, err
	}
	return b.api.ValidateCoupon(ctx, req)
}
