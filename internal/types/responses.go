package types

// CheckoutResponse is returned by the checkout-creation endpoint
type CheckoutResponse struct {
	CheckoutURL       string `json:"checkout_url"`
	ExternalReference string `json:"external_reference"`
	ProviderReference string `json:"provider_reference"`
}

// PaymentStatusResponse is returned by the webhook and poll endpoints
type PaymentStatusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
