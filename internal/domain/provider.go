package domain

// Provider is a mobile-money channel a transaction can be routed through.
type Provider struct {
	Code string
	Name string
}

// DefaultProviders is the catalogue seeded into the store on first start.
func DefaultProviders() []Provider {
	return []Provider{
		{Code: "mtn", Name: "MTN Mobile Money"},
		{Code: "airtel", Name: "AirtelTigo Money"},
		{Code: "telecel", Name: "Telecel Cash"},
	}
}
