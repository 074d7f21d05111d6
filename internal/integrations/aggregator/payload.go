package aggregator

type QuotationRequest struct {
	Quotation Quotation `json:"quotation"`
}

type Quotation struct {
	OrderID     string         `json:"order_id"`
	AddressFrom QuotingAddress `json:"address_from"`
	AddressTo   QuotingAddress `json:"address_to"`
	Parcels     []Parcel       `json:"parcels"`
}

// QuotingAddress is the coarse address used for pricing. area_level1 is the
// state, area_level2 the city and area_level3 the neighborhood.
type QuotingAddress struct {
	CountryCode string `json:"country_code"`
	PostalCode  string `json:"postal_code"`
	AreaLevel1  string `json:"area_level1"`
	AreaLevel2  string `json:"area_level2"`
	AreaLevel3  string `json:"area_level3"`
}

type Parcel struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

type ShipmentRequest struct {
	Shipment Shipment `json:"shipment"`
	// IdempotencyKey is sent as a header, not in the body.
	IdempotencyKey string `json:"-"`
}

type Shipment struct {
	QuotationID string          `json:"quotation_id"`
	RateID      string          `json:"rate_id"`
	Format      string          `json:"format"`
	AddressFrom ShippingAddress `json:"address_from"`
	AddressTo   ShippingAddress `json:"address_to"`
	Packages    []Package       `json:"packages"`
}

type ShippingAddress struct {
	Name        string `json:"name"`
	Company     string `json:"company"`
	Street1     string `json:"street1"`
	Street2     string `json:"street2,omitempty"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Zip         string `json:"zip"`
	City        string `json:"city"`
	Province    string `json:"province"`
	CountryCode string `json:"country_code"`
	Reference   string `json:"reference"`
}

type Package struct {
	PackageNumber    string `json:"package_number"`
	PackageProtected bool   `json:"package_protected"`
	ConsignmentNote  string `json:"consignment_note"`
	PackageType      string `json:"package_type"`
}
