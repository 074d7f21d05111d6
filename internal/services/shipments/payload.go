package shipments

import (
	"strings"

	"github.com/BearBump/ShipBox/internal/integrations/aggregator"
	"github.com/BearBump/ShipBox/internal/models"
)

const (
	senderCountryCode = "MX"
	labelFormat       = "pdf"

	defaultSenderReference = "ShipBox"
	placeholderEmail       = "sin-correo@shipbox.mx"
	placeholderReference   = "Sin referencias"

	// single package descriptor; "4G" is a box
	packageNumber   = "1"
	consignmentNote = "53102400"
	packageType     = "4G"
)

func senderBlock(a models.Address) aggregator.ShippingAddress {
	ref := a.Reference
	if ref == "" {
		ref = defaultSenderReference
	}
	company := a.Company
	if company == "" {
		company = a.Name
	}
	return aggregator.ShippingAddress{
		Name:        a.Name,
		Company:     company,
		Street1:     joinNonEmpty(a.Street, a.ExteriorNumber, a.InteriorNumber),
		Phone:       a.Phone,
		Email:       a.Email,
		Zip:         a.PostalCode,
		City:        a.City,
		Province:    a.State,
		CountryCode: senderCountryCode,
		Reference:   ref,
	}
}

// recipientBlock builds the destination from the order's address blob.
// contactEmail is the order's guest email.
func recipientBlock(a models.Address, contactEmail string) aggregator.ShippingAddress {
	email := firstNonEmpty(contactEmail, a.Email, placeholderEmail)
	ref := firstNonEmpty(a.Reference, placeholderReference)
	cc := firstNonEmpty(a.CountryCode, senderCountryCode)
	return aggregator.ShippingAddress{
		Name:        a.Name,
		Company:     firstNonEmpty(a.Company, a.Name),
		Street1:     joinNonEmpty(a.Street, a.ExteriorNumber, a.InteriorNumber),
		Street2:     a.Neighborhood,
		Phone:       a.Phone,
		Email:       email,
		Zip:         a.PostalCode,
		City:        a.City,
		Province:    a.State,
		CountryCode: cc,
		Reference:   ref,
	}
}

func defaultPackages() []aggregator.Package {
	return []aggregator.Package{{
		PackageNumber:    packageNumber,
		PackageProtected: false,
		ConsignmentNote:  consignmentNote,
		PackageType:      packageType,
	}}
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
