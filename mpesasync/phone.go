package mpesasync

import (
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/ttacon/libphonenumber"
)

// NormalizePhone converts a Kenyan subscriber number to Daraja's 254XXXXXXXXX
// form. Accepts +254..., 254..., 07.../01... and bare 7.../1... inputs;
// anything else goes through libphonenumber with the KE region.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	p = strings.ReplaceAll(p, " ", "")
	p = strings.ReplaceAll(p, "-", "")
	p = strings.TrimPrefix(p, "+")

	switch {
	case strings.HasPrefix(p, "254"):
		// already international
	case strings.HasPrefix(p, "0"):
		p = "254" + p[1:]
	case strings.HasPrefix(p, "7"), strings.HasPrefix(p, "1"):
		p = "254" + p
	default:
		if err := utils.ValidatePhoneNumber(p, utils.CountryCode); err != nil {
			return "", errors.New("unrecognized phone number format: " + phone)
		}
		num, err := libphonenumber.Parse(p, utils.CountryCode)
		if err != nil {
			return "", errors.New("unrecognized phone number format: " + phone)
		}
		p = strings.TrimPrefix(libphonenumber.Format(num, libphonenumber.E164), "+")
	}

	if len(p) != 12 {
		return "", errors.New("phone number must have 9 digits after the country code: " + phone)
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", errors.New("phone number contains non-digit characters: " + phone)
		}
	}
	return p, nil
}
