package identity

import (
	"fmt"
	"os"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultPhoneRegion is used when a number has no country prefix. PHONE_DEFAULT_REGION overrides it.
func DefaultPhoneRegion() string {
	if r := strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_DEFAULT_REGION"))); r != "" {
		return r
	}
	return "US"
}

// NormalizePhoneNumber validates phoneNumber for region and returns it in E.164 along with its region.
func NormalizePhoneNumber(phoneNumber, region string) (string, string, error) {
	if region == "" {
		region = DefaultPhoneRegion()
	}
	p, err := libphonenumber.Parse(phoneNumber, strings.ToUpper(region))
	if err != nil {
		return "", "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), libphonenumber.GetRegionCodeForNumber(p), nil
}
