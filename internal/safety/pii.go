package safety

import "strings"

// PIIType is the category of a detected sensitive span.
type PIIType string

const (
	TypeCreditCard        PIIType = "credit_card"
	TypeSSN               PIIType = "ssn"
	TypeAPIKey            PIIType = "api_key"
	TypePrivateKey        PIIType = "private_key"
	TypeJWT               PIIType = "jwt"
	TypeHighEntropySecret PIIType = "high_entropy_secret"
	TypeEmail             PIIType = "email"
	TypePhone             PIIType = "phone"
	TypeDatabaseURL       PIIType = "database_url"
	TypeCloudCredential   PIIType = "cloud_credential"
	TypeIPAddress         PIIType = "ip_address"
	TypeIBAN              PIIType = "iban"
	TypeSecret            PIIType = "secret"

	// Entity-derived categories.
	TypePersonName   PIIType = "person_name"
	TypeLocation     PIIType = "location"
	TypeOrganization PIIType = "organization"
	TypeDateOfBirth  PIIType = "date_of_birth"
)

// KnownTypes lists every category a bundled detector can emit.
var KnownTypes = []PIIType{
	TypeCreditCard,
	TypeSSN,
	TypeAPIKey,
	TypePrivateKey,
	TypeJWT,
	TypeHighEntropySecret,
	TypeEmail,
	TypePhone,
	TypeDatabaseURL,
	TypeCloudCredential,
	TypeIPAddress,
	TypeIBAN,
	TypeSecret,
	TypePersonName,
	TypeLocation,
	TypeOrganization,
	TypeDateOfBirth,
}

// ParseType normalizes a configured type name.
func ParseType(s string) PIIType {
	return PIIType(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether t is emitted by any bundled detector.
func (t PIIType) Known() bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

func (t PIIType) String() string { return string(t) }
