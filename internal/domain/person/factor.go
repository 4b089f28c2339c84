// Package person provides domain logic for person credential records.
package person

// Factor identifies a second-factor authentication method.
type Factor string

// Second-factor methods, in wire format.
const (
	FactorTOTP         Factor = "totp"
	FactorEmailOTP     Factor = "email_otp"
	FactorFIDO         Factor = "fido"
	FactorRecoveryCode Factor = "recovery_code"
)

// promotionOrder is the fixed priority used when the preferred factor
// must be reassigned after a disable.
var promotionOrder = []Factor{FactorFIDO, FactorTOTP, FactorEmailOTP}

// ReassignPreferredFactor picks the new preferred factor among the still
// enabled ones. It returns the empty Factor when none remains. Recovery
// codes are a backup mechanism and are never preferred.
func ReassignPreferredFactor(enabled []Factor) Factor {
	for _, candidate := range promotionOrder {
		for _, f := range enabled {
			if f == candidate {
				return candidate
			}
		}
	}
	return ""
}

// String returns the wire representation of the factor.
func (f Factor) String() string { return string(f) }
