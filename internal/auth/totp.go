package auth

import (
	"fmt"

	"github.com/pquerna/otp/totp"
)

const totpIssuer = "Atlas BIM"

// generateTOTPSecret creates a fresh TOTP secret and its otpauth:// URI for
// QR provisioning. Nothing is persisted until the caller proves possession.
func generateTOTPSecret(accountName string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// validateTOTP checks a code against the secret with the standard 30s
// time-step and ±1 step skew.
func validateTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}
