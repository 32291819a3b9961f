package authguard

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpKeyPrefix = "totp."

// totpProvisioner generates authenticator enrollments and validates codes.
// Committed secrets live in the [ConfigStore] under totp.<userID>; a secret
// returned by Enroll is provisional and binds to the account only after the
// user proves possession with a first valid code.
type totpProvisioner struct {
	cfg    TOTPConfig
	config ConfigStore
	now    func() time.Time
}

func newTOTPProvisioner(cfg TOTPConfig, config ConfigStore) *totpProvisioner {
	return &totpProvisioner{cfg: cfg, config: config, now: time.Now}
}

func (p *totpProvisioner) Enroll(account string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.cfg.Issuer,
		AccountName: account,
		SecretSize:  20,
		Digits:      otpDigits(p.cfg.Digits),
		Period:      p.cfg.Period,
		Algorithm:   otpAlgorithm(p.cfg.Algorithm),
	})
	if err != nil {
		return nil, fmt.Errorf("totp generate: %v", err)
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return nil, fmt.Errorf("totp qr: %v", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("totp qr encode: %v", err)
	}

	return &TOTPEnrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
		QRPNG:  buf.Bytes(),
	}, nil
}

func (p *totpProvisioner) Validate(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, p.now(), totp.ValidateOpts{
		Period:    p.cfg.Period,
		Skew:      p.cfg.Skew,
		Digits:    otpDigits(p.cfg.Digits),
		Algorithm: otpAlgorithm(p.cfg.Algorithm),
	})
	return err == nil && ok
}

// SecretFor returns the committed secret, or ErrTOTPNotEnrolled.
func (p *totpProvisioner) SecretFor(ctx context.Context, userID string) (string, error) {
	secret, ok, err := p.config.Get(ctx, totpKeyPrefix+userID)
	if err != nil {
		return "", fmt.Errorf("totp secret lookup: %v", err)
	}
	if !ok || secret == "" {
		return "", ErrTOTPNotEnrolled
	}
	return secret, nil
}

func (p *totpProvisioner) Commit(ctx context.Context, userID, secret string) error {
	if err := p.config.Set(ctx, totpKeyPrefix+userID, secret, userID); err != nil {
		return fmt.Errorf("totp secret store: %v", err)
	}
	return nil
}

func (p *totpProvisioner) Enrolled(ctx context.Context, userID string) (bool, error) {
	_, err := p.SecretFor(ctx, userID)
	if err == ErrTOTPNotEnrolled {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func otpDigits(d int) otp.Digits {
	if d == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

func otpAlgorithm(name string) otp.Algorithm {
	switch name {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}
