package certstore

import "errors"

var (
	// ErrNoCertificate is returned when PEM input holds no usable certificate.
	ErrNoCertificate = errors.New("certstore: no certificate in PEM data")

	// ErrCertificateTooLarge is returned when PEM input exceeds MaxCertSize.
	ErrCertificateTooLarge = errors.New("certstore: certificate too large")
)
