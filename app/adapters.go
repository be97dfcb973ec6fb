package app

import (
	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/identity"
	"github.com/mmdatafocus/rift_backend/payments"
)

func paymentsGateway(policy config.Policy) (payments.Gateway, error) {
	return payments.NewHTTPGatewayFromEnv(policy.ExternalCallTimeout)
}

func identityVerifier(policy config.Policy) (identity.Verifier, error) {
	return identity.NewHTTPVerifierFromEnv(policy.ExternalCallTimeout)
}
