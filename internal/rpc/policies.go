package rpc

import "github.com/boxhub/boxhub/internal/authz"

// Policies returns the authorization policies of the procedures that run
// behind the authorization interceptor. ValidateToken and RefreshToken verify
// their own payload and are not listed.
func Policies() authz.Policies {
	return authz.Policies{
		IdentityServiceIssueTokenProcedure:              {},
		DatasetAccessServiceUserHasReadAccessProcedure:  {Bypass: true},
		DatasetAccessServiceUserHasWriteAccessProcedure: {},
		DatasetAccessServiceDatasetExistsProcedure:      {},
	}
}
