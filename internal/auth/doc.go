// Package auth verifies the bearer credentials presented by live connections.
//
// # Overview
//
// Token issuance happens elsewhere in the platform; this package only
// verifies. A credential is an HS256-signed JWT whose "sub" claim names a
// user ID. Verification parses and validates the token, then fetches a
// fresh account snapshot and rejects inactive or suspended accounts.
//
//	verifier := auth.NewJWTVerifier(secret, userStore)
//	identity, err := verifier.Verify(ctx, token)
//
// # Errors
//
// Verification failures are sentinel errors: ErrInvalidToken,
// ErrExpiredToken, ErrMissingClaim, ErrUnknownUser, ErrInactiveAccount,
// ErrSuspendedAccount. All of them surface to the connection as an
// auth_error event; none of them terminate the connection, so clients may
// retry with a fresh credential.
package auth
