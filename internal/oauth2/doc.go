// Package oauth2 runs the token lifecycle for principals that authorize the
// broker against a single OAuth2 identity provider.
//
// # Flow
//
// BeginAuthorization records a PendingAuthorization and returns the provider
// redirect. The provider calls back with the correlation state and a code;
// CompleteAuthorization consumes the pending record before exchanging the code,
// so a state can be used at most once. GetUsableAccessToken hands out the stored
// access token until it is inside the caller's expiry window and refreshes it
// after that.
//
// A refresh failure clears the stored refresh token. The credential then
// reports Invalidated until the principal authorizes again:
//
//	token, err := manager.GetUsableAccessToken(ctx, credentialID, 2*time.Minute)
//	if errors.IsType(err, errors.ErrTypeInvalidated) {
//	    // send the principal through BeginAuthorization again
//	}
//
// # Reaper
//
// Abandoned authorizations are removed by a Reaper. It is started and stopped
// explicitly; SweepOnce runs a single pass.
package oauth2
