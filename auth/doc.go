// Package auth resolves inbound requests to a Principal.
//
// Two credential schemes are accepted: prefixed static API keys and
// AWS Signature Version 4 signed requests. Both converge on the same
// Principal so quota and namespace checks never branch on the scheme.
// Credentials are parsed once per request into a closed Credential union
// and dispatched to the matching Authenticator by a Resolver.
package auth
