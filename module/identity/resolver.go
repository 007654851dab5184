package identity

import (
	"time"

	"telechat/tools/errs"
	"telechat/tools/security"
)

// Resolver turns a signed token into (identityId, class). It consumes the
// external credential service's signing key; it does not load profiles.
type Resolver struct {
	opts security.Options
}

func NewResolver(secret []byte, ttl time.Duration) *Resolver {
	opts := security.DefaultOptions(secret)
	if ttl > 0 {
		opts.TTL = ttl
	}
	return &Resolver{opts: opts}
}

// Resolve verifies the token and returns the identity it attests.
func (r *Resolver) Resolve(token string) (string, Class, error) {
	claims, err := security.Verify(r.opts, token)
	if err != nil {
		return "", "", err
	}
	class, perr := ParseClass(claims.Class)
	if perr != nil {
		return "", "", errs.ErrUnauthenticated.WithDetail("token carries unknown class")
	}
	return claims.IdentityID, class, nil
}

// ResolveWithClaimedClass additionally checks the class the client claimed at
// connection time against the one the token attests. A mismatch is an
// authentication failure, never silently corrected.
func (r *Resolver) ResolveWithClaimedClass(token, claimed string) (string, Class, error) {
	id, class, err := r.Resolve(token)
	if err != nil {
		return "", "", err
	}
	if string(class) != claimed {
		return "", "", errs.ErrUnauthenticated.WithDetail("claimed class does not match token")
	}
	return id, class, nil
}

// Issue signs a token for identity id/class. Exposed for tests and local
// tooling; production tokens come from the credential service.
func (r *Resolver) Issue(id string, class Class) (string, time.Time, error) {
	return security.Generate(r.opts, id, string(class))
}
