package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/mustardtree/portal/pkg/observability"
)

var (
	ErrMissingKeyID     = errors.New("token header has no key id")
	ErrKeyNotFound      = errors.New("no signing key for key id")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrKeysUnavailable  = errors.New("signing keys unavailable")
)

// SupportedAlgorithms are the JWS algorithms accepted on access tokens
var SupportedAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.ES256}

const maxCachedKeys = 64

// CachedKeySet implements oidc.KeySet over a JWKS endpoint. Keys are cached
// by kid for a fixed TTL; an unknown kid triggers one refetch, shared by all
// concurrent callers.
type CachedKeySet struct {
	certsURL string
	client   *http.Client
	keys     *expirable.LRU[string, jose.JSONWebKey]
	group    singleflight.Group
	metrics  *observability.Metrics
}

// NewCachedKeySet creates a key set reading certsURL
func NewCachedKeySet(certsURL string, ttl time.Duration, client *http.Client, metrics *observability.Metrics) *CachedKeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedKeySet{
		certsURL: certsURL,
		client:   client,
		keys:     expirable.NewLRU[string, jose.JSONWebKey](maxCachedKeys, nil, ttl),
		metrics:  metrics,
	}
}

type fetchErrorKey struct{}

// withFetchErrorSlot lets the caller learn whether verification failed
// because keys could not be fetched. The oidc verifier flattens key set
// errors into strings, so the cause is reported out of band.
func withFetchErrorSlot(ctx context.Context) (context.Context, *error) {
	slot := new(error)
	return context.WithValue(ctx, fetchErrorKey{}, slot), slot
}

// VerifySignature verifies jwt and returns its payload
func (k *CachedKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	jws, err := jose.ParseSigned(jwt, SupportedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one signature", ErrInvalidSignature)
	}

	kid := jws.Signatures[0].Protected.KeyID
	if kid == "" {
		return nil, ErrMissingKeyID
	}

	key, err := k.key(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrKeysUnavailable) {
			if slot, ok := ctx.Value(fetchErrorKey{}).(*error); ok {
				*slot = err
			}
		}
		return nil, err
	}

	payload, err := jws.Verify(key.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return payload, nil
}

func (k *CachedKeySet) key(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	if key, ok := k.keys.Get(kid); ok {
		k.cacheResult("hit")
		return key, nil
	}
	k.cacheResult("miss")

	if _, err, _ := k.group.Do("refresh", func() (interface{}, error) {
		return nil, k.refresh(ctx)
	}); err != nil {
		return jose.JSONWebKey{}, err
	}

	if key, ok := k.keys.Get(kid); ok {
		return key, nil
	}
	return jose.JSONWebKey{}, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
}

func (k *CachedKeySet) cacheResult(result string) {
	if k.metrics == nil {
		return
	}
	if result == "hit" {
		k.metrics.CacheHitsTotal.WithLabelValues("access_keys").Inc()
	} else {
		k.metrics.CacheMissesTotal.WithLabelValues("access_keys").Inc()
	}
}

// certsResponse is the JWKS document; extra members such as public_cert are
// ignored.
type certsResponse struct {
	Keys []json.RawMessage `json:"keys"`
}

func (k *CachedKeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.certsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: certs endpoint returned %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var doc certsResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("%w: decoding certs: %v", ErrKeysUnavailable, err)
	}

	for _, raw := range doc.Keys {
		var key jose.JSONWebKey
		// Skip keys of types this library cannot represent.
		if err := key.UnmarshalJSON(raw); err != nil || key.KeyID == "" || !key.IsPublic() {
			continue
		}
		k.keys.Add(key.KeyID, key)
	}
	return nil
}

// Len returns the number of cached keys
func (k *CachedKeySet) Len() int {
	return k.keys.Len()
}
