package tokencache

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const (
	origin1         = "https://app1.test"
	origin1ClientID = "clientID"
)

// TestCache exercises the CredentialCache contract against the given cache.
// Expiries are kept to whole seconds, as some stores round them.
func TestCache(t *testing.T, cache CredentialCache) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	for _, tc := range []struct {
		name    string
		run     func(cache CredentialCache) (*Credential, error)
		want    *Credential
		wantErr bool
	}{
		{
			name: "happy path",
			run: func(cache CredentialCache) (*Credential, error) {
				cred := &Credential{Token: "abc123", Expiry: expiry, Secure: true}

				if err := cache.Set(origin1, origin1ClientID, cred); err != nil {
					return nil, err
				}

				return cache.Get(origin1, origin1ClientID)
			},
			want: &Credential{Token: "abc123", Expiry: expiry, Secure: true},
		},
		{
			name: "cache miss by origin",
			run: func(cache CredentialCache) (*Credential, error) {
				cred := &Credential{Token: "abc123", Expiry: expiry}

				if err := cache.Set("https://app2.test", "clientID", cred); err != nil {
					return nil, err
				}

				return cache.Get("https://app3.test", "clientID")
			},
			want: nil,
		},
		{
			name: "cache miss by client id",
			run: func(cache CredentialCache) (*Credential, error) {
				cred := &Credential{Token: "abc123", Expiry: expiry}

				if err := cache.Set("https://app4.test", "clientID1", cred); err != nil {
					return nil, err
				}

				return cache.Get("https://app4.test", "clientID2")
			},
			want: nil,
		},
		{
			name: "set replaces",
			run: func(cache CredentialCache) (*Credential, error) {
				if err := cache.Set("https://app5.test", "clientID", &Credential{Token: "old", Expiry: expiry}); err != nil {
					return nil, err
				}
				if err := cache.Set("https://app5.test", "clientID", &Credential{Token: "new", Expiry: expiry}); err != nil {
					return nil, err
				}

				return cache.Get("https://app5.test", "clientID")
			},
			want: &Credential{Token: "new", Expiry: expiry},
		},
		{
			name: "delete removes",
			run: func(cache CredentialCache) (*Credential, error) {
				if err := cache.Set("https://app6.test", "clientID", &Credential{Token: "abc123", Expiry: expiry}); err != nil {
					return nil, err
				}
				if err := cache.Delete("https://app6.test", "clientID"); err != nil {
					return nil, err
				}

				return cache.Get("https://app6.test", "clientID")
			},
			want: nil,
		},
		{
			name: "delete absent entry",
			run: func(cache CredentialCache) (*Credential, error) {
				return nil, cache.Delete("https://app7.test", "clientID")
			},
			want: nil,
		},
		{
			name: "rejects expired credential",
			run: func(cache CredentialCache) (*Credential, error) {
				err := cache.Set("https://app8.test", "clientID", &Credential{Token: "abc123", Expiry: time.Now().Add(-time.Minute)})
				if err != nil {
					return nil, err
				}

				return cache.Get("https://app8.test", "clientID")
			},
			wantErr: true,
		},
		{
			name: "rejects empty credential",
			run: func(cache CredentialCache) (*Credential, error) {
				err := cache.Set("https://app9.test", "clientID", &Credential{Expiry: expiry})
				if err != nil {
					return nil, err
				}

				return cache.Get("https://app9.test", "clientID")
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.run(cache)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error, got none")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("credential mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
